package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/compliance-intelligence/internal/model"
	"github.com/capitalize-ai/compliance-intelligence/pkg/logger"
	"github.com/capitalize-ai/compliance-intelligence/pkg/metrics"
)

const (
	DefaultTimeout  = 10 * time.Second
	DefaultCacheTTL = 15 * time.Minute
)

// Envelope invokes a Backend with a bounded timeout, an optional TTL cache
// and failure normalization. It never retries.
type Envelope struct {
	backend Backend
	cache   Cache
	ttl     time.Duration
	timeout time.Duration
	logger  *logger.Logger
}

// Option configures an Envelope.
type Option func(*Envelope)

// WithCache enables response caching.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(e *Envelope) {
		e.cache = c
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Envelope) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewEnvelope creates a new tool envelope.
func NewEnvelope(backend Backend, log *logger.Logger, opts ...Option) *Envelope {
	e := &Envelope{
		backend: backend,
		ttl:     DefaultCacheTTL,
		timeout: DefaultTimeout,
		logger:  log.Named("tools"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type callResult struct {
	body []byte
	err  error
}

// Invoke runs one tool call. Every failure, including a panic inside the
// backend, comes back as a failed Result.
func (e *Envelope) Invoke(ctx context.Context, facet model.Facet, args Args) model.Result[Payload] {
	start := time.Now()

	if !facet.Valid() {
		metrics.RecordToolCall(string(facet), "error", 0)
		return model.Fail[Payload](normalize(facet, fmt.Errorf("%w: %q", ErrUnknownTool, facet), e.timeout))
	}

	key := CacheKey(facet, args)
	if e.cache != nil {
		if raw, ok := e.cache.Get(key); ok {
			if p, err := Decode(facet, raw); err == nil {
				metrics.ToolCacheHits.WithLabelValues(string(facet)).Inc()
				metrics.RecordToolCall(string(facet), "cached", 0)
				return model.OK(p)
			}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	// buffered so the goroutine never leaks when the caller gives up
	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("%w: %v", ErrPanic, r)}
			}
		}()
		body, err := e.backend.Call(callCtx, facet, args)
		done <- callResult{body: body, err: err}
	}()

	var res callResult
	select {
	case res = <-done:
	case <-callCtx.Done():
		res = callResult{err: callCtx.Err()}
	}

	var payload Payload
	err := res.err
	if err == nil {
		payload, err = Decode(facet, res.body)
	}

	elapsed := time.Since(start)
	if err != nil {
		msg := normalize(facet, err, e.timeout)
		if errors.Is(err, ErrPanic) {
			e.logger.Error("Tool backend panicked", zap.String("tool", string(facet)), zap.Error(err))
		} else {
			e.logger.Warn("Tool call failed",
				zap.String("tool", string(facet)),
				zap.Duration("elapsed", elapsed),
				zap.Error(err),
			)
		}
		metrics.RecordToolCall(string(facet), "error", elapsed.Seconds())
		return model.Fail[Payload](msg)
	}

	if e.cache != nil {
		e.cache.Set(key, res.body, e.ttl)
	}

	metrics.RecordToolCall(string(facet), "ok", elapsed.Seconds())
	return model.OK(payload)
}

// normalize maps an error to the message stored in a failed envelope.
// Messages never carry response bodies.
func normalize(facet model.Facet, err error, timeout time.Duration) string {
	var statusErr *StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s lookup timed out after %s", facet, timeout)
	case errors.Is(err, context.Canceled):
		return fmt.Sprintf("%s lookup canceled", facet)
	case errors.As(err, &statusErr):
		return fmt.Sprintf("%s service returned HTTP %d", facet, statusErr.StatusCode)
	case errors.Is(err, ErrMalformedPayload):
		return fmt.Sprintf("%s service returned a malformed response", facet)
	case errors.Is(err, ErrUnknownTool):
		return fmt.Sprintf("%s is not a known tool", facet)
	case errors.Is(err, ErrPanic):
		return fmt.Sprintf("%s lookup failed unexpectedly", facet)
	}
	return fmt.Sprintf("%s lookup failed: %v", facet, err)
}
