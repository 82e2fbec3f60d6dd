package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/capitalize-ai/compliance-intelligence/internal/model"
)

const maxResponseBytes = 4 << 20

// HTTPBackend posts JSON arguments to one endpoint per facet. Each facet
// has its own token bucket so a slow source cannot starve the others.
type HTTPBackend struct {
	client    *http.Client
	endpoints map[model.Facet]string
	limiters  map[model.Facet]*rate.Limiter
	apiKey    string
}

// HTTPConfig configures an HTTPBackend.
type HTTPConfig struct {
	Endpoints map[model.Facet]string
	APIKey    string
	// RatePerSecond of 0 disables limiting.
	RatePerSecond float64
	Burst         int
	Client        *http.Client
}

// NewHTTPBackend creates a backend for the configured endpoints.
func NewHTTPBackend(cfg HTTPConfig) *HTTPBackend {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	b := &HTTPBackend{
		client:    client,
		endpoints: make(map[model.Facet]string, len(cfg.Endpoints)),
		limiters:  make(map[model.Facet]*rate.Limiter, len(cfg.Endpoints)),
		apiKey:    cfg.APIKey,
	}
	for facet, url := range cfg.Endpoints {
		if url == "" {
			continue
		}
		b.endpoints[facet] = url
		if cfg.RatePerSecond > 0 {
			b.limiters[facet] = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
		}
	}
	return b
}

// envelopeBody is the optional {success, data, error} wrapper some sources
// send around their payload.
type envelopeBody struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// Call implements Backend.
func (b *HTTPBackend) Call(ctx context.Context, facet model.Facet, args Args) ([]byte, error) {
	url, ok := b.endpoints[facet]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, facet)
	}

	if lim, ok := b.limiters[facet]; ok {
		if err := lim.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal args: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return unwrap(raw)
}

// unwrap strips the optional success wrapper.
func unwrap(raw []byte) ([]byte, error) {
	var env envelopeBody
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if env.Success == nil {
		return raw, nil
	}
	if !*env.Success {
		msg := strings.TrimSpace(env.Error)
		if msg == "" {
			msg = "no reason given"
		}
		return nil, fmt.Errorf("%w: %s", ErrToolReported, msg)
	}
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: empty data", ErrMalformedPayload)
	}
	return env.Data, nil
}
