// Package retrieval provides the similarity-search adapter.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/compliance-intelligence/internal/model"
	"github.com/capitalize-ai/compliance-intelligence/pkg/logger"
	"github.com/capitalize-ai/compliance-intelligence/pkg/metrics"
)

const (
	DefaultTimeout = 5 * time.Second
	// MaxK caps how many snippets one search may return.
	MaxK = 20
)

// ErrNoIndex is returned by backends that have no index to search.
var ErrNoIndex = errors.New("no retrieval index configured")

// Filters restrict a search by document metadata.
type Filters map[string]string

// Document is one indexable text.
type Document struct {
	ID       string
	Text     string
	Source   string
	Metadata map[string]string
}

// Backend is a similarity store.
type Backend interface {
	Search(ctx context.Context, query string, k int, filters Filters) ([]model.Snippet, error)
	Index(ctx context.Context, doc Document) error
}

// Searcher is the contract consumed by the workflow and the router.
type Searcher interface {
	Search(ctx context.Context, query string, k int, filters Filters) model.Result[[]model.Snippet]
}

// Adapter bounds backend calls with a timeout and converts failures into
// failed Results.
type Adapter struct {
	backend Backend
	timeout time.Duration
	logger  *logger.Logger
}

// NewAdapter creates a retrieval adapter. A nil backend behaves as
// Disabled.
func NewAdapter(backend Backend, timeout time.Duration, log *logger.Logger) *Adapter {
	if backend == nil {
		backend = Disabled{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Adapter{backend: backend, timeout: timeout, logger: log.Named("retrieval")}
}

// Search returns up to k snippets ordered by descending score. A missing
// index is an empty success.
func (a *Adapter) Search(ctx context.Context, query string, k int, filters Filters) model.Result[[]model.Snippet] {
	if strings.TrimSpace(query) == "" || k <= 0 {
		return model.OK([]model.Snippet{})
	}
	if k > MaxK {
		k = MaxK
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	snippets, err := a.search(ctx, query, k, filters)
	switch {
	case errors.Is(err, ErrNoIndex):
		metrics.RetrievalSearches.WithLabelValues("disabled").Inc()
		return model.OK([]model.Snippet{})
	case err != nil:
		a.logger.Warn("Retrieval search failed", zap.Int("k", k), zap.Error(err))
		metrics.RetrievalSearches.WithLabelValues("error").Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			return model.Fail[[]model.Snippet]("retrieval timed out")
		}
		return model.Fail[[]model.Snippet]("retrieval unavailable")
	}

	if len(snippets) > k {
		snippets = snippets[:k]
	}
	if snippets == nil {
		snippets = []model.Snippet{}
	}
	metrics.RetrievalSearches.WithLabelValues("ok").Inc()
	return model.OK(snippets)
}

func (a *Adapter) search(ctx context.Context, query string, k int, filters Filters) (snippets []model.Snippet, err error) {
	defer func() {
		if r := recover(); r != nil {
			snippets, err = nil, fmt.Errorf("retrieval backend panic: %v", r)
		}
	}()
	return a.backend.Search(ctx, query, k, filters)
}

// Index stores one document. Callers treat indexing as best-effort.
func (a *Adapter) Index(ctx context.Context, doc Document) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.backend.Index(ctx, doc); err != nil {
		if errors.Is(err, ErrNoIndex) {
			return nil
		}
		return err
	}
	return nil
}

// Disabled is a backend with no index.
type Disabled struct{}

// Search implements Backend.
func (Disabled) Search(context.Context, string, int, Filters) ([]model.Snippet, error) {
	return nil, ErrNoIndex
}

// Index implements Backend.
func (Disabled) Index(context.Context, Document) error {
	return ErrNoIndex
}
