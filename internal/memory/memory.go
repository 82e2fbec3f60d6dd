// Package memory provides the conversational memory adapter.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/compliance-intelligence/internal/model"
	"github.com/capitalize-ai/compliance-intelligence/pkg/logger"
	"github.com/capitalize-ai/compliance-intelligence/pkg/metrics"
)

// WriteStatus is the outcome of a memory write.
type WriteStatus string

const (
	WriteOK      WriteStatus = "ok"
	WriteIgnored WriteStatus = "ignored"
)

const (
	DefaultTimeout = 3 * time.Second
	// DefaultWindow is how many recent entries a read scores.
	DefaultWindow = 50
)

// Backend stores memory entries per (user, session).
type Backend interface {
	Recent(ctx context.Context, userID, sessionID string, window int) ([]model.MemoryEntry, error)
	Append(ctx context.Context, entries ...model.MemoryEntry) error
}

// Adapter is the fail-soft memory boundary. A nil backend disables memory:
// reads return empty and writes report ignored.
type Adapter struct {
	backend Backend
	timeout time.Duration
	window  int
	logger  *logger.Logger
	now     func() time.Time
}

// NewAdapter creates a memory adapter. backend may be nil.
func NewAdapter(backend Backend, timeout time.Duration, log *logger.Logger) *Adapter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Adapter{
		backend: backend,
		timeout: timeout,
		window:  DefaultWindow,
		logger:  log.Named("memory"),
		now:     time.Now,
	}
}

// Enabled reports whether a backend is configured.
func (a *Adapter) Enabled() bool {
	return a != nil && a.backend != nil
}

// Read returns up to limit remembered texts for the session, most relevant
// to query first.
func (a *Adapter) Read(ctx context.Context, userID, sessionID, query string, limit int) model.Result[[]string] {
	if !a.Enabled() || limit <= 0 {
		return model.OK([]string{})
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	entries, err := a.recent(ctx, userID, sessionID)
	if err != nil {
		a.logger.Warn("Memory read failed",
			zap.String("user_id", userID),
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		metrics.MemoryOps.WithLabelValues("read", "error").Inc()
		return model.Fail[[]string]("memory unavailable")
	}

	metrics.MemoryOps.WithLabelValues("read", "ok").Inc()
	return model.OK(Rank(entries, query, limit))
}

// Write stores one exchange. It never returns an error; failures are logged
// and reported as ignored.
func (a *Adapter) Write(ctx context.Context, userID, sessionID, userMessage, assistantMessage string) WriteStatus {
	if !a.Enabled() {
		return WriteIgnored
	}
	if strings.TrimSpace(userMessage) == "" && strings.TrimSpace(assistantMessage) == "" {
		return WriteIgnored
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	now := a.now().UTC()
	var entries []model.MemoryEntry
	for _, m := range []struct {
		role    model.Role
		content string
	}{
		{model.RoleUser, userMessage},
		{model.RoleAssistant, assistantMessage},
	} {
		if strings.TrimSpace(m.content) == "" {
			continue
		}
		entries = append(entries, model.MemoryEntry{
			ID:        uuid.Must(uuid.NewV7()).String(),
			UserID:    userID,
			SessionID: sessionID,
			Role:      m.role,
			Content:   m.content,
			CreatedAt: now,
		})
	}

	if err := a.store(ctx, entries); err != nil {
		a.logger.Warn("Memory write failed",
			zap.String("user_id", userID),
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		metrics.MemoryOps.WithLabelValues("write", "error").Inc()
		return WriteIgnored
	}

	metrics.MemoryOps.WithLabelValues("write", "ok").Inc()
	return WriteOK
}

func (a *Adapter) recent(ctx context.Context, userID, sessionID string) (entries []model.MemoryEntry, err error) {
	defer func() {
		if r := recover(); r != nil {
			entries, err = nil, fmt.Errorf("memory backend panic: %v", r)
		}
	}()
	return a.backend.Recent(ctx, userID, sessionID, a.window)
}

func (a *Adapter) store(ctx context.Context, entries []model.MemoryEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("memory backend panic: %v", r)
		}
	}()
	return a.backend.Append(ctx, entries...)
}

// Rank orders entries by term overlap with query, newest first on ties,
// and renders the top limit as "role: content". An empty query ranks by
// recency alone.
func Rank(entries []model.MemoryEntry, query string, limit int) []string {
	terms := Terms(query)

	type scored struct {
		entry model.MemoryEntry
		score int
		pos   int
	}
	items := make([]scored, 0, len(entries))
	for i, e := range entries {
		items = append(items, scored{entry: e, score: overlap(terms, e.Content), pos: i})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].score != items[j].score {
			return items[i].score > items[j].score
		}
		return items[i].pos > items[j].pos
	})

	if len(items) > limit {
		items = items[:limit]
	}

	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, string(it.entry.Role)+": "+it.entry.Content)
	}
	return out
}

// Terms returns the distinct lowercase words of s longer than two runes.
func Terms(s string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.'
	}) {
		w = strings.Trim(w, ".")
		if len([]rune(w)) > 2 {
			terms[w] = struct{}{}
		}
	}
	return terms
}

func overlap(terms map[string]struct{}, text string) int {
	if len(terms) == 0 {
		return 0
	}
	n := 0
	for w := range Terms(text) {
		if _, ok := terms[w]; ok {
			n++
		}
	}
	return n
}
