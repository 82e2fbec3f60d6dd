package pulse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/compliance-intelligence/internal/model"
	"github.com/capitalize-ai/compliance-intelligence/internal/retrieval"
	"github.com/capitalize-ai/compliance-intelligence/pkg/logger"
	"github.com/capitalize-ai/compliance-intelligence/pkg/metrics"
)

// ErrInvalidPeriod is returned for a non-positive period.
var ErrInvalidPeriod = errors.New("period_days must be positive")

// Store is the durable store used by the pipeline.
type Store interface {
	GetPortfolio(ctx context.Context, clientID string, activeOnly bool) ([]model.PortfolioEntry, error)
	// GetLatestSnapshot returns nil without error when none exists.
	GetLatestSnapshot(ctx context.Context, key model.Key) (*model.Snapshot, error)
	// StoreDigest persists the digest and the next baseline atomically.
	StoreDigest(ctx context.Context, clientID string, digest *model.Digest, baseline []*model.Snapshot) (string, error)
}

// Snapshotter produces a current snapshot for a key.
type Snapshotter interface {
	Snapshot(ctx context.Context, key model.Key) (*model.Snapshot, error)
}

// Indexer stores digest summaries for later semantic lookup.
type Indexer interface {
	Index(ctx context.Context, doc retrieval.Document) error
}

// Publisher announces digest outcomes.
type Publisher interface {
	PublishPulse(ctx context.Context, event *model.PulseEvent) (uint64, error)
}

// Archiver keeps a copy of each digest document.
type Archiver interface {
	Archive(ctx context.Context, digest *model.Digest) error
}

// Options tune a Pipeline.
type Options struct {
	// Concurrency bounds simultaneous snapshot jobs per client.
	Concurrency int
	Indexer     Indexer
	Publisher   Publisher
	Archiver    Archiver
}

// Pipeline produces digests.
type Pipeline struct {
	store  Store
	snaps  Snapshotter
	opts   Options
	logger *logger.Logger
	now    func() time.Time
}

// NewPipeline creates a pipeline.
func NewPipeline(store Store, snaps Snapshotter, opts Options, log *logger.Logger) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Pipeline{
		store:  store,
		snaps:  snaps,
		opts:   opts,
		logger: log.Named("pulse"),
		now:    time.Now,
	}
}

type entryResult struct {
	prev *model.Snapshot
	cur  *model.Snapshot
}

// Run builds and persists the digest for one client. Store failures abort
// the run and leave the previous baseline in place; a failed snapshot job
// only counts the entry as failed.
func (p *Pipeline) Run(ctx context.Context, clientID string, periodDays int) (*model.Digest, error) {
	if periodDays <= 0 {
		return nil, ErrInvalidPeriod
	}
	log := p.logger.With(zap.String("client_id", clientID), zap.Int("period_days", periodDays))

	digest, err := p.run(ctx, log, clientID, periodDays)
	if err != nil {
		log.Error("Digest run failed", zap.Error(err))
		metrics.DigestsTotal.WithLabelValues("failed").Inc()
		p.publish(ctx, log, &model.PulseEvent{
			ClientID: clientID,
			Type:     model.EventTypeDigestFailed,
			Reason:   err.Error(),
		})
		return nil, err
	}

	metrics.DigestsTotal.WithLabelValues(string(digest.Status)).Inc()
	for s, n := range digest.CountsBySeverity {
		metrics.DigestChanges.WithLabelValues(string(s)).Add(float64(n))
	}

	p.afterStore(ctx, log, digest)
	return digest, nil
}

func (p *Pipeline) run(ctx context.Context, log *logger.Logger, clientID string, periodDays int) (*model.Digest, error) {
	now := p.now()
	period := PeriodEnding(now, periodDays)

	entries, err := p.store.GetPortfolio(ctx, clientID, true)
	if err != nil {
		return nil, fmt.Errorf("load portfolio: %w", err)
	}

	results := make([]entryResult, len(entries))
	for i, e := range entries {
		prev, err := p.store.GetLatestSnapshot(ctx, model.Key{ClientID: clientID, ProductID: e.ProductID, LaneID: e.LaneID})
		if err != nil {
			return nil, fmt.Errorf("load snapshot %s/%s: %w", e.ProductID, e.LaneID, err)
		}
		results[i].prev = prev
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, e := range entries {
		g.Go(func() error {
			key := model.Key{ClientID: clientID, ProductID: e.ProductID, LaneID: e.LaneID}
			cur, err := p.snaps.Snapshot(gctx, key)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				p.logger.WithKey(clientID, e.ProductID, e.LaneID).Warn("Snapshot failed for portfolio entry", zap.Error(err))
				return nil
			}
			results[i].cur = cur
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var (
		events   []model.ChangeEvent
		baseline []*model.Snapshot
		cov      = Coverage{Monitored: len(entries)}
	)
	for _, r := range results {
		if r.cur == nil {
			cov.Failed++
			continue
		}
		if hasErrorTile(r.cur) {
			cov.Degraded++
		}
		baseline = append(baseline, Baseline(r.prev, r.cur))
		if r.prev == nil {
			events = append(events, NewMonitoring(r.cur))
			continue
		}
		events = append(events, Diff(r.prev, r.cur)...)
	}

	digest := Assemble(clientID, period, Rank(events), cov, now)

	id, err := p.store.StoreDigest(ctx, clientID, digest, baseline)
	if err != nil {
		return nil, fmt.Errorf("store digest: %w", err)
	}
	digest.ID = id

	log.Info("Digest stored",
		zap.String("digest_id", id),
		zap.String("status", string(digest.Status)),
		zap.Int("total_changes", digest.TotalChanges),
		zap.Int("entries_failed", cov.Failed),
		zap.Int("entries_degraded", cov.Degraded),
	)
	return digest, nil
}

func hasErrorTile(s *model.Snapshot) bool {
	for _, t := range s.Tiles {
		if t.Status == model.StatusError {
			return true
		}
	}
	return false
}

// afterStore runs the best-effort steps. None of them can fail the run.
func (p *Pipeline) afterStore(ctx context.Context, log *logger.Logger, d *model.Digest) {
	if p.opts.Indexer != nil {
		err := p.opts.Indexer.Index(ctx, retrieval.Document{
			ID:     "digest-" + d.ID,
			Text:   d.Summary,
			Source: "pulse-digest",
			Metadata: map[string]string{
				"client_id": d.ClientID,
				"kind":      "digest",
				"status":    string(d.Status),
			},
		})
		if err != nil {
			log.Warn("Digest summary indexing failed", zap.Error(err))
		}
	}

	if p.opts.Archiver != nil {
		if err := p.opts.Archiver.Archive(ctx, d); err != nil {
			log.Warn("Digest archive failed", zap.Error(err))
		}
	}

	p.publish(ctx, log, &model.PulseEvent{
		ClientID:       d.ClientID,
		Type:           model.EventTypeDigestCreated,
		DigestID:       d.ID,
		Status:         d.Status,
		RequiresAction: d.RequiresAction,
		Metadata: map[string]any{
			"total_changes":  d.TotalChanges,
			"entries_failed": d.EntriesFailed,
		},
	})
}

func (p *Pipeline) publish(ctx context.Context, log *logger.Logger, event *model.PulseEvent) {
	if p.opts.Publisher == nil {
		return
	}
	event.ID = uuid.Must(uuid.NewV7()).String()
	event.CreatedAt = p.now().UTC()
	if _, err := p.opts.Publisher.PublishPulse(ctx, event); err != nil {
		log.Warn("Pulse notification failed", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

// ClientResult is the outcome of one client's run.
type ClientResult struct {
	ClientID string
	Digest   *model.Digest
	Err      error
}

// RunClients runs several clients with bounded concurrency. A failure is
// recorded on that client's result and never affects the others. Results
// follow the input order.
func (p *Pipeline) RunClients(ctx context.Context, clientIDs []string, periodDays, concurrency int) []ClientResult {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]ClientResult, len(clientIDs))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, id := range clientIDs {
		g.Go(func() error {
			d, err := p.Run(ctx, id, periodDays)
			results[i] = ClientResult{ClientID: id, Digest: d, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
