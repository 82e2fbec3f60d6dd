// Package store persists portfolios, snapshots and digests in PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/compliance-intelligence/internal/model"
	"github.com/capitalize-ai/compliance-intelligence/pkg/logger"
	"github.com/capitalize-ai/compliance-intelligence/pkg/repository"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// Postgres is the durable store.
type Postgres struct {
	db     *sql.DB
	logger *logger.Logger
}

// New creates a store over an open pool.
func New(db *sql.DB, log *logger.Logger) *Postgres {
	return &Postgres{db: db, logger: log.Named("store")}
}

// ListClients returns every client with at least one active entry.
func (s *Postgres) ListClients(ctx context.Context) ([]string, error) {
	q := `
		SELECT DISTINCT client_id
		FROM portfolio_entries
		WHERE active
		ORDER BY client_id`

	ids, err := repository.QueryMany(ctx, s.db, q, nil, scanString)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	return ids, nil
}

// GetPortfolio returns a client's entries ordered by product and lane.
func (s *Postgres) GetPortfolio(ctx context.Context, clientID string, activeOnly bool) ([]model.PortfolioEntry, error) {
	q := `
		SELECT product_id, lane_id, active
		FROM portfolio_entries
		WHERE client_id = $1 AND (active OR NOT $2)
		ORDER BY product_id, lane_id`

	entries, err := repository.QueryMany(ctx, s.db, q, []any{clientID, activeOnly}, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("query portfolio %s: %w", clientID, err)
	}
	return entries, nil
}

// UpsertPortfolioEntry adds an entry or updates its active flag.
func (s *Postgres) UpsertPortfolioEntry(ctx context.Context, clientID string, e model.PortfolioEntry) error {
	q := `
		INSERT INTO portfolio_entries (client_id, product_id, lane_id, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (client_id, product_id, lane_id) DO UPDATE SET
			active = EXCLUDED.active,
			updated_at = NOW()`

	if _, err := s.db.ExecContext(ctx, q, clientID, e.ProductID, e.LaneID, e.Active); err != nil {
		return fmt.Errorf("upsert portfolio entry: %w", err)
	}
	return nil
}

const snapshotColumns = `id, client_id, product_id, lane_id, tiles, overall_risk,
	active_alert_count, generated_at, processing_time_ms`

// GetLatestSnapshot returns the newest snapshot for key, or nil when the
// key has never been snapshotted.
func (s *Postgres) GetLatestSnapshot(ctx context.Context, key model.Key) (*model.Snapshot, error) {
	q := `
		SELECT ` + snapshotColumns + `
		FROM snapshots
		WHERE client_id = $1 AND product_id = $2 AND lane_id = $3
		ORDER BY generated_at DESC, id DESC
		LIMIT 1`

	snap, err := repository.QueryOne(ctx, s.db, q, []any{key.ClientID, key.ProductID, key.LaneID}, scanSnapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}
	return snap, nil
}

const digestColumns = `id, client_id, period_start, period_end, status, requires_action,
	total_changes, counts_by_severity, ranked_changes, entries_monitored,
	entries_failed, entries_degraded, summary, generated_at`

// StoreDigest inserts a digest and the snapshots that become the client's
// next baseline in one transaction, and returns the new digest ID. Either
// both are stored or neither is. Snapshots without an ID are assigned one.
func (s *Postgres) StoreDigest(ctx context.Context, clientID string, d *model.Digest, baseline []*model.Snapshot) (string, error) {
	counts, err := json.Marshal(d.CountsBySeverity)
	if err != nil {
		return "", fmt.Errorf("marshal counts: %w", err)
	}
	changes, err := json.Marshal(d.RankedChanges)
	if err != nil {
		return "", fmt.Errorf("marshal changes: %w", err)
	}

	q := `
		INSERT INTO digests (` + digestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	id, err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) (string, error) {
		if err := insertSnapshots(ctx, tx, baseline); err != nil {
			return "", err
		}
		id := uuid.Must(uuid.NewV7()).String()
		if _, err := tx.ExecContext(ctx, q,
			id, clientID, d.PeriodStart.UTC(), d.PeriodEnd.UTC(), string(d.Status), d.RequiresAction,
			d.TotalChanges, string(counts), string(changes), d.EntriesMonitored,
			d.EntriesFailed, d.EntriesDegraded, d.Summary, d.GeneratedAt.UTC(),
		); err != nil {
			return "", fmt.Errorf("insert digest: %w", err)
		}
		return id, nil
	})
	if err != nil {
		return "", repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	s.logger.Debug("Digest stored",
		zap.String("client_id", clientID),
		zap.String("digest_id", id),
		zap.Int("snapshots", len(baseline)),
	)
	return id, nil
}

func insertSnapshots(ctx context.Context, ex repository.Executor, snapshots []*model.Snapshot) error {
	q := `
		INSERT INTO snapshots (` + snapshotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for _, snap := range snapshots {
		if snap.ID == "" {
			snap.ID = uuid.Must(uuid.NewV7()).String()
		}
		tiles, err := json.Marshal(snap.Tiles)
		if err != nil {
			return fmt.Errorf("marshal tiles: %w", err)
		}
		if _, err := ex.ExecContext(ctx, q,
			snap.ID, snap.ClientID, snap.ProductID, snap.LaneID, string(tiles),
			string(snap.OverallRisk), snap.ActiveAlertCount, snap.GeneratedAt.UTC(), snap.ProcessingTimeMs,
		); err != nil {
			return fmt.Errorf("insert snapshot %s/%s: %w", snap.ProductID, snap.LaneID, err)
		}
	}
	return nil
}

// ListDigests returns a client's most recent digests, newest first.
func (s *Postgres) ListDigests(ctx context.Context, clientID string, limit int) ([]*model.Digest, error) {
	if limit <= 0 {
		limit = 10
	}
	q := `
		SELECT ` + digestColumns + `
		FROM digests
		WHERE client_id = $1
		ORDER BY generated_at DESC
		LIMIT $2`

	digests, err := repository.QueryMany(ctx, s.db, q, []any{clientID, limit}, scanDigest)
	if err != nil {
		return nil, fmt.Errorf("query digests: %w", err)
	}
	return digests, nil
}

// GetDigest returns one digest by ID.
func (s *Postgres) GetDigest(ctx context.Context, id string) (*model.Digest, error) {
	q := `SELECT ` + digestColumns + ` FROM digests WHERE id = $1`

	d, err := repository.QueryOne(ctx, s.db, q, []any{id}, scanDigest)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return d, nil
}

// Ping reports whether the database is reachable.
func (s *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}
