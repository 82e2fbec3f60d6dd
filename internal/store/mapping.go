package store

import (
	"encoding/json"
	"fmt"

	"github.com/capitalize-ai/compliance-intelligence/internal/model"
	"github.com/capitalize-ai/compliance-intelligence/pkg/repository"
)

func scanString(s repository.Scanner) (string, error) {
	var v string
	err := s.Scan(&v)
	return v, err
}

func scanEntry(s repository.Scanner) (model.PortfolioEntry, error) {
	var e model.PortfolioEntry
	err := s.Scan(&e.ProductID, &e.LaneID, &e.Active)
	return e, err
}

func scanSnapshot(s repository.Scanner) (*model.Snapshot, error) {
	var (
		snap  model.Snapshot
		tiles []byte
		risk  string
	)
	err := s.Scan(
		&snap.ID,
		&snap.ClientID,
		&snap.ProductID,
		&snap.LaneID,
		&tiles,
		&risk,
		&snap.ActiveAlertCount,
		&snap.GeneratedAt,
		&snap.ProcessingTimeMs,
	)
	if err != nil {
		return nil, err
	}
	snap.OverallRisk = model.Risk(risk)

	if err := json.Unmarshal(tiles, &snap.Tiles); err != nil {
		return nil, fmt.Errorf("unmarshal tiles: %w", err)
	}
	return &snap, nil
}

func scanDigest(s repository.Scanner) (*model.Digest, error) {
	var (
		d       model.Digest
		status  string
		counts  []byte
		changes []byte
	)
	err := s.Scan(
		&d.ID,
		&d.ClientID,
		&d.PeriodStart,
		&d.PeriodEnd,
		&status,
		&d.RequiresAction,
		&d.TotalChanges,
		&counts,
		&changes,
		&d.EntriesMonitored,
		&d.EntriesFailed,
		&d.EntriesDegraded,
		&d.Summary,
		&d.GeneratedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = model.DigestStatus(status)

	if err := json.Unmarshal(counts, &d.CountsBySeverity); err != nil {
		return nil, fmt.Errorf("unmarshal counts_by_severity: %w", err)
	}
	if err := json.Unmarshal(changes, &d.RankedChanges); err != nil {
		return nil, fmt.Errorf("unmarshal ranked_changes: %w", err)
	}
	if d.RankedChanges == nil {
		d.RankedChanges = []model.ChangeEvent{}
	}
	return &d, nil
}
