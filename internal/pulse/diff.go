// Package pulse builds periodic digests of what changed across a client's
// monitored portfolio.
package pulse

import (
	"fmt"
	"maps"

	"github.com/capitalize-ai/compliance-intelligence/internal/model"
)

// Diff compares two snapshots of the same key, facet by facet. Snapshots
// of different keys never diff; the result is then nil.
func Diff(prev, cur *model.Snapshot) []model.ChangeEvent {
	if prev == nil || cur == nil || prev.Key() != cur.Key() {
		return nil
	}

	var events []model.ChangeEvent
	for _, f := range model.Facets {
		p, okPrev := prev.Tiles[f]
		c, okCur := cur.Tiles[f]
		if !okPrev || !okCur {
			continue
		}
		sev, kind, ok := classify(p, c)
		if !ok {
			continue
		}
		events = append(events, model.ChangeEvent{
			Facet:        f,
			Kind:         kind,
			ProductID:    cur.ProductID,
			LaneID:       cur.LaneID,
			PreviousTile: tilePtr(p),
			CurrentTile:  tilePtr(c),
			Severity:     sev,
			Description:  describe(f, p, c, kind),
		})
	}
	return events
}

// classify assigns severity to one facet transition. A current error tile
// carries no information and never produces an event; neither does a
// recovery from error straight to clear.
func classify(prev, cur model.Tile) (model.Severity, model.ChangeKind, bool) {
	if cur.Status == model.StatusError {
		return "", "", false
	}
	if prev.Status == cur.Status {
		if prev.Headline != cur.Headline {
			return model.SeverityLow, model.ChangeDetail, true
		}
		return "", "", false
	}

	switch cur.Status {
	case model.StatusAction:
		return model.SeverityHigh, model.ChangeStatus, true
	case model.StatusAttention:
		if prev.Status == model.StatusAction {
			return model.SeverityLow, model.ChangeStatus, true
		}
		return model.SeverityMedium, model.ChangeStatus, true
	case model.StatusClear:
		if prev.Status == model.StatusError {
			return "", "", false
		}
		return model.SeverityLow, model.ChangeStatus, true
	}
	return "", "", false
}

func describe(f model.Facet, prev, cur model.Tile, kind model.ChangeKind) string {
	if kind == model.ChangeDetail {
		return fmt.Sprintf("%s still %s: %s (was: %s)", f, cur.Status, cur.Headline, prev.Headline)
	}
	return fmt.Sprintf("%s moved from %s to %s: %s", f, prev.Status, cur.Status, cur.Headline)
}

// NewMonitoring is the single informational event of an entry seen for the
// first time.
func NewMonitoring(cur *model.Snapshot) model.ChangeEvent {
	return model.ChangeEvent{
		Facet:       model.FacetPortfolio,
		Kind:        model.ChangeNewMonitoring,
		ProductID:   cur.ProductID,
		LaneID:      cur.LaneID,
		Severity:    model.SeverityLow,
		Description: fmt.Sprintf("Started monitoring %s on %s (overall risk %s)", cur.ProductID, cur.LaneID, cur.OverallRisk),
	}
}

// Baseline is the snapshot kept as the reference for the next period. It is
// cur with every error tile replaced by the prior tile of the same facet, so
// a source outage never becomes the state the next diff runs against.
func Baseline(prev, cur *model.Snapshot) *model.Snapshot {
	if prev == nil || prev.Key() != cur.Key() {
		return cur
	}

	var tiles map[model.Facet]model.Tile
	for f, t := range cur.Tiles {
		if t.Status != model.StatusError {
			continue
		}
		p, ok := prev.Tiles[f]
		if !ok || p.Status == model.StatusError {
			continue
		}
		if tiles == nil {
			tiles = maps.Clone(cur.Tiles)
		}
		tiles[f] = p
	}
	if tiles == nil {
		return cur
	}

	out := *cur
	out.Tiles = tiles
	out.OverallRisk, out.ActiveAlertCount = model.DeriveRisk(tiles)
	return &out
}

func tilePtr(t model.Tile) *model.Tile {
	return &t
}
