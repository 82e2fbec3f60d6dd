package model

import (
	"time"
)

// Facet identifies one compliance dimension of a snapshot.
type Facet string

const (
	FacetClassification Facet = "classification"
	FacetSanctions      Facet = "sanctions"
	FacetRefusals       Facet = "refusals"
	FacetRulings        Facet = "rulings"

	// FacetPortfolio tags digest events that concern a whole portfolio
	// entry rather than a single facet.
	FacetPortfolio Facet = "portfolio"
)

// Facets lists the known facets in execution order.
var Facets = []Facet{
	FacetClassification,
	FacetSanctions,
	FacetRefusals,
	FacetRulings,
}

// Valid reports whether f is one of the four snapshot facets.
func (f Facet) Valid() bool {
	switch f {
	case FacetClassification, FacetSanctions, FacetRefusals, FacetRulings:
		return true
	}
	return false
}

// TileStatus is the rendered state of one facet.
type TileStatus string

const (
	StatusClear     TileStatus = "clear"
	StatusAttention TileStatus = "attention"
	StatusAction    TileStatus = "action"
	StatusError     TileStatus = "error"
)

// Alerting reports whether the status counts toward the active alert count.
func (s TileStatus) Alerting() bool {
	return s == StatusAttention || s == StatusAction
}

// Risk is the derived overall risk of a snapshot.
type Risk string

const (
	RiskLow  Risk = "low"
	RiskWarn Risk = "warn"
	RiskHigh Risk = "high"
)

// Tile is one facet's rendered state within a snapshot.
type Tile struct {
	Status      TileStatus `json:"status"`
	Headline    string     `json:"headline"`
	Details     string     `json:"details"`
	LastUpdated time.Time  `json:"last_updated"`
	Citations   []Citation `json:"citations"`
}

// Key identifies a monitored (client, product, lane) triple.
type Key struct {
	ClientID  string `json:"client_id"`
	ProductID string `json:"product_id"`
	LaneID    string `json:"lane_id"`
}

// Snapshot is a point-in-time compliance result for one key. Treat it as
// immutable once produced.
type Snapshot struct {
	ID               string         `json:"id"`
	ClientID         string         `json:"client_id"`
	ProductID        string         `json:"product_id"`
	LaneID           string         `json:"lane_id"`
	Tiles            map[Facet]Tile `json:"tiles"`
	OverallRisk      Risk           `json:"overall_risk"`
	ActiveAlertCount int            `json:"active_alert_count"`
	GeneratedAt      time.Time      `json:"generated_at"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
}

// Key returns the snapshot's (client, product, lane) key.
func (s *Snapshot) Key() Key {
	return Key{ClientID: s.ClientID, ProductID: s.ProductID, LaneID: s.LaneID}
}

// Citations returns citations from every non-error tile in facet order.
func (s *Snapshot) Citations() []Citation {
	var out []Citation
	for _, f := range Facets {
		t, ok := s.Tiles[f]
		if !ok || t.Status == StatusError {
			continue
		}
		out = append(out, t.Citations...)
	}
	return out
}

// DeriveRisk computes overall risk and active alert count from tile
// statuses. Error tiles contribute to neither.
func DeriveRisk(tiles map[Facet]Tile) (Risk, int) {
	risk := RiskLow
	alerts := 0
	for _, t := range tiles {
		switch t.Status {
		case StatusAction:
			risk = RiskHigh
			alerts++
		case StatusAttention:
			if risk != RiskHigh {
				risk = RiskWarn
			}
			alerts++
		}
	}
	return risk, alerts
}
