package model

import (
	"time"
)

// Severity ranks a change event.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities high > medium > low.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Severities lists severities from most to least severe.
var Severities = []Severity{SeverityHigh, SeverityMedium, SeverityLow}

// ChangeKind classifies how a change event was derived.
type ChangeKind string

const (
	// ChangeNewMonitoring marks the first snapshot of a portfolio entry.
	ChangeNewMonitoring ChangeKind = "new_monitoring"
	// ChangeStatus marks a tile status transition.
	ChangeStatus ChangeKind = "status_change"
	// ChangeDetail marks a headline change with an unchanged status.
	ChangeDetail ChangeKind = "detail_change"
)

// ChangeEvent is a detected difference between two snapshots of one key.
type ChangeEvent struct {
	Facet        Facet      `json:"facet"`
	Kind         ChangeKind `json:"kind"`
	ProductID    string     `json:"product_id"`
	LaneID       string     `json:"lane_id"`
	PreviousTile *Tile      `json:"previous_tile,omitempty"`
	CurrentTile  *Tile      `json:"current_tile,omitempty"`
	Severity     Severity   `json:"severity"`
	Description  string     `json:"description"`
}

// Informational reports whether the event is a baseline notice rather than
// a detected change.
func (e ChangeEvent) Informational() bool {
	return e.Kind == ChangeNewMonitoring
}

// DigestStatus summarizes whether a digest needs attention.
type DigestStatus string

const (
	DigestActionRequired DigestStatus = "action_required"
	DigestMonitoring     DigestStatus = "monitoring"
	DigestClear          DigestStatus = "clear"
)

// Digest is the ranked summary of change events over one period for one
// client. It is never mutated after creation.
type Digest struct {
	ID               string           `json:"id"`
	ClientID         string           `json:"client_id"`
	PeriodStart      time.Time        `json:"period_start"`
	PeriodEnd        time.Time        `json:"period_end"`
	TotalChanges     int              `json:"total_changes"`
	CountsBySeverity map[Severity]int `json:"counts_by_severity"`
	RequiresAction   bool             `json:"requires_action"`
	Status           DigestStatus     `json:"status"`
	RankedChanges    []ChangeEvent    `json:"ranked_changes"`
	EntriesMonitored int              `json:"entries_monitored"`
	EntriesFailed    int              `json:"entries_failed"`
	EntriesDegraded  int              `json:"entries_degraded"`
	Summary          string           `json:"summary"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

// PortfolioEntry is one monitored (product, lane) pair of a client.
type PortfolioEntry struct {
	ProductID string `json:"product_id"`
	LaneID    string `json:"lane_id"`
	Active    bool   `json:"active"`
}
