// Package router implements the conversational router: it routes each
// message to slot filling, a general answer, or the compliance workflow,
// then records the exchange in memory.
package router

import (
	"github.com/capitalize-ai/compliance-intelligence/internal/memory"
	"github.com/capitalize-ai/compliance-intelligence/internal/model"
	"github.com/capitalize-ai/compliance-intelligence/pkg/fsm"
)

// Route is the branch chosen for a turn.
type Route string

const (
	RouteSlotFilling Route = "slot_filling"
	RouteGeneral     Route = "general"
	RouteCompliance  Route = "compliance"
)

// Turn is the mutable record of one message. It is owned by one goroutine
// and discarded after the response is sent.
type Turn struct {
	Query     string `json:"query"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	ClientID  string `json:"client_id,omitempty"`
	ProductID string `json:"product_id,omitempty"`
	LaneID    string `json:"lane_id,omitempty"`

	Route            Route              `json:"route"`
	Missing          []string           `json:"missing,omitempty"`
	MemorySnippets   []string           `json:"-"`
	DocumentSnippets []model.Snippet    `json:"-"`
	FusedContext     string             `json:"-"`
	Response         string             `json:"response"`
	Snapshot         *model.Snapshot    `json:"snapshot,omitempty"`
	Citations        []model.Citation   `json:"citations"`
	Degraded         []string           `json:"degraded,omitempty"`
	MemoryStatus     memory.WriteStatus `json:"memory_status"`
	Path             []fsm.State        `json:"path"`
}

func (t *Turn) degrade(what string) {
	t.Degraded = append(t.Degraded, what)
}
