package model

import (
	"time"
)

// EventType represents the type of pulse event.
type EventType string

const (
	EventTypeDigestCreated EventType = "digest_created"
	EventTypeDigestFailed  EventType = "digest_failed"
)

// PulseEvent is published after a digest run so downstream consumers can
// react without polling the durable store.
type PulseEvent struct {
	ID             string         `json:"id"`
	ClientID       string         `json:"client_id"`
	Type           EventType      `json:"type"`
	DigestID       string         `json:"digest_id,omitempty"`
	Status         DigestStatus   `json:"status,omitempty"`
	RequiresAction bool           `json:"requires_action"`
	Reason         string         `json:"reason,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Sequence       uint64         `json:"sequence,omitempty"`
}
