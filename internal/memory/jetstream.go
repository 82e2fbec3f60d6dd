package memory

import (
	"context"

	"github.com/capitalize-ai/compliance-intelligence/internal/model"
	"github.com/capitalize-ai/compliance-intelligence/internal/nats"
)

// JetStreamBackend keeps memory on the MEMORY stream, one subject per
// session. Publishes within a subject are ordered, so a session's turns
// read back in arrival order.
type JetStreamBackend struct {
	streams *nats.StreamManager
}

// NewJetStreamBackend creates a backend over an initialized stream manager.
func NewJetStreamBackend(streams *nats.StreamManager) *JetStreamBackend {
	return &JetStreamBackend{streams: streams}
}

// Recent implements Backend.
func (b *JetStreamBackend) Recent(ctx context.Context, userID, sessionID string, window int) ([]model.MemoryEntry, error) {
	return b.streams.RecentMemory(ctx, userID, sessionID, window)
}

// Append implements Backend.
func (b *JetStreamBackend) Append(ctx context.Context, entries ...model.MemoryEntry) error {
	return b.streams.AppendMemory(ctx, entries...)
}
