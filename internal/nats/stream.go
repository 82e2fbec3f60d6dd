package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/compliance-intelligence/internal/model"
)

const (
	// MemoryStream holds one message per remembered chat turn.
	MemoryStream = "MEMORY"
	// MemorySubjectPrefix is the prefix for memory subjects.
	MemorySubjectPrefix = "mem"

	// PulseStream holds digest notifications.
	PulseStream = "PULSE"
	// PulseSubjectPrefix is the prefix for pulse subjects.
	PulseSubjectPrefix = "pulse"

	fetchPage = 100
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client        *Client
	memoryMaxAge  time.Duration
	consumerIdle  time.Duration
	fetchDeadline time.Duration
}

// NewStreamManager creates a new stream manager. memoryMaxAge bounds how far
// back memory is kept and read.
func NewStreamManager(client *Client, memoryMaxAge time.Duration) *StreamManager {
	if memoryMaxAge <= 0 {
		memoryMaxAge = 30 * 24 * time.Hour
	}
	return &StreamManager{
		client:        client,
		memoryMaxAge:  memoryMaxAge,
		consumerIdle:  30 * time.Second,
		fetchDeadline: 5 * time.Second,
	}
}

// EnsureStreams creates the memory and pulse streams when missing.
func (m *StreamManager) EnsureStreams(ctx context.Context) error {
	configs := []jetstream.StreamConfig{
		{
			Name:        MemoryStream,
			Subjects:    []string{MemorySubjectPrefix + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      m.memoryMaxAge,
			MaxBytes:    10 * 1024 * 1024 * 1024, // 10GB
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			Compression: jetstream.S2Compression,
			Description: "Conversational memory per user session",
		},
		{
			Name:        PulseStream,
			Subjects:    []string{PulseSubjectPrefix + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      90 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			DenyDelete:  true,
			Description: "Pulse digest notifications",
		},
	}

	js := m.client.JetStream()
	for _, cfg := range configs {
		if _, err := js.Stream(ctx, cfg.Name); err == nil {
			continue
		} else if !errors.Is(err, jetstream.ErrStreamNotFound) {
			return fmt.Errorf("failed to look up stream %s: %w", cfg.Name, err)
		}
		if _, err := js.CreateStream(ctx, cfg); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// Token maps an identifier onto a single subject token. Characters that are
// not letters, digits, '-' or '_' become '_'; empty ids become "_".
func Token(id string) string {
	if id == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// MemorySubject returns the subject holding a session's memory.
func MemorySubject(userID, sessionID string) string {
	return fmt.Sprintf("%s.%s.%s", MemorySubjectPrefix, Token(userID), Token(sessionID))
}

// PulseSubject returns the subject for a client's pulse event.
func PulseSubject(clientID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.digest.%s", PulseSubjectPrefix, Token(clientID), eventType)
}

// AppendMemory publishes memory entries in order.
func (m *StreamManager) AppendMemory(ctx context.Context, entries ...model.MemoryEntry) error {
	js := m.client.JetStream()
	for i := range entries {
		e := &entries[i]
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal memory entry: %w", err)
		}
		if _, err := js.Publish(ctx, MemorySubject(e.UserID, e.SessionID), data); err != nil {
			return fmt.Errorf("failed to publish memory entry: %w", err)
		}
	}
	return nil
}

// RecentMemory returns up to window most recent entries of a session,
// oldest first.
func (m *StreamManager) RecentMemory(ctx context.Context, userID, sessionID string, window int) ([]model.MemoryEntry, error) {
	if window <= 0 {
		return nil, nil
	}

	consumer, err := m.client.JetStream().CreateConsumer(ctx, MemoryStream, jetstream.ConsumerConfig{
		FilterSubject:     MemorySubject(userID, sessionID),
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverByStartTimePolicy,
		OptStartTime:      ptr(time.Now().Add(-m.memoryMaxAge)),
		InactiveThreshold: m.consumerIdle,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, m.fetchDeadline)
	defer cancel()

	var entries []model.MemoryEntry
	for fetchCtx.Err() == nil {
		batch, err := consumer.FetchNoWait(fetchPage)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch memory: %w", err)
		}

		n := 0
		for msg := range batch.Messages() {
			n++
			var e model.MemoryEntry
			if err := json.Unmarshal(msg.Data(), &e); err != nil {
				continue
			}
			// subject tokens are lossy; keep only this exact session
			if e.UserID != userID || e.SessionID != sessionID {
				continue
			}
			if meta, err := msg.Metadata(); err == nil {
				e.Sequence = meta.Sequence.Stream
			}
			entries = append(entries, e)
			if len(entries) > window {
				entries = entries[1:]
			}
		}
		if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("batch error: %w", err)
		}
		if n < fetchPage {
			break
		}
	}

	return entries, nil
}

// PublishPulse publishes a digest notification.
func (m *StreamManager) PublishPulse(ctx context.Context, event *model.PulseEvent) (uint64, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, PulseSubject(event.ClientID, event.Type), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}

	return ack.Sequence, nil
}

func ptr[T any](v T) *T { return &v }
