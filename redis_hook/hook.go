package redishook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soandrew/transaction-outbox/entry"
	"github.com/soandrew/transaction-outbox/ext"
)

// Outbox lifecycle event types. Each constant maps to one ext lifecycle
// hook and is used as the "event" field of the published message.
const (
	EventEntrySubmitted = "outbox.entry.submitted"
	EventEntryProcessed = "outbox.entry.processed"
	EventEntryRetrying  = "outbox.entry.retrying"
	EventEntryBlocked   = "outbox.entry.blocked"
	EventEntryUnblocked = "outbox.entry.unblocked"
)

// DefaultChannel is the Redis channel events are published to unless
// overridden with WithChannel.
const DefaultChannel = "outbox.events"

// Compile-time interface checks.
var (
	_ ext.Listener       = (*Hook)(nil)
	_ ext.EntrySubmitted = (*Hook)(nil)
	_ ext.EntryProcessed = (*Hook)(nil)
	_ ext.EntryRetrying  = (*Hook)(nil)
	_ ext.EntryBlocked   = (*Hook)(nil)
	_ ext.EntryUnblocked = (*Hook)(nil)
)

// Hook publishes outbox lifecycle events to a Redis channel.
type Hook struct {
	client  redis.UniversalClient
	channel string
	enabled map[string]bool // nil = all enabled
}

// Option configures a Hook.
type Option func(*Hook)

// WithChannel overrides the channel events are published to.
func WithChannel(channel string) Option {
	return func(h *Hook) { h.channel = channel }
}

// WithEvents restricts publication to the given event types.
func WithEvents(events ...string) Option {
	return func(h *Hook) {
		h.enabled = make(map[string]bool, len(events))
		for _, ev := range events {
			h.enabled[ev] = true
		}
	}
}

// New creates a Hook publishing through the provided Redis client.
func New(client redis.UniversalClient, opts ...Option) *Hook {
	h := &Hook{
		client:  client,
		channel: DefaultChannel,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements ext.Listener.
func (h *Hook) Name() string { return "redis-hook" }

// message is the published payload.
type message struct {
	Event           string `json:"event"`
	EntryID         string `json:"entry_id"`
	Target          string `json:"target,omitempty"`
	Attempts        int    `json:"attempts,omitempty"`
	UniqueRequestID string `json:"unique_request_id,omitempty"`
	NextAttempt     string `json:"next_attempt,omitempty"`
	ElapsedMs       int64  `json:"elapsed_ms,omitempty"`
	Error           string `json:"error,omitempty"`
}

func entryMessage(event string, e *entry.Entry) message {
	return message{
		Event:           event,
		EntryID:         e.ID,
		Target:          e.Invocation.Target,
		Attempts:        e.Attempts,
		UniqueRequestID: e.UniqueRequestID,
	}
}

// OnEntrySubmitted implements ext.EntrySubmitted.
func (h *Hook) OnEntrySubmitted(ctx context.Context, e *entry.Entry) error {
	return h.publish(ctx, entryMessage(EventEntrySubmitted, e))
}

// OnEntryProcessed implements ext.EntryProcessed.
func (h *Hook) OnEntryProcessed(ctx context.Context, e *entry.Entry, elapsed time.Duration) error {
	m := entryMessage(EventEntryProcessed, e)
	m.ElapsedMs = elapsed.Milliseconds()
	return h.publish(ctx, m)
}

// OnEntryRetrying implements ext.EntryRetrying.
func (h *Hook) OnEntryRetrying(ctx context.Context, e *entry.Entry, cause error, nextAttempt time.Time) error {
	m := entryMessage(EventEntryRetrying, e)
	m.NextAttempt = nextAttempt.Format(time.RFC3339)
	m.Error = cause.Error()
	return h.publish(ctx, m)
}

// OnEntryBlocked implements ext.EntryBlocked.
func (h *Hook) OnEntryBlocked(ctx context.Context, e *entry.Entry, cause error) error {
	m := entryMessage(EventEntryBlocked, e)
	m.Error = cause.Error()
	return h.publish(ctx, m)
}

// OnEntryUnblocked implements ext.EntryUnblocked.
func (h *Hook) OnEntryUnblocked(ctx context.Context, entryID string) error {
	return h.publish(ctx, message{Event: EventEntryUnblocked, EntryID: entryID})
}

func (h *Hook) publish(ctx context.Context, m message) error {
	if h.enabled != nil && !h.enabled[m.Event] {
		return nil
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("outbox/redishook: marshal %s: %w", m.Event, err)
	}
	if err := h.client.Publish(ctx, h.channel, payload).Err(); err != nil {
		return fmt.Errorf("outbox/redishook: publish %s: %w", m.Event, err)
	}
	return nil
}
