// Package client implements the device-side half of the pipeline: the
// durable outbound queue, the per-library sync cursor, outbound and
// inbound sync, and the engine coordinating them. The queue and cursor
// stores serialize all writes; correctness under reordering comes from
// the projector cursor, never from queue FIFO.
package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/reviso/reviso/pkg/event"
)

// QueueEntry is one queued outbound event, keyed by event_id.
type QueueEntry struct {
	EventID       string          `json:"event_id"`
	Event         json.RawMessage `json:"event"`
	QueuedAt      string          `json:"queued_at"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt string          `json:"last_attempt_at,omitempty"`
	Acknowledged  bool            `json:"acknowledged"`
}

// Queue is the durable outbound event queue.
type Queue interface {
	// Enqueue stores the event keyed by its event_id. Re-enqueueing an
	// existing id is a no-op.
	Enqueue(ctx context.Context, env *event.Envelope) error
	// GetPending returns the unacknowledged entries.
	GetPending(ctx context.Context) ([]QueueEntry, error)
	// Acknowledge marks an entry as confirmed by ingestion.
	Acknowledge(ctx context.Context, eventID string) error
	// Remove deletes an entry.
	Remove(ctx context.Context, eventID string) error
	// IncrementAttempt bumps the attempt counter and stamps the time.
	IncrementAttempt(ctx context.Context, eventID string) error
	// ClearAcknowledged deletes every acknowledged entry.
	ClearAcknowledged(ctx context.Context) error
	// PendingCount returns the number of unacknowledged entries.
	PendingCount(ctx context.Context) (int, error)
}

// MemoryQueue is the in-memory Queue used by tests and short-lived
// clients. Entries keep insertion order for backoff fairness.
type MemoryQueue struct {
	mu      sync.Mutex
	entries map[string]*QueueEntry
	order   []string
	now     func() time.Time
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		entries: make(map[string]*QueueEntry),
		now:     time.Now,
	}
}

var _ Queue = (*MemoryQueue)(nil)

func (q *MemoryQueue) Enqueue(ctx context.Context, env *event.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.entries[env.EventID]; exists {
		return nil
	}
	q.entries[env.EventID] = &QueueEntry{
		EventID:  env.EventID,
		Event:    raw,
		QueuedAt: event.FormatTime(q.now()),
	}
	q.order = append(q.order, env.EventID)
	return nil
}

func (q *MemoryQueue) GetPending(ctx context.Context) ([]QueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var pending []QueueEntry
	for _, id := range q.order {
		e, ok := q.entries[id]
		if !ok || e.Acknowledged {
			continue
		}
		pending = append(pending, *e)
	}
	return pending, nil
}

func (q *MemoryQueue) Acknowledge(ctx context.Context, eventID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[eventID]; ok {
		e.Acknowledged = true
	}
	return nil
}

func (q *MemoryQueue) Remove(ctx context.Context, eventID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, eventID)
	return nil
}

func (q *MemoryQueue) IncrementAttempt(ctx context.Context, eventID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[eventID]; ok {
		e.Attempts++
		e.LastAttemptAt = event.FormatTime(q.now())
	}
	return nil
}

func (q *MemoryQueue) ClearAcknowledged(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, e := range q.entries {
		if e.Acknowledged {
			delete(q.entries, id)
		}
	}
	return nil
}

func (q *MemoryQueue) PendingCount(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.entries {
		if !e.Acknowledged {
			n++
		}
	}
	return n, nil
}
