package client

import (
	"context"
	"sync"
	"time"

	"github.com/reviso/reviso/pkg/event"
)

// SyncCursor is the per-library inbound position: the lexicographic
// max (received_at, event_id) consumed so far. It only moves forward.
type SyncCursor struct {
	LibraryID      string `json:"library_id"`
	LastReceivedAt string `json:"last_received_at"`
	LastEventID    string `json:"last_event_id"`
	SyncedAt       string `json:"synced_at"`
}

// CursorStore persists sync cursors on the device.
type CursorStore interface {
	// Get returns the cursor for a library, or nil when none exists.
	Get(ctx context.Context, libraryID string) (*SyncCursor, error)
	// Update advances the cursor in one atomic write.
	Update(ctx context.Context, libraryID, receivedAt, eventID string) error
	// Clear removes the cursor, forcing the next inbound sync to start
	// from the beginning of the event log.
	Clear(ctx context.Context, libraryID string) error
	// List returns all stored cursors.
	List(ctx context.Context) ([]SyncCursor, error)
}

// MemoryCursorStore is the in-memory CursorStore for tests.
type MemoryCursorStore struct {
	mu      sync.Mutex
	cursors map[string]SyncCursor
	now     func() time.Time
}

// NewMemoryCursorStore creates an empty in-memory cursor store.
func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{
		cursors: make(map[string]SyncCursor),
		now:     time.Now,
	}
}

var _ CursorStore = (*MemoryCursorStore)(nil)

func (s *MemoryCursorStore) Get(ctx context.Context, libraryID string) (*SyncCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[libraryID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *MemoryCursorStore) Update(ctx context.Context, libraryID, receivedAt, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[libraryID] = SyncCursor{
		LibraryID:      libraryID,
		LastReceivedAt: receivedAt,
		LastEventID:    eventID,
		SyncedAt:       event.FormatTime(s.now()),
	}
	return nil
}

func (s *MemoryCursorStore) Clear(ctx context.Context, libraryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, libraryID)
	return nil
}

func (s *MemoryCursorStore) List(ctx context.Context) ([]SyncCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cursors := make([]SyncCursor, 0, len(s.cursors))
	for _, c := range s.cursors {
		cursors = append(cursors, c)
	}
	return cursors, nil
}
