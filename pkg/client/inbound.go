package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/reviso/reviso/pkg/config"
	"github.com/reviso/reviso/pkg/event"
	"github.com/reviso/reviso/pkg/store"
)

// InboundResult aggregates one inbound sync run.
type InboundResult struct {
	EventsReceived int         `json:"events_received"`
	Cursor         *SyncCursor `json:"cursor,omitempty"`
}

// InboundSync pulls events the device has not consumed yet, ordered by
// (received_at, event_id), and advances the per-library cursor in one
// atomic write after the drain.
type InboundSync struct {
	store   store.Store
	cursors CursorStore
	cfg     config.InboundConfig
	logger  *slog.Logger

	userID    string
	libraryID string

	// handler receives each newly consumed event document. Optional.
	handler func(doc store.Document)
}

// NewInboundSync creates an inbound sync for one (user, library) pair.
func NewInboundSync(s store.Store, cursors CursorStore, userID, libraryID string, cfg config.InboundConfig, handler func(store.Document), logger *slog.Logger) *InboundSync {
	if logger == nil {
		logger = slog.Default()
	}
	return &InboundSync{
		store:     s,
		cursors:   cursors,
		cfg:       cfg,
		logger:    logger,
		userID:    userID,
		libraryID: libraryID,
		handler:   handler,
	}
}

// Sync drains up to cfg.MaxEvents new events. The page boundary is a
// keyset on (received_at, path); because an event's path ends in its
// event_id, resuming strictly after the cursor position implements the
// tie-break "same received_at, greater event_id" exactly.
func (in *InboundSync) Sync(ctx context.Context) (InboundResult, error) {
	var result InboundResult

	cursor, err := in.cursors.Get(ctx, in.libraryID)
	if err != nil {
		return result, fmt.Errorf("read cursor: %w", err)
	}

	collection := event.EventsCollection(in.userID, in.libraryID)
	startAfter := cursorDocument(collection, cursor)

	var lastReceivedAt, lastEventID string
	for result.EventsReceived < in.cfg.MaxEvents {
		limit := min(in.cfg.BatchSize, in.cfg.MaxEvents-result.EventsReceived)
		page, err := in.store.Query(ctx, store.Query{
			Collection: collection,
			OrderField: "received_at",
			StartAfter: startAfter,
			Limit:      limit,
		})
		if err != nil {
			return result, fmt.Errorf("inbound query: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for i := range page {
			var env event.Envelope
			if err := json.Unmarshal(page[i].Data, &env); err != nil {
				in.logger.Warn("Skipping undecodable event document", "path", page[i].Path, "error", err)
				continue
			}
			if !newerThanCursor(cursor, env.ReceivedAt, env.EventID) {
				continue
			}
			if in.handler != nil {
				in.handler(page[i])
			}
			result.EventsReceived++
			lastReceivedAt, lastEventID = env.ReceivedAt, env.EventID
		}
		startAfter = &page[len(page)-1]
	}

	if result.EventsReceived > 0 {
		if err := in.cursors.Update(ctx, in.libraryID, lastReceivedAt, lastEventID); err != nil {
			return result, fmt.Errorf("advance cursor: %w", err)
		}
	}
	updated, err := in.cursors.Get(ctx, in.libraryID)
	if err != nil {
		return result, fmt.Errorf("reread cursor: %w", err)
	}
	result.Cursor = updated
	return result, nil
}

// cursorDocument converts a sync cursor into the synthetic query
// boundary document: path = collection/event_id, ordered field =
// received_at.
func cursorDocument(collection string, c *SyncCursor) *store.Document {
	if c == nil {
		return nil
	}
	data, _ := json.Marshal(map[string]string{"received_at": c.LastReceivedAt})
	return &store.Document{
		Path: collection + "/" + c.LastEventID,
		Data: data,
	}
}

// newerThanCursor is the defensive re-check of the keyset boundary.
func newerThanCursor(c *SyncCursor, receivedAt, eventID string) bool {
	if c == nil {
		return true
	}
	if receivedAt != c.LastReceivedAt {
		return receivedAt > c.LastReceivedAt
	}
	return eventID > c.LastEventID
}
