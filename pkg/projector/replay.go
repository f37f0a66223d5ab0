package projector

import (
	"context"
	"fmt"

	"github.com/reviso/reviso/pkg/event"
	"github.com/reviso/reviso/pkg/store"
)

// replayPageSize is the query page size used during replay.
const replayPageSize = 100

// ReplayStats summarizes a library replay.
type ReplayStats struct {
	Events  int `json:"events"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	// Failed counts documents with terminal per-event failures, which
	// are logged and passed over so one bad document cannot block a
	// rebuild.
	Failed int `json:"failed"`
}

// ProjectLibrary replays every stored event of one library through the
// projector in (received_at, event_id) order. Because the per-view
// cursor skips already-applied events, replay over a live library is
// safe and converges views to the state the full event log dictates.
// Transient store failures abort the replay; terminal per-event
// failures are counted and skipped.
func (p *Projector) ProjectLibrary(ctx context.Context, userID, libraryID string) (ReplayStats, error) {
	var stats ReplayStats
	collection := event.EventsCollection(userID, libraryID)

	var cursor *store.Document
	for {
		page, err := p.store.Query(ctx, store.Query{
			Collection: collection,
			OrderField: "received_at",
			StartAfter: cursor,
			Limit:      replayPageSize,
		})
		if err != nil {
			return stats, fmt.Errorf("replay query %s: %w", collection, err)
		}
		if len(page) == 0 {
			return stats, nil
		}
		for i := range page {
			results, err := p.ProjectRaw(ctx, page[i].Data)
			if err != nil {
				if store.IsTransient(err) {
					return stats, fmt.Errorf("replay %s: %w", page[i].Path, err)
				}
				p.logger.Warn("Replay skipping event with terminal failure",
					"path", page[i].Path, "error", err)
				stats.Failed++
				continue
			}
			stats.Events++
			for _, r := range results {
				if r.Updated {
					stats.Updated++
				} else {
					stats.Skipped++
				}
			}
		}
		cursor = &page[len(page)-1]
	}
}
