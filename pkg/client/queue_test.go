package client

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviso/reviso/pkg/event"
)

// queueStores builds one instance of every Queue implementation.
func queueStores(t *testing.T) map[string]Queue {
	t.Helper()
	sqlite, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "device.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Queue{
		"memory": NewMemoryQueue(),
		"sqlite": sqlite,
	}
}

func queuedEnvelope(id string) *event.Envelope {
	return &event.Envelope{
		EventID:       id,
		Type:          event.TypeCardReviewed,
		UserID:        "user_1",
		LibraryID:     "lib_1",
		OccurredAt:    "2025-01-01T00:00:00.000Z",
		DeviceID:      "dev_1",
		Entity:        event.Entity{Kind: event.KindCard, ID: "card_1"},
		Payload:       []byte(`{"grade":"good","seconds_spent":2}`),
		SchemaVersion: "1.0",
	}
}

func TestQueueLifecycle(t *testing.T) {
	for name, q := range queueStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, q.Enqueue(ctx, queuedEnvelope("evt_1")))
			require.NoError(t, q.Enqueue(ctx, queuedEnvelope("evt_2")))
			// Re-enqueueing the same id is a no-op.
			require.NoError(t, q.Enqueue(ctx, queuedEnvelope("evt_1")))

			n, err := q.PendingCount(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			pending, err := q.GetPending(ctx)
			require.NoError(t, err)
			require.Len(t, pending, 2)
			assert.Equal(t, "evt_1", pending[0].EventID)
			assert.Equal(t, 0, pending[0].Attempts)
			assert.NotEmpty(t, pending[0].QueuedAt)
			assert.JSONEq(t, `{"grade":"good","seconds_spent":2}`,
				mustField(t, pending[0].Event, "payload"))

			require.NoError(t, q.IncrementAttempt(ctx, "evt_1"))
			require.NoError(t, q.IncrementAttempt(ctx, "evt_1"))
			pending, err = q.GetPending(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, pending[0].Attempts)
			assert.NotEmpty(t, pending[0].LastAttemptAt)

			require.NoError(t, q.Acknowledge(ctx, "evt_1"))
			pending, err = q.GetPending(ctx)
			require.NoError(t, err)
			require.Len(t, pending, 1)
			assert.Equal(t, "evt_2", pending[0].EventID)

			n, err = q.PendingCount(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			require.NoError(t, q.ClearAcknowledged(ctx))
			require.NoError(t, q.Remove(ctx, "evt_2"))
			n, err = q.PendingCount(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		})
	}
}

func TestCursorStores(t *testing.T) {
	sqlite, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "device.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	stores := map[string]CursorStore{
		"memory": NewMemoryCursorStore(),
		"sqlite": sqlite,
	}
	for name, cs := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			c, err := cs.Get(ctx, "lib_1")
			require.NoError(t, err)
			assert.Nil(t, c, "no cursor before first sync")

			require.NoError(t, cs.Update(ctx, "lib_1", "2025-01-01T00:00:00.000Z", "evt_1"))
			require.NoError(t, cs.Update(ctx, "lib_2", "2025-01-03T00:00:00.000Z", "evt_9"))

			c, err = cs.Get(ctx, "lib_1")
			require.NoError(t, err)
			require.NotNil(t, c)
			assert.Equal(t, "2025-01-01T00:00:00.000Z", c.LastReceivedAt)
			assert.Equal(t, "evt_1", c.LastEventID)
			assert.NotEmpty(t, c.SyncedAt)

			// Update replaces in place.
			require.NoError(t, cs.Update(ctx, "lib_1", "2025-01-02T00:00:00.000Z", "evt_5"))
			c, err = cs.Get(ctx, "lib_1")
			require.NoError(t, err)
			assert.Equal(t, "evt_5", c.LastEventID)

			all, err := cs.List(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 2)

			require.NoError(t, cs.Clear(ctx, "lib_1"))
			c, err = cs.Get(ctx, "lib_1")
			require.NoError(t, err)
			assert.Nil(t, c)
		})
	}
}

// mustField extracts a top-level field of a JSON document as raw text.
func mustField(t *testing.T, raw []byte, field string) string {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &m))
	return string(m[field])
}
