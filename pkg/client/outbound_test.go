package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviso/reviso/pkg/config"
	"github.com/reviso/reviso/pkg/ingest"
	"github.com/reviso/reviso/pkg/store/memstore"
)

// flakyIngestor fails whole windows or single events on demand.
type flakyIngestor struct {
	failTransport bool
	failEventIDs  map[string]bool
	calls         int
	windowSizes   []int
	inner         Ingestor
}

func (f *flakyIngestor) IngestBatch(ctx context.Context, events [][]byte) ([]ingest.Result, error) {
	f.calls++
	f.windowSizes = append(f.windowSizes, len(events))
	if f.failTransport {
		return nil, errors.New("connection refused")
	}
	results, err := f.inner.IngestBatch(ctx, events)
	if err != nil {
		return nil, err
	}
	for i := range results {
		if f.failEventIDs[results[i].EventID] {
			results[i] = ingest.Result{Success: false, EventID: results[i].EventID, Error: "simulated failure"}
		}
	}
	return results, nil
}

func newOutboundFixture(t *testing.T) (*MemoryQueue, *memstore.Store, *flakyIngestor, *OutboundSync) {
	t.Helper()
	st := memstore.New()
	svc := ingest.NewServiceWithClock(st, func() time.Time {
		return time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	})
	ing := &flakyIngestor{inner: &LocalIngestor{Service: svc}, failEventIDs: map[string]bool{}}
	q := NewMemoryQueue()
	out := NewOutboundSync(q, ing, config.DefaultSyncConfig().Outbound, nil)
	return q, st, ing, out
}

func TestOutboundSync(t *testing.T) {
	ctx := context.Background()

	t.Run("empty queue reports zeros", func(t *testing.T) {
		_, _, _, out := newOutboundFixture(t)
		result, err := out.Sync(ctx)
		require.NoError(t, err)
		assert.Equal(t, OutboundResult{}, result)
	})

	t.Run("uploads and removes queued events", func(t *testing.T) {
		q, st, _, out := newOutboundFixture(t)
		require.NoError(t, q.Enqueue(ctx, queuedEnvelope("evt_1")))
		require.NoError(t, q.Enqueue(ctx, queuedEnvelope("evt_2")))

		result, err := out.Sync(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Uploaded)
		assert.Zero(t, result.Failed)

		// The event document exists at its canonical path and the queue
		// entry is gone.
		_, err = st.Read(ctx, "users/user_1/libraries/lib_1/events/evt_1")
		require.NoError(t, err)
		n, err := q.PendingCount(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("already ingested events settle as idempotent", func(t *testing.T) {
		q, st, ing, out := newOutboundFixture(t)
		require.NoError(t, q.Enqueue(ctx, queuedEnvelope("evt_1")))
		_, err := out.Sync(ctx)
		require.NoError(t, err)
		before := st.Len()

		// Same event re-queued, e.g. after a crash between ingest
		// confirmation and queue removal.
		require.NoError(t, q.Enqueue(ctx, queuedEnvelope("evt_1")))
		result, err := out.Sync(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Idempotent)
		assert.Zero(t, result.Uploaded)
		assert.Equal(t, before, st.Len(), "no duplicate write")
		_ = ing
	})

	t.Run("failures stay queued with bumped attempts", func(t *testing.T) {
		q, _, ing, out := newOutboundFixture(t)
		require.NoError(t, q.Enqueue(ctx, queuedEnvelope("evt_1")))
		ing.failEventIDs["evt_1"] = true

		result, err := out.Sync(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Failed)

		pending, err := q.GetPending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, 1, pending[0].Attempts)
	})

	t.Run("max retries exceeded leaves entry without bumping", func(t *testing.T) {
		q, _, ing, out := newOutboundFixture(t)
		require.NoError(t, q.Enqueue(ctx, queuedEnvelope("evt_1")))
		ing.failEventIDs["evt_1"] = true

		for i := 0; i < 5; i++ {
			_, err := out.Sync(ctx)
			require.NoError(t, err)
		}

		pending, err := q.GetPending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1, "entry is never auto-dropped")
		assert.Equal(t, out.cfg.MaxRetries, pending[0].Attempts)

		result, err := out.Sync(ctx)
		require.NoError(t, err)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "max retries exceeded")
	})

	t.Run("transport failure fails the whole window", func(t *testing.T) {
		q, _, ing, out := newOutboundFixture(t)
		require.NoError(t, q.Enqueue(ctx, queuedEnvelope("evt_1")))
		require.NoError(t, q.Enqueue(ctx, queuedEnvelope("evt_2")))
		ing.failTransport = true

		result, err := out.Sync(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Failed)

		n, err := q.PendingCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("windows respect batch size", func(t *testing.T) {
		st := memstore.New()
		svc := ingest.NewService(st)
		ing := &flakyIngestor{inner: &LocalIngestor{Service: svc}, failEventIDs: map[string]bool{}}
		q := NewMemoryQueue()
		cfg := config.DefaultSyncConfig().Outbound
		cfg.BatchSize = 3
		out := NewOutboundSync(q, ing, cfg, nil)

		for i := 0; i < 7; i++ {
			require.NoError(t, q.Enqueue(ctx, queuedEnvelope(fmt.Sprintf("evt_%d", i))))
		}
		result, err := out.Sync(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7, result.Uploaded)
		assert.Equal(t, []int{3, 3, 1}, ing.windowSizes)
	})
}
