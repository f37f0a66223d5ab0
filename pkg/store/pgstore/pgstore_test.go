package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviso/reviso/pkg/store"
	"github.com/reviso/reviso/test/util"
)

func setupStore(t *testing.T) (*Store, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}
	db, connStr := util.SetupTestDatabase(t)
	return New(db), connStr
}

func doc(t *testing.T, fields map[string]any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	return raw
}

func TestCreateIfAbsent(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	path := "users/user_1/libraries/lib_1/events/evt_1"

	created, err := s.CreateIfAbsent(ctx, path, doc(t, map[string]any{"v": 1}))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateIfAbsent(ctx, path, doc(t, map[string]any{"v": 2}))
	require.NoError(t, err)
	assert.False(t, created)

	stored, err := s.Read(ctx, path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(stored))
}

func TestReadAndReadMany(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	_, err := s.Read(ctx, "missing/path")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Write(ctx, "a/b/c", doc(t, map[string]any{"n": 1})))
	require.NoError(t, s.Write(ctx, "a/b/e", doc(t, map[string]any{"n": 2})))

	docs, err := s.ReadMany(ctx, []string{"a/b/c", "a/b/missing", "a/b/e"})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.JSONEq(t, `{"n":1}`, string(docs[0]))
	assert.Nil(t, docs[1])
	assert.JSONEq(t, `{"n":2}`, string(docs[2]))

	paths := make([]string, store.MaxReadBatch+1)
	for i := range paths {
		paths[i] = fmt.Sprintf("p/%d", i)
	}
	_, err = s.ReadMany(ctx, paths)
	assert.ErrorIs(t, err, store.ErrReadBatchTooLarge)
}

func TestTransaction(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, "views/a", doc(t, map[string]any{"n": 1})))

	t.Run("reads and writes commit together", func(t *testing.T) {
		err := s.Transaction(ctx, []string{"views/a", "views/b"}, func(txn store.Txn) error {
			a, ok := txn.Get("views/a")
			require.True(t, ok)
			assert.JSONEq(t, `{"n":1}`, string(a))

			_, ok = txn.Get("views/b")
			assert.False(t, ok)

			txn.Set("views/a", doc(t, map[string]any{"n": 2}))
			txn.Set("views/b", doc(t, map[string]any{"n": 10}))
			return nil
		})
		require.NoError(t, err)

		a, err := s.Read(ctx, "views/a")
		require.NoError(t, err)
		assert.JSONEq(t, `{"n":2}`, string(a))
		b, err := s.Read(ctx, "views/b")
		require.NoError(t, err)
		assert.JSONEq(t, `{"n":10}`, string(b))
	})

	t.Run("error aborts all staged writes", func(t *testing.T) {
		err := s.Transaction(ctx, []string{"views/a"}, func(txn store.Txn) error {
			txn.Set("views/a", doc(t, map[string]any{"n": 99}))
			return fmt.Errorf("boom")
		})
		require.Error(t, err)

		a, err := s.Read(ctx, "views/a")
		require.NoError(t, err)
		assert.JSONEq(t, `{"n":2}`, string(a))
	})

	t.Run("concurrent increments serialize", func(t *testing.T) {
		require.NoError(t, s.Write(ctx, "views/counter", doc(t, map[string]any{"n": 0})))

		const goroutines = 8
		var wg sync.WaitGroup
		errs := make([]error, goroutines)
		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = s.Transaction(ctx, []string{"views/counter"}, func(txn store.Txn) error {
					raw, ok := txn.Get("views/counter")
					require.True(t, ok)
					var v struct {
						N int `json:"n"`
					}
					require.NoError(t, json.Unmarshal(raw, &v))
					txn.Set("views/counter", doc(t, map[string]any{"n": v.N + 1}))
					return nil
				})
			}(i)
		}
		wg.Wait()
		for i, err := range errs {
			require.NoError(t, err, "goroutine %d", i)
		}

		raw, err := s.Read(ctx, "views/counter")
		require.NoError(t, err)
		assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, goroutines), string(raw))
	})
}

func TestQuery(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	collection := "users/user_1/libraries/lib_1/events"

	for i, ts := range []string{
		"2025-01-03T00:00:00.000Z",
		"2025-01-01T00:00:00.000Z",
		"2025-01-02T00:00:00.000Z",
		"2025-01-02T00:00:00.000Z", // tie on received_at
	} {
		path := fmt.Sprintf("%s/evt_%c", collection, 'a'+i)
		require.NoError(t, s.Write(ctx, path, doc(t, map[string]any{"received_at": ts})))
	}

	t.Run("orders by field then path", func(t *testing.T) {
		docs, err := s.Query(ctx, store.Query{Collection: collection, OrderField: "received_at"})
		require.NoError(t, err)
		require.Len(t, docs, 4)
		assert.Equal(t, collection+"/evt_b", docs[0].Path)
		assert.Equal(t, collection+"/evt_c", docs[1].Path)
		assert.Equal(t, collection+"/evt_d", docs[2].Path)
		assert.Equal(t, collection+"/evt_a", docs[3].Path)
	})

	t.Run("after filter is strict", func(t *testing.T) {
		docs, err := s.Query(ctx, store.Query{
			Collection: collection, OrderField: "received_at",
			After: "2025-01-02T00:00:00.000Z",
		})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, collection+"/evt_a", docs[0].Path)
	})

	t.Run("paginates with start-after", func(t *testing.T) {
		page1, err := s.Query(ctx, store.Query{Collection: collection, OrderField: "received_at", Limit: 2})
		require.NoError(t, err)
		require.Len(t, page1, 2)

		page2, err := s.Query(ctx, store.Query{
			Collection: collection, OrderField: "received_at",
			StartAfter: &page1[1], Limit: 2,
		})
		require.NoError(t, err)
		require.Len(t, page2, 2)
		assert.Equal(t, collection+"/evt_d", page2[0].Path)
		assert.Equal(t, collection+"/evt_a", page2[1].Path)
	})
}

func TestChangeFeed(t *testing.T) {
	s, connStr := setupStore(t)
	ctx := context.Background()

	received := make(chan json.RawMessage, 16)
	feed := NewChangeFeed(connStr, s, func(doc json.RawMessage) bool {
		received <- doc
		return true
	}, nil)
	require.NoError(t, feed.Start(ctx))
	t.Cleanup(func() { feed.Stop(context.Background()) })

	t.Run("event insert fires a notification with the document", func(t *testing.T) {
		eventDoc := doc(t, map[string]any{"event_id": "evt_1", "received_at": "2025-01-01T00:00:00.000Z"})
		created, err := s.CreateIfAbsent(ctx, "users/user_1/libraries/lib_1/events/evt_1", eventDoc)
		require.NoError(t, err)
		require.True(t, created)

		select {
		case got := <-received:
			assert.JSONEq(t, string(eventDoc), string(got))
		case <-time.After(5 * time.Second):
			t.Fatal("no notification received")
		}
	})

	t.Run("view writes do not notify", func(t *testing.T) {
		require.NoError(t, s.Write(ctx, "users/user_1/libraries/lib_1/views/card_schedule/card_1",
			doc(t, map[string]any{"state": 1})))
		select {
		case got := <-received:
			t.Fatalf("unexpected notification: %s", got)
		case <-time.After(500 * time.Millisecond):
		}
	})

	t.Run("batch write notifies per event", func(t *testing.T) {
		err := s.BatchWrite(ctx, []store.Document{
			{Path: "users/user_1/libraries/lib_1/events/evt_2", Data: doc(t, map[string]any{"event_id": "evt_2"})},
			{Path: "users/user_1/libraries/lib_1/events/evt_3", Data: doc(t, map[string]any{"event_id": "evt_3"})},
		})
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			select {
			case <-received:
			case <-time.After(5 * time.Second):
				t.Fatalf("missing notification %d", i)
			}
		}
	})
}
