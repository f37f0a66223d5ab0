package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviso/reviso/pkg/store"
)

func doc(t *testing.T, fields map[string]any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	return raw
}

func TestCreateIfAbsent(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateIfAbsent(ctx, "users/user_1/libraries/lib_1/events/evt_1", doc(t, map[string]any{"v": 1}))
	require.NoError(t, err)
	assert.True(t, created)

	// Second create is a no-op that must not modify the document.
	created, err = s.CreateIfAbsent(ctx, "users/user_1/libraries/lib_1/events/evt_1", doc(t, map[string]any{"v": 2}))
	require.NoError(t, err)
	assert.False(t, created)

	stored, err := s.Read(ctx, "users/user_1/libraries/lib_1/events/evt_1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(stored))
}

func TestReadNotFound(t *testing.T) {
	s := New()
	_, err := s.Read(context.Background(), "users/user_1/libraries/lib_1/events/evt_x")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReadMany(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, "a/b/c", doc(t, map[string]any{"n": 1})))
	require.NoError(t, s.Write(ctx, "a/b/e", doc(t, map[string]any{"n": 2})))

	docs, err := s.ReadMany(ctx, []string{"a/b/c", "a/b/missing", "a/b/e"})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.JSONEq(t, `{"n":1}`, string(docs[0]))
	assert.Nil(t, docs[1], "absent path yields nil, order preserved")
	assert.JSONEq(t, `{"n":2}`, string(docs[2]))

	t.Run("rejects oversized batch", func(t *testing.T) {
		paths := make([]string, store.MaxReadBatch+1)
		for i := range paths {
			paths[i] = fmt.Sprintf("p/%d", i)
		}
		_, err := s.ReadMany(ctx, paths)
		assert.ErrorIs(t, err, store.ErrReadBatchTooLarge)
	})
}

func TestTransaction(t *testing.T) {
	s := New()
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
}

func TestQuery(t *testing.T) {
	s := New()
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
	// A document in a nested collection must not match.
	require.NoError(t, s.Write(ctx, collection+"/evt_x/sub/doc", doc(t, map[string]any{"received_at": "2025-01-01T00:00:00.000Z"})))

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

func TestBatchWrite(t *testing.T) {
	s := New()
	ctx := context.Background()
	err := s.BatchWrite(ctx, []store.Document{
		{Path: "x/1", Data: doc(t, map[string]any{"n": 1})},
		{Path: "x/2", Data: doc(t, map[string]any{"n": 2})},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
}
