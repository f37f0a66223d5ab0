// Package memstore is the in-memory store.Store used by tests and
// embedded clients. A single mutex serializes all operations, which
// trivially satisfies the transactional contract.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/reviso/reviso/pkg/store"
)

// Store is an in-memory document store.
type Store struct {
	mu   sync.Mutex
	docs map[string]json.RawMessage
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{docs: make(map[string]json.RawMessage)}
}

var _ store.Store = (*Store)(nil)

func (s *Store) CreateIfAbsent(ctx context.Context, path string, doc json.RawMessage) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[path]; exists {
		return false, nil
	}
	s.docs[path] = clone(doc)
	return true, nil
}

func (s *Store) Read(ctx context.Context, path string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[path]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(doc), nil
}

func (s *Store) ReadMany(ctx context.Context, paths []string) ([]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(paths) > store.MaxReadBatch {
		return nil, store.ErrReadBatchTooLarge
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := make([]json.RawMessage, len(paths))
	for i, path := range paths {
		if doc, ok := s.docs[path]; ok {
			docs[i] = clone(doc)
		}
	}
	return docs, nil
}

func (s *Store) Write(ctx context.Context, path string, doc json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[path] = clone(doc)
	return nil
}

func (s *Store) Transaction(ctx context.Context, readPaths []string, fn func(txn store.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := &memTxn{reads: make(map[string]json.RawMessage, len(readPaths))}
	for _, path := range readPaths {
		if doc, ok := s.docs[path]; ok {
			txn.reads[path] = clone(doc)
		}
	}
	if err := fn(txn); err != nil {
		return err
	}
	for path, doc := range txn.writes {
		s.docs[path] = doc
	}
	return nil
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := strings.TrimSuffix(q.Collection, "/") + "/"
	var matched []store.Document
	for path, doc := range s.docs {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		// Direct children only; nested collections are distinct.
		if strings.Contains(strings.TrimPrefix(path, prefix), "/") {
			continue
		}
		value := store.OrderValue(doc, q.OrderField)
		if q.After != "" && value <= q.After {
			continue
		}
		matched = append(matched, store.Document{Path: path, Data: clone(doc)})
	}

	sort.Slice(matched, func(i, j int) bool {
		vi := store.OrderValue(matched[i].Data, q.OrderField)
		vj := store.OrderValue(matched[j].Data, q.OrderField)
		if vi != vj {
			return vi < vj
		}
		return matched[i].Path < matched[j].Path
	})

	if q.StartAfter != nil {
		afterValue := store.OrderValue(q.StartAfter.Data, q.OrderField)
		cut := sort.Search(len(matched), func(i int) bool {
			vi := store.OrderValue(matched[i].Data, q.OrderField)
			if vi != afterValue {
				return vi > afterValue
			}
			return matched[i].Path > q.StartAfter.Path
		})
		matched = matched[cut:]
	}

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (s *Store) BatchWrite(ctx context.Context, docs []store.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range docs {
		s.docs[doc.Path] = clone(doc.Data)
	}
	return nil
}

// Len returns the number of stored documents. Test helper.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

type memTxn struct {
	reads  map[string]json.RawMessage
	writes map[string]json.RawMessage
}

func (t *memTxn) Get(path string) (json.RawMessage, bool) {
	doc, ok := t.reads[path]
	return doc, ok
}

func (t *memTxn) Set(path string, doc json.RawMessage) {
	if t.writes == nil {
		t.writes = make(map[string]json.RawMessage)
	}
	t.writes[path] = clone(doc)
}

func clone(doc json.RawMessage) json.RawMessage {
	if doc == nil {
		return nil
	}
	out := make(json.RawMessage, len(doc))
	copy(out, doc)
	return out
}
