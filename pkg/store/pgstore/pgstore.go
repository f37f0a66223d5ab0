// Package pgstore implements store.Store on PostgreSQL. Documents live
// in a single table keyed by path; event-collection inserts fire a
// transactional NOTIFY so projection workers pick them up without
// polling (see feed.go).
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/reviso/reviso/pkg/store"
)

// EventsChannel is the NOTIFY channel carrying stored event documents.
const EventsChannel = "document_events"

// notifyLimit keeps NOTIFY payloads under PostgreSQL's 8000-byte cap.
// Larger documents are announced by path only and re-read by the feed.
const notifyLimit = 7900

// txnMaxAttempts bounds optimistic retries of serialization conflicts.
const txnMaxAttempts = 4

// Store is the PostgreSQL document store.
type Store struct {
	db *sql.DB
}

// New creates a store over an open connection pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

var _ store.Store = (*Store)(nil)

// collectionOf is the document's path minus its final segment.
func collectionOf(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	return ""
}

// isEventsCollection reports whether documents in the collection are
// immutable events whose inserts must be announced on EventsChannel.
func isEventsCollection(collection string) bool {
	return strings.HasSuffix(collection, "/events")
}

func (s *Store) CreateIfAbsent(ctx context.Context, path string, doc json.RawMessage) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, transient("create", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO documents (path, collection, doc) VALUES ($1, $2, $3)
		 ON CONFLICT (path) DO NOTHING`,
		path, collectionOf(path), []byte(doc),
	)
	if err != nil {
		return false, transient("create", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, transient("create", err)
	}
	created := rows > 0

	if created && isEventsCollection(collectionOf(path)) {
		if err := notifyTx(ctx, tx, path, doc); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, transient("create", err)
	}
	return created, nil
}

func (s *Store) Read(ctx context.Context, path string) (json.RawMessage, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM documents WHERE path = $1`, path,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, transient("read", err)
	}
	return doc, nil
}

func (s *Store) ReadMany(ctx context.Context, paths []string) ([]json.RawMessage, error) {
	if len(paths) > store.MaxReadBatch {
		return nil, store.ErrReadBatchTooLarge
	}
	if len(paths) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, doc FROM documents WHERE path = ANY($1)`, paths,
	)
	if err != nil {
		return nil, transient("read_many", err)
	}
	defer rows.Close()

	byPath := make(map[string]json.RawMessage, len(paths))
	for rows.Next() {
		var path string
		var doc []byte
		if err := rows.Scan(&path, &doc); err != nil {
			return nil, transient("read_many", err)
		}
		byPath[path] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, transient("read_many", err)
	}

	docs := make([]json.RawMessage, len(paths))
	for i, path := range paths {
		docs[i] = byPath[path]
	}
	return docs, nil
}

func (s *Store) Write(ctx context.Context, path string, doc json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, upsertSQL, path, collectionOf(path), []byte(doc))
	if err != nil {
		return transient("write", err)
	}
	return nil
}

const upsertSQL = `INSERT INTO documents (path, collection, doc) VALUES ($1, $2, $3)
	ON CONFLICT (path) DO UPDATE SET doc = EXCLUDED.doc, written_at = now()`

// Transaction locks the read set with SELECT ... FOR UPDATE in sorted
// path order, runs fn, and commits the staged writes. Serialization
// conflicts are retried; exhausted retries surface as transient.
func (s *Store) Transaction(ctx context.Context, readPaths []string, fn func(txn store.Txn) error) error {
	locked := make([]string, len(readPaths))
	copy(locked, readPaths)
	sort.Strings(locked)

	var lastErr error
	for attempt := 0; attempt < txnMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return transient("transaction", ctx.Err())
			case <-time.After(time.Duration(attempt) * 25 * time.Millisecond):
			}
		}
		err := s.runTransaction(ctx, locked, fn)
		if err == nil {
			return nil
		}
		if !retryableTxnError(err) {
			return err
		}
		lastErr = err
	}
	return transient("transaction", lastErr)
}

func (s *Store) runTransaction(ctx context.Context, locked []string, fn func(txn store.Txn) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return transient("transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	txn := &pgTxn{reads: make(map[string]json.RawMessage, len(locked))}
	for _, path := range locked {
		var doc []byte
		err := tx.QueryRowContext(ctx,
			`SELECT doc FROM documents WHERE path = $1 FOR UPDATE`, path,
		).Scan(&doc)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return fmt.Errorf("transaction read %s: %w", path, err)
		}
		txn.reads[path] = doc
	}

	if err := fn(txn); err != nil {
		return err
	}

	for path, doc := range txn.writes {
		if _, err := tx.ExecContext(ctx, upsertSQL, path, collectionOf(path), []byte(doc)); err != nil {
			return fmt.Errorf("transaction write %s: %w", path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("transaction commit: %w", err)
	}
	return nil
}

// retryableTxnError matches serialization failures, deadlocks and
// unique violations from concurrent first-writes of the same view.
func retryableTxnError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "23505":
		return true
	}
	return false
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	// The order field is inlined (not a bind parameter) so the planner
	// can match the expression index on (collection, doc->>'received_at',
	// path). Field names come from internal callers but are still
	// restricted to identifier characters.
	if !validOrderField(q.OrderField) {
		return nil, fmt.Errorf("invalid order field %q", q.OrderField)
	}
	orderExpr := fmt.Sprintf("doc->>'%s'", q.OrderField)

	sb := strings.Builder{}
	sb.WriteString(`SELECT path, doc FROM documents WHERE collection = $1`)
	args := []any{q.Collection}

	if q.After != "" {
		args = append(args, q.After)
		fmt.Fprintf(&sb, ` AND %s > $%d`, orderExpr, len(args))
	}
	if q.StartAfter != nil {
		afterValue := store.OrderValue(q.StartAfter.Data, q.OrderField)
		args = append(args, afterValue, q.StartAfter.Path)
		fmt.Fprintf(&sb, ` AND (%s, path) > ($%d, $%d)`, orderExpr, len(args)-1, len(args))
	}

	fmt.Fprintf(&sb, ` ORDER BY %s, path`, orderExpr)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, transient("query", err)
	}
	defer rows.Close()

	var docs []store.Document
	for rows.Next() {
		var d store.Document
		var doc []byte
		if err := rows.Scan(&d.Path, &doc); err != nil {
			return nil, transient("query", err)
		}
		d.Data = doc
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, transient("query", err)
	}
	return docs, nil
}

func (s *Store) BatchWrite(ctx context.Context, docs []store.Document) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return transient("batch_write", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range docs {
		collection := collectionOf(d.Path)
		if _, err := tx.ExecContext(ctx, upsertSQL, d.Path, collection, []byte(d.Data)); err != nil {
			return transient("batch_write", err)
		}
		if isEventsCollection(collection) {
			if err := notifyTx(ctx, tx, d.Path, d.Data); err != nil {
				return err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return transient("batch_write", err)
	}
	return nil
}

// notifyTx queues a pg_notify inside tx; the notification fires
// atomically with COMMIT. Documents past the NOTIFY size cap are
// announced by path only and re-read by the change feed.
func notifyTx(ctx context.Context, tx *sql.Tx, path string, doc json.RawMessage) error {
	payload, err := notifyPayload(path, doc)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, EventsChannel, payload); err != nil {
		return transient("notify", err)
	}
	return nil
}

func notifyPayload(path string, doc json.RawMessage) (string, error) {
	full, err := json.Marshal(map[string]any{"path": path, "doc": doc})
	if err != nil {
		return "", fmt.Errorf("marshal notify payload for %s: %w", path, err)
	}
	if len(full) <= notifyLimit {
		return string(full), nil
	}
	truncated, err := json.Marshal(map[string]any{"path": path, "truncated": true})
	if err != nil {
		return "", fmt.Errorf("marshal truncated notify payload for %s: %w", path, err)
	}
	return string(truncated), nil
}

// validOrderField permits lower-case identifier characters only.
func validOrderField(field string) bool {
	if field == "" {
		return false
	}
	for _, r := range field {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}

func transient(op string, err error) error {
	return &store.TransientError{Op: op, Err: err}
}

type pgTxn struct {
	reads  map[string]json.RawMessage
	writes map[string]json.RawMessage
}

func (t *pgTxn) Get(path string) (json.RawMessage, bool) {
	doc, ok := t.reads[path]
	return doc, ok
}

func (t *pgTxn) Set(path string, doc json.RawMessage) {
	if t.writes == nil {
		t.writes = make(map[string]json.RawMessage)
	}
	t.writes[path] = doc
}
