// Package store defines the document-store capability surface the
// pipeline is written against: create-only event writes, per-entity
// view documents, transactional multi-view updates, and ordered
// collection scans. Implementations: memstore (tests, embedded
// clients) and pgstore (PostgreSQL).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxReadBatch is the ceiling of paths per ReadMany call.
const MaxReadBatch = 10

// ErrNotFound reports a missing document on single-document reads.
var ErrNotFound = errors.New("document not found")

// ErrReadBatchTooLarge reports a ReadMany call above MaxReadBatch.
var ErrReadBatchTooLarge = fmt.Errorf("read batch exceeds %d paths", MaxReadBatch)

// TransientError wraps store failures that are safe to retry:
// timeouts, exhausted transaction retries, connection loss. The event
// pipeline treats an operation that fails transiently as not delivered.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient store error in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable store failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Document is a path plus its JSON body.
type Document struct {
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
}

// Query describes an ordered range scan over one collection.
// Documents are ordered by (OrderField value, path) ascending; the
// path tie-break makes pagination stable for equal field values.
type Query struct {
	// Collection is the collection path, e.g.
	// users/u/libraries/l/events.
	Collection string
	// OrderField is the top-level document field to order by, e.g.
	// received_at. Values compare as strings.
	OrderField string
	// After, when non-empty, keeps only documents whose OrderField
	// value is strictly greater.
	After string
	// StartAfter, when non-nil, resumes a page strictly after the
	// given document in (OrderField, path) order.
	StartAfter *Document
	// Limit caps the number of returned documents. Zero means no cap.
	Limit int
}

// Txn is the read-then-write capability handed to Transaction
// callbacks. Reads see the snapshot taken at transaction start; Set
// stages a write that commits atomically with all others. A Txn is
// valid only inside its callback.
type Txn interface {
	// Get returns the document read for path, or ok=false when the
	// path was absent. Only paths declared to Transaction are
	// readable.
	Get(path string) (json.RawMessage, bool)
	// Set stages a full-document write.
	Set(path string, doc json.RawMessage)
}

// Store is the document-store adapter.
type Store interface {
	// CreateIfAbsent atomically writes doc at path unless the path
	// already exists. Returns created=false, without modifying the
	// stored document, when it does.
	CreateIfAbsent(ctx context.Context, path string, doc json.RawMessage) (created bool, err error)

	// Read returns the document at path or ErrNotFound.
	Read(ctx context.Context, path string) (json.RawMessage, error)

	// ReadMany reads up to MaxReadBatch paths, preserving order; the
	// result has a nil entry for each absent path.
	ReadMany(ctx context.Context, paths []string) ([]json.RawMessage, error)

	// Write overwrites the document at path. Used for views only;
	// events are create-only.
	Write(ctx context.Context, path string, doc json.RawMessage) error

	// Transaction reads all readPaths, runs fn, and commits the
	// staged writes atomically. Conflicting concurrent commits are
	// retried per the implementation's policy; fn may run more than
	// once and must be side-effect free.
	Transaction(ctx context.Context, readPaths []string, fn func(txn Txn) error) error

	// Query runs an ordered range scan.
	Query(ctx context.Context, q Query) ([]Document, error)

	// BatchWrite writes all documents in one atomic batch.
	BatchWrite(ctx context.Context, docs []Document) error
}

// OrderValue extracts the string value of a top-level field from a
// document body. Missing or non-string fields yield "".
func OrderValue(data json.RawMessage, field string) string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return ""
	}
	raw, ok := m[field]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
