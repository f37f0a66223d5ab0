// Package ingest validates and persists incoming events with
// create-only idempotent semantics. Ingestion writes events only; it
// never touches views. Projection is driven off the store's change
// feed (or an explicit replay), so the projector must tolerate events
// the store has already persisted.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reviso/reviso/pkg/event"
	"github.com/reviso/reviso/pkg/store"
)

// Result reports the outcome of ingesting one event.
type Result struct {
	Success    bool   `json:"success"`
	EventID    string `json:"event_id,omitempty"`
	Path       string `json:"path,omitempty"`
	Idempotent bool   `json:"idempotent"`
	Error      string `json:"error,omitempty"`
}

// Service persists validated events.
type Service struct {
	store store.Store
	now   func() time.Time
}

// NewService creates an ingestion service over the given store.
func NewService(s store.Store) *Service {
	return &Service{store: s, now: time.Now}
}

// NewServiceWithClock creates an ingestion service with a fixed clock.
// Test constructor.
func NewServiceWithClock(s store.Store, now func() time.Time) *Service {
	return &Service{store: s, now: now}
}

// Ingest validates raw and writes it to its canonical path. A valid
// event that already exists is reported as success with
// idempotent=true and is not written again. Events with unknown types
// are accepted when the envelope is valid: the projector downgrades
// them to a no-op.
func (s *Service) Ingest(ctx context.Context, raw []byte) Result {
	env, err := s.validate(raw)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return s.persist(ctx, env)
}

// IngestBatch validates every raw event, existence-checks the valid
// ones, and writes the new ones in a single batch. Per-event results
// preserve input order; already-persisted events are reported
// idempotent and excluded from the write.
func (s *Service) IngestBatch(ctx context.Context, raws [][]byte) []Result {
	results := make([]Result, len(raws))
	envelopes := make([]*event.Envelope, len(raws))
	paths := make([]string, 0, len(raws))
	pathIndex := make(map[string]int, len(raws))

	for i, raw := range raws {
		env, err := s.validate(raw)
		if err != nil {
			results[i] = Result{Success: false, Error: err.Error()}
			continue
		}
		path, _ := env.Path()
		if _, dup := pathIndex[path]; dup {
			// Duplicate within the batch: the first occurrence wins.
			results[i] = Result{Success: true, EventID: env.EventID, Path: path, Idempotent: true}
			continue
		}
		envelopes[i] = env
		pathIndex[path] = i
		paths = append(paths, path)
	}

	existing, err := s.readManyChunked(ctx, paths)
	if err != nil {
		for _, i := range pathIndex {
			results[i] = Result{Success: false, EventID: envelopes[i].EventID, Error: err.Error()}
		}
		return results
	}

	receivedAt := event.FormatTime(s.now())
	writes := make([]store.Document, 0, len(paths))
	written := make([]int, 0, len(paths))
	for j, path := range paths {
		i := pathIndex[path]
		env := envelopes[i]
		if existing[j] != nil {
			results[i] = Result{Success: true, EventID: env.EventID, Path: path, Idempotent: true}
			continue
		}
		doc, marshalErr := marshalStamped(env, receivedAt)
		if marshalErr != nil {
			results[i] = Result{Success: false, EventID: env.EventID, Error: marshalErr.Error()}
			continue
		}
		writes = append(writes, store.Document{Path: path, Data: doc})
		written = append(written, i)
	}

	if len(writes) > 0 {
		if err := s.store.BatchWrite(ctx, writes); err != nil {
			for _, i := range written {
				results[i] = Result{Success: false, EventID: envelopes[i].EventID, Error: err.Error()}
			}
			return results
		}
	}
	for k, i := range written {
		results[i] = Result{Success: true, EventID: envelopes[i].EventID, Path: writes[k].Path}
	}
	return results
}

// Exists reports whether the event document is already persisted.
func (s *Service) Exists(ctx context.Context, userID, libraryID, eventID string) (bool, error) {
	env := event.Envelope{EventID: eventID, UserID: userID, LibraryID: libraryID}
	path, err := env.Path()
	if err != nil {
		return false, err
	}
	_, err = s.store.Read(ctx, path)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("existence check for %s: %w", path, err)
	}
	return true, nil
}

// validate runs envelope validation always, and payload validation
// when the type is known. Unknown types pass with a warning.
func (s *Service) validate(raw []byte) (*event.Envelope, error) {
	env, err := event.ValidateEnvelope(raw)
	if err != nil {
		return nil, err
	}
	if !event.KnownType(env.Type) {
		slog.Warn("Ingesting event with unknown type",
			"event_id", env.EventID, "type", env.Type)
		return env, nil
	}
	if _, err := event.DecodePayload(env); err != nil {
		return nil, err
	}
	if !event.KindAllowed(env.Type, env.Entity.Kind) {
		return nil, fmt.Errorf("entity kind %q not allowed for event type %q", env.Entity.Kind, env.Type)
	}
	return env, nil
}

func (s *Service) persist(ctx context.Context, env *event.Envelope) Result {
	path, err := env.Path()
	if err != nil {
		return Result{Success: false, EventID: env.EventID, Error: err.Error()}
	}

	doc, err := marshalStamped(env, event.FormatTime(s.now()))
	if err != nil {
		return Result{Success: false, EventID: env.EventID, Error: err.Error()}
	}

	created, err := s.store.CreateIfAbsent(ctx, path, doc)
	if err != nil {
		return Result{Success: false, EventID: env.EventID, Path: path, Error: err.Error()}
	}
	if !created {
		return Result{Success: true, EventID: env.EventID, Path: path, Idempotent: true}
	}
	return Result{Success: true, EventID: env.EventID, Path: path}
}

// readManyChunked existence-checks paths in MaxReadBatch windows.
func (s *Service) readManyChunked(ctx context.Context, paths []string) ([]json.RawMessage, error) {
	docs := make([]json.RawMessage, 0, len(paths))
	for start := 0; start < len(paths); start += store.MaxReadBatch {
		end := min(start+store.MaxReadBatch, len(paths))
		chunk, err := s.store.ReadMany(ctx, paths[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch existence check: %w", err)
		}
		docs = append(docs, chunk...)
	}
	return docs, nil
}

// marshalStamped serializes the envelope, stamping received_at with
// the server-acknowledged time. A client-supplied value is discarded:
// received_at orders the inbound sync cursor, so an accepted forgery
// could advance the cursor past events that are still being ingested.
func marshalStamped(env *event.Envelope, receivedAt string) (json.RawMessage, error) {
	stamped := *env
	stamped.ReceivedAt = receivedAt
	doc, err := json.Marshal(&stamped)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", env.EventID, err)
	}
	return doc, nil
}
