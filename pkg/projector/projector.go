// Package projector folds stored events into materialized view
// documents. Delivery from the change feed is at-least-once and
// unordered; exactly-once effects come from the per-view
// (received_at, event_id) cursor checked inside each transaction.
package projector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reviso/reviso/pkg/event"
	"github.com/reviso/reviso/pkg/reducer"
	"github.com/reviso/reviso/pkg/store"
	"github.com/reviso/reviso/pkg/views"
)

// ViewResult reports the effect of one event on one view document.
type ViewResult struct {
	View       string `json:"view"`
	Path       string `json:"path"`
	Updated    bool   `json:"updated"`
	Idempotent bool   `json:"idempotent"`
	// Error is set for terminal per-view failures that must not be
	// retried, such as a schedule update without prior state.
	Error string `json:"error,omitempty"`
}

// Projector applies events to views through a store.
type Projector struct {
	store  store.Store
	now    func() time.Time
	logger *slog.Logger
}

// New creates a projector over the given store.
func New(s store.Store, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{store: s, now: time.Now, logger: logger}
}

// NewWithClock creates a projector with a fixed clock. Test constructor.
func NewWithClock(s store.Store, logger *slog.Logger, now func() time.Time) *Projector {
	p := New(s, logger)
	p.now = now
	return p
}

// ProjectRaw decodes a stored event document and projects it.
func (p *Projector) ProjectRaw(ctx context.Context, doc json.RawMessage) ([]ViewResult, error) {
	var env event.Envelope
	if err := json.Unmarshal(doc, &env); err != nil {
		return nil, fmt.Errorf("decode stored event: %w", err)
	}
	return p.Project(ctx, &env)
}

// Project routes one stored event to its reducers and writes the
// resulting views transactionally. Unrouted or record-only types are a
// no-op. A returned error is retryable when store.IsTransient reports
// so; everything else is terminal for this event.
func (p *Projector) Project(ctx context.Context, env *event.Envelope) ([]ViewResult, error) {
	handler, routed := routes[env.Type]
	if !routed {
		p.logger.Warn("Skipping event with unrouted type",
			"event_id", env.EventID, "type", env.Type)
		return nil, nil
	}
	if handler == nil {
		// Recorded in the log, no view to update.
		return nil, nil
	}

	if !event.KindAllowed(env.Type, env.Entity.Kind) {
		// Ingestion rejects mismatched kinds, so a stored one means an
		// upstream bug; terminal, never retried.
		return nil, fmt.Errorf("entity kind %q not allowed for event type %q in %s",
			env.Entity.Kind, env.Type, env.EventID)
	}
	payload, err := event.DecodePayload(env)
	if err != nil {
		return nil, fmt.Errorf("decode payload of %s: %w", env.EventID, err)
	}

	results, err := handler(ctx, p, env, payload, p.now())
	if err != nil {
		return results, err
	}
	for _, r := range results {
		if r.Error != "" {
			p.logger.Warn("View update skipped",
				"event_id", env.EventID, "view", r.View, "error", r.Error)
		}
	}
	return results, nil
}

// viewPath returns the view document path for the event's entity.
func viewPath(env *event.Envelope, collection string) string {
	return views.Path(env.UserID, env.LibraryID, collection, env.Entity.ID)
}

// loadView decodes the prior view document held by the transaction.
func loadView[T any](txn store.Txn, path string) (*T, bool, error) {
	raw, ok := txn.Get(path)
	if !ok {
		return nil, false, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false, fmt.Errorf("decode view %s: %w", path, err)
	}
	return &v, true, nil
}

func storeView(txn store.Txn, path string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal view %s: %w", path, err)
	}
	txn.Set(path, raw)
	return nil
}

// applyView runs the cursor check and, when the event is new for this
// view, reduces and stages the write. reduce may return
// reducer.ErrMissingPriorState, which is terminal for this view.
func applyView[T any](
	txn store.Txn,
	env *event.Envelope,
	collection, path string,
	cursorOf func(*T) views.LastApplied,
	reduce func(prev *T) (any, error),
) (ViewResult, error) {
	res := ViewResult{View: collection, Path: path}

	prev, hasPrior, err := loadView[T](txn, path)
	if err != nil {
		return res, err
	}
	var cursor views.LastApplied
	if hasPrior {
		cursor = cursorOf(prev)
	}
	if !views.ShouldApply(cursor, hasPrior, env.ReceivedAt, env.EventID) {
		res.Idempotent = true
		return res, nil
	}

	next, err := reduce(prev)
	if err != nil {
		if errors.Is(err, reducer.ErrMissingPriorState) {
			res.Error = err.Error()
			return res, nil
		}
		return res, err
	}
	if err := storeView(txn, path, next); err != nil {
		return res, err
	}
	res.Updated = true
	return res, nil
}
