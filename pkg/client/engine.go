package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reviso/reviso/pkg/config"
	"github.com/reviso/reviso/pkg/event"
	"github.com/reviso/reviso/pkg/store"
)

// ErrOffline is returned by sync operations while the device is
// offline. No store call is made in that state.
var ErrOffline = errors.New("Device is offline")

// ErrDestroyed is returned by operations on a destroyed engine.
var ErrDestroyed = errors.New("sync engine destroyed")

// Connectivity abstracts the host platform's network state.
type Connectivity interface {
	Online() bool
	OnOnline(func())
	OnOffline(func())
}

// AlwaysOnline is the Connectivity for servers and tests.
type AlwaysOnline struct{}

func (AlwaysOnline) Online() bool     { return true }
func (AlwaysOnline) OnOnline(func())  {}
func (AlwaysOnline) OnOffline(func()) {}

// Status is the engine's observable state.
type Status struct {
	PendingCount int             `json:"pending_count"`
	LastOutbound *OutboundResult `json:"last_outbound,omitempty"`
	LastInbound  *InboundResult  `json:"last_inbound,omitempty"`
	Cursor       *SyncCursor     `json:"cursor,omitempty"`
	Online       bool            `json:"online"`
	AutoSync     bool            `json:"auto_sync"`
}

// SyncResult is the outcome of one sync_all run.
type SyncResult struct {
	Outbound OutboundResult `json:"outbound"`
	Inbound  InboundResult  `json:"inbound"`
}

// EngineParams wires an Engine. Store is the remote event store read
// capability used by inbound sync; Ingestor is the upload capability.
type EngineParams struct {
	UserID    string
	LibraryID string
	DeviceID  string

	Queue    Queue
	Cursors  CursorStore
	Ingestor Ingestor
	Store    store.Store

	Config       config.SyncConfig
	Connectivity Connectivity
	// InboundHandler receives each newly consumed event document.
	InboundHandler func(store.Document)
	Logger         *slog.Logger
}

// Engine owns outbound and inbound sync for one (user, library) pair
// on one device. User actions queue-and-try: they enqueue durably and
// trigger a non-blocking upload when online.
type Engine struct {
	builder      *EventBuilder
	queue        Queue
	cursors      CursorStore
	outbound     *OutboundSync
	inbound      *InboundSync
	connectivity Connectivity
	cfg          config.SyncConfig
	logger       *slog.Logger
	libraryID    string

	mu           sync.Mutex
	lastOutbound *OutboundResult
	lastInbound  *InboundResult

	autoMu   sync.Mutex
	autoStop chan struct{}

	destroyed atomic.Bool
	// bgMu serializes bg.Add against Destroy's bg.Wait: the destroyed
	// check and the Add must be one step.
	bgMu sync.Mutex
	bg   sync.WaitGroup
}

// NewEngine builds the engine, registers connectivity listeners, and
// starts the auto-sync timer when the configuration enables it.
func NewEngine(p EngineParams) *Engine {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	conn := p.Connectivity
	if conn == nil {
		conn = AlwaysOnline{}
	}

	e := &Engine{
		builder:      NewEventBuilder(p.UserID, p.LibraryID, p.DeviceID),
		queue:        p.Queue,
		cursors:      p.Cursors,
		outbound:     NewOutboundSync(p.Queue, p.Ingestor, p.Config.Outbound, logger),
		inbound:      NewInboundSync(p.Store, p.Cursors, p.UserID, p.LibraryID, p.Config.Inbound, p.InboundHandler, logger),
		connectivity: conn,
		cfg:          p.Config,
		logger:       logger,
		libraryID:    p.LibraryID,
	}

	conn.OnOnline(func() {
		e.logger.Info("Connectivity restored, triggering outbound sync")
		e.triggerOutbound()
	})
	conn.OnOffline(func() {
		e.logger.Info("Connectivity lost, suppressing sync")
	})

	if p.Config.Engine.EnableAutoSync {
		e.StartAutoSync()
	}
	return e
}

// QueueEvent durably enqueues a validated event and, when online,
// triggers a non-blocking outbound sync. A failed trigger is tolerated:
// the event stays queued.
func (e *Engine) QueueEvent(ctx context.Context, env *event.Envelope) error {
	if e.destroyed.Load() {
		return ErrDestroyed
	}
	if err := e.queue.Enqueue(ctx, env); err != nil {
		return err
	}
	if e.connectivity.Online() {
		e.triggerOutbound()
	}
	return nil
}

// triggerOutbound runs an outbound sync in the background.
func (e *Engine) triggerOutbound() {
	if !e.trackBackground() {
		return
	}
	go func() {
		defer e.bg.Done()
		if _, err := e.SyncOutbound(context.Background()); err != nil && !errors.Is(err, ErrOffline) {
			e.logger.Warn("Triggered outbound sync failed", "error", err)
		}
	}()
}

// SyncOutbound drains the queue once.
func (e *Engine) SyncOutbound(ctx context.Context) (OutboundResult, error) {
	if e.destroyed.Load() {
		return OutboundResult{}, ErrDestroyed
	}
	if !e.connectivity.Online() {
		return OutboundResult{}, ErrOffline
	}
	result, err := e.outbound.Sync(ctx)
	if err != nil {
		return result, err
	}
	e.mu.Lock()
	e.lastOutbound = &result
	e.mu.Unlock()
	return result, nil
}

// SyncInbound pulls new events once.
func (e *Engine) SyncInbound(ctx context.Context) (InboundResult, error) {
	if e.destroyed.Load() {
		return InboundResult{}, ErrDestroyed
	}
	if !e.connectivity.Online() {
		return InboundResult{}, ErrOffline
	}
	result, err := e.inbound.Sync(ctx)
	if err != nil {
		return result, err
	}
	e.mu.Lock()
	e.lastInbound = &result
	e.mu.Unlock()
	return result, nil
}

// SyncAll runs outbound and inbound concurrently and waits for both.
func (e *Engine) SyncAll(ctx context.Context) (SyncResult, error) {
	if e.destroyed.Load() {
		return SyncResult{}, ErrDestroyed
	}
	if !e.connectivity.Online() {
		return SyncResult{}, ErrOffline
	}

	var (
		result      SyncResult
		outErr, inErr error
		wg          sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		result.Outbound, outErr = e.SyncOutbound(ctx)
	}()
	go func() {
		defer wg.Done()
		result.Inbound, inErr = e.SyncInbound(ctx)
	}()
	wg.Wait()
	return result, errors.Join(outErr, inErr)
}

// ForceFullInboundSync clears the cursor so the next inbound sync
// re-reads the library's full event log, then runs it.
func (e *Engine) ForceFullInboundSync(ctx context.Context) (InboundResult, error) {
	if e.destroyed.Load() {
		return InboundResult{}, ErrDestroyed
	}
	if err := e.cursors.Clear(ctx, e.libraryID); err != nil {
		return InboundResult{}, err
	}
	return e.SyncInbound(ctx)
}

// Status reports the engine's observable state.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	pending, err := e.queue.PendingCount(ctx)
	if err != nil {
		return Status{}, err
	}
	cursor, err := e.cursors.Get(ctx, e.libraryID)
	if err != nil {
		return Status{}, err
	}

	e.mu.Lock()
	lastOut, lastIn := e.lastOutbound, e.lastInbound
	e.mu.Unlock()

	e.autoMu.Lock()
	auto := e.autoStop != nil
	e.autoMu.Unlock()

	return Status{
		PendingCount: pending,
		LastOutbound: lastOut,
		LastInbound:  lastIn,
		Cursor:       cursor,
		Online:       e.connectivity.Online(),
		AutoSync:     auto,
	}, nil
}

// StartAutoSync starts the periodic sync timer. Idempotent.
func (e *Engine) StartAutoSync() {
	e.autoMu.Lock()
	defer e.autoMu.Unlock()
	if e.autoStop != nil {
		return
	}
	if !e.trackBackground() {
		return
	}
	stop := make(chan struct{})
	e.autoStop = stop

	go func() {
		defer e.bg.Done()
		ticker := time.NewTicker(e.cfg.Engine.AutoSyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !e.connectivity.Online() {
					continue
				}
				if _, err := e.SyncAll(context.Background()); err != nil && !errors.Is(err, ErrOffline) {
					e.logger.Warn("Periodic sync failed", "error", err)
				}
			}
		}
	}()
}

// StopAutoSync stops the periodic sync timer. Idempotent.
func (e *Engine) StopAutoSync() {
	e.autoMu.Lock()
	defer e.autoMu.Unlock()
	if e.autoStop == nil {
		return
	}
	close(e.autoStop)
	e.autoStop = nil
}

// trackBackground registers one unit of background work. It returns
// false once the engine is destroyed; the check and the Add share a
// lock with Destroy so the wait can never race a late Add.
func (e *Engine) trackBackground() bool {
	e.bgMu.Lock()
	defer e.bgMu.Unlock()
	if e.destroyed.Load() {
		return false
	}
	e.bg.Add(1)
	return true
}

// Destroy stops the timer, waits for background work, and rejects all
// further operations. Idempotent.
func (e *Engine) Destroy() {
	e.bgMu.Lock()
	already := e.destroyed.Swap(true)
	e.bgMu.Unlock()
	if already {
		return
	}
	e.StopAutoSync()
	e.bg.Wait()
}

// --- User action surface ---

// ReviewCard queues a card review event.
func (e *Engine) ReviewCard(ctx context.Context, cardID, grade string, secondsSpent float64) (*event.Envelope, error) {
	return e.buildAndQueue(ctx, func() (*event.Envelope, error) {
		return e.builder.CardReviewed(cardID, grade, secondsSpent)
	})
}

// AttemptQuestion queues a question attempt event.
func (e *Engine) AttemptQuestion(ctx context.Context, questionID, selectedOptionID string, correct bool, secondsSpent float64) (*event.Envelope, error) {
	return e.buildAndQueue(ctx, func() (*event.Envelope, error) {
		return e.builder.QuestionAttempted(questionID, selectedOptionID, correct, secondsSpent)
	})
}

// StartSession queues a session start event.
func (e *Engine) StartSession(ctx context.Context, sessionID string, plannedLoad, queueSize int, cramMode *bool) (*event.Envelope, error) {
	return e.buildAndQueue(ctx, func() (*event.Envelope, error) {
		return e.builder.SessionStarted(sessionID, plannedLoad, queueSize, cramMode)
	})
}

// EndSession queues a session end event.
func (e *Engine) EndSession(ctx context.Context, sessionID string, payload event.SessionEndedPayload) (*event.Envelope, error) {
	return e.buildAndQueue(ctx, func() (*event.Envelope, error) {
		return e.builder.SessionEnded(sessionID, payload)
	})
}

// AnnotateCard queues a card annotation event.
func (e *Engine) AnnotateCard(ctx context.Context, cardID, action string, tags []string, pinned *bool) (*event.Envelope, error) {
	return e.buildAndQueue(ctx, func() (*event.Envelope, error) {
		return e.builder.CardAnnotationUpdated(cardID, action, tags, pinned)
	})
}

func (e *Engine) buildAndQueue(ctx context.Context, build func() (*event.Envelope, error)) (*event.Envelope, error) {
	env, err := build()
	if err != nil {
		return nil, err
	}
	if err := e.QueueEvent(ctx, env); err != nil {
		return nil, err
	}
	return env, nil
}
