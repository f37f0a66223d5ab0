package projector

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/reviso/reviso/pkg/config"
	"github.com/reviso/reviso/pkg/store"
)

// Pool runs projection workers over a buffered feed of stored event
// documents. Submission is decoupled from projection so a slow store
// never blocks the change-feed listener.
type Pool struct {
	projector *Projector
	cfg       *config.ProjectorConfig
	logger    *slog.Logger

	feed     chan json.RawMessage
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPool creates a projection worker pool. Start must be called before
// Submit.
func NewPool(p *Projector, cfg *config.ProjectorConfig, logger *slog.Logger) *Pool {
	if cfg == nil {
		cfg = config.DefaultProjectorConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		projector: p,
		cfg:       cfg,
		logger:    logger,
		feed:      make(chan json.RawMessage, cfg.FeedBuffer),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the workers.
func (pl *Pool) Start() {
	for i := 0; i < pl.cfg.WorkerCount; i++ {
		pl.wg.Add(1)
		go pl.worker(i)
	}
	pl.logger.Info("Projection workers started", "count", pl.cfg.WorkerCount)
}

// Submit hands a stored event document to the pool. It returns false
// when the pool is stopped or the feed is full; callers relying on the
// change feed can ignore a false return because a later replay or
// redelivery covers the event.
func (pl *Pool) Submit(doc json.RawMessage) bool {
	select {
	case <-pl.stopCh:
		return false
	default:
	}
	select {
	case pl.feed <- doc:
		return true
	case <-pl.stopCh:
		return false
	default:
		pl.logger.Warn("Projection feed full, dropping delivery")
		return false
	}
}

// Stop signals the workers and waits for in-flight projections to
// finish. Safe to call more than once.
func (pl *Pool) Stop() {
	pl.stopOnce.Do(func() {
		close(pl.stopCh)
	})
	pl.wg.Wait()
}

func (pl *Pool) worker(id int) {
	defer pl.wg.Done()
	logger := pl.logger.With("worker_id", id)
	for {
		select {
		case <-pl.stopCh:
			return
		case doc := <-pl.feed:
			pl.process(logger, doc)
		}
	}
}

// process projects one event, retrying transient store failures with
// exponential backoff. Terminal failures are logged and dropped: the
// event stays in the log and a replay can pick it up.
func (pl *Pool) process(logger *slog.Logger, doc json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), pl.cfg.StoreTimeout)
	defer cancel()

	op := func() error {
		_, err := pl.projector.ProjectRaw(ctx, doc)
		if err != nil && !store.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(100*time.Millisecond),
	), 3), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		logger.Error("Projection failed", "error", err)
	}
}
