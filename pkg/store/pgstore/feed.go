package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/reviso/reviso/pkg/store"
)

// ChangeFeed receives NOTIFY announcements of stored events on a
// dedicated pgx connection and hands the event documents to a sink
// (the projection pool). Delivery is at-least-once and best-effort:
// notifications sent while the feed is down are lost, which is why
// replay exists.
type ChangeFeed struct {
	connString string
	reader     store.Store
	sink       func(doc json.RawMessage) bool
	logger     *slog.Logger

	conn   *pgx.Conn
	connMu sync.Mutex

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewChangeFeed creates a feed. reader resolves truncated
// announcements back to full documents.
func NewChangeFeed(connString string, reader store.Store, sink func(json.RawMessage) bool, logger *slog.Logger) *ChangeFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeFeed{
		connString: connString,
		reader:     reader,
		sink:       sink,
		logger:     logger,
	}
}

// Start establishes the dedicated LISTEN connection and begins
// receiving notifications.
func (f *ChangeFeed) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, f.connString)
	if err != nil {
		return fmt.Errorf("failed to connect for LISTEN: %w", err)
	}
	sanitized := pgx.Identifier{EventsChannel}.Sanitize()
	if _, err := conn.Exec(ctx, "LISTEN "+sanitized); err != nil {
		_ = conn.Close(ctx)
		return fmt.Errorf("LISTEN %s failed: %w", sanitized, err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	f.cancelLoop = cancel
	f.loopDone = make(chan struct{})
	go func() {
		defer close(f.loopDone)
		f.receiveLoop(loopCtx)
	}()

	f.logger.Info("Change feed started", "channel", EventsChannel)
	return nil
}

// receiveLoop is the sole goroutine touching the pgx connection.
func (f *ChangeFeed) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()

		if conn == nil {
			f.reconnect(ctx)
			continue
		}

		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			f.logger.Error("NOTIFY receive error", "error", err)
			f.reconnect(ctx)
			continue
		}

		f.dispatch(ctx, []byte(notification.Payload))
	}
}

// dispatch unwraps one announcement and submits the event document.
func (f *ChangeFeed) dispatch(ctx context.Context, payload []byte) {
	var msg struct {
		Path      string          `json:"path"`
		Doc       json.RawMessage `json:"doc"`
		Truncated bool            `json:"truncated"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		f.logger.Error("Malformed change-feed payload", "error", err)
		return
	}

	doc := msg.Doc
	if msg.Truncated || len(doc) == 0 {
		var err error
		doc, err = f.reader.Read(ctx, msg.Path)
		if err != nil {
			f.logger.Error("Failed to read announced document", "path", msg.Path, "error", err)
			return
		}
	}
	if !f.sink(doc) {
		f.logger.Warn("Change-feed sink rejected delivery", "path", msg.Path)
	}
}

// reconnect re-establishes the LISTEN connection with exponential
// backoff.
func (f *ChangeFeed) reconnect(ctx context.Context) {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	if f.conn != nil {
		_ = f.conn.Close(ctx)
		f.conn = nil
	}

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, f.connString)
		if err != nil {
			f.logger.Error("LISTEN reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		sanitized := pgx.Identifier{EventsChannel}.Sanitize()
		if _, err := conn.Exec(ctx, "LISTEN "+sanitized); err != nil {
			f.logger.Error("Re-LISTEN failed", "error", err)
			_ = conn.Close(ctx)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		f.conn = conn
		f.logger.Info("Change feed reconnected")
		return
	}
}

// Stop signals the receive loop to exit, waits for it, then closes the
// LISTEN connection.
func (f *ChangeFeed) Stop(ctx context.Context) {
	if f.cancelLoop != nil {
		f.cancelLoop()
	}
	if f.loopDone != nil {
		<-f.loopDone
	}

	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close(ctx)
		f.conn = nil
	}
}
