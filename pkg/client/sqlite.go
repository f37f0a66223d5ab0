package client

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // Register sqlite3 driver

	"github.com/reviso/reviso/pkg/event"
)

// sqliteSchema holds the queue and the sync cursors in one database
// file, so a device keeps its outbound backlog and inbound position
// across restarts.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS queue (
	event_id        TEXT PRIMARY KEY,
	event           TEXT NOT NULL,
	queued_at       TEXT NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	last_attempt_at TEXT,
	acknowledged    INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS cursors (
	library_id       TEXT PRIMARY KEY,
	last_received_at TEXT NOT NULL,
	last_event_id    TEXT NOT NULL,
	synced_at        TEXT NOT NULL
);
`

// SQLiteStore is the durable device store: it implements both Queue
// and CursorStore over a single SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ Queue       = (*SQLiteStore)(nil)
	_ CursorStore = (*SQLiteStore)(nil)
)

// OpenSQLiteStore opens (creating if needed) the device database at
// path. Use ":memory:" for an ephemeral store.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	// SQLite allows one writer; the queue and cursor are single-writer
	// by design, so serialize all access through one connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init device store schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Queue ---

func (s *SQLiteStore) Enqueue(ctx context.Context, env *event.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO queue (event_id, event, queued_at) VALUES (?, ?, ?)`,
		env.EventID, string(raw), event.FormatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", env.EventID, err)
	}
	return nil
}

func (s *SQLiteStore) GetPending(ctx context.Context) ([]QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, event, queued_at, attempts, COALESCE(last_attempt_at, ''), acknowledged
		 FROM queue WHERE acknowledged = 0 ORDER BY queued_at, event_id`)
	if err != nil {
		return nil, fmt.Errorf("get pending: %w", err)
	}
	defer rows.Close()

	var pending []QueueEntry
	for rows.Next() {
		var e QueueEntry
		var raw string
		var acked int
		if err := rows.Scan(&e.EventID, &raw, &e.QueuedAt, &e.Attempts, &e.LastAttemptAt, &acked); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		e.Event = json.RawMessage(raw)
		e.Acknowledged = acked != 0
		pending = append(pending, e)
	}
	return pending, rows.Err()
}

func (s *SQLiteStore) Acknowledge(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE queue SET acknowledged = 1 WHERE event_id = ?`, eventID)
	return err
}

func (s *SQLiteStore) Remove(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queue WHERE event_id = ?`, eventID)
	return err
}

func (s *SQLiteStore) IncrementAttempt(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE queue SET attempts = attempts + 1, last_attempt_at = ? WHERE event_id = ?`,
		event.FormatTime(s.now()), eventID)
	return err
}

func (s *SQLiteStore) ClearAcknowledged(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queue WHERE acknowledged = 1`)
	return err
}

func (s *SQLiteStore) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue WHERE acknowledged = 0`).Scan(&n)
	return n, err
}

// --- CursorStore ---

func (s *SQLiteStore) Get(ctx context.Context, libraryID string) (*SyncCursor, error) {
	var c SyncCursor
	err := s.db.QueryRowContext(ctx,
		`SELECT library_id, last_received_at, last_event_id, synced_at FROM cursors WHERE library_id = ?`,
		libraryID,
	).Scan(&c.LibraryID, &c.LastReceivedAt, &c.LastEventID, &c.SyncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor %s: %w", libraryID, err)
	}
	return &c, nil
}

func (s *SQLiteStore) Update(ctx context.Context, libraryID, receivedAt, eventID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cursors (library_id, last_received_at, last_event_id, synced_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (library_id) DO UPDATE SET
		   last_received_at = excluded.last_received_at,
		   last_event_id    = excluded.last_event_id,
		   synced_at        = excluded.synced_at`,
		libraryID, receivedAt, eventID, event.FormatTime(s.now()))
	return err
}

func (s *SQLiteStore) Clear(ctx context.Context, libraryID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cursors WHERE library_id = ?`, libraryID)
	return err
}

func (s *SQLiteStore) List(ctx context.Context) ([]SyncCursor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT library_id, last_received_at, last_event_id, synced_at FROM cursors ORDER BY library_id`)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()

	var cursors []SyncCursor
	for rows.Next() {
		var c SyncCursor
		if err := rows.Scan(&c.LibraryID, &c.LastReceivedAt, &c.LastEventID, &c.SyncedAt); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		cursors = append(cursors, c)
	}
	return cursors, rows.Err()
}
