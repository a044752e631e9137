// Package ledger keeps a sqlite record of room sessions: when each room
// lifetime opened and closed and how busy it was. File contents are never
// written; projects live only in memory.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/manpreetbhatti/coderelay/internal/room"
)

const queueSize = 1024

type Ledger struct {
	db     *sql.DB
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	events chan event
	wg     sync.WaitGroup
}

// Session is one room lifetime.
type Session struct {
	ID          string     `json:"id"`
	RoomID      string     `json:"room_id"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	PeakMembers int        `json:"peak_members"`
	Edits       int64      `json:"edits"`
	Broadcasts  int64      `json:"broadcasts"`
	Dropped     int64      `json:"dropped"`
}

type Stats struct {
	TotalSessions int64 `json:"total_sessions"`
	OpenSessions  int64 `json:"open_sessions"`
	DistinctRooms int64 `json:"distinct_rooms"`
	TotalEdits    int64 `json:"total_edits"`
}

// New opens (or creates) the ledger at path. Sessions left open by a
// previous process are closed, since their rooms did not survive it.
func New(path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("ledger: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: wal: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: schema: %w", err)
	}

	l := &Ledger{
		db:     db,
		logger: logger,
		events: make(chan event, queueSize),
	}

	n, err := l.closeOrphans(time.Now())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: close orphans: %w", err)
	}
	if n > 0 {
		logger.Info("ledger.orphans_closed", "sessions", n)
	}

	l.wg.Add(1)
	go l.run()

	logger.Info("ledger.opened", "path", path)
	return l, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS room_sessions (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		opened_at INTEGER NOT NULL,
		closed_at INTEGER,
		peak_members INTEGER NOT NULL DEFAULT 0,
		edits INTEGER NOT NULL DEFAULT 0,
		broadcasts INTEGER NOT NULL DEFAULT 0,
		dropped INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_room_sessions_room_id ON room_sessions(room_id);
	CREATE INDEX IF NOT EXISTS idx_room_sessions_opened_at ON room_sessions(opened_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

// Close drains queued events and closes the database.
func (l *Ledger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.events)
	l.mu.Unlock()

	l.wg.Wait()
	return l.db.Close()
}

// Session operations

func (l *Ledger) OpenSession(s room.Stats) error {
	_, err := l.db.Exec(
		"INSERT OR IGNORE INTO room_sessions (id, room_id, opened_at) VALUES (?, ?, ?)",
		s.Session, s.ID, s.OpenedAt.UnixMilli(),
	)
	return err
}

// CloseSession records the final counters. A session that was never opened
// (its open event was dropped) is inserted closed.
func (l *Ledger) CloseSession(s room.Stats, closedAt time.Time) error {
	_, err := l.db.Exec(`
		INSERT INTO room_sessions (id, room_id, opened_at, closed_at, peak_members, edits, broadcasts, dropped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			closed_at = excluded.closed_at,
			peak_members = excluded.peak_members,
			edits = excluded.edits,
			broadcasts = excluded.broadcasts,
			dropped = excluded.dropped
	`, s.Session, s.ID, s.OpenedAt.UnixMilli(), closedAt.UnixMilli(),
		s.PeakMembers, int64(s.Edits), int64(s.Broadcasts), int64(s.Dropped))
	return err
}

const sessionColumns = "id, room_id, opened_at, closed_at, peak_members, edits, broadcasts, dropped"

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var s Session
	var opened int64
	var closed sql.NullInt64
	err := row.Scan(&s.ID, &s.RoomID, &opened, &closed, &s.PeakMembers, &s.Edits, &s.Broadcasts, &s.Dropped)
	if err != nil {
		return s, err
	}
	s.OpenedAt = time.UnixMilli(opened).UTC()
	if closed.Valid {
		t := time.UnixMilli(closed.Int64).UTC()
		s.ClosedAt = &t
	}
	return s, nil
}

// GetSession returns nil, nil when id is unknown.
func (l *Ledger) GetSession(id string) (*Session, error) {
	row := l.db.QueryRow("SELECT "+sessionColumns+" FROM room_sessions WHERE id = ?", id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions returns sessions newest first.
func (l *Ledger) ListSessions(limit, offset int) ([]Session, error) {
	rows, err := l.db.Query(
		"SELECT "+sessionColumns+" FROM room_sessions ORDER BY opened_at DESC, id LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ListRoomSessions returns the sessions of one room, newest first.
func (l *Ledger) ListRoomSessions(roomID string, limit int) ([]Session, error) {
	rows, err := l.db.Query(
		"SELECT "+sessionColumns+" FROM room_sessions WHERE room_id = ? ORDER BY opened_at DESC, id LIMIT ?",
		roomID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// PruneClosedBefore deletes closed sessions that ended before cutoff.
func (l *Ledger) PruneClosedBefore(cutoff time.Time) (int64, error) {
	res, err := l.db.Exec(
		"DELETE FROM room_sessions WHERE closed_at IS NOT NULL AND closed_at < ?",
		cutoff.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (l *Ledger) closeOrphans(now time.Time) (int64, error) {
	res, err := l.db.Exec(
		"UPDATE room_sessions SET closed_at = ? WHERE closed_at IS NULL",
		now.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats

func (l *Ledger) GetStats() (Stats, error) {
	var s Stats
	err := l.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN closed_at IS NULL THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT room_id),
			COALESCE(SUM(edits), 0)
		FROM room_sessions
	`).Scan(&s.TotalSessions, &s.OpenSessions, &s.DistinctRooms, &s.TotalEdits)
	return s, err
}
