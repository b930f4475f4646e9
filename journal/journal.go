// Package journal persists pipeline events to SQLite so a class's
// hot-swap history survives process restarts and can be inspected by
// tooling.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/molt/events"
)

// ErrClosed is returned when appending to a closed journal.
var ErrClosed = errors.New("journal is closed")

// Journal is an append-only SQLite event log. It implements
// events.Emitter so it can sit directly on the pipeline's fanout; Emit
// logs append failures instead of surfacing them, because a broken
// journal must never stall a hot swap.
type Journal struct {
	db     *sql.DB
	dbPath string
	log    commonlog.Logger
	mu     sync.Mutex
	closed bool
}

// Open opens (creating if needed) the journal database at dbPath.
func Open(dbPath string) (*Journal, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		class TEXT NOT NULL,
		at TEXT NOT NULL,
		terminal INTEGER NOT NULL,
		data BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating events table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS events_class ON events (class, at)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating class index: %w", err)
	}

	return &Journal{
		db:     db,
		dbPath: dbPath,
		log:    commonlog.GetLogger("molt.journal"),
	}, nil
}

// OpenDefault opens the journal at its default path, honoring
// MOLT_JOURNAL_DB when set.
func OpenDefault() (*Journal, error) {
	dbPath := os.Getenv("MOLT_JOURNAL_DB")
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home dir: %w", err)
		}
		dbPath = filepath.Join(home, ".molt", "journal.db")
	}
	return Open(dbPath)
}

// Close closes the database connection. Further appends fail with
// ErrClosed.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.dbPath
}

// Append records one event. The stored blob is the event's canonical
// wire encoding, so the journal holds exactly what the relay transmits.
func (j *Journal) Append(e events.Event) error {
	data, err := events.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}

	terminal := 0
	if e.Terminal {
		terminal = 1
	}
	_, err = j.db.Exec(
		"INSERT OR REPLACE INTO events (id, type, class, at, terminal, data) VALUES (?, ?, ?, ?, ?, ?)",
		e.ID, string(e.Type), e.Class, e.At.UTC().Format(time.RFC3339Nano), terminal, data,
	)
	if err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

// Emit implements events.Emitter.
func (j *Journal) Emit(e events.Event) {
	if err := j.Append(e); err != nil {
		j.log.Errorf("dropping %s event for %s: %v", e.Type, e.Class, err)
	}
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(limit int) ([]events.Event, error) {
	return j.query(
		"SELECT data FROM events ORDER BY rowid DESC LIMIT ?",
		limit,
	)
}

// ForClass returns up to limit events for one class, newest first.
func (j *Journal) ForClass(class string, limit int) ([]events.Event, error) {
	return j.query(
		"SELECT data FROM events WHERE class = ? ORDER BY rowid DESC LIMIT ?",
		class, limit,
	)
}

// Terminals returns up to limit terminal events for one class, newest
// first. One terminal event corresponds to one processed change, so
// this is the class's change history.
func (j *Journal) Terminals(class string, limit int) ([]events.Event, error) {
	return j.query(
		"SELECT data FROM events WHERE class = ? AND terminal = 1 ORDER BY rowid DESC LIMIT ?",
		class, limit,
	)
}

// Len returns the number of stored events.
func (j *Journal) Len() (int, error) {
	var n int
	if err := j.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}

func (j *Journal) query(q string, args ...any) ([]events.Event, error) {
	rows, err := j.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e, err := events.Unmarshal(data)
		if err != nil {
			// A corrupt row should not hide the rest of the history.
			j.log.Errorf("skipping undecodable event row: %v", err)
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
