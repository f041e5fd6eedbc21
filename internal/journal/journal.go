// Package journal keeps a SQLite record of instrument sessions: which
// components were found and every operation result.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/instrument"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

const writeTimeout = 5 * time.Second

// Journal is a session journal. Handle may be called from one goroutine
// while queries run on others.
type Journal struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time

	mu      sync.Mutex
	session string
}

// Session is one journal session row.
type Session struct {
	ID        string
	Profile   string
	Port      string
	StartedAt time.Time
	EndedAt   sql.NullTime
}

// Component is a component found during a session.
type Component struct {
	Family  device.Family
	Device  int
	Address uint16
}

// ResultRow is one recorded result.
type ResultRow struct {
	Code status.Code
	Lane int
	At   time.Time
}

// Open opens (creating if needed) the journal at path and migrates it. The
// path ":memory:" gives a private in-memory journal.
func Open(ctx context.Context, path string, log *slog.Logger) (*Journal, error) {
	if log == nil {
		log = slog.Default()
	}
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("journal: creating directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL", path)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck // best effort on the error path
		return nil, fmt.Errorf("journal: verifying database: %w", err)
	}

	j := &Journal{db: db, log: log, now: time.Now}
	if err := j.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // best effort on the error path
		return nil, fmt.Errorf("journal: %w", err)
	}
	return j, nil
}

// Close ends the current session and closes the database.
func (j *Journal) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := j.EndSession(ctx); err != nil {
		j.log.Warn("journal: end session", "err", err)
	}
	return j.db.Close()
}

// StartSession begins a session; events handled afterwards belong to it.
func (j *Journal) StartSession(ctx context.Context, id, profile, port string) error {
	if _, err := j.db.ExecContext(ctx,
		"INSERT INTO sessions (id, profile, port, started_at) VALUES (?, ?, ?, ?)",
		id, profile, port, j.now().UTC()); err != nil {
		return fmt.Errorf("journal: start session: %w", err)
	}
	j.mu.Lock()
	j.session = id
	j.mu.Unlock()
	return nil
}

// EndSession stamps the current session's end time.
func (j *Journal) EndSession(ctx context.Context) error {
	id := j.current()
	if id == "" {
		return nil
	}
	if _, err := j.db.ExecContext(ctx, "UPDATE sessions SET ended_at = ? WHERE id = ?", j.now().UTC(), id); err != nil {
		return fmt.Errorf("journal: end session: %w", err)
	}
	j.mu.Lock()
	j.session = ""
	j.mu.Unlock()
	return nil
}

func (j *Journal) current() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.session
}

// Handle records ev in the current session. Events outside a session and
// write failures are logged and dropped.
func (j *Journal) Handle(ev instrument.Event) {
	id := j.current()
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch e := ev.(type) {
	case instrument.DriverAdded:
		_, err = j.db.ExecContext(ctx,
			"INSERT INTO components (session_id, family, device, address, found_at) VALUES (?, ?, ?, ?, ?)",
			id, string(e.Family), e.Device, e.Address, j.now().UTC())
	case instrument.Result:
		_, err = j.db.ExecContext(ctx,
			"INSERT INTO results (session_id, code, lane, at) VALUES (?, ?, ?, ?)",
			id, int(e.Code), e.Lane, j.now().UTC())
	case instrument.StatusMessage:
		_, err = j.db.ExecContext(ctx,
			"INSERT INTO messages (session_id, text, at) VALUES (?, ?, ?)",
			id, e.Text, j.now().UTC())
	}
	if err != nil {
		j.log.Warn("journal write failed", "kind", ev.Kind(), "err", err)
	}
}

// Sessions lists sessions, newest first.
func (j *Journal) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT id, profile, port, started_at, ended_at FROM sessions ORDER BY started_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Profile, &s.Port, &s.StartedAt, &s.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Components lists the components found in session id.
func (j *Journal) Components(ctx context.Context, id string) ([]Component, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT family, device, address FROM components WHERE session_id = ? ORDER BY rowid", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Component
	for rows.Next() {
		var c Component
		var family string
		if err := rows.Scan(&family, &c.Device, &c.Address); err != nil {
			return nil, err
		}
		c.Family = device.Family(family)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Results lists the results recorded in session id, oldest first.
func (j *Journal) Results(ctx context.Context, id string) ([]ResultRow, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT code, lane, at FROM results WHERE session_id = ? ORDER BY id", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ResultRow
	for rows.Next() {
		var r ResultRow
		var code int
		if err := rows.Scan(&code, &r.Lane, &r.At); err != nil {
			return nil, err
		}
		r.Code = status.Code(code)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Messages lists the status messages of session id, oldest first.
func (j *Journal) Messages(ctx context.Context, id string) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, "SELECT text FROM messages WHERE session_id = ? ORDER BY id", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
