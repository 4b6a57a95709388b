// Package trace persists a per-session history of routed events and merged
// decisions so sessions can be inspected after the fact. The trace is
// best-effort: a failed write never affects routing.
package trace

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver for database/sql

	"github.com/ihavespoons/warden/internal/logger"
)

// Session summarizes one traced session
type Session struct {
	SessionID  string
	CreatedAt  time.Time
	LastSeenAt time.Time
	Cwd        string
	EventCount int
}

// Decision is one routed event's outcome
type Decision struct {
	SessionID string
	Event     string
	Tool      string
	Verdict   string
	ExitCode  int
	Timestamp time.Time
}

// Store is the SQLite-backed decision trace
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (or creates) the trace database. An empty path defaults to
// ~/.warden/traces/decisions.db.
func NewStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(homeDir, ".warden", "traces", "decisions.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create trace directory: %w", err)
	}

	// WAL mode for concurrent hook invocations in the same session
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, dbPath: dbPath}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Debug().Str("path", dbPath).Msg("Opened trace store")
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL,
		cwd TEXT
	);

	CREATE TABLE IF NOT EXISTS decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		event TEXT NOT NULL,
		tool TEXT,
		verdict TEXT,
		exit_code INTEGER NOT NULL DEFAULT 0,
		timestamp INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_decisions_session ON decisions(session_id, timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordDecision stores one routed event, upserting the session row
func (s *Store) RecordDecision(d *Decision, cwd string) error {
	now := time.Now().Unix()

	_, err := s.db.Exec(`
		INSERT INTO sessions (session_id, created_at, last_seen_at, cwd)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET last_seen_at = excluded.last_seen_at`,
		d.SessionID, now, now, cwd)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	ts := d.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err = s.db.Exec(`
		INSERT INTO decisions (session_id, event, tool, verdict, exit_code, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.SessionID, d.Event, d.Tool, d.Verdict, d.ExitCode, ts.Unix())
	if err != nil {
		return fmt.Errorf("failed to store decision: %w", err)
	}
	return nil
}

// ListSessions returns traced sessions, most recently seen first
func (s *Store) ListSessions() ([]*Session, error) {
	rows, err := s.db.Query(`
		SELECT s.session_id, s.created_at, s.last_seen_at, COALESCE(s.cwd, ''),
		       COUNT(d.id)
		FROM sessions s
		LEFT JOIN decisions d ON d.session_id = s.session_id
		GROUP BY s.session_id
		ORDER BY s.last_seen_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*Session
	for rows.Next() {
		var sess Session
		var created, lastSeen int64
		if err := rows.Scan(&sess.SessionID, &created, &lastSeen, &sess.Cwd, &sess.EventCount); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sess.CreatedAt = time.Unix(created, 0)
		sess.LastSeenAt = time.Unix(lastSeen, 0)
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// RecentDecisions returns the most recent decisions for a session
func (s *Store) RecentDecisions(sessionID string, limit int) ([]*Decision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT session_id, event, COALESCE(tool, ''), COALESCE(verdict, ''), exit_code, timestamp
		FROM decisions
		WHERE session_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var decisions []*Decision
	for rows.Next() {
		var d Decision
		var ts int64
		if err := rows.Scan(&d.SessionID, &d.Event, &d.Tool, &d.Verdict, &d.ExitCode, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		d.Timestamp = time.Unix(ts, 0)
		decisions = append(decisions, &d)
	}
	return decisions, rows.Err()
}

// CleanupOldSessions removes sessions not seen within ttl
func (s *Store) CleanupOldSessions(ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl).Unix()
	res, err := s.db.Exec(`DELETE FROM sessions WHERE last_seen_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup sessions: %w", err)
	}
	_, err = s.db.Exec(`DELETE FROM decisions WHERE session_id NOT IN (SELECT session_id FROM sessions)`)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup decisions: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
