// Package storage keeps the history of netplay runs in SQLite.
// Uses the pure-Go modernc.org/sqlite driver to avoid CGO dependencies.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/vovakirdan/netplay/internal/match"
)

// Store manages the SQLite database connection for run reports.
type Store struct {
	db *sql.DB
}

// Run is one stored run report.
type Run struct {
	ID          int64
	RunID       uuid.UUID
	Mode        string
	Peer        string
	Frames      int
	Rollbacks   int
	Resimulated int
	MaxRollback int
	Stalls      int
	Desyncs     int
	MaxPing     time.Duration
	EndReason   string
	Winner      int
	Duration    time.Duration
	Checksum    string
	CreatedAt   time.Time
}

// Desync is one checksum mismatch seen during a run.
type Desync struct {
	ID     int64
	RunID  uuid.UUID
	Peer   string
	Frame  int
	Local  string
	Remote string
}

// Open creates or opens a SQLite database at the given path.
// It creates the parent directories if needed and runs migrations.
func Open(dbPath string) (*Store, error) {
	// Expand ~ to home directory
	if dbPath != "" && dbPath[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("storage: cannot expand home directory: %w", err)
		}
		dbPath = filepath.Join(home, dbPath[1:])
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: cannot create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: cannot open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: cannot connect to database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migration failed: %w", err)
	}
	return store, nil
}

// migrate creates the database schema if it doesn't exist.
func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL UNIQUE,
			mode TEXT NOT NULL,
			peer TEXT NOT NULL,
			frames INTEGER NOT NULL DEFAULT 0,
			rollbacks INTEGER NOT NULL DEFAULT 0,
			resimulated INTEGER NOT NULL DEFAULT 0,
			max_rollback INTEGER NOT NULL DEFAULT 0,
			stalls INTEGER NOT NULL DEFAULT 0,
			desyncs INTEGER NOT NULL DEFAULT 0,
			max_ping_ms INTEGER NOT NULL DEFAULT 0,
			end_reason TEXT NOT NULL,
			winner INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			checksum TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_runs_mode ON runs(mode);

		CREATE TABLE IF NOT EXISTS desyncs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
			peer TEXT NOT NULL,
			frame INTEGER NOT NULL,
			local_sum TEXT NOT NULL,
			remote_sum TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_desyncs_run_id ON desyncs(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveRun records a run and its desyncs in one transaction. A zero RunID
// gets a fresh one. Returns the run ID.
func (s *Store) SaveRun(run Run, desyncs []Desync) (uuid.UUID, error) {
	if run.RunID == uuid.Nil {
		run.RunID = uuid.New()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: cannot begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.Exec(
		`INSERT INTO runs
		 (run_id, mode, peer, frames, rollbacks, resimulated, max_rollback, stalls, desyncs,
		  max_ping_ms, end_reason, winner, duration_ms, checksum)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID.String(),
		run.Mode,
		run.Peer,
		run.Frames,
		run.Rollbacks,
		run.Resimulated,
		run.MaxRollback,
		run.Stalls,
		run.Desyncs,
		run.MaxPing.Milliseconds(),
		run.EndReason,
		run.Winner,
		run.Duration.Milliseconds(),
		run.Checksum,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: cannot save run: %w", err)
	}

	for _, d := range desyncs {
		_, err := tx.Exec(
			`INSERT INTO desyncs (run_id, peer, frame, local_sum, remote_sum) VALUES (?, ?, ?, ?, ?)`,
			run.RunID.String(), d.Peer, d.Frame, d.Local, d.Remote,
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("storage: cannot save desync: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("storage: cannot commit run: %w", err)
	}
	return run.RunID, nil
}

const runColumns = `id, run_id, mode, peer, frames, rollbacks, resimulated, max_rollback, stalls,
	desyncs, max_ping_ms, end_reason, winner, duration_ms, checksum, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r         Run
		runID     string
		pingMS    int64
		durMS     int64
		createdAt any
	)
	err := row.Scan(&r.ID, &runID, &r.Mode, &r.Peer, &r.Frames, &r.Rollbacks, &r.Resimulated,
		&r.MaxRollback, &r.Stalls, &r.Desyncs, &pingMS, &r.EndReason, &r.Winner, &durMS,
		&r.Checksum, &createdAt)
	if err != nil {
		return Run{}, err
	}
	if r.RunID, err = uuid.Parse(runID); err != nil {
		return Run{}, fmt.Errorf("bad run id %q: %w", runID, err)
	}
	r.MaxPing = time.Duration(pingMS) * time.Millisecond
	r.Duration = time.Duration(durMS) * time.Millisecond
	r.CreatedAt = parseTime(createdAt)
	return r, nil
}

// parseTime handles both time.Time and string datetimes.
func parseTime(v any) time.Time {
	switch v := v.(type) {
	case time.Time:
		return v
	case string:
		if parsed, err := time.Parse("2006-01-02 15:04:05", v); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

// RecentRuns retrieves the most recent runs, newest first.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(
		`SELECT `+runColumns+`
		 FROM runs
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: cannot query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: cannot scan row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: row iteration error: %w", err)
	}
	return runs, nil
}

// RunByID retrieves one run. Returns nil if it does not exist.
func (s *Store) RunByID(id uuid.UUID) (*Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: cannot query run: %w", err)
	}
	return &r, nil
}

// RunDesyncs retrieves the desyncs recorded for a run, in frame order.
func (s *Store) RunDesyncs(id uuid.UUID) ([]Desync, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, peer, frame, local_sum, remote_sum
		 FROM desyncs
		 WHERE run_id = ?
		 ORDER BY frame, id`,
		id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: cannot query desyncs: %w", err)
	}
	defer rows.Close()

	var out []Desync
	for rows.Next() {
		var d Desync
		var runID string
		if err := rows.Scan(&d.ID, &runID, &d.Peer, &d.Frame, &d.Local, &d.Remote); err != nil {
			return nil, fmt.Errorf("storage: cannot scan row: %w", err)
		}
		d.RunID = id
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: row iteration error: %w", err)
	}
	return out, nil
}

// ClearRuns deletes every run and desync.
func (s *Store) ClearRuns() error {
	if _, err := s.db.Exec("DELETE FROM desyncs; DELETE FROM runs;"); err != nil {
		return fmt.Errorf("storage: cannot clear runs: %w", err)
	}
	return nil
}

// SaveResult implements match.ResultSaver.
func (s *Store) SaveResult(res match.Result) error {
	st := res.Stats
	run := Run{
		RunID:       res.ID,
		Mode:        res.Mode,
		Peer:        res.Addr,
		Frames:      int(st.Frame),
		Rollbacks:   st.Rollbacks,
		Resimulated: st.Resimulated,
		MaxRollback: st.MaxRollback,
		Stalls:      st.Stalls,
		Desyncs:     st.Desyncs,
		MaxPing:     st.MaxPing,
		EndReason:   res.Reason.String(),
		Winner:      int(res.Winner),
		Duration:    res.Duration,
		Checksum:    res.Checksum.String(),
	}
	desyncs := make([]Desync, 0, len(res.Desyncs))
	for _, d := range res.Desyncs {
		desyncs = append(desyncs, Desync{
			Peer:   d.Addr,
			Frame:  int(d.Frame),
			Local:  d.Local.String(),
			Remote: d.Remote.String(),
		})
	}
	_, err := s.SaveRun(run, desyncs)
	return err
}

// Ensure Store implements ResultSaver
var _ match.ResultSaver = (*Store)(nil)
