// Package store persists sweep runs and their samples in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rjboer/GoBode/internal/sweep"
)

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("store: run not found")

// Run status values.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	config_json TEXT NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT
);
CREATE TABLE IF NOT EXISTS samples (
	run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	idx          INTEGER NOT NULL,
	frequency_hz REAL NOT NULL,
	gain_db      REAL NOT NULL,
	phase_deg    REAL NOT NULL,
	PRIMARY KEY (run_id, idx)
);
`

// Run is one sweep as recorded in the database.
type Run struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Config     json.RawMessage `json:"config"`
	Status     string          `json:"status"`
	Error      string          `json:"error,omitempty"`
}

// Store wraps the database handle.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// one writer; the sweep is sequential
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// CreateRun inserts a running sweep with a fresh UUID. cfg is stored as JSON.
func (s *Store) CreateRun(ctx context.Context, started time.Time, cfg any) (Run, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return Run{}, fmt.Errorf("encode run config: %w", err)
	}
	run := Run{ID: uuid.NewString(), StartedAt: started, Config: raw, Status: StatusRunning}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, config_json, status) VALUES (?, ?, ?, ?)`,
		run.ID, started.UnixNano(), string(raw), run.Status)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// AddSample records sample idx of a run. Re-recording an index replaces it.
func (s *Store) AddSample(ctx context.Context, runID string, idx int, sample sweep.Sample) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO samples (run_id, idx, frequency_hz, gain_db, phase_deg) VALUES (?, ?, ?, ?, ?)`,
		runID, idx, sample.FrequencyHz, sample.GainDB, sample.PhaseDeg)
	if err != nil {
		return fmt.Errorf("insert sample %d: %w", idx, err)
	}
	return nil
}

// Finish marks a run complete, or failed when runErr is not nil.
func (s *Store) Finish(ctx context.Context, runID string, finished time.Time, runErr error) error {
	status, msg := StatusComplete, sql.NullString{}
	if runErr != nil {
		status = StatusFailed
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?`,
		finished.UnixNano(), status, msg, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// GetRun loads one run.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, config_json, status, error FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

// ListRuns returns every run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, config_json, status, error FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Samples returns the samples of a run in sweep order.
func (s *Store) Samples(ctx context.Context, runID string) ([]sweep.Sample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT frequency_hz, gain_db, phase_deg FROM samples WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()
	var out []sweep.Sample
	for rows.Next() {
		var smp sweep.Sample
		if err := rows.Scan(&smp.FrequencyHz, &smp.GainDB, &smp.PhaseDeg); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		out = append(out, smp)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run      Run
		started  int64
		finished sql.NullInt64
		cfg      string
		msg      sql.NullString
	)
	if err := row.Scan(&run.ID, &started, &finished, &cfg, &run.Status, &msg); err != nil {
		return Run{}, err
	}
	run.StartedAt = time.Unix(0, started)
	if finished.Valid {
		t := time.Unix(0, finished.Int64)
		run.FinishedAt = &t
	}
	run.Config = json.RawMessage(cfg)
	run.Error = msg.String
	return run, nil
}
