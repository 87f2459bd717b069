// Package runstore keeps a SQLite ledger of processing runs and the final
// status of every clip window they produced.
package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/forPelevin/clipper/internal/ports"
	"github.com/forPelevin/clipper/internal/types"
)

// Run is a stored RunResult plus the run-level error, if any.
type Run struct {
	types.RunResult
	Error string `json:"error,omitempty"`
}

// Store is safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the ledger at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open runs database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate runs schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id             TEXT PRIMARY KEY,
		source_key     TEXT NOT NULL,
		moments_cached INTEGER NOT NULL,
		started_at     TEXT NOT NULL,
		finished_at    TEXT NOT NULL,
		error          TEXT
	);
	CREATE TABLE IF NOT EXISTS run_windows (
		run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		idx         INTEGER NOT NULL,
		start_sec   REAL NOT NULL,
		end_sec     REAL NOT NULL,
		viral_score INTEGER NOT NULL,
		state       TEXT NOT NULL,
		failed_at   TEXT,
		error       TEXT,
		output_key  TEXT,
		PRIMARY KEY (run_id, idx)
	);
	CREATE INDEX IF NOT EXISTS idx_runs_source ON runs(source_key);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordRun stores res and its windows in one transaction. Recording the
// same run id again replaces the earlier entry.
func (s *Store) RecordRun(ctx context.Context, res types.RunResult, runErr error) error {
	if res.RunID == "" {
		return errors.New("record run: empty run id")
	}
	var errText sql.NullString
	if runErr != nil {
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_windows WHERE run_id = ?`, res.RunID); err != nil {
		return fmt.Errorf("clear run windows: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, source_key, moments_cached, started_at, finished_at, error)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		res.RunID,
		res.SourceKey,
		res.MomentsCached,
		res.StartedAt.UTC().Format(time.RFC3339Nano),
		res.FinishedAt.UTC().Format(time.RFC3339Nano),
		errText,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for _, w := range res.Windows {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO run_windows (run_id, idx, start_sec, end_sec, viral_score, state, failed_at, error, output_key)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			res.RunID, w.Index, w.Start, w.End, w.ViralScore, string(w.State), string(w.FailedAt), w.Error, w.OutputKey,
		)
		if err != nil {
			return fmt.Errorf("insert run window %d: %w", w.Index, err)
		}
	}
	return tx.Commit()
}

// GetRun loads a run by id. Unknown ids return ports.ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	var (
		run               Run
		started, finished string
		errText           sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, source_key, moments_cached, started_at, finished_at, error FROM runs WHERE id = ?`, id,
	).Scan(&run.RunID, &run.SourceKey, &run.MomentsCached, &started, &finished, &errText)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("query run: %w", err)
	}
	run.Error = errText.String
	if run.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	if run.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return Run{}, fmt.Errorf("parse finished_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, start_sec, end_sec, viral_score, state, COALESCE(failed_at, ''), COALESCE(error, ''), COALESCE(output_key, '')
		 FROM run_windows WHERE run_id = ? ORDER BY idx`, id)
	if err != nil {
		return Run{}, fmt.Errorf("query run windows: %w", err)
	}
	defer rows.Close()
	run.Windows = []types.WindowStatus{}
	for rows.Next() {
		var (
			w               types.WindowStatus
			state, failedAt string
		)
		if err := rows.Scan(&w.Index, &w.Start, &w.End, &w.ViralScore, &state, &failedAt, &w.Error, &w.OutputKey); err != nil {
			return Run{}, fmt.Errorf("scan run window: %w", err)
		}
		w.State = types.WindowState(state)
		w.FailedAt = types.WindowState(failedAt)
		run.Windows = append(run.Windows, w)
	}
	return run, rows.Err()
}
