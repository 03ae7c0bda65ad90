// Package history persists deploy runs and their task outcomes in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/unleashedtech/cmsdeploy/internal/execctx"
	"github.com/unleashedtech/cmsdeploy/internal/logging"
	"github.com/unleashedtech/cmsdeploy/internal/scheduler"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// writeTimeout bounds observer writes, which have no caller context.
const writeTimeout = 5 * time.Second

// Run is one invocation of a root task against one host.
type Run struct {
	ID         string
	Host       string
	Task       string
	Release    string
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the run took, or 0 while it is running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// TaskOutcome is one leaf task executed during a run.
type TaskOutcome struct {
	RunID    string
	Task     string
	Status   string
	ExitCode int
	Error    string
	Duration time.Duration
	Finished time.Time
}

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// Store records runs. It is safe for concurrent use by several invocations.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	host        TEXT NOT NULL,
	task        TEXT NOT NULL,
	release_name TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
CREATE TABLE IF NOT EXISTS task_outcomes (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	seq         INTEGER NOT NULL,
	task        TEXT NOT NULL,
	status      TEXT NOT NULL,
	exit_code   INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

// Open opens (and creates if needed) the history database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history path is empty")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve history path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+absPath+"?_pragma=busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Start records a new running run and returns its ID.
func (s *Store) Start(ctx context.Context, host, task string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, host, task, status, started_at) VALUES(?,?,?,?,?)`,
		id, host, task, StatusRunning, s.now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// Finish marks a run as done. A nil runErr means success.
func (s *Store) Finish(ctx context.Context, id, release string, runErr error) error {
	status, msg := StatusSucceeded, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, release_name = ?, finished_at = ? WHERE id = ?`,
		status, msg, release, s.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// RecordTask appends a task outcome to run id.
func (s *Store) RecordTask(ctx context.Context, id, task string, elapsed time.Duration, taskErr error) error {
	status, msg, code := StatusSucceeded, "", 0
	if taskErr != nil {
		status, msg = StatusFailed, taskErr.Error()
		if failed, ok := execctx.AsCommandFailed(taskErr); ok {
			code = failed.ExitCode()
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_outcomes(run_id, seq, task, status, exit_code, error, duration_ms, finished_at)
		 VALUES(?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM task_outcomes WHERE run_id = ?), ?, ?, ?, ?, ?, ?)`,
		id, id, task, status, code, msg, elapsed.Milliseconds(), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert task outcome: %w", err)
	}
	return nil
}

// Runs returns the most recent runs first. limit <= 0 returns all.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, host, task, release_name, status, error, started_at, finished_at FROM runs ORDER BY started_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished int64
		)
		if err := rows.Scan(&r.ID, &r.Host, &r.Task, &r.Release, &r.Status, &r.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		if finished > 0 {
			r.FinishedAt = time.UnixMilli(finished)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Tasks returns the outcomes recorded for run id in execution order.
func (s *Store) Tasks(ctx context.Context, id string) ([]TaskOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, task, status, exit_code, error, duration_ms, finished_at FROM task_outcomes WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query task outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []TaskOutcome
	for rows.Next() {
		var (
			o                  TaskOutcome
			durationMS, finish int64
		)
		if err := rows.Scan(&o.RunID, &o.Task, &o.Status, &o.ExitCode, &o.Error, &durationMS, &finish); err != nil {
			return nil, fmt.Errorf("scan task outcome: %w", err)
		}
		o.Duration = time.Duration(durationMS) * time.Millisecond
		o.Finished = time.UnixMilli(finish)
		out = append(out, o)
	}
	return out, rows.Err()
}

// Observer returns a scheduler observer that records every finished task under
// the invocation's ID.
func (s *Store) Observer() scheduler.Observer {
	return observer{store: s}
}

type observer struct {
	store *Store
}

func (observer) TaskStarted(*scheduler.Invocation, string) {}

func (o observer) TaskFinished(inv *scheduler.Invocation, task string, elapsed time.Duration, err error) {
	if inv.ID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if werr := o.store.RecordTask(ctx, inv.ID, task, elapsed, err); werr != nil {
		o.store.logger.Warn("failed to record task outcome", "run", inv.ID, "task", task, "error", werr)
	}
}
