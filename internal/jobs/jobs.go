// Package jobs implements the durable job queue and worker loop for
// long-running tool invocations: enqueue with
// idempotency-key dedupe, a claim-and-run worker loop backed by either
// sqlite (single process) or Postgres (a worker fleet sharing one
// queue), progress callbacks, and the retry/backoff policy shared with
// internal/errors.
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vallancelee/biomcp/internal/errors"
	"github.com/vallancelee/biomcp/internal/telemetry"
	_ "modernc.org/sqlite"
)

// dialect picks the SQL placeholder style and claim-locking strategy for
// the job table, so the same Queue type backs both the embedded sqlite
// deployment and a shared Postgres deployment (with sqlite's
// single-writer file, competing workers only exist within one process;
// with Postgres they span a fleet).
type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// State is a job's lifecycle state.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Job is one durable row in the queue.
type Job struct {
	ID             string
	Tool           string
	Params         json.RawMessage
	IdempotencyKey string
	State          State
	Progress       int
	Result         json.RawMessage
	ErrorCode      string
	ErrorMessage   string
	TraceID        string
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// idempotencyWindow bounds how long an idempotency_key dedupes a
// repeated enqueue request.
const idempotencyWindow = 24 * time.Hour

// Handler runs one job's tool logic. progress should be called at most
// every two seconds; the queue throttles faster calls itself, so
// handlers may call it as often as convenient.
type Handler func(ctx context.Context, params json.RawMessage, progress func(percent int, stats string)) (json.RawMessage, error)

// Queue is the job table (sqlite or Postgres) plus the in-process handler
// registry the worker loop dispatches into.
type Queue struct {
	db       *sql.DB
	dialect  dialect
	handlers map[string]Handler
	log      *slog.Logger

	mu               sync.RWMutex
	progressMu       sync.Mutex
	lastProgressSent map[string]time.Time
}

// New opens (or creates) the sqlite-backed job table at path. path == ""
// opens an in-memory database, for tests and single-process embedding.
func New(path string, log *slog.Logger) (*Queue, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open job db: %w", err)
	}
	db.SetMaxOpenConns(1) // one connection, so claims in this process run one at a time.
	return newQueue(db, dialectSQLite, log)
}

// NewPostgres opens (or creates) the Postgres-backed job table at dsn, for
// deployments that run more than one worker process sharing a single
// queue. Claiming uses
// SELECT ... FOR UPDATE SKIP LOCKED so concurrent workers never contend
// for the same row.
func NewPostgres(ctx context.Context, dsn string, log *slog.Logger) (*Queue, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open job db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping job db: %w", err)
	}
	return newQueue(db, dialectPostgres, log)
}

func newQueue(db *sql.DB, d dialect, log *slog.Logger) (*Queue, error) {
	if log == nil {
		log = slog.Default()
	}
	q := &Queue{db: db, dialect: d, handlers: make(map[string]Handler), log: log, lastProgressSent: make(map[string]time.Time)}
	if err := q.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return q, nil
}

// rebind rewrites a query written with sqlite's `?` placeholders into
// Postgres's `$1, $2, ...` style when the queue is Postgres-backed; the
// sqlite driver accepts `?` natively, so this is a no-op there.
func (q *Queue) rebind(query string) string {
	if q.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (q *Queue) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.db.ExecContext(ctx, q.rebind(query), args...)
}

func (q *Queue) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(ctx, q.rebind(query), args...)
}

func (q *Queue) queryRows(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, q.rebind(query), args...)
}

// initSchema runs each DDL statement separately rather than as one
// multi-statement string: the Postgres driver (pgx's database/sql
// binding) uses the extended query protocol, which rejects a string
// containing more than one statement.
func (q *Queue) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			tool TEXT NOT NULL,
			params TEXT NOT NULL,
			idempotency_key TEXT,
			state TEXT NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			result TEXT,
			error_code TEXT,
			error_message TEXT,
			trace_id TEXT,
			created_at TEXT NOT NULL,
			started_at TEXT,
			finished_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_tool ON jobs(tool)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_idempotency ON jobs(tool, idempotency_key, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := q.db.Exec(stmt); err != nil {
			return fmt.Errorf("init jobs schema: %w", err)
		}
	}
	return nil
}

// Register binds a tool name to the Handler the worker loop invokes
// for it.
func (q *Queue) Register(tool string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[tool] = h
}

// Enqueue persists a new job row, or returns the id of an existing job
// with the same (tool, idempotency_key) created within the dedupe
// window.
func (q *Queue) Enqueue(ctx context.Context, id, tool string, params json.RawMessage, idempotencyKey, traceID string) (jobID string, duplicate bool, err error) {
	if idempotencyKey != "" {
		cutoff := time.Now().Add(-idempotencyWindow).UTC().Format(time.RFC3339)
		var existing string
		err := q.queryRow(ctx, `
			SELECT id FROM jobs
			WHERE tool = ? AND idempotency_key = ? AND created_at >= ?
			ORDER BY created_at DESC LIMIT 1
		`, tool, idempotencyKey, cutoff).Scan(&existing)
		if err == nil {
			return existing, true, nil
		}
		if err != sql.ErrNoRows {
			return "", false, fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	_, err = q.exec(ctx, `
		INSERT INTO jobs (id, tool, params, idempotency_key, state, progress, trace_id, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
	`, id, tool, string(params), nullable(idempotencyKey), StateQueued, traceID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", false, fmt.Errorf("insert job: %w", err)
	}
	return id, false, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Get returns a job row by id, or errors.NotFound if absent.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	row := q.queryRow(ctx, `
		SELECT id, tool, params, COALESCE(idempotency_key,''), state, progress,
		       COALESCE(result,''), COALESCE(error_code,''), COALESCE(error_message,''),
		       COALESCE(trace_id,''), created_at, started_at, finished_at
		FROM jobs WHERE id = ?
	`, id)
	return scanJob(row)
}

func scanJob(row *sql.Row) (*Job, error) {
	var j Job
	var params, result string
	var createdAt string
	var startedAt, finishedAt sql.NullString
	if err := row.Scan(&j.ID, &j.Tool, &params, &j.IdempotencyKey, &j.State, &j.Progress,
		&result, &j.ErrorCode, &j.ErrorMessage, &j.TraceID, &createdAt, &startedAt, &finishedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFoundf("job not found")
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.Params = json.RawMessage(params)
	if result != "" {
		j.Result = json.RawMessage(result)
	}
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339, startedAt.String)
		j.StartedAt = &t
	}
	if finishedAt.Valid {
		t, _ := time.Parse(time.RFC3339, finishedAt.String)
		j.FinishedAt = &t
	}
	return &j, nil
}

// List returns jobs filtered by tool and/or state (empty string means
// "any"), newest first, for the jobs.get admin surface.
func (q *Queue) List(ctx context.Context, tool, state string, limit, offset int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.queryRows(ctx, `
		SELECT id, tool, params, COALESCE(idempotency_key,''), state, progress,
		       COALESCE(result,''), COALESCE(error_code,''), COALESCE(error_message,''),
		       COALESCE(trace_id,''), created_at, started_at, finished_at
		FROM jobs
		WHERE (? = '' OR tool = ?) AND (? = '' OR state = ?)
		ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, tool, tool, state, state, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		var j Job
		var params, result string
		var createdAt string
		var startedAt, finishedAt sql.NullString
		if err := rows.Scan(&j.ID, &j.Tool, &params, &j.IdempotencyKey, &j.State, &j.Progress,
			&result, &j.ErrorCode, &j.ErrorMessage, &j.TraceID, &createdAt, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		j.Params = json.RawMessage(params)
		if result != "" {
			j.Result = json.RawMessage(result)
		}
		j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if startedAt.Valid {
			t, _ := time.Parse(time.RFC3339, startedAt.String)
			j.StartedAt = &t
		}
		if finishedAt.Valid {
			t, _ := time.Parse(time.RFC3339, finishedAt.String)
			j.FinishedAt = &t
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}

// Cancel flips a queued or running job to cancelled. A running handler's
// context is cancelled the next time it reports progress, and the worker
// checks the state again before each attempt and after the handler returns.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	res, err := q.exec(ctx, `
		UPDATE jobs SET state = ? WHERE id = ? AND state IN (?, ?)
	`, StateCancelled, id, StateQueued, StateRunning)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.NotFoundf("job %s not cancellable", id)
	}
	return nil
}

// claim atomically takes one queued row. Against sqlite it runs a default
// transaction on the queue's single connection, so two claims in the same
// process can never interleave; that only serializes within one process. Against Postgres, SELECT ... FOR UPDATE SKIP LOCKED lets
// several worker processes claim distinct rows concurrently without
// blocking on each other (a fleet of processes, not just one
// process's goroutines).
func (q *Queue) claim(ctx context.Context) (*Job, error) {
	if q.dialect == dialectPostgres {
		return q.claimPostgres(ctx)
	}
	return q.claimSQLite(ctx)
}

func (q *Queue) claimSQLite(ctx context.Context) (*Job, error) {
	tx, err := q.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM jobs WHERE state = ? ORDER BY created_at ASC LIMIT 1
	`, StateQueued).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET state = ?, started_at = ? WHERE id = ?
	`, StateRunning, now, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return q.Get(ctx, id)
}

func (q *Queue) claimPostgres(ctx context.Context) (*Job, error) {
	tx, err := q.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM jobs WHERE state = $1 ORDER BY created_at ASC LIMIT 1 FOR UPDATE SKIP LOCKED
	`, StateQueued).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET state = $1, started_at = $2 WHERE id = $3
	`, StateRunning, now, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return q.Get(ctx, id)
}

// RunOnce claims and runs at most one job; returns false if the queue
// was empty. A worker process calls this in a loop (with a sleep on
// empty) to form the worker pool.
func (q *Queue) RunOnce(ctx context.Context) (ran bool, err error) {
	job, err := q.claim(ctx)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	q.mu.RLock()
	handler, ok := q.handlers[job.Tool]
	q.mu.RUnlock()
	if !ok {
		q.finish(ctx, job.ID, job.Tool, nil, errors.NotFoundf("no handler registered for tool %s", job.Tool))
		return true, nil
	}

	q.runWithRetry(ctx, job, handler)
	return true, nil
}

// runWithRetry runs handler, retrying transient failures per the job
// backoff schedule. Terminal error
// codes (VALIDATION, NOT_FOUND, CONFLICT) fail on the first attempt;
// retries stop early if the job is cancelled mid-backoff.
func (q *Queue) runWithRetry(ctx context.Context, job *Job, handler Handler) {
	lastErr, result, cancelledMidRun := q.attemptWithBackoff(ctx, job, handler)

	if cancelledMidRun || q.isCancelled(ctx, job.ID) {
		now := time.Now().UTC().Format(time.RFC3339)
		_, _ = q.exec(ctx, `UPDATE jobs SET finished_at = ? WHERE id = ?`, now, job.ID)
		telemetry.JobTransitions.WithLabelValues(job.Tool, string(StateCancelled)).Inc()
		return
	}
	q.finish(ctx, job.ID, job.Tool, result, lastErr)
}

// attemptWithBackoff runs handler up to cfg.MaxRetries+1 times,
// sleeping the jittered backoff schedule between transient failures.
// cancelledMidRun is true when the job row is found cancelled before an
// attempt; a context cancelled during the backoff wait returns ctx.Err()
// instead.
func (q *Queue) attemptWithBackoff(ctx context.Context, job *Job, handler Handler) (lastErr error, result json.RawMessage, cancelledMidRun bool) {
	cfg := errors.JobRetryConfig()
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if q.isCancelled(ctx, job.ID) {
			return nil, nil, true
		}

		runCtx, cancelRun := context.WithCancel(ctx)
		result, lastErr = handler(runCtx, job.Params, func(percent int, stats string) {
			if q.isCancelled(ctx, job.ID) {
				cancelRun()
				return
			}
			q.updateProgress(ctx, job.ID, percent, stats)
		})
		cancelRun()
		if lastErr == nil || !errors.ShouldRetry(lastErr, attempt, cfg) {
			return lastErr, result, false
		}
		telemetry.JobRetries.WithLabelValues(job.Tool).Inc()

		select {
		case <-ctx.Done():
			return ctx.Err(), nil, false
		case <-time.After(errors.Jittered(cfg, delay)):
		}
		delay = errors.NextDelay(cfg, delay)
	}
	return lastErr, result, false
}

func (q *Queue) isCancelled(ctx context.Context, id string) bool {
	var state string
	_ = q.queryRow(ctx, `SELECT state FROM jobs WHERE id = ?`, id).Scan(&state)
	return State(state) == StateCancelled
}

func (q *Queue) finish(ctx context.Context, id, tool string, result json.RawMessage, jobErr error) {
	q.progressMu.Lock()
	delete(q.lastProgressSent, id)
	q.progressMu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	if jobErr == nil {
		_, _ = q.exec(ctx, `
			UPDATE jobs SET state = ?, progress = 100, result = ?, finished_at = ? WHERE id = ?
		`, StateSucceeded, string(result), now, id)
		telemetry.JobTransitions.WithLabelValues(tool, string(StateSucceeded)).Inc()
		return
	}
	code := errors.CodeOf(jobErr)
	_, _ = q.exec(ctx, `
		UPDATE jobs SET state = ?, error_code = ?, error_message = ?, finished_at = ? WHERE id = ?
	`, StateFailed, string(code), jobErr.Error(), now, id)
	telemetry.JobTransitions.WithLabelValues(tool, string(StateFailed)).Inc()
}

// updateProgress throttles row writes to at most once per two seconds
// per job.
var progressThrottle = 2 * time.Second

func (q *Queue) updateProgress(ctx context.Context, id string, percent int, stats string) {
	q.progressMu.Lock()
	last, ok := q.lastProgressSent[id]
	if ok && time.Since(last) < progressThrottle {
		q.progressMu.Unlock()
		return
	}
	q.lastProgressSent[id] = time.Now()
	q.progressMu.Unlock()

	_, _ = q.exec(ctx, `UPDATE jobs SET progress = ? WHERE id = ?`, percent, id)
	q.log.Info("job progress", "job_id", id, "progress", percent, "stats", stats)
}

// Close releases the underlying database handle.
func (q *Queue) Close() error {
	return q.db.Close()
}
