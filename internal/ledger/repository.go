// internal/ledger/repository.go
//
// MySQL persistence for connections, runs, results, and progress logs.
//
// Context
// -------
// Store is a thin sqlx wrapper.  Claim is the only concurrency-sensitive
// operation: it is a conditional UPDATE on status, so two racing consumers
// observing the same oldest QUEUED run cannot both win.  Result blobs are
// marshalled and unmarshalled here and nowhere else; the rest of the
// service works with typed structs.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.

package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("ledger: not found")

// ErrNotClaimed is returned by Claim when the run was no longer QUEUED.
var ErrNotClaimed = errors.New("ledger: run already claimed")

// Store provides ledger persistence on one sqlx pool.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps an open ledger pool.  The caller owns the pool's lifetime.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

/*────────────────────────────── connections ────────────────────────────────*/

// CreateConnection registers a target database by name and Vault reference.
func (s *Store) CreateConnection(ctx context.Context, name, credentialRef string) (*Connection, error) {
	c := &Connection{
		ID:            uuid.NewString(),
		Name:          name,
		CredentialRef: credentialRef,
		CreatedAt:     time.Now().UTC(),
	}
	const q = `
	    INSERT INTO connection (id, name, credential_ref, created_at)
	    VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, c.ID, c.Name, c.CredentialRef, c.CreatedAt); err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}
	return c, nil
}

// Connections lists every registered connection, newest first.
func (s *Store) Connections(ctx context.Context) ([]Connection, error) {
	const q = `
	    SELECT id, name, credential_ref, created_at
	    FROM   connection
	    ORDER  BY created_at DESC`
	var rows []Connection
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return rows, nil
}

// ConnectionByID fetches one connection, or ErrNotFound.
func (s *Store) ConnectionByID(ctx context.Context, id string) (*Connection, error) {
	const q = `
	    SELECT id, name, credential_ref, created_at
	    FROM   connection
	    WHERE  id = ?`
	var c Connection
	if err := s.db.GetContext(ctx, &c, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("connection %s: %w", id, err)
	}
	return &c, nil
}

// DeleteConnection removes a connection row.  Existing runs keep their
// connection_id for history; they simply can no longer be re-run.
func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM connection WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete connection %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

/*──────────────────────────────── runs ─────────────────────────────────────*/

// CreateRun enqueues a new audit run in QUEUED.  parentRunID is non-nil for
// verification runs.
func (s *Store) CreateRun(ctx context.Context, connectionID string, parentRunID *string) (*AuditRun, error) {
	r := &AuditRun{
		ID:           uuid.NewString(),
		ConnectionID: connectionID,
		Status:       StatusQueued,
		Progress:     0,
		ParentRunID:  parentRunID,
		CreatedAt:    time.Now().UTC(),
	}
	const q = `
	    INSERT INTO audit_run (id, connection_id, status, progress, parent_run_id, created_at)
	    VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q,
		r.ID, r.ConnectionID, r.Status, r.Progress, r.ParentRunID, r.CreatedAt); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return r, nil
}

const runColumns = `id, connection_id, status, progress, parent_run_id,
	       created_at, started_at, completed_at`

// Runs lists runs newest first.
func (s *Store) Runs(ctx context.Context) ([]AuditRun, error) {
	const q = `
	    SELECT ` + runColumns + `
	    FROM   audit_run
	    ORDER  BY created_at DESC`
	var rows []AuditRun
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return rows, nil
}

// RunByID fetches one run, or ErrNotFound.
func (s *Store) RunByID(ctx context.Context, id string) (*AuditRun, error) {
	const q = `
	    SELECT ` + runColumns + `
	    FROM   audit_run
	    WHERE  id = ?`
	var r AuditRun
	if err := s.db.GetContext(ctx, &r, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("run %s: %w", id, err)
	}
	return &r, nil
}

// OldestQueued returns the next run the consumer should attempt to claim,
// or ErrNotFound when the queue is empty.
func (s *Store) OldestQueued(ctx context.Context) (*AuditRun, error) {
	const q = `
	    SELECT ` + runColumns + `
	    FROM   audit_run
	    WHERE  status = 'QUEUED'
	    ORDER  BY created_at ASC
	    LIMIT  1`
	var r AuditRun
	if err := s.db.GetContext(ctx, &r, q); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("oldest queued: %w", err)
	}
	return &r, nil
}

// Claim transitions a run QUEUED→RUNNING.  The status predicate makes the
// claim atomic; ErrNotClaimed means another consumer won or the run moved
// on.
func (s *Store) Claim(ctx context.Context, id string) error {
	const q = `
	    UPDATE audit_run
	    SET    status = 'RUNNING', started_at = ?
	    WHERE  id = ? AND status = 'QUEUED'`
	res, err := s.db.ExecContext(ctx, q, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("claim run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotClaimed
	}
	return nil
}

// SetProgress updates the progress percentage of a RUNNING run.
func (s *Store) SetProgress(ctx context.Context, id string, progress int) error {
	const q = `
	    UPDATE audit_run
	    SET    progress = ?
	    WHERE  id = ? AND status = 'RUNNING'`
	if _, err := s.db.ExecContext(ctx, q, progress, id); err != nil {
		return fmt.Errorf("set progress %s: %w", id, err)
	}
	return nil
}

// MarkCompleted moves a run to its successful terminal state.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	const q = `
	    UPDATE audit_run
	    SET    status = 'COMPLETED', progress = 100, completed_at = ?
	    WHERE  id = ? AND status = 'RUNNING'`
	if _, err := s.db.ExecContext(ctx, q, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("complete run %s: %w", id, err)
	}
	return nil
}

// MarkFailed moves a run to its failed terminal state.  The reason is also
// appended to the progress log so that the status endpoint surfaces it.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	const q = `
	    UPDATE audit_run
	    SET    status = 'FAILED', completed_at = ?
	    WHERE  id = ? AND status IN ('QUEUED', 'RUNNING')`
	if _, err := s.db.ExecContext(ctx, q, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("fail run %s: %w", id, err)
	}
	return s.AppendLog(ctx, id, reason)
}

/*──────────────────────────── progress log ─────────────────────────────────*/

// AppendLog writes one append-only log line for a run.
func (s *Store) AppendLog(ctx context.Context, runID, message string) error {
	const q = `
	    INSERT INTO run_log (run_id, message, created_at)
	    VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, runID, message, time.Now().UTC()); err != nil {
		return fmt.Errorf("append log %s: %w", runID, err)
	}
	return nil
}

// LatestLog returns the most recent log line for a run, or "" when the run
// has not logged anything yet.
func (s *Store) LatestLog(ctx context.Context, runID string) (string, error) {
	const q = `
	    SELECT message
	    FROM   run_log
	    WHERE  run_id = ?
	    ORDER  BY created_at DESC, id DESC
	    LIMIT  1`
	var msg string
	if err := s.db.GetContext(ctx, &msg, q, runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("latest log %s: %w", runID, err)
	}
	return msg, nil
}

/*─────────────────────────────── results ───────────────────────────────────*/

// SaveResult persists the outcome of a completed run.  Each typed struct is
// serialized to its own JSON column; this is the only place the audit types
// cross a byte boundary.
func (s *Store) SaveResult(ctx context.Context, r *AuditResult) error {
	snapJSON, err := json.Marshal(r.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	modelJSON, err := json.Marshal(r.InferredModel)
	if err != nil {
		return fmt.Errorf("marshal inferred model: %w", err)
	}
	issuesJSON, err := json.Marshal(r.Issues)
	if err != nil {
		return fmt.Errorf("marshal issues: %w", err)
	}
	planJSON, err := json.Marshal(r.FixPlan)
	if err != nil {
		return fmt.Errorf("marshal fix plan: %w", err)
	}

	const q = `
	    INSERT INTO audit_result
	           (run_id, snapshot, inferred_model, issues, fix_plan, investigation_log, created_at)
	    VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q,
		r.RunID, snapJSON, modelJSON, issuesJSON, planJSON,
		r.InvestigationLog, time.Now().UTC()); err != nil {
		return fmt.Errorf("save result %s: %w", r.RunID, err)
	}
	return nil
}

// SetInvestigationLog attaches (or replaces) the investigation log on an
// existing result.  Investigations run after completion, so this is the one
// permitted amendment to a result row.
func (s *Store) SetInvestigationLog(ctx context.Context, runID, log string) error {
	const q = `
	    UPDATE audit_result
	    SET    investigation_log = ?
	    WHERE  run_id = ?`
	if _, err := s.db.ExecContext(ctx, q, log, runID); err != nil {
		return fmt.Errorf("set investigation log %s: %w", runID, err)
	}
	return nil
}

// ResultByRunID loads and deserializes the result of a run, or ErrNotFound.
func (s *Store) ResultByRunID(ctx context.Context, runID string) (*AuditResult, error) {
	const q = `
	    SELECT run_id, snapshot, inferred_model, issues, fix_plan,
	           investigation_log, created_at
	    FROM   audit_result
	    WHERE  run_id = ?`
	var row resultRow
	if err := s.db.GetContext(ctx, &row, q, runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("result %s: %w", runID, err)
	}

	out := &AuditResult{
		RunID:            row.RunID,
		InvestigationLog: row.InvestigationLog,
		CreatedAt:        row.CreatedAt,
	}
	if err := json.Unmarshal(row.Snapshot, &out.Snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %s: %w", runID, err)
	}
	if err := json.Unmarshal(row.InferredModel, &out.InferredModel); err != nil {
		return nil, fmt.Errorf("unmarshal inferred model %s: %w", runID, err)
	}
	if err := json.Unmarshal(row.Issues, &out.Issues); err != nil {
		return nil, fmt.Errorf("unmarshal issues %s: %w", runID, err)
	}
	if err := json.Unmarshal(row.FixPlan, &out.FixPlan); err != nil {
		return nil, fmt.Errorf("unmarshal fix plan %s: %w", runID, err)
	}
	return out, nil
}
