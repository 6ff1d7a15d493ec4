// internal/fixexec/executor.go
//
// Transactional application of selected fixes against a target database.
//
// Context
// -------
// The user picks fixes by index from a completed run's plan; the selection
// is applied in one transaction with fail-fast semantics — the first
// failing statement rolls back everything, no partial application.  On
// success a verification run is enqueued with parentRunId pointing at the
// baseline, and the orchestrator is re-triggered so the follow-up audit
// measures what the fixes actually changed.
//
// Indices address the concatenation of plan.Migrations then plan.Backfills,
// which is exactly the order the plan is presented in.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.

package fixexec

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/dbaudit/internal/audit"
	"github.com/yanizio/dbaudit/internal/database"
	"github.com/yanizio/dbaudit/internal/ledger"
	"github.com/yanizio/dbaudit/internal/metrics"
)

// SecretSource resolves a credential reference to a secret value.
type SecretSource interface {
	GetKV(ctx context.Context, secretPath, key string, ttl time.Duration) (string, error)
}

// Executor applies fix selections and enqueues verification runs.
type Executor struct {
	store    *ledger.Store
	secrets  SecretSource
	dsnKey   string
	cacheTTL time.Duration
	log      *zap.SugaredLogger

	// openTarget is swappable so tests can hand back a mock pool.
	openTarget func(dsn string) (*sqlx.DB, error)
	// trigger re-starts the orchestrator's consumer loop.
	trigger func()
}

// New wires an Executor.  trigger is typically Orchestrator.Trigger.
func New(store *ledger.Store, secrets SecretSource, dsnKey string,
	cacheTTL time.Duration, trigger func(), log *zap.SugaredLogger) *Executor {
	return &Executor{
		store:      store,
		secrets:    secrets,
		dsnKey:     dsnKey,
		cacheTTL:   cacheTTL,
		log:        log,
		openTarget: database.OpenTarget,
		trigger:    trigger,
	}
}

// selectFixes resolves indices against the plan's presented order.
func selectFixes(plan audit.FixPlan, indices []int) ([]audit.SqlFix, error) {
	all := make([]audit.SqlFix, 0, len(plan.Migrations)+len(plan.Backfills))
	all = append(all, plan.Migrations...)
	all = append(all, plan.Backfills...)

	picked := make([]audit.SqlFix, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(all) {
			return nil, fmt.Errorf("fixexec: index %d out of range (plan has %d fixes)", i, len(all))
		}
		picked = append(picked, all[i])
	}
	if len(picked) == 0 {
		return nil, fmt.Errorf("fixexec: no fixes selected")
	}
	return picked, nil
}

// Apply executes the selected fixes from baselineRunID's plan and, on
// success, enqueues a verification run linked to the baseline.
func (e *Executor) Apply(ctx context.Context, baselineRunID string, indices []int) (*ledger.AuditRun, error) {
	run, err := e.store.RunByID(ctx, baselineRunID)
	if err != nil {
		return nil, err
	}
	if run.Status != ledger.StatusCompleted {
		return nil, fmt.Errorf("fixexec: run %s is %s, fixes need a COMPLETED baseline",
			baselineRunID, run.Status)
	}

	result, err := e.store.ResultByRunID(ctx, baselineRunID)
	if err != nil {
		return nil, err
	}
	fixes, err := selectFixes(result.FixPlan, indices)
	if err != nil {
		return nil, err
	}

	conn, err := e.store.ConnectionByID(ctx, run.ConnectionID)
	if err != nil {
		return nil, err
	}
	dsn, err := e.secrets.GetKV(ctx, conn.CredentialRef, e.dsnKey, e.cacheTTL)
	if err != nil {
		return nil, fmt.Errorf("fixexec: resolving credentials: %w", err)
	}

	if err := e.applyInTransaction(ctx, dsn, fixes); err != nil {
		return nil, err
	}
	metrics.FixPlansAppliedTotal.Inc()
	e.log.Infow("fixes applied", "run", baselineRunID, "count", len(fixes))

	verification, err := e.store.CreateRun(ctx, run.ConnectionID, &run.ID)
	if err != nil {
		return nil, fmt.Errorf("fixexec: enqueue verification run: %w", err)
	}
	e.trigger()
	return verification, nil
}

// applyInTransaction opens the target, runs every statement, and commits
// only if all succeed.  Rollback is unconditional on any error path.
func (e *Executor) applyInTransaction(ctx context.Context, dsn string, fixes []audit.SqlFix) error {
	target, err := e.openTarget(dsn)
	if err != nil {
		return fmt.Errorf("fixexec: connecting to target: %w", err)
	}
	defer target.Close()

	tx, err := target.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("fixexec: begin: %w", err)
	}

	for i, fix := range fixes {
		if _, err := tx.ExecContext(ctx, fix.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("fixexec: statement %d (%s) failed, rolled back: %w",
				i, fix.Description, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("fixexec: commit: %w", err)
	}
	return nil
}
