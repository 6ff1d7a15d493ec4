// internal/orchestrator/orchestrator.go
//
// Single-flight queue consumer driving audit runs through the pipeline.
//
// Context
// -------
// States: QUEUED → RUNNING → {COMPLETED | FAILED}.  Trigger is cheap and
// reentrant: a weighted semaphore of one admits a single consumer loop, and
// the ledger's conditional claim makes racing triggers harmless.  Exactly
// one run executes at a time; a misbehaving run must not starve others of
// connection or credential resources, and progress reporting assumes one
// active run.
//
// The target-database connection is held only for introspection + module
// execution and is closed before fix generation starts, whatever the
// outcome.  Module execution and fix generation each run under their own
// timeout, nested inside the run-level timeout.  Any stage error or timeout
// transitions the run to FAILED with a human-readable terminal log line;
// there is no automatic retry.
//
// Progress and log writes are flushed to the ledger before the next stage
// begins, because external pollers read them with no other synchronization
// signal.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/yanizio/dbaudit/internal/audit"
	"github.com/yanizio/dbaudit/internal/completion"
	"github.com/yanizio/dbaudit/internal/config"
	"github.com/yanizio/dbaudit/internal/database"
	"github.com/yanizio/dbaudit/internal/fixplan"
	"github.com/yanizio/dbaudit/internal/inference"
	"github.com/yanizio/dbaudit/internal/introspect"
	"github.com/yanizio/dbaudit/internal/ledger"
	"github.com/yanizio/dbaudit/internal/metrics"
	"github.com/yanizio/dbaudit/internal/snapshot"
	"github.com/yanizio/dbaudit/internal/verify"
)

// SecretSource resolves a credential reference to a secret value.
// *vault.Client satisfies it.
type SecretSource interface {
	GetKV(ctx context.Context, secretPath, key string, ttl time.Duration) (string, error)
}

// Orchestrator owns run lifecycle transitions.  Construct once and share.
type Orchestrator struct {
	store   *ledger.Store
	secrets SecretSource
	collab  *completion.Collaborator
	cfg     *config.Config
	log     *zap.SugaredLogger

	// openTarget is swappable so tests can hand back a mock pool.
	openTarget func(dsn string) (*sqlx.DB, error)

	gate *semaphore.Weighted
}

// New wires an Orchestrator.
func New(store *ledger.Store, secrets SecretSource, collab *completion.Collaborator,
	cfg *config.Config, log *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{
		store:      store,
		secrets:    secrets,
		collab:     collab,
		cfg:        cfg,
		log:        log,
		openTarget: database.OpenTarget,
		gate:       semaphore.NewWeighted(1),
	}
}

// Trigger starts the consumer loop unless one is already running.  Safe to
// call from any goroutine at any time; extra triggers are no-ops.
func (o *Orchestrator) Trigger() {
	if !o.gate.TryAcquire(1) {
		return
	}
	go o.consume()
}

// consume drains the queue, then exits.  A submission that lands after the
// final empty check re-enters through the post-release re-trigger.
func (o *Orchestrator) consume() {
	defer func() {
		o.gate.Release(1)
		// A run enqueued between the empty check and the release would
		// otherwise sit until the next submission.
		if _, err := o.store.OldestQueued(context.Background()); err == nil {
			o.Trigger()
		}
	}()

	for {
		run, err := o.store.OldestQueued(context.Background())
		if errors.Is(err, ledger.ErrNotFound) {
			return
		}
		if err != nil {
			o.log.Errorw("queue poll failed", "err", err)
			return
		}

		if err := o.store.Claim(context.Background(), run.ID); err != nil {
			if errors.Is(err, ledger.ErrNotClaimed) {
				continue
			}
			o.log.Errorw("claim failed", "run", run.ID, "err", err)
			return
		}
		o.process(run)
	}
}

/*────────────────────────────── pipeline ───────────────────────────────────*/

// process drives one claimed run to a terminal state.
func (o *Orchestrator) process(run *ledger.AuditRun) {
	metrics.RunsStartedTotal.Inc()
	metrics.ActiveRuns.Inc()
	defer metrics.ActiveRuns.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Timeouts.Run)
	defer cancel()

	result, err := o.execute(ctx, run)
	if err != nil {
		o.fail(run.ID, err)
		return
	}

	o.checkpoint(run.ID, 95, "Persisting results")
	if err := o.store.SaveResult(context.Background(), result); err != nil {
		o.fail(run.ID, fmt.Errorf("persisting results failed: %w", err))
		return
	}
	if err := o.store.MarkCompleted(context.Background(), run.ID); err != nil {
		o.log.Errorw("completion transition failed", "run", run.ID, "err", err)
		return
	}
	o.appendLog(run.ID, "Audit completed")
	metrics.RunsCompletedTotal.Inc()
	o.log.Infow("run completed", "run", run.ID, "issues", len(result.Issues))
}

// execute runs the pipeline stages and assembles the result.  Stage errors
// come back wrapped with a human-readable prefix; the caller turns them
// into the terminal log line.
func (o *Orchestrator) execute(ctx context.Context, run *ledger.AuditRun) (*ledger.AuditResult, error) {
	o.checkpoint(run.ID, 5, "Resolving credentials")

	conn, err := o.store.ConnectionByID(ctx, run.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("loading connection failed: %w", err)
	}
	dsn, err := o.secrets.GetKV(ctx, conn.CredentialRef, o.cfg.Vault.DSNKey, o.cfg.Vault.CacheTTL)
	if err != nil {
		// The error may embed the Vault path but never the secret value.
		return nil, fmt.Errorf("resolving credentials failed: %w", err)
	}

	snap, issues, model, err := o.inspectAndAudit(ctx, run, dsn)
	if err != nil {
		return nil, err
	}

	o.checkpoint(run.ID, 80, "Drafting fix plan")
	external := o.draftExternalPlan(ctx, model, issues)
	plan := fixplan.Aggregate(issues, external)

	if run.ParentRunID != nil {
		o.checkpoint(run.ID, 92, "Comparing against baseline")
		plan, err = o.verifyAgainstBaseline(ctx, run, issues, plan)
		if err != nil {
			return nil, err
		}
		o.checkpoint(run.ID, 93, "Baseline comparison done")
	}

	return &ledger.AuditResult{
		RunID:         run.ID,
		Snapshot:      snap,
		InferredModel: model,
		Issues:        issues,
		FixPlan:       plan,
	}, nil
}

// inspectAndAudit is the only scope holding a target connection.  The pool
// is closed on every path out, including stage timeouts.
func (o *Orchestrator) inspectAndAudit(ctx context.Context, run *ledger.AuditRun, dsn string) (
	*snapshot.Snapshot, []audit.Issue, *inference.Model, error) {

	target, err := o.openTarget(dsn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connecting to target failed: %w", err)
	}
	defer target.Close()

	o.checkpoint(run.ID, 10, "Introspecting schema")
	snap, err := introspect.Inspect(ctx, target, o.cfg.Budget.StatementTimeoutMs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("introspection failed: %w", err)
	}
	o.checkpoint(run.ID, 30, fmt.Sprintf("Captured %d tables", len(snap.Tables)))

	o.checkpoint(run.ID, 35, "Inferring semantic model")
	model := inference.Infer(snap)
	o.checkpoint(run.ID, 50, fmt.Sprintf("Inferred %d entities", len(model.Entities)))

	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.ModuleStage)
	defer cancel()

	total := len(audit.Modules())
	issues, err := audit.Run(stageCtx, snap, model, target, budgetConfig(o.cfg), func(done, total int, name string) {
		// Module progress subdivides 55..80 proportionally.
		pct := 55 + (25*done)/total
		o.checkpoint(run.ID, pct, fmt.Sprintf("Running module %d/%d: %s", done+1, total, name))
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("module execution failed: %w", err)
	}
	o.checkpoint(run.ID, 80, fmt.Sprintf("Modules done: %d/%d, %d issues", total, total, len(issues)))

	return snap, issues, model, nil
}

// draftExternalPlan asks the collaborator for migrations; any failure
// degrades to the empty plan so heuristic fixes still surface.
func (o *Orchestrator) draftExternalPlan(ctx context.Context, model *inference.Model, issues []audit.Issue) audit.FixPlan {
	if !o.collab.Configured() || len(issues) == 0 {
		return audit.FixPlan{}
	}
	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.FixGeneration)
	defer cancel()

	plan, err := o.collab.DraftFixPlan(stageCtx, model, issues)
	if err != nil || plan == nil {
		o.log.Warnw("fix drafting degraded to heuristics", "err", err)
		return audit.FixPlan{}
	}
	return *plan
}

// verifyAgainstBaseline diffs this run's issues against the parent run's
// and back-annotates the plan.  A missing baseline result is a run error:
// the caller explicitly asked for verification.
func (o *Orchestrator) verifyAgainstBaseline(ctx context.Context, run *ledger.AuditRun,
	issues []audit.Issue, plan audit.FixPlan) (audit.FixPlan, error) {

	baseline, err := o.store.ResultByRunID(ctx, *run.ParentRunID)
	if err != nil {
		return plan, fmt.Errorf("loading baseline result failed: %w", err)
	}

	cmp := verify.Compare(baseline.Issues, issues)
	annotated := verify.AnnotateFixes(plan, cmp)
	o.appendLog(run.ID, fmt.Sprintf(
		"Verification: %d resolved, %d remaining, %d new (%d%% of baseline resolved)",
		len(cmp.Resolved), len(cmp.Remaining), len(cmp.New), cmp.ProgressPercent))
	return annotated, nil
}

/*────────────────────────────── plumbing ───────────────────────────────────*/

// fail moves a run to FAILED with the reason as its last log line.
func (o *Orchestrator) fail(runID string, err error) {
	metrics.RunsFailedTotal.Inc()
	o.log.Errorw("run failed", "run", runID, "err", err)
	if serr := o.store.MarkFailed(context.Background(), runID, err.Error()); serr != nil {
		o.log.Errorw("failure transition failed", "run", runID, "err", serr)
	}
}

// checkpoint flushes progress and a log line before the next stage starts.
func (o *Orchestrator) checkpoint(runID string, pct int, msg string) {
	if err := o.store.SetProgress(context.Background(), runID, pct); err != nil {
		o.log.Warnw("progress write failed", "run", runID, "err", err)
	}
	o.appendLog(runID, msg)
}

func (o *Orchestrator) appendLog(runID, msg string) {
	if err := o.store.AppendLog(context.Background(), runID, msg); err != nil {
		o.log.Warnw("log write failed", "run", runID, "err", err)
	}
}

func budgetConfig(cfg *config.Config) audit.BudgetConfig {
	return audit.BudgetConfig{
		MaxQueriesPerModule: cfg.Budget.MaxQueriesPerModule,
		MaxRowsPerQuery:     cfg.Budget.MaxRowsPerQuery,
		StatementTimeoutMs:  cfg.Budget.StatementTimeoutMs,
		SampleThreshold:     cfg.Budget.SampleThreshold,
		SampleLimit:         cfg.Budget.SampleLimit,
	}
}
