// internal/audit/module.go
//
// Audit module contract, registry, and sequential runner.
//
// Context
// -------
// A module is one pluggable integrity check: it reads the snapshot and the
// inferred model, optionally runs budgeted queries through the shared
// executor, and emits zero or more Issues.  The registry is a fixed ordered
// list — new modules are appended, never reordered — so issue ordering is
// stable across runs of the same build, which the verification differ
// relies on.
//
// The runner executes modules strictly sequentially: they share one
// database connection and one statement-timeout setting, and concurrent use
// of a single connection is undefined.  Each module is isolated — an error
// or panic is logged and skipped, and the audit continues.  A single bad
// module must never abort the whole audit.

package audit

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/dbaudit/internal/inference"
	"github.com/yanizio/dbaudit/internal/metrics"
	"github.com/yanizio/dbaudit/internal/snapshot"
)

// Module categories.
const (
	ModuleGeneric       = "GENERIC"
	ModuleDomainExample = "DOMAIN_EXAMPLE"
	ModuleRuleEnforcer  = "RULE_ENFORCER"
)

// Context is everything a module may consult while running.  DB is a plain
// sqlx pool; tests substitute a sqlmock-backed one via sqlx.NewDb.
type Context struct {
	Snapshot *snapshot.Snapshot
	Model    *inference.Model
	DB       *sqlx.DB
	Budget   *Budget
	Cfg      BudgetConfig
}

// Module is one integrity check.
type Module interface {
	ID() string
	Name() string
	Category() string
	Run(ctx context.Context, ac *Context) ([]Issue, error)
}

// registry is the fixed ordered module list.  Append only.
var registry = []Module{
	&orphanRowsModule{},
	&duplicatesModule{},
	&constraintGapsModule{},
	&inconsistentTypesModule{},
	&ambiguousEntitiesModule{},
	&metricRiskModule{},
}

// Modules returns the registered modules in execution order.
func Modules() []Module { return registry }

// ModuleByID returns a module by ID, or nil.
func ModuleByID(id string) Module {
	for _, m := range registry {
		if m.ID() == id {
			return m
		}
	}
	return nil
}

// ProgressFunc receives (completed, total, currentModuleName) before each
// module starts.
type ProgressFunc func(completed, total int, current string)

// Run executes every registered module sequentially against db and returns
// the union of their issues.  The statement timeout is set once, up front,
// so no module query can hang past the configured bound.
func Run(ctx context.Context, snap *snapshot.Snapshot, model *inference.Model,
	db *sqlx.DB, cfg BudgetConfig, progress ProgressFunc) ([]Issue, error) {

	if _, err := db.ExecContext(ctx,
		fmt.Sprintf("SET statement_timeout = %d", cfg.StatementTimeoutMs)); err != nil {
		return nil, fmt.Errorf("set statement timeout: %w", err)
	}

	modules := Modules()
	var all []Issue

	for i, m := range modules {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		if progress != nil {
			progress(i, len(modules), m.Name())
		}

		ac := &Context{
			Snapshot: snap,
			Model:    model,
			DB:       db,
			Budget:   NewBudget(cfg),
			Cfg:      cfg,
		}

		issues, err := runIsolated(ctx, m, ac)
		if err != nil {
			metrics.ModuleFailuresTotal.Inc()
			zap.S().Errorw("audit module failed, skipping",
				"module", m.ID(), "err", err)
			continue
		}
		all = append(all, issues...)
	}

	metrics.IssuesFoundTotal.Add(float64(len(all)))
	return all, nil
}

// runIsolated converts a module panic into an error so one misbehaving
// check cannot take down the run.
func runIsolated(ctx context.Context, m Module, ac *Context) (issues []Issue, err error) {
	defer func() {
		if r := recover(); r != nil {
			issues = nil
			err = fmt.Errorf("module %s panicked: %v", m.ID(), r)
		}
	}()
	return m.Run(ctx, ac)
}
