// internal/audit/budget.go
//
// Per-module query and row budgets.
//
// Context
// -------
// Audit modules run analytical queries against an unknown, possibly huge,
// live database.  Each module gets its own Budget: a query-count allowance
// plus a row-volume ceiling that acts as a safety valve against a single
// module scanning unbounded data within its query allowance.  The tracker
// only informs — modules must check CanRunQuery before every query and stop
// early; nothing here blocks or throttles.
//
// Sampling is a separate, pure decision: tables above the configured row
// threshold get a bounded LIMIT instead of a full scan, independent of the
// tracker state.

package audit

import "errors"

// ErrRowBudgetExceeded is returned by RecordQuery when cumulative rows
// processed cross MaxRowsPerQuery × MaxQueriesPerModule.  Modules propagate
// it; the runner's per-module isolation turns it into a skipped module.
var ErrRowBudgetExceeded = errors.New("audit: row processing budget exceeded")

// BudgetConfig bounds a single module's work.  All values are tunable
// configuration, not load-bearing constants.
type BudgetConfig struct {
	MaxQueriesPerModule int
	MaxRowsPerQuery     int
	StatementTimeoutMs  int
	SampleThreshold     int64
	SampleLimit         int
}

// DefaultBudget mirrors the shipped configuration defaults.
func DefaultBudget() BudgetConfig {
	return BudgetConfig{
		MaxQueriesPerModule: 10,
		MaxRowsPerQuery:     10000,
		StatementTimeoutMs:  30000,
		SampleThreshold:     100000,
		SampleLimit:         10000,
	}
}

// Budget tracks one module's consumption.  Not safe for concurrent use;
// modules run sequentially on one connection by design.
type Budget struct {
	cfg       BudgetConfig
	remaining int
	totalRows int64
}

// NewBudget returns a fresh tracker for one module.
func NewBudget(cfg BudgetConfig) *Budget {
	return &Budget{cfg: cfg, remaining: cfg.MaxQueriesPerModule}
}

// QueriesRemaining reports how many queries the module may still run.
func (b *Budget) QueriesRemaining() int { return b.remaining }

// CanRunQuery reports whether the module may issue another query.
func (b *Budget) CanRunQuery() bool { return b.remaining > 0 }

// RecordQuery decrements the allowance and accumulates processed rows.  It
// fails hard once cumulative rows exceed the module's row ceiling.
func (b *Budget) RecordQuery(rows int64) error {
	b.remaining--
	b.totalRows += rows
	ceiling := int64(b.cfg.MaxRowsPerQuery) * int64(b.cfg.MaxQueriesPerModule)
	if b.totalRows > ceiling {
		return ErrRowBudgetExceeded
	}
	return nil
}

// ShouldSample reports whether a table is large enough that audit queries
// must be bounded rather than scanned in full.  Pure function of the
// approximate row count.
func (cfg BudgetConfig) ShouldSample(approxRows int64) bool {
	return approxRows > cfg.SampleThreshold
}
