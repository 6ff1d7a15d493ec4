// internal/audit/orphans.go
//
// Orphan-row detection.
//
// Finds FK-shaped columns with no declared constraint whose values point at
// rows that do not exist in the apparent parent table, via a budgeted
// anti-join count per candidate column.  Large tables get a bounded inner
// scan instead of a full pass.

package audit

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/yanizio/dbaudit/internal/snapshot"
)

type orphanRowsModule struct{}

func (m *orphanRowsModule) ID() string       { return "GENERIC_ORPHANS" }
func (m *orphanRowsModule) Name() string     { return "Orphan Rows Detection" }
func (m *orphanRowsModule) Category() string { return ModuleGeneric }

// orphanHighWater escalates severity once a candidate column has more than
// this many dangling references.
const orphanHighWater = 100

func (m *orphanRowsModule) Run(ctx context.Context, ac *Context) ([]Issue, error) {
	var issues []Issue

	for i := range ac.Snapshot.Tables {
		table := &ac.Snapshot.Tables[i]
		if !ac.Budget.CanRunQuery() {
			break
		}

		for _, col := range table.Columns {
			if !ac.Budget.CanRunQuery() {
				break
			}
			if !snapshot.LooksLikeForeignKey(col.Name) || table.HasForeignKeyOn(col.Name) {
				continue
			}
			parent := ac.Snapshot.ReferencedTable(col.Name)
			if parent == nil || parent.Column("id") == nil {
				continue
			}

			query := orphanCountQuery(table, col.Name, parent, ac.Cfg)
			var orphans int64
			if err := ac.DB.GetContext(ctx, &orphans, query); err != nil {
				zap.S().Warnw("orphan check query failed",
					"table", table.Qualified(), "column", col.Name, "err", err)
				continue
			}
			if err := ac.Budget.RecordQuery(1); err != nil {
				return issues, err
			}
			if orphans == 0 {
				continue
			}

			severity := SeverityMedium
			if orphans > orphanHighWater {
				severity = SeverityHigh
			}

			issues = append(issues, Issue{
				ID:       fmt.Sprintf("orphan-%s-%s", table.Name, col.Name),
				ModuleID: m.ID(),
				Category: CategoryRelationship,
				Severity: severity,
				Title:    fmt.Sprintf("Orphan rows detected in %s.%s", table.Name, col.Name),
				Description: fmt.Sprintf(
					"Found %d rows in table `%s` where column `%s` references records missing from `%s`.",
					orphans, table.Name, col.Name, parent.Name),
				Evidence: Evidence{
					SQL:             query,
					AffectedTables:  []string{table.Name, parent.Name},
					AffectedColumns: []string{col.Name},
					RowCount:        rowCount(orphans),
				},
				Impact:          "Dashboard queries may show inconsistent counts, and related data may appear incomplete.",
				Confidence:      0.85,
				DetectionMethod: DetectDataEvidence,
			})
		}
	}
	return issues, nil
}

// orphanCountQuery builds the anti-join count.  When the table exceeds the
// sampling threshold the inner scan is LIMIT-bounded so worst-case cost
// stays proportional to the sample, not the table.
func orphanCountQuery(t *snapshot.Table, column string, parent *snapshot.Table, cfg BudgetConfig) string {
	inner := fmt.Sprintf(
		`SELECT 1 FROM %s.%s t WHERE t.%s IS NOT NULL AND NOT EXISTS (SELECT 1 FROM %s.%s r WHERE r.id = t.%s)`,
		pq.QuoteIdentifier(t.Schema), pq.QuoteIdentifier(t.Name),
		pq.QuoteIdentifier(column),
		pq.QuoteIdentifier(parent.Schema), pq.QuoteIdentifier(parent.Name),
		pq.QuoteIdentifier(column),
	)
	if cfg.ShouldSample(t.ApproxRowCount) {
		inner += fmt.Sprintf(" LIMIT %d", cfg.SampleLimit)
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM (%s) q", inner)
}
