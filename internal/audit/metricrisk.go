// internal/audit/metricrisk.go
//
// Metric-divergence risk detection.
//
// A table with FK-shaped columns pointing at two or more distinct entity
// concepts can be aggregated along either edge; when rows populate more
// than one parent simultaneously, dashboard counts silently diverge.  One
// budgeted COUNT(*) per suspect table measures how many rows are
// multi-parent.

package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/yanizio/dbaudit/internal/snapshot"
)

type metricRiskModule struct{}

func (m *metricRiskModule) ID() string       { return "GENERIC_METRIC_RISK" }
func (m *metricRiskModule) Name() string     { return "Metric Divergence Risk Detection" }
func (m *metricRiskModule) Category() string { return ModuleGeneric }

// multiParentHighWater escalates severity once this many rows populate more
// than one parent edge.
const multiParentHighWater = 100

func (m *metricRiskModule) Run(ctx context.Context, ac *Context) ([]Issue, error) {
	var issues []Issue

	for i := range ac.Snapshot.Tables {
		table := &ac.Snapshot.Tables[i]

		var fkCols []string
		concepts := map[string]struct{}{}
		for _, col := range table.Columns {
			if !snapshot.LooksLikeForeignKey(col.Name) {
				continue
			}
			fkCols = append(fkCols, col.Name)
			concept := strings.TrimSuffix(strings.TrimSuffix(col.Name, "_id"), "Id")
			concepts[strings.ToLower(concept)] = struct{}{}
		}
		if len(fkCols) < 2 || len(concepts) < 2 {
			continue
		}
		if !ac.Budget.CanRunQuery() {
			break
		}

		conds := make([]string, len(fkCols))
		for j, col := range fkCols {
			conds[j] = pq.QuoteIdentifier(col) + " IS NOT NULL"
		}
		query := fmt.Sprintf(`SELECT COUNT(*) FROM %s.%s WHERE %s`,
			pq.QuoteIdentifier(table.Schema), pq.QuoteIdentifier(table.Name),
			strings.Join(conds, " AND "))

		var multiParent int64
		if err := ac.DB.GetContext(ctx, &multiParent, query); err != nil {
			zap.S().Warnw("metric risk query failed",
				"table", table.Qualified(), "err", err)
			continue
		}
		if err := ac.Budget.RecordQuery(1); err != nil {
			return issues, err
		}
		if multiParent == 0 {
			continue
		}

		severity := SeverityMedium
		if multiParent > multiParentHighWater {
			severity = SeverityHigh
		}

		issues = append(issues, Issue{
			ID:       "metric-risk-" + table.Name,
			ModuleID: m.ID(),
			Category: CategoryMetric,
			Severity: severity,
			Title:    fmt.Sprintf("Multi-parent relationship in %s", table.Name),
			Description: fmt.Sprintf(
				"Table `%s` has %d potential parent relationships (%s); %d rows populate more than one simultaneously.",
				table.Name, len(fkCols), strings.Join(fkCols, ", "), multiParent),
			Evidence: Evidence{
				SQL:             query,
				AffectedTables:  []string{table.Name},
				AffectedColumns: fkCols,
				RowCount:        rowCount(multiParent),
			},
			Impact:          "Aggregations will diverge depending on which relationship is used for grouping.",
			Confidence:      0.85,
			DetectionMethod: DetectDataEvidence,
		})
	}
	return issues, nil
}
