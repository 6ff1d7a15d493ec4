// internal/audit/duplicates.go
//
// Duplicate-identity detection.
//
// For every inferred identity key that lacks a uniqueness constraint, runs
// one GROUP BY … HAVING COUNT(*) > 1 query and reports how many rows exist
// beyond the first occurrence of each duplicated value.

package audit

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

type duplicatesModule struct{}

func (m *duplicatesModule) ID() string       { return "GENERIC_DUPLICATES" }
func (m *duplicatesModule) Name() string     { return "Duplicate Entity Detection" }
func (m *duplicatesModule) Category() string { return ModuleGeneric }

// duplicateHighWater escalates severity once the surplus row count passes
// this bound.
const duplicateHighWater = 50

const sampleRows = 10

func (m *duplicatesModule) Run(ctx context.Context, ac *Context) ([]Issue, error) {
	var issues []Issue

	for _, key := range ac.Model.IdentityKeys {
		if !ac.Budget.CanRunQuery() {
			break
		}
		if key.HasUniqueConstraint {
			continue
		}
		table := ac.Snapshot.TableByQualified(key.TableName)
		if table == nil || table.Column(key.ColumnName) == nil {
			continue
		}

		query := fmt.Sprintf(
			`SELECT %s AS value, COUNT(*) AS dup_count FROM %s.%s WHERE %s IS NOT NULL GROUP BY %s HAVING COUNT(*) > 1`,
			pq.QuoteIdentifier(key.ColumnName),
			pq.QuoteIdentifier(table.Schema), pq.QuoteIdentifier(table.Name),
			pq.QuoteIdentifier(key.ColumnName), pq.QuoteIdentifier(key.ColumnName),
		)
		if ac.Cfg.ShouldSample(table.ApproxRowCount) {
			query += fmt.Sprintf(" LIMIT %d", ac.Cfg.SampleLimit)
		}

		rows, err := ac.DB.QueryxContext(ctx, query)
		if err != nil {
			zap.S().Warnw("duplicate check query failed",
				"table", key.TableName, "column", key.ColumnName, "err", err)
			continue
		}

		var (
			groups  int64
			surplus int64
			sample  []map[string]any
			scanErr error
		)
		for rows.Next() {
			rec := map[string]any{}
			if scanErr = rows.MapScan(rec); scanErr != nil {
				break
			}
			groups++
			if n, ok := asInt64(rec["dup_count"]); ok && n > 1 {
				surplus += n - 1
			}
			if len(sample) < sampleRows {
				sample = append(sample, rec)
			}
		}
		if scanErr == nil {
			scanErr = rows.Err()
		}
		rows.Close()
		if err := ac.Budget.RecordQuery(groups); err != nil {
			return issues, err
		}
		if scanErr != nil {
			// Partial counts would understate the evidence; treat like a
			// failed query and move on.
			zap.S().Warnw("duplicate check scan failed",
				"table", key.TableName, "column", key.ColumnName, "err", scanErr)
			continue
		}
		if groups == 0 {
			continue
		}

		severity := SeverityMedium
		if surplus > duplicateHighWater {
			severity = SeverityHigh
		}

		issues = append(issues, Issue{
			ID:       fmt.Sprintf("duplicate-%s-%s", table.Name, key.ColumnName),
			ModuleID: m.ID(),
			Category: CategoryIdentity,
			Severity: severity,
			Title:    fmt.Sprintf("Duplicate %s values in %s", key.KeyType, table.Name),
			Description: fmt.Sprintf(
				"Found %d duplicate %s values in column `%s` of table `%s`, affecting %d rows beyond the first occurrence.",
				groups, key.KeyType, key.ColumnName, table.Name, surplus),
			Evidence: Evidence{
				SQL:             query,
				ResultSample:    sample,
				AffectedTables:  []string{table.Name},
				AffectedColumns: []string{key.ColumnName},
				RowCount:        rowCount(surplus),
			},
			Impact:          "User-facing screens will show inconsistent totals, and lookups by this key may return unexpected rows.",
			Confidence:      0.95,
			DetectionMethod: DetectDataEvidence,
		})
	}
	return issues, nil
}

// asInt64 normalises driver-dependent numeric representations.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case []byte:
		var out int64
		if _, err := fmt.Sscan(string(n), &out); err == nil {
			return out, true
		}
	case string:
		var out int64
		if _, err := fmt.Sscan(n, &out); err == nil {
			return out, true
		}
	}
	return 0, false
}
