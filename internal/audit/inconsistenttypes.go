// internal/audit/inconsistenttypes.go
//
// Type-inconsistency detection.
//
// Schema-only scan for two smells: an FK-shaped column whose type disagrees
// with the apparent parent table's primary-key type, and free-text columns
// whose name suggests a date or time value.

package audit

import (
	"context"
	"fmt"
	"strings"
)

type inconsistentTypesModule struct{}

func (m *inconsistentTypesModule) ID() string       { return "GENERIC_TYPE_MISMATCH" }
func (m *inconsistentTypesModule) Name() string     { return "Type Inconsistency Detection" }
func (m *inconsistentTypesModule) Category() string { return ModuleGeneric }

func (m *inconsistentTypesModule) Run(_ context.Context, ac *Context) ([]Issue, error) {
	var issues []Issue

	for i := range ac.Snapshot.Tables {
		table := &ac.Snapshot.Tables[i]
		for _, col := range table.Columns {
			if !strings.HasSuffix(col.Name, "_id") || col.Name == "id" {
				continue
			}
			parent := ac.Snapshot.ReferencedTable(col.Name)
			if parent == nil {
				continue
			}
			parentID := parent.Column("id")
			if parentID == nil || parentID.DataType == col.DataType {
				continue
			}

			issues = append(issues, Issue{
				ID:       fmt.Sprintf("type-mismatch-%s-%s", table.Name, col.Name),
				ModuleID: m.ID(),
				Category: CategoryType,
				Severity: SeverityHigh,
				Title:    fmt.Sprintf("Type mismatch: %s.%s vs %s.id", table.Name, col.Name, parent.Name),
				Description: fmt.Sprintf(
					"Column `%s` in table `%s` is %s but references `%s`.id which is %s.",
					col.Name, table.Name, col.DataType, parent.Name, parentID.DataType),
				Evidence: Evidence{
					SQL:             "-- detected from schema, no query issued",
					AffectedTables:  []string{table.Name, parent.Name},
					AffectedColumns: []string{col.Name, "id"},
				},
				Impact:          "Joins may fail silently or perform poorly, and inserts risk silent coercion.",
				Confidence:      0.95,
				DetectionMethod: DetectConstraint,
			})
		}
	}

	for i := range ac.Snapshot.Tables {
		table := &ac.Snapshot.Tables[i]
		for _, col := range table.Columns {
			if !dateLikeName(col.Name) || !textType(col.DataType) {
				continue
			}
			issues = append(issues, Issue{
				ID:       fmt.Sprintf("date-as-text-%s-%s", table.Name, col.Name),
				ModuleID: m.ID(),
				Category: CategoryType,
				Severity: SeverityMedium,
				Title:    fmt.Sprintf("Date stored as text: %s.%s", table.Name, col.Name),
				Description: fmt.Sprintf(
					"Column `%s` in table `%s` appears to hold a date or time but is stored as %s.",
					col.Name, table.Name, col.DataType),
				Evidence: Evidence{
					SQL:             "-- detected from schema, no query issued",
					AffectedTables:  []string{table.Name},
					AffectedColumns: []string{col.Name},
				},
				Impact:          "Date comparisons and sorting will misbehave, and timezone handling is impossible.",
				Confidence:      0.7,
				DetectionMethod: DetectHeuristic,
			})
		}
	}
	return issues, nil
}

func dateLikeName(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "date") || strings.Contains(lower, "time") ||
		strings.Contains(lower, "created") || strings.Contains(lower, "updated")
}

func textType(dataType string) bool {
	return strings.Contains(dataType, "char") || strings.Contains(dataType, "text")
}
