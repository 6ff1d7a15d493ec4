// internal/audit/ambiguous.go
//
// Ambiguous-entity detection: pass-through of the inferrer's
// source-of-truth conflicts.  No queries.

package audit

import (
	"context"
	"fmt"
	"strings"
)

type ambiguousEntitiesModule struct{}

func (m *ambiguousEntitiesModule) ID() string       { return "GENERIC_AMBIGUOUS_ENTITIES" }
func (m *ambiguousEntitiesModule) Name() string     { return "Ambiguous Entity Detection" }
func (m *ambiguousEntitiesModule) Category() string { return ModuleGeneric }

func (m *ambiguousEntitiesModule) Run(_ context.Context, ac *Context) ([]Issue, error) {
	var issues []Issue

	for _, cand := range ac.Model.SourceOfTruthCandidates {
		issues = append(issues, Issue{
			ID:          "ambiguous-" + cand.Concept,
			ModuleID:    m.ID(),
			Category:    CategoryMetric,
			Severity:    SeverityHigh,
			Title:       fmt.Sprintf("Multiple tables represent '%s'", cand.Concept),
			Description: cand.Reasoning,
			Evidence: Evidence{
				SQL:            "-- tables: " + strings.Join(cand.Tables, ", "),
				AffectedTables: cand.Tables,
			},
			Impact:          "Metrics will differ depending on which table is queried; there is no single source of truth.",
			Confidence:      cand.Confidence,
			DetectionMethod: DetectHeuristic,
		})
	}
	return issues, nil
}
