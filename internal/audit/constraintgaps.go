// internal/audit/constraintgaps.go
//
// Missing-constraint detection.
//
// Schema-only scan: identity keys without a uniqueness constraint, and
// FK-shaped columns without a declared FK that have a plausible referenced
// table in the snapshot.  The FK case carries a ready-made ALTER TABLE fix
// since the statement is fully derivable from the schema.

package audit

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/yanizio/dbaudit/internal/inference"
	"github.com/yanizio/dbaudit/internal/snapshot"
)

type constraintGapsModule struct{}

func (m *constraintGapsModule) ID() string       { return "GENERIC_CONSTRAINT_GAPS" }
func (m *constraintGapsModule) Name() string     { return "Missing Constraints Detection" }
func (m *constraintGapsModule) Category() string { return ModuleGeneric }

func (m *constraintGapsModule) Run(_ context.Context, ac *Context) ([]Issue, error) {
	var issues []Issue

	for _, key := range ac.Model.IdentityKeys {
		if key.HasUniqueConstraint {
			continue
		}
		_, tableName, _ := cutQualified(key.TableName)

		severity := SeverityMedium
		if key.KeyType == inference.KeyEmail || key.KeyType == inference.KeyExternalID {
			severity = SeverityHigh
		}

		issues = append(issues, Issue{
			ID:       fmt.Sprintf("missing-unique-%s-%s", tableName, key.ColumnName),
			ModuleID: m.ID(),
			Category: CategoryIdentity,
			Severity: severity,
			Title:    fmt.Sprintf("Missing unique constraint on %s.%s", tableName, key.ColumnName),
			Description: fmt.Sprintf(
				"Identity column `%s` (%s) in table `%s` lacks a unique constraint.",
				key.ColumnName, key.KeyType, tableName),
			Evidence: Evidence{
				SQL:             "-- detected from schema, no query issued",
				AffectedTables:  []string{tableName},
				AffectedColumns: []string{key.ColumnName},
			},
			Impact:          "Duplicate identity values can accumulate, producing data-quality drift and ambiguous lookups.",
			Confidence:      0.9,
			DetectionMethod: DetectConstraint,
		})
	}

	for i := range ac.Snapshot.Tables {
		table := &ac.Snapshot.Tables[i]
		for _, col := range table.Columns {
			if !snapshot.LooksLikeForeignKey(col.Name) || table.HasForeignKeyOn(col.Name) {
				continue
			}
			parent := ac.Snapshot.ReferencedTable(col.Name)
			if parent == nil {
				continue
			}

			fixSQL := fmt.Sprintf(
				`ALTER TABLE %s.%s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s.%s(id) ON DELETE SET NULL;`,
				pq.QuoteIdentifier(table.Schema), pq.QuoteIdentifier(table.Name),
				pq.QuoteIdentifier(fmt.Sprintf("fk_%s_%s", table.Name, col.Name)),
				pq.QuoteIdentifier(col.Name),
				pq.QuoteIdentifier(parent.Schema), pq.QuoteIdentifier(parent.Name),
			)

			issues = append(issues, Issue{
				ID:       fmt.Sprintf("missing-fk-%s-%s", table.Name, col.Name),
				ModuleID: m.ID(),
				Category: CategoryRelationship,
				Severity: SeverityMedium,
				Title:    fmt.Sprintf("Missing foreign key constraint on %s.%s", table.Name, col.Name),
				Description: fmt.Sprintf(
					"Column `%s` in table `%s` appears to reference `%s` but has no foreign key constraint.",
					col.Name, table.Name, parent.Name),
				Evidence: Evidence{
					SQL:             "-- suggested: " + fixSQL,
					AffectedTables:  []string{table.Name, parent.Name},
					AffectedColumns: []string{col.Name},
				},
				Impact:          "Orphan rows and referential-integrity violations can be inserted unchecked.",
				Confidence:      0.75,
				DetectionMethod: DetectHeuristic,
				AttachedFix: &FixPlan{
					Migrations: []SqlFix{{
						Description:  fmt.Sprintf("Add foreign key constraint on %s.%s", table.Name, col.Name),
						SQL:          fixSQL,
						SafetyRating: SafetySafe,
						Reasoning:    fmt.Sprintf("Enforces referential integrity between %s and %s.", table.Name, parent.Name),
					}},
					Backfills:           []SqlFix{},
					VerificationQueries: []string{},
					AppCodeChanges:      []string{},
				},
			})
		}
	}
	return issues, nil
}

// cutQualified splits "schema.table" into its parts; the schema is empty
// when the name is bare.
func cutQualified(qualified string) (schema, name string, ok bool) {
	for i := 0; i < len(qualified); i++ {
		if qualified[i] == '.' {
			return qualified[:i], qualified[i+1:], true
		}
	}
	return "", qualified, false
}
