// internal/fixplan/aggregator.go
//
// Fix aggregation.
//
// Merges the zero-cost heuristic fixes attached to issues with the
// externally drafted plan from the text-completion collaborator.  Heuristic
// migrations come first — they are schema-derived and safe to rank ahead of
// drafted SQL.  The external plan may be empty (collaborator failure
// degrades gracefully); nothing is deduplicated here, the verification
// differ reconciles overlaps across runs.

package fixplan

import "github.com/yanizio/dbaudit/internal/audit"

// Aggregate builds the run's FixPlan from issues and the external draft.
func Aggregate(issues []audit.Issue, external audit.FixPlan) audit.FixPlan {
	plan := audit.FixPlan{
		CanonicalRule:       external.CanonicalRule,
		Migrations:          []audit.SqlFix{},
		Backfills:           []audit.SqlFix{},
		VerificationQueries: []string{},
		AppCodeChanges:      []string{},
	}

	for _, issue := range issues {
		if issue.AttachedFix == nil {
			continue
		}
		plan.Migrations = append(plan.Migrations, issue.AttachedFix.Migrations...)
		plan.Backfills = append(plan.Backfills, issue.AttachedFix.Backfills...)
	}

	plan.Migrations = append(plan.Migrations, external.Migrations...)
	plan.Backfills = append(plan.Backfills, external.Backfills...)
	plan.VerificationQueries = append(plan.VerificationQueries, external.VerificationQueries...)
	plan.AppCodeChanges = append(plan.AppCodeChanges, external.AppCodeChanges...)
	return plan
}
