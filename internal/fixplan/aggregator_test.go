// internal/fixplan/aggregator_test.go

package fixplan

import (
	"testing"

	"github.com/yanizio/dbaudit/internal/audit"
)

func issueWithFix(id, sql string) audit.Issue {
	return audit.Issue{
		ID:       id,
		ModuleID: "GENERIC_CONSTRAINT_GAPS",
		AttachedFix: &audit.FixPlan{
			Migrations: []audit.SqlFix{{
				Description:  "heuristic fix for " + id,
				SQL:          sql,
				SafetyRating: audit.SafetySafe,
			}},
		},
	}
}

func TestAggregateHeuristicFixesComeFirst(t *testing.T) {
	issues := []audit.Issue{
		issueWithFix("missing-fk-orders-customer_id",
			`ALTER TABLE orders ADD CONSTRAINT fk_orders_customer_id FOREIGN KEY (customer_id) REFERENCES customers(id);`),
		{ID: "orphan-orders-customer_id"}, // no attached fix
	}
	external := audit.FixPlan{
		CanonicalRule: "customers is canonical",
		Migrations: []audit.SqlFix{{
			Description: "drafted dedup migration",
			SQL:         `DELETE FROM customers a USING customers b WHERE a.id > b.id AND a.email = b.email;`,
		}},
		Backfills:           []audit.SqlFix{{Description: "backfill", SQL: `UPDATE orders SET customer_id = NULL WHERE customer_id NOT IN (SELECT id FROM customers);`}},
		VerificationQueries: []string{`SELECT COUNT(*) FROM orders o WHERE NOT EXISTS (SELECT 1 FROM customers c WHERE c.id = o.customer_id)`},
		AppCodeChanges:      []string{"Write new customers through the canonical table only."},
	}

	plan := Aggregate(issues, external)

	if len(plan.Migrations) != 2 {
		t.Fatalf("migrations = %d, want 2", len(plan.Migrations))
	}
	if plan.Migrations[0].Description != "heuristic fix for missing-fk-orders-customer_id" {
		t.Fatalf("heuristic fix must rank first, got %q", plan.Migrations[0].Description)
	}
	if plan.Migrations[1].Description != "drafted dedup migration" {
		t.Fatalf("external fix must follow, got %q", plan.Migrations[1].Description)
	}
	if plan.CanonicalRule != "customers is canonical" {
		t.Fatalf("CanonicalRule = %q", plan.CanonicalRule)
	}
	if len(plan.Backfills) != 1 || len(plan.VerificationQueries) != 1 || len(plan.AppCodeChanges) != 1 {
		t.Fatalf("external sections lost: %+v", plan)
	}
}

func TestAggregateEmptyExternalPlan(t *testing.T) {
	issues := []audit.Issue{issueWithFix("missing-fk-a-b_id", `ALTER TABLE a ...;`)}

	plan := Aggregate(issues, audit.FixPlan{})
	if len(plan.Migrations) != 1 {
		t.Fatalf("migrations = %d, want 1", len(plan.Migrations))
	}
	// Slices come back empty, never nil, so the plan serialises as [].
	if plan.Backfills == nil || plan.VerificationQueries == nil || plan.AppCodeChanges == nil {
		t.Fatal("empty sections must be initialised")
	}
}

func TestAggregateNoInputs(t *testing.T) {
	plan := Aggregate(nil, audit.FixPlan{})
	if len(plan.Migrations) != 0 || plan.Migrations == nil {
		t.Fatalf("want empty non-nil migrations, got %v", plan.Migrations)
	}
}
