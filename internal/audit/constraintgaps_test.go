// internal/audit/constraintgaps_test.go
//
// Missing-constraint module tests.  Schema-only: no queries expected.

package audit

import (
	"context"
	"testing"

	"github.com/yanizio/dbaudit/internal/inference"
)

func TestConstraintGapsFlagsUnbackedIdentityKey(t *testing.T) {
	db, mock := newMockDB(t)

	m := &constraintGapsModule{}
	issues, err := m.Run(context.Background(),
		newContext(usersSnapshot(), emailKeyModel(false), db, DefaultBudget()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("got %d issues, want 1", len(issues))
	}

	issue := issues[0]
	if issue.ID != "missing-unique-users-email" {
		t.Fatalf("ID = %q", issue.ID)
	}
	if issue.Severity != SeverityHigh {
		t.Fatalf("email keys escalate: Severity = %q", issue.Severity)
	}
	if issue.DetectionMethod != DetectConstraint {
		t.Fatalf("DetectionMethod = %q", issue.DetectionMethod)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("schema-only module issued a query: %v", err)
	}
}

func TestConstraintGapsIgnoresBackedIdentityKey(t *testing.T) {
	db, _ := newMockDB(t)

	m := &constraintGapsModule{}
	issues, err := m.Run(context.Background(),
		newContext(usersSnapshot(), emailKeyModel(true), db, DefaultBudget()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(issues) != 0 {
		t.Fatalf("backed key must not be flagged, got %+v", issues)
	}
}

func TestConstraintGapsSuggestsForeignKeyFix(t *testing.T) {
	db, _ := newMockDB(t)
	snap := ordersSnapshot()

	m := &constraintGapsModule{}
	issues, err := m.Run(context.Background(),
		newContext(snap, &inference.Model{}, db, DefaultBudget()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("got %d issues, want 1", len(issues))
	}

	issue := issues[0]
	if issue.ID != "missing-fk-orders-customer_id" {
		t.Fatalf("ID = %q", issue.ID)
	}
	if issue.Category != CategoryRelationship {
		t.Fatalf("Category = %q", issue.Category)
	}
	if issue.AttachedFix == nil || len(issue.AttachedFix.Migrations) != 1 {
		t.Fatalf("want one attached migration, got %+v", issue.AttachedFix)
	}

	fix := issue.AttachedFix.Migrations[0]
	if fix.SafetyRating != SafetySafe {
		t.Fatalf("SafetyRating = %q", fix.SafetyRating)
	}
	want := `ALTER TABLE "public"."orders" ADD CONSTRAINT "fk_orders_customer_id" FOREIGN KEY ("customer_id") REFERENCES "public"."customers"(id) ON DELETE SET NULL;`
	if fix.SQL != want {
		t.Fatalf("fix SQL:\n got %s\nwant %s", fix.SQL, want)
	}
}

func TestConstraintGapsSkipsDeclaredForeignKeys(t *testing.T) {
	db, _ := newMockDB(t)
	snap := ordersSnapshot()
	snap.Tables[0].Constraints = append(snap.Tables[0].Constraints,
		fkConstraintOn("customer_id", "public.customers"))

	m := &constraintGapsModule{}
	issues, err := m.Run(context.Background(),
		newContext(snap, &inference.Model{}, db, DefaultBudget()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(issues) != 0 {
		t.Fatalf("declared FK must not be flagged, got %+v", issues)
	}
}

func TestCutQualified(t *testing.T) {
	schema, name, ok := cutQualified("public.users")
	if !ok || schema != "public" || name != "users" {
		t.Fatalf("cutQualified(public.users) = %q, %q, %v", schema, name, ok)
	}
	schema, name, ok = cutQualified("users")
	if ok || schema != "" || name != "users" {
		t.Fatalf("cutQualified(users) = %q, %q, %v", schema, name, ok)
	}
}
