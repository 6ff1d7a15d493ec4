// internal/audit/duplicates_test.go
//
// Duplicate-identity module tests: surplus accounting, severity
// escalation, constrained-key skipping, and the row-budget backstop.

package audit

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/yanizio/dbaudit/internal/inference"
	"github.com/yanizio/dbaudit/internal/snapshot"
)

const usersEmailQuery = `SELECT "email" AS value, COUNT(*) AS dup_count FROM "public"."users" WHERE "email" IS NOT NULL GROUP BY "email" HAVING COUNT(*) > 1`

func usersSnapshot() *snapshot.Snapshot {
	return &snapshot.Snapshot{Tables: []snapshot.Table{
		fixtureTable("users", pkColumn("id", "integer"), column("email", "character varying")),
	}}
}

func emailKeyModel(unique bool) *inference.Model {
	return &inference.Model{IdentityKeys: []inference.IdentityKey{{
		TableName:           "public.users",
		ColumnName:          "email",
		KeyType:             inference.KeyEmail,
		HasUniqueConstraint: unique,
		Confidence:          0.9,
	}}}
}

func TestDuplicatesReportsSurplusRows(t *testing.T) {
	db, mock := newMockDB(t)

	// One email shared by two rows: one group, one surplus row.
	mock.ExpectQuery(regexp.QuoteMeta(usersEmailQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"value", "dup_count"}).
			AddRow("dup@example.com", 2))

	m := &duplicatesModule{}
	issues, err := m.Run(context.Background(),
		newContext(usersSnapshot(), emailKeyModel(false), db, DefaultBudget()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("got %d issues, want 1", len(issues))
	}

	issue := issues[0]
	if issue.ID != "duplicate-users-email" {
		t.Fatalf("ID = %q", issue.ID)
	}
	if issue.Category != CategoryIdentity {
		t.Fatalf("Category = %q, want %q", issue.Category, CategoryIdentity)
	}
	if issue.Severity != SeverityMedium {
		t.Fatalf("Severity = %q, want %q", issue.Severity, SeverityMedium)
	}
	if issue.DetectionMethod != DetectDataEvidence {
		t.Fatalf("DetectionMethod = %q", issue.DetectionMethod)
	}
	if issue.Evidence.RowCount == nil || *issue.Evidence.RowCount != 1 {
		t.Fatalf("Evidence.RowCount = %v, want 1 surplus row", issue.Evidence.RowCount)
	}
	if len(issue.Evidence.ResultSample) != 1 {
		t.Fatalf("ResultSample has %d rows, want 1", len(issue.Evidence.ResultSample))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDuplicatesEscalatesSeverity(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(usersEmailQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"value", "dup_count"}).
			AddRow("bulk@example.com", duplicateHighWater+2))

	m := &duplicatesModule{}
	issues, err := m.Run(context.Background(),
		newContext(usersSnapshot(), emailKeyModel(false), db, DefaultBudget()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(issues) != 1 || issues[0].Severity != SeverityHigh {
		t.Fatalf("want one HIGH issue past the high-water mark, got %+v", issues)
	}
}

func TestDuplicatesSkipsConstrainedKeys(t *testing.T) {
	db, mock := newMockDB(t)

	m := &duplicatesModule{}
	issues, err := m.Run(context.Background(),
		newContext(usersSnapshot(), emailKeyModel(true), db, DefaultBudget()))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(issues) != 0 {
		t.Fatalf("constrained key must not be probed, got %+v", issues)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no queries expected: %v", err)
	}
}

func TestDuplicatesDiscardsPartialScan(t *testing.T) {
	db, mock := newMockDB(t)

	// The second row fails mid-iteration; a partial count would understate
	// the evidence, so no issue may be emitted from it.
	rows := sqlmock.NewRows([]string{"value", "dup_count"}).
		AddRow("a@example.com", 2).
		AddRow("b@example.com", 3).
		RowError(1, errors.New("driver: bad connection"))
	mock.ExpectQuery(regexp.QuoteMeta(usersEmailQuery)).WillReturnRows(rows)

	cfg := DefaultBudget()
	ac := newContext(usersSnapshot(), emailKeyModel(false), db, cfg)

	m := &duplicatesModule{}
	issues, err := m.Run(context.Background(), ac)
	if err != nil {
		t.Fatalf("a mid-scan failure must not fail the module: %v", err)
	}
	if len(issues) != 0 {
		t.Fatalf("partial scan must not produce evidence, got %+v", issues)
	}
	// The query still ran, so it still counts against the allowance.
	if got := ac.Budget.QueriesRemaining(); got != cfg.MaxQueriesPerModule-1 {
		t.Fatalf("QueriesRemaining = %d, want %d", got, cfg.MaxQueriesPerModule-1)
	}
}

func TestDuplicatesPropagatesRowBudget(t *testing.T) {
	db, mock := newMockDB(t)

	cfg := DefaultBudget()
	cfg.MaxQueriesPerModule = 1
	cfg.MaxRowsPerQuery = 5 // ceiling 5 rows

	rows := sqlmock.NewRows([]string{"value", "dup_count"})
	for i := 0; i < 6; i++ {
		rows.AddRow(fmt.Sprintf("v%d@example.com", i), 2)
	}
	mock.ExpectQuery(regexp.QuoteMeta(usersEmailQuery)).WillReturnRows(rows)

	m := &duplicatesModule{}
	if _, err := m.Run(context.Background(),
		newContext(usersSnapshot(), emailKeyModel(false), db, cfg)); !errors.Is(err, ErrRowBudgetExceeded) {
		t.Fatalf("want ErrRowBudgetExceeded, got %v", err)
	}
}
