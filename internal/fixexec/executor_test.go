// internal/fixexec/executor_test.go
//
// Unit-tests for fix selection and transactional application.
//
// Run: go test ./internal/fixexec -v

package fixexec

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/dbaudit/internal/audit"
)

func plan() audit.FixPlan {
	return audit.FixPlan{
		Migrations: []audit.SqlFix{
			{Description: "add fk", SQL: "ALTER TABLE orders ADD CONSTRAINT fk_orders_customer_id FOREIGN KEY (customer_id) REFERENCES customers (id)"},
			{Description: "add unique", SQL: "ALTER TABLE users ADD CONSTRAINT uq_users_email UNIQUE (email)"},
		},
		Backfills: []audit.SqlFix{
			{Description: "null orphans", SQL: "UPDATE orders SET customer_id = NULL WHERE customer_id NOT IN (SELECT id FROM customers)"},
		},
	}
}

func TestSelectFixesIndexing(t *testing.T) {
	got, err := selectFixes(plan(), []int{2, 0})
	if err != nil {
		t.Fatalf("selectFixes error: %v", err)
	}
	if len(got) != 2 || got[0].Description != "null orphans" || got[1].Description != "add fk" {
		t.Errorf("unexpected selection: %+v", got)
	}

	if _, err := selectFixes(plan(), []int{3}); err == nil {
		t.Error("expected out-of-range error")
	}
	if _, err := selectFixes(plan(), nil); err == nil {
		t.Error("expected error for empty selection")
	}
}

func TestApplyInTransactionCommits(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("ALTER TABLE orders").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectCommit()
	mock.ExpectClose()

	e := &Executor{
		log: zap.NewNop().Sugar(),
		openTarget: func(string) (*sqlx.DB, error) {
			return sqlx.NewDb(db, "postgres"), nil
		},
	}
	fixes := []audit.SqlFix{plan().Migrations[0], plan().Backfills[0]}
	if err := e.applyInTransaction(context.Background(), "dsn", fixes); err != nil {
		t.Fatalf("applyInTransaction error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestApplyInTransactionRollsBackOnFirstFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("ALTER TABLE orders").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ALTER TABLE users").
		WillReturnError(errors.New("duplicate key value violates unique constraint"))
	mock.ExpectRollback()
	mock.ExpectClose()

	e := &Executor{
		log: zap.NewNop().Sugar(),
		openTarget: func(string) (*sqlx.DB, error) {
			return sqlx.NewDb(db, "postgres"), nil
		},
	}
	err = e.applyInTransaction(context.Background(), "dsn", plan().Migrations)
	if err == nil {
		t.Fatal("expected failure to propagate")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("rollback not observed: %v", err)
	}
}
