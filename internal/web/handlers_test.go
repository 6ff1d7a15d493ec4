// internal/web/handlers_test.go
//
// API surface tests over the real chi router with a sqlmock-backed ledger.
//
// Run: go test ./internal/web -v

package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/dbaudit/internal/config"
	"github.com/yanizio/dbaudit/internal/ledger"
)

func newTestHandler(t *testing.T) (*Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := ledger.NewStore(sqlx.NewDb(db, "mysql"))
	h := NewHandler(store, nil, nil, nil, nil, &config.Config{}, zap.NewNop().Sugar())
	return h, mock
}

func doRequest(t *testing.T, h *Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, r)
	return w
}

func runRows(id string, status ledger.Status, progress int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "connection_id", "status", "progress", "parent_run_id",
		"created_at", "started_at", "completed_at",
	}).AddRow(id, "conn-1", status, progress, nil, time.Now(), nil, nil)
}

func TestCreateConnection(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectExec("INSERT INTO connection").
		WithArgs(sqlmock.AnyArg(), "prod", "secret/data/targets/prod", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := doRequest(t, h, http.MethodPost, "/api/connections",
		`{"name":"prod","credential_ref":"secret/data/targets/prod"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var conn ledger.Connection
	if err := json.Unmarshal(w.Body.Bytes(), &conn); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if conn.ID == "" || conn.CredentialRef != "secret/data/targets/prod" {
		t.Fatalf("unexpected connection: %+v", conn)
	}
	// The response must expose the Vault reference only, never a DSN.
	if strings.Contains(strings.ToLower(w.Body.String()), "dsn") {
		t.Fatalf("response leaks credential material: %s", w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateConnectionValidation(t *testing.T) {
	h, mock := newTestHandler(t)

	for _, body := range []string{
		`{"name":"prod"}`,
		`{"credential_ref":"secret/data/x"}`,
		`not json`,
	} {
		if w := doRequest(t, h, http.MethodPost, "/api/connections", body); w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want 400", body, w.Code)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("invalid input must not reach the ledger: %v", err)
	}
}

func TestGetConnectionNotFound(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery("FROM   connection").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "credential_ref", "created_at"}))

	w := doRequest(t, h, http.MethodGet, "/api/connections/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestCreateAuditRejectsUnknownConnection(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery("FROM   connection").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "credential_ref", "created_at"}))

	w := doRequest(t, h, http.MethodPost, "/api/audits", `{"connection_id":"ghost"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("doomed run must not be enqueued: %v", err)
	}
}

func TestCreateAuditRequiresConnectionID(t *testing.T) {
	h, _ := newTestHandler(t)

	if w := doRequest(t, h, http.MethodPost, "/api/audits", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGetAuditStatus(t *testing.T) {
	h, mock := newTestHandler(t)

	mock.ExpectQuery("FROM   audit_run").
		WithArgs("run-1").
		WillReturnRows(runRows("run-1", ledger.StatusRunning, 55))
	mock.ExpectQuery("FROM   run_log").
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"message"}).
			AddRow("Running audit module: Orphan Rows Detection"))

	w := doRequest(t, h, http.MethodGet, "/api/audits/run-1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp statusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != ledger.StatusRunning || resp.Progress != 55 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.LatestLog == "" {
		t.Fatal("latest log line missing")
	}
}

func TestGetAuditCachesCompletedResult(t *testing.T) {
	h, mock := newTestHandler(t)

	resultRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{
			"run_id", "snapshot", "inferred_model", "issues", "fix_plan",
			"investigation_log", "created_at",
		}).AddRow("run-1",
			[]byte(`{"tables":[],"foreignKeys":[],"extractedAt":"2026-01-02T03:04:05Z"}`),
			[]byte(`{}`), []byte(`[]`), []byte(`{}`), nil, time.Now())
	}

	// First GET hits the run and result tables; the second GET must be
	// served from the result cache and only re-read the run row.
	mock.ExpectQuery("FROM   audit_run").WithArgs("run-1").
		WillReturnRows(runRows("run-1", ledger.StatusCompleted, 100))
	mock.ExpectQuery("FROM   audit_result").WithArgs("run-1").
		WillReturnRows(resultRows())
	mock.ExpectQuery("FROM   audit_run").WithArgs("run-1").
		WillReturnRows(runRows("run-1", ledger.StatusCompleted, 100))

	for i := 0; i < 2; i++ {
		w := doRequest(t, h, http.MethodGet, "/api/audits/run-1", "")
		if w.Code != http.StatusOK {
			t.Fatalf("GET %d: status = %d, body %s", i, w.Code, w.Body.String())
		}
		var resp auditResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("GET %d decode: %v", i, err)
		}
		if resp.Result == nil || resp.Result.RunID != "run-1" {
			t.Fatalf("GET %d: result missing: %+v", i, resp)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("second read must come from cache: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	h, _ := newTestHandler(t)

	w := doRequest(t, h, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", w.Code, w.Body.String())
	}
}
