// internal/ledger/model.go
//
// Row types for the run ledger.
//
// Context
// -------
// The ledger is the service's own MySQL database, distinct from the target
// databases being audited.  Connections store a Vault reference, never a
// DSN.  Runs carry lifecycle state owned exclusively by the orchestrator;
// once COMPLETED or FAILED a run is immutable except for being named as a
// parent by a later verification run.  Results are written once per
// successful run and serialize the typed audit structs as JSON at this
// boundary only.
package ledger

import (
	"time"

	"github.com/yanizio/dbaudit/internal/audit"
	"github.com/yanizio/dbaudit/internal/inference"
	"github.com/yanizio/dbaudit/internal/snapshot"
)

// Status is the lifecycle state of an audit run.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether the status admits no further transition.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Connection names an auditable target database.  CredentialRef is a Vault
// KV path; the plaintext DSN is resolved at run start and never stored.
type Connection struct {
	ID            string    `db:"id"             json:"id"`
	Name          string    `db:"name"           json:"name"`
	CredentialRef string    `db:"credential_ref" json:"credentialRef"`
	CreatedAt     time.Time `db:"created_at"     json:"createdAt"`
}

// AuditRun is one execution of the pipeline against one connection.  A
// non-nil ParentRunID marks a verification run.
type AuditRun struct {
	ID           string     `db:"id"            json:"id"`
	ConnectionID string     `db:"connection_id" json:"connectionId"`
	Status       Status     `db:"status"        json:"status"`
	Progress     int        `db:"progress"      json:"progress"`
	ParentRunID  *string    `db:"parent_run_id" json:"parentRunId,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"createdAt"`
	StartedAt    *time.Time `db:"started_at"    json:"startedAt,omitempty"`
	CompletedAt  *time.Time `db:"completed_at"  json:"completedAt,omitempty"`
}

// AuditResult is the one-to-one outcome of a completed run.  Written once
// at the end of a successful run, never updated in place; verification
// produces a new run and result pair linked via ParentRunID.
type AuditResult struct {
	RunID            string             `json:"runId"`
	Snapshot         *snapshot.Snapshot `json:"snapshot"`
	InferredModel    *inference.Model   `json:"inferredModel"`
	Issues           []audit.Issue      `json:"issues"`
	FixPlan          audit.FixPlan      `json:"fixPlan"`
	InvestigationLog *string            `json:"investigationLog,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
}

// resultRow is the raw persisted form of an AuditResult.  The JSON columns
// are unmarshalled into typed structs on read; a blob that no longer parses
// is a hard error, not a nil field.
type resultRow struct {
	RunID            string    `db:"run_id"`
	Snapshot         []byte    `db:"snapshot"`
	InferredModel    []byte    `db:"inferred_model"`
	Issues           []byte    `db:"issues"`
	FixPlan          []byte    `db:"fix_plan"`
	InvestigationLog *string   `db:"investigation_log"`
	CreatedAt        time.Time `db:"created_at"`
}

// LogLine is one append-only progress log entry for a run.
type LogLine struct {
	RunID     string    `db:"run_id"   json:"runId"`
	Message   string    `db:"message"  json:"message"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
