// internal/audit/types.go
//
// Issue and fix-plan data model.
//
// Context
// -------
// An Issue is the unit of finding: produced fresh by audit modules each
// run, never mutated afterwards.  Severity and confidence are deterministic
// functions of measured magnitude so identical inputs reproduce identical
// issues, which the verification differ depends on.  SqlFix.Status is only
// meaningful on a verification run's plan, where the differ back-annotates
// it.

package audit

// Issue categories.
type Category string

const (
	CategoryRelationship Category = "RELATIONSHIP"
	CategoryIdentity     Category = "IDENTITY"
	CategoryTime         Category = "TIME"
	CategoryType         Category = "TYPE"
	CategoryMetric       Category = "METRIC"
)

// Severities, lowest to highest.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// SeverityRank orders severities for sorting; higher is worse.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// How an issue was detected.
type DetectionMethod string

const (
	DetectHeuristic    DetectionMethod = "HEURISTIC"
	DetectConstraint   DetectionMethod = "CONSTRAINT"
	DetectDataEvidence DetectionMethod = "DATA_EVIDENCE"
)

// Fix safety ratings.
type SafetyRating string

const (
	SafetySafe        SafetyRating = "SAFE"
	SafetyRisky       SafetyRating = "RISKY"
	SafetyDestructive SafetyRating = "DESTRUCTIVE"
)

// Fix statuses, assigned only on verification runs.
type FixStatus string

const (
	FixPending  FixStatus = "PENDING"
	FixResolved FixStatus = "RESOLVED"
	FixNew      FixStatus = "NEW"
)

// Evidence carries the query (or schema derivation) behind an issue, plus a
// bounded result sample.
type Evidence struct {
	SQL             string           `json:"sql"`
	ResultSample    []map[string]any `json:"resultSample,omitempty"`
	AffectedTables  []string         `json:"affectedTables"`
	AffectedColumns []string         `json:"affectedColumns,omitempty"`
	RowCount        *int64           `json:"rowCount,omitempty"`
}

// Issue is one detected integrity problem.
type Issue struct {
	ID              string          `json:"id"`
	ModuleID        string          `json:"moduleId"`
	Category        Category        `json:"category"`
	Severity        Severity        `json:"severity"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Evidence        Evidence        `json:"evidence"`
	Impact          string          `json:"impact"`
	Confidence      float64         `json:"confidence"`
	DetectionMethod DetectionMethod `json:"detectionMethod"`
	AttachedFix     *FixPlan        `json:"attachedFix,omitempty"`
}

// SqlFix is one proposed remediation statement.
type SqlFix struct {
	Description  string       `json:"description"`
	SQL          string       `json:"sql"`
	SafetyRating SafetyRating `json:"safetyRating"`
	Reasoning    string       `json:"reasoning"`
	Status       FixStatus    `json:"status,omitempty"`
}

// FixPlan is the aggregated remediation plan for a set of issues.
type FixPlan struct {
	CanonicalRule       string   `json:"canonicalRule,omitempty"`
	Migrations          []SqlFix `json:"migrations"`
	Backfills           []SqlFix `json:"backfills"`
	VerificationQueries []string `json:"verificationQueries"`
	AppCodeChanges      []string `json:"appCodeChanges"`
}

// rowCount is a convenience for Evidence.RowCount literals.
func rowCount(n int64) *int64 { return &n }
