// internal/completion/collaborator.go
//
// Domain contracts on top of the chat client.
//
// Context
// -------
// Three pipeline contracts (DraftFixPlan, GenerateVerificationQuery,
// AnalyzeFindings) plus the investigation entry point (AnalyzeProblem).
// Prompts send a compacted view of the schema and the top issues, never the
// raw snapshot — completions are priced per token and a wide schema would
// drown the model.  All SQL coming back passes through GuardQuery before it
// is allowed anywhere near a target connection.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.

package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/yanizio/dbaudit/internal/audit"
	"github.com/yanizio/dbaudit/internal/inference"
	"github.com/yanizio/dbaudit/internal/snapshot"
)

// maxSummarizedIssues bounds the issue payload sent to the collaborator.
const maxSummarizedIssues = 30

// Collaborator wraps a Client with the audit-specific exchange formats.
type Collaborator struct {
	client  *Client
	maxRows int64
}

// NewCollaborator builds a Collaborator.  maxRows caps any generated query.
func NewCollaborator(client *Client, maxRows int64) *Collaborator {
	return &Collaborator{client: client, maxRows: maxRows}
}

// Configured reports whether a provider is wired up.
func (c *Collaborator) Configured() bool {
	return c != nil && c.client.Configured()
}

/*──────────────────────────── issue summary ────────────────────────────────*/

// issueSummary is the compact per-issue form sent in prompts.
type issueSummary struct {
	ID          string   `json:"id"`
	Category    string   `json:"category"`
	Severity    string   `json:"severity"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tables      []string `json:"tables,omitempty"`
	RowCount    *int64   `json:"rowCount,omitempty"`
}

// SelectTopIssues orders issues by severity rank, then confidence, and
// keeps at most maxSummarizedIssues of them.  The input slice is not
// mutated.
func SelectTopIssues(issues []audit.Issue) []audit.Issue {
	top := make([]audit.Issue, len(issues))
	copy(top, issues)
	sort.SliceStable(top, func(i, j int) bool {
		ri, rj := audit.SeverityRank(top[i].Severity), audit.SeverityRank(top[j].Severity)
		if ri != rj {
			return ri > rj
		}
		return top[i].Confidence > top[j].Confidence
	})
	if len(top) > maxSummarizedIssues {
		top = top[:maxSummarizedIssues]
	}
	return top
}

func summarizeIssues(issues []audit.Issue) []issueSummary {
	top := SelectTopIssues(issues)
	out := make([]issueSummary, 0, len(top))
	for _, is := range top {
		out = append(out, issueSummary{
			ID:          is.ID,
			Category:    string(is.Category),
			Severity:    string(is.Severity),
			Title:       is.Title,
			Description: is.Description,
			Tables:      is.Evidence.AffectedTables,
			RowCount:    is.Evidence.RowCount,
		})
	}
	return out
}

// summarizeSchema renders one line per table: name, columns with types, and
// PK/unique markers.
func summarizeSchema(snap *snapshot.Snapshot) string {
	if snap == nil {
		return ""
	}
	var b strings.Builder
	for _, t := range snap.Tables {
		b.WriteString(t.Qualified())
		b.WriteString(": ")
		for i, c := range t.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.Name)
			b.WriteString(" ")
			b.WriteString(c.DataType)
			if c.IsPrimaryKey {
				b.WriteString(" [pk]")
			} else if c.IsUnique {
				b.WriteString(" [unique]")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

/*──────────────────────────── fix drafting ─────────────────────────────────*/

const fixPlanSystem = `You are a database reliability engineer.  Given detected data-integrity issues and the inferred semantic model of a database, draft a remediation plan.  Respond with a JSON object: {"canonicalRule": string, "migrations": [{"description","sql","safetyRating":"SAFE"|"RISKY"|"DESTRUCTIVE","reasoning"}], "backfills": [same shape], "verificationQueries": [string], "appCodeChanges": [string]}.  Only propose SQL you are confident is correct for PostgreSQL.`

// DraftFixPlan asks the collaborator for a remediation plan over the top
// issues.  Callers must tolerate an error by falling back to heuristic
// fixes only.
func (c *Collaborator) DraftFixPlan(ctx context.Context, model *inference.Model, issues []audit.Issue) (*audit.FixPlan, error) {
	payload := struct {
		Model  *inference.Model `json:"inferredModel"`
		Issues []issueSummary   `json:"issues"`
	}{model, summarizeIssues(issues)}

	user, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("completion: marshal fix-plan payload: %w", err)
	}

	var plan audit.FixPlan
	if err := c.client.CompleteJSON(ctx, fixPlanSystem, string(user), &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

/*────────────────────────── verification query ─────────────────────────────*/

const verificationSystem = `You are a database reliability engineer.  Given a hypothesis about a data problem and the database schema, write ONE read-only PostgreSQL SELECT statement that would confirm or refute it.  Respond with a JSON object: {"sql": string, "explanation": string}.`

// GenerateVerificationQuery asks for one read-only probe for a hypothesis.
// The returned SQL has already passed GuardQuery.
func (c *Collaborator) GenerateVerificationQuery(ctx context.Context, hypothesis string, snap *snapshot.Snapshot) (string, error) {
	user := fmt.Sprintf("Hypothesis: %s\n\nSchema:\n%s", hypothesis, summarizeSchema(snap))

	var reply struct {
		SQL         string `json:"sql"`
		Explanation string `json:"explanation"`
	}
	if err := c.client.CompleteJSON(ctx, verificationSystem, user, &reply); err != nil {
		return "", err
	}
	return GuardQuery(reply.SQL, c.maxRows)
}

/*──────────────────────────── finding analysis ─────────────────────────────*/

// Finding is the collaborator's verdict on one executed probe.
type Finding struct {
	Confirmed bool           `json:"confirmed"`
	Summary   string         `json:"summary"`
	Severity  audit.Severity `json:"severity"`
	Fixes     []audit.SqlFix `json:"fixes,omitempty"`
}

const findingsSystem = `You are a database reliability engineer.  You previously hypothesized a data problem and ran a verification query.  Given the hypothesis, the query, and a sample of its results, decide whether the hypothesis is confirmed.  Respond with a JSON object: {"confirmed": bool, "summary": string, "severity": "LOW"|"MEDIUM"|"HIGH"|"CRITICAL", "fixes": [{"description","sql","safetyRating","reasoning"}]}.`

// AnalyzeFindings interprets the result rows of a verification query.
func (c *Collaborator) AnalyzeFindings(ctx context.Context, hypothesis, query string, sample []map[string]any) (*Finding, error) {
	rows, err := json.Marshal(sample)
	if err != nil {
		return nil, fmt.Errorf("completion: marshal sample: %w", err)
	}
	user := fmt.Sprintf("Hypothesis: %s\n\nQuery:\n%s\n\nResults (sample):\n%s",
		hypothesis, query, rows)

	var f Finding
	if err := c.client.CompleteJSON(ctx, findingsSystem, user, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

/*────────────────────────── problem analysis ───────────────────────────────*/

// Hypothesis is one suspected cause of a reported problem.
type Hypothesis struct {
	Hypothesis string         `json:"hypothesis"`
	Severity   audit.Severity `json:"severity"`
	Rationale  string         `json:"rationale"`
}

const problemSystem = `You are a database reliability engineer.  A user reports a data problem in plain language.  Given the schema and the known issues, list up to 5 concrete hypotheses about the cause.  Respond with a JSON object: {"hypotheses": [{"hypothesis": string, "severity": "LOW"|"MEDIUM"|"HIGH"|"CRITICAL", "rationale": string}]}.`

// maxHypotheses bounds how many hypotheses an investigation pursues.
const maxHypotheses = 3

// AnalyzeProblem turns a user-reported problem into ranked hypotheses.  LOW
// severity hypotheses are dropped and at most maxHypotheses are kept.
func (c *Collaborator) AnalyzeProblem(ctx context.Context, problem string, snap *snapshot.Snapshot, issues []audit.Issue) ([]Hypothesis, error) {
	known, err := json.Marshal(summarizeIssues(issues))
	if err != nil {
		return nil, fmt.Errorf("completion: marshal issues: %w", err)
	}
	user := fmt.Sprintf("Problem: %s\n\nSchema:\n%s\nKnown issues:\n%s",
		problem, summarizeSchema(snap), known)

	var reply struct {
		Hypotheses []Hypothesis `json:"hypotheses"`
	}
	if err := c.client.CompleteJSON(ctx, problemSystem, user, &reply); err != nil {
		return nil, err
	}

	kept := make([]Hypothesis, 0, maxHypotheses)
	for _, h := range reply.Hypotheses {
		if h.Severity == audit.SeverityLow {
			continue
		}
		kept = append(kept, h)
		if len(kept) == maxHypotheses {
			break
		}
	}
	return kept, nil
}
