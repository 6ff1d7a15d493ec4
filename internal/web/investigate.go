// internal/web/investigate.go
//
// Hypothesis-driven investigation of a completed audit.
//
// Context
// -------
// The user describes a problem in plain language.  The collaborator turns
// it into ranked hypotheses; for each one we generate a guarded read-only
// probe, run it against the target, and ask the collaborator to confirm.
// Confirmed hypotheses become synthetic Issues under the
// proactive-investigator module id, and the narrative is stored on the
// result row as the investigation log.
//
// Errors degrade per hypothesis: one failed probe does not abort the
// others, matching the audit runner's isolation stance.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.

package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"

	"github.com/yanizio/dbaudit/internal/audit"
	"github.com/yanizio/dbaudit/internal/completion"
	"github.com/yanizio/dbaudit/internal/database"
	"github.com/yanizio/dbaudit/internal/ledger"
)

// investigatorModuleID tags issues produced by investigations rather than
// by a registered audit module.
const investigatorModuleID = "proactive-investigator"

// sampleRowsPerProbe bounds how many result rows are sent back to the
// collaborator for analysis.
const sampleRowsPerProbe = 20

type investigateRequest struct {
	Problem string `json:"problem"`
}

type investigateResponse struct {
	Hypotheses []completion.Hypothesis `json:"hypotheses"`
	Issues     []audit.Issue           `json:"issues"`
	Log        string                  `json:"log"`
}

func (h *Handler) investigate(w http.ResponseWriter, r *http.Request) {
	if !h.collab.Configured() {
		writeError(w, http.StatusServiceUnavailable, "no completion provider configured")
		return
	}

	var req investigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if strings.TrimSpace(req.Problem) == "" {
		writeError(w, http.StatusBadRequest, "problem is required")
		return
	}

	runID := chi.URLParam(r, "id")
	run, err := h.store.RunByID(r.Context(), runID)
	if err != nil {
		h.storeError(w, err)
		return
	}
	if run.Status != ledger.StatusCompleted {
		writeError(w, http.StatusConflict, "investigations need a COMPLETED run")
		return
	}
	result, err := h.resultByRunID(r, runID)
	if err != nil {
		h.storeError(w, err)
		return
	}

	hypotheses, err := h.collab.AnalyzeProblem(r.Context(), req.Problem, result.Snapshot, result.Issues)
	if err != nil {
		h.log.Warnw("problem analysis failed", "run", runID, "err", err)
		writeError(w, http.StatusBadGateway, "problem analysis failed")
		return
	}

	conn, err := h.store.ConnectionByID(r.Context(), run.ConnectionID)
	if err != nil {
		h.storeError(w, err)
		return
	}
	dsn, err := h.secrets.GetKV(r.Context(), conn.CredentialRef, h.cfg.Vault.DSNKey, h.cfg.Vault.CacheTTL)
	if err != nil {
		h.log.Errorw("credential resolution failed", "run", runID, "err", err)
		writeError(w, http.StatusBadGateway, "credential resolution failed")
		return
	}
	target, err := database.OpenTarget(dsn)
	if err != nil {
		h.log.Errorw("target connect failed", "run", runID, "err", err)
		writeError(w, http.StatusBadGateway, "target connection failed")
		return
	}
	defer target.Close()

	issues, logText := h.pursueHypotheses(r.Context(), target, result, req.Problem, hypotheses)

	if err := h.store.SetInvestigationLog(r.Context(), runID, logText); err != nil {
		h.log.Warnw("investigation log write failed", "run", runID, "err", err)
	}
	h.results.Remove(runID) // cached copy lacks the new log

	writeJSON(w, http.StatusOK, investigateResponse{
		Hypotheses: hypotheses,
		Issues:     issues,
		Log:        logText,
	})
}

// pursueHypotheses probes each hypothesis and collects confirmed findings
// as synthetic issues.  Per-hypothesis failures are logged and skipped.
func (h *Handler) pursueHypotheses(ctx context.Context, target *sqlx.DB,
	result *ledger.AuditResult, problem string, hypotheses []completion.Hypothesis) ([]audit.Issue, string) {

	var issues []audit.Issue
	var log strings.Builder
	fmt.Fprintf(&log, "Investigation: %s\n", problem)

	for i, hyp := range hypotheses {
		fmt.Fprintf(&log, "\nHypothesis %d (%s): %s\n", i+1, hyp.Severity, hyp.Hypothesis)

		query, err := h.collab.GenerateVerificationQuery(ctx, hyp.Hypothesis, result.Snapshot)
		if err != nil {
			fmt.Fprintf(&log, "  Skipped: could not generate a safe query (%v)\n", err)
			continue
		}
		fmt.Fprintf(&log, "  Query: %s\n", query)

		sample, err := h.probe(ctx, target, query)
		if err != nil {
			fmt.Fprintf(&log, "  Skipped: query failed (%v)\n", err)
			continue
		}

		finding, err := h.collab.AnalyzeFindings(ctx, hyp.Hypothesis, query, sample)
		if err != nil {
			fmt.Fprintf(&log, "  Skipped: analysis failed (%v)\n", err)
			continue
		}
		if !finding.Confirmed {
			fmt.Fprintf(&log, "  Not confirmed: %s\n", finding.Summary)
			continue
		}

		fmt.Fprintf(&log, "  Confirmed: %s\n", finding.Summary)
		issue := audit.Issue{
			ID:              fmt.Sprintf("%s-%d", investigatorModuleID, i+1),
			ModuleID:        investigatorModuleID,
			Category:        audit.CategoryMetric,
			Severity:        finding.Severity,
			Title:           hyp.Hypothesis,
			Description:     finding.Summary,
			Confidence:      0.6,
			DetectionMethod: audit.DetectDataEvidence,
			Evidence: audit.Evidence{
				SQL:          query,
				ResultSample: sample,
			},
		}
		if len(finding.Fixes) > 0 {
			issue.AttachedFix = &audit.FixPlan{
				Migrations:          finding.Fixes,
				Backfills:           []audit.SqlFix{},
				VerificationQueries: []string{},
				AppCodeChanges:      []string{},
			}
		}
		issues = append(issues, issue)
	}

	fmt.Fprintf(&log, "\n%d of %d hypotheses confirmed\n", len(issues), len(hypotheses))
	return issues, log.String()
}

// probe runs one guarded query and returns up to sampleRowsPerProbe rows.
func (h *Handler) probe(ctx context.Context, target *sqlx.DB, query string) ([]map[string]any, error) {
	rows, err := target.QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sample []map[string]any
	for rows.Next() && len(sample) < sampleRowsPerProbe {
		m := map[string]any{}
		if err := rows.MapScan(m); err != nil {
			return nil, err
		}
		for k, v := range m {
			if b, ok := v.([]byte); ok {
				m[k] = string(b)
			}
		}
		sample = append(sample, m)
	}
	return sample, rows.Err()
}
