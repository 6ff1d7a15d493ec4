// internal/web/handlers.go
//
// JSON API handlers for connections and audit runs.
//
// Context
// -------
// The HTTP surface is a thin request layer: handlers validate input, call
// the ledger or the orchestrator, and encode JSON.  No business logic lives
// here.  Connection responses expose the credential reference, never a
// resolved DSN.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.

package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yanizio/dbaudit/internal/cache"
	"github.com/yanizio/dbaudit/internal/completion"
	"github.com/yanizio/dbaudit/internal/config"
	"github.com/yanizio/dbaudit/internal/fixexec"
	"github.com/yanizio/dbaudit/internal/ledger"
	"github.com/yanizio/dbaudit/internal/orchestrator"
)

// Handler carries the API's collaborators.
type Handler struct {
	store   *ledger.Store
	orch    *orchestrator.Orchestrator
	exec    *fixexec.Executor
	collab  *completion.Collaborator
	secrets orchestrator.SecretSource
	cfg     *config.Config
	log     *zap.SugaredLogger

	// results caches deserialized result rows; terminal results are
	// immutable apart from the investigation log.
	results *cache.LRU
}

// NewHandler wires the API handler.
func NewHandler(store *ledger.Store, orch *orchestrator.Orchestrator, exec *fixexec.Executor,
	collab *completion.Collaborator, secrets orchestrator.SecretSource,
	cfg *config.Config, log *zap.SugaredLogger) *Handler {
	return &Handler{
		store:   store,
		orch:    orch,
		exec:    exec,
		collab:  collab,
		secrets: secrets,
		cfg:     cfg,
		log:     log,
		results: cache.New(256),
	}
}

// resultByRunID serves a result from cache when possible.
func (h *Handler) resultByRunID(r *http.Request, id string) (*ledger.AuditResult, error) {
	if v, ok := h.results.Get(id); ok {
		return v.(*ledger.AuditResult), nil
	}
	result, err := h.store.ResultByRunID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	h.results.Add(id, result)
	return result, nil
}

/*──────────────────────────── JSON plumbing ────────────────────────────────*/

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// storeError maps ledger errors onto HTTP statuses.
func (h *Handler) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	h.log.Errorw("ledger error", "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

/*───────────────────────────── connections ─────────────────────────────────*/

type createConnectionRequest struct {
	Name          string `json:"name"`
	CredentialRef string `json:"credential_ref"`
}

func (h *Handler) createConnection(w http.ResponseWriter, r *http.Request) {
	var req createConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.Name == "" || req.CredentialRef == "" {
		writeError(w, http.StatusBadRequest, "name and credential_ref are required")
		return
	}

	conn, err := h.store.CreateConnection(r.Context(), req.Name, req.CredentialRef)
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

func (h *Handler) listConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := h.store.Connections(r.Context())
	if err != nil {
		h.storeError(w, err)
		return
	}
	if conns == nil {
		conns = []ledger.Connection{}
	}
	writeJSON(w, http.StatusOK, conns)
}

func (h *Handler) getConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.store.ConnectionByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (h *Handler) deleteConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteConnection(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/*──────────────────────────────── audits ───────────────────────────────────*/

type createAuditRequest struct {
	ConnectionID string  `json:"connection_id"`
	ParentRunID  *string `json:"parent_run_id,omitempty"`
}

func (h *Handler) createAudit(w http.ResponseWriter, r *http.Request) {
	var req createAuditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.ConnectionID == "" {
		writeError(w, http.StatusBadRequest, "connection_id is required")
		return
	}
	// Fail fast on an unknown connection instead of queueing a doomed run.
	if _, err := h.store.ConnectionByID(r.Context(), req.ConnectionID); err != nil {
		h.storeError(w, err)
		return
	}
	if req.ParentRunID != nil {
		if _, err := h.store.RunByID(r.Context(), *req.ParentRunID); err != nil {
			h.storeError(w, err)
			return
		}
	}

	run, err := h.store.CreateRun(r.Context(), req.ConnectionID, req.ParentRunID)
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.orch.Trigger()
	writeJSON(w, http.StatusAccepted, run)
}

func (h *Handler) listAudits(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.Runs(r.Context())
	if err != nil {
		h.storeError(w, err)
		return
	}
	if runs == nil {
		runs = []ledger.AuditRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

type auditResponse struct {
	Run    *ledger.AuditRun    `json:"run"`
	Result *ledger.AuditResult `json:"result,omitempty"`
}

func (h *Handler) getAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.store.RunByID(r.Context(), id)
	if err != nil {
		h.storeError(w, err)
		return
	}

	resp := auditResponse{Run: run}
	if run.Status == ledger.StatusCompleted {
		result, err := h.resultByRunID(r, id)
		if err != nil && !errors.Is(err, ledger.ErrNotFound) {
			h.storeError(w, err)
			return
		}
		resp.Result = result
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	Status    ledger.Status `json:"status"`
	Progress  int           `json:"progress"`
	LatestLog string        `json:"latestLog"`
}

func (h *Handler) getAuditStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.store.RunByID(r.Context(), id)
	if err != nil {
		h.storeError(w, err)
		return
	}
	latest, err := h.store.LatestLog(r.Context(), id)
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:    run.Status,
		Progress:  run.Progress,
		LatestLog: latest,
	})
}

/*────────────────────────────── fix apply ──────────────────────────────────*/

type applyFixRequest struct {
	Indices []int `json:"indices"`
}

func (h *Handler) applyFixes(w http.ResponseWriter, r *http.Request) {
	var req applyFixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if len(req.Indices) == 0 {
		writeError(w, http.StatusBadRequest, "indices is required")
		return
	}

	verification, err := h.exec.Apply(r.Context(), chi.URLParam(r, "id"), req.Indices)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		h.log.Warnw("fix application failed", "err", err)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"verificationRun": verification,
	})
}
