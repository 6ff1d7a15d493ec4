// cmd/auditd/main.go
//
// Database trust-audit service – HTTP entry point.
//
// Boot sequence
// -------------
//
//  1. Start daily rotating logger (tees to console when running in a TTY).
//
//  2. Load configuration (.env → conf/global.yaml → DBAUDIT_ env overrides).
//
//  3. Open the run-ledger DB and log queued-run count as a sanity check.
//
//  4. Connect the Vault client (token renewal runs in the background).
//
//  5. Build the completion collaborator (optional; heuristic-only without).
//
//  6. Wire orchestrator + fix executor, then trigger once so runs left
//     QUEUED by a restart are drained immediately.
//
//  7. Serve the chi API with hardened timeouts.
//
// Large comment blocks are framed by blank “//” lines; inline comments use
// a single “//”.
package main

import (
	"context"
	"log"
	"os"

	"github.com/yanizio/dbaudit/internal/completion"
	"github.com/yanizio/dbaudit/internal/config"
	"github.com/yanizio/dbaudit/internal/database"
	"github.com/yanizio/dbaudit/internal/fixexec"
	"github.com/yanizio/dbaudit/internal/ledger"
	"github.com/yanizio/dbaudit/internal/logger"
	"github.com/yanizio/dbaudit/internal/orchestrator"
	"github.com/yanizio/dbaudit/internal/server"
	"github.com/yanizio/dbaudit/internal/vault"
	"github.com/yanizio/dbaudit/internal/web"
)

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func main() {
	rootDir, _ := os.Getwd()
	logOut, err := logger.New(rootDir, runningInTTY())
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}

	//
	// ── 1.  Configuration ───────────────────────────────────────────────
	//
	cfg, err := config.Load()
	if err != nil {
		logOut.Fatalf("load config: %v", err)
	}

	//
	// ── 2.  Run ledger connect ──────────────────────────────────────────
	//
	ledgerDB, err := database.OpenLedger(cfg.Ledger.DSN)
	if err != nil {
		logOut.Fatalf("connect ledger DB: %v", err)
	}
	defer ledgerDB.Close()
	store := ledger.NewStore(ledgerDB)

	// Log queued-run count as an early sanity check.
	var queued int
	_ = ledgerDB.Get(&queued, `SELECT COUNT(*) FROM audit_run WHERE status = 'QUEUED'`)
	logOut.Infow("ledger online", "queued_runs", queued)

	//
	// ── 3.  Vault client ────────────────────────────────────────────────
	//
	ctx := context.Background()
	secrets, err := vault.New(ctx, logOut.Infof)
	if err != nil {
		logOut.Fatalf("connect vault: %v", err)
	}

	//
	// ── 4.  Completion collaborator (optional) ──────────────────────────
	//
	collab := completion.NewCollaborator(completion.NewClient(completion.Config{
		BaseURL: cfg.Completion.BaseURL,
		APIKey:  cfg.Completion.APIKey,
		Model:   cfg.Completion.Model,
		Timeout: cfg.Completion.Timeout,
	}), int64(cfg.Budget.SampleLimit))
	if !collab.Configured() {
		logOut.Infow("no completion provider configured, audits surface heuristic fixes only")
	}

	//
	// ── 5.  Orchestrator + fix executor ─────────────────────────────────
	//
	orch := orchestrator.New(store, secrets, collab, cfg, logOut)
	orch.Trigger() // drain runs left QUEUED by a restart

	exec := fixexec.New(store, secrets, cfg.Vault.DSNKey, cfg.Vault.CacheTTL,
		orch.Trigger, logOut)

	//
	// ── 6.  HTTP API ────────────────────────────────────────────────────
	//
	handler := web.NewHandler(store, orch, exec, collab, secrets, cfg, logOut)
	srv := server.New(cfg.HTTP.ListenAddr, handler.Router())

	logOut.Infow("listening", "addr", cfg.HTTP.ListenAddr)
	if err := srv.ListenAndServe(); err != nil {
		logOut.Fatalf("http server: %v", err)
	}
}
