// internal/config/model.go
//
// Typed configuration model for the audit service.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                           – dotenv values,
//   • `conf/global.yaml`                        – primary static file,
//   • `DBAUDIT_`-prefixed environment overrides – highest precedence.
//
// Secrets never live here: the completion API key may be supplied via env,
// and target-database DSNs are always fetched from Vault at run start
// using each connection's credential_ref.
//
// Validation happens immediately after unmarshal; the app fails fast if
// required fields are missing.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`—Koanf ignores `yaml` tags
//     unless configured otherwise.
//   • The `Paths` block is filled at runtime; YAML must not try to set it.
//   • Oxford commas, two spaces after periods.  No em-dash.

package config

import "time"

//
// HTTP section
//

// HTTP holds web-server tunables.
type HTTP struct {
	ListenAddr string `koanf:"listen_addr" validate:"required,hostname_port"`
}

//
// Ledger section
//

// Ledger holds the MySQL DSN of the service's own run ledger.  This is the
// one DSN allowed in configuration; target databases are referenced only
// through Vault paths.
type Ledger struct {
	DSN string `koanf:"dsn" validate:"required"`
}

//
// Budget section
//

// Budget holds the per-module resource ceilings applied to every audit
// query against a target database.  Tunable, but the defaults are chosen
// so an audit of an unknown production database stays cheap.
type Budget struct {
	MaxQueriesPerModule int   `koanf:"max_queries_per_module" validate:"required,min=1"`
	MaxRowsPerQuery     int   `koanf:"max_rows_per_query"     validate:"required,min=1"`
	StatementTimeoutMs  int   `koanf:"statement_timeout_ms"   validate:"required,min=1"`
	SampleThreshold     int64 `koanf:"sample_threshold"       validate:"required,min=1"`
	SampleLimit         int   `koanf:"sample_limit"           validate:"required,min=1"`
}

//
// Timeouts section
//

// Timeouts holds the stage and run wall-clock budgets.  Stage timeouts are
// nested inside the run timeout; whichever fires first fails the run.
type Timeouts struct {
	Run           time.Duration `koanf:"run"            validate:"required"`
	ModuleStage   time.Duration `koanf:"module_stage"   validate:"required"`
	FixGeneration time.Duration `koanf:"fix_generation" validate:"required"`
}

//
// Completion section
//

// Completion configures the text-completion collaborator.  An empty
// BaseURL or APIKey disables it; audits then surface heuristic fixes only.
type Completion struct {
	BaseURL string        `koanf:"base_url"`
	APIKey  string        `koanf:"api_key"`
	Model   string        `koanf:"model"`
	Timeout time.Duration `koanf:"timeout"`
}

//
// Vault section
//

// Vault holds the KV key under which each connection's credential_ref
// secret stores its DSN, plus the cache TTL for resolved secrets.
type Vault struct {
	DSNKey   string        `koanf:"dsn_key"   validate:"required"`
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime—never set in YAML or env.  The loader
// discovers `Root` (repo root or DBAUDIT_ROOT override) so later code can
// build absolute file paths.
type Paths struct {
	Root string // DBAUDIT_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the app lifetime.
type Config struct {
	HTTP       HTTP       `koanf:"http"`
	Ledger     Ledger     `koanf:"ledger"`
	Budget     Budget     `koanf:"budget"`
	Timeouts   Timeouts   `koanf:"timeouts"`
	Completion Completion `koanf:"completion"`
	Vault      Vault      `koanf:"vault"`
	Paths      Paths      `koanf:"-"` // not loaded from config files
}
