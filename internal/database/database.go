// Package database centralises sqlx connection helpers.  Two drivers are in
// play: go-sql-driver/mysql for the service's own run ledger, and lib/pq
// for the audited target databases.
//
// Public entry points:
//
//	OpenLedger(dsn)  – long-lived pool for the run ledger.
//	OpenTarget(dsn)  – short-lived, deliberately tiny pool for one audit run.
//
// Both helpers Ping the database before returning so callers can fail fast.
// Callers should Close() the returned *sqlx.DB when no longer needed — for
// targets that happens at the end of the introspection + module stage, not
// at process exit.
package database

import (
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// OpenLedger returns the process-wide ledger pool with sane defaults: 15
// max open, 5 idle, and a 30-minute connection lifetime.
func OpenLedger(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(15)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenTarget returns a pool for one audit run against a target PostgreSQL
// database.  Max open is 1: audit queries are serial by design, and a
// single connection keeps the statement-timeout setting session-scoped.
func OpenTarget(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
