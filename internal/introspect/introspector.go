// internal/introspect/introspector.go
//
// Read-only schema introspection of the target PostgreSQL database.
//
// Context
// -------
// Produces the immutable Snapshot an audit run reasons about.  A statement
// timeout is set before any metadata query so a pathological catalog cannot
// hang the run.  Per table we query columns (PK/unique flags computed via
// constraint joins, never naming), indexes (grouped by index name, ordered
// by position), and declared constraints (grouped by constraint name, with
// the referenced side for FKs).  Row counts come from planner statistics —
// COUNT(*) is unbounded cost on large tables.  Foreign-key edges are
// extracted once globally to avoid duplicate joins.
//
// Failure semantics: any single metadata query failure aborts the whole
// introspection.  A partial snapshot is unsafe to reason about, so the
// caller must surface this as a hard failure of the run.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.

package introspect

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/yanizio/dbaudit/internal/snapshot"
)

// Inspect captures the target database's structure.  db must be a pool the
// caller owns and closes; statementTimeoutMs bounds every metadata query.
func Inspect(ctx context.Context, db *sqlx.DB, statementTimeoutMs int) (*snapshot.Snapshot, error) {
	if _, err := db.ExecContext(ctx,
		fmt.Sprintf("SET statement_timeout = %d", statementTimeoutMs)); err != nil {
		return nil, fmt.Errorf("set statement timeout: %w", err)
	}

	names, err := listTables(ctx, db)
	if err != nil {
		return nil, err
	}

	snap := &snapshot.Snapshot{
		Tables:      make([]snapshot.Table, 0, len(names)),
		ExtractedAt: time.Now().UTC(),
	}

	for _, tn := range names {
		table := snapshot.Table{Schema: tn.Schema, Name: tn.Name}

		if table.Columns, err = tableColumns(ctx, db, tn.Schema, tn.Name); err != nil {
			return nil, err
		}
		if table.Indexes, err = tableIndexes(ctx, db, tn.Schema, tn.Name); err != nil {
			return nil, err
		}
		if table.Constraints, err = tableConstraints(ctx, db, tn.Schema, tn.Name); err != nil {
			return nil, err
		}
		if table.ApproxRowCount, err = approxRowCount(ctx, db, tn.Schema, tn.Name); err != nil {
			return nil, err
		}
		snap.Tables = append(snap.Tables, table)
	}

	if snap.ForeignKeys, err = foreignKeyEdges(ctx, db); err != nil {
		return nil, err
	}
	return snap, nil
}

/*──────────────────────────── table listing ────────────────────────────────*/

type tableName struct {
	Schema string `db:"table_schema"`
	Name   string `db:"table_name"`
}

const tablesQuery = `
	SELECT table_schema, table_name
	FROM   information_schema.tables
	WHERE  table_schema NOT IN ('pg_catalog', 'information_schema')
	  AND  table_type = 'BASE TABLE'
	ORDER  BY table_schema, table_name`

func listTables(ctx context.Context, db *sqlx.DB) ([]tableName, error) {
	var names []tableName
	if err := db.SelectContext(ctx, &names, tablesQuery); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return names, nil
}

/*──────────────────────────────── columns ──────────────────────────────────*/

type columnRow struct {
	Name       string  `db:"column_name"`
	DataType   string  `db:"data_type"`
	IsNullable string  `db:"is_nullable"`
	Default    *string `db:"column_default"`
	MaxLength  *int    `db:"character_maximum_length"`
	IsPrimary  bool    `db:"is_primary_key"`
	IsUnique   bool    `db:"is_unique"`
}

// columnsQuery computes primary-key and unique flags through constraint
// joins rather than trusting index or column naming.
const columnsQuery = `
	SELECT c.column_name,
	       c.data_type,
	       c.is_nullable,
	       c.column_default,
	       c.character_maximum_length,
	       pk.column_name IS NOT NULL AS is_primary_key,
	       uq.column_name IS NOT NULL AS is_unique
	FROM   information_schema.columns c
	LEFT JOIN (
	    SELECT ku.column_name
	    FROM   information_schema.table_constraints tc
	    JOIN   information_schema.key_column_usage ku
	           ON tc.constraint_name = ku.constraint_name
	          AND tc.table_schema = ku.table_schema
	    WHERE  tc.constraint_type = 'PRIMARY KEY'
	      AND  tc.table_schema = $1 AND tc.table_name = $2
	) pk ON c.column_name = pk.column_name
	LEFT JOIN (
	    SELECT ku.column_name
	    FROM   information_schema.table_constraints tc
	    JOIN   information_schema.key_column_usage ku
	           ON tc.constraint_name = ku.constraint_name
	          AND tc.table_schema = ku.table_schema
	    WHERE  tc.constraint_type = 'UNIQUE'
	      AND  tc.table_schema = $1 AND tc.table_name = $2
	) uq ON c.column_name = uq.column_name
	WHERE  c.table_schema = $1 AND c.table_name = $2
	ORDER  BY c.ordinal_position`

func tableColumns(ctx context.Context, db *sqlx.DB, schema, table string) ([]snapshot.Column, error) {
	var rows []columnRow
	if err := db.SelectContext(ctx, &rows, columnsQuery, schema, table); err != nil {
		return nil, fmt.Errorf("columns of %s.%s: %w", schema, table, err)
	}

	cols := make([]snapshot.Column, 0, len(rows))
	for _, r := range rows {
		cols = append(cols, snapshot.Column{
			Name:         r.Name,
			DataType:     r.DataType,
			Nullable:     r.IsNullable == "YES",
			HasDefault:   r.Default != nil,
			IsPrimaryKey: r.IsPrimary,
			IsUnique:     r.IsUnique,
			MaxLength:    r.MaxLength,
		})
	}
	return cols, nil
}

/*──────────────────────────────── indexes ──────────────────────────────────*/

type indexRow struct {
	Name      string         `db:"index_name"`
	Columns   pq.StringArray `db:"columns"`
	IsUnique  bool           `db:"is_unique"`
	IsPrimary bool           `db:"is_primary"`
}

// indexesQuery groups by index name with columns ordered by their position
// within the index, not by attribute number.
const indexesQuery = `
	SELECT i.relname AS index_name,
	       array_agg(a.attname ORDER BY array_position(ix.indkey, a.attnum)) AS columns,
	       ix.indisunique AS is_unique,
	       ix.indisprimary AS is_primary
	FROM   pg_class t
	JOIN   pg_index ix     ON t.oid = ix.indrelid
	JOIN   pg_class i      ON i.oid = ix.indexrelid
	JOIN   pg_attribute a  ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
	JOIN   pg_namespace n  ON n.oid = t.relnamespace
	WHERE  n.nspname = $1 AND t.relname = $2
	GROUP  BY i.relname, ix.indisunique, ix.indisprimary
	ORDER  BY i.relname`

func tableIndexes(ctx context.Context, db *sqlx.DB, schema, table string) ([]snapshot.Index, error) {
	var rows []indexRow
	if err := db.SelectContext(ctx, &rows, indexesQuery, schema, table); err != nil {
		return nil, fmt.Errorf("indexes of %s.%s: %w", schema, table, err)
	}

	idx := make([]snapshot.Index, 0, len(rows))
	for _, r := range rows {
		idx = append(idx, snapshot.Index{
			Name:      r.Name,
			Columns:   []string(r.Columns),
			IsUnique:  r.IsUnique,
			IsPrimary: r.IsPrimary,
		})
	}
	return idx, nil
}

/*────────────────────────────── constraints ────────────────────────────────*/

type constraintRow struct {
	Name       string         `db:"constraint_name"`
	Type       string         `db:"constraint_type"`
	Columns    pq.StringArray `db:"columns"`
	RefTable   *string        `db:"referenced_table"`
	RefColumns pq.StringArray `db:"referenced_columns"`
}

const constraintsQuery = `
	SELECT tc.constraint_name,
	       tc.constraint_type,
	       array_agg(DISTINCT kcu.column_name) FILTER (WHERE kcu.column_name IS NOT NULL) AS columns,
	       ccu.table_name AS referenced_table,
	       array_agg(DISTINCT ccu.column_name) FILTER (WHERE ccu.column_name IS NOT NULL) AS referenced_columns
	FROM   information_schema.table_constraints tc
	LEFT JOIN information_schema.key_column_usage kcu
	       ON tc.constraint_name = kcu.constraint_name
	      AND tc.table_schema = kcu.table_schema
	LEFT JOIN information_schema.constraint_column_usage ccu
	       ON tc.constraint_name = ccu.constraint_name
	      AND tc.table_schema = ccu.table_schema
	WHERE  tc.table_schema = $1 AND tc.table_name = $2
	GROUP  BY tc.constraint_name, tc.constraint_type, ccu.table_name
	ORDER  BY tc.constraint_name`

func tableConstraints(ctx context.Context, db *sqlx.DB, schema, table string) ([]snapshot.Constraint, error) {
	var rows []constraintRow
	if err := db.SelectContext(ctx, &rows, constraintsQuery, schema, table); err != nil {
		return nil, fmt.Errorf("constraints of %s.%s: %w", schema, table, err)
	}

	cons := make([]snapshot.Constraint, 0, len(rows))
	for _, r := range rows {
		c := snapshot.Constraint{
			Name:              r.Name,
			Type:              r.Type,
			Columns:           []string(r.Columns),
			ReferencedColumns: []string(r.RefColumns),
		}
		if r.RefTable != nil {
			c.ReferencedTable = *r.RefTable
		}
		cons = append(cons, c)
	}
	return cons, nil
}

/*────────────────────────────── row estimate ───────────────────────────────*/

// approxRowCount reads the planner's row estimate.  reltuples is -1 on a
// never-analyzed table; that is clamped to 0 so sampling decisions stay
// sane.
const rowCountQuery = `
	SELECT GREATEST(reltuples::bigint, 0)
	FROM   pg_class
	JOIN   pg_namespace ON pg_namespace.oid = pg_class.relnamespace
	WHERE  nspname = $1 AND relname = $2`

func approxRowCount(ctx context.Context, db *sqlx.DB, schema, table string) (int64, error) {
	var estimate int64
	if err := db.GetContext(ctx, &estimate, rowCountQuery, schema, table); err != nil {
		return 0, fmt.Errorf("row estimate of %s.%s: %w", schema, table, err)
	}
	return estimate, nil
}

/*──────────────────────────── foreign-key edges ────────────────────────────*/

type fkRow struct {
	FromTable  string `db:"from_table"`
	FromColumn string `db:"from_column"`
	ToTable    string `db:"to_table"`
	ToColumn   string `db:"to_column"`
	Constraint string `db:"constraint_name"`
}

const foreignKeysQuery = `
	SELECT tc.table_schema || '.' || tc.table_name   AS from_table,
	       kcu.column_name                           AS from_column,
	       ccu.table_schema || '.' || ccu.table_name AS to_table,
	       ccu.column_name                           AS to_column,
	       tc.constraint_name
	FROM   information_schema.table_constraints tc
	JOIN   information_schema.key_column_usage kcu
	       ON tc.constraint_name = kcu.constraint_name
	      AND tc.table_schema = kcu.table_schema
	JOIN   information_schema.constraint_column_usage ccu
	       ON tc.constraint_name = ccu.constraint_name
	      AND tc.table_schema = ccu.table_schema
	WHERE  tc.constraint_type = 'FOREIGN KEY'
	  AND  tc.table_schema NOT IN ('pg_catalog', 'information_schema')
	ORDER  BY tc.constraint_name`

func foreignKeyEdges(ctx context.Context, db *sqlx.DB) ([]snapshot.ForeignKeyEdge, error) {
	var rows []fkRow
	if err := db.SelectContext(ctx, &rows, foreignKeysQuery); err != nil {
		return nil, fmt.Errorf("foreign keys: %w", err)
	}

	edges := make([]snapshot.ForeignKeyEdge, 0, len(rows))
	for _, r := range rows {
		edges = append(edges, snapshot.ForeignKeyEdge{
			FromTable:  r.FromTable,
			FromColumn: r.FromColumn,
			ToTable:    r.ToTable,
			ToColumn:   r.ToColumn,
			Constraint: r.Constraint,
		})
	}
	return edges, nil
}
