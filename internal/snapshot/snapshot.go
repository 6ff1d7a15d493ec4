// internal/snapshot/snapshot.go
//
// Immutable structural capture of a target database.
//
// Context
// -------
// A Snapshot is produced once per audit run by internal/introspect and then
// treated as read-only by every later stage: the inferrer derives a semantic
// model from it, audit modules consult it while planning queries, and the
// ledger serialises it verbatim into the persisted result so a completed run
// can be re-inspected without touching the target again.
//
// Nothing in here performs I/O.  Helpers exist only because several audit
// modules repeat the same lookups (FK constraints on a column, the `id`
// column of a table) and the rules must stay identical between them.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
package snapshot

import (
	"strings"
	"time"
)

// Constraint types as reported by information_schema.
const (
	ConstraintPrimaryKey = "PRIMARY KEY"
	ConstraintForeignKey = "FOREIGN KEY"
	ConstraintUnique     = "UNIQUE"
	ConstraintCheck      = "CHECK"
)

// Column describes one column of one table.  IsPrimaryKey and IsUnique are
// computed from constraint joins during introspection, never from naming.
// Invariant: IsPrimaryKey implies !Nullable.
type Column struct {
	Name         string `json:"name"`
	DataType     string `json:"dataType"`
	Nullable     bool   `json:"nullable"`
	HasDefault   bool   `json:"hasDefault"`
	IsPrimaryKey bool   `json:"isPrimaryKey"`
	IsUnique     bool   `json:"isUnique"`
	MaxLength    *int   `json:"maxLength,omitempty"`
}

// Index is one index, with columns ordered by their position in the index.
type Index struct {
	Name      string   `json:"name"`
	Columns   []string `json:"columns"`
	IsUnique  bool     `json:"isUnique"`
	IsPrimary bool     `json:"isPrimary"`
}

// Constraint is one declared constraint, grouped by constraint name.  The
// referenced side is populated for foreign keys only.
type Constraint struct {
	Name              string   `json:"name"`
	Type              string   `json:"type"`
	Columns           []string `json:"columns"`
	ReferencedTable   string   `json:"referencedTable,omitempty"`
	ReferencedColumns []string `json:"referencedColumns,omitempty"`
}

// Table is the point-in-time description of one base table.
// ApproxRowCount comes from planner statistics and may lag reality; it is a
// sizing signal, not a count.
type Table struct {
	Schema         string       `json:"schema"`
	Name           string       `json:"name"`
	Columns        []Column     `json:"columns"`
	Indexes        []Index      `json:"indexes"`
	Constraints    []Constraint `json:"constraints"`
	ApproxRowCount int64        `json:"approxRowCount"`
}

// ForeignKeyEdge is one declared FK, extracted once globally.  Table names
// are schema-qualified ("public.orders").
type ForeignKeyEdge struct {
	FromTable  string `json:"fromTable"`
	FromColumn string `json:"fromColumn"`
	ToTable    string `json:"toTable"`
	ToColumn   string `json:"toColumn"`
	Constraint string `json:"constraintName"`
}

// Snapshot is the full capture.  Owned exclusively by the run that created
// it; never mutated after introspection returns.
type Snapshot struct {
	Tables      []Table          `json:"tables"`
	ForeignKeys []ForeignKeyEdge `json:"foreignKeys"`
	ExtractedAt time.Time        `json:"extractedAt"`
}

// Qualified returns the schema-qualified table name.
func (t *Table) Qualified() string { return t.Schema + "." + t.Name }

// Column returns the named column, or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// ForeignKeys returns the table's declared FK constraints.
func (t *Table) ForeignKeys() []Constraint {
	var fks []Constraint
	for _, c := range t.Constraints {
		if c.Type == ConstraintForeignKey {
			fks = append(fks, c)
		}
	}
	return fks
}

// HasPrimaryKey reports whether any PRIMARY KEY constraint is declared.
func (t *Table) HasPrimaryKey() bool {
	for _, c := range t.Constraints {
		if c.Type == ConstraintPrimaryKey {
			return true
		}
	}
	return false
}

// HasForeignKeyOn reports whether column is covered by a declared FK.
func (t *Table) HasForeignKeyOn(column string) bool {
	for _, c := range t.Constraints {
		if c.Type != ConstraintForeignKey {
			continue
		}
		for _, col := range c.Columns {
			if col == column {
				return true
			}
		}
	}
	return false
}

// TableByName returns the table with the given bare (unqualified) name,
// matched case-insensitively, or nil.
func (s *Snapshot) TableByName(name string) *Table {
	for i := range s.Tables {
		if strings.EqualFold(s.Tables[i].Name, name) {
			return &s.Tables[i]
		}
	}
	return nil
}

// TableByQualified returns the table matching "schema.name", or nil.
func (s *Snapshot) TableByQualified(qualified string) *Table {
	schema, name, ok := strings.Cut(qualified, ".")
	if !ok {
		return s.TableByName(qualified)
	}
	for i := range s.Tables {
		if s.Tables[i].Schema == schema && s.Tables[i].Name == name {
			return &s.Tables[i]
		}
	}
	return nil
}

// ReferencedTable resolves the table an FK-shaped column appears to point
// at: "customer_id" → "customer" or "customers".  Returns nil when no table
// in the snapshot matches the guess.  Shared by the orphan-rows,
// constraint-gap, and type-mismatch modules so they agree on the guess.
func (s *Snapshot) ReferencedTable(column string) *Table {
	guess := strings.TrimSuffix(column, "_id")
	guess = strings.TrimSuffix(guess, "Id")
	if guess == "" || strings.EqualFold(guess, column) {
		return nil
	}
	if t := s.TableByName(guess); t != nil {
		return t
	}
	return s.TableByName(guess + "s")
}

// LooksLikeForeignKey reports whether a column name is FK-shaped: an `_id`
// or `id` suffix that is not the bare primary-key column itself.
func LooksLikeForeignKey(name string) bool {
	lower := strings.ToLower(name)
	if lower == "id" {
		return false
	}
	return strings.HasSuffix(lower, "_id") || strings.HasSuffix(lower, "id")
}
