// internal/inference/inferrer.go
//
// Semantic inference over a schema snapshot.
//
// Context
// -------
// Infer is a pure function Snapshot → Model: no I/O, no randomness, no
// clock.  Calling it twice on an identical snapshot must yield identical
// output, because verification runs rely on stable issue ordering and the
// ledger diffs models across runs.  It must also survive malformed
// snapshots (zero columns, self-referencing tables) without panicking,
// since the snapshot comes from arbitrary customer databases.
//
// Heuristics
// ----------
//   • Join table      – exactly 2 FKs to distinct tables, ≤5 columns total.
//   • Entity          – everything else; confidence 0.7 base, +0.1 for a
//     primary key, +0.1 for >5 columns, floor 0.85 on a common entity name.
//   • Identity keys   – ordered name/type heuristics; uniqueness-backed
//     candidates score +0.1 over unconstrained ones.
//   • Relationships   – declared FKs only, fixed 0.95.  Undeclared edges
//     are audit-module territory, not model territory.
//   • Source of truth – crude singulariser collapses table names to a
//     concept; concepts with ≥2 tables become candidates at 0.75.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.

package inference

import (
	"fmt"
	"math"
	"strings"

	"github.com/yanizio/dbaudit/internal/snapshot"
)

// entityNamePatterns are substrings that mark obviously entity-like tables.
var entityNamePatterns = []string{
	"users", "customers", "companies", "contacts", "products",
	"orders", "payments", "tasks", "events",
}

// qualifierWords are naming suffixes that denote a derived copy of a
// concept rather than a new concept.
var qualifierWords = []string{"enriched", "extended", "full", "base"}

// Infer derives the semantic model for a snapshot.
func Infer(snap *snapshot.Snapshot) *Model {
	m := &Model{
		Entities:                []Entity{},
		JoinTables:              []JoinTable{},
		IdentityKeys:            []IdentityKey{},
		Relationships:           []Relationship{},
		SourceOfTruthCandidates: []SourceOfTruthCandidate{},
	}
	if snap == nil {
		return m
	}

	for i := range snap.Tables {
		t := &snap.Tables[i]
		if jt, ok := classifyJoinTable(t); ok {
			m.JoinTables = append(m.JoinTables, jt)
			continue
		}
		m.Entities = append(m.Entities, classifyEntity(t))
	}

	m.IdentityKeys = inferIdentityKeys(snap)
	m.Relationships = inferRelationships(snap)
	m.SourceOfTruthCandidates = inferSourceOfTruth(snap, m.Entities)
	return m
}

/*──────────────────────── entity vs. join table ───────────────────────────*/

// classifyJoinTable applies the join-table rule: exactly two FK constraints
// referencing distinct tables, and no more than five columns in total.
// Tables with ≥2 FKs but more columns likely carry their own attributes and
// stay entities.
func classifyJoinTable(t *snapshot.Table) (JoinTable, bool) {
	fks := t.ForeignKeys()
	if len(fks) != 2 || len(t.Columns) > 5 {
		return JoinTable{}, false
	}
	left, right := fks[0].ReferencedTable, fks[1].ReferencedTable
	if left == "" || right == "" || strings.EqualFold(left, right) {
		return JoinTable{}, false
	}
	return JoinTable{
		TableName:  t.Qualified(),
		LeftTable:  left,
		RightTable: right,
		Confidence: 0.85,
	}, true
}

func classifyEntity(t *snapshot.Table) Entity {
	confidence := 0.7
	reasoning := "table has typical entity characteristics"

	if t.HasPrimaryKey() {
		confidence += 0.1
		reasoning += ", has primary key"
	}
	if len(t.Columns) > 5 {
		confidence += 0.1
		reasoning += ", has multiple columns"
	}

	lower := strings.ToLower(t.Name)
	for _, pat := range entityNamePatterns {
		if strings.Contains(lower, pat) {
			confidence = math.Min(0.95, confidence+0.15)
			if confidence < 0.85 {
				confidence = 0.85
			}
			reasoning += ", matches common entity pattern"
			break
		}
	}

	return Entity{
		TableName:  t.Qualified(),
		Confidence: math.Min(1.0, confidence),
		Reasoning:  reasoning,
	}
}

/*─────────────────────────── identity keys ─────────────────────────────────*/

// inferIdentityKeys applies the ordered name/type heuristics to every
// column.  A uuid-typed id column that looks like a plain foreign key (id
// suffix, not the primary key, no uniqueness constraint) is excluded so
// ordinary FK columns are not mistaken for identities.
func inferIdentityKeys(snap *snapshot.Snapshot) []IdentityKey {
	keys := []IdentityKey{}

	for i := range snap.Tables {
		t := &snap.Tables[i]
		for j := range t.Columns {
			col := &t.Columns[j]
			lower := strings.ToLower(col.Name)

			var keyType KeyType
			var confidence float64

			switch {
			case strings.Contains(lower, "email"):
				keyType, confidence = KeyEmail, 0.9
			case strings.Contains(lower, "domain"):
				keyType, confidence = KeyDomain, 0.85
			case strings.Contains(lower, "phone"), strings.Contains(lower, "mobile"):
				keyType, confidence = KeyPhone, 0.8
			case strings.Contains(lower, "external_id"), strings.Contains(lower, "external_key"):
				keyType, confidence = KeyExternalID, 0.9
			case col.DataType == "uuid" && strings.Contains(lower, "id"):
				fkShaped := strings.HasSuffix(lower, "_id") || strings.HasSuffix(lower, "id")
				if fkShaped && !col.IsPrimaryKey && !col.IsUnique {
					continue
				}
				keyType, confidence = KeyUUID, 0.7
			default:
				continue
			}

			backed := col.IsUnique || col.IsPrimaryKey
			if backed {
				confidence = math.Min(1.0, confidence+0.1)
			}

			keys = append(keys, IdentityKey{
				TableName:           t.Qualified(),
				ColumnName:          col.Name,
				KeyType:             keyType,
				HasUniqueConstraint: backed,
				Confidence:          confidence,
			})
		}
	}
	return keys
}

/*─────────────────────────── relationships ─────────────────────────────────*/

func inferRelationships(snap *snapshot.Snapshot) []Relationship {
	rels := []Relationship{}
	for _, fk := range snap.ForeignKeys {
		rels = append(rels, Relationship{
			Type:       "1:many",
			FromTable:  fk.FromTable,
			ToTable:    fk.ToTable,
			Confidence: 0.95,
		})
	}
	return rels
}

/*───────────────────────── source-of-truth conflicts ───────────────────────*/

// NormalizeConcept collapses a bare table name to its underlying concept:
// qualifier words and underscores are dropped, then a crude singulariser
// trims an "ies", "y", or trailing "s" suffix, so "company" and "companies"
// both map to "compan".  Exported because the ambiguous-entities module and
// its tests must use the identical rule.
func NormalizeConcept(name string) string {
	base := strings.ToLower(name)
	for _, q := range qualifierWords {
		base = strings.ReplaceAll(base, q, "")
	}
	base = strings.ReplaceAll(base, "_", "")

	switch {
	case strings.HasSuffix(base, "ies"):
		base = strings.TrimSuffix(base, "ies")
	case strings.HasSuffix(base, "y"):
		base = strings.TrimSuffix(base, "y")
	default:
		base = strings.TrimSuffix(base, "s")
	}
	return base
}

func inferSourceOfTruth(snap *snapshot.Snapshot, entities []Entity) []SourceOfTruthCandidate {
	// Group entity tables by normalized concept, preserving encounter order
	// so output is deterministic.
	var order []string
	groups := map[string][]string{}

	for _, e := range entities {
		bare := e.TableName
		if _, name, ok := strings.Cut(bare, "."); ok {
			bare = name
		}
		concept := NormalizeConcept(bare)
		if concept == "" {
			continue
		}
		if _, seen := groups[concept]; !seen {
			order = append(order, concept)
		}
		groups[concept] = append(groups[concept], e.TableName)
	}

	candidates := []SourceOfTruthCandidate{}
	for _, concept := range order {
		tables := groups[concept]
		if len(tables) < 2 {
			continue
		}

		// Canonical table is the one with the most columns; ties resolve to
		// the first encountered.
		canonical := tables[0]
		maxCols := -1
		for _, qualified := range tables {
			cols := 0
			if t := snap.TableByQualified(qualified); t != nil {
				cols = len(t.Columns)
			}
			if cols > maxCols {
				maxCols = cols
				canonical = qualified
			}
		}

		candidates = append(candidates, SourceOfTruthCandidate{
			Concept:              concept,
			Tables:               tables,
			RecommendedCanonical: canonical,
			Reasoning: fmt.Sprintf(
				"multiple tables represent '%s'; %s has the most columns (%d)",
				concept, canonical, maxCols),
			Confidence: 0.75,
		})
	}
	return candidates
}
