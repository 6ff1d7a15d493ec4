// internal/inference/inferrer_test.go
//
// Unit-tests for semantic inference heuristics.
//
// Run: go test ./internal/inference -v

package inference

import (
	"encoding/json"
	"testing"

	"github.com/yanizio/dbaudit/internal/snapshot"
)

func col(name, typ string) snapshot.Column {
	return snapshot.Column{Name: name, DataType: typ}
}

func pkCol(name, typ string) snapshot.Column {
	return snapshot.Column{Name: name, DataType: typ, IsPrimaryKey: true}
}

func fkConstraint(col, refTable string) snapshot.Constraint {
	return snapshot.Constraint{
		Name:              "fk_" + col,
		Type:              snapshot.ConstraintForeignKey,
		Columns:           []string{col},
		ReferencedTable:   refTable,
		ReferencedColumns: []string{"id"},
	}
}

func TestInferDeterministic(t *testing.T) {
	snap := &snapshot.Snapshot{
		Tables: []snapshot.Table{
			{Schema: "public", Name: "users", Columns: []snapshot.Column{
				pkCol("id", "uuid"), col("email", "text"), col("name", "text"),
			}},
			{Schema: "public", Name: "orders", Columns: []snapshot.Column{
				pkCol("id", "uuid"), col("user_id", "uuid"), col("total", "numeric"),
			}},
		},
		ForeignKeys: []snapshot.ForeignKeyEdge{{
			FromTable: "public.orders", FromColumn: "user_id",
			ToTable: "public.users", ToColumn: "id",
		}},
	}

	a, err := json.Marshal(Infer(snap))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b, err := json.Marshal(Infer(snap))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(a) != string(b) {
		t.Error("two runs over the same snapshot differ")
	}
}

func TestInferNilAndEmptySnapshots(t *testing.T) {
	for _, snap := range []*snapshot.Snapshot{nil, {}} {
		m := Infer(snap)
		if m == nil || m.Entities == nil || m.JoinTables == nil ||
			m.IdentityKeys == nil || m.Relationships == nil ||
			m.SourceOfTruthCandidates == nil {
			t.Fatalf("expected fully initialized empty model, got %+v", m)
		}
	}
}

func TestJoinTableClassificationUnderColumnPermutation(t *testing.T) {
	cols := []snapshot.Column{
		col("user_id", "uuid"),
		col("role_id", "uuid"),
		col("granted_at", "timestamp"),
	}
	cons := []snapshot.Constraint{
		fkConstraint("user_id", "users"),
		fkConstraint("role_id", "roles"),
	}

	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, p := range perms {
		permuted := []snapshot.Column{cols[p[0]], cols[p[1]], cols[p[2]]}
		snap := &snapshot.Snapshot{Tables: []snapshot.Table{{
			Schema: "public", Name: "user_roles",
			Columns: permuted, Constraints: cons,
		}}}

		m := Infer(snap)
		if len(m.JoinTables) != 1 || len(m.Entities) != 0 {
			t.Fatalf("permutation %v: expected join table, got entities=%d join=%d",
				p, len(m.Entities), len(m.JoinTables))
		}
		if m.JoinTables[0].Confidence != 0.85 {
			t.Errorf("join confidence = %v, want 0.85", m.JoinTables[0].Confidence)
		}
	}
}

func TestJoinTableNeedsDistinctTargetsAndFewColumns(t *testing.T) {
	// Both FKs point at the same table: stays an entity.
	selfPair := snapshot.Table{Schema: "public", Name: "follows",
		Columns: []snapshot.Column{col("follower_id", "uuid"), col("followee_id", "uuid")},
		Constraints: []snapshot.Constraint{
			fkConstraint("follower_id", "users"),
			fkConstraint("followee_id", "users"),
		}}
	// Six columns: carries its own attributes, stays an entity.
	wide := snapshot.Table{Schema: "public", Name: "enrollments",
		Columns: []snapshot.Column{
			col("student_id", "uuid"), col("course_id", "uuid"), col("a", "text"),
			col("b", "text"), col("c", "text"), col("d", "text"),
		},
		Constraints: []snapshot.Constraint{
			fkConstraint("student_id", "students"),
			fkConstraint("course_id", "courses"),
		}}

	m := Infer(&snapshot.Snapshot{Tables: []snapshot.Table{selfPair, wide}})
	if len(m.JoinTables) != 0 || len(m.Entities) != 2 {
		t.Errorf("expected 2 entities and no join tables, got %+v", m)
	}
}

func TestEntityConfidenceAccumulates(t *testing.T) {
	bare := snapshot.Table{Schema: "public", Name: "widgets",
		Columns: []snapshot.Column{col("a", "text")}}
	rich := snapshot.Table{Schema: "public", Name: "customers",
		Columns: []snapshot.Column{
			pkCol("id", "uuid"), col("email", "text"), col("name", "text"),
			col("street", "text"), col("city", "text"), col("zip", "text"),
		}}

	m := Infer(&snapshot.Snapshot{Tables: []snapshot.Table{bare, rich}})
	if len(m.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(m.Entities))
	}
	if m.Entities[0].Confidence != 0.7 {
		t.Errorf("bare entity confidence = %v, want 0.7", m.Entities[0].Confidence)
	}
	// 0.7 + 0.1 (pk) + 0.1 (cols) + 0.15 capped at 0.95.
	if m.Entities[1].Confidence != 0.95 {
		t.Errorf("rich entity confidence = %v, want 0.95", m.Entities[1].Confidence)
	}
}

func TestIdentityKeyConstraintBackingRaisesConfidence(t *testing.T) {
	snap := &snapshot.Snapshot{Tables: []snapshot.Table{
		{Schema: "public", Name: "accounts", Columns: []snapshot.Column{
			{Name: "email", DataType: "text", IsUnique: true},
		}},
		{Schema: "public", Name: "leads", Columns: []snapshot.Column{
			{Name: "email", DataType: "text"},
		}},
	}}

	keys := Infer(snap).IdentityKeys
	if len(keys) != 2 {
		t.Fatalf("expected 2 identity keys, got %d", len(keys))
	}
	backed, bare := keys[0], keys[1]
	if !backed.HasUniqueConstraint || bare.HasUniqueConstraint {
		t.Fatalf("constraint flags wrong: %+v", keys)
	}
	if backed.Confidence < bare.Confidence {
		t.Errorf("backed %v < unconstrained %v", backed.Confidence, bare.Confidence)
	}
	if backed.KeyType != KeyEmail {
		t.Errorf("key type = %v, want %v", backed.KeyType, KeyEmail)
	}
}

func TestIdentityKeySkipsForeignKeyShapedUUIDs(t *testing.T) {
	snap := &snapshot.Snapshot{Tables: []snapshot.Table{
		{Schema: "public", Name: "orders", Columns: []snapshot.Column{
			pkCol("id", "uuid"),
			col("customer_id", "uuid"), // FK-shaped, no constraint: not an identity
		}},
	}}

	keys := Infer(snap).IdentityKeys
	if len(keys) != 1 {
		t.Fatalf("expected only the primary key, got %+v", keys)
	}
	if keys[0].ColumnName != "id" || keys[0].KeyType != KeyUUID {
		t.Errorf("unexpected identity key: %+v", keys[0])
	}
}

func TestRelationshipsDeclaredOnly(t *testing.T) {
	snap := &snapshot.Snapshot{
		Tables: []snapshot.Table{
			{Schema: "public", Name: "orders", Columns: []snapshot.Column{
				col("customer_id", "uuid"), // undeclared FK shape
				col("vendor_id", "uuid"),
			}},
		},
		ForeignKeys: []snapshot.ForeignKeyEdge{{
			FromTable: "public.orders", FromColumn: "vendor_id",
			ToTable: "public.vendors", ToColumn: "id",
		}},
	}

	rels := Infer(snap).Relationships
	if len(rels) != 1 {
		t.Fatalf("expected 1 declared relationship, got %d", len(rels))
	}
	if rels[0].ToTable != "public.vendors" || rels[0].Confidence != 0.95 {
		t.Errorf("unexpected relationship: %+v", rels[0])
	}
}

func TestNormalizeConcept(t *testing.T) {
	cases := map[string]string{
		"company":            "compan",
		"companies":          "compan",
		"companies_enriched": "compan",
		"users":              "user",
		"user":               "user",
		"base_contacts":      "contact",
		"orders_extended":    "order",
	}
	for in, want := range cases {
		if got := NormalizeConcept(in); got != want {
			t.Errorf("NormalizeConcept(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSourceOfTruthGroupsSingularAndPlural(t *testing.T) {
	snap := &snapshot.Snapshot{Tables: []snapshot.Table{
		{Schema: "public", Name: "company", Columns: []snapshot.Column{
			col("id", "uuid"), col("name", "text"),
		}},
		{Schema: "public", Name: "companies", Columns: []snapshot.Column{
			col("id", "uuid"), col("name", "text"), col("domain", "text"),
		}},
		{Schema: "public", Name: "invoices", Columns: []snapshot.Column{
			col("id", "uuid"),
		}},
	}}

	cands := Infer(snap).SourceOfTruthCandidates
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %+v", cands)
	}
	c := cands[0]
	if c.Concept != "compan" {
		t.Errorf("concept = %q, want compan", c.Concept)
	}
	if len(c.Tables) != 2 {
		t.Errorf("tables = %v, want both company tables", c.Tables)
	}
	// companies has more columns, so it wins canonical.
	if c.RecommendedCanonical != "public.companies" {
		t.Errorf("canonical = %q, want public.companies", c.RecommendedCanonical)
	}
	if c.Confidence != 0.75 {
		t.Errorf("confidence = %v, want 0.75", c.Confidence)
	}
}
