// internal/snapshot/snapshot_test.go

package snapshot

import "testing"

func twoTableSnapshot() *Snapshot {
	return &Snapshot{Tables: []Table{
		{
			Schema: "public",
			Name:   "orders",
			Columns: []Column{
				{Name: "id", DataType: "uuid", IsPrimaryKey: true},
				{Name: "customer_id", DataType: "uuid", Nullable: true},
			},
			Constraints: []Constraint{
				{Name: "orders_pkey", Type: ConstraintPrimaryKey, Columns: []string{"id"}},
				{Name: "orders_customer_id_fkey", Type: ConstraintForeignKey,
					Columns: []string{"customer_id"}, ReferencedTable: "public.customers"},
			},
		},
		{
			Schema:  "public",
			Name:    "customers",
			Columns: []Column{{Name: "id", DataType: "uuid", IsPrimaryKey: true}},
		},
	}}
}

func TestLooksLikeForeignKey(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"id", false},
		{"customer_id", true},
		{"customerId", true},
		{"paid", true}, // false positive; callers verify a parent table exists
		{"email", false},
	}
	for _, tc := range cases {
		if got := LooksLikeForeignKey(tc.name); got != tc.want {
			t.Errorf("LooksLikeForeignKey(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestReferencedTable(t *testing.T) {
	s := twoTableSnapshot()

	if got := s.ReferencedTable("customer_id"); got == nil || got.Name != "customers" {
		t.Fatalf("customer_id should resolve to customers via plural fallback, got %v", got)
	}
	if got := s.ReferencedTable("warehouse_id"); got != nil {
		t.Fatalf("unknown guess must return nil, got %v", got)
	}
	if got := s.ReferencedTable("id"); got != nil {
		t.Fatalf("bare id must not resolve, got %v", got)
	}
}

func TestTableByQualified(t *testing.T) {
	s := twoTableSnapshot()

	if got := s.TableByQualified("public.orders"); got == nil || got.Name != "orders" {
		t.Fatalf("public.orders = %v", got)
	}
	if got := s.TableByQualified("orders"); got == nil || got.Name != "orders" {
		t.Fatalf("bare name must fall back to TableByName, got %v", got)
	}
	if got := s.TableByQualified("other.orders"); got != nil {
		t.Fatalf("wrong schema must not match, got %v", got)
	}
}

func TestTableConstraintHelpers(t *testing.T) {
	s := twoTableSnapshot()
	orders := &s.Tables[0]
	customers := &s.Tables[1]

	if !orders.HasPrimaryKey() {
		t.Fatal("orders has a declared primary key")
	}
	if customers.HasPrimaryKey() {
		t.Fatal("customers declares no PRIMARY KEY constraint in this fixture")
	}
	if !orders.HasForeignKeyOn("customer_id") {
		t.Fatal("orders.customer_id is covered by a declared FK")
	}
	if orders.HasForeignKeyOn("id") {
		t.Fatal("orders.id is not covered by an FK")
	}
	if fks := orders.ForeignKeys(); len(fks) != 1 || fks[0].Name != "orders_customer_id_fkey" {
		t.Fatalf("ForeignKeys = %+v", fks)
	}
	if col := orders.Column("customer_id"); col == nil || col.DataType != "uuid" {
		t.Fatalf("Column(customer_id) = %v", col)
	}
	if col := orders.Column("missing"); col != nil {
		t.Fatalf("Column(missing) = %v", col)
	}
	if q := orders.Qualified(); q != "public.orders" {
		t.Fatalf("Qualified = %q", q)
	}
}
