package meta

import "testing"

func testCatalog(shards int, partitionKey ...string) *Catalog {
	t := &Table{
		Name: "orders",
		Columns: []Column{
			{Name: "id", Ordinal: 1},
			{Name: "customer_id", Ordinal: 2},
			{Name: "note", Ordinal: 3},
		},
		PartitionKey: partitionKey,
	}
	for i := 0; i < shards; i++ {
		t.Topology = append(t.Topology, Physical{Shard: i, Name: "orders"})
	}
	idx, err := keyIndexes(t)
	if err != nil {
		panic(err)
	}
	t.keyIdx = idx
	return &Catalog{Tables: map[string]*Table{"orders": t}, ShardCount: shards}
}

func TestRouteDeterministic(t *testing.T) {
	r, err := NewRouter(testCatalog(4, "customer_id"), RuleHash)
	if err != nil {
		t.Fatal(err)
	}
	row := []string{"1", "cust-77", "x"}

	first, err := r.Route("orders", row)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		got, err := r.Route("orders", row)
		if err != nil {
			t.Fatal(err)
		}
		if got != first {
			t.Fatalf("route changed: %d then %d", first, got)
		}
	}
	if first < 0 || first >= 4 {
		t.Fatalf("shard %d out of range", first)
	}
}

func TestRouteSingleShardShortCircuits(t *testing.T) {
	r, err := NewRouter(testCatalog(1), RuleHash)
	if err != nil {
		t.Fatal(err)
	}
	// No partition key needed with one shard.
	got, err := r.Route("orders", []string{"1", "c", "x"})
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Fatalf("shard = %d, want 0", got)
	}
}

func TestRouteMod(t *testing.T) {
	r, err := NewRouter(testCatalog(3, "id"), RuleMod)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		id   string
		want int
	}{
		{"0", 0},
		{"1", 1},
		{"5", 2},
		{"-1", 2}, // negative keys still land in [0,n)
	}
	for _, tc := range tests {
		got, err := r.Route("orders", []string{tc.id, "c", "x"})
		if err != nil {
			t.Fatalf("id %s: %v", tc.id, err)
		}
		if got != tc.want {
			t.Errorf("id %s routed to %d, want %d", tc.id, got, tc.want)
		}
	}

	if _, err := r.Route("orders", []string{"not-a-number", "c", "x"}); err == nil {
		t.Fatal("mod routing accepted a non-integer key")
	}
}

func TestRouteCompositeKeyBoundaries(t *testing.T) {
	r, err := NewRouter(testCatalog(8, "id", "customer_id"), RuleHash)
	if err != nil {
		t.Fatal(err)
	}
	// ("ab","c") and ("a","bc") concatenate identically; the field separator
	// in the hash input must keep them apart. Equality of the two hashes for
	// all inputs would be a routing bug, though a single collision is legal.
	a, err := r.Route("orders", []string{"ab", "c", ""})
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Route("orders", []string{"a", "bc", ""})
	if err != nil {
		t.Fatal(err)
	}
	_ = a
	_ = b // both must simply be valid and deterministic
	if a < 0 || a >= 8 || b < 0 || b >= 8 {
		t.Fatalf("shards out of range: %d, %d", a, b)
	}
}

func TestRouteShortRow(t *testing.T) {
	r, err := NewRouter(testCatalog(4, "note"), RuleHash)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Route("orders", []string{"1"}); err == nil {
		t.Fatal("route accepted a row shorter than the partition key index")
	}
}

func TestNewRouterRejectsUnknownRule(t *testing.T) {
	if _, err := NewRouter(testCatalog(2, "id"), "range"); err == nil {
		t.Fatal("unknown rule accepted")
	}
}
