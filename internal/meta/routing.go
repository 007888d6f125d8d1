package meta

import (
	"fmt"
	"strconv"

	"github.com/zeebo/xxh3"
)

// Routing rules.
const (
	RuleHash = "hash" // xxh3 over the partition-key bytes, modulo shard count
	RuleMod  = "mod"  // first partition-key value parsed as integer, modulo shard count
)

// Router maps rows to shards. Routing is a pure function of the row's
// partition-key values and the (immutable) topology: the same row always
// routes to the same shard, across calls and across runs.
type Router struct {
	catalog *Catalog
	rule    string
}

// NewRouter builds a router over the resolved catalog.
func NewRouter(c *Catalog, rule string) (*Router, error) {
	switch rule {
	case RuleHash, RuleMod:
	default:
		return nil, fmt.Errorf("unknown routing rule %q", rule)
	}
	return &Router{catalog: c, rule: rule}, nil
}

// Route returns the shard index for a row of the given table. The row's
// fields must align with the table's effective column order.
func (r *Router) Route(table string, row []string) (int, error) {
	t, err := r.catalog.Table(table)
	if err != nil {
		return 0, err
	}
	if r.catalog.ShardCount == 1 {
		return 0, nil
	}

	switch r.rule {
	case RuleMod:
		if len(t.keyIdx) == 0 {
			return 0, fmt.Errorf("table %s: no partition key for mod routing", table)
		}
		i := t.keyIdx[0]
		if i >= len(row) {
			return 0, fmt.Errorf("table %s: row has %d fields, partition key at %d", table, len(row), i)
		}
		v, err := strconv.ParseInt(row[i], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("table %s: mod routing needs integer key, got %q: %w", table, row[i], err)
		}
		n := int64(r.catalog.ShardCount)
		return int(((v % n) + n) % n), nil

	default: // RuleHash
		h := xxh3.New()
		for j, i := range t.keyIdx {
			if i >= len(row) {
				return 0, fmt.Errorf("table %s: row has %d fields, partition key at %d", table, len(row), i)
			}
			if j > 0 {
				// Unit separator keeps ("ab","c") distinct from ("a","bc").
				h.Write([]byte{0x1f})
			}
			h.WriteString(row[i])
		}
		return int(h.Sum64() % uint64(r.catalog.ShardCount)), nil
	}
}
