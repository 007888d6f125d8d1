package ddl

import (
	"context"
	"fmt"
	"log"

	"shardload/internal/meta"
	"shardload/internal/storage"
)

// ShardTarget is one shard's surface for bootstrapping.
type ShardTarget struct {
	Kind string
	Repo storage.Repository
}

// Bootstrap creates every missing physical table in the catalog's topology.
// Existence is checked through the shard's own metadata dialect; tables that
// already exist are left untouched, whatever their shape.
func Bootstrap(ctx context.Context, shards []ShardTarget, cat *meta.Catalog, tables []string) error {
	for _, name := range tables {
		t, err := cat.Table(name)
		if err != nil {
			return err
		}
		for _, phys := range t.Topology {
			target := shards[phys.Shard]
			d, err := meta.DialectFor(target.Kind)
			if err != nil {
				return err
			}
			cols, err := d.Columns(ctx, target.Repo.DB(), phys.Name)
			if err != nil {
				return fmt.Errorf("bootstrap: probe %s on shard %d: %w", phys.Name, phys.Shard, err)
			}
			if len(cols) > 0 {
				continue
			}
			stmt, err := BuildCreateTableSQL(phys.Name, t)
			if err != nil {
				return err
			}
			if err := target.Repo.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("bootstrap: create %s on shard %d: %w", phys.Name, phys.Shard, err)
			}
			log.Printf("ddl: created table %s on shard %d", phys.Name, phys.Shard)
		}
	}
	return nil
}
