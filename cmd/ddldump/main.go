package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"shardload/internal/config"
	"shardload/internal/ddl"
	"shardload/internal/meta"
	"shardload/internal/storage"

	_ "shardload/internal/storage/all"
)

// main is the entry point for the ddldump binary. It connects to the first
// configured shard, resolves the catalog, and writes the schema of every
// target table as replayable SQL text.
func main() {
	var (
		cfgPath string
		outPath string
		dbName  string
	)

	flag.StringVar(&cfgPath, "config", "configs/runs/sample.json", "run spec JSON path")
	flag.StringVar(&outPath, "out", "", "output file (default stdout)")
	flag.StringVar(&dbName, "db", "", "emit a database header (CREATE DATABASE + use) with this name")
	flag.Parse()

	f, err := os.Open(cfgPath)
	if err != nil {
		fatalf("open config: %v", err)
	}
	defer f.Close()

	var spec config.Spec
	if err := json.NewDecoder(f).Decode(&spec); err != nil {
		fatalf("decode config: %v", err)
	}
	spec = spec.Normalize()
	if len(spec.Shards) == 0 || len(spec.Tables) == 0 {
		fatalf("spec needs at least one shard and one table")
	}

	out := os.Stdout
	if outPath != "" {
		out, err = os.Create(outPath)
		if err != nil {
			fatalf("create %s: %v", outPath, err)
		}
		defer out.Close()
	}

	ctx := context.Background()

	// Shard 0 carries the authoritative schema.
	repo, err := storage.New(ctx, storage.Config{Kind: spec.Shards[0].Kind, DSN: spec.Shards[0].DSN})
	if err != nil {
		fatalf("open shard 0: %v", err)
	}
	defer repo.Close()

	dialect, err := meta.DialectFor(spec.Shards[0].Kind)
	if err != nil {
		fatalf("%v", err)
	}
	cat, err := meta.Resolve(ctx, repo.DB(), dialect, spec)
	if err != nil {
		fatalf("resolve metadata: %v", err)
	}

	e := ddl.NewExporter(out)
	if dbName != "" {
		if err := e.WriteDatabase(dbName, "CREATE DATABASE "+dbName); err != nil {
			fatalf("write database header: %v", err)
		}
	}
	if err := ddl.ExportTables(ctx, e, repo, cat, spec.Tables); err != nil {
		fatalf("%v", err)
	}
	if err := e.Flush(); err != nil {
		fatalf("flush: %v", err)
	}
	if outPath != "" {
		log.Printf("ddldump: wrote %d table(s) to %s", len(spec.Tables), outPath)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
