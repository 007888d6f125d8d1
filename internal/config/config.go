// Package config defines the canonical, JSON-serializable run specification
// for the shardload tools. It is intentionally small, explicit, and
// dependency-free so that run specs can be loaded from disk and passed
// through the program without additional glue code.
//
// Design goals:
//
//  1. Stability: changes to this package should be additive and backwards-
//     compatible whenever possible.
//  2. Clarity: field names in Go mirror the JSON structure used in run files
//     under configs/runs/*.json.
//  3. Minimalism: no third-party config libraries; decoding is performed by
//     the standard library.
//
// Example (trimmed):
//
//	{
//	  "job": "orders_backfill",
//	  "op":  "insert",
//	  "source": { "files": ["orders.0.csv","orders.1.csv"], "separator": ",", "block_size": 1000 },
//	  "tables": ["orders"],
//	  "shards": [
//	    { "name": "ds0", "kind": "mysql", "dsn": "user:pw@tcp(h0:3306)/app" },
//	    { "name": "ds1", "kind": "mysql", "dsn": "user:pw@tcp(h1:3306)/app" }
//	  ],
//	  "routing": { "rule": "hash", "partition_key": { "orders": ["customer_id"] } },
//	  "checkpoint": { "path": "orders_backfill.checkpoint", "interval_seconds": 60 }
//	}
package config

// Spec describes one full import/update/delete run. It is the top-level
// object decoded from a run file.
type Spec struct {
	// Job names the run. It keys the checkpoint record and the metrics job
	// label, so two concurrent runs must not share a job name.
	Job string `json:"job"`

	// Op selects the write operation: "insert", "update", or "delete".
	// Update and delete build per-row predicates from the table's primary key.
	Op string `json:"op"`

	// Source describes the delimited input files.
	Source Source `json:"source"`

	// Tables lists the logical target tables. Rows from every input file are
	// applied to each listed table; most runs use exactly one.
	Tables []string `json:"tables"`

	// Columns optionally restricts the imported column set. Only valid when
	// Tables has exactly one entry; empty means all columns in table order.
	Columns []string `json:"columns,omitempty"`

	// Shards enumerates the physical database instances in shard-index order.
	// The index of an entry is its shard id for routing purposes.
	Shards []Shard `json:"shards"`

	// Routing configures how a row is mapped to a shard.
	Routing Routing `json:"routing"`

	// Runtime controls concurrency, batching, and retry behavior.
	Runtime Runtime `json:"runtime"`

	// Checkpoint configures restart-safe progress tracking.
	Checkpoint Checkpoint `json:"checkpoint"`

	// Metrics selects an optional metrics backend.
	Metrics Metrics `json:"metrics"`

	// AutoCreate creates missing target physical tables on each shard from
	// the resolved field metadata before the run starts. Off by default.
	AutoCreate bool `json:"auto_create,omitempty"`
}

// Source describes the delimited-text input.
type Source struct {
	// Files is the ordered list of input files. File index is part of the
	// checkpoint coordinate, so the order must be stable across runs.
	Files []string `json:"files,omitempty"`

	// Dir and Pattern expand to a sorted file list when Files is empty
	// (e.g. dir "data/", pattern "orders.*.csv").
	Dir     string `json:"dir,omitempty"`
	Pattern string `json:"pattern,omitempty"`

	// Separator is the field separator. Exactly one character.
	Separator string `json:"separator"`

	// Encoding names the input text encoding ("utf-8" default; any name
	// resolvable by x/text, e.g. "latin1", "windows-1252", "gbk").
	Encoding string `json:"encoding,omitempty"`

	// BlockSize is the number of lines per block, the unit of production,
	// consumption, and checkpoint accounting.
	BlockSize int `json:"block_size"`

	// HasHeader skips the first line of each file when true.
	HasHeader bool `json:"has_header,omitempty"`

	// OnParseError selects the malformed-line policy: "skip" (log and drop,
	// default) or "abort" (fail the run).
	OnParseError string `json:"on_parse_error,omitempty"`
}

// Shard identifies one physical database instance.
type Shard struct {
	// Name is a human-readable shard label used in logs.
	Name string `json:"name"`

	// Kind selects the storage backend: "mysql", "postgres", "mssql", "sqlite".
	Kind string `json:"kind"`

	// DSN is the backend-specific connection string.
	DSN string `json:"dsn"`
}

// Routing maps rows to shards.
type Routing struct {
	// PartitionKey names, per logical table, the ordered column(s) whose
	// values determine the target shard.
	PartitionKey map[string][]string `json:"partition_key"`

	// Rule selects the routing function: "hash" (xxh3 over the key bytes,
	// default) or "mod" (first key column parsed as integer, modulo shard
	// count).
	Rule string `json:"rule,omitempty"`

	// PhysicalName is the template for a table's physical name on a shard.
	// "{table}" and "{shard}" are substituted; empty means the logical name
	// is used unchanged on every shard.
	PhysicalName string `json:"physical_name,omitempty"`
}

// Runtime controls concurrency, batching, and channel buffer sizes.
type Runtime struct {
	// ProducerWorkers caps concurrently reading producers. One producer is
	// created per input file; this bounds how many run at once.
	ProducerWorkers int `json:"producer_workers"`

	// ConsumerWorkers is the number of routing consumer workers.
	ConsumerWorkers int `json:"consumer_workers"`

	// RingSize is the event channel capacity in blocks. Publication blocks
	// while the ring is full; this is the only backpressure path.
	RingSize int `json:"ring_size"`

	// BatchSize caps rows per batched write statement.
	BatchSize int `json:"batch_size"`

	// MaxRetries bounds per-batch write retries before the run fails.
	MaxRetries int `json:"max_retries"`

	// RetryInitialMS is the initial backoff delay between write retries,
	// in milliseconds.
	RetryInitialMS int `json:"retry_initial_ms"`

	// WriteTimeoutSeconds bounds a single shard write attempt; an expired
	// attempt counts as a retryable failure. 0 disables the per-attempt bound.
	WriteTimeoutSeconds int `json:"write_timeout_seconds"`

	// ChannelWaitSeconds optionally bounds how long a publish or claim may
	// wait on the event channel before the run reports a liveness fault.
	// 0 waits forever.
	ChannelWaitSeconds int `json:"channel_wait_seconds"`
}

// Checkpoint configures the persisted resume record.
type Checkpoint struct {
	// Path is the checkpoint file location. Empty defaults to "<job>.checkpoint".
	Path string `json:"path,omitempty"`

	// IntervalSeconds is the fixed delay between progress scans.
	IntervalSeconds int `json:"interval_seconds,omitempty"`
}

// Metrics selects an optional metrics backend.
type Metrics struct {
	// Backend is "pushgateway", "datadog", or "" / "none".
	Backend string `json:"backend,omitempty"`

	// PushgatewayURL is the Prometheus Pushgateway base URL.
	PushgatewayURL string `json:"pushgateway_url,omitempty"`

	// DogstatsdAddr is the DogStatsD address (e.g. "127.0.0.1:8125").
	DogstatsdAddr string `json:"dogstatsd_addr,omitempty"`

	// Namespace optionally prefixes all metric names.
	Namespace string `json:"namespace,omitempty"`
}

// Defaults used by Normalize. Exposed so tests and docs agree with the code.
const (
	DefaultBlockSize          = 1000
	DefaultRingSize           = 64
	DefaultBatchSize          = 500
	DefaultConsumerWorkers    = 4
	DefaultProducerWorkers    = 4
	DefaultMaxRetries         = 3
	DefaultRetryInitialMS     = 500
	DefaultCheckpointInterval = 60
)

// Normalize fills unset runtime and checkpoint values with defaults and
// returns the spec. It never overrides an explicitly set positive value.
func (s Spec) Normalize() Spec {
	if s.Source.BlockSize <= 0 {
		s.Source.BlockSize = DefaultBlockSize
	}
	if s.Source.OnParseError == "" {
		s.Source.OnParseError = "skip"
	}
	if s.Op == "" {
		s.Op = "insert"
	}
	if s.Routing.Rule == "" {
		s.Routing.Rule = "hash"
	}
	if s.Runtime.ProducerWorkers <= 0 {
		s.Runtime.ProducerWorkers = DefaultProducerWorkers
	}
	if s.Runtime.ConsumerWorkers <= 0 {
		s.Runtime.ConsumerWorkers = DefaultConsumerWorkers
	}
	if s.Runtime.RingSize <= 0 {
		s.Runtime.RingSize = DefaultRingSize
	}
	if s.Runtime.BatchSize <= 0 {
		s.Runtime.BatchSize = DefaultBatchSize
	}
	if s.Runtime.MaxRetries <= 0 {
		s.Runtime.MaxRetries = DefaultMaxRetries
	}
	if s.Runtime.RetryInitialMS <= 0 {
		s.Runtime.RetryInitialMS = DefaultRetryInitialMS
	}
	if s.Checkpoint.IntervalSeconds <= 0 {
		s.Checkpoint.IntervalSeconds = DefaultCheckpointInterval
	}
	if s.Checkpoint.Path == "" && s.Job != "" {
		s.Checkpoint.Path = s.Job + ".checkpoint"
	}
	return s
}
