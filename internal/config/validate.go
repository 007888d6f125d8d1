// This file adds a lightweight linter/validator for Spec values. It performs
// static checks over a decoded Spec and returns a list of issues (errors and
// warnings) that callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a Spec.
//
// Path is a dotted path into the config (e.g. "source.separator",
// "shards[1].dsn"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

var knownShardKinds = map[string]bool{
	"mysql":    true,
	"postgres": true,
	"mssql":    true,
	"sqlite":   true,
}

var knownOps = map[string]bool{
	"insert": true,
	"update": true,
	"delete": true,
}

// Validate performs static validation / linting of a Spec.
//
// It does not mutate the spec. Instead it returns a slice of Issue values.
// Callers may decide whether to treat warnings as fatal or not. Validate is
// meant to run on the raw decoded spec, before Normalize fills defaults.
func Validate(s Spec) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it keys the checkpoint record and metrics labels",
		})
	}
	if s.Op != "" && !knownOps[s.Op] {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "op",
			Message:  fmt.Sprintf("unknown op %q (want insert, update, or delete)", s.Op),
		})
	}

	issues = append(issues, validateSource(s.Source)...)
	issues = append(issues, validateTargets(s)...)
	issues = append(issues, validateRouting(s)...)
	issues = append(issues, validateRuntime(s.Runtime)...)

	return issues
}

// HasErrors reports whether any issue in the slice has error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

func validateSource(src Source) []Issue {
	var issues []Issue

	if len(src.Files) == 0 && src.Dir == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.files",
			Message:  "no input: set source.files or source.dir (+ optional source.pattern)",
		})
	}
	if len(src.Files) > 0 && src.Dir != "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "source.dir",
			Message:  "both source.files and source.dir set; the explicit file list wins",
		})
	}

	// The separator must be exactly one character: the block reader splits on
	// a single rune and multi-character separators would silently mis-parse.
	if n := utf8.RuneCountInString(src.Separator); n != 1 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.separator",
			Message:  fmt.Sprintf("separator must be exactly one character, got %d", n),
		})
	}

	if src.BlockSize < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.block_size",
			Message:  "block_size must not be negative (0 means default)",
		})
	}
	switch src.OnParseError {
	case "", "skip", "abort":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.on_parse_error",
			Message:  fmt.Sprintf("unknown policy %q (want skip or abort)", src.OnParseError),
		})
	}
	return issues
}

func validateTargets(s Spec) []Issue {
	var issues []Issue

	if len(s.Tables) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "tables",
			Message:  "at least one target table required",
		})
	}
	if len(s.Columns) > 0 && len(s.Tables) != 1 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "columns",
			Message:  "an explicit column list is only valid with exactly one table",
		})
	}

	if len(s.Shards) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "shards",
			Message:  "at least one shard required",
		})
	}
	for i, sh := range s.Shards {
		if sh.Kind != "" && !knownShardKinds[sh.Kind] {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     fmt.Sprintf("shards[%d].kind", i),
				Message:  fmt.Sprintf("unknown shard kind %q; it must be registered by the binary", sh.Kind),
			})
		}
		if strings.TrimSpace(sh.DSN) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("shards[%d].dsn", i),
				Message:  "dsn must not be empty",
			})
		}
	}
	return issues
}

func validateRouting(s Spec) []Issue {
	var issues []Issue

	switch s.Routing.Rule {
	case "", "hash", "mod":
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "routing.rule",
			Message:  fmt.Sprintf("unknown routing rule %q (want hash or mod)", s.Routing.Rule),
		})
	}

	// Every table needs a partition key unless there is only one shard, in
	// which case routing is trivial.
	if len(s.Shards) > 1 {
		for _, t := range s.Tables {
			if len(s.Routing.PartitionKey[t]) == 0 {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     fmt.Sprintf("routing.partition_key[%q]", t),
					Message:  "partition key required when more than one shard is configured",
				})
			}
		}
	}
	return issues
}

func validateRuntime(r Runtime) []Issue {
	var issues []Issue

	check := func(v int, path string) {
		if v < 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  "must not be negative (0 means default)",
			})
		}
	}
	check(r.ProducerWorkers, "runtime.producer_workers")
	check(r.ConsumerWorkers, "runtime.consumer_workers")
	check(r.RingSize, "runtime.ring_size")
	check(r.BatchSize, "runtime.batch_size")
	check(r.MaxRetries, "runtime.max_retries")
	check(r.ChannelWaitSeconds, "runtime.channel_wait_seconds")

	if r.RingSize > 0 && r.RingSize < r.ConsumerWorkers {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "runtime.ring_size",
			Message:  "ring smaller than the consumer pool leaves workers idle",
		})
	}
	return issues
}
