package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shardload/internal/config"
	"shardload/internal/metrics"
	"shardload/internal/metrics/datadog"
	"shardload/internal/metrics/prompush"
	"shardload/internal/pipeline"

	// register all shard backends with the storage factory.
	// the run spec specifies which to use but we build in support for all of them.
	_ "shardload/internal/storage/all"
)

// main is the entry point for the shardload binary. It loads the run spec,
// optionally initializes a metrics backend, and executes the run.
func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		pushGatewayURLFlg string
		dogstatsdAddrFlg  string
		fresh             bool
		validate          bool
	)

	flag.StringVar(&cfgPath, "config", "configs/runs/sample.json", "run spec JSON path")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend to use (pushgateway, datadog, none); overrides the spec")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL and the spec)")
	flag.StringVar(&dogstatsdAddrFlg, "dogstatsd-addr", "", "DogStatsD address (overrides the spec)")
	flag.BoolVar(&fresh, "fresh", false, "ignore any existing checkpoint and start from the first file")
	flag.BoolVar(&validate, "validate", false, "validate the run spec and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

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

	issues := config.Validate(spec)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		log.Printf("run spec is invalid: %v", cfgPath)
		os.Exit(1)
	}
	if validate {
		log.Printf("run spec is valid: %v", cfgPath)
		os.Exit(0)
	}

	setupMetrics(spec, metricsBackendFlg, pushGatewayURLFlg, dogstatsdAddrFlg, *verbose)
	defer func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}()

	// SIGINT/SIGTERM cancel the run; the tracker leaves a resumable
	// checkpoint behind.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *verbose {
		log.Printf("spec: job=%s op=%s tables=%v shards=%d", spec.Job, spec.Op, spec.Tables, len(spec.Shards))
	}

	sum, err := pipeline.Run(ctx, spec, fresh)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if *verbose && sum != nil {
		log.Printf("completed: rows=%d duration=%s", sum.RowsWritten, sum.Duration.Truncate(time.Millisecond))
	}
}

// setupMetrics decides the backend (flag wins over spec, spec over env)
// and installs it.
// Failures degrade to the nop backend; metrics never block a run.
func setupMetrics(spec config.Spec, backendFlg, gwFlg, ddFlg string, verbose bool) {
	backendName := backendFlg
	if backendName == "" {
		backendName = spec.Metrics.Backend
	}
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}

	switch backendName {
	case "pushgateway":
		gwURL := gwFlg
		if gwURL == "" {
			gwURL = spec.Metrics.PushgatewayURL
		}
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend(spec.Job, gwURL)
		if err != nil {
			log.Printf("metrics: failed to init pushgateway backend: %v; using nop", err)
			return
		}
		log.Printf("metrics: backend=pushgateway url=%s job=%s", gwURL, spec.Job)
		metrics.SetBackend(b)

	case "datadog":
		addr := ddFlg
		if addr == "" {
			addr = spec.Metrics.DogstatsdAddr
		}
		if addr == "" {
			addr = "127.0.0.1:8125"
		}
		b, err := datadog.NewBackend(datadog.Config{Addr: addr, Namespace: spec.Metrics.Namespace})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return
		}
		log.Printf("metrics: backend=datadog addr=%s", addr)
		metrics.SetBackend(b)

	case "", "none":
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
