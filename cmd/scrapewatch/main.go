// Package main hosts the scrape orchestration service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes session management, the runner
//     webhook endpoint, health probes and Prometheus metrics. Session creation
//     reuses an existing idle session per subject.
//   - Dispatch: internal/dispatch fans scrape submissions out to the external
//     job runner per (entity, platform) and records the returned job ids.
//     Dispatch is at-most-once per task; a concurrent winner's job id stays
//     live and the loser's eventual webhook is dropped by the jobId match.
//   - Ingest: internal/ingest processes runner webhooks idempotently, fetches
//     result datasets, normalizes them via per-platform field-path tables and
//     applies results guarded by the task's live jobId.
//   - Reconcile: internal/reconcile decides on demand when a session's
//     scraping phase is over (hard deadline, full resolution, or quiet period
//     with partial data) and moves the session to its verdict.
//   - Persistence & fanout: sessions and tasks live in Postgres (or in-memory
//     for local runs); raw datasets are archived to the configured BlobStore
//     (memory/local/GCS); terminal verdicts are published to Pub/Sub when a
//     topic is configured.
//   - Configuration & plumbing: Viper populates config from env/files; zap
//     provides structured logging; Prometheus metrics are exported via the
//     metrics middleware and /metrics handler.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/socialscope/scrapewatch/internal/config"
	"github.com/socialscope/scrapewatch/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build application failed: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "run application failed: %v\n", err)
		os.Exit(1)
	}
}
