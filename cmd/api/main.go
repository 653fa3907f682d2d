package main

import (
	"context"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"

	"tmengine/internal/config"
	"tmengine/internal/http"
	"tmengine/internal/storage"
	"tmengine/internal/tm"
)

//go:generate swagger generate spec -o swagger.json

// General API information
//
// This API serves a translation memory: per language pair queries over the
// local database, job intake, and synchronization with remote TM stores.
//
// swagger:meta
//
// ---
// swagger: '2.0'
// info:
//   title: TM Engine API
//   description: |
//     Translation memory API. Completed translation jobs are merged into a local
//     SQLite TM, queried per language pair, and synchronized with shared TM stores.
//   version: 1.0.0
// schemes:
//   - http
//   - https
// consumes:
//   - application/json
// produces:
//   - application/json

func main() {
	// Load configuration first (needed for log level)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Configure structured logging with configurable level and format
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	opts := &slog.HandlerOptions{
		Level: level,
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.Debug("Logging configured", "level", level.String(), "format", cfg.LogFormat)

	// Initialize database
	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()
	slog.Info("Database initialized", "path", cfg.DBPath)

	ctx := context.Background()

	// Open the configured TM stores
	stores, err := openStores(ctx, cfg.Stores)
	if err != nil {
		log.Fatalf("Failed to open TM stores: %v", err)
	}
	slog.Info("TM stores configured", "file", cfg.StoresFile, "count", len(stores.all))

	manager, err := tm.NewManager(db, stores.all, tm.Options{
		Parallelism: cfg.Parallelism,
		Regression:  cfg.Regression,
	})
	if err != nil {
		log.Fatalf("Failed to create TM manager: %v", err)
	}
	slog.Info("TM manager initialized", "parallelism", cfg.Parallelism, "regression", cfg.Regression)

	// Create router with dependencies
	deps := &http.Deps{
		TM:          manager,
		Stores:      manager,
		DB:          manager,
		StoreProbes: stores.probes,
		Served:      stores.served,
	}
	router := http.NewRouter(deps)

	// Start API server
	addr := ":" + cfg.APIPort
	slog.Info("Starting API server", "addr", addr)
	if err := nethttp.ListenAndServe(addr, router); err != nil {
		log.Fatalf("API server failed to start: %v", err)
	}
}
