package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/pelicanone/backend/internal/auth"
	"github.com/pelicanone/backend/internal/billing"
	"github.com/pelicanone/backend/internal/config"
	"github.com/pelicanone/backend/internal/execution"
	"github.com/pelicanone/backend/internal/files"
	"github.com/pelicanone/backend/internal/jobs"
	"github.com/pelicanone/backend/internal/ledger"
	"github.com/pelicanone/backend/internal/middleware"
	"github.com/pelicanone/backend/internal/presets"
	"github.com/pelicanone/backend/internal/provider"
	"github.com/pelicanone/backend/internal/router"
	"github.com/pelicanone/backend/migrations"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	// Application schema, then River's queue tables.
	if _, err := pool.Exec(ctx, migrations.Schema); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Migrations applied")

	catalog, err := presets.NewCatalog()
	if err != nil {
		slog.Error("Preset catalog init failed", "error", err)
		os.Exit(1)
	}

	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(ledgerRepo)

	// Jobs: insert func is set after the River client is created (breaks
	// the init cycle).
	var insertMu sync.Mutex
	var insertFn jobs.InsertRunJobTxFunc
	insertRunJob := func(ctx context.Context, tx pgx.Tx, args execution.RunJobArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, args)
	}

	jobsRepo := jobs.NewRepository(pool)
	jobsSvc := jobs.NewService(jobsRepo, ledgerSvc, catalog, cfg.Costs, insertRunJob)

	genClient := provider.NewClient(provider.Options{BaseURL: cfg.GenAPIBaseURL, APIKey: cfg.GenAPIKey})
	fileStore := files.NewStore(cfg.StoragePath, nil, logger)

	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewRunJobWorker(jobsSvc, genClient, fileStore, catalog, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.MaxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args execution.RunJobArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	}
	insertMu.Unlock()

	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo, ledgerSvc, cfg)
	authHandler := auth.NewHandler(authSvc, logger)

	billingSvc := billing.NewService(ledgerSvc, authRepo, cfg.TopupPackages, logger)
	billingHandler := billing.NewHandler(billingSvc, cfg.AdminSecret, logger)

	jobsHandler := jobs.NewHandler(jobsSvc, logger)
	presetsHandler := presets.NewHandler(catalog)
	filesHandler := files.NewHandler(fileStore, jobsRepo, logger)

	apiRouter := router.New(authHandler, presetsHandler, jobsHandler, billingHandler, filesHandler, middleware.Auth(authSvc))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Admin-Secret"},
		AllowCredentials: false,
	}).Handler(apiRouter)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	go func() {
		if err := riverClient.Start(runCtx); err != nil && runCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	cleaner := files.NewCleaner(fileStore, jobsRepo, cfg.FileRetention, logger)
	go cleaner.Run(runCtx, time.Hour)

	slog.Info("Starting HTTP server", "addr", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
