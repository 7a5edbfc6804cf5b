// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/socialscope/scrapewatch/internal/api"
	"github.com/socialscope/scrapewatch/internal/clock/system"
	"github.com/socialscope/scrapewatch/internal/config"
	"github.com/socialscope/scrapewatch/internal/core"
	"github.com/socialscope/scrapewatch/internal/dispatch"
	"github.com/socialscope/scrapewatch/internal/id/uuid"
	"github.com/socialscope/scrapewatch/internal/ingest"
	"github.com/socialscope/scrapewatch/internal/logging"
	"github.com/socialscope/scrapewatch/internal/metrics"
	memorypublisher "github.com/socialscope/scrapewatch/internal/publisher/memory"
	gcppublisher "github.com/socialscope/scrapewatch/internal/publisher/pubsub"
	"github.com/socialscope/scrapewatch/internal/reconcile"
	"github.com/socialscope/scrapewatch/internal/runner"
	"github.com/socialscope/scrapewatch/internal/session"
	gcsstorage "github.com/socialscope/scrapewatch/internal/storage/gcs"
	localstorage "github.com/socialscope/scrapewatch/internal/storage/local"
	memorystorage "github.com/socialscope/scrapewatch/internal/storage/memory"
	pgstore "github.com/socialscope/scrapewatch/internal/storage/postgres"
)

// App contains the application's dependencies.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	apiServer    *api.Server
	pgPool       *pgxpool.Pool
	pubsubClient *pubsub.Client
	gcsClient    *storage.Client
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	sessionStore, taskStore, err := app.setupDatabase(ctx)
	if err != nil {
		return nil, err
	}
	blobStore, err := app.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	idGen := uuid.NewGenerator()

	runnerClient := runner.New(runner.Config{
		BaseURL:       cfg.Runner.BaseURL,
		Token:         cfg.Runner.Token,
		CallbackURL:   cfg.Runner.CallbackURL,
		SubmitTimeout: cfg.SubmitTimeout(),
		FetchTimeout:  cfg.FetchTimeout(),
	}, logger.Named("runner"))

	sessions := session.NewService(sessionStore, clock, idGen, logger.Named("session"))
	dispatcher := dispatch.New(taskStore, sessions, runnerClient, clock, idGen, logger.Named("dispatch"))
	ingestor := ingest.New(
		taskStore,
		runnerClient,
		blobStore,
		ingest.NewDedup(0, 0),
		clock,
		cfg.Storage.Prefix,
		logger.Named("ingest"),
	)
	reconciler := reconcile.New(
		taskStore,
		sessions,
		publisher,
		cfg.PubSub.TopicName,
		clock,
		reconcile.Config{
			QuietPeriod:      cfg.QuietPeriod(),
			HardDeadline:     cfg.HardDeadline(),
			MinFollowerFloor: cfg.Reconcile.MinFollowerFloor,
		},
		logger.Named("reconcile"),
	)

	app.apiServer = api.NewServer(
		sessions,
		taskStore,
		dispatcher,
		ingestor,
		reconciler,
		*cfg,
		logger.Named("api"),
	)
	return app, nil
}

func (a *App) setupDatabase(ctx context.Context) (core.SessionStore, core.TaskStore, error) {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no database DSN configured, using in-memory stores")
		return memorystorage.NewSessionStore(), memorystorage.NewTaskStore(), nil
	}
	pool, err := pgstore.NewPool(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres pool init failed: %w", err)
	}
	a.pgPool = pool
	sessionStore, err := pgstore.NewSessionStore(pool)
	if err != nil {
		return nil, nil, fmt.Errorf("session store init failed: %w", err)
	}
	taskStore, err := pgstore.NewTaskStore(pool)
	if err != nil {
		return nil, nil, fmt.Errorf("task store init failed: %w", err)
	}
	a.logger.Info("postgres stores initialized")
	return sessionStore, taskStore, nil
}

func (a *App) setupStorage(ctx context.Context) (core.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		return blobStore, nil
	case "local":
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.LocalDir))
		return blobStore, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (core.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.TopicName == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(client), nil
}

// Run starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close()
}

// Close releases infrastructure clients.
func (a *App) Close() error {
	if a.pgPool != nil {
		a.pgPool.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	// Sync to stderr fails on some platforms; nothing actionable.
	_ = a.logger.Sync()
	a.logger.Info("shutdown complete")
	return nil
}
