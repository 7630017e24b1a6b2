// Package server wires storage, artifact rendering, audit fan-out and the
// HTTP and gRPC surfaces into one process and runs it until a signal.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dmitrijs2005/certkeeper/internal/dbx"
	"github.com/dmitrijs2005/certkeeper/internal/logging"
	"github.com/dmitrijs2005/certkeeper/internal/observability"
	"github.com/dmitrijs2005/certkeeper/internal/server/artifacts"
	"github.com/dmitrijs2005/certkeeper/internal/server/auditsink"
	"github.com/dmitrijs2005/certkeeper/internal/server/config"
	"github.com/dmitrijs2005/certkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/certkeeper/internal/server/i18n"
	"github.com/dmitrijs2005/certkeeper/internal/server/ratelimit"
	"github.com/dmitrijs2005/certkeeper/internal/server/repositories/memory"
	"github.com/dmitrijs2005/certkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/certkeeper/internal/server/services"

	gs "github.com/dmitrijs2005/certkeeper/internal/server/grpc"
)

// Version is reported in trace resources; set with -ldflags at build time.
var Version = "dev"

const (
	artifactWorkers = 2
	artifactTimeout = 2 * time.Minute
	healthInterval  = 10 * time.Second
)

type App struct {
	config *config.Config
	logger logging.Logger

	db       dbx.Database
	health   httpapi.Pinger
	pipeline *artifacts.Pipeline
	webhook  *auditsink.Webhook
	tracing  observability.Shutdown
	closers  []io.Closer

	httpServer *http.Server
	grpcServer *gs.HealthServer
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger, err := logging.New(c.LogFormat, c.LogLevel, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	app := &App{config: c, logger: logger}
	if err := app.init(ctx); err != nil {
		app.close(ctx)
		return nil, err
	}
	return app, nil
}

func (app *App) init(ctx context.Context) error {
	c := app.config

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:  "certkeeper",
		Version:      Version,
		Endpoint:     c.OTLPEndpoint,
		Stdout:       c.TraceStdout,
		StdoutWriter: os.Stderr,
	}, app.logger)
	if err != nil {
		return fmt.Errorf("tracing init error: %w", err)
	}
	app.tracing = shutdown

	repos, err := app.openStorage(ctx)
	if err != nil {
		return err
	}

	store, err := app.openArtifactStore(ctx)
	if err != nil {
		return err
	}

	deps := services.Deps{
		DB:            app.db,
		Repos:         repos,
		Logger:        app.logger,
		PublicBaseURL: c.PublicBaseURL,
	}

	if c.AuditWebhookURL != "" {
		app.webhook, err = auditsink.NewWebhook(c.AuditWebhookURL, c.AuditWebhookQueue, app.logger)
		if err != nil {
			return fmt.Errorf("audit webhook init error: %w", err)
		}
		deps.Audit = app.webhook
	}

	var files *services.FilesService
	if store != nil {
		renderer, err := artifacts.NewDefaultRenderer(c.PublicBaseURL)
		if err != nil {
			return fmt.Errorf("renderer init error: %w", err)
		}
		files = services.NewFilesService(deps, store, renderer)
		app.pipeline = artifacts.NewPipeline(files, app.logger, c.ArtifactQueueSize, artifactTimeout)
		deps.Artifacts = app.pipeline
	} else {
		files = services.NewFilesService(deps, nil, nil)
	}

	limiter, err := app.openLimiter(ctx)
	if err != nil {
		return err
	}

	translator, err := i18n.New()
	if err != nil {
		return fmt.Errorf("i18n init error: %w", err)
	}

	api := httpapi.New(httpapi.Services{
		Issuance:     services.NewIssuanceService(deps),
		Verification: services.NewVerificationService(deps),
		Revocation:   services.NewRevocationService(deps),
		Reissuance:   services.NewReissuanceService(deps),
		Files:        files,
	}, translator, c.SecretKey, app.logger, httpapi.Options{Limiter: limiter, Health: app.health})

	app.httpServer = &http.Server{
		Addr:              c.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	app.grpcServer = gs.NewHealthServer(c.GRPCAddr, app.health, healthInterval, app.logger)
	return nil
}

// openStorage connects to PostgreSQL and applies migrations, or sets up
// the in-memory store.
func (app *App) openStorage(ctx context.Context) (repomanager.RepositoryManager, error) {
	if app.config.StorageBackend == config.StorageMemory {
		app.logger.Warn(ctx, "using in-memory storage, data is lost on exit")
		store := memory.NewStore()
		app.db, app.health = store, store
		return memory.NewRepositoryManager(), nil
	}

	db, err := sql.Open("pgx", app.config.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	app.closers = append(app.closers, db)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}
	app.db, app.health = dbx.NewDatabase(db, nil), db
	return repos, nil
}

func (app *App) openArtifactStore(ctx context.Context) (artifacts.Store, error) {
	c := app.config
	switch c.ArtifactBackend {
	case config.ArtifactsS3:
		s, err := artifacts.NewS3Store(ctx, artifacts.S3Config{
			AccessKey:     c.S3RootUser,
			SecretKey:     c.S3RootPassword,
			Region:        c.S3Region,
			Bucket:        c.S3Bucket,
			BaseEndpoint:  c.S3BaseEndpoint,
			PublicBaseURL: c.ArtifactPublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 init error: %w", err)
		}
		return s, nil
	case config.ArtifactsGCS:
		s, err := artifacts.NewGCSStore(ctx, artifacts.GCSConfig{
			Bucket:          c.GCSBucket,
			CredentialsFile: c.GCSCredentialsFile,
			PublicBaseURL:   c.ArtifactPublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs init error: %w", err)
		}
		app.closers = append(app.closers, s)
		return s, nil
	default:
		app.logger.Info(ctx, "artifact rendering disabled")
		return nil, nil
	}
}

// openLimiter prefers Redis so limits hold across replicas.
func (app *App) openLimiter(ctx context.Context) (ratelimit.Limiter, error) {
	c := app.config
	if c.VerifyRateLimit == 0 {
		return nil, nil
	}
	if c.RedisAddr == "" {
		return ratelimit.NewMemory(c.VerifyRateLimit, c.VerifyRateWindow), nil
	}
	rdb, err := ratelimit.Dial(ctx, c.RedisAddr)
	if err != nil {
		return nil, fmt.Errorf("redis init error: %w", err)
	}
	app.closers = append(app.closers, rdb)
	return ratelimit.NewRedis(rdb, "certkeeper:verify:", c.VerifyRateLimit, c.VerifyRateWindow), nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.config.ShutdownTimeout)
		defer cancel()
		if err := app.httpServer.Shutdown(sctx); err != nil {
			app.logger.Error(ctx, "http shutdown", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", app.config.HTTPAddr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.grpcServer.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves until ctx is cancelled or a termination signal arrives, then
// drains background work and releases resources.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	if app.pipeline != nil {
		app.pipeline.Start(ctx, artifactWorkers)
	}

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()

	app.close(context.WithoutCancel(ctx))
	app.logger.Info(ctx, "App stopped")
}

// close drains queues before closing the connections they depend on.
func (app *App) close(ctx context.Context) {
	if app.pipeline != nil {
		app.pipeline.Close()
	}
	if app.webhook != nil {
		app.webhook.Close()
	}
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i].Close(); err != nil {
			app.logger.Warn(ctx, "close failed", "error", err)
		}
	}
	if app.tracing != nil {
		sctx, cancel := context.WithTimeout(ctx, app.config.ShutdownTimeout)
		defer cancel()
		if err := app.tracing(sctx); err != nil {
			app.logger.Warn(ctx, "tracing shutdown", "error", err)
		}
	}
}
