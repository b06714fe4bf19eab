package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/askdata/askdata/internal/api"
	"github.com/askdata/askdata/internal/audit"
	auditpostgres "github.com/askdata/askdata/internal/audit/postgres"
	"github.com/askdata/askdata/internal/auth"
	"github.com/askdata/askdata/internal/config"
	"github.com/askdata/askdata/internal/nl2sql"
	"github.com/askdata/askdata/internal/observability"
	"github.com/askdata/askdata/internal/pipeline"
	duckdbengine "github.com/askdata/askdata/internal/query/duckdb"
	s3store "github.com/askdata/askdata/internal/storage/s3"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("askdata-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	var engine *duckdbengine.Engine
	switch cfg.Dataset.Source {
	case config.DatasetSourceObjectStore:
		objectStore, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		engine = duckdbengine.NewObjectStoreEngine(objectStore, cfg.Dataset.ObjectKey)
	default:
		engine = duckdbengine.NewFileEngine(cfg.Dataset.Path)
	}

	var generator nl2sql.Generator
	if cfg.AI.Enabled {
		generator, err = nl2sql.NewGenerator(nl2sql.ProviderConfig{
			Provider:        cfg.AI.Provider,
			BaseURL:         cfg.AI.BaseURL,
			APIKey:          cfg.AI.APIKey,
			Model:           cfg.AI.Model,
			Temperature:     cfg.AI.Temperature,
			Timeout:         cfg.AI.Timeout,
			BreakerFailures: uint32(cfg.AI.BreakerMaxFailures),
			BreakerCooldown: cfg.AI.BreakerCooldown,
			Logger:          logger,
		})
		if err != nil {
			logger.Error("failed to initialize sql generator", slog.Any("error", err))
			os.Exit(1)
		}
	}

	var (
		auditDB  *sql.DB
		recorder audit.Recorder = audit.Nop{}
		history  audit.Reader
	)
	if cfg.Audit.Enabled {
		auditDB, err = auditpostgres.Open(context.Background(), auditpostgres.DBConfig{
			DSN:             cfg.Audit.DSN,
			ApplicationName: cfg.Service.Name,
			MaxOpenConns:    cfg.Audit.MaxOpenConns,
			MaxIdleConns:    cfg.Audit.MaxIdleConns,
			ConnMaxIdleTime: cfg.Audit.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Audit.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open audit db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = auditDB.Close() }()
		repo := auditpostgres.NewRepository(auditDB)
		recorder, history = repo, repo
	}

	service, err := pipeline.NewService(pipeline.Config{
		Engine:    engine,
		Generator: generator,
		Audit:     recorder,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to initialize question service", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:    logger,
		Questions: service,
		History:   history,
		Readiness: api.CombineReadinessChecks(
			api.CheckObjectStoreConfig(cfg),
			api.CheckDataset(engine),
			api.CheckAuditDB(auditDB),
		),
		DependencyTimeout: 2 * time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("dataset_source", cfg.Dataset.Source),
			slog.Bool("ai_enabled", service.AIEnabled()),
			slog.Bool("audit_enabled", cfg.Audit.Enabled),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
