package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/askdata/askdata/internal/config"
	"github.com/askdata/askdata/internal/dataset"
	"github.com/askdata/askdata/internal/observability"
	"github.com/askdata/askdata/internal/storage"
	s3store "github.com/askdata/askdata/internal/storage/s3"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", slog.Any("error", err))
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv("askdata-seed")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	rows := flag.Int("rows", dataset.DefaultRows, "number of orders to generate")
	seed := flag.Int64("seed", dataset.DefaultSeed, "random seed")
	out := flag.String("out", cfg.Dataset.Path, "DuckDB database file to (re)build")
	parquetPath := flag.String("parquet", "data/orders.parquet", "parquet file to write")
	publish := flag.Bool("publish", false, "upload the parquet file to the object store")
	snapshot := flag.Bool("snapshot", false, "with -publish, also keep a dated copy under snapshots/")
	flag.Parse()

	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	data, loaded, err := dataset.Seed(ctx, *seed, *rows, *out, *parquetPath)
	if err != nil {
		logger.Error("failed to seed dataset", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("dataset seeded",
		slog.String("database", *out),
		slog.String("parquet", *parquetPath),
		slog.Int64("rows", loaded),
		slog.Int64("seed", *seed),
		slog.Int("parquet_bytes", len(data)),
		slog.Duration("elapsed", time.Since(started)),
	)

	if !*publish {
		return
	}
	store, err := s3store.New(ctx, s3store.Config{
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
	info, err := dataset.Publish(ctx, store, cfg.Dataset.ObjectKey, data)
	if err != nil {
		logger.Error("failed to publish dataset", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("dataset published",
		slog.String("bucket", cfg.ObjectStore.Bucket),
		slog.String("key", info.Key),
		slog.Int64("size", info.Size),
	)

	if !*snapshot {
		return
	}
	snapshotKey, err := storage.SnapshotKey(cfg.Dataset.ObjectKey, time.Now())
	if err != nil {
		logger.Error("failed to build snapshot key", slog.Any("error", err))
		os.Exit(1)
	}
	if _, err := dataset.Publish(ctx, store, snapshotKey, data); err != nil {
		logger.Error("failed to publish dataset snapshot", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("dataset snapshot published", slog.String("key", snapshotKey))
}
