package dataset

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/parquet-go/parquet-go"

	"github.com/askdata/askdata/internal/storage"
)

const (
	TableName          = "orders"
	ParquetContentType = "application/vnd.apache.parquet"
)

// EncodeParquet writes orders as a single parquet file.
func EncodeParquet(orders []Order) ([]byte, error) {
	if len(orders) == 0 {
		return nil, fmt.Errorf("no orders to encode")
	}
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[Order](buf)
	if _, err := writer.Write(orders); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildDatabase (re)creates the orders table in the DuckDB file at dbPath
// from the parquet file at parquetPath and returns the loaded row count.
func BuildDatabase(ctx context.Context, dbPath, parquetPath string) (int64, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return 0, fmt.Errorf("open duckdb %q: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	createSQL := fmt.Sprintf(`CREATE OR REPLACE TABLE %s AS SELECT * FROM read_parquet('%s')`,
		TableName, strings.ReplaceAll(parquetPath, `'`, `''`))
	if _, err := db.ExecContext(ctx, createSQL); err != nil {
		return 0, fmt.Errorf("load orders table: %w", err)
	}

	var count int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+TableName).Scan(&count); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return count, nil
}

// Seed generates rows orders with the given seed, writes them to
// parquetPath and loads them into dbPath.
func Seed(ctx context.Context, seed int64, rows int, dbPath, parquetPath string) ([]byte, int64, error) {
	if rows <= 0 {
		return nil, 0, fmt.Errorf("rows must be positive")
	}
	data, err := EncodeParquet(NewGenerator(seed).Generate(rows))
	if err != nil {
		return nil, 0, err
	}
	if dir := filepath.Dir(parquetPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, 0, fmt.Errorf("create parquet dir: %w", err)
		}
	}
	if err := os.WriteFile(parquetPath, data, 0o644); err != nil {
		return nil, 0, fmt.Errorf("write parquet file: %w", err)
	}
	loaded, err := BuildDatabase(ctx, dbPath, parquetPath)
	if err != nil {
		return nil, 0, err
	}
	return data, loaded, nil
}

// Publish uploads an encoded parquet file to the object store under key.
func Publish(ctx context.Context, store storage.ObjectStore, key string, data []byte) (storage.ObjectInfo, error) {
	if store == nil {
		return storage.ObjectInfo{}, fmt.Errorf("object store is required")
	}
	if err := storage.ValidateDatasetKey(key); err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: ParquetContentType})
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("publish dataset: %w", err)
	}
	return info, nil
}
