package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	goduckdb "github.com/marcboeker/go-duckdb/v2"

	"github.com/askdata/askdata/internal/query"
	"github.com/askdata/askdata/internal/storage"
)

const OrdersTable = "orders"

const schemaSQL = `SELECT column_name, data_type FROM information_schema.columns WHERE table_name = ? ORDER BY ordinal_position`

// source opens a fresh DuckDB handle with the orders table visible. The
// returned release func closes the handle and removes any scratch files.
type source interface {
	open(ctx context.Context) (*sql.DB, func(), error)
	ping(ctx context.Context) error
}

// Engine runs statements against the orders dataset. Every call opens its
// own connection, so concurrent requests share nothing but the dataset.
type Engine struct {
	table  string
	source source
}

// NewFileEngine serves a DuckDB database file opened read-only.
func NewFileEngine(path string) *Engine {
	return &Engine{table: OrdersTable, source: fileSource{path: path}}
}

// NewObjectStoreEngine serves the orders parquet file stored under key. The
// object is downloaded for each call and exposed as a view.
func NewObjectStoreEngine(store storage.ObjectStore, key string) *Engine {
	return &Engine{table: OrdersTable, source: objectSource{store: store, key: key, table: OrdersTable}}
}

func (e *Engine) Run(ctx context.Context, sqlText string) (query.Result, error) {
	sqlText = strings.TrimSpace(sqlText)
	if sqlText == "" {
		return query.Result{}, &query.ExecutionError{Message: "sql is required"}
	}

	start := time.Now()
	db, release, err := e.source.open(ctx)
	if err != nil {
		return query.Result{}, &query.ExecutionError{SQL: sqlText, Message: err.Error()}
	}
	defer release()

	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, &query.ExecutionError{SQL: sqlText, Message: err.Error()}
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, &query.ExecutionError{SQL: sqlText, Message: err.Error()}
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, &query.ExecutionError{SQL: sqlText, Message: err.Error()}
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, &query.ExecutionError{SQL: sqlText, Message: err.Error()}
	}

	return query.Result{
		Columns:  columns,
		Rows:     resultRows,
		Duration: time.Since(start),
	}, nil
}

// DescribeSchema reads the live column list of the orders table. It is never
// cached.
func (e *Engine) DescribeSchema(ctx context.Context) (query.Schema, error) {
	db, release, err := e.source.open(ctx)
	if err != nil {
		return query.Schema{}, err
	}
	defer release()

	rows, err := db.QueryContext(ctx, schemaSQL, e.table)
	if err != nil {
		return query.Schema{}, fmt.Errorf("query schema: %w", err)
	}
	defer func() { _ = rows.Close() }()

	schema := query.Schema{Table: e.table}
	for rows.Next() {
		var column query.Column
		if err := rows.Scan(&column.Name, &column.Type); err != nil {
			return query.Schema{}, fmt.Errorf("scan schema column: %w", err)
		}
		schema.Columns = append(schema.Columns, column)
	}
	if err := rows.Err(); err != nil {
		return query.Schema{}, fmt.Errorf("iterate schema columns: %w", err)
	}
	if len(schema.Columns) == 0 {
		return query.Schema{}, fmt.Errorf("table %q not found", e.table)
	}
	return schema, nil
}

// Ping checks that the dataset is reachable without running a query.
func (e *Engine) Ping(ctx context.Context) error {
	return e.source.ping(ctx)
}

type fileSource struct {
	path string
}

func (f fileSource) open(ctx context.Context) (*sql.DB, func(), error) {
	if err := f.ping(ctx); err != nil {
		return nil, nil, err
	}
	db, err := sql.Open("duckdb", f.path+"?access_mode=read_only")
	if err != nil {
		return nil, nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("open duckdb: %w", err)
	}
	return db, func() { _ = db.Close() }, nil
}

func (f fileSource) ping(context.Context) error {
	if strings.TrimSpace(f.path) == "" {
		return fmt.Errorf("dataset path is required")
	}
	info, err := os.Stat(f.path)
	if err != nil {
		return fmt.Errorf("dataset file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("dataset path %q is a directory", f.path)
	}
	return nil
}

type objectSource struct {
	store storage.ObjectStore
	key   string
	table string
}

func (o objectSource) open(ctx context.Context) (*sql.DB, func(), error) {
	if o.store == nil {
		return nil, nil, fmt.Errorf("object store is required")
	}
	workDir, err := os.MkdirTemp("", "askdata-query-")
	if err != nil {
		return nil, nil, fmt.Errorf("create query temp dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(workDir) }

	localPath := filepath.Join(workDir, o.table+".parquet")
	if _, err := storage.Download(ctx, o.store, o.key, localPath); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("fetch dataset %q: %w", o.key, err)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("open duckdb: %w", err)
	}
	viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(o.table), quoteString(localPath))
	if _, err := db.ExecContext(ctx, viewSQL); err != nil {
		_ = db.Close()
		cleanup()
		return nil, nil, fmt.Errorf("create view for table %q: %w", o.table, err)
	}
	return db, func() {
		_ = db.Close()
		cleanup()
	}, nil
}

func (o objectSource) ping(ctx context.Context) error {
	if o.store == nil {
		return fmt.Errorf("object store is required")
	}
	if _, err := o.store.Stat(ctx, o.key); err != nil {
		return fmt.Errorf("dataset object %q: %w", o.key, err)
	}
	return nil
}

// normalizeValues turns driver-specific values into JSON-friendly ones.
// Dates come back as midnight UTC times and are rendered as YYYY-MM-DD.
func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case *big.Int:
			if typed == nil {
				normalized[i] = nil
			} else if typed.IsInt64() {
				normalized[i] = typed.Int64()
			} else {
				normalized[i] = typed.String()
			}
		case goduckdb.Decimal:
			normalized[i] = typed.Float64()
		case time.Time:
			if isDate(typed) {
				normalized[i] = typed.Format("2006-01-02")
			} else {
				normalized[i] = typed
			}
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func isDate(t time.Time) bool {
	h, m, s := t.Clock()
	return h == 0 && m == 0 && s == 0 && t.Nanosecond() == 0
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
