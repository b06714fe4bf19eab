// Package migrations applies the embedded audit-log schema to Postgres.
//
// Each applied version is recorded with the SHA-256 of its up script. If an
// embedded script no longer matches what was applied, Up refuses to run and
// Status reports the version as drifted. Up and Down hold a session advisory
// lock so two migrators never interleave.
package migrations

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const (
	migrationTable = "askdata_schema_migrations"
	// advisoryLockID is an arbitrary constant shared by every askdata migrator.
	advisoryLockID int64 = 7_305_118_204
)

var (
	migrationNamePattern = regexp.MustCompile(`^([0-9]+)_(.+)\.(up|down)\.sql$`)

	ErrChecksumMismatch = errors.New("applied migration checksum mismatch")
)

type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

type migration struct {
	Version  int64
	Name     string
	UpSQL    string
	DownSQL  string
	Checksum string
}

type appliedMigration struct {
	Version  int64
	Checksum string
}

// Up applies pending migrations in version order. steps <= 0 applies all.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	migrations, err := loadMigrations(r.fsys)
	if err != nil {
		return 0, err
	}

	runCount := 0
	err = withMigrationLock(ctx, db, func() error {
		applied, err := listApplied(ctx, db, false)
		if err != nil {
			return err
		}
		if drifted := buildStatus(migrations, applied).Drifted; len(drifted) > 0 {
			return fmt.Errorf("%w: versions %v", ErrChecksumMismatch, drifted)
		}

		appliedSet := make(map[int64]struct{}, len(applied))
		for _, item := range applied {
			appliedSet[item.Version] = struct{}{}
		}
		for _, item := range migrations {
			if _, ok := appliedSet[item.Version]; ok {
				continue
			}
			if steps > 0 && runCount >= steps {
				break
			}
			if err := applyMigration(ctx, db, item); err != nil {
				return err
			}
			runCount++
		}
		return nil
	})
	return runCount, err
}

// Down rolls back the most recent applied migrations. steps <= 0 means one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	migrations, err := loadMigrations(r.fsys)
	if err != nil {
		return 0, err
	}
	lookup := make(map[int64]migration, len(migrations))
	for _, item := range migrations {
		lookup[item.Version] = item
	}

	runCount := 0
	err = withMigrationLock(ctx, db, func() error {
		applied, err := listApplied(ctx, db, true)
		if err != nil {
			return err
		}
		for _, done := range applied {
			if runCount >= steps {
				break
			}
			item, ok := lookup[done.Version]
			if !ok {
				return fmt.Errorf("applied migration %d is missing from source", done.Version)
			}
			if err := rollbackMigration(ctx, db, item); err != nil {
				return err
			}
			runCount++
		}
		return nil
	})
	return runCount, err
}

// StatusReport lists versions in ascending order. Drifted versions are
// applied ones whose recorded checksum differs from the embedded script.
type StatusReport struct {
	Applied []int64
	Pending []int64
	Drifted []int64
}

func (r *Runner) Status(ctx context.Context, db *sql.DB) (StatusReport, error) {
	migrations, err := loadMigrations(r.fsys)
	if err != nil {
		return StatusReport{}, err
	}
	if err := ensureMigrationTable(ctx, db); err != nil {
		return StatusReport{}, err
	}
	applied, err := listApplied(ctx, db, false)
	if err != nil {
		return StatusReport{}, err
	}
	return buildStatus(migrations, applied), nil
}

func buildStatus(migrations []migration, applied []appliedMigration) StatusReport {
	appliedSums := make(map[int64]string, len(applied))
	report := StatusReport{}
	for _, item := range applied {
		appliedSums[item.Version] = item.Checksum
		report.Applied = append(report.Applied, item.Version)
	}
	for _, item := range migrations {
		sum, ok := appliedSums[item.Version]
		switch {
		case !ok:
			report.Pending = append(report.Pending, item.Version)
		case sum != "" && sum != item.Checksum:
			report.Drifted = append(report.Drifted, item.Version)
		}
	}
	return report
}

// withMigrationLock runs fn while holding a session advisory lock on a
// dedicated connection.
func withMigrationLock(ctx context.Context, db *sql.DB, fn func() error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire lock connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, advisoryLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, advisoryLockID)
	}()

	if err := ensureMigrationTable(ctx, db); err != nil {
		return err
	}
	return fn()
}

func ensureMigrationTable(ctx context.Context, db *sql.DB) error {
	query := `
CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
	version BIGINT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	checksum TEXT NOT NULL DEFAULT '',
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, item migration) error {
	return inTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, item.UpSQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", item.Version, item.Name, err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO `+migrationTable+` (version, name, checksum) VALUES ($1, $2, $3)`,
			item.Version, item.Name, item.Checksum,
		)
		if err != nil {
			return fmt.Errorf("record migration %d: %w", item.Version, err)
		}
		return nil
	})
}

func rollbackMigration(ctx context.Context, db *sql.DB, item migration) error {
	return inTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, item.DownSQL); err != nil {
			return fmt.Errorf("roll back migration %d (%s): %w", item.Version, item.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+migrationTable+` WHERE version = $1`, item.Version); err != nil {
			return fmt.Errorf("unrecord migration %d: %w", item.Version, err)
		}
		return nil
	})
}

func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func listApplied(ctx context.Context, db *sql.DB, descending bool) ([]appliedMigration, error) {
	order := "ASC"
	if descending {
		order = "DESC"
	}
	rows, err := db.QueryContext(ctx, `SELECT version, checksum FROM `+migrationTable+` ORDER BY version `+order)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var applied []appliedMigration
	for rows.Next() {
		var item appliedMigration
		if err := rows.Scan(&item.Version, &item.Checksum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied = append(applied, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	items := map[int64]migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		base := path.Base(entry.Name())
		matches := migrationNamePattern.FindStringSubmatch(base)
		if len(matches) != 4 {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version for %q: %w", base, err)
		}
		script, err := fs.ReadFile(fsys, path.Join("sql", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		item := items[version]
		if item.Name != "" && item.Name != matches[2] {
			return nil, fmt.Errorf("migration %d has conflicting names %q and %q", version, item.Name, matches[2])
		}
		item.Version = version
		item.Name = matches[2]
		if matches[3] == "up" {
			item.UpSQL = string(script)
			item.Checksum = checksum(script)
		} else {
			item.DownSQL = string(script)
		}
		items[version] = item
	}

	migrations := make([]migration, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.UpSQL) == "" {
			return nil, fmt.Errorf("migration %d missing up SQL", item.Version)
		}
		if strings.TrimSpace(item.DownSQL) == "" {
			return nil, fmt.Errorf("migration %d missing down SQL", item.Version)
		}
		migrations = append(migrations, item)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func checksum(script []byte) string {
	sum := sha256.Sum256(script)
	return hex.EncodeToString(sum[:])
}
