package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/askdata/askdata/internal/audit"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Repository stores audit entries in the question_audit table.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *Repository) Record(ctx context.Context, entry audit.Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO question_audit (
	audit_id, trace_id, principal, question, mode, provider, sql_text, repaired_sql,
	status, error_code, error_message, row_count, repairs, duration_ms, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		entry.ID.String(),
		nullString(entry.TraceID),
		nullString(entry.Principal),
		entry.Question,
		entry.Mode,
		nullString(entry.Provider),
		nullString(entry.SQL),
		nullString(entry.RepairedSQL),
		string(entry.Status),
		nullString(entry.ErrorCode),
		nullString(entry.ErrorMessage),
		entry.RowCount,
		entry.Repairs,
		entry.DurationMs,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert question audit: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first.
func (r *Repository) List(ctx context.Context, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT audit_id, trace_id, principal, question, mode, provider, sql_text, repaired_sql,
	status, error_code, error_message, row_count, repairs, duration_ms, created_at
FROM question_audit
ORDER BY created_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query question audit: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]audit.Entry, 0)
	for rows.Next() {
		var (
			entry                                 audit.Entry
			id, status                            string
			traceID, principal, provider, sqlText sql.NullString
			repairedSQL, errorCode, errorMessage  sql.NullString
		)
		if err := rows.Scan(
			&id, &traceID, &principal, &entry.Question, &entry.Mode, &provider, &sqlText, &repairedSQL,
			&status, &errorCode, &errorMessage, &entry.RowCount, &entry.Repairs, &entry.DurationMs, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan question audit: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse audit id %q: %w", id, err)
		}
		entry.ID = parsed
		entry.Status = audit.Status(status)
		entry.TraceID = traceID.String
		entry.Principal = principal.String
		entry.Provider = provider.String
		entry.SQL = sqlText.String
		entry.RepairedSQL = repairedSQL.String
		entry.ErrorCode = errorCode.String
		entry.ErrorMessage = errorMessage.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate question audit: %w", err)
	}
	return entries, nil
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
