// Package audit records answered questions. The ask pipeline only writes to
// it; reading is reserved for the history endpoint.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

type Entry struct {
	ID           uuid.UUID `json:"id"`
	TraceID      string    `json:"trace_id,omitempty"`
	Principal    string    `json:"principal,omitempty"`
	Question     string    `json:"question"`
	Mode         string    `json:"mode"`
	Provider     string    `json:"provider,omitempty"`
	SQL          string    `json:"sql,omitempty"`
	RepairedSQL  string    `json:"repaired_sql,omitempty"`
	Status       Status    `json:"status"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	RowCount     int       `json:"row_count"`
	Repairs      int       `json:"repairs"`
	DurationMs   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

type Reader interface {
	List(ctx context.Context, limit int) ([]Entry, error)
}

// Nop discards entries. It is used when auditing is disabled.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

func (Nop) List(context.Context, int) ([]Entry, error) { return nil, nil }
