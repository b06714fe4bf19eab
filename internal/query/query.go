package query

import (
	"context"
	"strings"
	"time"
)

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Schema describes the single queryable table, columns in ordinal order.
type Schema struct {
	Table   string   `json:"table"`
	Columns []Column `json:"columns"`
}

// Text renders the schema in the plain form handed to SQL generators.
func (s Schema) Text() string {
	var b strings.Builder
	b.WriteString("Table: ")
	b.WriteString(s.Table)
	b.WriteString("\nColumns:")
	for _, column := range s.Columns {
		b.WriteString("\n- ")
		b.WriteString(column.Name)
		b.WriteString(" (")
		b.WriteString(column.Type)
		b.WriteString(")")
	}
	return b.String()
}

func (s Schema) HasColumn(name string) bool {
	for _, column := range s.Columns {
		if strings.EqualFold(column.Name, name) {
			return true
		}
	}
	return false
}

type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

// Records returns the rows as column→value maps.
func (r Result) Records() []map[string]any {
	records := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		record := make(map[string]any, len(r.Columns))
		for i, column := range r.Columns {
			if i < len(row) {
				record[column] = row[i]
			}
		}
		records = append(records, record)
	}
	return records
}

// ExecutionError is returned by Engine.Run when the backend rejects or fails
// a statement. Message is the engine's own diagnostic.
type ExecutionError struct {
	SQL     string
	Message string
}

func (e *ExecutionError) Error() string {
	return "query execution failed: " + e.Message
}

type Engine interface {
	Run(ctx context.Context, sql string) (Result, error)
	DescribeSchema(ctx context.Context) (Schema, error)
}
