package nl2sql

import (
	"context"
	"fmt"
	"strings"
)

// Generator is the free-form SQL generation capability used by AI mode.
// Implementations return raw SQL with code fences already stripped.
type Generator interface {
	Generate(ctx context.Context, question, schemaText string) (string, error)
	Repair(ctx context.Context, badSQL, errorMessage, schemaText string) (string, error)
}

// Named is implemented by generators that can report their provider and model
// for logs, metrics and audit entries.
type Named interface {
	Provider() string
	Model() string
}

const generateSystemPrompt = "You are a senior data analyst. profiler: strict.\n" +
	"Task: Convert the user's question into ONE valid DuckDB SQL SELECT query.\n" +
	"Rules:\n" +
	"- Use ONLY the tables/columns provided in the schema.\n" +
	"- Output SQL only. No backticks. No markdown. No explanation.\n" +
	"- Do NOT use semicolons.\n" +
	"- Must be a single SELECT statement.\n" +
	"- If user asks for a trend over time, group by month using DATE_TRUNC('month', CAST(order_date AS DATE)).\n" +
	"- Keep results reasonably sized (use LIMIT 500 if returning many rows).\n"

const repairSystemPrompt = "You are a senior analytics engineer.\n" +
	"Fix the SQL so it runs in DuckDB.\n" +
	"Rules:\n" +
	"- Output SQL only (no markdown, no explanation, no semicolons).\n" +
	"- Must be a single SELECT statement.\n" +
	"- Use ONLY the provided schema.\n" +
	"- If a column/table is wrong, replace it with the closest valid one.\n" +
	"- Keep results reasonably sized (LIMIT 500 if many rows).\n" +
	"- If you use strftime, DATE_TRUNC, EXTRACT, or date functions, always CAST date-like columns to DATE first (e.g., CAST(order_date AS DATE)).\n"

type prompt struct {
	System string
	User   string
}

func generatePrompt(question, schemaText string) prompt {
	return prompt{
		System: generateSystemPrompt,
		User: fmt.Sprintf("Schema:\n%s\n\nUser question:\n%s\n\nReturn SQL only:",
			strings.TrimSpace(schemaText), strings.TrimSpace(question)),
	}
}

func repairPrompt(badSQL, errorMessage, schemaText string) prompt {
	return prompt{
		System: repairSystemPrompt,
		User: fmt.Sprintf("Schema:\n%s\n\nBad SQL:\n%s\n\nDuckDB error:\n%s\n\nReturn a corrected SQL query only:",
			strings.TrimSpace(schemaText), strings.TrimSpace(badSQL), strings.TrimSpace(errorMessage)),
	}
}

// completer is the single round-trip every provider implements; Generate and
// Repair differ only in the prompt.
type completer interface {
	complete(ctx context.Context, p prompt) (string, error)
}

func generateWith(ctx context.Context, c completer, question, schemaText string) (string, error) {
	return finishSQL(c.complete(ctx, generatePrompt(question, schemaText)))
}

func repairWith(ctx context.Context, c completer, badSQL, errorMessage, schemaText string) (string, error) {
	return finishSQL(c.complete(ctx, repairPrompt(badSQL, errorMessage, schemaText)))
}

func finishSQL(raw string, err error) (string, error) {
	if err != nil {
		return "", err
	}
	sql := StripMarkdownSQL(raw)
	if sql == "" {
		return "", fmt.Errorf("model returned empty SQL")
	}
	return sql, nil
}

// StripMarkdownSQL removes leading and trailing code fences a model may wrap
// around its answer.
func StripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		if len(trimmed) >= 3 && strings.EqualFold(trimmed[:3], "sql") {
			trimmed = trimmed[3:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
