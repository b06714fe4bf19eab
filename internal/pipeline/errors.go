package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrAIDisabled       = errors.New("ai mode is not configured")
	ErrQuestionRequired = errors.New("question is required")
)

// TranslationEmptyError means the rules produced no SQL for a question.
type TranslationEmptyError struct {
	Note string
}

func (e *TranslationEmptyError) Error() string {
	return "no sql produced: " + e.Note
}

// SafetyRejectedError carries the blocked statement so callers can show it.
// Repaired is set when the statement came from a repair attempt.
type SafetyRejectedError struct {
	SQL      string
	Reason   string
	Repaired bool
}

func (e *SafetyRejectedError) Error() string {
	if e.Repaired {
		return "repaired sql blocked: " + e.Reason
	}
	return "sql blocked: " + e.Reason
}

// GenerationUnavailableError wraps any failure of the SQL generator.
type GenerationUnavailableError struct {
	Op       string
	Provider string
	Err      error
}

func (e *GenerationUnavailableError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("sql generation unavailable (%s): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("sql generation unavailable (%s via %s): %v", e.Op, e.Provider, e.Err)
}

func (e *GenerationUnavailableError) Unwrap() error {
	return e.Err
}
