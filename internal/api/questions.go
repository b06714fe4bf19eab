package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/askdata/askdata/internal/audit"
	"github.com/askdata/askdata/internal/auth"
	"github.com/askdata/askdata/internal/pipeline"
	"github.com/askdata/askdata/internal/query"
)

// DefaultExamples are the questions offered when no list is configured.
var DefaultExamples = []string{
	"Total revenue in 2024",
	"Monthly revenue in 2024",
	"Profit by region in 2023",
	"Monthly profit by category in 2025",
	"Monthly revenue by category in 2024",
	"Top categories by revenue in 2024",
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type askRequest struct {
	Question string `json:"question"`
	Mode     string `json:"mode"`
}

type translateRequest struct {
	Question string `json:"question"`
}

type validateRequest struct {
	SQL string `json:"sql"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Questions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "question service is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAsker); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req askRequest
	if !decodeBody(w, r, &req, "invalid ask request body") {
		return
	}
	mode, err := pipeline.ParseMode(req.Mode)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MODE", err.Error(), false, map[string]any{"allowed": []string{string(pipeline.ModeRules), string(pipeline.ModeAI)}})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	answer, failure, err := deps.Questions.Ask(r.Context(), pipeline.Request{
		Question:  req.Question,
		Mode:      mode,
		Principal: principalFromRequest(r),
	})
	if err != nil {
		writePipelineError(w, r, err, failure)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func handleTranslate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Questions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TRANSLATE_NOT_CONFIGURED", "question service is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAsker); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req translateRequest
	if !decodeBody(w, r, &req, "invalid translation request body") {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, deps.Questions.Translate(req.Question))
}

func handleValidate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Questions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "VALIDATE_NOT_CONFIGURED", "question service is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAsker); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var req validateRequest
	if !decodeBody(w, r, &req, "invalid validate request body") {
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, deps.Questions.Validate(req.SQL))
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Questions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "question service is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAsker); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	schema, err := deps.Questions.Schema(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_FETCH_FAILED", "failed to load dataset schema", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"table":   schema.Table,
		"columns": schema.Columns,
		"text":    schema.Text(),
	})
}

func handleHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.History == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", "audit log is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleAuditor); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxHistoryLimit {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit), false, nil)
			return
		}
		limit = parsed
	}

	entries, err := deps.History.List(r.Context(), limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "AUDIT_ERROR", "failed to list audit entries", true, map[string]any{"details": err.Error()})
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// writePipelineError maps the pipeline error taxonomy onto the HTTP error
// envelope. Failures that got as far as a statement carry it in context.
func writePipelineError(w http.ResponseWriter, r *http.Request, err error, failure pipeline.Failure) {
	var (
		emptyErr   *pipeline.TranslationEmptyError
		blockedErr *pipeline.SafetyRejectedError
		genErr     *pipeline.GenerationUnavailableError
		execErr    *query.ExecutionError
	)
	ctx := r.Context()
	code := pipeline.ErrorCode(err)
	switch {
	case errors.Is(err, pipeline.ErrQuestionRequired):
		writeError(ctx, w, http.StatusBadRequest, code, err.Error(), false, nil)
	case errors.Is(err, pipeline.ErrAIDisabled):
		writeError(ctx, w, http.StatusNotImplemented, code, err.Error(), false, nil)
	case errors.As(err, &emptyErr):
		writeError(ctx, w, http.StatusUnprocessableEntity, code, "question could not be translated", false, map[string]any{
			"note":        emptyErr.Note,
			"question_id": failure.ID,
		})
	case errors.As(err, &blockedErr):
		writeError(ctx, w, http.StatusUnprocessableEntity, code, err.Error(), false, map[string]any{
			"sql":         blockedErr.SQL,
			"reason":      blockedErr.Reason,
			"repaired":    blockedErr.Repaired,
			"question_id": failure.ID,
		})
	case errors.As(err, &genErr):
		writeError(ctx, w, http.StatusBadGateway, code, "sql generation is unavailable", true, map[string]any{
			"provider":    genErr.Provider,
			"op":          genErr.Op,
			"details":     err.Error(),
			"question_id": failure.ID,
		})
	case errors.As(err, &execErr):
		writeError(ctx, w, http.StatusUnprocessableEntity, code, "query execution failed", false, map[string]any{
			"sql":         execErr.SQL,
			"details":     execErr.Message,
			"repaired":    failure.Execution.Repairs > 0,
			"trail":       failure.Execution.Trail,
			"question_id": failure.ID,
		})
	default:
		writeError(ctx, w, http.StatusInternalServerError, code, "failed to answer question", true, map[string]any{"details": err.Error()})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any, message string) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", message, false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

func principalFromRequest(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return identity.Principal
	}
	return ""
}

func requireRole(r *http.Request, role string) error {
	return auth.Authorize(r.Context(), role)
}
