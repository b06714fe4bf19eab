package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/askdata/askdata/internal/audit"
	"github.com/askdata/askdata/internal/chart"
	"github.com/askdata/askdata/internal/nl2sql"
	"github.com/askdata/askdata/internal/observability"
	"github.com/askdata/askdata/internal/query"
	"github.com/askdata/askdata/internal/safety"
)

// minGeneratedSQLLength rejects model output too short to be a statement.
const minGeneratedSQLLength = 10

type Config struct {
	Translator *nl2sql.RuleTranslator
	Gate       *safety.Gate
	Engine     query.Engine
	// Generator is optional; without it AI mode returns ErrAIDisabled.
	Generator nl2sql.Generator
	Audit     audit.Recorder
	Logger    *slog.Logger
}

// Service answers questions end to end: translate or generate, gate,
// execute with bounded repair, pick a chart and record the outcome.
type Service struct {
	translator   *nl2sql.RuleTranslator
	gate         *safety.Gate
	engine       query.Engine
	generator    nl2sql.Generator
	audit        audit.Recorder
	logger       *slog.Logger
	orchestrator *Orchestrator
	now          func() time.Time
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("query engine is required")
	}
	translator := cfg.Translator
	if translator == nil {
		translator = nl2sql.NewRuleTranslator(nl2sql.DefaultVocabulary())
	}
	gate := cfg.Gate
	if gate == nil {
		gate = safety.NewGate(safety.DefaultPolicy())
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Audit
	if recorder == nil {
		recorder = audit.Nop{}
	}

	var repairer Repairer
	if cfg.Generator != nil {
		repairer = cfg.Generator
	}

	return &Service{
		translator:   translator,
		gate:         gate,
		engine:       cfg.Engine,
		generator:    cfg.Generator,
		audit:        recorder,
		logger:       logger,
		orchestrator: NewOrchestrator(gate, cfg.Engine, repairer, logger),
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

type Request struct {
	Question  string
	Mode      Mode
	Principal string
}

type Answer struct {
	ID          string                  `json:"id"`
	Question    string                  `json:"question"`
	Mode        Mode                    `json:"mode"`
	SQL         string                  `json:"sql"`
	Note        string                  `json:"note"`
	OriginalSQL string                  `json:"original_sql,omitempty"`
	RepairedSQL string                  `json:"repaired_sql,omitempty"`
	Repairs     int                     `json:"repairs"`
	Trail       []State                 `json:"trail"`
	Plan        *nl2sql.AggregationSpec `json:"plan,omitempty"`
	Columns     []string                `json:"columns"`
	Rows        [][]any                 `json:"rows"`
	RowCount    int                     `json:"row_count"`
	Chart       *chart.Spec             `json:"chart,omitempty"`
	ChartNote   string                  `json:"chart_note"`
	DurationMs  int64                   `json:"duration_ms"`
}

// Failure is returned alongside an error from Ask so callers can still show
// the statement that was tried.
type Failure struct {
	ID        string
	Execution Execution
}

type TranslateResult struct {
	Translation nl2sql.Translation      `json:"translation"`
	Plan        *nl2sql.AggregationSpec `json:"plan,omitempty"`
	Verdict     *safety.Verdict         `json:"verdict,omitempty"`
}

func (s *Service) AIEnabled() bool {
	return s.generator != nil
}

func (s *Service) Provider() string {
	if named, ok := s.generator.(nl2sql.Named); ok {
		return named.Provider()
	}
	return ""
}

// Translate runs only the rule translator and the gate, without executing.
func (s *Service) Translate(question string) TranslateResult {
	out := TranslateResult{Translation: s.translator.Translate(question)}
	if spec, ok := s.translator.Plan(question); ok {
		out.Plan = &spec
	}
	if out.Translation.Ok() {
		verdict := s.gate.Validate(out.Translation.SQL)
		out.Verdict = &verdict
	}
	return out
}

func (s *Service) Validate(sqlText string) safety.Verdict {
	return s.gate.Validate(sqlText)
}

func (s *Service) Schema(ctx context.Context) (query.Schema, error) {
	return s.engine.DescribeSchema(ctx)
}

func (s *Service) Ask(ctx context.Context, req Request) (Answer, Failure, error) {
	started := time.Now()
	id := uuid.NewString()
	question := strings.TrimSpace(req.Question)
	mode := req.Mode
	if mode == "" {
		mode = ModeRules
	}

	answer := Answer{ID: id, Question: question, Mode: mode}
	failure := Failure{ID: id}

	finish := func(exec Execution, err error) (Answer, Failure, error) {
		elapsed := time.Since(started)
		answer.DurationMs = elapsed.Milliseconds()
		s.record(ctx, req, answer, exec, err)
		status := string(audit.StatusSucceeded)
		if err != nil {
			status = string(audit.StatusFailed)
		}
		observability.ObserveQuestion(string(mode), status)
		if err != nil {
			failure.Execution = exec
			s.logger.InfoContext(ctx, "question_failed",
				observability.TraceAttr(ctx),
				slog.String("mode", string(mode)),
				slog.String("error_code", ErrorCode(err)),
				slog.String("error", err.Error()),
			)
			return Answer{}, failure, err
		}
		s.logger.InfoContext(ctx, "question_answered",
			observability.TraceAttr(ctx),
			slog.String("mode", string(mode)),
			slog.Int("rows", answer.RowCount),
			slog.Int("repairs", answer.Repairs),
			slog.Int64("duration_ms", answer.DurationMs),
		)
		return answer, failure, nil
	}

	if question == "" {
		return finish(Execution{}, ErrQuestionRequired)
	}

	var sqlText string
	switch mode {
	case ModeRules:
		translation := s.translator.Translate(question)
		if spec, ok := s.translator.Plan(question); ok {
			answer.Plan = &spec
		}
		if !translation.Ok() {
			return finish(Execution{}, &TranslationEmptyError{Note: translation.Note})
		}
		sqlText = translation.SQL
		answer.Note = translation.Note
	case ModeAI:
		generated, err := s.generate(ctx, question)
		if err != nil {
			return finish(Execution{}, err)
		}
		sqlText = generated
		answer.Note = "OK (AI via " + s.Provider() + ")"
	default:
		return finish(Execution{}, fmt.Errorf("unsupported mode %q", mode))
	}

	exec, err := s.orchestrator.ExecuteWithRepair(ctx, sqlText, mode)
	if err != nil {
		return finish(exec, err)
	}

	answer.SQL = exec.SQL
	answer.OriginalSQL = exec.OriginalSQL
	answer.RepairedSQL = exec.RepairedSQL
	answer.Repairs = exec.Repairs
	answer.Trail = exec.Trail
	answer.Columns = exec.Result.Columns
	answer.Rows = exec.Result.Rows
	answer.RowCount = len(exec.Result.Rows)
	answer.Chart, answer.ChartNote = chart.Pick(exec.Result.Columns, exec.Result.Rows)
	return finish(exec, nil)
}

func (s *Service) generate(ctx context.Context, question string) (string, error) {
	if s.generator == nil {
		return "", ErrAIDisabled
	}
	schema, err := s.engine.DescribeSchema(ctx)
	if err != nil {
		return "", fmt.Errorf("describe schema: %w", err)
	}

	provider := s.Provider()
	started := time.Now()
	sqlText, err := s.generator.Generate(ctx, question, schema.Text())
	observability.ObserveGeneration(provider, "generate", time.Since(started))
	if err != nil {
		return "", &GenerationUnavailableError{Op: "generate", Provider: provider, Err: err}
	}
	if len(strings.TrimSpace(sqlText)) < minGeneratedSQLLength {
		return "", &GenerationUnavailableError{Op: "generate", Provider: provider, Err: errors.New("model returned no usable SQL")}
	}
	return sqlText, nil
}

func (s *Service) record(ctx context.Context, req Request, answer Answer, exec Execution, err error) {
	entry := audit.Entry{
		TraceID:     observability.TraceIDFromContext(ctx),
		Principal:   req.Principal,
		Question:    answer.Question,
		Mode:        string(answer.Mode),
		SQL:         exec.OriginalSQL,
		RepairedSQL: exec.RepairedSQL,
		Status:      audit.StatusSucceeded,
		RowCount:    answer.RowCount,
		Repairs:     exec.Repairs,
		DurationMs:  answer.DurationMs,
		CreatedAt:   s.now(),
	}
	if parsed, parseErr := uuid.Parse(answer.ID); parseErr == nil {
		entry.ID = parsed
	}
	if answer.Mode == ModeAI {
		entry.Provider = s.Provider()
	}
	if err != nil {
		entry.Status = audit.StatusFailed
		entry.ErrorCode = ErrorCode(err)
		entry.ErrorMessage = err.Error()
	}
	// A broken audit sink must not fail the request.
	if recErr := s.audit.Record(context.WithoutCancel(ctx), entry); recErr != nil {
		s.logger.WarnContext(ctx, "audit_record_failed",
			slog.String("trace_id", entry.TraceID),
			slog.String("error", recErr.Error()),
		)
	}
}

// ErrorCode maps pipeline errors to the stable codes used by the API and the
// audit log.
func ErrorCode(err error) string {
	var (
		emptyErr *TranslationEmptyError
		blocked  *SafetyRejectedError
		execErr  *query.ExecutionError
		genErr   *GenerationUnavailableError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrQuestionRequired):
		return "QUESTION_REQUIRED"
	case errors.Is(err, ErrAIDisabled):
		return "AI_NOT_CONFIGURED"
	case errors.As(err, &emptyErr):
		return "TRANSLATION_EMPTY"
	case errors.As(err, &blocked):
		return "SQL_BLOCKED"
	case errors.As(err, &genErr):
		return "GENERATION_UNAVAILABLE"
	case errors.As(err, &execErr):
		return "QUERY_EXECUTION_FAILED"
	default:
		return "INTERNAL_ERROR"
	}
}
