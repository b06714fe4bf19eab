package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/askdata/askdata/internal/audit"
	"github.com/askdata/askdata/internal/dataset"
	"github.com/askdata/askdata/internal/query"
	"github.com/askdata/askdata/internal/query/duckdb"
	"github.com/askdata/askdata/internal/safety"
)

var testSchema = query.Schema{Table: "orders", Columns: []query.Column{
	{Name: "order_date", Type: "VARCHAR"},
	{Name: "category", Type: "VARCHAR"},
	{Name: "revenue", Type: "DOUBLE"},
}}

type fakeEngine struct {
	ran     []string
	results map[string]query.Result
	failAll bool
}

func (f *fakeEngine) Run(_ context.Context, sqlText string) (query.Result, error) {
	f.ran = append(f.ran, sqlText)
	if result, ok := f.results[sqlText]; ok && !f.failAll {
		return result, nil
	}
	return query.Result{}, &query.ExecutionError{SQL: sqlText, Message: fmt.Sprintf("failure %d", len(f.ran))}
}

func (f *fakeEngine) DescribeSchema(context.Context) (query.Schema, error) {
	return testSchema, nil
}

type fakeGenerator struct {
	generated   string
	generateErr error
	repairs     []string
	repaired    string
	repairErr   error
	lastSchema  string
}

func (f *fakeGenerator) Generate(_ context.Context, _ string, schemaText string) (string, error) {
	f.lastSchema = schemaText
	return f.generated, f.generateErr
}

func (f *fakeGenerator) Repair(_ context.Context, badSQL, errorMessage, schemaText string) (string, error) {
	f.repairs = append(f.repairs, badSQL+" | "+errorMessage)
	f.lastSchema = schemaText
	return f.repaired, f.repairErr
}

func (f *fakeGenerator) Provider() string { return "fake" }
func (f *fakeGenerator) Model() string    { return "fake-1" }

type memoryAudit struct {
	entries []audit.Entry
	err     error
}

func (m *memoryAudit) Record(_ context.Context, entry audit.Entry) error {
	m.entries = append(m.entries, entry)
	return m.err
}

func newTestService(t *testing.T, engine query.Engine, gen *fakeGenerator, recorder audit.Recorder) *Service {
	t.Helper()
	cfg := Config{Engine: engine, Audit: recorder, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	if gen != nil {
		cfg.Generator = gen
	}
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

const rulesTotal2024 = "SELECT SUM(revenue) AS revenue FROM orders WHERE EXTRACT(year FROM CAST(order_date AS DATE)) = 2024"

func TestAskRulesSuccess(t *testing.T) {
	engine := &fakeEngine{results: map[string]query.Result{
		rulesTotal2024: {Columns: []string{"revenue"}, Rows: [][]any{{1234.5}}},
	}}
	recorder := &memoryAudit{}
	svc := newTestService(t, engine, nil, recorder)

	answer, _, err := svc.Ask(context.Background(), Request{Question: "Total revenue in 2024", Mode: ModeRules})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer.SQL != rulesTotal2024 || answer.RowCount != 1 || answer.Note != "OK (rules-based simple aggregate)" {
		t.Fatalf("Ask() = %+v", answer)
	}
	if answer.Plan == nil || answer.Plan.Year != "2024" {
		t.Fatalf("Ask().Plan = %+v", answer.Plan)
	}
	assertTrail(t, answer.Trail, StateValidating, StateExecuting, StateSucceeded)
	if answer.Chart != nil || answer.ChartNote == "" {
		t.Fatalf("Ask() chart = %+v, %q", answer.Chart, answer.ChartNote)
	}
	if len(recorder.entries) != 1 || recorder.entries[0].Status != audit.StatusSucceeded || recorder.entries[0].SQL != rulesTotal2024 {
		t.Fatalf("audit entries = %+v", recorder.entries)
	}
}

func TestAskRulesTranslationEmpty(t *testing.T) {
	engine := &fakeEngine{}
	svc := newTestService(t, engine, nil, nil)

	_, _, err := svc.Ask(context.Background(), Request{Question: "hi", Mode: ModeRules})
	var emptyErr *TranslationEmptyError
	if !errors.As(err, &emptyErr) || emptyErr.Note != "Question too short." {
		t.Fatalf("Ask() error = %v", err)
	}
	if len(engine.ran) != 0 {
		t.Fatalf("engine ran %v", engine.ran)
	}

	_, _, err = svc.Ask(context.Background(), Request{Question: "   "})
	if !errors.Is(err, ErrQuestionRequired) {
		t.Fatalf("Ask() error = %v, want ErrQuestionRequired", err)
	}
}

func TestAskRulesExecutionFailureIsNotRepaired(t *testing.T) {
	engine := &fakeEngine{failAll: true}
	gen := &fakeGenerator{repaired: "SELECT 1 FROM orders"}
	svc := newTestService(t, engine, gen, nil)

	_, failure, err := svc.Ask(context.Background(), Request{Question: "Total revenue in 2024", Mode: ModeRules})
	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) || execErr.Message != "failure 1" {
		t.Fatalf("Ask() error = %v, want raw execution error", err)
	}
	if len(gen.repairs) != 0 {
		t.Fatalf("repairs = %v, want none in rules mode", gen.repairs)
	}
	if len(engine.ran) != 1 {
		t.Fatalf("engine ran %d statements", len(engine.ran))
	}
	assertTrail(t, failure.Execution.Trail, StateValidating, StateExecuting, StateFailed)
}

func TestAskAIRepairFailsOnlyOnce(t *testing.T) {
	engine := &fakeEngine{failAll: true}
	gen := &fakeGenerator{generated: "SELECT bogus FROM orders", repaired: "SELECT still_bogus FROM orders"}
	recorder := &memoryAudit{}
	svc := newTestService(t, engine, gen, recorder)

	_, failure, err := svc.Ask(context.Background(), Request{Question: "revenue per bogus", Mode: ModeAI})
	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Ask() error = %v, want execution error", err)
	}
	if execErr.Message != "failure 2" || execErr.SQL != "SELECT still_bogus FROM orders" {
		t.Fatalf("surfaced error = %+v, want second failure", execErr)
	}
	if len(gen.repairs) != 1 || gen.repairs[0] != "SELECT bogus FROM orders | failure 1" {
		t.Fatalf("repairs = %v, want exactly one", gen.repairs)
	}
	if len(engine.ran) != 2 {
		t.Fatalf("engine ran %d statements, want 2", len(engine.ran))
	}
	if !strings.Contains(gen.lastSchema, "Table: orders") {
		t.Fatalf("repair schema = %q", gen.lastSchema)
	}
	assertTrail(t, failure.Execution.Trail,
		StateValidating, StateExecuting, StateRepairing, StateValidating, StateExecuting, StateFailed)
	if failure.Execution.Repairs != MaxRepairs {
		t.Fatalf("repairs = %d", failure.Execution.Repairs)
	}
	entry := recorder.entries[0]
	if entry.Status != audit.StatusFailed || entry.ErrorCode != "QUERY_EXECUTION_FAILED" || entry.Repairs != 1 || entry.Provider != "fake" {
		t.Fatalf("audit entry = %+v", entry)
	}
}

func TestAskAIRepairSucceeds(t *testing.T) {
	repaired := "SELECT SUM(revenue) AS revenue FROM orders"
	engine := &fakeEngine{results: map[string]query.Result{
		repaired: {Columns: []string{"revenue"}, Rows: [][]any{{10.0}}},
	}}
	gen := &fakeGenerator{generated: "```sql\nSELECT SUM(revenu) FROM orders\n```", repaired: repaired}
	svc := newTestService(t, engine, gen, nil)

	answer, _, err := svc.Ask(context.Background(), Request{Question: "total revenue", Mode: ModeAI})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer.SQL != repaired || answer.RepairedSQL != repaired || answer.Repairs != 1 {
		t.Fatalf("Ask() = %+v", answer)
	}
	if answer.Note != "OK (AI via fake)" {
		t.Fatalf("Ask().Note = %q", answer.Note)
	}
}

func TestAskAIRepairedSQLBlocked(t *testing.T) {
	engine := &fakeEngine{failAll: true}
	gen := &fakeGenerator{generated: "SELECT bogus FROM orders", repaired: "DELETE FROM orders"}
	svc := newTestService(t, engine, gen, nil)

	_, _, err := svc.Ask(context.Background(), Request{Question: "bogus", Mode: ModeAI})
	var blocked *SafetyRejectedError
	if !errors.As(err, &blocked) {
		t.Fatalf("Ask() error = %v, want SafetyRejectedError", err)
	}
	if !blocked.Repaired || blocked.SQL != "DELETE FROM orders" || blocked.Reason != safety.ReasonNotSelect {
		t.Fatalf("blocked = %+v", blocked)
	}
	if len(engine.ran) != 1 {
		t.Fatalf("engine ran %v, repaired SQL must not execute", engine.ran)
	}
}

func TestAskAIOriginalSQLBlocked(t *testing.T) {
	engine := &fakeEngine{}
	gen := &fakeGenerator{generated: "SELECT 1 FROM orders; DROP TABLE orders"}
	svc := newTestService(t, engine, gen, nil)

	_, failure, err := svc.Ask(context.Background(), Request{Question: "anything", Mode: ModeAI})
	var blocked *SafetyRejectedError
	if !errors.As(err, &blocked) || blocked.Repaired || blocked.Reason != safety.ReasonSemicolon {
		t.Fatalf("Ask() error = %v", err)
	}
	if len(engine.ran) != 0 || len(gen.repairs) != 0 {
		t.Fatalf("engine ran %v, repairs %v", engine.ran, gen.repairs)
	}
	assertTrail(t, failure.Execution.Trail, StateValidating, StateFailed)
}

func TestAskAIGenerationUnavailable(t *testing.T) {
	engine := &fakeEngine{}
	cause := errors.New("connection refused")
	svc := newTestService(t, engine, &fakeGenerator{generateErr: cause}, nil)

	_, _, err := svc.Ask(context.Background(), Request{Question: "total revenue", Mode: ModeAI})
	var genErr *GenerationUnavailableError
	if !errors.As(err, &genErr) || genErr.Op != "generate" || genErr.Provider != "fake" || !errors.Is(err, cause) {
		t.Fatalf("Ask() error = %v", err)
	}
	if len(engine.ran) != 0 {
		t.Fatalf("engine ran %v, no fallback to rules expected", engine.ran)
	}

	svc = newTestService(t, engine, &fakeGenerator{generated: "SELECT"}, nil)
	_, _, err = svc.Ask(context.Background(), Request{Question: "total revenue", Mode: ModeAI})
	if !errors.As(err, &genErr) {
		t.Fatalf("Ask() error = %v, want GenerationUnavailableError for short output", err)
	}
}

func TestAskAIRepairUnavailable(t *testing.T) {
	engine := &fakeEngine{failAll: true}
	gen := &fakeGenerator{generated: "SELECT bogus FROM orders", repairErr: errors.New("timeout")}
	svc := newTestService(t, engine, gen, nil)

	_, _, err := svc.Ask(context.Background(), Request{Question: "q?!", Mode: ModeAI})
	var genErr *GenerationUnavailableError
	if !errors.As(err, &genErr) || genErr.Op != "repair" {
		t.Fatalf("Ask() error = %v", err)
	}
}

func TestAskAIDisabled(t *testing.T) {
	svc := newTestService(t, &fakeEngine{}, nil, nil)
	if svc.AIEnabled() {
		t.Fatal("AIEnabled() = true")
	}
	_, _, err := svc.Ask(context.Background(), Request{Question: "total revenue", Mode: ModeAI})
	if !errors.Is(err, ErrAIDisabled) {
		t.Fatalf("Ask() error = %v, want ErrAIDisabled", err)
	}
}

func TestAskCancelledContextSkipsRepair(t *testing.T) {
	engine := &fakeEngine{failAll: true}
	gen := &fakeGenerator{generated: "SELECT bogus FROM orders", repaired: "SELECT 1 FROM orders"}
	svc := newTestService(t, engine, gen, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := svc.Ask(ctx, Request{Question: "total revenue", Mode: ModeAI})
	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) || len(gen.repairs) != 0 {
		t.Fatalf("Ask() error = %v, repairs = %v", err, gen.repairs)
	}
}

func TestAuditFailureDoesNotFailRequest(t *testing.T) {
	engine := &fakeEngine{results: map[string]query.Result{
		rulesTotal2024: {Columns: []string{"revenue"}, Rows: [][]any{{1.0}}},
	}}
	svc := newTestService(t, engine, nil, &memoryAudit{err: errors.New("audit db down")})
	if _, _, err := svc.Ask(context.Background(), Request{Question: "Total revenue in 2024"}); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
}

func TestTranslateReportsPlanAndVerdict(t *testing.T) {
	svc := newTestService(t, &fakeEngine{}, nil, nil)
	out := svc.Translate("Top categories by revenue in 2024")
	if !out.Translation.Ok() || out.Plan == nil || !out.Plan.TopN {
		t.Fatalf("Translate() = %+v", out)
	}
	if out.Verdict == nil || !out.Verdict.Allowed {
		t.Fatalf("Translate().Verdict = %+v", out.Verdict)
	}
	if out := svc.Translate("x"); out.Verdict != nil || out.Plan != nil {
		t.Fatalf("Translate(short) = %+v", out)
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{"": ModeRules, "rules": ModeRules, " AI ": ModeAI}
	for raw, want := range cases {
		got, err := ParseMode(raw)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseMode("llm"); err == nil {
		t.Fatal("ParseMode(llm) error = nil")
	}
}

func TestErrorCode(t *testing.T) {
	cases := map[string]error{
		"":                       nil,
		"QUESTION_REQUIRED":      ErrQuestionRequired,
		"AI_NOT_CONFIGURED":      fmt.Errorf("wrap: %w", ErrAIDisabled),
		"TRANSLATION_EMPTY":      &TranslationEmptyError{Note: "x"},
		"SQL_BLOCKED":            &SafetyRejectedError{Reason: "x"},
		"QUERY_EXECUTION_FAILED": &query.ExecutionError{Message: "x"},
		"GENERATION_UNAVAILABLE": &GenerationUnavailableError{Op: "generate", Err: errors.New("x")},
		"INTERNAL_ERROR":         errors.New("boom"),
	}
	for want, err := range cases {
		if got := ErrorCode(err); got != want {
			t.Fatalf("ErrorCode(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestAskAgainstSeededDuckDB(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "analytics.duckdb")
	if _, _, err := dataset.Seed(context.Background(), dataset.DefaultSeed, 3000, dbPath, filepath.Join(dir, "orders.parquet")); err != nil {
		t.Fatalf("dataset.Seed() error = %v", err)
	}
	svc := newTestService(t, duckdb.NewFileEngine(dbPath), nil, nil)

	answer, _, err := svc.Ask(context.Background(), Request{Question: "Total revenue in 2024"})
	if err != nil {
		t.Fatalf("Ask(total) error = %v", err)
	}
	if answer.RowCount != 1 {
		t.Fatalf("Ask(total) rows = %d", answer.RowCount)
	}

	answer, _, err = svc.Ask(context.Background(), Request{Question: "Monthly revenue by category in 2024"})
	if err != nil {
		t.Fatalf("Ask(monthly) error = %v", err)
	}
	if answer.Chart == nil || answer.Chart.Kind != "clustered" || len(answer.Chart.Labels) != 12 || len(answer.Chart.Series) != 3 {
		t.Fatalf("Ask(monthly) chart = %+v", answer.Chart)
	}

	answer, _, err = svc.Ask(context.Background(), Request{Question: "Top categories by revenue in 2024"})
	if err != nil {
		t.Fatalf("Ask(top) error = %v", err)
	}
	if answer.RowCount != 3 || answer.Chart == nil || answer.Chart.Kind != "column" {
		t.Fatalf("Ask(top) = %+v", answer)
	}
}

func assertTrail(t *testing.T, got []State, want ...State) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("trail = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("trail = %v, want %v", got, want)
		}
	}
}
