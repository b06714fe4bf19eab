package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/askdata/askdata/internal/observability"
	"github.com/askdata/askdata/internal/query"
	"github.com/askdata/askdata/internal/safety"
)

type Mode string

const (
	ModeRules Mode = "rules"
	ModeAI    Mode = "ai"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeRules:
		return ModeRules, nil
	case ModeAI:
		return ModeAI, nil
	default:
		return "", fmt.Errorf("unsupported mode %q", raw)
	}
}

type State string

const (
	StateValidating State = "validating"
	StateExecuting  State = "executing"
	StateRepairing  State = "repairing"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// MaxRepairs bounds how many times a failing statement is sent back to the
// generator within one request.
const MaxRepairs = 1

// Repairer is the part of the generator the orchestrator needs.
type Repairer interface {
	Repair(ctx context.Context, badSQL, errorMessage, schemaText string) (string, error)
}

// Execution describes one run of the state machine. SQL is the last
// statement that was validated, whether or not it succeeded.
type Execution struct {
	SQL         string       `json:"sql"`
	OriginalSQL string       `json:"original_sql"`
	RepairedSQL string       `json:"repaired_sql,omitempty"`
	Repairs     int          `json:"repairs"`
	Trail       []State      `json:"trail"`
	Result      query.Result `json:"-"`
}

type Orchestrator struct {
	gate     *safety.Gate
	engine   query.Engine
	repairer Repairer
	provider string
	logger   *slog.Logger
}

// NewOrchestrator wires the gate and engine. repairer may be nil, in which
// case execution failures are always terminal.
func NewOrchestrator(gate *safety.Gate, engine query.Engine, repairer Repairer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	provider := ""
	if named, ok := repairer.(interface{ Provider() string }); ok {
		provider = named.Provider()
	}
	return &Orchestrator{gate: gate, engine: engine, repairer: repairer, provider: provider, logger: logger}
}

// ExecuteWithRepair validates and runs sqlText. In AI mode a failed execution
// is repaired at most MaxRepairs times; the repaired statement goes through
// the gate again before it runs.
func (o *Orchestrator) ExecuteWithRepair(ctx context.Context, sqlText string, mode Mode) (Execution, error) {
	exec := Execution{SQL: sqlText, OriginalSQL: sqlText}
	current := sqlText
	state := StateValidating

	var (
		lastErr     error
		lastExecErr *query.ExecutionError
	)

	for {
		exec.Trail = append(exec.Trail, state)
		switch state {
		case StateValidating:
			exec.SQL = current
			verdict := o.gate.Validate(current)
			if !verdict.Allowed {
				repaired := exec.Repairs > 0
				lastErr = &SafetyRejectedError{SQL: current, Reason: verdict.Reason, Repaired: repaired}
				observability.IncrementSQLBlocked(blockStage(repaired))
				if repaired {
					observability.IncrementRepair("blocked")
				}
				o.logger.WarnContext(ctx, "sql_blocked",
					observability.TraceAttr(ctx),
					slog.String("reason", verdict.Reason),
					slog.Bool("repaired", repaired),
				)
				state = StateFailed
				continue
			}
			state = StateExecuting

		case StateExecuting:
			result, err := o.engine.Run(ctx, current)
			if err == nil {
				observability.ObserveQuery(result.Duration)
				if exec.Repairs > 0 {
					observability.IncrementRepair("succeeded")
				}
				exec.Result = result
				state = StateSucceeded
				continue
			}
			lastErr = err
			if exec.Repairs > 0 {
				observability.IncrementRepair("failed")
			}
			if !errors.As(err, &lastExecErr) || !o.canRepair(ctx, mode, exec.Repairs) {
				state = StateFailed
				continue
			}
			state = StateRepairing

		case StateRepairing:
			schema, err := o.engine.DescribeSchema(ctx)
			if err != nil {
				// The original failure stays the reported one.
				o.logger.WarnContext(ctx, "repair_schema_unavailable",
					observability.TraceAttr(ctx),
					slog.String("error", err.Error()),
				)
				state = StateFailed
				continue
			}
			exec.Repairs++
			o.logger.WarnContext(ctx, "repairing_sql",
				observability.TraceAttr(ctx),
				slog.String("error", lastExecErr.Message),
				slog.Int("attempt", exec.Repairs),
			)
			started := time.Now()
			repaired, err := o.repairer.Repair(ctx, current, lastExecErr.Message, schema.Text())
			observability.ObserveGeneration(o.provider, "repair", time.Since(started))
			if err != nil {
				observability.IncrementRepair("unavailable")
				lastErr = &GenerationUnavailableError{Op: "repair", Provider: o.provider, Err: err}
				state = StateFailed
				continue
			}
			exec.RepairedSQL = repaired
			current = repaired
			state = StateValidating

		case StateSucceeded:
			return exec, nil

		case StateFailed:
			return exec, lastErr
		}
	}
}

func (o *Orchestrator) canRepair(ctx context.Context, mode Mode, repairs int) bool {
	return mode == ModeAI && o.repairer != nil && repairs < MaxRepairs && ctx.Err() == nil
}

func blockStage(repaired bool) string {
	if repaired {
		return "repaired"
	}
	return "original"
}
