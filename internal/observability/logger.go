package observability

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/askdata/askdata/internal/config"
)

type ctxKey string

const (
	traceIDKey   ctxKey = "trace_id"
	principalKey ctxKey = "principal"
)

func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{Level: cfg.Observability.LogLevel}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

// TraceAttr is the trace_id attribute carried by request-scoped log lines.
func TraceAttr(ctx context.Context) slog.Attr {
	return slog.String("trace_id", TraceIDFromContext(ctx))
}

// principalSlot lets the auth middleware, which runs inside the request
// logger, report the caller back out to it.
type principalSlot struct {
	mu    sync.Mutex
	value string
}

func contextWithPrincipalSlot(ctx context.Context) context.Context {
	return context.WithValue(ctx, principalKey, &principalSlot{})
}

// SetPrincipal records the authenticated caller for the request log. It is a
// no-op outside TraceMiddleware.
func SetPrincipal(ctx context.Context, principal string) {
	slot, ok := ctx.Value(principalKey).(*principalSlot)
	if !ok {
		return
	}
	slot.mu.Lock()
	slot.value = principal
	slot.mu.Unlock()
}

func PrincipalFromContext(ctx context.Context) string {
	slot, ok := ctx.Value(principalKey).(*principalSlot)
	if !ok {
		return ""
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.value
}
