package nl2sql

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

type BreakerConfig struct {
	MaxFailures uint32
	Cooldown    time.Duration
	Logger      *slog.Logger
}

// BreakerGenerator stops calling a failing provider for a cooldown period
// after MaxFailures consecutive failures. Breaker rejections surface as
// ordinary generation errors.
type BreakerGenerator struct {
	next    Generator
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerGenerator(next Generator, cfg BreakerConfig) *BreakerGenerator {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	name := "generator"
	if named, ok := next.(Named); ok {
		name = named.Provider()
	}
	logger := cfg.Logger

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("generator circuit breaker state change",
					slog.String("provider", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			}
		},
	}
	return &BreakerGenerator{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerGenerator) Provider() string {
	if named, ok := b.next.(Named); ok {
		return named.Provider()
	}
	return "unknown"
}

func (b *BreakerGenerator) Model() string {
	if named, ok := b.next.(Named); ok {
		return named.Model()
	}
	return ""
}

func (b *BreakerGenerator) Generate(ctx context.Context, question, schemaText string) (string, error) {
	return b.execute(func() (string, error) {
		return b.next.Generate(ctx, question, schemaText)
	})
}

func (b *BreakerGenerator) Repair(ctx context.Context, badSQL, errorMessage, schemaText string) (string, error) {
	return b.execute(func() (string, error) {
		return b.next.Repair(ctx, badSQL, errorMessage, schemaText)
	})
}

func (b *BreakerGenerator) State() gobreaker.State {
	return b.breaker.State()
}

func (b *BreakerGenerator) execute(call func() (string, error)) (string, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return call()
	})
	if err != nil {
		return "", fmt.Errorf("circuit breaker: %w", err)
	}
	return result.(string), nil
}
