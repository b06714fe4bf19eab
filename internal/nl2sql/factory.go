package nl2sql

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

type ProviderConfig struct {
	Provider        string
	BaseURL         string
	APIKey          string
	Model           string
	Temperature     float64
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
	Logger          *slog.Logger
}

// NewGenerator builds the configured provider wrapped in a circuit breaker.
func NewGenerator(cfg ProviderConfig) (Generator, error) {
	var (
		gen Generator
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderOllama, "":
		gen, err = NewOllamaGenerator(OllamaConfig{
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	case ProviderOpenAI:
		gen, err = NewOpenAIGenerator(OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	case ProviderAnthropic:
		gen, err = NewAnthropicGenerator(AnthropicConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	case ProviderGemini:
		gen, err = NewGeminiGenerator(GeminiConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s generator: %w", cfg.Provider, err)
	}
	return NewBreakerGenerator(gen, BreakerConfig{
		MaxFailures: cfg.BreakerFailures,
		Cooldown:    cfg.BreakerCooldown,
		Logger:      cfg.Logger,
	}), nil
}
