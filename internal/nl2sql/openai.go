package nl2sql

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// OpenAIGenerator talks to any OpenAI-compatible chat completions endpoint.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float64
}

func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}

	clientConfig := openai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	clientConfig.BaseURL = versionedBaseURL(cfg.BaseURL)
	clientConfig.HTTPClient = &http.Client{Timeout: timeoutOr(cfg.Timeout)}

	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       model,
		temperature: cfg.Temperature,
	}, nil
}

func (g *OpenAIGenerator) Provider() string { return "openai" }
func (g *OpenAIGenerator) Model() string    { return g.model }

func (g *OpenAIGenerator) Generate(ctx context.Context, question, schemaText string) (string, error) {
	return generateWith(ctx, g, question, schemaText)
}

func (g *OpenAIGenerator) Repair(ctx context.Context, badSQL, errorMessage, schemaText string) (string, error) {
	return repairWith(ctx, g, badSQL, errorMessage, schemaText)
}

func (g *OpenAIGenerator) complete(ctx context.Context, p prompt) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: p.User},
		},
		Temperature: float32(g.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("request chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty chat completion choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// versionedBaseURL accepts both "https://host" and "https://host/v1". The
// OpenAI and Anthropic clients both append paths below /v1.
func versionedBaseURL(raw string) string {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

func timeoutOr(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return DefaultTimeout
	}
	return timeout
}

// DefaultTimeout bounds a single generation round-trip.
const DefaultTimeout = 60 * time.Second
