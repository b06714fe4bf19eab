package nl2sql

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
)

type AnthropicConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type AnthropicGenerator struct {
	client      *anthropic.Client
	model       string
	temperature float32
	maxTokens   int
}

func NewAnthropicGenerator(cfg AnthropicConfig) (*AnthropicGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "claude-sonnet-4-5-20250929"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	opts := []anthropic.ClientOption{
		anthropic.WithHTTPClient(&http.Client{Timeout: timeoutOr(cfg.Timeout)}),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, anthropic.WithBaseURL(versionedBaseURL(base)))
	}

	return &AnthropicGenerator{
		client:      anthropic.NewClient(strings.TrimSpace(cfg.APIKey), opts...),
		model:       model,
		temperature: float32(cfg.Temperature),
		maxTokens:   maxTokens,
	}, nil
}

func (g *AnthropicGenerator) Provider() string { return "anthropic" }
func (g *AnthropicGenerator) Model() string    { return g.model }

func (g *AnthropicGenerator) Generate(ctx context.Context, question, schemaText string) (string, error) {
	return generateWith(ctx, g, question, schemaText)
}

func (g *AnthropicGenerator) Repair(ctx context.Context, badSQL, errorMessage, schemaText string) (string, error) {
	return repairWith(ctx, g, badSQL, errorMessage, schemaText)
}

func (g *AnthropicGenerator) complete(ctx context.Context, p prompt) (string, error) {
	user := p.User
	temperature := g.temperature
	resp, err := g.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(g.model),
		System:      p.System,
		MaxTokens:   g.maxTokens,
		Temperature: &temperature,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &user},
			}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create message: %w", err)
	}
	return firstTextBlock(resp.Content)
}

func firstTextBlock(content []anthropic.MessageContent) (string, error) {
	for _, block := range content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			return *block.Text, nil
		}
	}
	return "", fmt.Errorf("message contained no text block")
}
