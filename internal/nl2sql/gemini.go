package nl2sql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// GeminiGenerator uses the Google Generative AI API. A client is opened per
// call so the generator itself owns no connection state.
type GeminiGenerator struct {
	apiKey      string
	model       string
	temperature float32
	timeout     time.Duration
}

func NewGeminiGenerator(cfg GeminiConfig) (*GeminiGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiGenerator{
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: float32(cfg.Temperature),
		timeout:     timeoutOr(cfg.Timeout),
	}, nil
}

func (g *GeminiGenerator) Provider() string { return "gemini" }
func (g *GeminiGenerator) Model() string    { return g.model }

func (g *GeminiGenerator) Generate(ctx context.Context, question, schemaText string) (string, error) {
	return generateWith(ctx, g, question, schemaText)
}

func (g *GeminiGenerator) Repair(ctx context.Context, badSQL, errorMessage, schemaText string) (string, error) {
	return repairWith(ctx, g, badSQL, errorMessage, schemaText)
}

func (g *GeminiGenerator) complete(ctx context.Context, p prompt) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return "", fmt.Errorf("gemini client: %w", err)
	}
	defer func() { _ = client.Close() }()

	model := client.GenerativeModel(g.model)
	model.SetTemperature(g.temperature)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(p.System)}}

	resp, err := model.GenerateContent(ctx, genai.Text(p.User))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return candidateText(resp), nil
}

// candidateText concatenates the text parts of every candidate. Non-text
// parts such as function calls are skipped.
func candidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var out strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				out.WriteString(string(text))
			}
		}
	}
	return out.String()
}
