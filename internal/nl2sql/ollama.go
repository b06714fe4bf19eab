package nl2sql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type OllamaConfig struct {
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// OllamaGenerator calls a local Ollama daemon's /api/generate endpoint.
type OllamaGenerator struct {
	baseURL     string
	model       string
	temperature float64
	client      *http.Client
}

func NewOllamaGenerator(cfg OllamaConfig) (*OllamaGenerator, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "llama3.1:8b"
	}
	return &OllamaGenerator{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		model:       model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeoutOr(cfg.Timeout)},
	}, nil
}

func (g *OllamaGenerator) Provider() string { return "ollama" }
func (g *OllamaGenerator) Model() string    { return g.model }

func (g *OllamaGenerator) Generate(ctx context.Context, question, schemaText string) (string, error) {
	return generateWith(ctx, g, question, schemaText)
}

func (g *OllamaGenerator) Repair(ctx context.Context, badSQL, errorMessage, schemaText string) (string, error) {
	return repairWith(ctx, g, badSQL, errorMessage, schemaText)
}

func (g *OllamaGenerator) complete(ctx context.Context, p prompt) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model":   g.model,
		"system":  p.System,
		"prompt":  p.User,
		"stream":  false,
		"options": map[string]any{"temperature": g.temperature},
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request generate: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read generate response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("generate failed status=%d body=%s", resp.StatusCode, string(rawRespBody))
	}

	var parsed struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	return parsed.Response, nil
}
