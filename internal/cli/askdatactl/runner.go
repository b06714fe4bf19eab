package askdatactl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type request struct {
	method string
	path   string
	body   any
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("askdatactl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "askdata API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 90*time.Second), "HTTP timeout (e.g. 90s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	req, err := buildRequest(command, fs.Args()[1:], stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + req.path
	code, responseBody, err := doRequest(ctx, client, req.method, endpoint, *apiKey, req.body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func buildRequest(command string, args []string, stderr io.Writer) (request, error) {
	switch command {
	case "health":
		return request{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return request{method: http.MethodGet, path: "/v1/ready"}, nil
	case "schema":
		return request{method: http.MethodGet, path: "/v1/schema"}, nil
	case "examples":
		return request{method: http.MethodGet, path: "/v1/examples"}, nil
	case "translate":
		question := strings.TrimSpace(strings.Join(args, " "))
		if question == "" {
			return request{}, fmt.Errorf("translate requires a question")
		}
		return request{method: http.MethodPost, path: "/v1/translate", body: map[string]string{"question": question}}, nil
	case "validate":
		sqlText := strings.TrimSpace(strings.Join(args, " "))
		if sqlText == "" {
			return request{}, fmt.Errorf("validate requires a sql statement")
		}
		return request{method: http.MethodPost, path: "/v1/validate", body: map[string]string{"sql": sqlText}}, nil
	case "ask":
		askFlags := flag.NewFlagSet("ask", flag.ContinueOnError)
		askFlags.SetOutput(stderr)
		mode := askFlags.String("mode", "rules", "rules or ai")
		if err := askFlags.Parse(args); err != nil {
			return request{}, err
		}
		question := strings.TrimSpace(strings.Join(askFlags.Args(), " "))
		if question == "" {
			return request{}, fmt.Errorf("ask requires a question")
		}
		return request{method: http.MethodPost, path: "/v1/ask", body: map[string]string{"question": question, "mode": *mode}}, nil
	case "history":
		historyFlags := flag.NewFlagSet("history", flag.ContinueOnError)
		historyFlags.SetOutput(stderr)
		limit := historyFlags.Int("limit", 20, "number of entries")
		if err := historyFlags.Parse(args); err != nil {
			return request{}, err
		}
		query := url.Values{"limit": []string{strconv.Itoa(*limit)}}
		return request{method: http.MethodGet, path: "/v1/history?" + query.Encode()}, nil
	default:
		return request{}, fmt.Errorf("unknown command %q", command)
	}
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: askdatactl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                          GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                           GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  schema                          GET /v1/schema")
	_, _ = fmt.Fprintln(w, "  examples                        GET /v1/examples")
	_, _ = fmt.Fprintln(w, "  translate <question>            POST /v1/translate")
	_, _ = fmt.Fprintln(w, "  validate <sql>                  POST /v1/validate")
	_, _ = fmt.Fprintln(w, "  ask [-mode rules|ai] <question> POST /v1/ask")
	_, _ = fmt.Fprintln(w, "  history [-limit n]              GET /v1/history")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
