package askdatactl

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRunAskCommand(t *testing.T) {
	var gotMethod, gotPath, gotAPIKey string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-API-Key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sql":"SELECT 1","row_count":1}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"-base-url", srv.URL,
		"-api-key", "k1",
		"ask", "-mode", "ai", "Total", "revenue", "in", "2024",
	}, Options{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 2 * time.Second,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/ask" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if gotAPIKey != "k1" {
		t.Fatalf("api key = %q", gotAPIKey)
	}
	if gotBody["question"] != "Total revenue in 2024" || gotBody["mode"] != "ai" {
		t.Fatalf("body = %v", gotBody)
	}
	if !strings.Contains(stdout.String(), `"row_count": 1`) {
		t.Fatalf("stdout = %s", stdout.String())
	}
}

func TestRunSimpleCommands(t *testing.T) {
	cases := map[string]struct {
		args   []string
		method string
		path   string
	}{
		"health":    {args: []string{"health"}, method: http.MethodGet, path: "/v1/health"},
		"schema":    {args: []string{"schema"}, method: http.MethodGet, path: "/v1/schema"},
		"examples":  {args: []string{"examples"}, method: http.MethodGet, path: "/v1/examples"},
		"translate": {args: []string{"translate", "Top categories"}, method: http.MethodPost, path: "/v1/translate"},
		"validate":  {args: []string{"validate", "SELECT", "1"}, method: http.MethodPost, path: "/v1/validate"},
		"history":   {args: []string{"history", "-limit", "5"}, method: http.MethodGet, path: "/v1/history?limit=5"},
	}
	for name, tc := range cases {
		var gotMethod, gotPath string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotPath = r.URL.RequestURI()
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}))

		code := Run(context.Background(), append([]string{"-base-url", srv.URL}, tc.args...), Options{})
		srv.Close()
		if code != 0 {
			t.Fatalf("%s: exit code = %d", name, code)
		}
		if gotMethod != tc.method || gotPath != tc.path {
			t.Fatalf("%s: request = %s %s", name, gotMethod, gotPath)
		}
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error_code":"SQL_BLOCKED"}`))
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "ask", "drop everything"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "SQL_BLOCKED") {
		t.Fatalf("stderr = %s", stderr.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	for _, args := range [][]string{{"unknown"}, {"ask"}, {"translate", "  "}, {"validate"}, {}} {
		var stderr bytes.Buffer
		code := Run(context.Background(), args, Options{Stderr: &stderr})
		if code != 2 {
			t.Fatalf("Run(%v) exit code = %d", args, code)
		}
		if stderr.Len() == 0 {
			t.Fatalf("Run(%v) expected usage output", args)
		}
	}
}
