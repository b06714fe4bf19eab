package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("askdata-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.WriteTimeout != 120*time.Second {
		t.Fatalf("HTTP.WriteTimeout = %s", cfg.HTTP.WriteTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Dataset.Source != DatasetSourceFile || cfg.Dataset.Path != "db/analytics.duckdb" {
		t.Fatalf("Dataset = %+v", cfg.Dataset)
	}
	if cfg.AI.Enabled {
		t.Fatal("AI.Enabled should default to false")
	}
	if cfg.AI.Provider != "ollama" || cfg.AI.Model != "llama3.1:8b" || cfg.AI.Timeout != 60*time.Second {
		t.Fatalf("AI = %+v", cfg.AI)
	}
	if cfg.AI.BreakerMaxFailures != 5 || cfg.AI.BreakerCooldown != 30*time.Second {
		t.Fatalf("AI breaker = %d/%s", cfg.AI.BreakerMaxFailures, cfg.AI.BreakerCooldown)
	}
	if cfg.Audit.Enabled || cfg.Audit.MaxOpenConns != 10 {
		t.Fatalf("Audit = %+v", cfg.Audit)
	}
	if cfg.ObjectStore.Endpoint != "localhost:9000" {
		t.Fatalf("ObjectStore.Endpoint = %q", cfg.ObjectStore.Endpoint)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("askdata-api", mapLookup(map[string]string{"ASKDATA_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"ASKDATA_PROFILE":                 "test",
		"ASKDATA_SERVICE_NAME":            "askdata-custom",
		"ASKDATA_HTTP_ADDR":               ":9999",
		"ASKDATA_HTTP_READ_TIMEOUT":       "2s",
		"ASKDATA_LOG_LEVEL":               "error",
		"ASKDATA_AUTH_REQUIRED":           "true",
		"ASKDATA_AUTH_STATIC_KEYS":        "k1:alice:asker",
		"ASKDATA_DATASET_SOURCE":          "ObjectStore",
		"ASKDATA_DATASET_OBJECT_KEY":      "datasets/q3.parquet",
		"ASKDATA_OBJECTSTORE_BUCKET":      "askdata-prod",
		"ASKDATA_OBJECTSTORE_USE_SSL":     "true",
		"ASKDATA_AI_ENABLED":              "true",
		"ASKDATA_AI_PROVIDER":             "OpenAI",
		"ASKDATA_AI_BASE_URL":             "https://api.example.com",
		"ASKDATA_AI_API_KEY":              "secret-key",
		"ASKDATA_AI_MODEL":                "gpt-4o-mini",
		"ASKDATA_AI_TEMPERATURE":          "0.3",
		"ASKDATA_AI_TIMEOUT":              "21s",
		"ASKDATA_AI_BREAKER_MAX_FAILURES": "2",
		"ASKDATA_AI_BREAKER_COOLDOWN":     "1m",
		"ASKDATA_AUDIT_ENABLED":           "true",
		"ASKDATA_AUDIT_DSN":               "postgres://example",
		"ASKDATA_AUDIT_MAX_OPEN_CONNS":    "42",
	})
	cfg, err := Load("askdata-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "askdata-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" || cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP = %+v", cfg.HTTP)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required || cfg.Auth.StaticKeys != "k1:alice:asker" {
		t.Fatalf("Auth = %+v", cfg.Auth)
	}
	if cfg.Dataset.Source != DatasetSourceObjectStore || cfg.Dataset.ObjectKey != "datasets/q3.parquet" {
		t.Fatalf("Dataset = %+v", cfg.Dataset)
	}
	if cfg.ObjectStore.Bucket != "askdata-prod" || !cfg.ObjectStore.UseSSL {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
	if !cfg.AI.Enabled || cfg.AI.Provider != "openai" || cfg.AI.APIKey != "secret-key" {
		t.Fatalf("AI = %+v", cfg.AI)
	}
	if cfg.AI.Temperature != 0.3 || cfg.AI.Timeout != 21*time.Second {
		t.Fatalf("AI tuning = %f/%s", cfg.AI.Temperature, cfg.AI.Timeout)
	}
	if cfg.AI.BreakerMaxFailures != 2 || cfg.AI.BreakerCooldown != time.Minute {
		t.Fatalf("AI breaker = %d/%s", cfg.AI.BreakerMaxFailures, cfg.AI.BreakerCooldown)
	}
	if !cfg.Audit.Enabled || cfg.Audit.DSN != "postgres://example" || cfg.Audit.MaxOpenConns != 42 {
		t.Fatalf("Audit = %+v", cfg.Audit)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"ASKDATA_PROFILE": "oops"},
		{"ASKDATA_HTTP_READ_TIMEOUT": "NaN"},
		{"ASKDATA_HTTP_ADDR": " "},
		{"ASKDATA_DATASET_SOURCE": "s3"},
		{"ASKDATA_DATASET_PATH": ""},
		{"ASKDATA_DATASET_SOURCE": "objectstore", "ASKDATA_DATASET_OBJECT_KEY": ""},
		{"ASKDATA_AI_TEMPERATURE": "bad"},
		{"ASKDATA_AI_BREAKER_MAX_FAILURES": "-1"},
		{"ASKDATA_AUDIT_MAX_OPEN_CONNS": "oops"},
		{"ASKDATA_AUDIT_ENABLED": "true", "ASKDATA_AUDIT_DSN": ""},
		{"ASKDATA_AUTH_REQUIRED": "not-bool"},
		{"ASKDATA_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		if _, err := Load("askdata-api", mapLookup(env)); err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "ASKDATA_TEST_DOTENV_NEW=from-file\nASKDATA_TEST_DOTENV_SET=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("ASKDATA_TEST_DOTENV_SET", "from-env")
	t.Setenv("ASKDATA_TEST_DOTENV_NEW", "")
	if err := os.Unsetenv("ASKDATA_TEST_DOTENV_NEW"); err != nil {
		t.Fatalf("unsetenv: %v", err)
	}

	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("ASKDATA_TEST_DOTENV_NEW"); got != "from-file" {
		t.Fatalf("ASKDATA_TEST_DOTENV_NEW = %q", got)
	}
	if got := os.Getenv("ASKDATA_TEST_DOTENV_SET"); got != "from-env" {
		t.Fatalf("ASKDATA_TEST_DOTENV_SET = %q", got)
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
