package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

var configKeys = []string{
	"PORT", "STORE_DRIVER", "DB_PATH", "SESSION_TTL", "STORAGE_BACKEND", "STORAGE_DIR", "GCS_BUCKET",
	"GOOGLE_API_KEY", "GENERATION_MAX_ATTEMPTS", "GENERATION_BASE_DELAY", "GENERATION_ATTEMPT_TIMEOUT",
	"TRANSCRIPT_LOG_ENABLED", "TRANSCRIPT_LOG_DIR", "TRANSCRIPT_LOG_QUEUE_SIZE",
	"RATE_LIMIT_REQUESTS", "RATE_LIMIT_WINDOW", "SSE_KEEPALIVE",
}

// clearEnv unsets the config keys for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
		if err := os.Unsetenv(k); err != nil {
			t.Fatalf("unset %s: %v", k, err)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected port 8080, got %s", cfg.Port)
	}
	if cfg.Store.SessionTTL != 24*time.Hour {
		t.Errorf("Expected 24h session TTL, got %v", cfg.Store.SessionTTL)
	}
	if cfg.Generation.MaxAttempts != 2 || cfg.Generation.AttemptTimeout != 90*time.Second {
		t.Errorf("Unexpected generation defaults: %+v", cfg.Generation)
	}
	if cfg.GenAIEnabled() {
		t.Error("Expected GenAI to be disabled without an API key")
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("GENERATION_BASE_DELAY", "3")
	t.Setenv("TRANSCRIPT_LOG_ENABLED", "off")
	t.Setenv("RATE_LIMIT_REQUESTS", "not-a-number")
	t.Setenv("GOOGLE_API_KEY", "key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Expected memory driver, got %s", cfg.Store.Driver)
	}
	if cfg.Store.SessionTTL != 2*time.Hour {
		t.Errorf("Expected 2h, got %v", cfg.Store.SessionTTL)
	}
	if cfg.Generation.BaseDelay != 3*time.Second {
		t.Errorf("Expected bare seconds to parse, got %v", cfg.Generation.BaseDelay)
	}
	if cfg.TranscriptLog.Enabled {
		t.Error("Expected transcript log disabled")
	}
	if cfg.RateLimit.RequestsPerWindow != 20 {
		t.Errorf("Expected fallback rate limit, got %d", cfg.RateLimit.RequestsPerWindow)
	}
	if !cfg.GenAIEnabled() {
		t.Error("Expected GenAI enabled")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad driver", map[string]string{"STORE_DRIVER": "postgres"}, "STORE_DRIVER"},
		{"gcs without bucket", map[string]string{"STORAGE_BACKEND": "gcs"}, "GCS_BUCKET"},
		{"zero attempts", map[string]string{"GENERATION_MAX_ATTEMPTS": "0"}, "GENERATION_MAX_ATTEMPTS"},
		{"empty port", map[string]string{"PORT": ""}, "PORT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

func TestIsDevelopment(t *testing.T) {
	if !(&Config{}).IsDevelopment() {
		t.Error("Expected empty frontend URL to be development")
	}
	if (&Config{FrontendURL: "https://studyforge.example"}).IsDevelopment() {
		t.Error("Expected public URL not to be development")
	}
}
