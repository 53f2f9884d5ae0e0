package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xai.yaml")

	t.Setenv("GEMINI_API_KEY", "secret")

	data := `
listen_addr: ":9090"
db:
  driver: sqlite
  dsn: "file:xai.db"
model:
  backend: gemini
  api_key: "${GEMINI_API_KEY}"
  timeout: 45s
memory:
  max_decisions: 10
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model.APIKey != "secret" {
		t.Fatalf("expected expanded api key")
	}
	if cfg.Model.Timeout != 45*time.Second {
		t.Fatalf("expected 45s timeout, got %s", cfg.Model.Timeout)
	}
	if cfg.Memory.MaxDecisions != 10 {
		t.Fatalf("expected max_decisions override, got %d", cfg.Memory.MaxDecisions)
	}
	// Unset fields keep their defaults.
	if cfg.Memory.MaxExplanations != 200 || cfg.Batch.MaxItems != 50 || cfg.Model.MaxConcurrency != 5 {
		t.Fatalf("expected defaults to survive, got %+v", cfg)
	}
	if cfg.EngineID != "universal-xai-http" {
		t.Fatalf("unexpected engine id %q", cfg.EngineID)
	}
}

func TestDefaultsValidate(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateMissingFields(t *testing.T) {
	if err := (Config{}).Validate(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateGeminiRequiresKey(t *testing.T) {
	cfg := Defaults()
	cfg.Model.Backend = "gemini"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateDBRequiresDSN(t *testing.T) {
	cfg := Defaults()
	cfg.DB.Driver = "sqlite"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error")
	}
	cfg.DB = DBConfig{Driver: "mysql", DSN: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestValidateRejectsNonPositiveLimits(t *testing.T) {
	cfg := Defaults()
	cfg.Batch.ChunkSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("does-not-exist.yaml"); err == nil {
		t.Fatalf("expected error")
	}
}
