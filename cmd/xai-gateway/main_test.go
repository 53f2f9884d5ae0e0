package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/davidahmann/xaidecide/internal/config"
)

func TestNewServer(t *testing.T) {
	cfg := config.Defaults()
	cfg.ListenAddr = "127.0.0.1:9999"

	srv, cleanup, err := newServer(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer cleanup()
	if srv.Addr != cfg.ListenAddr {
		t.Fatalf("expected addr %s, got %s", cfg.ListenAddr, srv.Addr)
	}
	if srv.Handler == nil {
		t.Fatalf("expected handler to be set")
	}
}

func TestNewServerSQLiteWithSeed(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "policies.yaml")
	seed := "policy_version: \"2025-12-20\"\npolicies:\n  global:\n    - Do not use protected attributes.\n  loan:\n    - Minimum credit score 650.\n"
	if err := os.WriteFile(seedPath, []byte(seed), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	cfg := config.Defaults()
	cfg.DB = config.DBConfig{Driver: "sqlite", DSN: filepath.Join(dir, "xai.db")}
	cfg.PolicySeedPath = seedPath

	srv, cleanup, err := newServer(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer cleanup()

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/policies?domain=loan", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Minimum credit score 650.") {
		t.Fatalf("expected seeded policy, got %s", rec.Body.String())
	}
}

func TestNewServerBadSeed(t *testing.T) {
	cfg := config.Defaults()
	cfg.PolicySeedPath = filepath.Join(t.TempDir(), "missing.yaml")
	if _, _, err := newServer(cfg, zap.NewNop()); err == nil {
		t.Fatalf("expected error for missing seed file")
	}
}

func TestOpenStoreUnsupportedDriver(t *testing.T) {
	if _, _, err := openStore(config.DBConfig{Driver: "mysql", DSN: "x"}, zap.NewNop()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewBackendGeminiRequiresKey(t *testing.T) {
	if _, err := newBackend(config.ModelConfig{Backend: "gemini"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRunDefaults(t *testing.T) {
	factory := func(cfg config.Config, _ *zap.Logger) (*http.Server, func() error, error) {
		if cfg.ListenAddr != ":8000" {
			t.Fatalf("expected default addr, got %s", cfg.ListenAddr)
		}
		if cfg.Model.Backend != "ollama" {
			t.Fatalf("expected ollama backend, got %s", cfg.Model.Backend)
		}
		return &http.Server{Addr: cfg.ListenAddr}, func() error { return nil }, nil
	}

	listen := func(_ *http.Server) error {
		return http.ErrServerClosed
	}

	getenv := func(string) string { return "" }
	if err := run(nil, getenv, listen, factory); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunEnvOverrides(t *testing.T) {
	factory := func(cfg config.Config, _ *zap.Logger) (*http.Server, func() error, error) {
		if cfg.ListenAddr != "127.0.0.1:1234" {
			t.Fatalf("expected env addr, got %s", cfg.ListenAddr)
		}
		if cfg.Model.BaseURL != "http://ollama:11434" {
			t.Fatalf("expected env model url, got %s", cfg.Model.BaseURL)
		}
		return &http.Server{Addr: cfg.ListenAddr}, func() error { return nil }, nil
	}
	getenv := func(key string) string {
		switch key {
		case "XAI_LISTEN_ADDR":
			return "127.0.0.1:1234"
		case "XAI_MODEL_URL":
			return "http://ollama:11434"
		}
		return ""
	}
	listen := func(_ *http.Server) error { return http.ErrServerClosed }

	if err := run([]string{"--verbose"}, getenv, listen, factory); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunError(t *testing.T) {
	listenErr := errors.New("listen failed")
	listen := func(_ *http.Server) error {
		return listenErr
	}

	closed := false
	factory := func(cfg config.Config, _ *zap.Logger) (*http.Server, func() error, error) {
		return &http.Server{Addr: cfg.ListenAddr}, func() error { closed = true; return nil }, nil
	}

	getenv := func(string) string { return "" }
	if err := run(nil, getenv, listen, factory); !errors.Is(err, listenErr) {
		t.Fatalf("expected listen error, got %v", err)
	}
	if !closed {
		t.Fatalf("expected store cleanup")
	}
}

func TestRunFactoryError(t *testing.T) {
	factory := func(config.Config, *zap.Logger) (*http.Server, func() error, error) {
		return nil, nil, errors.New("no store")
	}
	listen := func(_ *http.Server) error {
		t.Fatalf("listen should not be called")
		return nil
	}
	if err := run(nil, func(string) string { return "" }, listen, factory); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRunLoadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xai.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: \":9999\"\nbatch:\n  max_items: 10\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	factory := func(cfg config.Config, _ *zap.Logger) (*http.Server, func() error, error) {
		if cfg.ListenAddr != ":9999" {
			t.Fatalf("expected addr from config, got %s", cfg.ListenAddr)
		}
		if cfg.Batch.MaxItems != 10 {
			t.Fatalf("expected max items from config, got %d", cfg.Batch.MaxItems)
		}
		return &http.Server{Addr: cfg.ListenAddr}, func() error { return nil }, nil
	}

	listen := func(_ *http.Server) error { return http.ErrServerClosed }
	getenv := func(key string) string {
		if key == "XAI_CONFIG_PATH" {
			return path
		}
		return ""
	}

	if err := run(nil, getenv, listen, factory); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xai.yaml")
	if err := os.WriteFile(path, []byte("model:\n  backend: gemini\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	factory := func(config.Config, *zap.Logger) (*http.Server, func() error, error) {
		t.Fatalf("factory should not be called")
		return nil, nil, nil
	}
	listen := func(_ *http.Server) error { return nil }

	if err := run([]string{"--config", path}, func(string) string { return "" }, listen, factory); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "a", "b"); got != "a" {
		t.Fatalf("expected a, got %s", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Fatalf("expected empty, got %s", got)
	}
}

func TestListenAndServeInvalidAddr(t *testing.T) {
	err := listenAndServe(&http.Server{Addr: "127.0.0.1"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestMainNoError(t *testing.T) {
	oldRun := runFn
	oldFatal := fatalf
	defer func() {
		runFn = oldRun
		fatalf = oldFatal
	}()

	runFn = func(args []string, envFn envFn, listenFn listenFn, serverFactory serverFactory) error {
		return nil
	}

	called := false
	fatalf = func(string, ...any) {
		called = true
	}

	main()
	if called {
		t.Fatalf("unexpected fatal call")
	}
}

func TestMainError(t *testing.T) {
	oldRun := runFn
	oldFatal := fatalf
	defer func() {
		runFn = oldRun
		fatalf = oldFatal
	}()

	runFn = func(args []string, envFn envFn, listenFn listenFn, serverFactory serverFactory) error {
		return errors.New("boom")
	}

	called := false
	fatalf = func(string, ...any) {
		called = true
	}

	main()
	if !called {
		t.Fatalf("expected fatal call")
	}
}
