package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/davidahmann/xaidecide/internal/api"
	"github.com/davidahmann/xaidecide/internal/config"
	"github.com/davidahmann/xaidecide/internal/contextstore"
	"github.com/davidahmann/xaidecide/internal/decision"
	"github.com/davidahmann/xaidecide/internal/gateway"
	"github.com/davidahmann/xaidecide/internal/ledger"
	"github.com/davidahmann/xaidecide/internal/ledger/pgstore"
	"github.com/davidahmann/xaidecide/internal/ledger/sqlstore"
	"github.com/davidahmann/xaidecide/internal/policy"
	"github.com/davidahmann/xaidecide/internal/review"
)

func main() {
	if err := runFn(os.Args[1:], os.Getenv, listenAndServe, newServer); err != nil {
		fatalf("server error: %v", err)
	}
}

var runFn = run
var fatalf = log.Fatalf

type envFn func(string) string
type listenFn func(*http.Server) error
type serverFactory func(cfg config.Config, logger *zap.Logger) (*http.Server, func() error, error)

func run(args []string, getenv envFn, listen listenFn, factory serverFactory) error {
	fs := flag.NewFlagSet("xai-gateway", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to xai-gateway config file")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Defaults()
	if cfgFile := firstNonEmpty(*configPath, getenv("XAI_CONFIG_PATH")); cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	cfg.ListenAddr = firstNonEmpty(getenv("XAI_LISTEN_ADDR"), cfg.ListenAddr)
	cfg.Model.BaseURL = firstNonEmpty(getenv("XAI_MODEL_URL"), cfg.Model.BaseURL)
	cfg.Model.Name = firstNonEmpty(getenv("XAI_MODEL_NAME"), cfg.Model.Name)
	cfg.Model.APIKey = firstNonEmpty(getenv("GEMINI_API_KEY"), cfg.Model.APIKey)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(*verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	server, cleanup, err := factory(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := cleanup(); err != nil {
			logger.Warn("close store", zap.Error(err))
		}
	}()

	logger.Info("xai-gateway listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("backend", cfg.Model.Backend),
		zap.String("model", cfg.Model.Name),
	)
	if err := listen(server); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func newServer(cfg config.Config, logger *zap.Logger) (*http.Server, func() error, error) {
	store, closeStore, err := openStore(cfg.DB, logger.Named("ledger"))
	if err != nil {
		return nil, nil, err
	}

	backend, err := newBackend(cfg.Model)
	if err != nil {
		_ = closeStore()
		return nil, nil, err
	}
	gw := gateway.New(backend, gateway.Options{
		MaxConcurrency: cfg.Model.MaxConcurrency,
		Timeout:        cfg.Model.Timeout,
		Logger:         logger.Named("gateway"),
	})

	cs := contextstore.New(store, contextstore.Options{
		MaxDecisions: cfg.Memory.MaxDecisions,
		ContextLimit: cfg.Memory.ContextLimit,
		CharBudget:   cfg.Memory.ContextCharBudget,
		Logger:       logger.Named("context"),
	})
	if cfg.PolicySeedPath != "" {
		seed, err := policy.LoadSeed(cfg.PolicySeedPath)
		if err != nil {
			_ = closeStore()
			return nil, nil, fmt.Errorf("load policy seed: %w", err)
		}
		added, err := policy.Apply(cs, seed.Seed)
		if err != nil {
			_ = closeStore()
			return nil, nil, err
		}
		logger.Info("policy seed applied",
			zap.String("path", cfg.PolicySeedPath),
			zap.String("hash", seed.Hash),
			zap.Int("added", added),
		)
	}

	engine := decision.NewEngine(cs, gw, store, decision.Options{
		EngineID:        cfg.EngineID,
		ChunkSize:       cfg.Batch.ChunkSize,
		MaxItems:        cfg.Batch.MaxItems,
		MaxExplanations: cfg.Memory.MaxExplanations,
		Logger:          logger.Named("decision"),
	})
	reviews := review.NewService(store, engine, gw, review.Options{Logger: logger.Named("review")})

	h := &api.Handler{
		Engine:      engine,
		Reviews:     reviews,
		Context:     cs,
		Log:         logger.Named("api"),
		ModelHealth: gw.Health,
		ModelName:   cfg.Model.Name,
	}
	return &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
	}, closeStore, nil
}

// openStore returns the configured record store and its closer. An empty
// driver keeps everything in memory.
func openStore(db config.DBConfig, logger *zap.Logger) (ledger.Store, func() error, error) {
	switch db.Driver {
	case "":
		return ledger.NewInMemoryStore(), func() error { return nil }, nil
	case string(ledger.DBSQLite):
		s, err := sqlstore.OpenSQLite(db.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		if _, err := ledger.Migrate(s.DB(), ledger.DBSQLite, logger); err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return s, s.Close, nil
	case string(ledger.DBPostgres):
		s, err := pgstore.OpenPostgres(db.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if _, err := ledger.Migrate(s.DB(), ledger.DBPostgres, logger); err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported db driver %q", db.Driver)
	}
}

func newBackend(m config.ModelConfig) (gateway.Backend, error) {
	switch m.Backend {
	case "ollama":
		return gateway.NewOllamaBackend(m.BaseURL, m.Name, nil), nil
	case "gemini":
		return gateway.NewGeminiBackend(context.Background(), m.APIKey, m.Name)
	default:
		return nil, fmt.Errorf("unsupported model backend %q", m.Backend)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

func listenAndServe(server *http.Server) error {
	return server.ListenAndServe()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
