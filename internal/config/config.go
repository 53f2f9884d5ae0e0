package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr     string       `yaml:"listen_addr"`
	DB             DBConfig     `yaml:"db"`
	Model          ModelConfig  `yaml:"model"`
	Memory         MemoryConfig `yaml:"memory"`
	Batch          BatchConfig  `yaml:"batch"`
	EngineID       string       `yaml:"engine_id"`
	PolicySeedPath string       `yaml:"policy_seed_path"`
}

// DBConfig selects the record store. An empty driver keeps records in memory.
type DBConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type ModelConfig struct {
	Backend        string        `yaml:"backend"`
	BaseURL        string        `yaml:"base_url"`
	Name           string        `yaml:"name"`
	APIKey         string        `yaml:"api_key"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxConcurrency int64         `yaml:"max_concurrency"`
}

type MemoryConfig struct {
	MaxDecisions      int `yaml:"max_decisions"`
	MaxExplanations   int `yaml:"max_explanations"`
	ContextLimit      int `yaml:"context_limit"`
	ContextCharBudget int `yaml:"context_char_budget"`
}

type BatchConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	MaxItems  int `yaml:"max_items"`
}

// Defaults returns the configuration used when a field is left unset.
func Defaults() Config {
	return Config{
		ListenAddr: ":8000",
		Model: ModelConfig{
			Backend:        "ollama",
			BaseURL:        "http://localhost:11434",
			Name:           "qwen2.5:3b",
			Timeout:        300 * time.Second,
			MaxConcurrency: 5,
		},
		Memory: MemoryConfig{
			MaxDecisions:      50,
			MaxExplanations:   200,
			ContextLimit:      5,
			ContextCharBudget: 6000,
		},
		Batch: BatchConfig{
			ChunkSize: 5,
			MaxItems:  50,
		},
		EngineID: "universal-xai-http",
	}
}

func Load(path string) (Config, error) {
	// #nosec G304 -- path is operator-provided config path.
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}

	switch c.DB.Driver {
	case "":
	case "sqlite", "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required when db.driver is set")
		}
	default:
		return fmt.Errorf("db.driver must be sqlite or postgres, got %q", c.DB.Driver)
	}

	switch c.Model.Backend {
	case "ollama":
		if c.Model.BaseURL == "" {
			return fmt.Errorf("model.base_url is required for the ollama backend")
		}
	case "gemini":
		if c.Model.APIKey == "" {
			return fmt.Errorf("model.api_key is required for the gemini backend")
		}
	default:
		return fmt.Errorf("model.backend must be ollama or gemini, got %q", c.Model.Backend)
	}
	if c.Model.Timeout <= 0 {
		return fmt.Errorf("model.timeout must be positive")
	}
	if c.Model.MaxConcurrency <= 0 {
		return fmt.Errorf("model.max_concurrency must be positive")
	}

	if c.Memory.MaxDecisions <= 0 || c.Memory.MaxExplanations <= 0 {
		return fmt.Errorf("memory.max_decisions and memory.max_explanations must be positive")
	}
	if c.Memory.ContextLimit <= 0 || c.Memory.ContextCharBudget <= 0 {
		return fmt.Errorf("memory.context_limit and memory.context_char_budget must be positive")
	}

	if c.Batch.ChunkSize <= 0 || c.Batch.MaxItems <= 0 {
		return fmt.Errorf("batch.chunk_size and batch.max_items must be positive")
	}

	return nil
}
