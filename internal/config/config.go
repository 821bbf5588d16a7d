package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds RAGGuard configuration.
type Config struct {
	Server          ServerConfig              `yaml:"server"`
	Providers       map[string]ProviderConfig `yaml:"providers"`
	DefaultProvider string                    `yaml:"default_provider"`
	Judge           JudgeConfig               `yaml:"judge"`
	Agent           AgentConfig               `yaml:"agent"`
	Retrieval       RetrievalConfig           `yaml:"retrieval"`
	Store           StoreConfig               `yaml:"store"`
	Audit           AuditConfig               `yaml:"audit"`
	Logging         LoggingConfig             `yaml:"logging"`
	Telemetry       TelemetryConfig           `yaml:"telemetry"`
}

type ServerConfig struct {
	Addr                string        `yaml:"addr"` // HTTP listen address, e.g. ":8080"
	APIKeys             []string      `yaml:"api_keys"`
	MaxRequestBodyBytes int64         `yaml:"max_request_body_bytes"`
	ReadHeaderTimeout   time.Duration `yaml:"read_header_timeout"`
	ReadTimeout         time.Duration `yaml:"read_timeout"`
	WriteTimeout        time.Duration `yaml:"write_timeout"`
	IdleTimeout         time.Duration `yaml:"idle_timeout"`
}

type ProviderConfig struct {
	Type      string        `yaml:"type"`        // "openai" | "ollama"
	BaseURL   string        `yaml:"base_url"`    // e.g. "http://localhost:11434"
	APIKeyEnv string        `yaml:"api_key_env"` // e.g. "OPENAI_API_KEY"
	Timeout   time.Duration `yaml:"timeout"`
}

// JudgeConfig drives the guardrail judge: which model classifies retrieved
// context and how long a single classification call may take.
type JudgeConfig struct {
	Provider string        `yaml:"provider"` // provider name, empty = default_provider
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

// AgentConfig drives the payment decision engine.
type AgentConfig struct {
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RetrievalConfig holds the lexical scoring weights. The name weight is
// deliberately higher than the notes weight so keyword-stuffing the notes
// field alone does not outrank a genuine name match.
type RetrievalConfig struct {
	NameWeight  float64 `yaml:"name_weight"`
	NotesWeight float64 `yaml:"notes_weight"`
}

type StoreConfig struct {
	Path       string `yaml:"path"`        // vendor snapshot, empty = in-memory only
	PoisonPath string `yaml:"poison_path"` // poisoned entries for the demo attack
}

type AuditConfig struct {
	File       string `yaml:"file"`        // JSONL audit trail, empty = disabled
	WebhookURL string `yaml:"webhook_url"` // POST target per event, empty = disabled
	BufferSize int    `yaml:"buffer_size"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
	File  string `yaml:"file"`  // rotated JSON log file, empty = console only
	Dev   bool   `yaml:"dev"`   // console encoder instead of JSON on stdout
}

type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // OTLP/HTTP endpoint host:port
	Service  string `yaml:"service"`
}

// Load reads configuration from a YAML file.
// If the file doesn't exist, it returns a default config and no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := &Config{}
			applyDefaults(cfg)
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MaxRequestBodyBytes <= 0 {
		cfg.Server.MaxRequestBodyBytes = 1 << 20
	}
	if cfg.Server.ReadHeaderTimeout <= 0 {
		cfg.Server.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 5 * time.Minute
	}
	if cfg.Server.IdleTimeout <= 0 {
		cfg.Server.IdleTimeout = 2 * time.Minute
	}

	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}

	// If no default provider is set but there's exactly one provider,
	// use that as default.
	if cfg.DefaultProvider == "" && len(cfg.Providers) == 1 {
		for name := range cfg.Providers {
			cfg.DefaultProvider = name
			break
		}
	}

	if cfg.Judge.Model == "" {
		cfg.Judge.Model = "llama3:8b"
	}
	if cfg.Judge.Timeout <= 0 {
		cfg.Judge.Timeout = 30 * time.Second
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = "llama3:8b"
	}
	if cfg.Agent.Timeout <= 0 {
		cfg.Agent.Timeout = 60 * time.Second
	}

	if cfg.Retrieval.NameWeight <= 0 {
		cfg.Retrieval.NameWeight = 2.0
	}
	if cfg.Retrieval.NotesWeight <= 0 {
		cfg.Retrieval.NotesWeight = 1.0
	}

	if cfg.Audit.BufferSize <= 0 {
		cfg.Audit.BufferSize = 256
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Telemetry.Service == "" {
		cfg.Telemetry.Service = "ragguard"
	}
}
