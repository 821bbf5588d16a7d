package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the loaded config for required fields and safe values.
// The demo and tests run with zero providers (the scripted provider is wired
// in code), so providers are only validated when present.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return errors.New("server.addr must be set")
	}

	for name, p := range cfg.Providers {
		if err := validateProviderConfig(name, p); err != nil {
			return err
		}
	}

	if cfg.DefaultProvider != "" {
		if _, ok := cfg.Providers[cfg.DefaultProvider]; !ok {
			return fmt.Errorf("default_provider %q not found in providers", cfg.DefaultProvider)
		}
	}

	if err := validateProviderRef("judge.provider", cfg.Judge.Provider, cfg); err != nil {
		return err
	}
	if err := validateProviderRef("agent.provider", cfg.Agent.Provider, cfg); err != nil {
		return err
	}

	if cfg.Retrieval.NameWeight < cfg.Retrieval.NotesWeight {
		return fmt.Errorf("retrieval.name_weight (%v) must be >= retrieval.notes_weight (%v)",
			cfg.Retrieval.NameWeight, cfg.Retrieval.NotesWeight)
	}

	if cfg.Audit.WebhookURL != "" {
		u, err := url.Parse(cfg.Audit.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("audit.webhook_url %q is not a valid http(s) URL", cfg.Audit.WebhookURL)
		}
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug|info|warn|error", cfg.Logging.Level)
	}

	return nil
}

func validateProviderConfig(name string, p ProviderConfig) error {
	switch p.Type {
	case "openai", "ollama":
	case "":
		return fmt.Errorf("provider %q: type must be set", name)
	default:
		return fmt.Errorf("provider %q: unknown type %q", name, p.Type)
	}

	if p.BaseURL != "" {
		u, err := url.Parse(p.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("provider %q: base_url %q is not a valid http(s) URL", name, p.BaseURL)
		}
	}

	return nil
}

func validateProviderRef(field, name string, cfg *Config) error {
	if name == "" {
		return nil
	}
	if _, ok := cfg.Providers[name]; !ok {
		return fmt.Errorf("%s references unknown provider %q", field, name)
	}
	return nil
}
