package provider

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ragguard-ai/ragguard/internal/config"
	"github.com/ragguard-ai/ragguard/internal/inference"
)

// Provider is the interface for all upstream model providers. The judge and
// the agent treat a provider as an opaque text-completion capability: a
// prompt goes in, text comes out. Timeouts are enforced by the caller via
// ctx; a provider must respect cancellation.
type Provider interface {
	ChatCompletion(ctx context.Context, req *inference.Request) (*inference.Response, error)
}

// FromConfig builds the named providers from config. API keys are resolved
// from the environment variable named in the provider entry, never stored in
// the config file itself.
func FromConfig(cfg *config.Config) (map[string]Provider, error) {
	providers := make(map[string]Provider, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		timeout := pc.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		switch pc.Type {
		case "openai":
			apiKey := ""
			if pc.APIKeyEnv != "" {
				apiKey = os.Getenv(pc.APIKeyEnv)
			}
			providers[name] = NewOpenAI(pc.BaseURL, apiKey, timeout, 0)
		case "ollama":
			providers[name] = NewOllama(pc.BaseURL, timeout, 0)
		default:
			return nil, fmt.Errorf("provider %q: unknown type %q", name, pc.Type)
		}
	}
	return providers, nil
}
