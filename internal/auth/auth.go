package auth

import (
	"strings"

	"github.com/ragguard-ai/ragguard/internal/config"
)

// Auth validates bearer API keys for the HTTP surface. With no keys
// configured the surface is open, which is the expected mode for a local
// demo.
type Auth struct {
	keys map[string]struct{}
}

// NewFromConfig builds an Auth instance from the loaded config.
func NewFromConfig(cfg *config.Config) *Auth {
	keys := make(map[string]struct{}, len(cfg.Server.APIKeys))
	for _, k := range cfg.Server.APIKeys {
		if k == "" {
			continue
		}
		keys[k] = struct{}{}
	}
	return &Auth{keys: keys}
}

// Enabled reports whether any key is configured.
func (a *Auth) Enabled() bool {
	return a != nil && len(a.keys) > 0
}

// Allow checks an Authorization header value.
func (a *Auth) Allow(header string) bool {
	if !a.Enabled() {
		return true
	}
	token, ok := parseBearerToken(header)
	if !ok {
		return false
	}
	_, ok = a.keys[token]
	return ok
}

func parseBearerToken(h string) (string, bool) {
	parts := strings.Fields(h)
	if len(parts) != 2 {
		return "", false
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}
