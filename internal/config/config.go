package config

import (
	"fmt"
	"strings"
	"time"
)

// StaticSource is an upstream n8n endpoint declared in configuration rather
// than in the instances table. Its prefix is reserved: a dynamic instance
// with the same identifier is ignored by the source registry.
type StaticSource struct {
	Prefix  string
	Name    string
	BaseURL string
	APIKey  string
}

type Config struct {
	HTTPAddr    string
	DatabaseDSN string
	LogLevel    string

	// Session and identity.
	JWTSecret          string
	AllowedEmailDomain string
	FrontendURLs       []string
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string

	// Statically configured n8n endpoints, checked before the instances
	// table when the source registry assembles the poll list.
	PrimaryN8NURL    string
	PrimaryN8NAPIKey string
	LocalN8NURL      string
	LocalN8NAPIKey   string

	SyncInitialDelay time.Duration
	SyncInterval     time.Duration
	FetchTimeout     time.Duration
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database dsn is required")
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("jwt secret is required")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync interval must be positive")
	}
	return nil
}

// StaticSources returns the configured static endpoints in priority order.
// Entries without a base URL are omitted.
func (c Config) StaticSources() []StaticSource {
	var sources []StaticSource
	if strings.TrimSpace(c.PrimaryN8NURL) != "" {
		sources = append(sources, StaticSource{
			Prefix:  "env",
			Name:    "Primary",
			BaseURL: c.PrimaryN8NURL,
			APIKey:  c.PrimaryN8NAPIKey,
		})
	}
	if strings.TrimSpace(c.LocalN8NURL) != "" {
		sources = append(sources, StaticSource{
			Prefix:  "local",
			Name:    "Local",
			BaseURL: c.LocalN8NURL,
			APIKey:  c.LocalN8NAPIKey,
		})
	}
	return sources
}

// AllowedOrigins splits the configured frontend URLs for CORS checks. The
// first entry doubles as the post-login redirect target.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, raw := range c.FrontendURLs {
		for _, part := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}

// PrimaryFrontend is where OAuth callbacks redirect the browser.
func (c Config) PrimaryFrontend() string {
	if origins := c.AllowedOrigins(); len(origins) > 0 {
		return origins[0]
	}
	return "http://localhost:3000"
}
