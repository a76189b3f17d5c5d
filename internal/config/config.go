// internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Defaults for runtime settings.
const (
	DefaultHTTPRequestTimeoutS = 60
	DefaultRateLimitRPS        = 20
	DefaultRateLimitBurst      = 40
	DefaultTokenModel          = "cl100k_base"
	DefaultConfigTable         = "tool_configurations"
	DefaultConfigDriver        = "pgx"
	DefaultServiceName         = "supabase-mcp-server"
)

// Config is the effective runtime configuration after the settings file,
// environment and flags have been merged.
type Config struct {
	// Supabase project and the user the server acts as
	URL      string
	AnonKey  string
	Email    string
	Password string

	// Tool configuration sources
	Sources Sources

	// SQL lookup of the active configuration row
	ConfigDSN    string
	ConfigDriver string
	ConfigTable  string
	ConfigQuery  string

	// HTTP transport; port 0 serves stdio
	HTTPPort           int
	HTTPRequestTimeout time.Duration
	RateLimitEnabled   bool
	RateLimitRPS       float64
	RateLimitBurst     int

	// Logging
	Verbose       bool
	JSONLogging   bool
	AuditLogPath  string
	TokenTracking bool
	TokenModel    string

	// Tracing
	OTLPEndpoint string
	ServiceName  string
}

// Default returns a Config holding only defaults.
func Default() *Config {
	return &Config{
		ConfigDriver:       DefaultConfigDriver,
		ConfigTable:        DefaultConfigTable,
		HTTPRequestTimeout: time.Duration(DefaultHTTPRequestTimeoutS) * time.Second,
		RateLimitRPS:       float64(DefaultRateLimitRPS),
		RateLimitBurst:     DefaultRateLimitBurst,
		TokenModel:         DefaultTokenModel,
		ServiceName:        DefaultServiceName,
	}
}

// HTTPMode reports whether the server listens on a port instead of stdio.
func (c *Config) HTTPMode() bool { return c.HTTPPort > 0 }

// Validate checks the settings every run needs.
func (c *Config) Validate() error {
	missing := []string{}
	for _, f := range []struct{ name, val string }{
		{"--url", c.URL},
		{"--anon-key", c.AnonKey},
		{"--email", c.Email},
		{"--password", c.Password},
	} {
		if strings.TrimSpace(f.val) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s is required", strings.Join(missing, ", "))
	}
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid URL format: %q", c.URL)
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid port %d", c.HTTPPort)
	}
	switch c.ConfigDriver {
	case "pgx", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported config driver %q (want pgx or mysql)", c.ConfigDriver)
	}
	if _, err := c.Sources.Select(); err != nil {
		return err
	}
	return nil
}
