// internal/config/file.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/askdba/supabase-mcp-server/internal/util"
)

// FileConfig is the settings file. It mirrors Config with file-friendly
// field names.
type FileConfig struct {
	Supabase    FileSupabaseConfig    `yaml:"supabase" json:"supabase"`
	Tools       FileToolsConfig       `yaml:"tools" json:"tools"`
	ConfigStore FileConfigStoreConfig `yaml:"config_store" json:"config_store"`
	Logging     FileLoggingConfig     `yaml:"logging" json:"logging"`
	HTTP        FileHTTPConfig        `yaml:"http" json:"http"`
	Telemetry   FileTelemetryConfig   `yaml:"telemetry" json:"telemetry"`
}

// FileSupabaseConfig is the project and user.
type FileSupabaseConfig struct {
	URL      string `yaml:"url" json:"url"`
	AnonKey  string `yaml:"anon_key" json:"anon_key"`
	Email    string `yaml:"email" json:"email"`
	Password string `yaml:"password" json:"password"`
}

// FileToolsConfig names at most one tool configuration source.
type FileToolsConfig struct {
	ConfigPath      string `yaml:"config_path" json:"config_path"`
	ConfigJSON      string `yaml:"config_json" json:"config_json"`
	ToolsJSON       string `yaml:"tools_json" json:"tools_json"`
	ToolsJSONBase64 string `yaml:"tools_json_base64" json:"tools_json_base64"`
}

// FileConfigStoreConfig points the database fallback at a SQL database
// instead of PostgREST.
type FileConfigStoreConfig struct {
	DSN    string `yaml:"dsn" json:"dsn"`
	Driver string `yaml:"driver" json:"driver"`
	Table  string `yaml:"table" json:"table"`
	Query  string `yaml:"query" json:"query"`
	SSL    string `yaml:"ssl" json:"ssl"` // "true", "false", "skip-verify", "preferred" or empty
}

// FileLoggingConfig represents logging settings in the config file.
type FileLoggingConfig struct {
	Verbose       bool   `yaml:"verbose" json:"verbose"`
	JSONFormat    bool   `yaml:"json_format" json:"json_format"`
	AuditLogPath  string `yaml:"audit_log_path" json:"audit_log_path"`
	TokenTracking bool   `yaml:"token_tracking" json:"token_tracking"`
	TokenModel    string `yaml:"token_model" json:"token_model"`
}

// FileHTTPConfig represents HTTP settings in the config file.
type FileHTTPConfig struct {
	Port                  int                 `yaml:"port" json:"port"`
	RequestTimeoutSeconds int                 `yaml:"request_timeout_seconds" json:"request_timeout_seconds"`
	RateLimit             FileRateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// FileRateLimitConfig represents rate limiting settings in the config file.
type FileRateLimitConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	RPS     int  `yaml:"rps" json:"rps"`
	Burst   int  `yaml:"burst" json:"burst"`
}

// FileTelemetryConfig configures trace export.
type FileTelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name" json:"service_name"`
}

// SettingsEnv names the settings file when --settings is not given.
const SettingsEnv = "SUPABASE_MCP_SETTINGS"

const appDir = "supabase-mcp-server"

// FindConfigFile returns the settings file to use: explicit, then
// $SUPABASE_MCP_SETTINGS, then the working, user and system directories.
// It returns "" when none exists.
func FindConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if envPath := os.Getenv(SettingsEnv); envPath != "" {
		return envPath
	}

	var candidates []string
	for _, ext := range []string{"yaml", "yml", "json"} {
		candidates = append(candidates, appDir+"."+ext)
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		for _, ext := range []string{"yaml", "yml", "json"} {
			candidates = append(candidates, filepath.Join(homeDir, ".config", appDir, "config."+ext))
		}
	}
	for _, ext := range []string{"yaml", "yml", "json"} {
		candidates = append(candidates, filepath.Join("/etc", appDir, "config."+ext))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// LoadConfigFile loads settings from a YAML or JSON file.
func LoadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var cfg FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML settings: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON settings: %w", err)
		}
	default:
		// separate targets so a partial YAML decode cannot leak into the JSON attempt
		var yamlCfg FileConfig
		if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
			var jsonCfg FileConfig
			if err := json.Unmarshal(data, &jsonCfg); err != nil {
				return nil, fmt.Errorf("failed to parse settings file (tried YAML and JSON): %w", err)
			}
			cfg = jsonCfg
		} else {
			cfg = yamlCfg
		}
	}
	return &cfg, nil
}

// ToConfig converts a FileConfig to a runtime Config on top of the
// defaults. Flags and environment are applied afterwards by the caller.
func (fc *FileConfig) ToConfig() *Config {
	cfg := Default()

	cfg.URL = strings.TrimSpace(fc.Supabase.URL)
	cfg.AnonKey = fc.Supabase.AnonKey
	cfg.Email = fc.Supabase.Email
	cfg.Password = fc.Supabase.Password

	cfg.Sources = Sources{
		ConfigPath:      fc.Tools.ConfigPath,
		ConfigJSON:      fc.Tools.ConfigJSON,
		ToolsJSON:       fc.Tools.ToolsJSON,
		ToolsJSONBase64: fc.Tools.ToolsJSONBase64,
	}

	if fc.ConfigStore.Driver != "" {
		cfg.ConfigDriver = strings.ToLower(strings.TrimSpace(fc.ConfigStore.Driver))
	}
	cfg.ConfigDSN = ApplySSLToDSN(cfg.ConfigDriver, fc.ConfigStore.DSN, fc.ConfigStore.SSL)
	if fc.ConfigStore.Table != "" {
		cfg.ConfigTable = fc.ConfigStore.Table
	}
	cfg.ConfigQuery = fc.ConfigStore.Query

	cfg.Verbose = fc.Logging.Verbose
	cfg.JSONLogging = fc.Logging.JSONFormat
	cfg.AuditLogPath = fc.Logging.AuditLogPath
	cfg.TokenTracking = fc.Logging.TokenTracking
	if strings.TrimSpace(fc.Logging.TokenModel) != "" {
		cfg.TokenModel = strings.TrimSpace(fc.Logging.TokenModel)
	}

	if fc.HTTP.Port > 0 {
		cfg.HTTPPort = fc.HTTP.Port
	}
	if fc.HTTP.RequestTimeoutSeconds > 0 {
		cfg.HTTPRequestTimeout = time.Duration(fc.HTTP.RequestTimeoutSeconds) * time.Second
	}
	cfg.RateLimitEnabled = fc.HTTP.RateLimit.Enabled
	if fc.HTTP.RateLimit.RPS > 0 {
		cfg.RateLimitRPS = float64(fc.HTTP.RateLimit.RPS)
	}
	if fc.HTTP.RateLimit.Burst > 0 {
		cfg.RateLimitBurst = fc.HTTP.RateLimit.Burst
	}

	cfg.OTLPEndpoint = fc.Telemetry.OTLPEndpoint
	if fc.Telemetry.ServiceName != "" {
		cfg.ServiceName = fc.Telemetry.ServiceName
	}
	return cfg
}

// PrintConfig renders the effective settings as YAML with secrets masked.
func PrintConfig(cfg *Config) string {
	fc := &FileConfig{
		Supabase: FileSupabaseConfig{
			URL:      cfg.URL,
			AnonKey:  maskSecret(cfg.AnonKey),
			Email:    cfg.Email,
			Password: maskSecret(cfg.Password),
		},
		Tools: FileToolsConfig{
			ConfigPath:      cfg.Sources.ConfigPath,
			ConfigJSON:      summarize(cfg.Sources.ConfigJSON),
			ToolsJSON:       summarize(cfg.Sources.ToolsJSON),
			ToolsJSONBase64: summarize(cfg.Sources.ToolsJSONBase64),
		},
		ConfigStore: FileConfigStoreConfig{
			DSN:    util.MaskDSN(cfg.ConfigDSN),
			Driver: cfg.ConfigDriver,
			Table:  cfg.ConfigTable,
			Query:  cfg.ConfigQuery,
		},
		Logging: FileLoggingConfig{
			Verbose:       cfg.Verbose,
			JSONFormat:    cfg.JSONLogging,
			AuditLogPath:  cfg.AuditLogPath,
			TokenTracking: cfg.TokenTracking,
			TokenModel:    cfg.TokenModel,
		},
		HTTP: FileHTTPConfig{
			Port:                  cfg.HTTPPort,
			RequestTimeoutSeconds: int(cfg.HTTPRequestTimeout.Seconds()),
			RateLimit: FileRateLimitConfig{
				Enabled: cfg.RateLimitEnabled,
				RPS:     int(cfg.RateLimitRPS),
				Burst:   cfg.RateLimitBurst,
			},
		},
		Telemetry: FileTelemetryConfig{
			OTLPEndpoint: cfg.OTLPEndpoint,
			ServiceName:  cfg.ServiceName,
		},
	}
	data, _ := yaml.Marshal(fc)
	return string(data)
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// summarize keeps inline documents out of printed settings.
func summarize(s string) string {
	if s == "" {
		return ""
	}
	return fmt.Sprintf("<%d bytes>", len(s))
}

// ApplySSLToDSN adds TLS settings for driver to dsn. ssl is one of "true",
// "skip-verify", "preferred", "false" or empty. A DSN that already carries
// a TLS parameter is returned unchanged.
//
// MySQL DSNs get tls=true|skip-verify|preferred. Postgres DSNs get
// sslmode=verify-full|require|prefer, in URL or key=value form.
func ApplySSLToDSN(driver, dsn, ssl string) string {
	ssl = strings.TrimSpace(strings.ToLower(ssl))
	if dsn == "" || ssl == "" || ssl == "false" || ssl == "0" {
		return dsn
	}

	if driver == "mysql" {
		// only look in the query string; passwords may contain "tls="
		if idx := strings.Index(dsn, "?"); idx != -1 && strings.Contains(dsn[idx:], "tls=") {
			return dsn
		}
		mode := "true"
		switch ssl {
		case "skip-verify", "preferred":
			mode = ssl
		}
		if strings.Contains(dsn, "?") {
			return dsn + "&tls=" + mode
		}
		return dsn + "?tls=" + mode
	}

	mode := "verify-full"
	switch ssl {
	case "skip-verify":
		mode = "require"
	case "preferred":
		mode = "prefer"
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		if idx := strings.Index(dsn, "?"); idx != -1 {
			if strings.Contains(dsn[idx:], "sslmode=") {
				return dsn
			}
			return dsn + "&sslmode=" + mode
		}
		return dsn + "?sslmode=" + mode
	}
	if strings.Contains(dsn, "sslmode=") {
		return dsn
	}
	return dsn + " sslmode=" + mode
}
