// internal/config/file_test.go
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestLoadConfigFileYAML(t *testing.T) {
	path := writeFile(t, "settings.yaml", `
supabase:
  url: "https://abc.supabase.co"
  anon_key: "anon"
  email: "svc@example.com"
  password: "secret"

tools:
  config_path: "./tools.yaml"

config_store:
  driver: mysql
  dsn: "user:pass@tcp(localhost:3306)/cfg"
  table: mcp_configs
  ssl: skip-verify

logging:
  verbose: true
  json_format: true
  audit_log_path: "/var/log/audit.log"
  token_tracking: true
  token_model: "o200k_base"

http:
  port: 8080
  request_timeout_seconds: 120
  rate_limit:
    enabled: true
    rps: 50
    burst: 100

telemetry:
  otlp_endpoint: "localhost:4318"
  service_name: "tools-edge"
`)

	fc, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}
	cfg := fc.ToConfig()

	if cfg.URL != "https://abc.supabase.co" || cfg.AnonKey != "anon" {
		t.Errorf("unexpected project settings: %q %q", cfg.URL, cfg.AnonKey)
	}
	if cfg.Email != "svc@example.com" || cfg.Password != "secret" {
		t.Errorf("unexpected credentials: %q", cfg.Email)
	}
	if cfg.Sources.ConfigPath != "./tools.yaml" {
		t.Errorf("unexpected config path: %q", cfg.Sources.ConfigPath)
	}
	if cfg.ConfigDriver != "mysql" || cfg.ConfigTable != "mcp_configs" {
		t.Errorf("unexpected config store: %q %q", cfg.ConfigDriver, cfg.ConfigTable)
	}
	if cfg.ConfigDSN != "user:pass@tcp(localhost:3306)/cfg?tls=skip-verify" {
		t.Errorf("unexpected DSN: %s", cfg.ConfigDSN)
	}
	if !cfg.Verbose || !cfg.JSONLogging || !cfg.TokenTracking {
		t.Error("expected logging switches to be on")
	}
	if cfg.AuditLogPath != "/var/log/audit.log" || cfg.TokenModel != "o200k_base" {
		t.Errorf("unexpected logging paths: %q %q", cfg.AuditLogPath, cfg.TokenModel)
	}
	if cfg.HTTPPort != 8080 || !cfg.HTTPMode() {
		t.Errorf("expected HTTP mode on 8080, got %d", cfg.HTTPPort)
	}
	if cfg.HTTPRequestTimeout != 120*time.Second {
		t.Errorf("unexpected request timeout: %v", cfg.HTTPRequestTimeout)
	}
	if !cfg.RateLimitEnabled || cfg.RateLimitRPS != 50 || cfg.RateLimitBurst != 100 {
		t.Errorf("unexpected rate limit: %v %v %d", cfg.RateLimitEnabled, cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.OTLPEndpoint != "localhost:4318" || cfg.ServiceName != "tools-edge" {
		t.Errorf("unexpected telemetry: %q %q", cfg.OTLPEndpoint, cfg.ServiceName)
	}
}

func TestLoadConfigFileJSON(t *testing.T) {
	path := writeFile(t, "settings.json", `{
  "supabase": {"url": "https://abc.supabase.co", "anon_key": "anon"},
  "http": {"port": 9090}
}`)
	fc, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}
	if fc.Supabase.URL != "https://abc.supabase.co" || fc.HTTP.Port != 9090 {
		t.Errorf("unexpected settings: %+v", fc)
	}
}

func TestLoadConfigFileUnknownExtension(t *testing.T) {
	// no extension: YAML is tried first, JSON is valid YAML too
	path := writeFile(t, "settings", `{"supabase": {"email": "a@b.c"}}`)
	fc, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}
	if fc.Supabase.Email != "a@b.c" {
		t.Errorf("unexpected email: %q", fc.Supabase.Email)
	}
}

func TestLoadConfigFileErrors(t *testing.T) {
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	bad := writeFile(t, "bad.json", `{"supabase": `)
	if _, err := LoadConfigFile(bad); err == nil || !strings.Contains(err.Error(), "JSON") {
		t.Fatalf("expected JSON parse error, got %v", err)
	}
	badYAML := writeFile(t, "bad.yaml", "supabase: [unclosed")
	if _, err := LoadConfigFile(badYAML); err == nil || !strings.Contains(err.Error(), "YAML") {
		t.Fatalf("expected YAML parse error, got %v", err)
	}
}

func TestToConfigDefaults(t *testing.T) {
	cfg := (&FileConfig{}).ToConfig()
	if cfg.HTTPPort != 0 || cfg.HTTPMode() {
		t.Errorf("expected stdio by default, got port %d", cfg.HTTPPort)
	}
	if cfg.ConfigDriver != DefaultConfigDriver || cfg.ConfigTable != DefaultConfigTable {
		t.Errorf("unexpected store defaults: %q %q", cfg.ConfigDriver, cfg.ConfigTable)
	}
	if cfg.HTTPRequestTimeout != DefaultHTTPRequestTimeoutS*time.Second {
		t.Errorf("unexpected timeout: %v", cfg.HTTPRequestTimeout)
	}
	if cfg.RateLimitRPS != DefaultRateLimitRPS || cfg.RateLimitBurst != DefaultRateLimitBurst {
		t.Errorf("unexpected rate limit defaults: %v %d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.TokenModel != DefaultTokenModel || cfg.ServiceName != DefaultServiceName {
		t.Errorf("unexpected defaults: %q %q", cfg.TokenModel, cfg.ServiceName)
	}
}

func TestFindConfigFile(t *testing.T) {
	if got := FindConfigFile("/explicit.yaml"); got != "/explicit.yaml" {
		t.Errorf("explicit path should win, got %q", got)
	}

	t.Setenv(SettingsEnv, "/from/env.yaml")
	if got := FindConfigFile(""); got != "/from/env.yaml" {
		t.Errorf("env path should be used, got %q", got)
	}

	t.Setenv(SettingsEnv, "")
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, "supabase-mcp-server.yml"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := FindConfigFile(""); got != "supabase-mcp-server.yml" {
		t.Errorf("expected working directory file, got %q", got)
	}
}

func TestPrintConfigMasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.URL = "https://abc.supabase.co"
	cfg.AnonKey = "anon-key-value"
	cfg.Password = "hunter2"
	cfg.ConfigDSN = "postgres://admin:topsecret@db:5432/app"
	cfg.Sources.ToolsJSON = `[{"name":"x"}]`

	out := PrintConfig(cfg)
	for _, leaked := range []string{"anon-key-value", "hunter2", "topsecret", `"name"`} {
		if strings.Contains(out, leaked) {
			t.Errorf("printed settings leak %q:\n%s", leaked, out)
		}
	}
	for _, want := range []string{"https://abc.supabase.co", "***", "14 bytes"} {
		if !strings.Contains(out, want) {
			t.Errorf("printed settings missing %q:\n%s", want, out)
		}
	}
}

func TestApplySSLToDSN(t *testing.T) {
	tests := []struct {
		driver, dsn, ssl, want string
	}{
		{"mysql", "u:p@tcp(h:3306)/db", "", "u:p@tcp(h:3306)/db"},
		{"mysql", "u:p@tcp(h:3306)/db", "false", "u:p@tcp(h:3306)/db"},
		{"mysql", "u:p@tcp(h:3306)/db", "true", "u:p@tcp(h:3306)/db?tls=true"},
		{"mysql", "u:p@tcp(h:3306)/db?parseTime=true", "preferred", "u:p@tcp(h:3306)/db?parseTime=true&tls=preferred"},
		{"mysql", "u:p@tcp(h:3306)/db?tls=custom", "true", "u:p@tcp(h:3306)/db?tls=custom"},
		{"mysql", "u:tls=x@tcp(h:3306)/db", "true", "u:tls=x@tcp(h:3306)/db?tls=true"},
		{"pgx", "postgres://u:p@h/db", "true", "postgres://u:p@h/db?sslmode=verify-full"},
		{"pgx", "postgres://u:p@h/db?application_name=x", "skip-verify", "postgres://u:p@h/db?application_name=x&sslmode=require"},
		{"pgx", "postgres://u:p@h/db?sslmode=disable", "true", "postgres://u:p@h/db?sslmode=disable"},
		{"pgx", "host=h user=u dbname=db", "preferred", "host=h user=u dbname=db sslmode=prefer"},
		{"pgx", "", "true", ""},
	}
	for _, tt := range tests {
		if got := ApplySSLToDSN(tt.driver, tt.dsn, tt.ssl); got != tt.want {
			t.Errorf("ApplySSLToDSN(%q, %q, %q) = %q, want %q", tt.driver, tt.dsn, tt.ssl, got, tt.want)
		}
	}
}
