package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/askdba/supabase-mcp-server/internal/config"
)

func execRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestVersionFlag(t *testing.T) {
	out, err := execRoot(t, "--version")
	if err != nil {
		t.Fatalf("--version: %v", err)
	}
	if !strings.HasPrefix(out, "supabase-mcp-server "+Version) {
		t.Fatalf("version output = %q", out)
	}
}

func TestMissingRequiredSettings(t *testing.T) {
	t.Setenv("SUPABASE_URL", "")
	t.Setenv("SUPABASE_ANON_KEY", "")
	_, err := execRoot(t, "--url", "https://xyz.supabase.co", "--tools-json", "[]")
	if err == nil {
		t.Fatal("expected an error without credentials")
	}
	for _, want := range []string{"--anon-key", "--email", "--password"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not name %s", err, want)
		}
	}
}

func TestConflictingSources(t *testing.T) {
	_, err := execRoot(t,
		"--url", "https://xyz.supabase.co", "--anon-key", "anon",
		"--email", "svc@example.com", "--password", "secret",
		"--config-path", "tools.json", "--tools-json", "[]",
	)
	if err == nil || !strings.Contains(err.Error(), "Cannot specify both --config-path and --tools-json") {
		t.Fatalf("err = %v", err)
	}
}

func TestPrintConfigMasksSecrets(t *testing.T) {
	out, err := execRoot(t,
		"--url", "https://xyz.supabase.co", "--anon-key", "anon-key-value",
		"--email", "svc@example.com", "--password", "hunter2",
		"--print-config",
	)
	if err != nil {
		t.Fatalf("--print-config: %v", err)
	}
	if strings.Contains(out, "hunter2") || strings.Contains(out, "anon-key-value") {
		t.Fatalf("secrets leaked:\n%s", out)
	}
	if !strings.Contains(out, "https://xyz.supabase.co") || !strings.Contains(out, "***") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestResolveConfigPrecedence(t *testing.T) {
	settings := writeFile(t, "settings.yaml", `
supabase:
  url: https://file.supabase.co
  anon_key: file-anon
  email: file@example.com
  password: file-secret
http:
  port: 9000
  rate_limit:
    enabled: true
    rps: 5
logging:
  token_model: o200k_base
`)
	t.Setenv("SUPABASE_URL", "https://env.supabase.co")
	t.Setenv("SUPABASE_MCP_EMAIL", "env@example.com")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	registerFlags(flags)
	v := bindFlags(flags)
	if err := flags.Parse([]string{
		"--settings", settings,
		"--email", "flag@example.com",
		"--port", "8080",
		"--request-timeout", "15s",
	}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, path, err := resolveConfig(v)
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if path != settings {
		t.Fatalf("settings path = %q", path)
	}
	tests := []struct {
		name string
		got  any
		want any
	}{
		{"url from env over file", cfg.URL, "https://env.supabase.co"},
		{"anon key from file", cfg.AnonKey, "file-anon"},
		{"email from flag over env", cfg.Email, "flag@example.com"},
		{"password from file", cfg.Password, "file-secret"},
		{"port from flag over file", cfg.HTTPPort, 8080},
		{"rate limit from file", cfg.RateLimitEnabled, true},
		{"rps from file", cfg.RateLimitRPS, float64(5)},
		{"burst default", cfg.RateLimitBurst, config.DefaultRateLimitBurst},
		{"timeout from flag", cfg.HTTPRequestTimeout, 15 * time.Second},
		{"token model from file", cfg.TokenModel, "o200k_base"},
	}
	for _, tc := range tests {
		if tc.got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, tc.got, tc.want)
		}
	}
}

func TestValidateConfigCommand(t *testing.T) {
	path := writeFile(t, "tools.json", testConfig)
	out, err := execRoot(t,
		"--url", "https://xyz.supabase.co", "--anon-key", "anon",
		"--email", "svc@example.com", "--password", "secret",
		"--config-path", path, "--validate-config",
	)
	if err != nil {
		t.Fatalf("--validate-config: %v", err)
	}
	if !strings.Contains(out, "Configuration OK (file): 1 tools, 1 resources") {
		t.Fatalf("output = %q", out)
	}
	if !strings.Contains(out, "resource user-profile (users://{user_id}/profile)") {
		t.Fatalf("output = %q", out)
	}
}

func TestValidateConfigRejectsBadDocument(t *testing.T) {
	path := writeFile(t, "tools.json", `{"tools":[{"name":"x","description":"d","action":{"type":"select"}}]}`)
	_, err := execRoot(t,
		"--url", "https://xyz.supabase.co", "--anon-key", "anon",
		"--email", "svc@example.com", "--password", "secret",
		"--config-path", path, "--validate-config",
	)
	if err == nil || !strings.Contains(err.Error(), "Configuration loading failed") {
		t.Fatalf("err = %v", err)
	}
}

func TestValidateConfigFromDatabase(t *testing.T) {
	backend := newFakeBackend(t)
	backend.mu.Lock()
	backend.body = `[{"config_json":` + testConfig + `}]`
	backend.mu.Unlock()
	out, err := execRoot(t,
		"--url", backend.srv.URL, "--anon-key", "anon",
		"--email", "svc@example.com", "--password", "secret",
		"--validate-config",
	)
	if err != nil {
		t.Fatalf("--validate-config: %v", err)
	}
	if !strings.Contains(out, "Configuration OK (database): 1 tools, 1 resources") {
		t.Fatalf("output = %q", out)
	}
	q := backend.lastRead(t)
	if q.Get("is_active") != "eq.true" || q.Get("order") != "created_at.desc" {
		t.Fatalf("lookup query = %v", q)
	}
}

func TestNewAppSignsInAndLoads(t *testing.T) {
	a, _, backend := newTestApp(t)
	if !a.auth.IsAuthenticated() {
		t.Fatal("app is not authenticated")
	}
	if a.source != config.SourceConfigJSON {
		t.Fatalf("source = %q", a.source)
	}
	if got := len(a.server.Tools()); got != 3 {
		t.Fatalf("registered tools = %d, want 3", got)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.grants) != 1 || backend.grants[0] != "password" {
		t.Fatalf("grants = %v", backend.grants)
	}
}
