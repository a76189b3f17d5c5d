// cmd/supabase-mcp-server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/askdba/supabase-mcp-server/internal/auth"
	"github.com/askdba/supabase-mcp-server/internal/config"
	"github.com/askdba/supabase-mcp-server/internal/configstore"
	"github.com/askdba/supabase-mcp-server/internal/executor"
	"github.com/askdba/supabase-mcp-server/internal/metrics"
	"github.com/askdba/supabase-mcp-server/internal/server"
	"github.com/askdba/supabase-mcp-server/internal/supabase"
)

// Build information, set with -ldflags.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	os.Exit(submain(context.Background()))
}

func submain(ctx context.Context) int {
	cmd := newRootCommand()
	ctx = withSignalCancel(ctx)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}

// flagEnv lists every flag with the environment variables bound to it.
// The first variable wins when several are set.
var flagEnv = []struct {
	key  string
	envs []string
}{
	{"url", []string{"SUPABASE_MCP_URL", "SUPABASE_URL"}},
	{"anon-key", []string{"SUPABASE_MCP_ANON_KEY", "SUPABASE_ANON_KEY"}},
	{"email", []string{"SUPABASE_MCP_EMAIL"}},
	{"password", []string{"SUPABASE_MCP_PASSWORD"}},
	{"config-path", []string{"SUPABASE_MCP_CONFIG_PATH"}},
	{"config-json", []string{"SUPABASE_MCP_CONFIG_JSON"}},
	{"tools-json", []string{"SUPABASE_MCP_TOOLS_JSON"}},
	{"tools-json-base64", []string{"SUPABASE_MCP_TOOLS_JSON_BASE64"}},
	{"config-dsn", []string{"SUPABASE_MCP_CONFIG_DSN"}},
	{"config-driver", []string{"SUPABASE_MCP_CONFIG_DRIVER"}},
	{"config-table", []string{"SUPABASE_MCP_CONFIG_TABLE"}},
	{"config-query", []string{"SUPABASE_MCP_CONFIG_QUERY"}},
	{"port", []string{"SUPABASE_MCP_PORT"}},
	{"verbose", []string{"SUPABASE_MCP_VERBOSE"}},
	{"json-logs", []string{"SUPABASE_MCP_JSON_LOGS"}},
	{"audit-log", []string{"SUPABASE_MCP_AUDIT_LOG"}},
	{"token-tracking", []string{"SUPABASE_MCP_TOKEN_TRACKING"}},
	{"token-model", []string{"SUPABASE_MCP_TOKEN_MODEL"}},
	{"request-timeout", []string{"SUPABASE_MCP_REQUEST_TIMEOUT"}},
	{"rate-limit", []string{"SUPABASE_MCP_RATE_LIMIT"}},
	{"rate-limit-rps", []string{"SUPABASE_MCP_RATE_LIMIT_RPS"}},
	{"rate-limit-burst", []string{"SUPABASE_MCP_RATE_LIMIT_BURST"}},
	{"otlp-endpoint", []string{"SUPABASE_MCP_OTLP_ENDPOINT"}},
	{"settings", []string{config.SettingsEnv}},
}

func mustBindFlag(v *viper.Viper, key string, flag *pflag.Flag, envs ...string) {
	if flag == nil {
		panic(fmt.Sprintf("flag %q not found", key))
	}
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
	if len(envs) > 0 {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			panic(err)
		}
	}
}

func newRootCommand() *cobra.Command {
	var (
		v              *viper.Viper
		printConfig    bool
		validateConfig bool
		showVersion    bool
	)

	cmd := &cobra.Command{
		Use:   "supabase-mcp-server",
		Short: "MCP server exposing Supabase tables, RPCs and edge functions as configured tools",
		Long: `supabase-mcp-server signs in to a Supabase project as a fixed user and serves the
tools and resources declared in a JSON or YAML configuration over the Model Context Protocol.`,
		Example: `
  # tools from a local file, served over stdio
  SUPABASE_URL=https://xyz.supabase.co SUPABASE_ANON_KEY=... \
  SUPABASE_MCP_EMAIL=bot@example.com SUPABASE_MCP_PASSWORD=... \
  supabase-mcp-server --config-path tools.json

  # active row of tool_configurations, streamable HTTP on :8080
  supabase-mcp-server --port 8080 --rate-limit

  # check a configuration without serving it
  supabase-mcp-server --config-path tools.yaml --validate-config
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if showVersion {
				fmt.Fprintf(out, "supabase-mcp-server %s (commit %s, built %s)\n", Version, Commit, BuildDate)
				return nil
			}
			cfg, settingsPath, err := resolveConfig(v)
			if err != nil {
				return err
			}
			if printConfig {
				fmt.Fprint(out, config.PrintConfig(cfg))
				return nil
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config error: %w", err)
			}

			ctx := cmd.Context()
			setupLogging(ctx, cmd.ErrOrStderr(), cfg.JSONLogging, cfg.Verbose)
			if settingsPath != "" {
				logDebug("settings file loaded", map[string]interface{}{"path": settingsPath})
			}
			if validateConfig {
				return runValidate(ctx, cfg, out)
			}
			return run(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	registerFlags(flags)
	flags.BoolVar(&printConfig, "print-config", false, "print the effective settings with secrets masked and exit")
	flags.BoolVar(&validateConfig, "validate-config", false, "load and validate the tool configuration and exit")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	v = bindFlags(flags)
	return cmd
}

// registerFlags declares the settings flags. Action flags such as
// --version live on the command.
func registerFlags(flags *pflag.FlagSet) {
	flags.String("url", "", "Supabase project URL")
	flags.String("anon-key", "", "Supabase anonymous key")
	flags.String("email", "", "email of the user the server signs in as")
	flags.String("password", "", "password of the user the server signs in as")
	flags.String("config-path", "", "tool configuration file (JSON or YAML)")
	flags.String("config-json", "", "inline tool configuration document")
	flags.String("tools-json", "", "inline JSON array of tools")
	flags.String("tools-json-base64", "", "base64-encoded JSON array of tools")
	flags.String("config-dsn", "", "read the active configuration over SQL instead of PostgREST")
	flags.String("config-driver", config.DefaultConfigDriver, "SQL driver for --config-dsn (pgx or mysql)")
	flags.String("config-table", config.DefaultConfigTable, "table holding configuration rows")
	flags.String("config-query", "", "read-only SELECT returning the configuration document")
	flags.Int("port", 0, "serve streamable HTTP on this port (0 serves stdio)")
	flags.Bool("verbose", false, "enable debug logging")
	flags.Bool("json-logs", false, "log JSON lines instead of console output")
	flags.String("audit-log", "", "append one JSON line per invocation to this file")
	flags.Bool("token-tracking", false, "estimate tokens of every invocation")
	flags.String("token-model", config.DefaultTokenModel, "tiktoken encoding for token tracking")
	flags.Duration("request-timeout", time.Duration(config.DefaultHTTPRequestTimeoutS)*time.Second, "timeout of one REST request in HTTP mode")
	flags.Bool("rate-limit", false, "enable per-IP rate limiting in HTTP mode")
	flags.Float64("rate-limit-rps", config.DefaultRateLimitRPS, "requests per second per client IP")
	flags.Int("rate-limit-burst", config.DefaultRateLimitBurst, "burst size per client IP")
	flags.String("otlp-endpoint", "", "OTLP/HTTP collector endpoint (host:port or http(s) URL)")
	flags.String("settings", "", "settings file (YAML or JSON)")
}

// bindFlags binds every settings flag and its environment variables to a
// fresh viper instance.
func bindFlags(flags *pflag.FlagSet) *viper.Viper {
	v := viper.New()
	for _, fe := range flagEnv {
		mustBindFlag(v, fe.key, flags.Lookup(fe.key), fe.envs...)
	}
	return v
}

// resolveConfig merges defaults, the settings file and viper (env and
// flags), in that order of increasing precedence.
func resolveConfig(v *viper.Viper) (*config.Config, string, error) {
	cfg := config.Default()
	path := config.FindConfigFile(strings.TrimSpace(v.GetString("settings")))
	if path != "" {
		fc, err := config.LoadConfigFile(path)
		if err != nil {
			return nil, "", err
		}
		cfg = fc.ToConfig()
	}

	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = strings.TrimSpace(v.GetString(key))
		}
	}
	setString("url", &cfg.URL)
	setString("anon-key", &cfg.AnonKey)
	setString("email", &cfg.Email)
	if v.IsSet("password") {
		cfg.Password = v.GetString("password")
	}
	setString("config-path", &cfg.Sources.ConfigPath)
	if v.IsSet("config-json") {
		cfg.Sources.ConfigJSON = v.GetString("config-json")
	}
	if v.IsSet("tools-json") {
		cfg.Sources.ToolsJSON = v.GetString("tools-json")
	}
	setString("tools-json-base64", &cfg.Sources.ToolsJSONBase64)
	setString("config-dsn", &cfg.ConfigDSN)
	if v.IsSet("config-driver") {
		cfg.ConfigDriver = strings.ToLower(strings.TrimSpace(v.GetString("config-driver")))
	}
	setString("config-table", &cfg.ConfigTable)
	setString("config-query", &cfg.ConfigQuery)
	if v.IsSet("port") {
		cfg.HTTPPort = v.GetInt("port")
	}
	if v.IsSet("verbose") {
		cfg.Verbose = v.GetBool("verbose")
	}
	if v.IsSet("json-logs") {
		cfg.JSONLogging = v.GetBool("json-logs")
	}
	setString("audit-log", &cfg.AuditLogPath)
	if v.IsSet("token-tracking") {
		cfg.TokenTracking = v.GetBool("token-tracking")
	}
	setString("token-model", &cfg.TokenModel)
	if v.IsSet("request-timeout") {
		cfg.HTTPRequestTimeout = v.GetDuration("request-timeout")
	}
	if v.IsSet("rate-limit") {
		cfg.RateLimitEnabled = v.GetBool("rate-limit")
	}
	if v.IsSet("rate-limit-rps") {
		cfg.RateLimitRPS = v.GetFloat64("rate-limit-rps")
	}
	if v.IsSet("rate-limit-burst") {
		cfg.RateLimitBurst = v.GetInt("rate-limit-burst")
	}
	setString("otlp-endpoint", &cfg.OTLPEndpoint)
	return cfg, path, nil
}

// app is the wired server with everything it must release on exit.
type app struct {
	auth    *auth.Manager
	exec    *executor.Executor
	server  *server.Server
	metrics *metrics.Metrics
	source  config.Source
	closers []io.Closer
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}

// signIn builds the anonymous client and signs the configured user in.
func signIn(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*auth.Manager, *supabase.Client, error) {
	base, err := supabase.New(cfg.URL, cfg.AnonKey)
	if err != nil {
		return nil, nil, err
	}
	am := auth.NewManager(base, auth.Credentials{Email: cfg.Email, Password: cfg.Password}, auth.Options{
		Logger:  logger.With("component", "auth"),
		Metrics: m,
	})
	client, err := am.Authenticate(ctx)
	if err != nil {
		return nil, nil, err
	}
	logInfo("authenticated", map[string]interface{}{
		"user_id":    am.UserID(),
		"expires_at": am.ExpiresAt().UTC().Format(time.RFC3339),
	})
	return am, client, nil
}

// loadDocument reads the tool configuration. The database store is only
// built when no explicit source is given.
func loadDocument(ctx context.Context, cfg *config.Config, client *supabase.Client) (*config.Document, config.Source, io.Closer, error) {
	src, err := cfg.Sources.Select()
	if err != nil {
		return nil, "", nil, err
	}
	var (
		store  config.Store
		closer io.Closer
	)
	if src == config.SourceDatabase {
		if cfg.ConfigDSN != "" {
			sqlStore, err := configstore.Open(ctx, configstore.SQLConfig{
				Driver: cfg.ConfigDriver,
				DSN:    cfg.ConfigDSN,
				Table:  cfg.ConfigTable,
				Query:  cfg.ConfigQuery,
				Logger: logger.With("component", "configstore"),
			})
			if err != nil {
				return nil, src, nil, err
			}
			store, closer = sqlStore, sqlStore
		} else {
			store = configstore.NewREST(client, cfg.ConfigTable, logger.With("component", "configstore"))
		}
	}
	logDebug("loading tool configuration", map[string]interface{}{"source": string(src)})
	doc, src, err := config.Load(ctx, cfg.Sources, store)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, src, nil, err
	}
	return doc, src, closer, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	m := metrics.New()
	am, client, err := signIn(ctx, cfg, m)
	if err != nil {
		return nil, err
	}
	a := &app{auth: am, metrics: m}

	doc, src, closer, err := loadDocument(ctx, cfg, client)
	if err != nil {
		_ = am.SignOut(ctx)
		return nil, err
	}
	a.source = src
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	a.exec = executor.New(client, executor.Options{
		Auth:    am,
		Logger:  logger.With("component", "executor"),
		Metrics: m,
	})
	a.server, err = server.New(doc, a.exec, am, server.Options{
		Version: Version,
		Logger:  logger.With("component", "server"),
		Metrics: m,
		Observe: observeInvocation,
	})
	if err != nil {
		a.close()
		_ = am.SignOut(ctx)
		return nil, err
	}
	logInfo("tool configuration loaded", map[string]interface{}{
		"source":    string(src),
		"tools":     len(doc.Tools),
		"resources": len(doc.Resources),
	})
	return a, nil
}

// runValidate loads the configuration and reports what it declares. Only
// the database source needs a session.
func runValidate(ctx context.Context, cfg *config.Config, out io.Writer) error {
	src, err := cfg.Sources.Select()
	if err != nil {
		return err
	}
	var client *supabase.Client
	if src == config.SourceDatabase {
		am, c, err := signIn(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer func() { _ = am.SignOut(context.WithoutCancel(ctx)) }()
		client = c
	}
	doc, src, closer, err := loadDocument(ctx, cfg, client)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}
	fmt.Fprintf(out, "Configuration OK (%s): %d tools, %d resources\n", src, len(doc.Tools), len(doc.Resources))
	for _, t := range doc.Tools {
		fmt.Fprintf(out, "  tool     %s\n", t.Name)
	}
	for _, r := range doc.Resources {
		fmt.Fprintf(out, "  resource %s (%s)\n", r.Name, r.URITemplate)
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	audit, err := NewAuditLogger(cfg.AuditLogPath)
	if err != nil {
		return err
	}
	auditLogger = audit
	defer func() {
		if err := audit.Close(); err != nil {
			logWarn("audit log close failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	tokenTracking = cfg.TokenTracking
	tokenModel = cfg.TokenModel
	if tokenTracking {
		est, err := NewTokenEstimator(tokenModel)
		if err != nil {
			logWarn("token tracking disabled", map[string]interface{}{"error": err.Error()})
			tokenTracking = false
		} else {
			tokenEstimator = est
		}
	}

	shutdownTracing, err := setupTelemetry(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logWarn("trace flush failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	defer func() {
		signOutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.auth.SignOut(signOutCtx); err != nil {
			logWarn("sign out failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	if cfg.HTTPMode() {
		return serveHTTP(ctx, cfg, a)
	}
	logInfo("serving MCP over stdio", map[string]interface{}{"version": Version})
	err = a.server.MCP().Run(ctx, &mcp.StdioTransport{})
	if err != nil && ctx.Err() != nil {
		logInfo("shutdown signal received", nil)
		return nil
	}
	return err
}
