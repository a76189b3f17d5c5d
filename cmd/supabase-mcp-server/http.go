// cmd/supabase-mcp-server/http.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/askdba/supabase-mcp-server/internal/api"
	"github.com/askdba/supabase-mcp-server/internal/config"
	"github.com/askdba/supabase-mcp-server/internal/server"
)

// httpAPI serves the REST mirror of the MCP surface.
type httpAPI struct {
	app     *app
	timeout time.Duration
	limiter *api.RateLimiter
	started time.Time
}

func (h *httpAPI) context(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.timeout)
}

func (h *httpAPI) health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if !h.app.auth.IsAuthenticated() {
		status = "unauthenticated"
		code = http.StatusServiceUnavailable
	}
	api.WriteJSON(w, code, map[string]interface{}{
		"status":  status,
		"service": "supabase-mcp-server",
		"version": Version,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *httpAPI) index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api" && r.URL.Path != "/api/" {
		api.WriteNotFound(w, "no such endpoint: "+r.URL.Path)
		return
	}
	data := map[string]interface{}{
		"service": "supabase-mcp-server",
		"version": Version,
		"source":  string(h.app.source),
		"endpoints": map[string]string{
			"GET /health":             "Health check",
			"GET /metrics":            "Prometheus metrics",
			"POST /mcp":               "MCP streamable HTTP transport",
			"GET /api/tools":          "List tools with input schemas",
			"POST /api/tools/{name}":  "Invoke a tool with a JSON argument object",
			"GET /api/resources":      "List resource templates",
			"GET /api/resources?uri=": "Read a resource",
			"GET /api/auth/status":    "Authentication status",
			"POST /api/auth/refresh":  "Refresh authentication ({\"force\": true} re-authenticates)",
		},
	}
	if h.limiter != nil {
		data["rate_limit"] = h.limiter.Stats()
	}
	api.WriteSuccess(w, data)
}

func (h *httpAPI) listTools(w http.ResponseWriter, r *http.Request) {
	api.WriteSuccess(w, map[string]interface{}{"tools": h.app.server.Tools()})
}

// callTool runs name with the request body as arguments. A tool error is
// reported with 422 and the tool's text as data.
func (h *httpAPI) callTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var args json.RawMessage
	if err := api.DecodeJSONBody(w, r, &args); err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()

	res, err := h.app.server.CallTool(ctx, name, args)
	if errors.Is(err, server.ErrUnknownTool) {
		api.WriteNotFound(w, fmt.Sprintf("tool %q not found", name))
		return
	}
	if err != nil {
		api.WriteInternalError(w, err.Error())
		return
	}
	text := resultText(res)
	if res.IsError {
		api.WriteFailure(w, http.StatusUnprocessableEntity, "tool returned an error", text)
		return
	}
	api.WriteSuccess(w, jsonOrText(text))
}

func (h *httpAPI) resources(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		api.WriteSuccess(w, map[string]interface{}{"resourceTemplates": h.app.server.ResourceTemplates()})
		return
	}
	ctx, cancel := h.context(r)
	defer cancel()

	res, err := h.app.server.ReadResource(ctx, uri)
	if errors.Is(err, server.ErrResourceNotFound) {
		api.WriteNotFound(w, fmt.Sprintf("no resource matches %q", uri))
		return
	}
	if err != nil {
		api.WriteError(w, http.StatusBadGateway, err.Error())
		return
	}
	contents := make([]map[string]interface{}, 0, len(res.Contents))
	for _, c := range res.Contents {
		contents = append(contents, map[string]interface{}{
			"uri":      c.URI,
			"mimeType": c.MIMEType,
			"data":     jsonOrText(c.Text),
		})
	}
	api.WriteSuccess(w, map[string]interface{}{"contents": contents})
}

func (h *httpAPI) authStatus(w http.ResponseWriter, r *http.Request) {
	h.builtin(w, r, server.AuthStatusTool, nil)
}

func (h *httpAPI) authRefresh(w http.ResponseWriter, r *http.Request) {
	var args json.RawMessage
	if err := api.DecodeJSONBody(w, r, &args); err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	h.builtin(w, r, server.RefreshAuthTool, args)
}

// builtin answers with the built-in tool's JSON document. A failed refresh
// keeps its {success:false} body under 502.
func (h *httpAPI) builtin(w http.ResponseWriter, r *http.Request, name string, args json.RawMessage) {
	ctx, cancel := h.context(r)
	defer cancel()
	res, err := h.app.server.CallTool(ctx, name, args)
	if err != nil {
		api.WriteInternalError(w, err.Error())
		return
	}
	text := resultText(res)
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		api.WriteFailure(w, http.StatusUnprocessableEntity, "tool returned an error", text)
		return
	}
	if ok, present := doc["success"].(bool); present && !ok {
		api.WriteFailure(w, http.StatusBadGateway, "authentication refresh failed", doc)
		return
	}
	api.WriteSuccess(w, doc)
}

func resultText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// jsonOrText embeds text as JSON when it parses, else as a string.
func jsonOrText(text string) any {
	if json.Valid([]byte(text)) {
		return json.RawMessage(text)
	}
	return text
}

func httpLogger(r *http.Request, status int, duration time.Duration) {
	fields := map[string]interface{}{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
		"client":      api.ClientIP(r),
	}
	if id := api.RequestID(r.Context()); id != "" {
		fields["request_id"] = id
	}
	if status >= http.StatusInternalServerError {
		logWarn("http request", fields)
		return
	}
	logDebug("http request", fields)
}

// newHTTPHandler routes the MCP endpoint, health, metrics and the REST
// mirror. Every route gets request ids, logging, rate limiting and CORS.
func newHTTPHandler(a *app, cfg *config.Config, limiter *api.RateLimiter) http.Handler {
	h := &httpAPI{
		app:     a,
		timeout: cfg.HTTPRequestTimeout,
		limiter: limiter,
		started: time.Now(),
	}
	if h.timeout <= 0 {
		h.timeout = api.DefaultRequestTimeout
	}

	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return a.server.MCP()
	}, nil)

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpHandler)
	mux.HandleFunc("/health", api.RequireGET(h.health))
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/api", api.RequireGET(h.index))
	mux.HandleFunc("/api/", api.RequireGET(h.index))
	mux.HandleFunc("/api/tools", api.RequireGET(h.listTools))
	mux.HandleFunc("/api/tools/{name}", api.RequirePOST(h.callTool))
	mux.HandleFunc("/api/resources", api.RequireGET(h.resources))
	mux.HandleFunc("/api/auth/status", api.RequireGET(h.authStatus))
	mux.HandleFunc("/api/auth/refresh", api.RequirePOST(h.authRefresh))

	handler := api.Chain(mux.ServeHTTP,
		api.WithRequestID,
		api.WithLogging(httpLogger),
		api.WithRateLimit(limiter),
		api.WithCORS,
	)
	return otelhttp.NewHandler(handler, "supabase-mcp-server",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// serveHTTP runs the HTTP transport until ctx is cancelled, then drains
// in-flight requests.
func serveHTTP(ctx context.Context, cfg *config.Config, a *app) error {
	var limiter *api.RateLimiter
	if cfg.RateLimitEnabled {
		limiter = api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer limiter.Stop()
		logInfo("rate limiting enabled", map[string]interface{}{
			"rps":   cfg.RateLimitRPS,
			"burst": cfg.RateLimitBurst,
		})
	}

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           newHTTPHandler(a, cfg, limiter),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logInfo("HTTP server starting", map[string]interface{}{
			"port":    cfg.HTTPPort,
			"mcp":     "http://localhost" + addr + "/mcp",
			"api":     "http://localhost" + addr + "/api",
			"version": Version,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logInfo("shutdown signal received, stopping server", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logInfo("server stopped gracefully", nil)
	return nil
}
