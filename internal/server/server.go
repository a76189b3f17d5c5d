// Package server registers the configured tools and resources, plus the
// built-in auth tools, on an MCP server.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/yosida95/uritemplate/v3"
	"pkt.systems/pslog"

	"github.com/askdba/supabase-mcp-server/internal/action"
	"github.com/askdba/supabase-mcp-server/internal/config"
	"github.com/askdba/supabase-mcp-server/internal/executor"
	"github.com/askdba/supabase-mcp-server/internal/metrics"
	"github.com/askdba/supabase-mcp-server/internal/supabase"
	"github.com/askdba/supabase-mcp-server/internal/value"
)

// Built-in tool names. Configured tools may not reuse them.
const (
	RefreshAuthTool = "refresh-auth"
	AuthStatusTool  = "auth-status"
)

// DefaultName is the implementation name announced to clients.
const DefaultName = "supabase-mcp-server"

var (
	// ErrUnknownTool is returned by CallTool for a name nothing registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrResourceNotFound is returned by ReadResource when no template
	// matches the URI.
	ErrResourceNotFound = errors.New("resource not found")
)

// Authenticator is the session the built-in tools report on and renew.
// *auth.Manager implements it.
type Authenticator interface {
	RefreshAuthentication(ctx context.Context) *supabase.Client
	ForceReAuthenticate(ctx context.Context) (*supabase.Client, error)
	IsAuthenticated() bool
	UserContext() map[string]string
}

// Invocation describes one finished tool or resource call.
type Invocation struct {
	// Kind is "tool" or "resource".
	Kind   string
	Name   string
	URI    string
	Action action.Type
	Target string
	Params value.Value
	Result *executor.Result
	Err    error
	Start  time.Time
	// Duration includes argument validation and any auth retry.
	Duration time.Duration
}

// Options configures a Server.
type Options struct {
	Name    string
	Version string
	Logger  pslog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
	// Observe, when set, is called after every configured tool or resource
	// invocation.
	Observe func(ctx context.Context, inv Invocation)
}

// Server holds the registered tools and resources. Its MCP server can be
// served over any transport; CallTool and ReadResource reach the same
// handlers without a session.
type Server struct {
	mcp     *mcp.Server
	doc     *config.Document
	exec    *executor.Executor
	auth    Authenticator
	logger  pslog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	observe func(context.Context, Invocation)

	tools     []*mcp.Tool
	handlers  map[string]mcp.ToolHandler
	resources []*resource
}

type resource struct {
	cfg  *config.ResourceConfig
	tmpl *uritemplate.Template
}

// New builds the MCP server for doc. Tools run through exec; the built-in
// auth tools use am and swap the refreshed client into exec.
func New(doc *config.Document, exec *executor.Executor, am Authenticator, opts Options) (*Server, error) {
	if doc == nil {
		doc = &config.Document{}
	}
	if exec == nil {
		return nil, fmt.Errorf("executor is nil")
	}
	if opts.Logger == nil {
		opts.Logger = pslog.NoopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    opts.Name,
			Title:   "Supabase MCP Server",
			Version: opts.Version,
		}, nil),
		doc:      doc,
		exec:     exec,
		auth:     am,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
		observe:  opts.Observe,
		handlers: make(map[string]mcp.ToolHandler),
	}

	if err := s.registerBuiltins(); err != nil {
		return nil, err
	}
	for i := range doc.Tools {
		if err := s.registerTool(&doc.Tools[i]); err != nil {
			return nil, err
		}
	}
	for i := range doc.Resources {
		if err := s.registerResource(&doc.Resources[i]); err != nil {
			return nil, err
		}
	}
	s.metrics.SetRegistered(len(doc.Tools), len(doc.Resources))
	s.logger.Info("server.registered",
		"tools", len(doc.Tools),
		"resources", len(doc.Resources),
		"builtins", []string{RefreshAuthTool, AuthStatusTool},
	)
	return s, nil
}

// MCP returns the protocol server.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// Document returns the configuration the server was built from.
func (s *Server) Document() *config.Document { return s.doc }

// Tools lists every registered tool, built-ins first, in registration order.
func (s *Server) Tools() []*mcp.Tool {
	out := make([]*mcp.Tool, len(s.tools))
	copy(out, s.tools)
	return out
}

// ResourceTemplates lists the registered resource templates.
func (s *Server) ResourceTemplates() []*mcp.ResourceTemplate {
	out := make([]*mcp.ResourceTemplate, 0, len(s.resources))
	for _, r := range s.resources {
		out = append(out, resourceTemplate(r.cfg))
	}
	return out
}

// CallTool invokes a registered tool outside an MCP session. Tool failures
// are reported in the result, as over MCP; the error is only set for an
// unknown name.
func (s *Server) CallTool(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
	h, ok := s.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return h(ctx, &mcp.CallToolRequest{
		Params: &mcp.CallToolParamsRaw{Name: name, Arguments: args},
	})
}

// ReadResource reads the first registered resource whose template matches
// uri. Over MCP the SDK performs the same lookup before the handler runs.
func (s *Server) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	for _, r := range s.resources {
		if r.tmpl.Regexp().MatchString(uri) {
			return s.readResource(ctx, r, uri)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, uri)
}

func (s *Server) add(t *mcp.Tool, h mcp.ToolHandler) error {
	if _, dup := s.handlers[t.Name]; dup {
		return fmt.Errorf("tool %q is already registered", t.Name)
	}
	s.mcp.AddTool(t, h)
	s.tools = append(s.tools, t)
	s.handlers[t.Name] = h
	return nil
}

// target is the table or function an unresolved action names.
func target(tree value.Value) string {
	for _, key := range []string{"table", "function"} {
		if s, ok := tree.Get(key).Str(); ok {
			return s
		}
	}
	return ""
}
