package server

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/askdba/supabase-mcp-server/internal/config"
	"github.com/askdba/supabase-mcp-server/internal/errs"
	"github.com/askdba/supabase-mcp-server/internal/executor"
	"github.com/askdba/supabase-mcp-server/internal/value"
)

func (s *Server) registerTool(tc *config.ToolConfig) error {
	if tc.Name == RefreshAuthTool || tc.Name == AuthStatusTool {
		return errs.Invalid("tools", "tool name %q is reserved for the built-in tool", tc.Name)
	}
	if tc.Validator == nil {
		return errs.Invalid("tools", "tool %q has no compiled parameters", tc.Name)
	}
	t := &mcp.Tool{
		Name:        tc.Name,
		Title:       tc.Description,
		Description: tc.Description,
		InputSchema: tc.Validator.Schema(),
	}
	if err := s.add(t, s.toolHandler(tc)); err != nil {
		return err
	}
	s.logger.Debug("server.tool.registered", "tool", tc.Name, "type", string(tc.Type))
	return nil
}

func (s *Server) toolHandler(tc *config.ToolConfig) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args json.RawMessage
		if req != nil && req.Params != nil {
			args = req.Params.Arguments
		}
		return s.invokeTool(ctx, tc, args), nil
	}
}

// invokeTool validates args and runs the tool's action. Failures become an
// error result so the caller sees the message.
func (s *Server) invokeTool(ctx context.Context, tc *config.ToolConfig, args json.RawMessage) *mcp.CallToolResult {
	inv := Invocation{
		Kind:   "tool",
		Name:   tc.Name,
		Action: tc.Type,
		Target: target(tc.Action),
		Start:  s.now(),
	}
	s.logger.Info("server.tool.start", "tool", tc.Name, "user", s.userEmail())

	params, err := tc.Validator.Apply(args)
	var res *executor.Result
	if err == nil {
		inv.Params = params
		res, err = s.exec.Execute(ctx, tc.Action, params)
	}
	s.finish(ctx, &inv, res, err)

	if err != nil {
		s.logger.Warn("server.tool.failed", "tool", tc.Name, "error", err, "duration_ms", inv.Duration.Milliseconds())
		return errorResult(err)
	}
	s.logger.Info("server.tool.success", "tool", tc.Name, "attempts", res.Attempts, "duration_ms", inv.Duration.Milliseconds())
	return textResult(res.Text)
}

func (s *Server) finish(ctx context.Context, inv *Invocation, res *executor.Result, err error) {
	inv.Result = res
	inv.Err = err
	inv.Duration = s.now().Sub(inv.Start)
	s.metrics.ObserveInvocation(inv.Name, err, inv.Duration)
	if s.observe != nil {
		s.observe(ctx, *inv)
	}
}

func (s *Server) userEmail() string {
	if s.auth == nil {
		return ""
	}
	return s.auth.UserContext()["email"]
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// jsonResult renders v indented, the way built-in tools answer.
func jsonResult(v value.Value) *mcp.CallToolResult {
	text, err := v.Indent()
	if err != nil {
		text = v.Text()
	}
	return textResult(text)
}

// errorResult reports err to the caller. Expired-token failures get a line
// pointing at refresh-auth unless the message already carries it.
func errorResult(err error) *mcp.CallToolResult {
	msg := err.Error()
	if errs.IsAuthExpired(err) && !strings.Contains(msg, errs.RefreshAuthHint) {
		msg += "\n\n" + errs.RefreshAuthHint
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}
