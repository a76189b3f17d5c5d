package server

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/askdba/supabase-mcp-server/internal/params"
	"github.com/askdba/supabase-mcp-server/internal/supabase"
	"github.com/askdba/supabase-mcp-server/internal/value"
)

// isoMillis matches the timestamps clients already parse.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

var refreshAuthParams = params.Declaration{
	Type: "object",
	Properties: map[string]params.Property{
		"force": {
			Type:        "boolean",
			Description: "Force complete re-authentication instead of token refresh",
			Default:     json.RawMessage("false"),
			Optional:    true,
		},
	},
}

func (s *Server) registerBuiltins() error {
	refresh, err := params.Compile(refreshAuthParams)
	if err != nil {
		return err
	}
	status, err := params.Compile(params.Declaration{Type: "object"})
	if err != nil {
		return err
	}

	if err := s.add(&mcp.Tool{
		Name:        RefreshAuthTool,
		Title:       "Refresh Authentication",
		Description: "Manually refresh authentication when JWT expires. Use this when you get JWT expired errors.",
		InputSchema: refresh.Schema(),
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := refresh.Apply(rawArguments(req))
		if err != nil {
			return errorResult(err), nil
		}
		force, _ := args.Get("force").Bool()
		return s.refreshAuth(ctx, force), nil
	}); err != nil {
		return err
	}

	return s.add(&mcp.Tool{
		Name:        AuthStatusTool,
		Title:       "Check Authentication Status",
		Description: "Check current authentication status and user information",
		InputSchema: status.Schema(),
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(s.authStatus()), nil
	})
}

func rawArguments(req *mcp.CallToolRequest) json.RawMessage {
	if req == nil || req.Params == nil {
		return nil
	}
	return req.Params.Arguments
}

// refreshAuth renews the session and hands the new client to the executor.
// A failed refresh is reported as a regular result with success=false.
func (s *Server) refreshAuth(ctx context.Context, force bool) *mcp.CallToolResult {
	start := s.now()
	s.logger.Info("server.refresh_auth.start", "force", force)

	client, err := s.renew(ctx, force)
	s.metrics.ObserveInvocation(RefreshAuthTool, err, s.now().Sub(start))
	if err != nil {
		s.logger.Error("server.refresh_auth.failed", "force", force, "error", err)
		return jsonResult(value.ObjectValue(
			value.Member{Key: "success", Value: value.BoolValue(false)},
			value.Member{Key: "error", Value: value.StringValue("Authentication refresh failed")},
			value.Member{Key: "message", Value: value.StringValue(err.Error())},
			value.Member{Key: "suggestion", Value: value.StringValue("Please check your credentials and try again, or restart the MCP server")},
		))
	}

	s.exec.SetClient(client)
	uc := s.auth.UserContext()
	s.logger.Info("server.refresh_auth.success", "user_id", uc["userId"])
	return jsonResult(value.ObjectValue(
		value.Member{Key: "success", Value: value.BoolValue(true)},
		value.Member{Key: "message", Value: value.StringValue("Authentication refreshed successfully")},
		value.Member{Key: "user", Value: optionalString(uc["email"])},
		value.Member{Key: "userId", Value: optionalString(uc["userId"])},
		value.Member{Key: "timestamp", Value: value.StringValue(s.now().UTC().Format(isoMillis))},
	))
}

func (s *Server) renew(ctx context.Context, force bool) (*supabase.Client, error) {
	if s.auth == nil {
		return nil, errors.New("authentication is not configured")
	}
	if force {
		return s.auth.ForceReAuthenticate(ctx)
	}
	client := s.auth.RefreshAuthentication(ctx)
	if client == nil {
		return nil, errors.New("Failed to refresh authentication")
	}
	return client, nil
}

func (s *Server) authStatus() value.Value {
	authenticated := false
	user := value.ObjectValue()
	if s.auth != nil {
		authenticated = s.auth.IsAuthenticated()
		uc := s.auth.UserContext()
		var members []value.Member
		for _, key := range []string{"userId", "email"} {
			if v, ok := uc[key]; ok {
				members = append(members, value.Member{Key: key, Value: value.StringValue(v)})
			}
		}
		user = value.ObjectValue(members...)
	}
	return value.ObjectValue(
		value.Member{Key: "authenticated", Value: value.BoolValue(authenticated)},
		value.Member{Key: "user", Value: user},
		value.Member{Key: "serverTime", Value: value.StringValue(s.now().UTC().Format(isoMillis))},
		value.Member{Key: "toolsRegistered", Value: value.IntValue(int64(len(s.doc.Tools)))},
		value.Member{Key: "resourcesRegistered", Value: value.IntValue(int64(len(s.doc.Resources)))},
	)
}

// optionalString is null for "", where an absent field would be dropped.
func optionalString(s string) value.Value {
	if s == "" {
		return value.NullValue()
	}
	return value.StringValue(s)
}
