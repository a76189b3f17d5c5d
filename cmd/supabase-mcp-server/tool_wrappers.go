package main

import (
	"context"

	"github.com/askdba/supabase-mcp-server/internal/server"
)

// observeInvocation is the server's Observe hook. It logs every configured
// tool or resource call, estimates tokens when tracking is on and writes the
// audit entry.
func observeInvocation(ctx context.Context, inv server.Invocation) {
	fields := map[string]interface{}{
		"kind":        inv.Kind,
		"tool":        inv.Name,
		"action":      string(inv.Action),
		"duration_ms": inv.Duration.Milliseconds(),
	}
	if inv.Target != "" {
		fields["target"] = inv.Target
	}
	if inv.URI != "" {
		fields["uri"] = inv.URI
	}
	var (
		attempts   int
		resultText string
	)
	if inv.Result != nil {
		attempts = inv.Result.Attempts
		resultText = inv.Result.Text
		if attempts > 1 {
			fields["attempts"] = attempts
		}
	}
	tokens := estimateUsage(inv.Params, resultText)
	if tokens != nil {
		fields["tokens"] = tokens.fields()
	}

	entry := &AuditEntry{
		Kind:       inv.Kind,
		Tool:       inv.Name,
		URI:        inv.URI,
		Action:     string(inv.Action),
		Target:     inv.Target,
		DurationMs: inv.Duration.Milliseconds(),
		Attempts:   attempts,
		Success:    inv.Err == nil,
	}
	if tokens != nil {
		entry.InputTokens = tokens.InputEstimated
		entry.OutputTokens = tokens.OutputEstimated
	}

	switch {
	case inv.Err != nil:
		fields["error"] = inv.Err.Error()
		entry.Error = inv.Err.Error()
		logError(inv.Kind+" failed", fields)
	case tokens != nil:
		logInfo(inv.Kind+" executed", fields)
	default:
		logDebug(inv.Kind+" executed", fields)
	}
	auditLogger.Log(entry)
}
