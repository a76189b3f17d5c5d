package util

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateLookupQueryAllowed(t *testing.T) {
	allowed := []string{
		"SELECT config_json FROM tool_configurations WHERE is_active = 1 ORDER BY created_at DESC LIMIT 1",
		"select config_json from mcp.tool_configurations where is_active = 1 and env = 'prod' limit 1",
		"SELECT c.config_json FROM tool_configurations c JOIN releases r ON r.id = c.release_id WHERE r.live = 1",
		"SELECT config_json FROM tool_configurations WHERE id = (SELECT MAX(id) FROM tool_configurations)",
		"SELECT config_json FROM a UNION SELECT config_json FROM b",
		"SELECT config_json FROM tool_configurations;",
		"SELECT config_json FROM tool_configurations WHERE name = 'semi;colon'",
	}
	for _, q := range allowed {
		if err := ValidateLookupQuery(q); err != nil {
			t.Errorf("ValidateLookupQuery(%q) = %v, want nil", q, err)
		}
	}
}

func TestValidateLookupQueryRejected(t *testing.T) {
	tests := []struct {
		query  string
		reason string
	}{
		{"", "empty query"},
		{"   ", "empty query"},
		{"DELETE FROM tool_configurations", "only SELECT queries are allowed"},
		{"UPDATE tool_configurations SET is_active = 0", "only SELECT queries are allowed"},
		{"INSERT INTO tool_configurations (config_json) VALUES ('{}')", "only SELECT queries are allowed"},
		{"DROP TABLE tool_configurations", "only SELECT queries are allowed"},
		{"SHOW TABLES", "only SELECT queries are allowed"},
		{"SELECT 1; DELETE FROM tool_configurations", "multi-statement queries are not allowed"},
		{"SELECT SLEEP(10)", "function not allowed"},
		{"SELECT config_json FROM t WHERE pg_sleep(5) IS NULL", "function not allowed"},
		{"SELECT pg_read_file('/etc/passwd')", "function not allowed"},
		{"SELECT * FROM information_schema.tables", "access to system schema is not allowed"},
		{"SELECT * FROM pg_catalog.pg_authid", "access to system schema is not allowed"},
		{"SELECT * FROM auth.users", "access to system schema is not allowed"},
		{"SELECT config_json FROM t WHERE id IN (SELECT id FROM mysql.user)", "access to system schema is not allowed"},
		{"SELECT config_json FROM t -- comment", "query contains blocked pattern"},
		{"SELECT /* hidden */ config_json FROM t", "query contains blocked pattern"},
		{"SELECT config_json FROM t INTO OUTFILE '/tmp/x'", "query contains blocked pattern"},
		{"SELECT config_json FROM t FOR UPDATE", "query contains blocked pattern"},
		{"SELEC config_json FROM t", "failed to parse SQL statement"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			err := ValidateLookupQuery(tt.query)
			var qe *QueryError
			if !errors.As(err, &qe) {
				t.Fatalf("expected QueryError, got %v", err)
			}
			if qe.Reason != tt.reason {
				t.Fatalf("reason = %q, want %q (%v)", qe.Reason, tt.reason, err)
			}
		})
	}
}

func TestQueryErrorMessage(t *testing.T) {
	err := &QueryError{Reason: "function not allowed", Detail: "sleep"}
	if err.Error() != "function not allowed: sleep" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !strings.Contains((&QueryError{Reason: "empty query"}).Error(), "empty") {
		t.Error("reason-only message should be kept")
	}
}
