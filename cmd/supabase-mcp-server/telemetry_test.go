package main

import (
	"context"
	"testing"
)

func TestResolveOTLPTarget(t *testing.T) {
	tests := []struct {
		raw      string
		endpoint string
		path     string
		insecure bool
		wantErr  bool
	}{
		{raw: "collector", endpoint: "collector:4318", insecure: true},
		{raw: "collector:4319", endpoint: "collector:4319", insecure: true},
		{raw: "http://otel.local:4318/v1/traces", endpoint: "otel.local:4318", path: "/v1/traces", insecure: true},
		{raw: "https://otel.example.com/", endpoint: "otel.example.com:4318"},
		{raw: "  ", wantErr: true},
		{raw: "grpc://collector:4317", wantErr: true},
		{raw: "http://", wantErr: true},
	}
	for _, tc := range tests {
		got, err := resolveOTLPTarget(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected an error, got %+v", tc.raw, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", tc.raw, err)
			continue
		}
		if got.endpoint != tc.endpoint || got.path != tc.path || got.insecure != tc.insecure {
			t.Errorf("%q: got %+v", tc.raw, got)
		}
	}
}

func TestSetupTelemetryDisabled(t *testing.T) {
	shutdown, err := setupTelemetry(context.Background(), "", "supabase-mcp-server")
	if err != nil {
		t.Fatalf("setupTelemetry: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupTelemetryRejectsBadEndpoint(t *testing.T) {
	if _, err := setupTelemetry(context.Background(), "ftp://collector", "supabase-mcp-server"); err == nil {
		t.Fatal("expected an error for an unsupported scheme")
	}
}
