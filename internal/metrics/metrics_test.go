package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveInvocation(t *testing.T) {
	m := New()
	m.ObserveInvocation("get-users", nil, 10*time.Millisecond)
	m.ObserveInvocation("get-users", errors.New("boom"), time.Millisecond)
	m.ObserveInvocation("get-users", nil, time.Millisecond)

	if got := testutil.ToFloat64(m.invocations.WithLabelValues("get-users", OutcomeSuccess)); got != 2 {
		t.Fatalf("success count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.invocations.WithLabelValues("get-users", OutcomeError)); got != 1 {
		t.Fatalf("error count = %v, want 1", got)
	}
}

func TestAuthRefreshAndRetry(t *testing.T) {
	m := New()
	m.AuthRefresh("refresh_token", false)
	m.AuthRefresh("password", true)
	m.Retry("Select")

	if got := testutil.ToFloat64(m.authRefresh.WithLabelValues("refresh_token", OutcomeError)); got != 1 {
		t.Fatalf("refresh_token errors = %v", got)
	}
	if got := testutil.ToFloat64(m.authRefresh.WithLabelValues("password", OutcomeSuccess)); got != 1 {
		t.Fatalf("password successes = %v", got)
	}
	if got := testutil.ToFloat64(m.retries.WithLabelValues("Select")); got != 1 {
		t.Fatalf("retries = %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveInvocation("x", nil, time.Second)
	m.AuthRefresh("password", true)
	m.Retry("Select")
	m.SetRegistered(1, 2)
	if m.Registry() != nil {
		t.Fatal("nil metrics should have no registry")
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.SetRegistered(3, 1)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"supabase_mcp_tools_registered 3", "supabase_mcp_resources_registered 1"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
