// internal/api/middleware_test.go
package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler(w http.ResponseWriter, r *http.Request) { WriteSuccess(w, "ok") }

func TestWithCORS(t *testing.T) {
	handler := WithCORS(okHandler)

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodOptions, "/mcp", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Expose-Headers"); got != "Mcp-Session-Id, X-Request-ID" {
		t.Fatalf("expose headers = %q", got)
	}

	w = httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/api", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET status = %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing allow-origin header")
	}
}

func TestRequireMethod(t *testing.T) {
	tests := []struct {
		name   string
		wrap   func(http.HandlerFunc) http.HandlerFunc
		method string
		want   int
	}{
		{"get allows get", RequireGET, http.MethodGet, http.StatusOK},
		{"get allows head", RequireGET, http.MethodHead, http.StatusOK},
		{"get rejects post", RequireGET, http.MethodPost, http.StatusMethodNotAllowed},
		{"post allows post", RequirePOST, http.MethodPost, http.StatusOK},
		{"post rejects get", RequirePOST, http.MethodGet, http.StatusMethodNotAllowed},
		{"options passes", RequirePOST, http.MethodOptions, http.StatusNoContent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tc.wrap(okHandler)(w, httptest.NewRequest(tc.method, "/api/tools/x", nil))
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d", w.Code, tc.want)
			}
			if tc.want == http.StatusMethodNotAllowed && w.Header().Get("Allow") == "" {
				t.Fatalf("missing Allow header")
			}
		})
	}
}

func TestRequireQueryParam(t *testing.T) {
	handler := RequireQueryParam("uri")(okHandler)

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/api/resources", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing param status = %d", w.Code)
	}
	if resp := decode(t, w); resp.Error != "uri parameter is required" {
		t.Fatalf("error = %q", resp.Error)
	}

	w = httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/api/resources?uri=profile://1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestWithTimeout(t *testing.T) {
	var deadline time.Time
	var has bool
	handler := WithTimeout(2 * time.Second)(func(w http.ResponseWriter, r *http.Request) {
		deadline, has = r.Context().Deadline()
	})
	before := time.Now()
	handler(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !has {
		t.Fatalf("context has no deadline")
	}
	if d := deadline.Sub(before); d <= 0 || d > 3*time.Second {
		t.Fatalf("deadline %v out of range", d)
	}
}

func TestWithRequestID(t *testing.T) {
	var seen string
	handler := WithRequestID(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		WriteSuccess(w, nil)
	})

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/api", nil))
	if len(seen) != 36 {
		t.Fatalf("generated id = %q", seen)
	}
	if w.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("header %q != context %q", w.Header().Get(RequestIDHeader), seen)
	}
	if resp := decode(t, w); resp.RequestID != seen {
		t.Fatalf("envelope requestId = %q", resp.RequestID)
	}

	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	handler(httptest.NewRecorder(), req)
	if seen != "abc-123" {
		t.Fatalf("caller id not kept: %q", seen)
	}

	if RequestID(context.Background()) != "" {
		t.Fatalf("empty context should have no id")
	}
}

func TestWithLogging(t *testing.T) {
	var (
		status int
		path   string
	)
	handler := WithLogging(func(r *http.Request, s int, d time.Duration) {
		status, path = s, r.URL.Path
	})(func(w http.ResponseWriter, r *http.Request) {
		WriteNotFound(w, "no such tool")
	})

	handler(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/tools/nope", nil))
	if status != http.StatusNotFound || path != "/api/tools/nope" {
		t.Fatalf("logged %d %s", status, path)
	}

	handler = WithLogging(func(r *http.Request, s int, d time.Duration) { status = s })(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("implicit"))
	})
	handler(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if status != http.StatusOK {
		t.Fatalf("implicit status = %d", status)
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.HandlerFunc) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next(w, r)
			}
		}
	}
	handler := Chain(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}, mark("a"), mark("b"))

	handler(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	want := []string{"a", "b", "handler"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}
