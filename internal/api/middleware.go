// internal/api/middleware.go
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DefaultRequestTimeout bounds a REST call when none is configured.
const DefaultRequestTimeout = 60 * time.Second

// RequestIDHeader carries the per-request id.
const RequestIDHeader = "X-Request-ID"

// Middleware wraps a handler.
type Middleware func(http.HandlerFunc) http.HandlerFunc

type ctxKey int

const requestIDKey ctxKey = iota

// RequestID returns the id WithRequestID stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithRequestID keeps a caller-supplied X-Request-ID or assigns a new one,
// echoes it in the response and stores it in the request context.
func WithRequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	}
}

// WithCORS adds CORS headers and answers preflight requests.
func WithCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func setCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Mcp-Session-Id, Mcp-Protocol-Version, "+RequestIDHeader)
	h.Set("Access-Control-Expose-Headers", "Mcp-Session-Id, "+RequestIDHeader)
}

// RequireMethod rejects anything but method (and OPTIONS) with 405.
func RequireMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != method && !(method == http.MethodGet && r.Method == http.MethodHead) {
			w.Header().Set("Allow", method)
			WriteMethodNotAllowed(w, method+" method required")
			return
		}
		next(w, r)
	}
}

// RequireGET allows GET and HEAD.
func RequireGET(next http.HandlerFunc) http.HandlerFunc {
	return RequireMethod(http.MethodGet, next)
}

// RequirePOST allows POST.
func RequirePOST(next http.HandlerFunc) http.HandlerFunc {
	return RequireMethod(http.MethodPost, next)
}

// WithTimeout bounds the request context.
func WithTimeout(timeout time.Duration) Middleware {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next(w, r.WithContext(ctx))
		}
	}
}

// RequireQueryParam rejects requests without a non-empty name parameter.
func RequireQueryParam(name string) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodOptions && r.URL.Query().Get(name) == "" {
				WriteBadRequest(w, name+" parameter is required")
				return
			}
			next(w, r)
		}
	}
}

// RequestLogger receives one call per finished request.
type RequestLogger func(r *http.Request, status int, duration time.Duration)

// WithLogging reports the status and duration of every request.
func WithLogging(log RequestLogger) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next(rec, r)
			log(r, rec.status, time.Since(start))
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wrote {
		r.status = code
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}

// Flush lets streaming handlers such as the MCP endpoint flush through.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Chain applies middlewares so the first listed runs first.
func Chain(handler http.HandlerFunc, middlewares ...Middleware) http.HandlerFunc {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}
