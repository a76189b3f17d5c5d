// Package executor runs declared actions against the backend.
package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"pkt.systems/pslog"

	"github.com/askdba/supabase-mcp-server/internal/action"
	"github.com/askdba/supabase-mcp-server/internal/errs"
	"github.com/askdba/supabase-mcp-server/internal/metrics"
	"github.com/askdba/supabase-mcp-server/internal/supabase"
	"github.com/askdba/supabase-mcp-server/internal/template"
	"github.com/askdba/supabase-mcp-server/internal/value"
)

const tracerName = "github.com/askdba/supabase-mcp-server/internal/executor"

// Refresher recovers an expired session. *auth.Manager implements it.
type Refresher interface {
	// RefreshAuthentication returns a client bound to a fresh token, or nil.
	RefreshAuthentication(ctx context.Context) *supabase.Client
	// UserID is the signed-in user's id, or "".
	UserID() string
}

// Options configures an Executor.
type Options struct {
	Auth    Refresher
	Logger  pslog.Logger
	Metrics *metrics.Metrics
	// Now is the clock behind now() values.
	Now func() time.Time
}

// Result is a successful invocation.
type Result struct {
	// Text is what the caller sees.
	Text  string
	Data  value.Value
	Count *int64
	// Attempts is 2 when the call succeeded after a token refresh.
	Attempts int
}

// Executor validates, resolves and dispatches actions. The backend client is
// swapped atomically on refresh; each attempt uses the client it loaded when
// it started.
type Executor struct {
	client  atomic.Pointer[supabase.Client]
	auth    Refresher
	logger  pslog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	tracer  trace.Tracer
}

// New returns an Executor using client until a refresh replaces it.
func New(client *supabase.Client, opts Options) *Executor {
	if opts.Logger == nil {
		opts.Logger = pslog.NoopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	e := &Executor{
		auth:    opts.Auth,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
		tracer:  otel.Tracer(tracerName),
	}
	e.client.Store(client)
	return e
}

// Client returns the current backend client.
func (e *Executor) Client() *supabase.Client { return e.client.Load() }

// SetClient replaces the backend client, e.g. after a manual re-login.
func (e *Executor) SetClient(c *supabase.Client) { e.client.Store(c) }

// Execute runs the action declared by tree with params. tree is the
// unresolved declaration; it is never modified.
//
// A backend failure that looks like an expired token is retried once after
// the session is refreshed. A second failure is returned as is.
func (e *Executor) Execute(ctx context.Context, tree, params value.Value) (*Result, error) {
	kind, _ := tree.Get("type").Str()
	ctx, span := e.tracer.Start(ctx, "executor.execute", trace.WithAttributes(
		attribute.String("action.type", kind),
	))
	defer span.End()

	res, err := e.attempt(ctx, tree, params)
	if err == nil {
		res.Attempts = 1
		return res, nil
	}
	if !retryable(err) {
		recordError(span, err)
		return nil, err
	}

	e.logger.Warn("executor.auth_expired", "type", kind, "error", err)
	if e.auth == nil {
		err = errs.ErrRefreshFailed(err)
		recordError(span, err)
		return nil, err
	}
	client := e.auth.RefreshAuthentication(ctx)
	if client == nil {
		err = errs.ErrRefreshFailed(err)
		recordError(span, err)
		return nil, err
	}
	e.client.Store(client)
	e.metrics.Retry(kind)
	span.AddEvent("auth.refreshed")
	e.logger.Info("executor.retry", "type", kind)

	res, err = e.attempt(ctx, tree, params)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	res.Attempts = 2
	return res, nil
}

func (e *Executor) attempt(ctx context.Context, tree, params value.Value) (*Result, error) {
	if v := template.ValidateParams(tree, params); !v.Valid {
		return nil, &errs.ValidationError{Missing: v.Missing}
	}
	resolved := template.Resolve(tree, params)
	act, err := action.Decode("action", resolved)
	if err != nil {
		return nil, err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("action.target", act.Target()))
	e.logger.Debug("executor.dispatch", "type", string(act.Type()), "target", act.Target())

	c := &call{ctx: ctx, client: e.client.Load(), exec: e}
	if err := act.Accept(c); err != nil {
		return nil, err
	}
	return c.result, nil
}

// retryable reports whether err is a backend failure caused by an expired
// token. Validation failures are never retried.
func retryable(err error) bool {
	var be *errs.BackendError
	return errors.As(err, &be) && errs.IsAuthExpired(err)
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
