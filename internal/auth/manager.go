// Package auth owns the user session the server acts as.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"pkt.systems/pslog"

	"github.com/askdba/supabase-mcp-server/internal/errs"
	"github.com/askdba/supabase-mcp-server/internal/metrics"
	"github.com/askdba/supabase-mcp-server/internal/supabase"
)

// State of the held session.
type State int

const (
	Anonymous State = iota
	Authenticated
	Expired
	SignedOut
)

func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Expired:
		return "expired"
	case SignedOut:
		return "signed_out"
	}
	return "anonymous"
}

// Credentials are the email and password the server signs in with.
type Credentials struct {
	Email    string
	Password string
}

// Options configures a Manager.
type Options struct {
	Logger  pslog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Manager holds the session and hands out clients bound to it. It is safe
// for concurrent use; concurrent refreshes collapse into one backend call.
type Manager struct {
	base    *supabase.Client
	creds   Credentials
	logger  pslog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	flight  singleflight.Group

	mu           sync.RWMutex
	state        State
	client       *supabase.Client
	user         *supabase.User
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

// NewManager returns a Manager in the Anonymous state. base must be an
// anonymous client.
func NewManager(base *supabase.Client, creds Credentials, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = pslog.NoopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		base:    base,
		creds:   creds,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
		state:   Anonymous,
		client:  base,
	}
}

// Authenticate signs in with the configured credentials and returns a client
// bound to the new access token.
func (m *Manager) Authenticate(ctx context.Context) (*supabase.Client, error) {
	m.logger.Info("auth.authenticate.start", "email", m.creds.Email)
	session, err := m.base.SignInWithPassword(ctx, m.creds.Email, m.creds.Password)
	if err != nil {
		m.logger.Error("auth.authenticate.failed", "error", err)
		return nil, &errs.AuthError{Message: "Authentication failed: " + err.Error(), Err: err}
	}
	if session.AccessToken == "" || session.User == nil {
		m.logger.Error("auth.authenticate.no_session")
		return nil, &errs.AuthError{Message: "Authentication successful but no user session received"}
	}
	client := m.adopt(session)
	m.logger.Info("auth.authenticate.success", "user_id", session.User.ID, "email", session.User.Email)
	return client, nil
}

// RefreshAuthentication recovers an expired session. It tries the held
// refresh token first and falls back to signing in again. It returns nil
// when every path fails; it never returns an error. Concurrent callers
// share one refresh, which outlives the cancellation of whichever caller
// started it.
func (m *Manager) RefreshAuthentication(ctx context.Context) *supabase.Client {
	shared := context.WithoutCancel(ctx)
	v, _, _ := m.flight.Do("refresh", func() (any, error) {
		return m.refresh(shared), nil
	})
	client, _ := v.(*supabase.Client)
	return client
}

func (m *Manager) refresh(ctx context.Context) *supabase.Client {
	m.mu.Lock()
	if m.state == Authenticated {
		m.state = Expired
	}
	refreshToken := m.refreshToken
	m.mu.Unlock()

	m.logger.Info("auth.refresh.start")
	if refreshToken != "" {
		session, err := m.base.RefreshSession(ctx, refreshToken)
		if err == nil && session.AccessToken != "" && session.User != nil {
			m.metrics.AuthRefresh("refresh_token", true)
			m.logger.Info("auth.refresh.success", "method", "refresh_token")
			return m.adopt(session)
		}
		m.metrics.AuthRefresh("refresh_token", false)
		m.logger.Warn("auth.refresh.token_rejected", "error", err)
	}

	client, err := m.Authenticate(ctx)
	if err != nil {
		m.metrics.AuthRefresh("password", false)
		m.logger.Error("auth.refresh.failed", "error", err)
		return nil
	}
	m.metrics.AuthRefresh("password", true)
	return client
}

// ForceReAuthenticate drops the held session and signs in from scratch.
func (m *Manager) ForceReAuthenticate(ctx context.Context) (*supabase.Client, error) {
	m.logger.Info("auth.force_reauthenticate")
	m.reset(Anonymous)
	client, err := m.Authenticate(ctx)
	m.metrics.AuthRefresh("force", err == nil)
	return client, err
}

// SignOut revokes the remote session and drops local state.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.RLock()
	token := m.accessToken
	m.mu.RUnlock()
	if token != "" {
		if err := m.base.SignOut(ctx, token); err != nil {
			m.logger.Error("auth.signout.failed", "error", err)
			return fmt.Errorf("sign out: %w", err)
		}
	}
	m.reset(SignedOut)
	m.logger.Info("auth.signout.success")
	return nil
}

// Client returns the current client. Before sign-in it is the anonymous one.
func (m *Manager) Client() *supabase.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// State reports the session state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsAuthenticated reports whether a user is signed in. An expired session
// still has a user until recovery fails or it is signed out.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user != nil
}

// User returns a copy of the signed-in user, or nil.
func (m *Manager) User() *supabase.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// UserID returns the signed-in user's id, or "".
func (m *Manager) UserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return ""
	}
	return m.user.ID
}

// UserContext returns userId and email for logs and status output. It is
// empty when nobody is signed in.
func (m *Manager) UserContext() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return map[string]string{}
	}
	return map[string]string{"userId": m.user.ID, "email": m.user.Email}
}

// ExpiresAt returns when the held access token expires, or the zero time.
func (m *Manager) ExpiresAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expiresAt
}

func (m *Manager) adopt(s *supabase.Session) *supabase.Client {
	client := m.base.WithAccessToken(s.AccessToken)
	var expires time.Time
	switch {
	case s.ExpiresAt > 0:
		expires = time.Unix(s.ExpiresAt, 0)
	case s.ExpiresIn > 0:
		expires = m.now().Add(time.Duration(s.ExpiresIn) * time.Second)
	}
	user := *s.User

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Authenticated
	m.client = client
	m.user = &user
	m.accessToken = s.AccessToken
	m.refreshToken = s.RefreshToken
	m.expiresAt = expires
	return client
}

func (m *Manager) reset(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.client = m.base
	m.user = nil
	m.accessToken = ""
	m.refreshToken = ""
	m.expiresAt = time.Time{}
}

