package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// User is the GoTrue user record.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email,omitempty"`
	Role         string         `json:"role,omitempty"`
	Aud          string         `json:"aud,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	CreatedAt    string         `json:"created_at,omitempty"`
	LastSignInAt string         `json:"last_sign_in_at,omitempty"`
}

// Session is a token grant.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`
}

// SignInWithPassword exchanges email and password for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	return c.grant(ctx, "password", map[string]string{"email": email, "password": password})
}

// RefreshSession exchanges a refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	return c.grant(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

func (c *Client) grant(ctx context.Context, grant string, payload map[string]string) (*Session, error) {
	body, err := encodeBody(payload)
	if err != nil {
		return nil, err
	}
	raw, err := c.do(ctx, request{
		method:  http.MethodPost,
		path:    authPath + "/token",
		query:   url.Values{"grant_type": {grant}},
		body:    body,
		hasBody: true,
		bearer:  c.anonKey,
	})
	if err != nil {
		return nil, err
	}
	if raw.status >= 400 {
		return nil, parseError(raw.status, raw.body)
	}
	var s Session
	if err := json.Unmarshal(raw.body, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

// SignOut revokes the session that owns accessToken.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	raw, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   authPath + "/logout",
		bearer: accessToken,
	})
	if err != nil {
		return err
	}
	// an already expired or revoked session is signed out as far as we care
	if raw.status >= 400 && raw.status != http.StatusUnauthorized && raw.status != http.StatusNotFound {
		return parseError(raw.status, raw.body)
	}
	return nil
}

// GetUser returns the user owning accessToken.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	raw, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   authPath + "/user",
		bearer: accessToken,
	})
	if err != nil {
		return nil, err
	}
	if raw.status >= 400 {
		return nil, parseError(raw.status, raw.body)
	}
	var u User
	if err := json.Unmarshal(raw.body, &u); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &u, nil
}
