// Package supabase is a small client for the Supabase REST surface:
// PostgREST queries, GoTrue password auth and Edge Function invocation.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	restPath      = "/rest/v1"
	authPath      = "/auth/v1"
	functionsPath = "/functions/v1"

	// DefaultTimeout bounds a single backend round trip.
	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 32 << 20
)

// Client talks to one Supabase project. A Client is immutable; WithAccessToken
// derives a copy bound to a user session.
type Client struct {
	baseURL *url.URL
	anonKey string
	token   string
	http    *http.Client
	headers http.Header
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. The caller owns its transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithHeader adds a header to every request.
func WithHeader(key, val string) Option {
	return func(c *Client) { c.headers.Set(key, val) }
}

// New returns a client for the project at rawURL using the anonymous key.
func New(rawURL, anonKey string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid supabase url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("invalid supabase url %q: expected http(s)://host", rawURL)
	}
	if anonKey == "" {
		return nil, fmt.Errorf("anon key is required")
	}
	c := &Client{
		baseURL: u,
		anonKey: anonKey,
		headers: http.Header{},
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   DefaultTimeout,
		},
	}
	c.headers.Set("X-Client-Info", "supabase-mcp-server")
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithAccessToken returns a copy of c that authorizes as the session owner.
func (c *Client) WithAccessToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// AccessToken returns the bound user token, or "" for an anonymous client.
func (c *Client) AccessToken() string { return c.token }

// URL returns the project URL.
func (c *Client) URL() string { return c.baseURL.String() }

func (c *Client) bearer() string {
	if c.token != "" {
		return c.token
	}
	return c.anonKey
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

type request struct {
	method  string
	path    string
	query   url.Values
	header  http.Header
	body    []byte
	bearer  string
	hasBody bool
}

type rawResponse struct {
	status int
	header http.Header
	body   []byte
}

func (c *Client) do(ctx context.Context, r request) (*rawResponse, error) {
	var body io.Reader
	if r.hasBody {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.endpoint(r.path, r.query), body)
	if err != nil {
		return nil, err
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, vs := range r.header {
		req.Header[k] = vs
	}
	req.Header.Set("apikey", c.anonKey)
	bearer := r.bearer
	if bearer == "" {
		bearer = c.bearer()
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if r.hasBody && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &rawResponse{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

func encodeBody(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return data, nil
}
