package supabase

import (
	"context"
	"mime"
	"net/http"
	"strings"

	"github.com/askdba/supabase-mcp-server/internal/value"
)

// InvokeOptions describes an Edge Function call.
type InvokeOptions struct {
	// Body is sent as JSON, or as text/plain when it is a string.
	Body    value.Value
	Headers map[string]string
	// Method defaults to POST.
	Method string
}

// Invoke calls the Edge Function name. JSON responses are decoded into
// Data, anything else is returned as Text.
func (c *Client) Invoke(ctx context.Context, name string, opts InvokeOptions) (*Response, error) {
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodPost
	}
	req := request{
		method: method,
		path:   functionsPath + "/" + name,
		header: http.Header{},
	}
	for k, v := range opts.Headers {
		req.header.Set(k, v)
	}
	if !opts.Body.IsUndefined() && method != http.MethodGet {
		if s, ok := opts.Body.Str(); ok {
			req.body = []byte(s)
			if req.header.Get("Content-Type") == "" {
				req.header.Set("Content-Type", "text/plain")
			}
		} else {
			data, err := encodeBody(opts.Body)
			if err != nil {
				return nil, err
			}
			req.body = data
		}
		req.hasBody = true
	}

	raw, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if raw.status >= 400 {
		apiErr := parseError(raw.status, raw.body)
		if apiErr.Message == http.StatusText(raw.status) || apiErr.Message == "" {
			apiErr.Message = "Edge Function returned a non-2xx status code"
		}
		return nil, apiErr
	}

	resp := &Response{Status: raw.status}
	mediaType, _, _ := mime.ParseMediaType(raw.header.Get("Content-Type"))
	if mediaType == "application/json" && len(raw.body) > 0 {
		data, err := value.Parse(raw.body)
		if err == nil {
			resp.Data = data
			return resp, nil
		}
	}
	resp.Text = string(raw.body)
	return resp, nil
}
