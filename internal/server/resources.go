package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/yosida95/uritemplate/v3"

	"github.com/askdba/supabase-mcp-server/internal/config"
	"github.com/askdba/supabase-mcp-server/internal/value"
)

func (s *Server) registerResource(rc *config.ResourceConfig) error {
	tmpl, err := uritemplate.New(rc.URITemplate)
	if err != nil {
		return fmt.Errorf("resource %q: invalid URI template: %w", rc.Name, err)
	}
	if !strings.Contains(rc.URITemplate, "://") {
		return fmt.Errorf("resource %q: URI template %q has no scheme", rc.Name, rc.URITemplate)
	}
	r := &resource{cfg: rc, tmpl: tmpl}
	s.mcp.AddResourceTemplate(resourceTemplate(rc), func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return s.readResource(ctx, r, req.Params.URI)
	})
	s.resources = append(s.resources, r)
	s.logger.Debug("server.resource.registered", "resource", rc.Name, "uri_template", rc.URITemplate)
	return nil
}

func resourceTemplate(rc *config.ResourceConfig) *mcp.ResourceTemplate {
	mime := rc.MIMEType
	if mime == "" {
		mime = config.DefaultResourceMIMEType
	}
	return &mcp.ResourceTemplate{
		Name:        rc.Name,
		Title:       rc.Description,
		Description: rc.Description,
		MIMEType:    mime,
		URITemplate: rc.URITemplate,
	}
}

// readResource runs the resource's action with the parameters bound from
// uri. Unlike tools, failures are returned as protocol errors.
func (s *Server) readResource(ctx context.Context, r *resource, uri string) (*mcp.ReadResourceResult, error) {
	rc := r.cfg
	params := uriParams(r.tmpl, rc.URITemplate, uri)
	inv := Invocation{
		Kind:   "resource",
		Name:   rc.Name,
		URI:    uri,
		Action: rc.Type,
		Target: target(rc.Action),
		Params: params,
		Start:  s.now(),
	}
	s.logger.Info("server.resource.start", "resource", rc.Name, "uri", uri, "user", s.userEmail())

	res, err := s.exec.Execute(ctx, rc.Action, params)
	s.finish(ctx, &inv, res, err)
	if err != nil {
		s.logger.Warn("server.resource.failed", "resource", rc.Name, "uri", uri, "error", err)
		return nil, fmt.Errorf("resource %s: %w", rc.Name, err)
	}
	s.logger.Info("server.resource.success", "resource", rc.Name, "duration_ms", inv.Duration.Milliseconds())

	mime := rc.MIMEType
	if mime == "" {
		mime = config.DefaultResourceMIMEType
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: mime, Text: res.Text}},
	}, nil
}

// uriParams binds the template variables found in uri, as strings in
// template order. When the template does not match, variables are taken
// positionally from the "/"-separated segments after the scheme; extra
// segments are ignored.
func uriParams(tmpl *uritemplate.Template, raw, uri string) value.Value {
	var members []value.Member
	if match := tmpl.Match(uri); match != nil {
		for _, name := range tmpl.Varnames() {
			v := match.Get(name)
			if !v.Valid() {
				continue
			}
			members = append(members, value.Member{Key: name, Value: value.StringValue(v.String())})
		}
		return value.ObjectValue(members...)
	}

	tparts := strings.Split(stripScheme(raw), "/")
	uparts := strings.Split(stripScheme(uri), "/")
	for i := 0; i < len(tparts) && i < len(uparts); i++ {
		p := tparts[i]
		if len(p) > 2 && strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") {
			members = append(members, value.Member{Key: p[1 : len(p)-1], Value: value.StringValue(uparts[i])})
		}
	}
	return value.ObjectValue(members...)
}

func stripScheme(s string) string {
	if i := strings.Index(s, "://"); i >= 0 {
		return s[i+3:]
	}
	return s
}
