package config

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/askdba/supabase-mcp-server/internal/errs"
	"github.com/askdba/supabase-mcp-server/internal/value"
)

// Source names where a tool configuration came from.
type Source string

const (
	SourceFile            Source = "file"
	SourceConfigJSON      Source = "config-json"
	SourceToolsJSON       Source = "tools-json"
	SourceToolsJSONBase64 Source = "tools-json-base64"
	SourceDatabase        Source = "database"
)

// Sources holds the explicitly given configuration sources. At most one may
// be set; with none the active database row is used.
type Sources struct {
	ConfigPath      string
	ConfigJSON      string
	ToolsJSON       string
	ToolsJSONBase64 string
}

type sourceFlag struct {
	flag   string
	source Source
	value  string
}

func (s Sources) flags() []sourceFlag {
	return []sourceFlag{
		{"--config-path", SourceFile, s.ConfigPath},
		{"--config-json", SourceConfigJSON, s.ConfigJSON},
		{"--tools-json", SourceToolsJSON, s.ToolsJSON},
		{"--tools-json-base64", SourceToolsJSONBase64, s.ToolsJSONBase64},
	}
}

// Select returns the source to load from. Two explicit sources conflict.
func (s Sources) Select() (Source, error) {
	flags := s.flags()
	for i := range flags {
		if flags[i].value == "" {
			continue
		}
		for j := i + 1; j < len(flags); j++ {
			if flags[j].value != "" {
				return "", &errs.ConfigSourceError{
					Err: fmt.Errorf("Cannot specify both %s and %s", flags[i].flag, flags[j].flag),
				}
			}
		}
		return flags[i].source, nil
	}
	return SourceDatabase, nil
}

// Store reads the most recently created active configuration.
type Store interface {
	ActiveConfig(ctx context.Context) (value.Value, error)
}

// ErrNoActiveConfig is returned by stores that hold no active row.
var ErrNoActiveConfig = errors.New("No config found")

var sourceLabels = map[Source]string{
	SourceFile:            "Configuration loading failed",
	SourceConfigJSON:      "Inline JSON configuration parsing failed",
	SourceToolsJSON:       "Inline tools JSON parsing failed",
	SourceToolsJSONBase64: "Inline tools JSON parsing failed",
	SourceDatabase:        "Database configuration loading failed",
}

// Load selects a source and returns the validated document. store is only
// consulted when no explicit source is set.
func Load(ctx context.Context, s Sources, store Store) (*Document, Source, error) {
	src, err := s.Select()
	if err != nil {
		return nil, "", err
	}
	doc, err := load(ctx, src, s, store)
	if err != nil {
		return nil, src, &errs.ConfigSourceError{Source: sourceLabels[src], Err: err}
	}
	return doc, src, nil
}

func load(ctx context.Context, src Source, s Sources, store Store) (*Document, error) {
	switch src {
	case SourceFile:
		return LoadDocumentFile(s.ConfigPath)
	case SourceConfigJSON:
		return ParseDocument([]byte(s.ConfigJSON), "json")
	case SourceToolsJSON:
		return ParseTools([]byte(s.ToolsJSON))
	case SourceToolsJSONBase64:
		raw, err := decodeBase64(s.ToolsJSONBase64)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 encoding: %w", err)
		}
		return ParseTools(raw)
	}
	if store == nil {
		return nil, errors.New("no configuration source given and no database store available")
	}
	stored, err := store.ActiveConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("Failed to load config from database: %w", err)
	}
	return StoredDocument(stored)
}

// LoadDocumentFile reads a configuration document, choosing JSON or YAML by
// extension.
func LoadDocumentFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	format := ""
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		format = "json"
	case ".yaml", ".yml":
		format = "yaml"
	}
	return ParseDocument(data, format)
}

// ParseTools decodes a tools-only document: either an array of tools or an
// object with a "tools" array. Resources are not read from it.
func ParseTools(data []byte) (*Document, error) {
	tree, err := value.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("Invalid JSON format: %w", err)
	}
	var tools value.Value
	switch {
	case tree.Kind() == value.Array:
		tools = tree
	case tree.Kind() == value.Object && tree.Get("tools").Kind() == value.Array:
		tools = tree.Get("tools")
	default:
		return nil, errors.New(`Tools JSON must be an array of tools or an object with a "tools" property`)
	}
	return NewDocument(value.ObjectValue(value.Member{Key: "tools", Value: tools}))
}

// StoredDocument validates a config_json column, which holds either a JSON
// object or a string containing one.
func StoredDocument(stored value.Value) (*Document, error) {
	if s, ok := stored.Str(); ok {
		return ParseDocument([]byte(s), "json")
	}
	if stored.IsNullish() {
		return nil, ErrNoActiveConfig
	}
	return NewDocument(stored)
}

// decodeBase64 accepts standard and URL alphabets, padded or not.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
	} {
		out, err := enc.DecodeString(s)
		if err == nil {
			return out, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}
