// cmd/supabase-mcp-server/logging.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"
)

// ===== Structured Logging =====

var (
	logger         = pslog.NoopLogger()
	jsonLogging    bool
	verboseLogging bool
)

// newLogger builds the process logger. stdout belongs to the stdio
// transport, so w is stderr outside tests.
func newLogger(ctx context.Context, w io.Writer, jsonFormat, verbose bool) pslog.Logger {
	mode := pslog.ModeConsole
	if jsonFormat {
		mode = pslog.ModeStructured
	}
	level := pslog.InfoLevel
	if verbose {
		level = pslog.DebugLevel
	}
	return pslog.NewWithOptions(ctx, w, pslog.Options{
		Mode:     mode,
		MinLevel: level,
		NoColor:  jsonFormat,
	}).With("app", "supabase-mcp-server")
}

func setupLogging(ctx context.Context, w io.Writer, jsonFormat, verbose bool) {
	jsonLogging = jsonFormat
	verboseLogging = verbose
	logger = newLogger(ctx, w, jsonFormat, verbose)
}

// keyvals flattens fields in key order so lines are stable.
func keyvals(fields map[string]interface{}) []any {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kv := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		kv = append(kv, k, fields[k])
	}
	return kv
}

func logDebug(message string, fields map[string]interface{}) {
	logger.Debug(message, keyvals(fields)...)
}

func logInfo(message string, fields map[string]interface{}) {
	logger.Info(message, keyvals(fields)...)
}

func logWarn(message string, fields map[string]interface{}) {
	logger.Warn(message, keyvals(fields)...)
}

func logError(message string, fields map[string]interface{}) {
	logger.Error(message, keyvals(fields)...)
}

// ===== Audit Logging =====

// AuditEntry is one line of the audit log.
type AuditEntry struct {
	Timestamp    string `json:"timestamp"`
	InvocationID string `json:"invocation_id"`
	Kind         string `json:"kind"`
	Tool         string `json:"tool"`
	URI          string `json:"uri,omitempty"`
	Action       string `json:"action,omitempty"`
	Target       string `json:"target,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
	Attempts     int    `json:"attempts,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
}

// AuditLogger appends JSON lines to a file. A disabled logger drops entries.
type AuditLogger struct {
	mu      sync.Mutex
	file    *os.File
	enabled bool
	now     func() time.Time
}

var auditLogger = &AuditLogger{}

// NewAuditLogger opens path for appending. An empty path gives a disabled
// logger.
func NewAuditLogger(path string) (*AuditLogger, error) {
	if path == "" {
		return &AuditLogger{now: time.Now}, nil
	}
	// #nosec G304 -- path comes from the operator's --audit-log setting
	f, err := os.OpenFile(filepath.Clean(path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &AuditLogger{file: f, enabled: true, now: time.Now}, nil
}

// Log stamps entry with the time and, when missing, a fresh invocation id,
// then writes it.
func (a *AuditLogger) Log(entry *AuditEntry) {
	if a == nil || !a.enabled {
		return
	}
	now := time.Now
	if a.now != nil {
		now = a.now
	}
	entry.Timestamp = now().UTC().Format(time.RFC3339Nano)
	if entry.InvocationID == "" {
		entry.InvocationID = uuid.NewString()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = a.file.Write(append(data, '\n'))
}

// Close flushes and closes the file.
func (a *AuditLogger) Close() error {
	if a == nil || a.file == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = false
	if err := a.file.Sync(); err != nil {
		_ = a.file.Close()
		return err
	}
	return a.file.Close()
}
