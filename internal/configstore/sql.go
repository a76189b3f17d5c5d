// Package configstore reads the active tool configuration row from a
// database.
package configstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"pkt.systems/pslog"

	"github.com/askdba/supabase-mcp-server/internal/config"
	"github.com/askdba/supabase-mcp-server/internal/util"
	"github.com/askdba/supabase-mcp-server/internal/value"
)

// SQLConfig configures a SQLStore.
type SQLConfig struct {
	// Driver is "pgx" (or "postgres") or "mysql".
	Driver string
	DSN    string
	// Table defaults to tool_configurations. Ignored when Query is set.
	Table string
	// Query overrides the lookup. It must be a read-only SELECT whose first
	// column is the configuration document.
	Query string

	QueryTimeout    time.Duration
	PingTimeout     time.Duration
	MaxOpenConns    int
	ConnMaxLifetime time.Duration

	Logger pslog.Logger
}

// SQLStore reads the configuration over database/sql.
type SQLStore struct {
	db      *sqlx.DB
	query   string
	timeout time.Duration
	logger  pslog.Logger
}

var _ config.Store = (*SQLStore)(nil)

func driverName(driver string) (string, error) {
	switch strings.ToLower(driver) {
	case "", "pgx", "postgres", "postgresql":
		return "pgx", nil
	case "mysql":
		return "mysql", nil
	}
	return "", fmt.Errorf("unsupported config driver %q", driver)
}

// LookupQuery returns the statement used to read the active row.
func LookupQuery(cfg SQLConfig) (string, error) {
	if q := strings.TrimSpace(cfg.Query); q != "" {
		if err := util.ValidateLookupQuery(q); err != nil {
			return "", fmt.Errorf("invalid config query: %w", err)
		}
		return strings.TrimRight(q, "; \t\n\r"), nil
	}
	driver, err := driverName(cfg.Driver)
	if err != nil {
		return "", err
	}
	table := cfg.Table
	if table == "" {
		table = config.DefaultConfigTable
	}
	quoted, err := util.QuoteIdent(driver, table)
	if err != nil {
		return "", fmt.Errorf("invalid config table: %w", err)
	}
	return "SELECT config_json FROM " + quoted +
		" WHERE is_active = TRUE ORDER BY created_at DESC LIMIT 1", nil
}

// Open connects to the configuration database and checks it is reachable.
func Open(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	driver, err := driverName(cfg.Driver)
	if err != nil {
		return nil, err
	}
	query, err := LookupQuery(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 2
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(lifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to config database %s: %w", util.MaskDSN(cfg.DSN), err)
	}
	return newStore(db, query, cfg), nil
}

// NewWithDB wraps an existing *sql.DB, e.g. a sqlmock.
func NewWithDB(db *sql.DB, cfg SQLConfig) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	driver, err := driverName(cfg.Driver)
	if err != nil {
		return nil, err
	}
	query, err := LookupQuery(cfg)
	if err != nil {
		return nil, err
	}
	return newStore(sqlx.NewDb(db, driver), query, cfg), nil
}

func newStore(db *sqlx.DB, query string, cfg SQLConfig) *SQLStore {
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &SQLStore{db: db, query: query, timeout: timeout, logger: logger}
}

// Query is the statement ActiveConfig runs.
func (s *SQLStore) Query() string { return s.query }

// ActiveConfig returns the config_json of the newest active row. JSON
// stored as text is decoded; the config package accepts either an object
// or a string holding one.
func (s *SQLStore) ActiveConfig(ctx context.Context) (value.Value, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.logger.Debug("configstore.sql.lookup", "query", util.TruncateQuery(s.query, 200))
	var raw []byte
	if err := s.db.GetContext(ctx, &raw, s.query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return value.Value{}, config.ErrNoActiveConfig
		}
		return value.Value{}, err
	}
	if raw == nil {
		return value.Value{}, config.ErrNoActiveConfig
	}
	v, err := value.Parse(raw)
	if err != nil {
		return value.Value{}, fmt.Errorf("config_json is not valid JSON: %w", err)
	}
	s.logger.Info("configstore.sql.loaded", "bytes", len(raw))
	return v, nil
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
