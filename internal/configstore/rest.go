package configstore

import (
	"context"

	"pkt.systems/pslog"

	"github.com/askdba/supabase-mcp-server/internal/config"
	"github.com/askdba/supabase-mcp-server/internal/supabase"
	"github.com/askdba/supabase-mcp-server/internal/value"
)

// RESTStore reads the configuration through PostgREST with the signed-in
// user's client, so row level security applies.
type RESTStore struct {
	client *supabase.Client
	table  string
	logger pslog.Logger
}

var _ config.Store = (*RESTStore)(nil)

// NewREST returns a RESTStore reading table (default tool_configurations).
func NewREST(client *supabase.Client, table string, logger pslog.Logger) *RESTStore {
	if table == "" {
		table = config.DefaultConfigTable
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &RESTStore{client: client, table: table, logger: logger}
}

// ActiveConfig returns config_json of the newest row with is_active = true.
func (s *RESTStore) ActiveConfig(ctx context.Context) (value.Value, error) {
	s.logger.Debug("configstore.rest.lookup", "table", s.table)
	resp, err := s.client.From(s.table).
		Select("config_json", supabase.SelectOptions{}).
		Eq("is_active", value.BoolValue(true)).
		Order("created_at", false, "").
		Limit(1, "").
		MaybeSingle().
		Execute(ctx)
	if err != nil {
		return value.Value{}, err
	}
	if resp.Data.IsNullish() {
		return value.Value{}, config.ErrNoActiveConfig
	}
	return resp.Data.Get("config_json"), nil
}
