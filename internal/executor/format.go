package executor

import (
	"fmt"

	"github.com/askdba/supabase-mcp-server/internal/supabase"
	"github.com/askdba/supabase-mcp-server/internal/value"
)

func newResult(resp *supabase.Response) *Result {
	r := &Result{Data: resp.Data, Count: resp.Count}
	r.Text = render(resp)
	return r
}

// render formats a response for the caller: indented JSON, prefixed with
// the row count when one was requested. Non-JSON bodies pass through.
func render(resp *supabase.Response) string {
	var body string
	if resp.Data.IsUndefined() && resp.Text != "" {
		body = resp.Text
	} else {
		data := resp.Data
		if data.IsUndefined() {
			data = value.NullValue()
		}
		indented, err := data.Indent()
		if err != nil {
			indented = data.Text()
		}
		body = indented
	}
	if resp.Count != nil {
		return fmt.Sprintf("Count: %d\n\nData:\n%s", *resp.Count, body)
	}
	return body
}
