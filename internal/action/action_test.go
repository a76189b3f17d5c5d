package action

import (
	"errors"
	"strings"
	"testing"

	"github.com/askdba/supabase-mcp-server/internal/errs"
	"github.com/askdba/supabase-mcp-server/internal/value"
)

type recorder struct{ visited []Type }

func (r *recorder) VisitSelect(*Select) error             { r.visited = append(r.visited, TypeSelect); return nil }
func (r *recorder) VisitInsert(*Insert) error             { r.visited = append(r.visited, TypeInsert); return nil }
func (r *recorder) VisitUpdate(*Update) error             { r.visited = append(r.visited, TypeUpdate); return nil }
func (r *recorder) VisitDelete(*Delete) error             { r.visited = append(r.visited, TypeDelete); return nil }
func (r *recorder) VisitUpsert(*Upsert) error             { r.visited = append(r.visited, TypeUpsert); return nil }
func (r *recorder) VisitRPC(*RPC) error                   { r.visited = append(r.visited, TypeRPC); return nil }
func (r *recorder) VisitEdgeFunction(*EdgeFunction) error { r.visited = append(r.visited, TypeEdgeFunction); return nil }

func TestDecodeEveryVariant(t *testing.T) {
	docs := map[Type]string{
		TypeSelect:       `{"type":"select","table":"users","columns":["id","email"],"filters":{"email":"{{email}}"},"limit":"{{limit}}"}`,
		TypeInsert:       `{"type":"insert","table":"posts","values":{"title":"{{title}}"},"returning":["id"]}`,
		TypeUpdate:       `{"type":"update","table":"posts","values":{"title":"x"},"filters":{"id":"{{id}}"}}`,
		TypeDelete:       `{"type":"delete","table":"posts","filters":{"id":"{{id}}"},"select":"id"}`,
		TypeUpsert:       `{"type":"upsert","table":"posts","values":[{"id":1}],"onConflict":"id"}`,
		TypeRPC:          `{"type":"rpc","function":"search","args":{"q":"{{q}}"},"orderBy":[{"column":"rank","ascending":false}]}`,
		TypeEdgeFunction: `{"type":"edgeFunction","function":"hello","body":{"name":"{{name}}"},"method":"POST","headers":{"x-a":"b"}}`,
	}
	rec := &recorder{}
	for _, typ := range Types {
		act, err := Decode("action", value.MustParse(docs[typ]))
		if err != nil {
			t.Fatalf("Decode(%s): %v", typ, err)
		}
		if act.Type() != typ {
			t.Fatalf("Decode(%s) returned %s", typ, act.Type())
		}
		if err := act.Accept(rec); err != nil {
			t.Fatalf("Accept: %v", err)
		}
	}
	if len(rec.visited) != len(Types) {
		t.Fatalf("visited %v", rec.visited)
	}
	for i, typ := range Types {
		if rec.visited[i] != typ {
			t.Fatalf("visit %d = %s, want %s", i, rec.visited[i], typ)
		}
	}
}

func TestDecodeSelectFields(t *testing.T) {
	act := MustDecode(`{
		"type": "select",
		"table": "users",
		"filters": {"status": "active"},
		"advancedFilters": [{"column": "age", "operation": "gte", "value": 18}],
		"orConditions": [{"conditions": "id.eq.1,id.eq.2", "referencedTable": "teams"}],
		"textSearch": {"column": "fts", "query": "cat", "type": "websearch", "config": "english"},
		"order": [{"column": "name", "direction": "desc"}],
		"range": {"from": 0, "to": 9},
		"count": "exact",
		"single": true
	}`)
	sel, ok := act.(*Select)
	if !ok {
		t.Fatalf("expected *Select, got %T", act)
	}
	if sel.Target() != "users" || !sel.Single || sel.Count != "exact" {
		t.Fatalf("unexpected select: %+v", sel)
	}
	if len(sel.AdvancedFilters) != 1 || sel.AdvancedFilters[0].Operation != OpGte {
		t.Fatalf("advanced filters: %+v", sel.AdvancedFilters)
	}
	if sel.OrConditions[0].ReferencedTable != "teams" {
		t.Fatalf("or conditions: %+v", sel.OrConditions)
	}
	if sel.TextSearch == nil || sel.TextSearch.Config != "english" {
		t.Fatalf("text search: %+v", sel.TextSearch)
	}
	orders := sel.Orders()
	if len(orders) != 1 || orders[0].IsAscending() {
		t.Fatalf("orders: %+v", orders)
	}
	if from, _ := sel.Range.From.Int(); from != 0 {
		t.Fatalf("range from = %d", from)
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		wantPath string
	}{
		{"unknown type", `{"type":"drop","table":"users"}`, "action.type"},
		{"missing type", `{"table":"users"}`, "action.type"},
		{"not an object", `"select"`, "action"},
		{"field of another variant", `{"type":"insert","table":"t","values":{},"filters":{"a":1}}`, "action.filters"},
		{"unknown field", `{"type":"select","table":"t","where":"x"}`, "action.where"},
		{"edge function filters", `{"type":"edgeFunction","function":"f","limit":1}`, "action.limit"},
		{"missing table", `{"type":"select"}`, "action.table"},
		{"missing values", `{"type":"insert","table":"t"}`, "action.values"},
		{"scalar values", `{"type":"upsert","table":"t","values":3}`, "action.values"},
		{"bad operation", `{"type":"select","table":"t","advancedFilters":[{"column":"a","operation":"textSearch","value":"x"}]}`, "action.advancedFilters[0].operation"},
		{"bad direction", `{"type":"select","table":"t","orderBy":[{"column":"a","direction":"up"}]}`, "action.orderBy[0].direction"},
		{"bad count", `{"type":"select","table":"t","count":"all"}`, "action.count"},
		{"bad method", `{"type":"edgeFunction","function":"f","method":"TRACE"}`, "action.method"},
		{"wrong field type", `{"type":"select","table":"t","single":"yes"}`, "action.single"},
		{"half range", `{"type":"select","table":"t","range":{"from":1}}`, "action.range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode("action", value.MustParse(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			var ve *errs.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %T: %v", err, err)
			}
			if ve.Path != tt.wantPath {
				t.Fatalf("path = %q, want %q (err: %v)", ve.Path, tt.wantPath, err)
			}
		})
	}
}

func TestOrderConfigIsAscending(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name string
		oc   OrderConfig
		want bool
	}{
		{"default", OrderConfig{Column: "a"}, true},
		{"direction asc", OrderConfig{Column: "a", Direction: "asc"}, true},
		{"direction desc", OrderConfig{Column: "a", Direction: "desc"}, false},
		{"flag wins over desc", OrderConfig{Column: "a", Ascending: &yes, Direction: "desc"}, true},
		{"flag false wins over asc", OrderConfig{Column: "a", Ascending: &no, Direction: "asc"}, false},
	}
	for _, tt := range tests {
		if got := tt.oc.IsAscending(); got != tt.want {
			t.Errorf("%s: IsAscending() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestOrderByWinsOverLegacyOrder(t *testing.T) {
	o := Ordering{
		OrderBy: []OrderConfig{{Column: "new"}},
		Order:   []OrderConfig{{Column: "old"}},
	}
	if got := o.Orders(); len(got) != 1 || got[0].Column != "new" {
		t.Fatalf("Orders() = %+v", got)
	}
}

func TestReturningProjection(t *testing.T) {
	r := Returning{Returning: []string{"id", "title"}, Select: "*"}
	if got := r.Projection(); got != "id,title" {
		t.Fatalf("Projection() = %q", got)
	}
	r = Returning{Select: "id"}
	if got := r.Projection(); got != "id" {
		t.Fatalf("Projection() = %q", got)
	}
}

func TestDecodeErrorMentionsField(t *testing.T) {
	_, err := Decode("tools[0].action", value.MustParse(`{"type":"delete","table":"t","values":{}}`))
	if err == nil || !strings.Contains(err.Error(), "tools[0].action.values") {
		t.Fatalf("expected path in error, got %v", err)
	}
}
