// Package action models the declarative backend operations a tool or
// resource runs.
//
// An action is declared as a JSON object tagged by "type". The declaration
// is kept as a value tree so placeholders can be resolved per invocation;
// Decode then turns a (resolved) tree into one of the seven variant structs.
package action

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/askdba/supabase-mcp-server/internal/errs"
	"github.com/askdba/supabase-mcp-server/internal/value"
)

// Type is the variant tag.
type Type string

const (
	TypeSelect       Type = "select"
	TypeInsert       Type = "insert"
	TypeUpdate       Type = "update"
	TypeDelete       Type = "delete"
	TypeUpsert       Type = "upsert"
	TypeRPC          Type = "rpc"
	TypeEdgeFunction Type = "edgeFunction"
)

// Types lists every variant tag.
var Types = []Type{TypeSelect, TypeInsert, TypeUpdate, TypeDelete, TypeUpsert, TypeRPC, TypeEdgeFunction}

// Action is one of *Select, *Insert, *Update, *Delete, *Upsert, *RPC or
// *EdgeFunction.
type Action interface {
	Type() Type
	// Target is the table or function the action addresses.
	Target() string
	Accept(Visitor) error
}

// Visitor handles every variant. Implementations are checked by the
// compiler, so adding a variant breaks every dispatcher that misses it.
type Visitor interface {
	VisitSelect(*Select) error
	VisitInsert(*Insert) error
	VisitUpdate(*Update) error
	VisitDelete(*Delete) error
	VisitUpsert(*Upsert) error
	VisitRPC(*RPC) error
	VisitEdgeFunction(*EdgeFunction) error
}

// Filtering holds the filter clauses shared by Select, Update, Delete and RPC.
type Filtering struct {
	Filters         value.Value      `json:"filters"`
	AdvancedFilters []AdvancedFilter `json:"advancedFilters,omitempty"`
	OrConditions    []OrCondition    `json:"orConditions,omitempty"`
}

// Ordering holds the sort keys. OrderBy wins over the legacy Order list.
type Ordering struct {
	OrderBy []OrderConfig `json:"orderBy,omitempty"`
	Order   []OrderConfig `json:"order,omitempty"`
}

// Orders returns the effective sort keys.
func (o Ordering) Orders() []OrderConfig {
	if len(o.OrderBy) > 0 {
		return o.OrderBy
	}
	return o.Order
}

// Pagination holds limit/offset/range. Limit and offset may be numbers or
// numeric strings.
type Pagination struct {
	Limit  value.Value `json:"limit"`
	Offset value.Value `json:"offset"`
	Range  *Range      `json:"range,omitempty"`
}

// Range is an inclusive row window.
type Range struct {
	From value.Value `json:"from"`
	To   value.Value `json:"to"`
}

// Returning holds the projection of mutated rows. Returning wins over Select.
type Returning struct {
	Returning []string `json:"returning,omitempty"`
	Select    string   `json:"select,omitempty"`
}

// Projection returns the column list to send back, or "" for none.
func (r Returning) Projection() string {
	if len(r.Returning) > 0 {
		return strings.Join(r.Returning, ",")
	}
	return r.Select
}

// Select reads rows from a table.
type Select struct {
	Table      string      `json:"table"`
	Columns    []string    `json:"columns,omitempty"`
	TextSearch *TextSearch `json:"textSearch,omitempty"`
	Single     bool        `json:"single,omitempty"`
	MaybeOne   bool        `json:"maybeSingle,omitempty"`
	CSV        bool        `json:"csv,omitempty"`
	Count      string      `json:"count,omitempty"`
	Head       bool        `json:"head,omitempty"`
	Filtering
	Ordering
	Pagination
}

// Insert adds one row or a batch of rows.
type Insert struct {
	Table      string      `json:"table"`
	Values     value.Value `json:"values"`
	OnConflict string      `json:"onConflict,omitempty"`
	Returning
}

// Update changes the rows matched by its filters.
type Update struct {
	Table  string      `json:"table"`
	Values value.Value `json:"values"`
	Filtering
	Returning
}

// Delete removes the rows matched by its filters.
type Delete struct {
	Table string `json:"table"`
	Filtering
	Returning
}

// Upsert inserts or merges rows on a conflict key.
type Upsert struct {
	Table      string      `json:"table"`
	Values     value.Value `json:"values"`
	OnConflict string      `json:"onConflict,omitempty"`
	Returning
}

// RPC calls a database function and may shape its rows like a Select.
type RPC struct {
	Function string      `json:"function"`
	Args     value.Value `json:"args"`
	Single   bool        `json:"single,omitempty"`
	MaybeOne bool        `json:"maybeSingle,omitempty"`
	Filtering
	Ordering
	Pagination
}

// EdgeFunction invokes a deployed function over HTTP.
type EdgeFunction struct {
	Function string            `json:"function"`
	Body     value.Value       `json:"body"`
	Headers  map[string]string `json:"headers,omitempty"`
	Method   string            `json:"method,omitempty"`
}

func (*Select) Type() Type       { return TypeSelect }
func (*Insert) Type() Type       { return TypeInsert }
func (*Update) Type() Type       { return TypeUpdate }
func (*Delete) Type() Type       { return TypeDelete }
func (*Upsert) Type() Type       { return TypeUpsert }
func (*RPC) Type() Type          { return TypeRPC }
func (*EdgeFunction) Type() Type { return TypeEdgeFunction }

func (a *Select) Target() string       { return a.Table }
func (a *Insert) Target() string       { return a.Table }
func (a *Update) Target() string       { return a.Table }
func (a *Delete) Target() string       { return a.Table }
func (a *Upsert) Target() string       { return a.Table }
func (a *RPC) Target() string          { return a.Function }
func (a *EdgeFunction) Target() string { return a.Function }

func (a *Select) Accept(v Visitor) error       { return v.VisitSelect(a) }
func (a *Insert) Accept(v Visitor) error       { return v.VisitInsert(a) }
func (a *Update) Accept(v Visitor) error       { return v.VisitUpdate(a) }
func (a *Delete) Accept(v Visitor) error       { return v.VisitDelete(a) }
func (a *Upsert) Accept(v Visitor) error       { return v.VisitUpsert(a) }
func (a *RPC) Accept(v Visitor) error          { return v.VisitRPC(a) }
func (a *EdgeFunction) Accept(v Visitor) error { return v.VisitEdgeFunction(a) }

func newVariant(t Type) Action {
	switch t {
	case TypeSelect:
		return &Select{}
	case TypeInsert:
		return &Insert{}
	case TypeUpdate:
		return &Update{}
	case TypeDelete:
		return &Delete{}
	case TypeUpsert:
		return &Upsert{}
	case TypeRPC:
		return &RPC{}
	case TypeEdgeFunction:
		return &EdgeFunction{}
	}
	return nil
}

// Decode turns an action tree into its variant. Unknown tags and fields
// outside the variant's field set are validation errors naming path.
func Decode(path string, tree value.Value) (Action, error) {
	if tree.Kind() != value.Object {
		return nil, errs.Invalid(path, "action must be an object, got %s", tree.Kind())
	}
	tag, ok := tree.Get("type").Str()
	if !ok {
		return nil, errs.Invalid(path+".type", "action type is required")
	}
	act := newVariant(Type(tag))
	if act == nil {
		return nil, errs.Invalid(path+".type", "unknown action type %q", tag)
	}

	body := value.ObjectValue()
	for _, m := range tree.Members() {
		if m.Key != "type" {
			body = body.With(m.Key, m.Value)
		}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, &errs.ValidationError{Path: path, Err: err}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(act); err != nil {
		return nil, decodeError(path, err)
	}
	if err := validate(path, act); err != nil {
		return nil, err
	}
	return act, nil
}

func decodeError(path string, err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return errs.Invalid(path+"."+typeErr.Field, "expected %s, got %s", typeErr.Type, typeErr.Value)
	}
	msg := err.Error()
	// encoding/json reports `json: unknown field "x"`
	if field, ok := strings.CutPrefix(msg, "json: unknown field "); ok {
		return errs.Invalid(path+"."+strings.Trim(field, `"`), "field is not allowed for this action type")
	}
	return &errs.ValidationError{Path: path, Err: err}
}

// MustDecode is Decode for literals in tests.
func MustDecode(doc string) Action {
	act, err := Decode("action", value.MustParse(doc))
	if err != nil {
		panic(fmt.Sprintf("action.MustDecode: %v", err))
	}
	return act
}
