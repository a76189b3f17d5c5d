package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/askdba/supabase-mcp-server/internal/action"
	"github.com/askdba/supabase-mcp-server/internal/errs"
	"github.com/askdba/supabase-mcp-server/internal/supabase"
	"github.com/askdba/supabase-mcp-server/internal/template"
	"github.com/askdba/supabase-mcp-server/internal/value"
)

const (
	// defaultPageSize is the window used when only an offset is given.
	defaultPageSize = 1000

	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// call runs one resolved action with the client captured for its attempt.
type call struct {
	ctx    context.Context
	client *supabase.Client
	exec   *Executor
	result *Result
}

var _ action.Visitor = (*call)(nil)

func (c *call) VisitSelect(a *action.Select) error {
	b := c.client.From(a.Table).Select(strings.Join(a.Columns, ","), supabase.SelectOptions{
		Count: a.Count,
		Head:  a.Head,
	})
	if _, err := applyFilters(b, a.Filtering, a.TextSearch); err != nil {
		return err
	}
	applyOrdering(b, a.Ordering)
	applyPagination(b, a.Pagination)
	switch {
	case a.Single:
		b.Single()
	case a.MaybeOne:
		b.MaybeSingle()
	case a.CSV:
		b.CSV()
	}
	return c.run(b, "Select", a.Table)
}

func (c *call) VisitInsert(a *action.Insert) error {
	rows, err := c.rows(a.Values)
	if err != nil {
		return err
	}
	// onConflict belongs to upsert; a plain insert reports conflicts.
	b := c.client.From(a.Table).Insert(rows)
	project(b, a.Returning)
	return c.run(b, "Insert", a.Table)
}

func (c *call) VisitUpdate(a *action.Update) error {
	rows, err := c.rows(a.Values)
	if err != nil {
		return err
	}
	if rows.Kind() != value.Object {
		return errs.Invalid("action.values", "update values must be an object")
	}
	b := c.client.From(a.Table).Update(rows)
	n, err := applyFilters(b, a.Filtering, nil)
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.Invalid("action.filters", "update on %s needs at least one filter", a.Table)
	}
	project(b, a.Returning)
	return c.run(b, "Update", a.Table)
}

func (c *call) VisitDelete(a *action.Delete) error {
	b := c.client.From(a.Table).Delete()
	n, err := applyFilters(b, a.Filtering, nil)
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.Invalid("action.filters", "delete on %s needs at least one filter", a.Table)
	}
	project(b, a.Returning)
	return c.run(b, "Delete", a.Table)
}

func (c *call) VisitUpsert(a *action.Upsert) error {
	rows, err := c.rows(a.Values)
	if err != nil {
		return err
	}
	b := c.client.From(a.Table).Upsert(rows, supabase.UpsertOptions{OnConflict: a.OnConflict})
	project(b, a.Returning)
	return c.run(b, "Upsert", a.Table)
}

func (c *call) VisitRPC(a *action.RPC) error {
	if k := a.Args.Kind(); k != value.Undefined && k != value.Null && k != value.Object {
		return errs.Invalid("action.args", "args must be an object, got %s", k)
	}
	b := c.client.Rpc(a.Function, a.Args)
	if _, err := applyFilters(b, a.Filtering, nil); err != nil {
		return err
	}
	applyOrdering(b, a.Ordering)
	applyPagination(b, a.Pagination)
	switch {
	case a.Single:
		b.Single()
	case a.MaybeOne:
		b.MaybeSingle()
	}
	return c.run(b, "RPC", a.Function)
}

func (c *call) VisitEdgeFunction(a *action.EdgeFunction) error {
	opts := supabase.InvokeOptions{Headers: a.Headers, Method: a.Method}
	if !a.Body.IsNullish() {
		opts.Body = a.Body
	}
	resp, err := c.client.Invoke(c.ctx, a.Function, opts)
	if err != nil {
		return backendError("Edge function", a.Function, err)
	}
	c.result = newResult(resp)
	return nil
}

func (c *call) run(b *supabase.FilterBuilder, op, target string) error {
	resp, err := b.Execute(c.ctx)
	if err != nil {
		return backendError(op, target, err)
	}
	c.result = newResult(resp)
	return nil
}

// rows checks a resolved values payload and substitutes auth.uid() and
// now().
func (c *call) rows(v value.Value) (value.Value, error) {
	switch v.Kind() {
	case value.Object:
	case value.Array:
		for i, row := range v.Elems() {
			if row.Kind() != value.Object {
				return value.Value{}, errs.Invalid(fmt.Sprintf("action.values[%d]", i), "row must be an object, got %s", row.Kind())
			}
		}
	default:
		return value.Value{}, errs.Invalid("action.values", "values must be an object or an array of objects, got %s", v.Kind())
	}
	return c.exec.specialValues(v), nil
}

// specialValues replaces the strings "auth.uid()" and "now()" anywhere in v.
func (e *Executor) specialValues(v value.Value) value.Value {
	var (
		now    value.Value
		nowSet bool
	)
	return v.Map(func(x value.Value) value.Value {
		s, ok := x.Str()
		if !ok {
			return x
		}
		switch s {
		case "auth.uid()":
			if e.auth == nil {
				return value.NullValue()
			}
			if id := e.auth.UserID(); id != "" {
				return value.StringValue(id)
			}
			return value.NullValue()
		case "now()":
			// one instant per payload
			if !nowSet {
				now = value.StringValue(e.now().UTC().Format(timestampLayout))
				nowSet = true
			}
			return now
		}
		return x
	})
}

// applyFilters adds basic, advanced, OR and text search clauses in that
// order and reports how many were added.
func applyFilters(b *supabase.FilterBuilder, f action.Filtering, ts *action.TextSearch) (int, error) {
	n := 0
	switch f.Filters.Kind() {
	case value.Undefined, value.Null:
	case value.Object:
		for _, m := range template.CleanFilters(f.Filters).Members() {
			b.Eq(m.Key, m.Value)
			n++
		}
	default:
		return 0, errs.Invalid("action.filters", "filters must be an object, got %s", f.Filters.Kind())
	}

	for i, af := range f.AdvancedFilters {
		if err := applyAdvanced(b, af); err != nil {
			var ve *errs.ValidationError
			if errors.As(err, &ve) {
				ve.Path = fmt.Sprintf("action.advancedFilters[%d]%s", i, ve.Path)
			}
			return 0, err
		}
		n++
	}
	for _, oc := range f.OrConditions {
		b.Or(oc.Conditions, oc.ReferencedTable)
		n++
	}
	if ts != nil {
		b.TextSearch(ts.Column, ts.Query, ts.Type, ts.Config)
		n++
	}
	return n, nil
}

func applyAdvanced(b *supabase.FilterBuilder, af action.AdvancedFilter) error {
	col := af.Column
	if af.ReferencedTable != "" {
		col = af.ReferencedTable + "." + col
	}
	v := af.Value
	switch af.Operation {
	case action.OpEq:
		b.Eq(col, v)
	case action.OpNeq:
		b.Neq(col, v)
	case action.OpGt:
		b.Gt(col, v)
	case action.OpGte:
		b.Gte(col, v)
	case action.OpLt:
		b.Lt(col, v)
	case action.OpLte:
		b.Lte(col, v)
	case action.OpLike:
		b.Like(col, v)
	case action.OpIlike:
		b.Ilike(col, v)
	case action.OpIs:
		b.Is(col, v)
	case action.OpIn:
		b.In(col, v)
	case action.OpContains:
		b.Contains(col, v)
	case action.OpContainedBy:
		b.ContainedBy(col, v)
	case action.OpRangeGt:
		b.RangeGt(col, v)
	case action.OpRangeGte:
		b.RangeGte(col, v)
	case action.OpRangeLt:
		b.RangeLt(col, v)
	case action.OpRangeLte:
		b.RangeLte(col, v)
	case action.OpRangeAdjacent:
		b.RangeAdjacent(col, v)
	case action.OpOverlaps:
		b.Overlaps(col, v)
	case action.OpMatch:
		if v.Kind() != value.Object {
			return errs.Invalid(".value", "match needs an object, got %s", v.Kind())
		}
		if af.ReferencedTable == "" {
			b.Match(v)
			break
		}
		for _, m := range v.Members() {
			b.Eq(af.ReferencedTable+"."+m.Key, m.Value)
		}
	default:
		return errs.Invalid(".operation", "unsupported filter operation %q", af.Operation)
	}
	return nil
}

func applyOrdering(b *supabase.FilterBuilder, o action.Ordering) {
	for _, oc := range o.Orders() {
		b.Order(oc.Column, oc.IsAscending(), oc.ReferencedTable)
	}
}

// applyPagination honors an explicit range first, then offset (with limit or
// the default page size), then limit alone. Values that do not parse as
// integers, or are negative, are ignored.
func applyPagination(b *supabase.FilterBuilder, p action.Pagination) {
	if r := p.Range; r != nil {
		from, okFrom := nonNegative(r.From)
		to, okTo := nonNegative(r.To)
		if okFrom && okTo && from <= to {
			b.Range(from, to, "")
			return
		}
	}
	limit, hasLimit := nonNegative(p.Limit)
	if offset, ok := nonNegative(p.Offset); ok {
		size := int64(defaultPageSize)
		if hasLimit {
			size = limit
		}
		if size > 0 && offset <= math.MaxInt64-size+1 {
			b.Range(offset, offset+size-1, "")
			return
		}
	}
	if hasLimit {
		b.Limit(limit, "")
	}
}

func nonNegative(v value.Value) (int64, bool) {
	n, ok := v.Int()
	if !ok || n < 0 {
		return 0, false
	}
	return n, true
}

func project(b *supabase.FilterBuilder, r action.Returning) {
	if cols := r.Projection(); cols != "" {
		b.Select(cols)
	}
}

func backendError(op, target string, err error) *errs.BackendError {
	be := &errs.BackendError{Operation: op, Target: target, Message: err.Error(), Err: err}
	var apiErr *supabase.APIError
	if errors.As(err, &apiErr) {
		be.Code = apiErr.Code
	}
	return be
}
