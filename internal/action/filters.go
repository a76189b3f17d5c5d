package action

import (
	"strconv"

	"github.com/askdba/supabase-mcp-server/internal/errs"
	"github.com/askdba/supabase-mcp-server/internal/value"
)

// Operation names an advanced filter comparison.
type Operation string

const (
	OpEq            Operation = "eq"
	OpNeq           Operation = "neq"
	OpGt            Operation = "gt"
	OpGte           Operation = "gte"
	OpLt            Operation = "lt"
	OpLte           Operation = "lte"
	OpLike          Operation = "like"
	OpIlike         Operation = "ilike"
	OpIs            Operation = "is"
	OpIn            Operation = "in"
	OpContains      Operation = "contains"
	OpContainedBy   Operation = "containedBy"
	OpRangeGt       Operation = "rangeGt"
	OpRangeGte      Operation = "rangeGte"
	OpRangeLt       Operation = "rangeLt"
	OpRangeLte      Operation = "rangeLte"
	OpRangeAdjacent Operation = "rangeAdjacent"
	OpOverlaps      Operation = "overlaps"
	OpMatch         Operation = "match"
)

var operations = map[Operation]struct{}{
	OpEq: {}, OpNeq: {}, OpGt: {}, OpGte: {}, OpLt: {}, OpLte: {},
	OpLike: {}, OpIlike: {}, OpIs: {}, OpIn: {}, OpContains: {}, OpContainedBy: {},
	OpRangeGt: {}, OpRangeGte: {}, OpRangeLt: {}, OpRangeLte: {}, OpRangeAdjacent: {},
	OpOverlaps: {}, OpMatch: {},
}

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	_, ok := operations[op]
	return ok
}

// AdvancedFilter applies one named operation to a column. Match takes an
// object of column/value pairs and ignores Column.
type AdvancedFilter struct {
	Column          string      `json:"column"`
	Operation       Operation   `json:"operation"`
	Value           value.Value `json:"value"`
	ReferencedTable string      `json:"referencedTable,omitempty"`
}

// OrCondition is a raw PostgREST disjunction such as "id.eq.2,name.eq.Han".
type OrCondition struct {
	Conditions      string `json:"conditions"`
	ReferencedTable string `json:"referencedTable,omitempty"`
}

// TextSearch runs a full-text query against a tsvector column.
type TextSearch struct {
	Column string `json:"column"`
	Query  string `json:"query"`
	Type   string `json:"type,omitempty"`
	Config string `json:"config,omitempty"`
}

// OrderConfig is one sort key.
type OrderConfig struct {
	Column          string `json:"column"`
	Ascending       *bool  `json:"ascending,omitempty"`
	Direction       string `json:"direction,omitempty"`
	ReferencedTable string `json:"referencedTable,omitempty"`
}

// IsAscending resolves the sort direction: an explicit flag wins, then the
// legacy direction, and no hint at all means ascending.
func (o OrderConfig) IsAscending() bool {
	if o.Ascending != nil {
		return *o.Ascending
	}
	return o.Direction == "" || o.Direction == "asc"
}

func validate(path string, act Action) error {
	switch a := act.(type) {
	case *Select:
		if a.Table == "" {
			return errs.Invalid(path+".table", "table is required")
		}
		switch a.Count {
		case "", "exact", "planned", "estimated":
		default:
			return errs.Invalid(path+".count", "count must be one of exact, planned, estimated")
		}
		if ts := a.TextSearch; ts != nil {
			if ts.Column == "" || ts.Query == "" {
				return errs.Invalid(path+".textSearch", "column and query are required")
			}
			switch ts.Type {
			case "", "plain", "phrase", "websearch":
			default:
				return errs.Invalid(path+".textSearch.type", "type must be one of plain, phrase, websearch")
			}
		}
		if err := validateFiltering(path, a.Filtering); err != nil {
			return err
		}
		if err := validatePagination(path, a.Pagination); err != nil {
			return err
		}
		return validateOrdering(path, a.Ordering)
	case *Insert:
		return validateWrite(path, a.Table, a.Values, true)
	case *Upsert:
		return validateWrite(path, a.Table, a.Values, true)
	case *Update:
		if err := validateWrite(path, a.Table, a.Values, true); err != nil {
			return err
		}
		return validateFiltering(path, a.Filtering)
	case *Delete:
		if err := validateWrite(path, a.Table, value.Value{}, false); err != nil {
			return err
		}
		return validateFiltering(path, a.Filtering)
	case *RPC:
		if a.Function == "" {
			return errs.Invalid(path+".function", "function is required")
		}
		if k := a.Args.Kind(); k != value.Undefined && k != value.Object && k != value.String {
			return errs.Invalid(path+".args", "args must be an object")
		}
		if err := validateFiltering(path, a.Filtering); err != nil {
			return err
		}
		if err := validatePagination(path, a.Pagination); err != nil {
			return err
		}
		return validateOrdering(path, a.Ordering)
	case *EdgeFunction:
		if a.Function == "" {
			return errs.Invalid(path+".function", "function is required")
		}
		switch a.Method {
		case "", "GET", "POST", "PUT", "DELETE", "PATCH":
		default:
			return errs.Invalid(path+".method", "method must be one of GET, POST, PUT, DELETE, PATCH")
		}
	}
	return nil
}

func validateWrite(path, table string, values value.Value, needValues bool) error {
	if table == "" {
		return errs.Invalid(path+".table", "table is required")
	}
	if !needValues {
		return nil
	}
	switch values.Kind() {
	case value.Object, value.Array, value.String:
		return nil
	case value.Undefined:
		return errs.Invalid(path+".values", "values are required")
	}
	return errs.Invalid(path+".values", "values must be an object or an array of objects")
}

func validateFiltering(path string, f Filtering) error {
	if k := f.Filters.Kind(); k != value.Undefined && k != value.Object && k != value.String {
		return errs.Invalid(path+".filters", "filters must be an object")
	}
	for i, af := range f.AdvancedFilters {
		p := path + ".advancedFilters[" + strconv.Itoa(i) + "]"
		if !af.Operation.Valid() {
			return errs.Invalid(p+".operation", "unsupported filter operation %q", af.Operation)
		}
		if af.Operation != OpMatch && af.Column == "" {
			return errs.Invalid(p+".column", "column is required")
		}
	}
	for i, oc := range f.OrConditions {
		if oc.Conditions == "" {
			return errs.Invalid(path+".orConditions["+strconv.Itoa(i)+"].conditions", "conditions are required")
		}
	}
	return nil
}

func validateOrdering(path string, o Ordering) error {
	check := func(field string, list []OrderConfig) error {
		for i, oc := range list {
			p := path + "." + field + "[" + strconv.Itoa(i) + "]"
			if oc.Column == "" {
				return errs.Invalid(p+".column", "column is required")
			}
			if oc.Direction != "" && oc.Direction != "asc" && oc.Direction != "desc" {
				return errs.Invalid(p+".direction", "direction must be asc or desc")
			}
		}
		return nil
	}
	if err := check("orderBy", o.OrderBy); err != nil {
		return err
	}
	return check("order", o.Order)
}

func validatePagination(path string, p Pagination) error {
	if p.Range != nil && (p.Range.From.IsUndefined() || p.Range.To.IsUndefined()) {
		return errs.Invalid(path+".range", "range needs from and to")
	}
	return nil
}
