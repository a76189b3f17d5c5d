package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/askdba/supabase-mcp-server/internal/value"
)

const (
	acceptObject = "application/vnd.pgrst.object+json"
	acceptCSV    = "text/csv"
)

// Response is the outcome of a successful call. Data holds decoded JSON;
// Text holds non-JSON bodies such as CSV.
type Response struct {
	Status int
	Data   value.Value
	Text   string
	Count  *int64
}

// QueryBuilder starts an operation on one table.
type QueryBuilder struct {
	c     *Client
	table string
}

// From addresses a table or view.
func (c *Client) From(table string) *QueryBuilder {
	return &QueryBuilder{c: c, table: table}
}

// SelectOptions tunes a read.
type SelectOptions struct {
	// Count is "exact", "planned" or "estimated".
	Count string
	// Head skips the body and only returns the count.
	Head bool
}

// Select reads columns ("*" when empty).
func (q *QueryBuilder) Select(columns string, opts SelectOptions) *FilterBuilder {
	method := http.MethodGet
	if opts.Head {
		method = http.MethodHead
	}
	b := q.c.newFilterBuilder(method, restPath+"/"+q.table)
	b.query.Set("select", cleanColumns(columns))
	if opts.Count != "" {
		b.prefer = append(b.prefer, "count="+opts.Count)
	}
	return b
}

// Insert adds an object or an array of objects.
func (q *QueryBuilder) Insert(values value.Value) *FilterBuilder {
	b := q.c.newFilterBuilder(http.MethodPost, restPath+"/"+q.table)
	b.setBody(values)
	if values.Kind() == value.Array {
		if cols := unionColumns(values); cols != "" {
			b.query.Set("columns", cols)
		}
	}
	return b
}

// UpsertOptions tunes an upsert.
type UpsertOptions struct {
	OnConflict string
}

// Upsert inserts rows, merging on the conflict target.
func (q *QueryBuilder) Upsert(values value.Value, opts UpsertOptions) *FilterBuilder {
	b := q.Insert(values)
	b.prefer = append(b.prefer, "resolution=merge-duplicates")
	if opts.OnConflict != "" {
		b.query.Set("on_conflict", opts.OnConflict)
	}
	return b
}

// Update patches the rows matched by the filters that follow.
func (q *QueryBuilder) Update(values value.Value) *FilterBuilder {
	b := q.c.newFilterBuilder(http.MethodPatch, restPath+"/"+q.table)
	b.setBody(values)
	return b
}

// Delete removes the rows matched by the filters that follow.
func (q *QueryBuilder) Delete() *FilterBuilder {
	return q.c.newFilterBuilder(http.MethodDelete, restPath+"/"+q.table)
}

// Rpc calls a database function. Filters apply to table-shaped results.
func (c *Client) Rpc(fn string, args value.Value) *FilterBuilder {
	b := c.newFilterBuilder(http.MethodPost, restPath+"/rpc/"+fn)
	if args.IsNullish() {
		args = value.ObjectValue()
	}
	b.setBody(args)
	return b
}

// FilterBuilder accumulates filters, ordering, pagination and response
// shape for one request. Methods mutate and return the receiver.
type FilterBuilder struct {
	c       *Client
	method  string
	path    string
	query   url.Values
	header  http.Header
	prefer  []string
	body    []byte
	hasBody bool
	err     error

	maybeSingle bool
}

func (c *Client) newFilterBuilder(method, path string) *FilterBuilder {
	return &FilterBuilder{
		c:      c,
		method: method,
		path:   path,
		query:  url.Values{},
		header: http.Header{},
	}
}

func (b *FilterBuilder) setBody(v value.Value) {
	data, err := encodeBody(v)
	if err != nil {
		b.err = err
		return
	}
	b.body = data
	b.hasBody = true
}

func (b *FilterBuilder) filter(column, op, operand string) *FilterBuilder {
	b.query.Add(column, op+"."+operand)
	return b
}

func (b *FilterBuilder) Eq(column string, v value.Value) *FilterBuilder {
	return b.filter(column, "eq", v.Text())
}

func (b *FilterBuilder) Neq(column string, v value.Value) *FilterBuilder {
	return b.filter(column, "neq", v.Text())
}

func (b *FilterBuilder) Gt(column string, v value.Value) *FilterBuilder {
	return b.filter(column, "gt", v.Text())
}

func (b *FilterBuilder) Gte(column string, v value.Value) *FilterBuilder {
	return b.filter(column, "gte", v.Text())
}

func (b *FilterBuilder) Lt(column string, v value.Value) *FilterBuilder {
	return b.filter(column, "lt", v.Text())
}

func (b *FilterBuilder) Lte(column string, v value.Value) *FilterBuilder {
	return b.filter(column, "lte", v.Text())
}

func (b *FilterBuilder) Like(column string, v value.Value) *FilterBuilder {
	return b.filter(column, "like", v.Text())
}

func (b *FilterBuilder) Ilike(column string, v value.Value) *FilterBuilder {
	return b.filter(column, "ilike", v.Text())
}

// Is matches null, true or false.
func (b *FilterBuilder) Is(column string, v value.Value) *FilterBuilder {
	return b.filter(column, "is", v.Text())
}

// In matches any of the listed values. A scalar is treated as a one-item list.
func (b *FilterBuilder) In(column string, v value.Value) *FilterBuilder {
	elems := v.Elems()
	if v.Kind() != value.Array {
		elems = []value.Value{v}
	}
	parts := make([]string, 0, len(elems))
	for _, e := range elems {
		s := e.Text()
		if _, isStr := e.Str(); isStr && strings.ContainsAny(s, ",()") {
			s = `"` + s + `"`
		}
		parts = append(parts, s)
	}
	return b.filter(column, "in", "("+strings.Join(parts, ",")+")")
}

// Contains matches json, array or range columns containing v.
func (b *FilterBuilder) Contains(column string, v value.Value) *FilterBuilder {
	return b.filter(column, "cs", containerOperand(v))
}

// ContainedBy matches json, array or range columns contained in v.
func (b *FilterBuilder) ContainedBy(column string, v value.Value) *FilterBuilder {
	return b.filter(column, "cd", containerOperand(v))
}

// Overlaps matches array or range columns sharing an element with v.
func (b *FilterBuilder) Overlaps(column string, v value.Value) *FilterBuilder {
	return b.filter(column, "ov", containerOperand(v))
}

func (b *FilterBuilder) RangeGt(column string, v value.Value) *FilterBuilder {
	return b.filter(column, "sr", v.Text())
}

func (b *FilterBuilder) RangeGte(column string, v value.Value) *FilterBuilder {
	return b.filter(column, "nxl", v.Text())
}

func (b *FilterBuilder) RangeLt(column string, v value.Value) *FilterBuilder {
	return b.filter(column, "sl", v.Text())
}

func (b *FilterBuilder) RangeLte(column string, v value.Value) *FilterBuilder {
	return b.filter(column, "nxr", v.Text())
}

func (b *FilterBuilder) RangeAdjacent(column string, v value.Value) *FilterBuilder {
	return b.filter(column, "adj", v.Text())
}

// Match adds an equality filter per member of obj.
func (b *FilterBuilder) Match(obj value.Value) *FilterBuilder {
	for _, m := range obj.Members() {
		b.Eq(m.Key, m.Value)
	}
	return b
}

// Or adds a disjunction in PostgREST syntax, e.g. "id.eq.1,name.eq.x".
func (b *FilterBuilder) Or(conditions, referencedTable string) *FilterBuilder {
	b.query.Add(scoped(referencedTable, "or"), "("+conditions+")")
	return b
}

// TextSearch runs a full-text query. typ is "", "plain", "phrase" or
// "websearch"; config names the text search configuration.
func (b *FilterBuilder) TextSearch(column, query, typ, config string) *FilterBuilder {
	prefix := ""
	switch typ {
	case "plain":
		prefix = "pl"
	case "phrase":
		prefix = "ph"
	case "websearch":
		prefix = "w"
	}
	op := prefix + "fts"
	if config != "" {
		op += "(" + config + ")"
	}
	return b.filter(column, op, query)
}

// Order appends a sort key. Repeated calls build a multi-key sort.
func (b *FilterBuilder) Order(column string, ascending bool, referencedTable string) *FilterBuilder {
	key := scoped(referencedTable, "order")
	dir := "desc"
	if ascending {
		dir = "asc"
	}
	clause := column + "." + dir
	if existing := b.query.Get(key); existing != "" {
		clause = existing + "," + clause
	}
	b.query.Set(key, clause)
	return b
}

// Limit caps the number of rows.
func (b *FilterBuilder) Limit(n int64, referencedTable string) *FilterBuilder {
	b.query.Set(scoped(referencedTable, "limit"), strconv.FormatInt(n, 10))
	return b
}

// Range selects rows from..to inclusive.
func (b *FilterBuilder) Range(from, to int64, referencedTable string) *FilterBuilder {
	b.query.Set(scoped(referencedTable, "offset"), strconv.FormatInt(from, 10))
	b.query.Set(scoped(referencedTable, "limit"), strconv.FormatInt(to-from+1, 10))
	return b
}

// Select asks a mutation to return the affected rows.
func (b *FilterBuilder) Select(columns string) *FilterBuilder {
	b.query.Set("select", cleanColumns(columns))
	b.prefer = append(b.prefer, "return=representation")
	return b
}

// Single requires exactly one row and returns it as an object.
func (b *FilterBuilder) Single() *FilterBuilder {
	b.header.Set("Accept", acceptObject)
	return b
}

// MaybeSingle returns one row as an object, or null when there is none.
func (b *FilterBuilder) MaybeSingle() *FilterBuilder {
	if b.method == http.MethodGet {
		b.header.Set("Accept", "application/json")
	} else {
		b.header.Set("Accept", acceptObject)
	}
	b.maybeSingle = true
	return b
}

// CSV returns the rows as CSV text.
func (b *FilterBuilder) CSV() *FilterBuilder {
	b.header.Set("Accept", acceptCSV)
	return b
}

// Execute sends the request.
func (b *FilterBuilder) Execute(ctx context.Context) (*Response, error) {
	if b.err != nil {
		return nil, b.err
	}
	header := b.header.Clone()
	if header.Get("Accept") == "" {
		header.Set("Accept", "application/json")
	}
	if len(b.prefer) > 0 {
		header.Set("Prefer", strings.Join(b.prefer, ","))
	}
	raw, err := b.c.do(ctx, request{
		method:  b.method,
		path:    b.path,
		query:   b.query,
		header:  header,
		body:    b.body,
		hasBody: b.hasBody,
	})
	if err != nil {
		return nil, err
	}
	if raw.status >= 400 {
		apiErr := parseError(raw.status, raw.body)
		if b.maybeSingle && b.method != http.MethodGet && strings.Contains(apiErr.Details, "0 rows") {
			return &Response{Status: raw.status, Data: value.NullValue()}, nil
		}
		return nil, apiErr
	}

	resp := &Response{Status: raw.status, Count: parseCount(raw.header.Get("Content-Range"))}
	switch {
	case header.Get("Accept") == acceptCSV:
		resp.Text = string(raw.body)
	case b.method == http.MethodHead || len(raw.body) == 0:
		resp.Data = value.NullValue()
	default:
		data, err := value.Parse(raw.body)
		if err != nil {
			resp.Text = string(raw.body)
		} else {
			resp.Data = data
		}
	}

	if b.maybeSingle && b.method == http.MethodGet && resp.Data.Kind() == value.Array {
		switch rows := resp.Data.Elems(); len(rows) {
		case 0:
			resp.Data = value.NullValue()
		case 1:
			resp.Data = rows[0]
		default:
			return nil, &APIError{
				Status:  http.StatusNotAcceptable,
				Code:    "PGRST116",
				Message: "JSON object requested, multiple (or no) rows returned",
				Details: fmt.Sprintf("Results contain %d rows, application/vnd.pgrst.object+json requires 1 row", len(rows)),
			}
		}
	}
	return resp, nil
}

func scoped(referencedTable, key string) string {
	if referencedTable == "" {
		return key
	}
	return referencedTable + "." + key
}

func containerOperand(v value.Value) string {
	switch v.Kind() {
	case value.Array:
		parts := make([]string, 0, v.Len())
		for _, e := range v.Elems() {
			parts = append(parts, e.Text())
		}
		return "{" + strings.Join(parts, ",") + "}"
	case value.Object:
		return v.Text()
	}
	return v.Text()
}

// cleanColumns strips whitespace outside double quotes.
func cleanColumns(columns string) string {
	if columns == "" {
		return "*"
	}
	var sb strings.Builder
	quoted := false
	for _, r := range columns {
		switch {
		case r == '"':
			quoted = !quoted
		case !quoted && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func unionColumns(rows value.Value) string {
	seen := map[string]struct{}{}
	var cols []string
	for _, row := range rows.Elems() {
		for _, m := range row.Members() {
			if _, ok := seen[m.Key]; ok {
				continue
			}
			seen[m.Key] = struct{}{}
			cols = append(cols, `"`+m.Key+`"`)
		}
	}
	return strings.Join(cols, ",")
}

// parseCount reads the total from a Content-Range header like "0-9/120".
func parseCount(contentRange string) *int64 {
	idx := strings.LastIndexByte(contentRange, '/')
	if idx < 0 {
		return nil
	}
	n, err := strconv.ParseInt(contentRange[idx+1:], 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
