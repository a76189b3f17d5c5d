package util

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xwb1989/sqlparser"
)

// QueryError explains why a lookup query was rejected.
type QueryError struct {
	Reason string
	Detail string
}

func (e *QueryError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
	}
	return e.Reason
}

// blockedFunctions are rejected anywhere in a lookup query.
var blockedFunctions = map[string]bool{
	// MySQL
	"sleep":        true,
	"benchmark":    true,
	"get_lock":     true,
	"release_lock": true,
	"load_file":    true,
	"sys_eval":     true,
	"sys_exec":     true,

	// Postgres
	"pg_sleep":             true,
	"pg_read_file":         true,
	"pg_read_binary_file":  true,
	"pg_ls_dir":            true,
	"lo_import":            true,
	"lo_export":            true,
	"dblink":               true,
	"dblink_exec":          true,
	"pg_terminate_backend": true,
	"pg_cancel_backend":    true,
	"set_config":           true,
}

// blockedSchemas hold server internals.
var blockedSchemas = map[string]bool{
	"mysql":              true,
	"information_schema": true,
	"performance_schema": true,
	"sys":                true,
	"pg_catalog":         true,
	"auth":               true,
}

// blockedPatterns catch what the parser lets through.
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bINTO\s+(OUTFILE|DUMPFILE)\b`),
	regexp.MustCompile(`(?i)\bFOR\s+UPDATE\b`),
	regexp.MustCompile(`--`),
	regexp.MustCompile(`/\*`),
}

// ValidateLookupQuery accepts a single read-only SELECT (or UNION of
// SELECTs) for reading the active configuration. The query is parsed with
// the MySQL grammar, so Postgres-only syntax such as ::casts is rejected.
func ValidateLookupQuery(query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return &QueryError{Reason: "empty query"}
	}
	for _, p := range blockedPatterns {
		if p.MatchString(query) {
			return &QueryError{Reason: "query contains blocked pattern", Detail: p.String()}
		}
	}

	pieces, err := sqlparser.SplitStatementToPieces(query)
	if err != nil {
		return &QueryError{Reason: "failed to parse SQL statement", Detail: err.Error()}
	}
	if len(pieces) == 0 {
		return &QueryError{Reason: "empty query"}
	}
	if len(pieces) > 1 {
		return &QueryError{Reason: "multi-statement queries are not allowed"}
	}

	stmt, err := sqlparser.Parse(pieces[0])
	if err != nil {
		return &QueryError{Reason: "failed to parse SQL statement", Detail: err.Error()}
	}
	sel, ok := stmt.(sqlparser.SelectStatement)
	if !ok {
		return &QueryError{Reason: "only SELECT queries are allowed", Detail: fmt.Sprintf("%T", stmt)}
	}
	return checkSelect(sel)
}

func checkSelect(stmt sqlparser.SelectStatement) error {
	switch s := stmt.(type) {
	case *sqlparser.Select:
		if s.Lock != "" {
			return &QueryError{Reason: "locking reads are not allowed", Detail: strings.TrimSpace(s.Lock)}
		}
		return checkNode(s)
	case *sqlparser.Union:
		if err := checkSelect(s.Left); err != nil {
			return err
		}
		return checkSelect(s.Right)
	case *sqlparser.ParenSelect:
		return checkSelect(s.Select)
	}
	return &QueryError{Reason: "unsupported select statement", Detail: fmt.Sprintf("%T", stmt)}
}

// checkNode walks every expression and table reference under node.
func checkNode(node sqlparser.SQLNode) error {
	var found error
	_ = sqlparser.Walk(func(n sqlparser.SQLNode) (bool, error) {
		switch x := n.(type) {
		case *sqlparser.FuncExpr:
			name := strings.ToLower(x.Name.String())
			if blockedFunctions[name] {
				found = &QueryError{Reason: "function not allowed", Detail: name}
				return false, nil
			}
		case sqlparser.TableName:
			if q := strings.ToLower(x.Qualifier.String()); blockedSchemas[q] {
				found = &QueryError{Reason: "access to system schema is not allowed", Detail: q}
				return false, nil
			}
		case *sqlparser.Subquery:
			if err := checkSelect(x.Select); err != nil {
				found = err
				return false, nil
			}
			return false, nil
		}
		return true, nil
	}, node)
	return found
}
