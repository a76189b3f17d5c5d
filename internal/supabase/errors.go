package supabase

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// APIError is an error body returned by PostgREST, GoTrue or the functions
// gateway.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return http.StatusText(e.Status)
}

// ErrorCode returns the backend error code.
func (e *APIError) ErrorCode() string { return e.Code }

// parseError decodes the error body of a failed response. PostgREST uses
// {code,message,details,hint}; GoTrue uses {error,error_description} or
// {code,error_code,msg}.
func parseError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		e.Message = strings.TrimSpace(string(body))
		if e.Message == "" {
			e.Message = http.StatusText(status)
		}
		return e
	}
	str := func(key string) string {
		v, ok := raw[key]
		if !ok || string(v) == "null" {
			return ""
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil {
			return n.String()
		}
		return string(v)
	}
	// GoTrue reports the HTTP status as a numeric code; error_code is the
	// useful one.
	code := str("code")
	if _, err := strconv.Atoi(code); err == nil {
		code = ""
	}
	e.Code = firstNonEmpty(str("error_code"), code, str("error"))
	e.Message = firstNonEmpty(str("message"), str("msg"), str("error_description"), str("error"))
	e.Details = str("details")
	e.Hint = str("hint")
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
