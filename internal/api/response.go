// internal/api/response.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxJSONBodyBytes caps request bodies read by DecodeJSONBody.
const MaxJSONBodyBytes int64 = 1 << 20

// Response is the envelope every REST endpoint answers with.
type Response struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteSuccess writes data in a 200 envelope.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{Success: true, Data: data, RequestID: w.Header().Get(RequestIDHeader)})
}

// WriteError writes message in an error envelope.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, Response{Success: false, Error: message, RequestID: w.Header().Get(RequestIDHeader)})
}

// WriteFailure writes a non-2xx envelope that still carries data, for
// failures with a structured body.
func WriteFailure(w http.ResponseWriter, status int, message string, data any) {
	WriteJSON(w, status, Response{Success: false, Error: message, Data: data, RequestID: w.Header().Get(RequestIDHeader)})
}

// WriteBadRequest writes a 400.
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message)
}

// WriteInternalError writes a 500.
func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message)
}

// WriteNotFound writes a 404.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message)
}

// WriteMethodNotAllowed writes a 405.
func WriteMethodNotAllowed(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusMethodNotAllowed, message)
}

// DecodeJSONBody reads exactly one JSON value from the body into dst. An
// empty body leaves dst untouched.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxJSONBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return fmt.Errorf("request body must contain a single JSON value")
		}
		return err
	}
	return nil
}

// WriteDecodeError maps a DecodeJSONBody failure to 413 or 400.
func WriteDecodeError(w http.ResponseWriter, err error) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	WriteBadRequest(w, "invalid JSON body: "+err.Error())
}
