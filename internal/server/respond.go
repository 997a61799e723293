package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"objectos/internal/apierr"
	"objectos/pkg/logging"
)

// envelope is the response wrapper for non-data endpoints. Error carries a
// stable machine-readable code; Message and Details are for humans.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// Error codes used by the envelope. Clients branch on these, never on
// message text.
const (
	codeValidation   = "VALIDATION_ERROR"
	codeNotFound     = "NOT_FOUND"
	codePermission   = "PERMISSION_DENIED"
	codeConflict     = "CONFLICT"
	codeUnauthorized = "UNAUTHORIZED"
	codeInternal     = "INTERNAL_ERROR"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("HTTP", err, "Failed to encode response")
	}
}

// respond writes a success envelope.
func (s *Server) respond(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, envelope{Success: status < http.StatusBadRequest, Data: data})
}

// respondMessage writes a success envelope with a human-readable note and no
// data, used by mutations that have nothing useful to return.
func (s *Server) respondMessage(w http.ResponseWriter, status int, format string, args ...interface{}) {
	writeJSON(w, status, envelope{Success: true, Message: fmt.Sprintf(format, args...)})
}

// fail writes an error envelope with an explicit status and code.
func (s *Server) fail(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelope{Success: false, Error: code, Message: message})
}

// writeError translates a typed error into status, code and details. Unknown
// errors become 500 with a generic message; the real error goes to the log,
// not the wire.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if verr := apierr.AsValidation(err); verr != nil {
		writeJSON(w, http.StatusBadRequest, envelope{
			Success: false,
			Error:   codeValidation,
			Message: "validation failed",
			Details: verr.Errors,
		})
		return
	}

	var denied *apierr.PermissionDeniedError
	if errors.As(err, &denied) {
		s.fail(w, http.StatusForbidden, denied.Code(), denied.Error())
		return
	}

	switch {
	case apierr.IsNotFound(err):
		s.fail(w, http.StatusNotFound, codeNotFound, err.Error())
	case apierr.IsConflict(err), apierr.IsNotCustomizable(err):
		s.fail(w, http.StatusConflict, codeConflict, err.Error())
	default:
		logging.Error("HTTP", err, "Request %s %s failed", r.Method, r.URL.Path)
		s.fail(w, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}

// decodeBody parses a JSON request body into dst. Unknown fields are
// rejected so typos in client payloads surface as 400s instead of silently
// dropped options.
func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		verr := &apierr.ValidationErrors{}
		verr.Add("body", "invalid JSON: %v", err)
		return verr
	}
	return nil
}
