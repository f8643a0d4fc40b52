package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/monorkin/device-fleet-manager/internal/fault"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type messageBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

// statusFor gives each fault kind its own status. Bad credentials on an
// authenticated route are answered by the auth middleware with 401, so an
// Unauthorized fault here is a scope or token-state refusal.
func statusFor(kind fault.Kind) int {
	switch kind {
	case fault.Validation:
		return http.StatusBadRequest
	case fault.NotFound:
		return http.StatusNotFound
	case fault.Conflict:
		return http.StatusConflict
	case fault.Unauthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorStatus(w, r, err, statusFor(fault.KindOf(err)))
}

func (s *Server) writeErrorStatus(w http.ResponseWriter, r *http.Request, err error, status int) {
	kind := fault.KindOf(err)
	message := err.Error()

	if kind == fault.Internal {
		s.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		message = "internal server error"
	} else {
		s.logger.Warn("Request rejected", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	}

	writeJSON(w, status, errorBody{Error: message, Kind: kind.String()})
}

// decodeJSON reads one JSON object from the body into v.
func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fault.Validationf("request body is empty")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fault.Validationf("request body is too large")
		}
		return fault.Wrap(fault.Validation, err, "malformed JSON body")
	}
	return nil
}
