package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"chat-core/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor сопоставляет ошибки ядра с HTTP-статусами.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidMessage), errors.Is(err, domain.ErrInvalidParticipant):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUpload):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrWrite), errors.Is(err, domain.ErrSubscription):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "Request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		s.log.DebugContext(r.Context(), "Request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}
