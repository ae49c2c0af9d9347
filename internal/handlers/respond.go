package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prudhvinik1/locsync/internal/apperr"
	"github.com/prudhvinik1/locsync/internal/services"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps the error kind to a status code. Internal errors are
// logged and their detail is not sent to the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: apperr.KindOf(err).String()})
}

func statusFor(err error) int {
	if errors.Is(err, services.ErrInvalidCredentials) || errors.Is(err, services.ErrInvalidToken) {
		return http.StatusUnauthorized
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func decode(r *http.Request, op string, dest any) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return apperr.Validation(op, "invalid request body: %v", err)
	}
	return nil
}
