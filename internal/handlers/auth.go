package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/prudhvinik1/locsync/internal/services"
)

type ctxKey int

const (
	userIDKey ctxKey = iota
	tokenKey
)

// RequireAuth resolves the bearer token to a user id. Tokens whose session
// was logged out are rejected.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			h.writeError(w, r, services.ErrInvalidToken)
			return
		}

		claims, err := h.auth.Authenticate(r.Context(), token)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, claims.UserID())
		ctx = context.WithValue(ctx, tokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterRequest
	if err := decode(r, "register", &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	account, err := h.auth.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req services.LoginRequest
	if err := decode(r, "login", &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	resp, err := h.auth.Login(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token, _ := r.Context().Value(tokenKey).(string)
	if err := h.auth.Logout(r.Context(), token); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
