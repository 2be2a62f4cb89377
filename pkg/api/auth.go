package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"ixf-sync/pkg/auth"
)

type ctxKey struct{}

// Admin is the single configured API account.
type Admin struct {
	Username     string
	PasswordHash string // bcrypt
}

// actor returns the username of the authenticated caller.
func actor(r *http.Request) string {
	if c, ok := r.Context().Value(ctxKey{}).(*auth.Claims); ok {
		return c.Username
	}
	return "api"
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if s.Admin.Username == "" || req.Username != s.Admin.Username || !auth.CheckPassword(s.Admin.PasswordHash, req.Password) {
		s.Logger.Warn("login rejected", "username", req.Username, "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := s.Signer.Generate(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token})
}

// AuthMiddleware requires a valid bearer token. Websocket clients may pass
// it as ?token= instead.
func (s *Server) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		claims, err := s.Signer.Parse(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims)))
	}
}
