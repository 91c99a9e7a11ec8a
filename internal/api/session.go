package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"chatdesk/internal/auth"
	"chatdesk/internal/storage"
)

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      storage.User `json:"user"`
}

type healthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    databaseHealth `json:"database"`
	Version     string         `json:"version"`
	Environment string         `json:"environment"`
}

type databaseHealth struct {
	Connected bool   `json:"connected"`
	Type      string `json:"type"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeAndValidate(w, r, &req, "Invalid login data") {
		return
	}
	if s.auth == nil {
		writeError(w, http.StatusServiceUnavailable, "Login is not available")
		return
	}

	user, err := s.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.writeFailure(w, r, "Failed to log in", err)
		return
	}
	if err != nil || auth.CheckPassword(user.PasswordHash, req.Password) != nil {
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	token, expires, err := s.auth.GenerateToken(user)
	if err != nil {
		s.writeFailure(w, r, "Failed to log in", err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expires.UTC(), User: user})
}

// handleMe returns the account behind the bearer token.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	user, err := s.store.GetUser(r.Context(), p.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}
	if err != nil {
		s.writeFailure(w, r, "Failed to fetch user", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleHealth always answers 200; a storage problem shows up in the database block.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	db := databaseHealth{Connected: true, Type: s.store.Backend()}
	if err := s.store.Ping(ctx); err != nil {
		db.Connected = false
		db.Error = err.Error()
	} else if _, err := s.store.ListAnalytics(ctx); err != nil {
		db.Connected = false
		db.Error = err.Error()
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Timestamp:   time.Now().UTC(),
		Database:    db,
		Version:     Version,
		Environment: s.env,
	})
}
