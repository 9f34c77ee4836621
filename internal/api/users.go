package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"finetune-portal/internal/models"
	"finetune-portal/internal/session"
	"finetune-portal/internal/store"
)

// handleUserStatus reports whether the caller has been approved to train.
func (s *Server) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := session.UserID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	user, err := s.users.GetUser(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"approved": false, "userId": userID})
		return
	}
	if err != nil {
		s.logger.Error("user-status: lookup", "user", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approved": user.Approved, "userId": user.ID})
}

type signupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,min=1,max=128"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// handleSignup registers a new user in the pending state. Accounts are not
// usable until an admin approves them.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid signup request: email, name and a password of at least 8 characters are required")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error("signup: hash password", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	user := models.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		Name:         req.Name,
		Approved:     false,
		PasswordHash: string(hash),
	}
	if _, err := s.users.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "An account with this email already exists")
			return
		}
		s.logger.Error("signup: create user", "email", req.Email, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if s.notifier != nil {
		s.notifier.SignupRequested(req.Email, req.Name)
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":          true,
		"requiresApproval": true,
		"message":          "Account created. An administrator must approve it before you can train models.",
	})
}
