package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"finetune-portal/internal/models"
	"finetune-portal/internal/store"
)

type adminCreateRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,min=1,max=128"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// handleAdminCreateUser provisions a pre-approved account.
func (s *Server) handleAdminCreateUser(w http.ResponseWriter, r *http.Request) {
	var req adminCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request: email, name and a password of at least 8 characters are required")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error("admin: hash password", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	user := models.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		Name:         req.Name,
		Approved:     true,
		PasswordHash: string(hash),
	}
	if _, err := s.users.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "An account with this email already exists")
			return
		}
		s.logger.Error("admin: create user", "email", req.Email, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "userId": user.ID})
}

type approveRequest struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// handleAdminApprove flips a pending account to approved. The target may be
// named by id or by email.
func (s *Server) handleAdminApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}
	if req.UserID == "" && req.Email == "" {
		writeError(w, http.StatusBadRequest, "Missing userId or email")
		return
	}

	err := s.users.ApproveUser(r.Context(), req.UserID, req.Email)
	switch {
	case errors.Is(err, store.ErrAlreadyApproved):
		writeError(w, http.StatusBadRequest, "User is already approved")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case err != nil:
		s.logger.Error("admin: approve", "user", req.UserID, "email", req.Email, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

// handleAdminPending lists accounts awaiting approval.
func (s *Server) handleAdminPending(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.ListPendingUsers(r.Context())
	if err != nil {
		s.logger.Error("admin: list pending", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}
