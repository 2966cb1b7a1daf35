package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/minionlabs/minion-api/internal/server/middleware"
	"github.com/minionlabs/minion-api/internal/types"
)

// AuthHandler handles authentication-related HTTP requests.
type AuthHandler struct {
	userService *UserService
	jwtService  *JWTService
	logger      *zap.Logger
}

// NewAuthHandler creates a new AuthHandler with the given dependencies.
func NewAuthHandler(userService *UserService, jwtService *JWTService, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		userService: userService,
		jwtService:  jwtService,
		logger:      logger,
	}
}

// Register handles account registration requests.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		h.error(w, http.StatusBadRequest, extractValidationErrors(err))
		return
	}

	account, err := h.userService.Register(r.Context(), &req)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	token, err := h.jwtService.GenerateToken(account.ID, middleware.RoleUser)
	if err != nil {
		h.error(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	writeJSON(w, http.StatusCreated, types.LoginResponse{Account: account, Token: token}, h.logger)
}

// Login handles account login requests.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req types.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		h.error(w, http.StatusBadRequest, extractValidationErrors(err))
		return
	}

	account, err := h.userService.Login(r.Context(), &req)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	token, err := h.jwtService.GenerateToken(account.ID, middleware.RoleUser)
	if err != nil {
		h.error(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, types.LoginResponse{Account: account, Token: token}, h.logger)
}

// AdminLogin issues an admin token for the configured administrator.
func (h *AuthHandler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req types.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		h.error(w, http.StatusBadRequest, extractValidationErrors(err))
		return
	}

	subject, err := h.userService.AdminLogin(&req)
	if err != nil {
		h.logger.Warn("admin login rejected", zap.String("remote", r.RemoteAddr))
		h.serviceError(w, err)
		return
	}

	token, err := h.jwtService.GenerateToken(subject, middleware.RoleAdmin)
	if err != nil {
		h.error(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, types.LoginResponse{Token: token}, h.logger)
}

// Me returns the authenticated account.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		h.error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	account, err := h.userService.Account(r.Context(), userID)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account, h.logger)
}

// UpdatePassword changes the authenticated account's password.
func (h *AuthHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		h.error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req types.UpdatePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		h.error(w, http.StatusBadRequest, extractValidationErrors(err))
		return
	}

	if err := h.userService.UpdatePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		h.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated successfully"}, h.logger)
}

func (h *AuthHandler) error(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message}, h.logger)
}

func (h *AuthHandler) serviceError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("auth request failed", zap.Error(err))
	}
	h.error(w, status, publicMessage(err))
}

// extractValidationErrors extracts validation error messages from validator errors.
func extractValidationErrors(err error) string {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		// Return first validation error for simplicity
		ve := validationErrors[0]
		return fmt.Sprintf("validation error: %s - %s", ve.Field(), ve.Tag())
	}
	return "validation error: invalid request"
}
