package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
)

// StudentLoginRequest is the payload for student login.
type StudentLoginRequest struct {
	NISN     string `json:"nisn" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AdminLoginRequest is the payload for proctor login.
type AdminLoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authService *service.AuthService
	log         zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *service.AuthService, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		log:         log.With().Str("component", "auth_handler").Logger(),
	}
}

// StudentLogin godoc
// POST /api/v1/auth/student/login
// Validates NISN + password and returns a JWT.
func (h *AuthHandler) StudentLogin(c *gin.Context) {
	var req StudentLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	token, studentID, err := h.authService.LoginStudent(req.NISN, req.Password)
	if err != nil {
		h.loginFailed(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"token": token, "user_id": studentID})
}

// AdminLogin godoc
// POST /api/v1/auth/admin/login
func (h *AuthHandler) AdminLogin(c *gin.Context) {
	var req AdminLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	token, err := h.authService.LoginProctor(req.Email, req.Password)
	if err != nil {
		h.loginFailed(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"token": token})
}

func (h *AuthHandler) loginFailed(c *gin.Context, err error) {
	if errors.Is(err, service.ErrInvalidCredentials) {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}
	h.log.Error().Err(err).Msg("Login failed")
	response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
}
