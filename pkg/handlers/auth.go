package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"forward-focus-backend/pkg/config"
	"forward-focus-backend/pkg/database"
	"forward-focus-backend/pkg/models"
	"forward-focus-backend/pkg/utils"
)

// AuthHandler handles registration, login and token refresh
type AuthHandler struct {
	config     *config.Config
	db         database.Store
	jwtService *utils.JWTService
}

func NewAuthHandler(cfg *config.Config, db database.Store) *AuthHandler {
	return &AuthHandler{
		config:     cfg,
		db:         db,
		jwtService: utils.NewJWTService(cfg.JWTSecret),
	}
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.UserRegisterRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		utils.WriteValidationErrorResponse(w, "A valid email is required", "")
		return
	}
	if len(req.Password) < 8 {
		utils.WriteValidationErrorResponse(w, "Password must be at least 8 characters", "")
		return
	}

	if existing, err := h.db.GetUserByEmail(r.Context(), req.Email); err == nil && existing != nil {
		utils.WriteConflictResponse(w, "Email is already registered")
		return
	} else if err != nil && !errors.Is(err, database.ErrNotFound) {
		fmt.Printf("[error] register: lookup user: %v\n", err)
		utils.WriteInternalServerErrorResponse(w, "Failed to register user")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, "Failed to register user")
		return
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:        uuid.NewString(),
		Email:     req.Email,
		Password:  string(hash),
		Name:      strings.TrimSpace(req.Name),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.db.CreateUser(r.Context(), user); err != nil {
		fmt.Printf("[error] register: create user: %v\n", err)
		utils.WriteInternalServerErrorResponse(w, "Failed to register user")
		return
	}

	accessToken, refreshToken, expiresIn, err := h.jwtService.GenerateTokenPair(user)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, "Failed to generate tokens")
		return
	}

	utils.WriteCreatedResponse(w, models.UserLoginResponse{
		User:         *user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    expiresIn,
	})
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.UserLoginRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := h.db.GetUserByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			utils.WriteUnauthorizedResponse(w, "Invalid email or password")
			return
		}
		fmt.Printf("[error] login: lookup user: %v\n", err)
		utils.WriteInternalServerErrorResponse(w, "Failed to log in")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		utils.WriteUnauthorizedResponse(w, "Invalid email or password")
		return
	}

	accessToken, refreshToken, expiresIn, err := h.jwtService.GenerateTokenPair(user)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, "Failed to generate tokens")
		return
	}

	utils.WriteSuccessResponse(w, models.UserLoginResponse{
		User:         *user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    expiresIn,
	})
}

// RefreshToken handles POST /api/auth/refresh
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshTokenRequest
	if err := utils.ParseJSONBody(r, &req); err != nil || req.RefreshToken == "" {
		utils.WriteBadRequestResponse(w, "refresh_token is required")
		return
	}

	claims, err := h.jwtService.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Invalid or expired refresh token")
		return
	}

	// Re-read the user so revoked admin/verified flags take effect on refresh
	user, err := h.db.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Invalid or expired refresh token")
		return
	}

	accessToken, expiresIn, err := h.jwtService.GenerateAccessToken(user)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, "Failed to generate tokens")
		return
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"access_token": accessToken,
		"expires_in":   expiresIn,
	})
}
