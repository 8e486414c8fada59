package utils

import (
	"fmt"
	"time"

	"forward-focus-backend/pkg/models"

	"github.com/golang-jwt/jwt/v5"
)

// JWTService signs and validates the access/refresh token pair
type JWTService struct {
	secretKey []byte
}

// NewJWTService creates a JWT service around the shared HS256 secret
func NewJWTService(secretKey string) *JWTService {
	return &JWTService{
		secretKey: []byte(secretKey),
	}
}

func (j *JWTService) newClaims(user *models.User, tokenType string, ttl time.Duration) *models.TokenClaims {
	now := time.Now()
	return &models.TokenClaims{
		UserID:            user.ID,
		Email:             user.Email,
		IsAdmin:           user.IsAdmin,
		IsVerifiedPartner: user.IsVerifiedPartner,
		Type:              tokenType,
		Exp:               now.Add(ttl).Unix(),
		Iat:               now.Unix(),
	}
}

// GenerateTokenPair returns an access token (15 minutes) and a refresh token
// (7 days) for the user, plus the access expiry as a unix timestamp.
func (j *JWTService) GenerateTokenPair(user *models.User) (accessToken, refreshToken string, expiresIn int64, err error) {
	accessClaims := j.newClaims(user, "access", 15*time.Minute)
	accessToken, err = jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString(j.secretKey)
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshClaims := j.newClaims(user, "refresh", 7*24*time.Hour)
	refreshToken, err = jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString(j.secretKey)
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return accessToken, refreshToken, accessClaims.Exp, nil
}

// GenerateAccessToken mints a fresh access token for the user
func (j *JWTService) GenerateAccessToken(user *models.User) (string, int64, error) {
	claims := j.newClaims(user, "access", 15*time.Minute)
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secretKey)
	if err != nil {
		return "", 0, fmt.Errorf("failed to generate access token: %w", err)
	}
	return tokenString, claims.Exp, nil
}

// ValidateToken parses and validates any token signed by this service
func (j *JWTService) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*models.TokenClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	if time.Now().Unix() > claims.Exp {
		return nil, fmt.Errorf("token expired")
	}
	return claims, nil
}

// ValidateRefreshToken validates the token and checks its type
func (j *JWTService) ValidateRefreshToken(tokenString string) (*models.TokenClaims, error) {
	claims, err := j.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != "refresh" {
		return nil, fmt.Errorf("invalid token type: expected refresh, got %s", claims.Type)
	}
	return claims, nil
}
