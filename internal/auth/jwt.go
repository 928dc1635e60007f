// Package auth issues and validates operator JWTs. The server has a single
// configured operator account; there is no user database.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/scale-server/scale-server-pro/internal/config"
	"github.com/scale-server/scale-server-pro/pkg/crypto"
)

// JWTManager manages JWT tokens
type JWTManager struct {
	jwtCfg  *config.JWTConfig
	authCfg *config.AuthConfig
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(jwtCfg *config.JWTConfig, authCfg *config.AuthConfig) *JWTManager {
	return &JWTManager{jwtCfg: jwtCfg, authCfg: authCfg}
}

// Claims represents JWT claims
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// Authenticate checks operator credentials against the configured account.
func (m *JWTManager) Authenticate(username, password string) bool {
	if m.authCfg.Username == "" {
		return false
	}
	return username == m.authCfg.Username &&
		crypto.VerifyPassword(password, m.authCfg.PasswordHash)
}

// GenerateTokenPair generates access and refresh tokens for the operator
func (m *JWTManager) GenerateTokenPair(username string) (string, string, error) {
	now := time.Now()

	accessClaims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.jwtCfg.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "scale-server",
		},
		Username: username,
	}

	accessToken := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims)
	accessTokenString, err := accessToken.SignedString([]byte(m.jwtCfg.Secret))
	if err != nil {
		return "", "", fmt.Errorf("sign access token: %w", err)
	}

	tokenID, err := crypto.GenerateRandomString(16)
	if err != nil {
		return "", "", fmt.Errorf("generate token id: %w", err)
	}

	refreshClaims := jwt.RegisteredClaims{
		Subject:   username,
		ExpiresAt: jwt.NewNumericDate(now.Add(m.jwtCfg.RefreshTokenTTL)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    "scale-server",
		ID:        tokenID,
	}

	refreshToken := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims)
	refreshTokenString, err := refreshToken.SignedString([]byte(m.jwtCfg.Secret))
	if err != nil {
		return "", "", fmt.Errorf("sign refresh token: %w", err)
	}

	return accessTokenString, refreshTokenString, nil
}

// ValidateToken validates a token
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.jwtCfg.Secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// RefreshToken exchanges a valid refresh token for a fresh token pair
func (m *JWTManager) RefreshToken(refreshTokenString string) (string, string, error) {
	token, err := jwt.ParseWithClaims(refreshTokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.jwtCfg.Secret), nil
	})
	if err != nil {
		return "", "", err
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", "", fmt.Errorf("invalid refresh token")
	}
	if claims.Subject != m.authCfg.Username {
		return "", "", fmt.Errorf("unknown subject")
	}

	return m.GenerateTokenPair(claims.Subject)
}
