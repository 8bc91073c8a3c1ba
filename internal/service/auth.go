package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/splitly-bfa-go/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// ============================================================
// Access token validation
//
// Tokens are issued by the identity provider; this service only verifies
// them. The subject claim is the user id.
// ============================================================

// JWTClaims represents the claims read from access tokens.
type JWTClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// AuthService validates bearer tokens.
type AuthService struct {
	jwtSecret []byte
	issuer    string
	leeway    time.Duration
	logger    *zap.Logger
}

// NewAuthService creates the validator. An empty issuer accepts any issuer.
func NewAuthService(jwtSecret, issuer string, logger *zap.Logger) *AuthService {
	return &AuthService{
		jwtSecret: []byte(jwtSecret),
		issuer:    issuer,
		leeway:    30 * time.Second,
		logger:    logger,
	}
}

// ValidateAccessToken parses and verifies an HMAC-signed token. Every
// failure is a *domain.ErrNotAuthenticated.
func (s *AuthService) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithLeeway(s.leeway),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	}, opts...)
	if err != nil {
		return nil, &domain.ErrNotAuthenticated{Message: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, &domain.ErrNotAuthenticated{Message: "invalid token"}
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, &domain.ErrNotAuthenticated{Message: "token has no subject"}
	}
	return claims, nil
}
