package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"yuzu/voicegw/internal/collab"
)

var (
	ErrTokenFormat  = errors.New("invalid token format")
	ErrTokenSig     = errors.New("invalid token signature")
	ErrTokenExp     = errors.New("token expired or not yet valid")
	ErrTokenSubject = errors.New("token has no subject")
	ErrNoSecret     = errors.New("no signing secret configured")
)

// GenerateToken signs an HS256 token whose subject is the user id.
func GenerateToken(secret, userID string, exp time.Time) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ValidateToken parses and validates the token and returns its subject.
func ValidateToken(secret, token string, skew time.Duration) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(skew))
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
		return "", ErrTokenExp
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "", ErrTokenSig
	default:
		return "", ErrTokenFormat
	}
	if claims.Subject == "" {
		return "", ErrTokenSubject
	}
	return claims.Subject, nil
}

// Verifier is the bearer-token Authenticator used by the ingress.
type Verifier struct {
	Secret string
	Skew   time.Duration
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{Secret: secret, Skew: 30 * time.Second}
}

func (v *Verifier) Authenticate(_ context.Context, token string) (string, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return "", fmt.Errorf("%w: empty token", collab.ErrAuth)
	}
	sub, err := ValidateToken(v.Secret, token, v.Skew)
	if err != nil {
		return "", fmt.Errorf("%w: %w", collab.ErrAuth, err)
	}
	return sub, nil
}

// Debug helper for the probe and tests.
func MustToken(secret, userID string, ttl time.Duration) string {
	t, err := GenerateToken(secret, userID, time.Now().Add(ttl))
	if err != nil {
		panic(fmt.Sprintf("token error: %v", err))
	}
	return t
}
