package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yuzu/voicegw/internal/collab"
)

func TestGenerateAndValidateToken(t *testing.T) {
	tok, err := GenerateToken("secret123", "user-1", time.Now().Add(5*time.Minute))
	require.NoError(t, err)

	sub, err := ValidateToken("secret123", tok, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)
}

func TestBadSignature(t *testing.T) {
	tok := MustToken("secret123", "user-1", 5*time.Minute)
	_, err := ValidateToken("other-secret", tok, time.Minute)
	assert.ErrorIs(t, err, ErrTokenSig)
}

func TestExpiredToken(t *testing.T) {
	tok, err := GenerateToken("secret123", "user-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = ValidateToken("secret123", tok, time.Second)
	assert.ErrorIs(t, err, ErrTokenExp)
}

func TestGarbageToken(t *testing.T) {
	_, err := ValidateToken("secret123", "not-a-jwt", 0)
	assert.ErrorIs(t, err, ErrTokenFormat)
}

func TestVerifierWrapsAuthError(t *testing.T) {
	v := NewVerifier("secret123")

	sub, err := v.Authenticate(context.Background(), "Bearer "+MustToken("secret123", "u9", time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "u9", sub)

	_, err = v.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, collab.ErrAuth)

	_, err = NewVerifier("").Authenticate(context.Background(), "abc")
	assert.ErrorIs(t, err, collab.ErrAuth)
	assert.ErrorIs(t, err, ErrNoSecret)
}
