package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWKSVerifier_Verify(t *testing.T) {
	issuer := newTestIssuer(t)
	verifier := issuer.verifier()
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		identity, err := verifier.Verify(ctx, issuer.mint(t, issuer.validClaims()))
		require.NoError(t, err)
		assert.Equal(t, "usr_1", identity.UserID)
		assert.Equal(t, "alice@example.com", identity.Email)
	})

	t.Run("falls back to subject when id claim absent", func(t *testing.T) {
		claims := issuer.validClaims()
		delete(claims, "id")
		claims["sub"] = "usr_sub"

		identity, err := verifier.Verify(ctx, issuer.mint(t, claims))
		require.NoError(t, err)
		assert.Equal(t, "usr_sub", identity.UserID)
	})

	t.Run("expired token", func(t *testing.T) {
		claims := issuer.validClaims()
		claims["exp"] = time.Now().Add(-time.Minute).Unix()

		_, err := verifier.Verify(ctx, issuer.mint(t, claims))
		assert.ErrorIs(t, err, ErrInvalidOrExpiredCredential)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := issuer.validClaims()
		claims["iss"] = "https://evil.example.com"

		_, err := verifier.Verify(ctx, issuer.mint(t, claims))
		assert.ErrorIs(t, err, ErrInvalidOrExpiredCredential)
	})

	t.Run("wrong audience", func(t *testing.T) {
		claims := issuer.validClaims()
		claims["aud"] = "another-api"

		_, err := verifier.Verify(ctx, issuer.mint(t, claims))
		assert.ErrorIs(t, err, ErrInvalidOrExpiredCredential)
	})

	t.Run("bad signature", func(t *testing.T) {
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)

		_, err = verifier.Verify(ctx, issuer.mintWithKey(t, issuer.validClaims(), other))
		assert.ErrorIs(t, err, ErrInvalidOrExpiredCredential)
	})

	t.Run("missing email", func(t *testing.T) {
		claims := issuer.validClaims()
		delete(claims, "email")

		_, err := verifier.Verify(ctx, issuer.mint(t, claims))
		assert.ErrorIs(t, err, ErrMalformedCredential)
	})

	t.Run("not a jwt", func(t *testing.T) {
		_, err := verifier.Verify(ctx, "opaque-session-token")
		assert.ErrorIs(t, err, ErrInvalidCredentialFormat)
	})
}

func TestJWKSVerifier_KeyFetchTimeout(t *testing.T) {
	issuer := newTestIssuer(t)

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	verifier := NewJWKSVerifier(JWKSConfig{
		IssuerURL: issuer.URL(),
		JWKSURL:   slow.URL,
		Audience:  "grc-api",
		Timeout:   100 * time.Millisecond,
	})

	_, err := verifier.Verify(context.Background(), issuer.mint(t, issuer.validClaims()))
	assert.ErrorIs(t, err, ErrInvalidOrExpiredCredential)
}

func TestJWKSVerifier_NoAudience(t *testing.T) {
	issuer := newTestIssuer(t)
	verifier := NewJWKSVerifier(JWKSConfig{IssuerURL: issuer.URL(), JWKSURL: issuer.JWKSURL()})

	claims := issuer.validClaims()
	claims["aud"] = "whatever"

	_, err := verifier.Verify(context.Background(), issuer.mint(t, claims))
	assert.NoError(t, err)
}
