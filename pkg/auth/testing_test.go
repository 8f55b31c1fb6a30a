package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testKID = "test-key-1"

// testIssuer serves a JWKS document and mints RS256 tokens signed with the
// matching private key.
type testIssuer struct {
	server *httptest.Server
	key    *rsa.PrivateKey
}

func newTestIssuer(t *testing.T) *testIssuer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := map[string]interface{}{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": testKID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/jwks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testIssuer{server: server, key: key}
}

func (ti *testIssuer) URL() string {
	return ti.server.URL
}

func (ti *testIssuer) JWKSURL() string {
	return ti.server.URL + "/api/auth/jwks"
}

// validClaims returns claims the verifier accepts for audience "grc-api".
func (ti *testIssuer) validClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   ti.URL(),
		"aud":   "grc-api",
		"sub":   "usr_1",
		"id":    "usr_1",
		"email": "alice@example.com",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
}

func (ti *testIssuer) mint(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	return ti.mintWithKey(t, claims, ti.key)
}

func (ti *testIssuer) mintWithKey(t *testing.T, claims jwt.MapClaims, key *rsa.PrivateKey) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKID
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func (ti *testIssuer) verifier() *JWKSVerifier {
	return NewJWKSVerifier(JWKSConfig{
		IssuerURL: ti.URL(),
		JWKSURL:   ti.JWKSURL(),
		Audience:  "grc-api",
		Timeout:   2 * time.Second,
	})
}
