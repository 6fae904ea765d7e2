package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dehouse/donation-ledger/internal/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: true}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func generateKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return key, string(pubPEM)
}

func signToken(t *testing.T, key *rsa.PrivateKey, subject string, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestAuthenticateJWT(t *testing.T) {
	key, pubPEM := generateKeyPair(t)
	cfg := AuthConfig{JWTPublicKey: pubPEM}

	token := signToken(t, key, "0xwallet", time.Hour)
	result := Authenticate("Bearer "+token, cfg)
	assert.True(t, result.Success)
	assert.Equal(t, "jwt", result.AuthType)
	assert.Equal(t, "0xwallet", result.AuthSubject)

	// Expired tokens are rejected
	expired := signToken(t, key, "0xwallet", -time.Hour)
	result = Authenticate("Bearer "+expired, cfg)
	assert.False(t, result.Success)

	// A token signed by another key is rejected
	otherKey, _ := generateKeyPair(t)
	forged := signToken(t, otherKey, "0xwallet", time.Hour)
	result = Authenticate("Bearer "+forged, cfg)
	assert.False(t, result.Success)
}

func TestAuthenticateAPIKey(t *testing.T) {
	cfg := AuthConfig{APIKeys: []string{"secret-key"}}

	result := Authenticate("APIKey secret-key", cfg)
	assert.True(t, result.Success)
	assert.Equal(t, "apikey", result.AuthType)
	assert.Empty(t, result.AuthSubject)

	result = Authenticate("APIKey wrong-key", cfg)
	assert.False(t, result.Success)
}

func TestAuthenticateHeaderFormats(t *testing.T) {
	cfg := AuthConfig{APIKeys: []string{"secret-key"}}

	assert.False(t, Authenticate("", cfg).Success)
	assert.False(t, Authenticate("secret-key", cfg).Success)
	assert.False(t, Authenticate("Basic dXNlcjpwYXNz", cfg).Success)
}
