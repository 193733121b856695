// internal/artifact/token_test.go
package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/authtap/internal/capture"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return s
}

func TestInspectToken(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("JWT", func(t *testing.T) {
		token := signedToken(t, jwt.MapClaims{
			"sub": "user-42",
			"iss": "https://issuer.example.com",
			"iat": now.Add(-time.Hour).Unix(),
			"exp": now.Add(time.Hour).Unix(),
		})

		info := InspectToken(token, now)
		assert.True(t, info.JWT)
		assert.Equal(t, len(token), info.Length)
		assert.Equal(t, "HS256", info.Algorithm)
		assert.Equal(t, "user-42", info.Subject)
		assert.Equal(t, "https://issuer.example.com", info.Issuer)
		require.NotNil(t, info.ExpiresAt)
		assert.Equal(t, now.Add(time.Hour), *info.ExpiresAt)
		require.NotNil(t, info.IssuedAt)
		assert.Equal(t, now.Add(-time.Hour), *info.IssuedAt)
		assert.Empty(t, info.Warnings)
	})

	t.Run("ExpiredJWT", func(t *testing.T) {
		token := signedToken(t, jwt.MapClaims{"exp": now.Add(-time.Minute).Unix()})
		info := InspectToken(token, now)
		assert.Contains(t, info.Warnings, "token is already expired")
	})

	t.Run("JWTWithoutExpiry", func(t *testing.T) {
		info := InspectToken(signedToken(t, jwt.MapClaims{"sub": "x"}), now)
		assert.Nil(t, info.ExpiresAt)
		assert.Contains(t, info.Warnings, "token has no expiration")
	})

	t.Run("UnsignedJWT", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"exp": now.Add(time.Hour).Unix()}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		info := InspectToken(token, now)
		assert.True(t, info.JWT)
		assert.Contains(t, info.Warnings, "token is unsigned (alg none)")
	})

	t.Run("OpaqueToken", func(t *testing.T) {
		info := InspectToken("ya29.a0AfH6SMBopaque", now)
		assert.False(t, info.JWT)
		assert.Equal(t, 20, info.Length)
		assert.Empty(t, info.Algorithm)
		assert.Empty(t, info.Warnings)
	})
}

func TestNewTokenInfo(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	info := NewTokenInfo(capture.Observation{
		Token:      "opaque",
		Source:     capture.SourceHookFetch,
		URL:        "https://api.example.com/v1/me",
		Method:     "GET",
		ObservedAt: at,
	})

	assert.Equal(t, "hook-fetch", info.Source)
	assert.Equal(t, "https://api.example.com/v1/me", info.URL)
	assert.Equal(t, "GET", info.Method)
	assert.Equal(t, at, info.CapturedAt)
	assert.Equal(t, 6, info.Length)
}

func TestWriteToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "bearer_token.txt")

	require.NoError(t, WriteToken(path, "tok-123"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", string(data))

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	t.Run("TightensExistingFile", func(t *testing.T) {
		loose := filepath.Join(dir, "loose.txt")
		require.NoError(t, os.WriteFile(loose, []byte("old"), 0o644))
		require.NoError(t, WriteToken(loose, "new"))

		st, err := os.Stat(loose)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())
	})

	t.Run("RejectsEmpty", func(t *testing.T) {
		assert.Error(t, WriteToken(filepath.Join(dir, "empty.txt"), ""))
	})
}

func TestWriteTokenInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token_info.json")
	require.NoError(t, WriteTokenInfo(path, TokenInfo{Length: 3, Source: "network", JWT: false}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, float64(3), decoded["length"])
	assert.Equal(t, "network", decoded["source"])
	assert.NotContains(t, decoded, "expires_at")
}
