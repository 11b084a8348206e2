package services

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-jwt-signing-32-chars"

// createTestTokenService creates a token service for testing with symmetric key
func createTestTokenService(t *testing.T) TokenService {
	t.Helper()
	service, err := NewTokenService(15*time.Minute, "test-issuer", "test-audience", testSecret)
	require.NoError(t, err)
	return service
}

func TestNewTokenService(t *testing.T) {
	tests := []struct {
		name        string
		ttl         time.Duration
		secretKey   string
		expectError bool
	}{
		{name: "valid configuration", ttl: 15 * time.Minute, secretKey: testSecret},
		{name: "missing secret key", ttl: 15 * time.Minute, secretKey: "", expectError: true},
		{name: "non positive ttl", ttl: 0, secretKey: testSecret, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, err := NewTokenService(tt.ttl, "test-issuer", "test-audience", tt.secretKey)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, service)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, service)
		})
	}
}

func TestGenerateAndValidateManagerToken(t *testing.T) {
	service := createTestTokenService(t)

	token, err := service.GenerateManagerToken("m-42", "Sara Ahmadi")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := service.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "m-42", claims.ManagerID)
	assert.Equal(t, "Sara Ahmadi", claims.ManagerName)
	assert.NotEmpty(t, claims.TokenID)
	assert.WithinDuration(t, claims.IssuedAt.Add(15*time.Minute), claims.ExpiresAt, time.Second)

	_, err = service.GenerateManagerToken("", "nobody")
	assert.Error(t, err)
}

func TestValidateToken_Rejections(t *testing.T) {
	service := createTestTokenService(t)
	now := time.Now()

	sign := func(method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
		t.Helper()
		signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return signed
	}
	base := func() jwt.MapClaims {
		return jwt.MapClaims{
			"manager_id": "m-1",
			"iat":        now.Unix(),
			"exp":        now.Add(time.Hour).Unix(),
			"iss":        "test-issuer",
			"aud":        "test-audience",
		}
	}

	expired := base()
	expired["exp"] = now.Add(-time.Minute).Unix()

	wrongIssuer := base()
	wrongIssuer["iss"] = "someone-else"

	wrongAudience := base()
	wrongAudience["aud"] = "other-api"

	noManager := base()
	delete(noManager, "manager_id")

	tests := []struct {
		name     string
		token    string
		expected error
	}{
		{"garbage", "not-a-jwt", ErrTokenInvalid},
		{"expired", sign(jwt.SigningMethodHS256, []byte(testSecret), expired), ErrTokenExpired},
		{"wrong secret", sign(jwt.SigningMethodHS256, []byte("another-secret-key-of-sufficient-size"), base()), ErrTokenInvalid},
		{"wrong issuer", sign(jwt.SigningMethodHS256, []byte(testSecret), wrongIssuer), ErrTokenInvalid},
		{"wrong audience", sign(jwt.SigningMethodHS256, []byte(testSecret), wrongAudience), ErrTokenInvalid},
		{"missing manager id", sign(jwt.SigningMethodHS256, []byte(testSecret), noManager), ErrTokenInvalid},
		{"none algorithm", sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, base()), ErrTokenInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := service.ValidateToken(tt.token)
			assert.ErrorIs(t, err, tt.expected)
			assert.Nil(t, claims)
		})
	}
}
