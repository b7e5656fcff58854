package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseToken(t *testing.T) {
	v := NewVerifier("secret")
	raw, err := v.GenerateToken(Identity{ID: "u1", Name: "Ana", Role: "admin"}, time.Hour)
	require.NoError(t, err)

	id, err := v.ParseToken(raw)
	require.NoError(t, err)
	assert.Equal(t, &Identity{ID: "u1", Name: "Ana", Role: "admin"}, id)
}

func TestParseToken_Rejects(t *testing.T) {
	v := NewVerifier("secret")

	_, err := v.ParseToken("")
	assert.ErrorIs(t, err, ErrMissingToken)

	other, err := NewVerifier("other").GenerateToken(Identity{ID: "u1"}, time.Hour)
	require.NoError(t, err)
	_, err = v.ParseToken(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := v.GenerateToken(Identity{ID: "u1"}, -time.Minute)
	require.NoError(t, err)
	_, err = v.ParseToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noID, err := v.GenerateToken(Identity{Name: "x"}, time.Hour)
	require.NoError(t, err)
	_, err = v.ParseToken(noID)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseToken_NumericID(t *testing.T) {
	v := NewVerifier("secret")
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":   42,
		"name": "Ana",
		"role": "label",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	raw, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)

	id, err := v.ParseToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "42", id.ID)
	assert.Equal(t, "label", id.Role)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", TokenFromRequest(r))

	r.AddCookie(&http.Cookie{Name: CookieName, Value: "from-cookie"})
	assert.Equal(t, "from-cookie", TokenFromRequest(r))
}

func TestIdentityContext(t *testing.T) {
	_, ok := IdentityFrom(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), &Identity{ID: "u1"})
	id, ok := IdentityFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", id.ID)
}
