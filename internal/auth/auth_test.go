package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	require.NotEmpty(t, hash)
	assert.NotEqual(t, "correct horse battery staple", hash)

	require.NoError(t, CheckPassword(hash, "correct horse battery staple"))
	require.ErrorIs(t, CheckPassword(hash, "wrong"), ErrInvalidCredentials)
}

func TestIssueAndVerifyToken(t *testing.T) {
	issuer := NewIssuer("test-secret")

	token, err := issuer.IssueToken("user-42")
	require.NoError(t, err)

	userID, err := issuer.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)
}

func TestVerifyTokenRejectsForgeries(t *testing.T) {
	issuer := NewIssuer("test-secret")
	other := NewIssuer("other-secret")

	token, err := other.IssueToken("user-42")
	require.NoError(t, err)

	_, err = issuer.VerifyToken(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.VerifyToken("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.Empty(t, TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer abc123")
	assert.Equal(t, "abc123", TokenFromRequest(r))

	r = httptest.NewRequest(http.MethodGet, "/ws?token=query-token", nil)
	assert.Equal(t, "query-token", TokenFromRequest(r))
}

func TestMiddleware(t *testing.T) {
	issuer := NewIssuer("test-secret")
	token, err := issuer.IssueToken("user-42")
	require.NoError(t, err)

	var seenIdentity string
	handler := issuer.Middleware(func(w http.ResponseWriter, r *http.Request) {
		seenIdentity = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	t.Run("no token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodGet, "/api/auth/check", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/auth/check", nil)
		r.Header.Set("Authorization", "Bearer garbage")
		handler(rec, r)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/auth/check", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		handler(rec, r)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "user-42", seenIdentity)
	})
}
