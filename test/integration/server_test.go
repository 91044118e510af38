// Package integration contains end-to-end tests that exercise the chatwire
// backend through its public HTTP and WebSocket surface.
package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatwire/internal/store"
	"github.com/Tyrowin/chatwire/test/testhelpers"
)

func TestHealthEndpoint(t *testing.T) {
	backend := testhelpers.StartBackend(t, testhelpers.BackendOptions{})

	resp := backend.Get(t, "/", "")
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "chatwire server is running!", string(body))
}

func TestSignupValidation(t *testing.T) {
	backend := testhelpers.StartBackend(t, testhelpers.BackendOptions{})

	cases := []struct {
		name string
		body map[string]string
		want int
	}{
		{
			name: "missing email",
			body: map[string]string{"fullName": "No Email", "password": "password123"},
			want: http.StatusBadRequest,
		},
		{
			name: "malformed email",
			body: map[string]string{"fullName": "Bad Email", "email": "not-an-email", "password": "password123"},
			want: http.StatusBadRequest,
		},
		{
			name: "short password",
			body: map[string]string{"fullName": "Short Pass", "email": testhelpers.UniqueEmail("short"), "password": "tiny"},
			want: http.StatusBadRequest,
		},
		{
			name: "short name",
			body: map[string]string{"fullName": "x", "email": testhelpers.UniqueEmail("name"), "password": "password123"},
			want: http.StatusBadRequest,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := backend.PostJSON(t, "/api/auth/signup", "", tc.body)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestSignupRejectsDuplicateEmail(t *testing.T) {
	backend := testhelpers.StartBackend(t, testhelpers.BackendOptions{})

	email := testhelpers.UniqueEmail("dup")
	backend.Signup(t, "First Account", email, "password123")

	resp := backend.PostJSON(t, "/api/auth/signup", "", map[string]string{
		"fullName": "Second Account",
		"email":    strings.ToUpper(email),
		"password": "password123",
	})
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "email comparison is case-insensitive")
}

func TestLoginFlow(t *testing.T) {
	backend := testhelpers.StartBackend(t, testhelpers.BackendOptions{})

	email := testhelpers.UniqueEmail("login")
	acct := backend.Signup(t, "Login User", email, "password123")

	t.Run("valid credentials", func(t *testing.T) {
		token := backend.Login(t, email, "password123")
		assert.NotEmpty(t, token)
	})

	t.Run("wrong password", func(t *testing.T) {
		resp := backend.PostJSON(t, "/api/auth/login", "", map[string]string{
			"email":    email,
			"password": "wrong-password",
		})
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("unknown account", func(t *testing.T) {
		resp := backend.PostJSON(t, "/api/auth/login", "", map[string]string{
			"email":    testhelpers.UniqueEmail("ghost"),
			"password": "password123",
		})
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("logout acknowledges", func(t *testing.T) {
		resp := backend.PostJSON(t, "/api/auth/logout", acct.Token, nil)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestCheckAuthAndProfile(t *testing.T) {
	backend := testhelpers.StartBackend(t, testhelpers.BackendOptions{})
	acct := backend.Signup(t, "Profile User", testhelpers.UniqueEmail("profile"), "password123")

	t.Run("check returns the caller", func(t *testing.T) {
		resp := backend.Get(t, "/api/auth/check", acct.Token)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			User *store.User `json:"user"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.NotNil(t, body.User)
		assert.Equal(t, acct.ID, body.User.ID)
		assert.Equal(t, acct.Email, body.User.Email)
	})

	t.Run("update profile picture", func(t *testing.T) {
		resp := backend.PutJSON(t, "/api/auth/update-profile", acct.Token, map[string]string{
			"profilePic": "https://cdn.example.com/avatar.png",
		})
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			User *store.User `json:"user"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.NotNil(t, body.User)
		assert.Equal(t, "https://cdn.example.com/avatar.png", body.User.ProfilePic)
	})

	t.Run("empty profile picture rejected", func(t *testing.T) {
		resp := backend.PutJSON(t, "/api/auth/update-profile", acct.Token, map[string]string{})
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestListUsersExcludesCaller(t *testing.T) {
	backend := testhelpers.StartBackend(t, testhelpers.BackendOptions{})

	alice := backend.Signup(t, "Alice Example", testhelpers.UniqueEmail("alice"), "password123")
	bob := backend.Signup(t, "Bob Example", testhelpers.UniqueEmail("bob"), "password123")
	carol := backend.Signup(t, "Carol Example", testhelpers.UniqueEmail("carol"), "password123")

	resp := backend.Get(t, "/api/messages/users", alice.Token)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Users []*store.User `json:"users"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	ids := make([]string, 0, len(body.Users))
	for _, u := range body.Users {
		ids = append(ids, u.ID)
	}
	assert.ElementsMatch(t, []string{bob.ID, carol.ID}, ids)
}
