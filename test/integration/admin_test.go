package integration

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatwire/internal/store"
	"github.com/Tyrowin/chatwire/test/testhelpers"
)

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	backend := testhelpers.StartBackend(t, testhelpers.BackendOptions{})

	user := backend.Signup(t, "Regular User", testhelpers.UniqueEmail("regular"), "password123")

	for _, path := range []string{"/api/admin/dashboard", "/api/admin/users"} {
		t.Run(path+" without token", func(t *testing.T) {
			resp := backend.Get(t, path, "")
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})

		t.Run(path+" as regular user", func(t *testing.T) {
			resp := backend.Get(t, path, user.Token)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}

	t.Run("role update as regular user", func(t *testing.T) {
		resp := backend.PatchJSON(t, "/api/admin/users/"+user.ID+"/role", user.Token,
			map[string]string{"role": store.RoleAdmin})
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, "users cannot promote themselves")
	})
}

func TestAdminDashboardAndListing(t *testing.T) {
	backend := testhelpers.StartBackend(t, testhelpers.BackendOptions{})

	admin := backend.Signup(t, "Admin Account", testhelpers.UniqueEmail("admin"), "password123")
	backend.MakeAdmin(t, admin)
	backend.Signup(t, "Plain One", testhelpers.UniqueEmail("plain1"), "password123")
	backend.Signup(t, "Plain Two", testhelpers.UniqueEmail("plain2"), "password123")

	t.Run("dashboard aggregates roles", func(t *testing.T) {
		resp := backend.Get(t, "/api/admin/dashboard", admin.Token)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Stats []store.RoleStat `json:"stats"`
			User  *store.User      `json:"user"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.NotNil(t, body.User)
		assert.Equal(t, admin.ID, body.User.ID)

		byRole := make(map[string]int, len(body.Stats))
		for _, st := range body.Stats {
			byRole[st.Role] = st.Count
		}
		assert.Equal(t, 1, byRole[store.RoleAdmin])
		assert.Equal(t, 2, byRole[store.RoleUser])
	})

	t.Run("listing filters by role", func(t *testing.T) {
		resp := backend.Get(t, "/api/admin/users?role=admin", admin.Token)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Results int           `json:"results"`
			Users   []*store.User `json:"users"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Equal(t, 1, body.Results)
		assert.Equal(t, admin.ID, body.Users[0].ID)
	})

	t.Run("listing searches by name", func(t *testing.T) {
		resp := backend.Get(t, "/api/admin/users?search=Plain+One", admin.Token)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Results int `json:"results"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, 1, body.Results)
	})
}

func TestAdminRoleUpdate(t *testing.T) {
	backend := testhelpers.StartBackend(t, testhelpers.BackendOptions{})

	admin := backend.Signup(t, "Admin Account", testhelpers.UniqueEmail("admin"), "password123")
	backend.MakeAdmin(t, admin)
	member := backend.Signup(t, "Member Account", testhelpers.UniqueEmail("member"), "password123")

	t.Run("promotes to moderator", func(t *testing.T) {
		resp := backend.PatchJSON(t, "/api/admin/users/"+member.ID+"/role", admin.Token,
			map[string]string{"role": store.RoleModerator})
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			User *store.User `json:"user"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.NotNil(t, body.User)
		assert.Equal(t, store.RoleModerator, body.User.Role)
	})

	t.Run("rejects unknown role", func(t *testing.T) {
		resp := backend.PatchJSON(t, "/api/admin/users/"+member.ID+"/role", admin.Token,
			map[string]string{"role": "superuser"})
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown user is 404", func(t *testing.T) {
		resp := backend.PatchJSON(t, "/api/admin/users/no-such-id/role", admin.Token,
			map[string]string{"role": store.RoleUser})
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestAdminToggleStatus(t *testing.T) {
	backend := testhelpers.StartBackend(t, testhelpers.BackendOptions{})

	admin := backend.Signup(t, "Admin Account", testhelpers.UniqueEmail("admin"), "password123")
	backend.MakeAdmin(t, admin)

	memberEmail := testhelpers.UniqueEmail("member")
	member := backend.Signup(t, "Member Account", memberEmail, "password123")

	toggle := func(targetID string) *http.Response {
		t.Helper()
		return backend.PatchJSON(t, "/api/admin/users/"+targetID+"/toggle-status", admin.Token, nil)
	}

	t.Run("deactivation locks the account out", func(t *testing.T) {
		resp := toggle(member.ID)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Data struct {
				ID     string `json:"id"`
				Active bool   `json:"active"`
			} `json:"data"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, member.ID, body.Data.ID)
		assert.False(t, body.Data.Active)

		login := backend.PostJSON(t, "/api/auth/login", "", map[string]string{
			"email":    memberEmail,
			"password": "password123",
		})
		defer func() { _ = login.Body.Close() }()
		assert.Equal(t, http.StatusUnauthorized, login.StatusCode, "deactivated accounts cannot log in")

		sidebar := backend.Get(t, "/api/messages/users", admin.Token)
		defer func() { _ = sidebar.Body.Close() }()
		require.Equal(t, http.StatusOK, sidebar.StatusCode)
		var listing struct {
			Users []*store.User `json:"users"`
		}
		require.NoError(t, json.NewDecoder(sidebar.Body).Decode(&listing))
		assert.Empty(t, listing.Users, "deactivated accounts leave the sidebar")
	})

	t.Run("reactivation restores access", func(t *testing.T) {
		resp := toggle(member.ID)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		token := backend.Login(t, memberEmail, "password123")
		assert.NotEmpty(t, token)
	})

	t.Run("other admins are protected", func(t *testing.T) {
		peer := backend.Signup(t, "Peer Admin", testhelpers.UniqueEmail("peer"), "password123")
		backend.MakeAdmin(t, peer)

		resp := toggle(peer.ID)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}
