// Package server implements the admin API: dashboard statistics, account
// listing, role assignment, and account deactivation, restricted to admin
// accounts.
package server

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/chatwire/internal/auth"
	"github.com/Tyrowin/chatwire/internal/store"
)

// requireAdmin authenticates the caller and then checks the account itself:
// the role comes from the record store, not the token, so a demotion takes
// effect on the next request rather than at token expiry.
func (hs *Handlers) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return hs.issuer.Middleware(func(w http.ResponseWriter, r *http.Request) {
		caller, err := hs.users.UserByID(r.Context(), auth.IdentityFromContext(r.Context()))
		if err != nil {
			respondError(w, http.StatusUnauthorized, "Unauthorized - user no longer exists")
			return
		}
		if !caller.Active || caller.Role != store.RoleAdmin {
			respondError(w, http.StatusForbidden, "Forbidden - admin access required")
			return
		}
		next(w, r)
	})
}

// AdminDashboard returns the per-role account breakdown together with the
// calling admin's profile.
func (hs *Handlers) AdminDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := hs.users.RoleStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load dashboard data")
		return
	}
	if stats == nil {
		stats = []store.RoleStat{}
	}

	caller, err := hs.users.UserByID(r.Context(), auth.IdentityFromContext(r.Context()))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load dashboard data")
		return
	}

	respondJSON(w, http.StatusOK, struct {
		Success bool             `json:"success"`
		Stats   []store.RoleStat `json:"stats"`
		User    *store.User      `json:"user"`
	}{Success: true, Stats: stats, User: caller})
}

// AdminListUsers returns every account, optionally filtered by role, active
// flag, or a name/email substring.
func (hs *Handlers) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := store.UserFilter{
		Role:   query.Get("role"),
		Search: query.Get("search"),
	}
	if raw := query.Get("active"); raw != "" {
		active := raw == "true"
		filter.Active = &active
	}

	users, err := hs.users.ListUsers(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch users")
		return
	}
	if users == nil {
		users = []*store.User{}
	}

	respondJSON(w, http.StatusOK, struct {
		Success bool          `json:"success"`
		Results int           `json:"results"`
		Users   []*store.User `json:"users"`
	}{Success: true, Results: len(users), Users: users})
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

// AdminUpdateRole assigns a new role to the account in the path.
func (hs *Handlers) AdminUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !store.ValidRole(req.Role) {
		respondError(w, http.StatusBadRequest, "Invalid role specified")
		return
	}

	user, err := hs.users.UpdateUserRole(r.Context(), r.PathValue("userId"), req.Role)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to update user role")
		return
	}

	log.Info().Str("user_id", user.ID).Str("role", user.Role).Msg("User role updated")
	respondJSON(w, http.StatusOK, apiResponse{Success: true, User: user})
}

// AdminToggleStatus flips an account between active and deactivated. Other
// admins cannot be touched; an admin may still deactivate itself.
func (hs *Handlers) AdminToggleStatus(w http.ResponseWriter, r *http.Request) {
	targetID := r.PathValue("userId")

	target, err := hs.users.UserByID(r.Context(), targetID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to toggle user status")
		return
	}

	if target.Role == store.RoleAdmin && auth.IdentityFromContext(r.Context()) != targetID {
		respondError(w, http.StatusForbidden, "Cannot modify other admins")
		return
	}

	updated, err := hs.users.SetUserActive(r.Context(), targetID, !target.Active)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to toggle user status")
		return
	}

	log.Info().Str("user_id", updated.ID).Bool("active", updated.Active).Msg("User status toggled")
	respondJSON(w, http.StatusOK, toggleStatusResponse{
		Success: true,
		Data:    toggleStatusResult{ID: updated.ID, Active: updated.Active},
	})
}

type toggleStatusResponse struct {
	Success bool               `json:"success"`
	Data    toggleStatusResult `json:"data"`
}

type toggleStatusResult struct {
	ID     string `json:"id"`
	Active bool   `json:"active"`
}
