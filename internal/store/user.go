package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Roles a user account can hold. Moderators exist for community features;
// only admins reach the admin API.
const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// ValidRole reports whether role is one of the assignable account roles.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleModerator || role == RoleAdmin
}

// User is a persisted user profile. PasswordHash is empty for accounts
// created through an external identity provider. Deactivated accounts
// (Active false) keep their records but cannot authenticate.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"fullName"`
	PasswordHash string    `json:"-"`
	Provider     string    `json:"provider"`
	ExternalUID  string    `json:"-"`
	ProfilePic   string    `json:"profilePic"`
	Role         string    `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

const userColumns = `id, email, full_name, COALESCE(password_hash, ''), provider,
	COALESCE(external_uid, ''), profile_pic, role, active, created_at, updated_at`

// CreateUser inserts a new user record. The ID and timestamps are assigned
// here; the caller's copy is updated in place.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Provider == "" {
		u.Provider = "local"
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	u.Active = true
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	var externalUID any
	if u.ExternalUID != "" {
		externalUID = u.ExternalUID
	}

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO users (id, email, full_name, password_hash, provider, external_uid, profile_pic, role, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		u.ID, u.Email, u.FullName, u.PasswordHash, u.Provider, externalUID, u.ProfilePic,
		u.Role, now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UserByEmail returns the user with the given email, or ErrNotFound.
func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row)
}

// UserByID returns the user with the given id, or ErrNotFound.
func (s *Store) UserByID(ctx context.Context, id string) (*User, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// UserByExternalUID returns the user linked to an external identity-provider
// uid, or ErrNotFound.
func (s *Store) UserByExternalUID(ctx context.Context, uid string) (*User, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE external_uid = ?`, uid)
	return scanUser(row)
}

// ListUsersExcept returns every active user other than the given id, ordered
// by name. This backs the sidebar listing; deactivated accounts are hidden.
func (s *Store) ListUsersExcept(ctx context.Context, id string) ([]*User, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id != ? AND active = 1 ORDER BY full_name`, id)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

// UserFilter narrows ListUsers. Zero values mean "no constraint"; Active is
// a tri-state pointer for the same reason.
type UserFilter struct {
	Role   string
	Active *bool
	Search string
}

// ListUsers returns every user matching the filter, ordered by name. Unlike
// the sidebar listing it includes deactivated accounts unless filtered out.
func (s *Store) ListUsers(ctx context.Context, filter UserFilter) ([]*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE 1=1`
	var args []any

	if filter.Role != "" {
		query += ` AND role = ?`
		args = append(args, filter.Role)
	}
	if filter.Active != nil {
		query += ` AND active = ?`
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		query += ` AND (full_name LIKE ? OR email LIKE ?)`
		pattern := "%" + strings.ToLower(filter.Search) + "%"
		args = append(args, pattern, pattern)
	}
	query += ` ORDER BY full_name`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

// UpdateUserRole assigns a new role and returns the updated record. The role
// must be one of the assignable roles.
func (s *Store) UpdateUserRole(ctx context.Context, id, role string) (*User, error) {
	if !ValidRole(role) {
		return nil, fmt.Errorf("update role: invalid role %q", role)
	}
	res, err := s.conn.ExecContext(ctx,
		`UPDATE users SET role = ?, updated_at = ? WHERE id = ?`,
		role, time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return nil, fmt.Errorf("update role: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return s.UserByID(ctx, id)
}

// SetUserActive deactivates or reactivates an account and returns the
// updated record.
func (s *Store) SetUserActive(ctx context.Context, id string, active bool) (*User, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE users SET active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return nil, fmt.Errorf("set active: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return s.UserByID(ctx, id)
}

// RoleStat is one row of the dashboard breakdown: how many accounts hold a
// role and when the newest of them signed up.
type RoleStat struct {
	Role   string    `json:"role"`
	Count  int       `json:"count"`
	Latest time.Time `json:"latest"`
}

// RoleStats aggregates accounts per role for the admin dashboard.
func (s *Store) RoleStats(ctx context.Context) ([]RoleStat, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT role, COUNT(*), MAX(created_at) FROM users GROUP BY role ORDER BY role`)
	if err != nil {
		return nil, fmt.Errorf("role stats: %w", err)
	}
	defer rows.Close()

	var stats []RoleStat
	for rows.Next() {
		var st RoleStat
		var latest string
		if err := rows.Scan(&st.Role, &st.Count, &latest); err != nil {
			return nil, fmt.Errorf("scan role stat: %w", err)
		}
		st.Latest, _ = time.ParseInLocation(timeLayout, latest, time.UTC)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

func collectUsers(rows *sql.Rows) ([]*User, error) {
	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateProfilePic replaces the user's profile picture URL and returns the
// updated record.
func (s *Store) UpdateProfilePic(ctx context.Context, id, profilePic string) (*User, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE users SET profile_pic = ?, updated_at = ? WHERE id = ?`,
		profilePic, time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return nil, fmt.Errorf("update profile pic: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return s.UserByID(ctx, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var createdAt, updatedAt string
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.Provider,
		&u.ExternalUID, &u.ProfilePic, &u.Role, &u.Active, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt, _ = time.ParseInLocation(timeLayout, createdAt, time.UTC)
	u.UpdatedAt, _ = time.ParseInLocation(timeLayout, updatedAt, time.UTC)
	return &u, nil
}
