// Package server coordinates connection registration, presence, and delivery
// fan-out for the chatwire realtime core via the Registry and Hub types.
package server

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrConnectionLimit is returned by Add when the user already holds the
// maximum permitted number of simultaneous connections.
var ErrConnectionLimit = errors.New("connection-limit-exceeded")

// Registry is the single source of truth for which users are reachable right
// now. It maps user identities to their live connections and enforces the
// per-user connection cap.
//
// All mutations happen under one mutex so the cap check and the insert are
// atomic: two racing handshakes for the same user cannot both pass the limit
// check.
type Registry struct {
	mu         sync.RWMutex
	maxPerUser int
	conns      map[string]*Connection            // connection id -> connection
	byUser     map[string]map[string]*Connection // user id -> connection id -> connection
}

// NewRegistry creates an empty registry enforcing the given per-user cap.
func NewRegistry(maxPerUser int) *Registry {
	if maxPerUser <= 0 {
		maxPerUser = 1
	}
	return &Registry{
		maxPerUser: maxPerUser,
		conns:      make(map[string]*Connection),
		byUser:     make(map[string]map[string]*Connection),
	}
}

// Add registers conn under userID. It returns ErrConnectionLimit when the
// user is already at the cap, leaving the registry unchanged. The boolean
// reports whether this was the user's first connection (offline to online
// transition), which is what decides a presence broadcast.
func (r *Registry) Add(userID string, conn *Connection) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn.id]; exists {
		// Double-insert of a connection id cannot happen by construction;
		// log it as a programming error instead of corrupting the indexes.
		log.Error().Str("conn_id", conn.id).Str("user_id", userID).
			Msg("Duplicate connection id registration ignored")
		return false, nil
	}

	bucket := r.byUser[userID]
	if len(bucket) >= r.maxPerUser {
		return false, ErrConnectionLimit
	}

	if bucket == nil {
		bucket = make(map[string]*Connection, 1)
		r.byUser[userID] = bucket
	}

	bucket[conn.id] = conn
	r.conns[conn.id] = conn
	return len(bucket) == 1, nil
}

// Remove deregisters a connection id. Removing an unknown id is a no-op, so
// duplicate disconnect events are harmless. It returns the owning user id and
// whether that user now has no connections left (online to offline
// transition). Empty user buckets are deleted immediately.
func (r *Registry) Remove(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.conns[connID]
	if !exists {
		return "", false
	}

	delete(r.conns, connID)

	bucket := r.byUser[conn.userID]
	delete(bucket, connID)
	if len(bucket) == 0 {
		delete(r.byUser, conn.userID)
		return conn.userID, true
	}
	return conn.userID, false
}

// ConnectionsFor returns a snapshot of the user's live connections. Unknown
// identities yield an empty slice, never an error.
func (r *Registry) ConnectionsFor(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket := r.byUser[userID]
	conns := make([]*Connection, 0, len(bucket))
	for _, conn := range bucket {
		conns = append(conns, conn)
	}
	return conns
}

// AllConnections returns a snapshot of every live connection.
func (r *Registry) AllConnections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	return conns
}

// OnlineUsers returns the set of identities with at least one live
// connection.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.byUser))
	for userID := range r.byUser {
		users = append(users, userID)
	}
	return users
}

// CountFor returns how many connections a user currently holds.
func (r *Registry) CountFor(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// Len returns the total number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Touch refreshes the last-activity timestamp for a connection. Unknown ids
// are ignored.
func (r *Registry) Touch(connID string) {
	r.mu.RLock()
	conn, exists := r.conns[connID]
	r.mu.RUnlock()

	if exists {
		conn.touch()
	}
}

// ReapIdle removes every connection whose last activity is older than cutoff.
// It returns the reaped connections, so the caller can close their
// transports, and the identities that went fully offline as a result.
func (r *Registry) ReapIdle(cutoff time.Time) ([]*Connection, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reaped []*Connection
	var offline []string

	for connID, conn := range r.conns {
		if conn.LastActive().After(cutoff) {
			continue
		}

		delete(r.conns, connID)
		bucket := r.byUser[conn.userID]
		delete(bucket, connID)
		if len(bucket) == 0 {
			delete(r.byUser, conn.userID)
			offline = append(offline, conn.userID)
		}
		reaped = append(reaped, conn)
	}

	return reaped, offline
}
