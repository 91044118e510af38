// Package server fans out presence snapshots whenever the set of online
// users changes membership.
package server

import (
	"sort"

	"github.com/rs/zerolog/log"
)

// Presence broadcasts the full online-user snapshot to every registered
// connection. Callers invoke Broadcast only on membership changes (an
// identity entering or fully leaving the online set), never on plain
// activity updates.
type Presence struct {
	registry *Registry
}

// NewPresence creates a broadcaster reading snapshots from the registry.
func NewPresence(registry *Registry) *Presence {
	return &Presence{registry: registry}
}

// snapshot marshals the current online-user set.
func (p *Presence) snapshot() []byte {
	users := p.registry.OnlineUsers()
	sort.Strings(users)
	return marshalOnlineUsers(users)
}

// Broadcast pushes the current online-user set to all live connections.
// Each push is fire-and-forget: a failed push to one connection is logged
// and does not abort delivery to the others.
func (p *Presence) Broadcast() {
	payload := p.snapshot()

	for _, conn := range p.registry.AllConnections() {
		if !conn.trySend(payload) {
			log.Debug().Str("conn_id", conn.id).Str("user_id", conn.userID).
				Msg("Presence push failed")
		}
	}
}
