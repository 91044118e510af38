// Package server exposes HTTP handlers, including the WebSocket upgrade and
// health check endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/chatwire/internal/auth"
	"github.com/Tyrowin/chatwire/internal/store"
)

// UserStore is the slice of the record store backing the user-facing CRUD
// handlers.
type UserStore interface {
	CreateUser(ctx context.Context, u *store.User) error
	UserByEmail(ctx context.Context, email string) (*store.User, error)
	UserByID(ctx context.Context, id string) (*store.User, error)
	UserByExternalUID(ctx context.Context, uid string) (*store.User, error)
	ListUsersExcept(ctx context.Context, id string) ([]*store.User, error)
	UpdateProfilePic(ctx context.Context, id, profilePic string) (*store.User, error)
	ListUsers(ctx context.Context, filter store.UserFilter) ([]*store.User, error)
	UpdateUserRole(ctx context.Context, id, role string) (*store.User, error)
	SetUserActive(ctx context.Context, id string, active bool) (*store.User, error)
	RoleStats(ctx context.Context) ([]store.RoleStat, error)
}

// HistoryStore serves paginated conversation history.
type HistoryStore interface {
	MessagesBetween(ctx context.Context, userID, peerID string, page, limit int) ([]*store.Message, error)
}

// Handlers bundles the HTTP-facing endpoints with their dependencies.
type Handlers struct {
	hub      *Hub
	issuer   *auth.Issuer
	verifier auth.TokenVerifier
	users    UserStore
	history  HistoryStore
	upgrader websocket.Upgrader
	authGate *ipLimiter
}

// NewHandlers wires the HTTP surface. verifier may be nil when no external
// identity provider is configured.
func NewHandlers(hub *Hub, issuer *auth.Issuer, verifier auth.TokenVerifier, users UserStore, history HistoryStore) *Handlers {
	return &Handlers{
		hub:      hub,
		issuer:   issuer,
		verifier: verifier,
		users:    users,
		history:  history,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     hub.checkOrigin,
		},
		authGate: newIPLimiter(authBurst, authWindow),
	}
}

// WebSocket handles WebSocket upgrade requests. The session token is checked
// before the upgrade, so an unauthenticated client observes a plain HTTP
// error; the identify handshake then runs over the upgraded link.
func (hs *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	token := auth.TokenFromRequest(r)
	if token == "" {
		http.Error(w, "Unauthorized - no authentication token provided", http.StatusUnauthorized)
		return
	}

	principal, err := hs.issuer.VerifyToken(token)
	if err != nil {
		http.Error(w, "Unauthorized - invalid token", http.StatusUnauthorized)
		return
	}

	ws, err := hs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	hs.hub.Handshake(principal, ws, r.RemoteAddr)
}

// Health provides a simple health check endpoint that returns server status.
func (hs *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "chatwire server is running!")
}
