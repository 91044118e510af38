// Package server implements the JSON CRUD surface wrapped around the
// realtime core: account handling and message history.
package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/chatwire/internal/auth"
	"github.com/Tyrowin/chatwire/internal/store"
)

// Auth endpoints allow a bounded number of attempts per client address.
const (
	authBurst  = 20
	authWindow = 15 * time.Minute
)

type apiResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	User    *store.User    `json:"user,omitempty"`
	Users   []*store.User  `json:"users,omitempty"`
	Token   string         `json:"token,omitempty"`
	Data    *store.Message `json:"data,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Error writing JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, apiResponse{Success: false, Message: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

type signupRequest struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Password string `json:"password"`
}

// Signup creates a password-based account and issues a session token.
func (hs *Handlers) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.FullName = strings.TrimSpace(req.FullName)

	if !strings.Contains(req.Email, "@") {
		respondError(w, http.StatusBadRequest, "Please provide a valid email address")
		return
	}
	if len(req.FullName) < 2 {
		respondError(w, http.StatusBadRequest, "Full name must be at least 2 characters")
		return
	}
	if len(req.Password) < 8 {
		respondError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}

	if _, err := hs.users.UserByEmail(r.Context(), req.Email); err == nil {
		respondError(w, http.StatusConflict, "User already exists")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusInternalServerError, "Account creation failed. Please try again later.")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Account creation failed. Please try again later.")
		return
	}

	user := &store.User{
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: hash,
		Provider:     "local",
	}
	if err := hs.users.CreateUser(r.Context(), user); err != nil {
		log.Error().Err(err).Msg("Signup failed")
		respondError(w, http.StatusInternalServerError, "Account creation failed. Please try again later.")
		return
	}

	token, err := hs.issuer.IssueToken(user.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Account creation failed. Please try again later.")
		return
	}

	respondJSON(w, http.StatusCreated, apiResponse{Success: true, User: user, Token: token})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login verifies a password credential and issues a session token.
func (hs *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := hs.users.UserByEmail(r.Context(), req.Email)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	if user.PasswordHash == "" || auth.CheckPassword(user.PasswordHash, req.Password) != nil {
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	if !user.Active {
		respondError(w, http.StatusUnauthorized, "Account is deactivated")
		return
	}

	token, err := hs.issuer.IssueToken(user.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	respondJSON(w, http.StatusOK, apiResponse{Success: true, User: user, Token: token})
}

type providerLoginRequest struct {
	IDToken string `json:"idToken"`
}

// ProviderLogin exchanges an external identity-provider token for a session
// token. The provider verification itself is a black box behind
// auth.TokenVerifier.
func (hs *Handlers) ProviderLogin(w http.ResponseWriter, r *http.Request) {
	if hs.verifier == nil {
		respondError(w, http.StatusNotImplemented, "External provider login is not configured")
		return
	}

	var req providerLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IDToken == "" {
		respondError(w, http.StatusBadRequest, "Provider ID token is required")
		return
	}

	uid, err := hs.verifier.VerifyIDToken(r.Context(), req.IDToken)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Invalid provider token")
		return
	}

	user, err := hs.users.UserByExternalUID(r.Context(), uid)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "No user found for that provider identity")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	token, err := hs.issuer.IssueToken(user.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	respondJSON(w, http.StatusOK, apiResponse{Success: true, User: user, Token: token})
}

// Logout acknowledges a logout. Session tokens are stateless; the client
// discards its copy.
func (hs *Handlers) Logout(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, apiResponse{Success: true, Message: "Logged out successfully"})
}

// CheckAuth returns the profile of the authenticated caller.
func (hs *Handlers) CheckAuth(w http.ResponseWriter, r *http.Request) {
	userID := auth.IdentityFromContext(r.Context())
	user, err := hs.users.UserByID(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Unauthorized - user no longer exists")
		return
	}
	respondJSON(w, http.StatusOK, apiResponse{Success: true, User: user})
}

type updateProfileRequest struct {
	ProfilePic string `json:"profilePic"`
}

// UpdateProfile replaces the caller's profile picture URL.
func (hs *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ProfilePic == "" {
		respondError(w, http.StatusBadRequest, "Profile picture is required")
		return
	}

	user, err := hs.users.UpdateProfilePic(r.Context(), auth.IdentityFromContext(r.Context()), req.ProfilePic)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to update profile")
		return
	}
	respondJSON(w, http.StatusOK, apiResponse{Success: true, User: user})
}

// ListUsers returns every user except the caller, for the conversation
// sidebar.
func (hs *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := hs.users.ListUsersExcept(r.Context(), auth.IdentityFromContext(r.Context()))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}
	if users == nil {
		users = []*store.User{}
	}
	respondJSON(w, http.StatusOK, apiResponse{Success: true, Users: users})
}

// History returns one page of the conversation with the peer in the path,
// oldest-first.
func (hs *Handlers) History(w http.ResponseWriter, r *http.Request) {
	peerID := r.PathValue("peerId")
	page := parseQueryInt(r, "page", 1)
	limit := parseQueryInt(r, "limit", 20)

	messages, err := hs.history.MessagesBetween(r.Context(), auth.IdentityFromContext(r.Context()), peerID, page, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to load messages")
		return
	}
	if messages == nil {
		messages = []*store.Message{}
	}
	respondJSON(w, http.StatusOK, messages)
}

type sendMessageRequest struct {
	Text          string `json:"text"`
	AttachmentRef string `json:"attachmentRef"`
}

// SendMessage delegates a REST send to the delivery router so the persisted
// message also fans out to both parties' live connections.
func (hs *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	senderID := auth.IdentityFromContext(r.Context())
	payload := MessagePayload{Text: req.Text, AttachmentRef: req.AttachmentRef}

	msg, err := hs.hub.Router().Send(r.Context(), senderID, r.PathValue("peerId"), payload, nil)
	switch {
	case errors.Is(err, ErrEmptyPayload):
		respondError(w, http.StatusBadRequest, "Message content required")
	case errors.Is(err, ErrInvalidRecipient):
		respondError(w, http.StatusBadRequest, "Recipient is required")
	case errors.Is(err, ErrPersistence):
		respondError(w, http.StatusInternalServerError, "Failed to send message")
	case err != nil:
		respondError(w, http.StatusInternalServerError, "Failed to send message")
	default:
		respondJSON(w, http.StatusCreated, apiResponse{Success: true, Data: msg})
	}
}

func parseQueryInt(r *http.Request, key string, defaultValue int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

// ipLimiter applies a token bucket per client address; used to throttle the
// credential endpoints. Buckets idle for a full window are evicted so the
// map stays bounded under address churn.
type ipLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*ipBucket
	burst     int
	interval  time.Duration
	lastSweep time.Time
}

type ipBucket struct {
	limiter  *rateLimiter
	lastSeen time.Time
}

func newIPLimiter(burst int, interval time.Duration) *ipLimiter {
	return &ipLimiter{
		buckets:   make(map[string]*ipBucket),
		burst:     burst,
		interval:  interval,
		lastSweep: time.Now(),
	}
}

func (l *ipLimiter) allow(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	now := time.Now()

	l.mu.Lock()
	l.evictStale(now)
	bucket, ok := l.buckets[host]
	if !ok {
		bucket = &ipBucket{limiter: newRateLimiter(l.burst, l.interval)}
		l.buckets[host] = bucket
	}
	bucket.lastSeen = now
	l.mu.Unlock()

	return bucket.limiter.allow()
}

// evictStale drops buckets with no traffic for a full window. An evicted
// address simply starts over with a full bucket. Called with mu held, at
// most once per window.
func (l *ipLimiter) evictStale(now time.Time) {
	if now.Sub(l.lastSweep) < l.interval {
		return
	}
	l.lastSweep = now
	for host, bucket := range l.buckets {
		if now.Sub(bucket.lastSeen) >= l.interval {
			delete(l.buckets, host)
		}
	}
}

// withAuthLimit rejects clients that exhausted their auth-attempt budget.
func (hs *Handlers) withAuthLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !hs.authGate.allow(r.RemoteAddr) {
			respondError(w, http.StatusTooManyRequests, "Too many attempts, please try again later")
			return
		}
		next(w, r)
	}
}
