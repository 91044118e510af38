// Package testhelpers provides common utilities for integration testing the
// chatwire backend.
//
// It boots a complete backend (record store, hub, HTTP surface) on an
// httptest server, registers accounts through the public API, and drives
// WebSocket sessions the way a real client would.
package testhelpers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatwire/internal/auth"
	"github.com/Tyrowin/chatwire/internal/server"
	"github.com/Tyrowin/chatwire/internal/store"
)

// BackendOptions tweaks the backend configuration for a single test. Zero
// values keep the server defaults.
type BackendOptions struct {
	// AllowedOrigins replaces the origin allow list. Defaults to "*" so
	// test dialers do not need to mirror the ephemeral server URL.
	AllowedOrigins []string

	MaxConnectionsPerUser int
	IdleTimeout           time.Duration
	SweepInterval         time.Duration
	MaxMessageSize        int64
}

// Backend is a fully wired chatwire instance running on an httptest server.
type Backend struct {
	Server *httptest.Server
	Hub    *server.Hub
	Store  *store.Store
	Issuer *auth.Issuer

	// WSURL is the ws:// address of the WebSocket endpoint.
	WSURL string
}

// StartBackend boots a backend against a temp-dir SQLite store and registers
// cleanup on t. The hub's run loop is started; tests talk to the backend
// through its public HTTP and WebSocket surface.
func StartBackend(t *testing.T, opts BackendOptions) *Backend {
	t.Helper()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	t.Setenv("ALLOWED_ORIGINS", strings.Join(origins, ","))
	t.Setenv("JWT_SECRET", "integration-test-secret")
	t.Setenv("RATE_LIMIT_BURST", "1000")
	cfg := server.NewConfigFromEnv()

	if opts.MaxConnectionsPerUser > 0 {
		cfg.MaxConnectionsPerUser = opts.MaxConnectionsPerUser
	}
	if opts.IdleTimeout > 0 {
		cfg.IdleTimeout = opts.IdleTimeout
	}
	if opts.SweepInterval > 0 {
		cfg.SweepInterval = opts.SweepInterval
	}
	if opts.MaxMessageSize > 0 {
		cfg.MaxMessageSize = opts.MaxMessageSize
	}

	db, err := store.Open(filepath.Join(t.TempDir(), "chatwire-test.db"))
	require.NoError(t, err, "open record store")

	hub := server.NewHub(cfg, db)
	go hub.Run()

	issuer := auth.NewIssuer(cfg.JWTSecret)
	handlers := server.NewHandlers(hub, issuer, nil, db, db)
	ts := httptest.NewServer(handlers.Routes())

	t.Cleanup(func() {
		ts.Close()
		_ = hub.Shutdown(2 * time.Second)
		_ = db.Close()
	})

	return &Backend{
		Server: ts,
		Hub:    hub,
		Store:  db,
		Issuer: issuer,
		WSURL:  strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws",
	}
}

// Account is a user registered through the signup API together with its
// session token.
type Account struct {
	ID    string
	Email string
	Token string
}

// Signup registers a user through POST /api/auth/signup and returns the
// created account with its token.
func (b *Backend) Signup(t *testing.T, fullName, email, password string) *Account {
	t.Helper()

	resp := b.PostJSON(t, "/api/auth/signup", "", map[string]string{
		"fullName": fullName,
		"email":    email,
		"password": password,
	})
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode, "signup %s", email)

	var body struct {
		User  *store.User `json:"user"`
		Token string      `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotNil(t, body.User)
	require.NotEmpty(t, body.Token)

	return &Account{ID: body.User.ID, Email: body.User.Email, Token: body.Token}
}

// MakeAdmin promotes the account directly in the record store, standing in
// for the out-of-band promotion a deployment's first admin receives.
func (b *Backend) MakeAdmin(t *testing.T, acct *Account) {
	t.Helper()
	_, err := b.Store.UpdateUserRole(context.Background(), acct.ID, store.RoleAdmin)
	require.NoError(t, err)
}

// Login authenticates through POST /api/auth/login and returns a fresh token.
func (b *Backend) Login(t *testing.T, email, password string) string {
	t.Helper()

	resp := b.PostJSON(t, "/api/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode, "login %s", email)

	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.Token)
	return body.Token
}

// PostJSON executes a POST with a JSON body against the backend. A non-empty
// token is sent as a bearer header.
func (b *Backend) PostJSON(t *testing.T, path, token string, body any) *http.Response {
	t.Helper()
	return b.doJSON(t, http.MethodPost, path, token, body)
}

// PutJSON executes a PUT with a JSON body against the backend.
func (b *Backend) PutJSON(t *testing.T, path, token string, body any) *http.Response {
	t.Helper()
	return b.doJSON(t, http.MethodPut, path, token, body)
}

// PatchJSON executes a PATCH with a JSON body against the backend.
func (b *Backend) PatchJSON(t *testing.T, path, token string, body any) *http.Response {
	t.Helper()
	return b.doJSON(t, http.MethodPatch, path, token, body)
}

// Get executes a GET against the backend. A non-empty token is sent as a
// bearer header.
func (b *Backend) Get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	return b.doJSON(t, http.MethodGet, path, token, nil)
}

func (b *Backend) doJSON(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var payload *bytes.Buffer
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewBuffer(encoded)
	} else {
		payload = &bytes.Buffer{}
	}

	req, err := http.NewRequest(method, b.Server.URL+path, payload)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err, "%s %s", method, path)
	return resp
}

// Dial opens a WebSocket connection authenticated with token. The identify
// frame is NOT sent; use Connect for the full handshake.
func (b *Backend) Dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()

	conn, err := b.TryDial(token)
	require.NoError(t, err, "dial websocket")
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// TryDial opens a WebSocket connection and surfaces the dial error, letting
// tests assert on rejected upgrades.
func (b *Backend) TryDial(token string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	headers.Set("Origin", b.Server.URL)

	url := b.WSURL
	if token != "" {
		url += "?token=" + token
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// Connect dials, identifies as the account, and waits for the initial
// online_users snapshot, returning the ready connection and the snapshot.
func (b *Backend) Connect(t *testing.T, acct *Account) (*websocket.Conn, []string) {
	t.Helper()

	conn := b.Dial(t, acct.Token)
	SendEvent(t, conn, map[string]string{"type": "identify", "userId": acct.ID})

	ev := WaitForEvent(t, conn, "online_users", 3*time.Second)
	return conn, ev.Users
}

// Event is the union of every server-to-client frame the backend emits.
type Event struct {
	Type      string         `json:"type"`
	Users     []string       `json:"users"`
	Message   *store.Message `json:"message"`
	MessageID string         `json:"messageId"`
	Reason    string         `json:"reason"`
	UserID    string         `json:"userId"`
	IsTyping  bool           `json:"isTyping"`
}

// SendEvent marshals v and writes it as a text frame.
func SendEvent(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// ReadEvent reads the next frame within timeout and decodes it.
func ReadEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) *Event {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err, "read websocket event")

	var ev Event
	require.NoError(t, json.Unmarshal(raw, &ev), "decode event %s", raw)
	return &ev
}

// WaitForEvent reads frames until one of the wanted type arrives, discarding
// everything else. It fails the test when timeout elapses first.
func WaitForEvent(t *testing.T, conn *websocket.Conn, eventType string, timeout time.Duration) *Event {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("timed out waiting for %q event", eventType)
		}

		require.NoError(t, conn.SetReadDeadline(deadline))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "read while waiting for %q", eventType)

		var ev Event
		require.NoError(t, json.Unmarshal(raw, &ev))
		if ev.Type == eventType {
			return &ev
		}
	}
}

// ExpectClose reads until the peer closes the connection and returns the
// close code and reason text. It fails the test if a regular frame arrives
// that is not a close.
func ExpectClose(t *testing.T, conn *websocket.Conn, timeout time.Duration) (int, string) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "expected the server to close the connection")

	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr, "expected a close frame, got %v", err)
	return closeErr.Code, closeErr.Text
}

// UniqueEmail derives a unique address for the test so parallel backends
// sharing nothing still read naturally.
func UniqueEmail(prefix string) string {
	return fmt.Sprintf("%s-%d@example.com", prefix, time.Now().UnixNano())
}
