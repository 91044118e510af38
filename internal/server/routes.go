// Package server wires HTTP handlers into a ServeMux for the chatwire
// application via routing helpers.
package server

import "net/http"

// Routes configures and returns an HTTP ServeMux with all application
// routes: health check, the WebSocket endpoint, and the JSON API.
func (hs *Handlers) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", hs.Health)
	mux.HandleFunc("/ws", hs.WebSocket)

	mux.HandleFunc("POST /api/auth/signup", hs.withAuthLimit(hs.Signup))
	mux.HandleFunc("POST /api/auth/login", hs.withAuthLimit(hs.Login))
	mux.HandleFunc("POST /api/auth/provider", hs.withAuthLimit(hs.ProviderLogin))
	mux.HandleFunc("POST /api/auth/logout", hs.Logout)
	mux.HandleFunc("GET /api/auth/check", hs.issuer.Middleware(hs.CheckAuth))
	mux.HandleFunc("PUT /api/auth/update-profile", hs.issuer.Middleware(hs.UpdateProfile))

	mux.HandleFunc("GET /api/messages/users", hs.issuer.Middleware(hs.ListUsers))
	mux.HandleFunc("GET /api/messages/{peerId}", hs.issuer.Middleware(hs.History))
	mux.HandleFunc("POST /api/messages/send/{peerId}", hs.issuer.Middleware(hs.SendMessage))

	mux.HandleFunc("GET /api/admin/dashboard", hs.requireAdmin(hs.AdminDashboard))
	mux.HandleFunc("GET /api/admin/users", hs.requireAdmin(hs.AdminListUsers))
	mux.HandleFunc("PATCH /api/admin/users/{userId}/role", hs.requireAdmin(hs.AdminUpdateRole))
	mux.HandleFunc("PATCH /api/admin/users/{userId}/toggle-status", hs.requireAdmin(hs.AdminToggleStatus))

	return mux
}
