// Package server constructs and starts the chatwire HTTP service with
// helpers that apply sensible production defaults.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// CreateServer creates and configures an HTTP server with the specified port
// and handler. It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// StartServer starts the HTTP server and begins listening for connections.
// It returns an error if the server fails to start.
func StartServer(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	return server.ListenAndServe()
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting
// active connections. It waits for active connections to close or until the
// timeout is reached.
func ShutdownServer(server *http.Server, timeout time.Duration) error {
	log.Info().Msg("Shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
		return err
	}

	log.Info().Msg("HTTP server shutdown completed")
	return nil
}
