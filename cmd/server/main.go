package main

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/chatwire/internal/auth"
	"github.com/Tyrowin/chatwire/internal/server"
	"github.com/Tyrowin/chatwire/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Info().Msg("Starting chatwire server")

	cfg := server.NewConfigFromEnv()

	secret := cfg.JWTSecret
	if secret == "" {
		// An ephemeral secret keeps development servers working; sessions
		// will not survive a restart.
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			log.Fatal().Err(err).Msg("Failed to generate session secret")
		}
		secret = hex.EncodeToString(buf)
		log.Warn().Msg("JWT_SECRET not set; using an ephemeral secret")
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("Failed to open record store")
	}
	defer db.Close()

	hub := server.NewHub(cfg, db)
	go hub.Run()

	issuer := auth.NewIssuer(secret)
	handlers := server.NewHandlers(hub, issuer, nil, db, db)
	httpServer := server.CreateServer(cfg.Port, handlers.Routes())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server stopped")
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := hub.Shutdown(shutdownTimeout); err != nil {
		log.Error().Err(err).Msg("Hub shutdown failed")
	}
}
