// Package server normalizes and validates HTTP origins for WebSocket requests
// to enforce configured access control.
package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

func normalizeOrigins(origins []string) ([]string, bool) {
	if len(origins) == 0 {
		return nil, false
	}

	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		if trimmed == "*" {
			allowAll = true
			continue
		}

		normalizedOrigin, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn().Str("origin", origin).Msg("Ignoring invalid origin in configuration")
			continue
		}

		normalized = append(normalized, normalizedOrigin)
	}

	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	normalized := strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host)
	return normalized, true
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader != "" && h.cfg.IsOriginAllowed(originHeader) {
		return true
	}

	log.Warn().Str("origin", originHeader).Msg("Blocked WebSocket connection from disallowed origin")
	return false
}
