// Package server implements the chatwire realtime core: connection
// admission, the connection registry, presence broadcast, message delivery,
// and the HTTP surface wrapped around them.
//
// The implementation is organized into specialized files for configuration,
// the registry, the hub, connections, admission, presence, delivery routing,
// and HTTP handlers to keep the codebase maintainable and testable as the
// project grows.
package server
