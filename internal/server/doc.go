// Package server implements the HTTP and WebSocket side of the relay.
//
// Handlers claim names in a registry.Registry and upgrade connections; the
// Hub owns the live connections, relays every inbound frame and pushes the
// roster as a JSON array of names whenever membership changes. The
// implementation is split into files for configuration, hub management,
// clients, routing, and HTTP handlers.
package server
