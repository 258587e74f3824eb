// Package server implements the real-time side of the relay together with its
// HTTP surface.
//
// The implementation is organized into specialized files: the connection
// registry, the relay and its delivery scheduler, the heartbeat, WebSocket
// clients, the hub that owns them, and the HTTP handlers and routes.
package server
