// Package api implements the HTTP server of the bridge.
//
// This package provides:
//   - POST /aligenie, the voice platform's skill endpoint
//   - a REST shim over the entity and service registries, compatible with
//     the host API the bridge consumes in rest mode
//   - POST /auth/token for account linking
//   - a WebSocket hub streaming state_changed events
//   - Prometheus metrics and a dependency health check
//
// # Security
//
// /api routes require a bearer token issued by /auth/token. WebSocket
// connections present a single-use ticket or the same bearer header.
// /aligenie authenticates through the access token inside the envelope.
//
// # Graceful Degradation
//
// In rest mode there is no local registry; only /aligenie, /api/health and
// /metrics are served.
package api
