// Package api implements the HTTP REST API and WebSocket server for Timerly.
//
// This package provides:
//   - REST endpoints for discovered devices, timer entities and their history
//   - Service calls (start_timer, cancel_all, doorbell, dismiss, notify, refresh_all)
//   - Timer type selection
//   - Audit log of service calls, timer type changes and discovery changes
//   - WebSocket hub broadcasting entity state, entity events and discovery events
//   - Middleware stack (request ID, logging, recovery, CORS, body limit, JWT)
//
// # Security
//
// When security.jwt.enabled is set, mutating endpoints and the audit log
// require a bearer JWT signed with the configured HS256 secret. Tokens are
// issued elsewhere.
// WebSocket connections authenticate with a single-use ticket obtained from
// POST /api/v1/auth/ws-ticket so the token never appears in a URL.
//
// # Graceful Degradation
//
// The server runs without a database: entity history and the audit log
// answer 503 and the registry fields in entity responses are absent.
package api
