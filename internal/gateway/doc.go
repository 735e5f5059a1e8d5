// Package gateway wires the helpdesk-gateway server components together.
//
// # Overview
//
// The Gateway owns the store, the platform client, the dedupe cache, the
// conversation Manager and the live subscriber Registry, and serves them
// over a single gin engine.
//
// # HTTP API
//
// Public:
//
//   - GET  /                              - banner with version and database
//   - GET  /health                        - database ping
//   - GET  /metrics                       - Prometheus exposition (optional)
//   - GET  /api/messenger/webhook         - subscription handshake
//   - POST /api/messenger/webhook         - signed event delivery
//   - POST /api/v1/auth/register          - create an agent account
//   - POST /api/v1/auth/login             - exchange credentials for a JWT
//
// Bearer token required:
//
//   - GET  /api/v1/auth/me
//   - GET  /api/v1/auth/protected
//   - GET  /facebook/auth                 - OAuth dialog URL
//   - POST /facebook/connect              - connect the first managed page
//   - POST /facebook/disconnect/:page_id
//   - GET  /facebook/connection
//   - GET  /api/messenger/chats
//   - GET  /api/messenger/chats/:chat_id/messages
//   - POST /api/messenger/chats/:chat_id/messages
//   - GET  /api/messenger/chats/:chat_id/ws  - token may be passed as ?token=
//
// Errors are written as {"detail": "..."}.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil { ... }
//	return gw.Run(ctx) // blocks until ctx is cancelled
//
// Shutdown stops the HTTP server, closes live WebSocket connections, stops
// the dedupe janitor and closes the database.
package gateway
