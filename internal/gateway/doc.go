// Package gateway orchestrates the parley-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the parley-gateway
// server. It owns the durable store, the file blob storage, the in-memory
// relay core (presence registry, room table, peer table, router, hub), and
// the single HTTP server fronting all of it.
//
// # Gateway Struct
//
// The Gateway struct is the main entry point:
//
//	type Gateway struct {
//	    config   *config.Config
//	    store    store.Store
//	    storage  *files.Storage
//	    verifier *auth.JWTVerifier
//	    registry *presence.Registry
//	    rooms    *room.Rooms
//	    peers    *relay.Peers
//	    router   *relay.Router
//	    hub      *relay.Hub
//	    gate     *session.Gate
//	    // ... and more
//	}
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go:
//
//   - POST /api/auth/login - Verify credentials, mint a bearer token
//   - GET /api/me - Current account
//   - POST/GET/DELETE /api/messages - Direct-channel message collection
//   - PUT/DELETE /api/messages/{id} - Edit or delete one direct message
//   - POST/GET/DELETE /api/expert-messages - Expert channel, session gated
//   - PUT/DELETE /api/expert-messages/{id} - Edit or delete, routed to room
//   - GET /api/rooms?peer=ID - Canonical room key for a conversation pair
//   - POST/GET /api/sessions - Request or list consultation sessions
//   - POST /api/sessions/{id}/confirm - Counterparty confirms
//   - DELETE /api/sessions/{id} - Either party cancels
//   - POST /api/files - Multipart upload; GET /api/files/{id} streams back
//   - GET /ws - Websocket upgrade into the relay hub
//   - GET /health - Liveness check including a store round-trip
//
// All /api routes except login are bearer-authenticated; the expert-message,
// room, and session routes additionally require the expert role.
//
// # Two delivery flows
//
// The direct (user/expert) channel is legacy faithful: the HTTP handler
// persists and the client emits the socket frame itself, which the relay
// forwards to the receiver's live connection.
//
// The expert/expert channel is room based: the HTTP handler persists and
// then routes the committed event to the conversation pair's room, so every
// joined device hears about it without client-side emits:
//
//	POST /api/expert-messages   -> newExpertMessage to the room
//	PUT  /api/expert-messages/x -> expertMessageEdited
//	DELETE                      -> expertMessageDeleted / allExpertMessagesDeleted
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	err = gw.Run(ctx)
//
// Run blocks until the context is canceled or the server fails, then shuts
// down with a fresh 5-second context: live websocket connections close
// first (they are hijacked and invisible to http.Server.Shutdown), the
// HTTP server drains, the store closes last.
//
// # Listeners
//
// By default the server binds a plain TCP listener at server.http_addr.
// With tailscale.enabled the gateway instead joins a tailnet as an embedded
// tsnet node and listens on :80, or on :443 with TLS when cert_file and
// key_file are configured (provision them with `tailscale cert`).
//
// # Key Files
//
//   - gateway.go: Gateway struct, wiring, Run/Shutdown, listeners
//   - api.go: HTTP handlers, request/response DTOs, validation
package gateway
