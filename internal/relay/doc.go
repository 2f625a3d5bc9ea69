// Package relay is the real-time core of the gateway: it owns live client
// connections and routes chat events between online participants.
//
// # Components
//
//   - Conn: one client websocket with a buffered outbound queue and a single
//     writer pump. Sends never block; a full queue drops the frame.
//   - Peers: the table of live connections, keyed by connection ID. The only
//     component that touches connection objects.
//   - Router: the two delivery modes. Direct delivery resolves a receiver
//     identity through the presence registry (user space first, then expert
//     space); room delivery fans out to every connection joined to a room
//     key. Both are fire-and-forget.
//   - Hub: the connection lifecycle. Binds handshake identity claims,
//     dispatches inbound frames, and purges registry entries and room
//     memberships on disconnect, rebroadcasting presence for any space that
//     changed.
//   - Handler: the HTTP endpoint that upgrades to websocket and hands the
//     connection to the hub.
//
// # Delivery contract
//
// Delivery is at-most-once and unacknowledged. An offline receiver, an empty
// room, and a slow client that overflows its queue all degrade the same way:
// the event is dropped with a debug log. Clients treat live events as a
// latency optimization and re-fetch history from the durable store on
// reconnect.
//
// Persistence never happens here. HTTP command handlers persist first and
// hand the router an already-committed event; client-emitted frames relay
// what the client already persisted through the HTTP API.
package relay
