// ABOUTME: Resolves event targets through presence and rooms, hands frames to the transport
// ABOUTME: Fire-and-forget: never blocks, never retries, reports only a delivered count

package relay

import (
	"log/slog"

	"github.com/parleyhq/parley-gateway/internal/identity"
	"github.com/parleyhq/parley-gateway/internal/presence"
	"github.com/parleyhq/parley-gateway/internal/room"
	"github.com/parleyhq/parley-gateway/internal/wire"
)

// Sender delivers encoded events to live connections. Implemented by Peers;
// tests substitute a recorder.
type Sender interface {
	Send(connID, event string, payload any) bool
	SendTo(connIDs []string, event string, payload any) int
	Broadcast(event string, payload any) int
}

// Router implements the two delivery modes of the relay: direct delivery
// keyed by receiver identity and room delivery keyed by a sorted identity
// pair. Every delivery is at-most-once and unacknowledged; the returned
// count is informational, never a durability promise. The router performs no
// blocking work, so callers may invoke it from request handlers and socket
// read loops alike.
type Router struct {
	registry *presence.Registry
	rooms    *room.Rooms
	peers    Sender
	logger   *slog.Logger
}

// NewRouter creates a router over the given registry, room table, and
// transport. Pass nil logger for default.
func NewRouter(registry *presence.Registry, rooms *room.Rooms, peers Sender, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: registry,
		rooms:    rooms,
		peers:    peers,
		logger:   logger.With("component", "router"),
	}
}

// ToIdentity delivers an event to whichever connection currently serves the
// receiver identity. The user space is checked first, then the expert space;
// callers never need to know which space a receiver lives in. An offline
// receiver is a normal outcome: the event is dropped with a debug log.
func (r *Router) ToIdentity(token, event string, payload any) int {
	for _, space := range identity.Spaces {
		connID, ok := r.registry.Lookup(space, token)
		if !ok {
			continue
		}
		if r.peers.Send(connID, event, payload) {
			return 1
		}
		r.logger.Debug("delivery dropped",
			"event", event,
			"receiver", token,
			"space", string(space),
			"conn", connID)
		return 0
	}

	r.logger.Debug("receiver offline, dropping event", "event", event, "receiver", token)
	return 0
}

// ToRoom computes the canonical key for the identity pair and delegates to
// EmitToRoom.
func (r *Router) ToRoom(idA, idB, event string, payload any) int {
	return r.EmitToRoom(room.Key(idA, idB), event, payload)
}

// EmitToRoom delivers an event to every connection subscribed to the room.
// An unknown or empty room drops the event silently.
func (r *Router) EmitToRoom(key, event string, payload any) int {
	members := r.rooms.Members(key)
	if len(members) == 0 {
		r.logger.Debug("room empty, dropping event", "room", key, "event", event)
		return 0
	}

	delivered := r.peers.SendTo(members, event, payload)
	if delivered < len(members) {
		r.logger.Debug("partial room delivery",
			"room", key,
			"event", event,
			"delivered", delivered,
			"members", len(members))
	}
	return delivered
}

// BroadcastPresence pushes the current snapshot for a space to every live
// connection, including the one whose change triggered it.
func (r *Router) BroadcastPresence(space identity.Space) int {
	event := wire.EventOnlineUsers
	if space == identity.SpaceExpert {
		event = wire.EventOnlineExperts
	}
	return r.peers.Broadcast(event, r.registry.Snapshot(space))
}
