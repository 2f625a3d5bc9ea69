// ABOUTME: Connection lifecycle: handshake identity claims, frame dispatch, disconnect purge
// ABOUTME: Client-facing anomalies all degrade to no-op; nothing here surfaces an error

package relay

import (
	"encoding/json"
	"log/slog"

	"github.com/parleyhq/parley-gateway/internal/identity"
	"github.com/parleyhq/parley-gateway/internal/presence"
	"github.com/parleyhq/parley-gateway/internal/room"
	"github.com/parleyhq/parley-gateway/internal/wire"
)

// Claims carries the optional identity parameters from the connection
// handshake. Either, both, or neither may be present; parsing and the
// placeholder rules live in the identity package.
type Claims struct {
	UserToken   string
	ExpertToken string
}

// Hub drives every connection through connecting, identified, any number of
// room joins, and closed. It binds handshake claims to registry entries,
// dispatches inbound frames to the router, and purges all per-connection
// state when the transport reports disconnect.
type Hub struct {
	registry *presence.Registry
	rooms    *room.Rooms
	peers    *Peers
	router   *Router
	logger   *slog.Logger
}

// NewHub creates a hub over explicitly-injected collaborators; nothing here
// is a process-wide singleton. Pass nil logger for default.
func NewHub(registry *presence.Registry, rooms *room.Rooms, peers *Peers, router *Router, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		registry: registry,
		rooms:    rooms,
		peers:    peers,
		router:   router,
		logger:   logger.With("component", "hub"),
	}
}

// Serve runs one connection from handshake to teardown and blocks until the
// transport reports disconnect. The socket is owned by the hub from here on.
func (h *Hub) Serve(sock socket, claims Claims) {
	c := newConn(sock, h.logger)

	h.peers.Add(c)

	ids := h.identify(c, claims)
	c.setState(stateIdentified)

	attrs := []any{"conn", c.ID(), "total_conns", h.peers.Len()}
	for _, id := range ids {
		attrs = append(attrs, string(id.Space), id.Token)
	}
	h.logger.Info("client connected", attrs...)

	c.readLoop(func(data []byte) {
		h.dispatch(c, data)
	})

	h.disconnect(c, ids)
}

// identify registers each well-formed claim in its space and broadcasts the
// refreshed snapshot for that space. Malformed claims are treated as absent.
func (h *Hub) identify(c *Conn, claims Claims) []identity.Identity {
	raw := []struct {
		space identity.Space
		value string
	}{
		{identity.SpaceUser, claims.UserToken},
		{identity.SpaceExpert, claims.ExpertToken},
	}

	var ids []identity.Identity
	for _, claim := range raw {
		id, ok := identity.ParseClaim(claim.space, claim.value)
		if !ok {
			if claim.value != "" && claim.value != identity.Placeholder {
				h.logger.Debug("ignoring malformed identity claim",
					"space", string(claim.space),
					"claim", claim.value,
					"conn", c.ID())
			}
			continue
		}
		h.registry.Register(id, c.ID())
		h.router.BroadcastPresence(id.Space)
		ids = append(ids, id)
	}
	return ids
}

// dispatch handles one inbound frame. Unknown events and undecodable
// payloads are dropped with a debug log; the client never sees an error.
func (h *Hub) dispatch(c *Conn, data []byte) {
	frame, err := wire.DecodeFrame(data)
	if err != nil {
		h.logger.Debug("dropping undecodable frame", "conn", c.ID(), "error", err)
		return
	}

	switch frame.Event {
	case wire.EventJoinRoom:
		h.handleJoinRoom(c, frame.Data)

	// Direct user/expert channel: relay to the receiver identity. The send
	// frame changes name to newMessage on the way through; the rest keep
	// their own name.
	case wire.EventSendMessage:
		h.relayMessage(c, frame, wire.EventNewMessage)
	case wire.EventMessageEdited:
		h.relayMessage(c, frame, wire.EventMessageEdited)
	case wire.EventMessageDeleted:
		h.relayDeletion(c, frame)
	case wire.EventAllMessagesDeleted:
		h.relayPair(c, frame)

	// Legacy expert frames, still emitted by older expert clients. Routed
	// direct to the receiver identity like the user channel.
	case wire.EventExpertMessageEdited:
		h.relayMessage(c, frame, wire.EventExpertMessageEdited)
	case wire.EventExpertMessageDeleted:
		h.relayDeletion(c, frame)
	case wire.EventAllExpertMessagesDeleted:
		h.relayPair(c, frame)

	case wire.EventConversationDeleted:
		h.relayToRoom(c, frame)

	default:
		h.logger.Debug("ignoring unknown event", "event", frame.Event, "conn", c.ID())
	}
}

func (h *Hub) handleJoinRoom(c *Conn, data json.RawMessage) {
	var key string
	if err := json.Unmarshal(data, &key); err != nil || key == "" {
		h.logger.Debug("ignoring malformed join request", "conn", c.ID())
		return
	}
	h.rooms.Join(c.ID(), key)
}

// relayMessage decodes a full message payload and routes it direct to its
// receiver under the given outbound event name. Decoding through the typed
// struct strips fields the protocol does not define.
func (h *Hub) relayMessage(c *Conn, frame wire.Frame, outEvent string) {
	var msg wire.Message
	if err := json.Unmarshal(frame.Data, &msg); err != nil || msg.ReceiverID == "" {
		h.logger.Debug("ignoring malformed message frame",
			"event", frame.Event, "conn", c.ID())
		return
	}
	h.router.ToIdentity(msg.ReceiverID, outEvent, msg)
}

func (h *Hub) relayDeletion(c *Conn, frame wire.Frame) {
	var del wire.Deletion
	if err := json.Unmarshal(frame.Data, &del); err != nil || del.ReceiverID == "" {
		h.logger.Debug("ignoring malformed deletion frame",
			"event", frame.Event, "conn", c.ID())
		return
	}
	h.router.ToIdentity(del.ReceiverID, frame.Event, del)
}

func (h *Hub) relayPair(c *Conn, frame wire.Frame) {
	var pair wire.Pair
	if err := json.Unmarshal(frame.Data, &pair); err != nil || pair.ReceiverID == "" {
		h.logger.Debug("ignoring malformed wipe frame",
			"event", frame.Event, "conn", c.ID())
		return
	}
	h.router.ToIdentity(pair.ReceiverID, frame.Event, pair)
}

// relayToRoom forwards an opaque payload to the room for its pair. Only the
// addressing fields are peeked at; the raw bytes pass through untouched.
func (h *Hub) relayToRoom(c *Conn, frame wire.Frame) {
	var pair wire.Pair
	if err := json.Unmarshal(frame.Data, &pair); err != nil || pair.SenderID == "" || pair.ReceiverID == "" {
		h.logger.Debug("ignoring unaddressable room frame",
			"event", frame.Event, "conn", c.ID())
		return
	}
	h.router.ToRoom(pair.SenderID, pair.ReceiverID, frame.Event, frame.Data)
}

// disconnect purges every trace of a connection: peer table, both identity
// spaces, and all room memberships. Snapshots are rebroadcast only for
// spaces that actually changed, after the peer is gone so it is not a
// broadcast target.
func (h *Hub) disconnect(c *Conn, ids []identity.Identity) {
	c.Close()
	h.peers.Remove(c.ID())

	var offline []string
	for _, space := range identity.Spaces {
		if token, changed := h.registry.Unregister(space, c.ID()); changed {
			h.router.BroadcastPresence(space)
			offline = append(offline, string(space)+":"+token)
		}
	}
	h.rooms.Drop(c.ID())

	h.logger.Info("client disconnected",
		"conn", c.ID(),
		"identified", len(ids) > 0,
		"went_offline", offline,
		"total_conns", h.peers.Len())
}
