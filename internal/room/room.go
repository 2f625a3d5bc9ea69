// ABOUTME: Canonical room keys for identity pairs and the room membership table
// ABOUTME: A room is only a label; it appears on first join and vanishes when empty

package room

import (
	"log/slog"
	"sync"
)

// Separator joins the two sorted identity tokens of a room key. Identity
// tokens are restricted to alphanumeric characters at the handshake
// boundary, so the separator can never occur inside a token.
const Separator = "-"

// Key derives the canonical room key for an unordered pair of identity
// tokens: sort, then join. Key(a, b) == Key(b, a) always holds.
func Key(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + Separator + b
}

// Rooms maps room keys to the set of subscribed connection IDs. It stores
// IDs only; delivery to members is the router's job. A room has no stored
// existence beyond its entry here.
type Rooms struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]struct{} // room key -> set of connection IDs
	logger *slog.Logger
}

// NewRooms creates an empty membership table. Pass nil logger for default.
func NewRooms(logger *slog.Logger) *Rooms {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rooms{
		rooms:  make(map[string]map[string]struct{}),
		logger: logger.With("component", "rooms"),
	}
}

// Join subscribes a connection to a room, creating the room on first join.
// Joining a room twice is a no-op.
func (r *Rooms) Join(connID, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[key]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[key] = members
	}
	if _, ok := members[connID]; ok {
		return
	}
	members[connID] = struct{}{}

	r.logger.Debug("connection joined room",
		"room", key,
		"conn", connID,
		"members", len(members))
}

// Members returns a copy of the connection IDs subscribed to a room. An
// unknown or empty room yields an empty slice, which is a normal outcome.
func (r *Rooms) Members(key string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[key]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(members))
	for connID := range members {
		out = append(out, connID)
	}
	return out
}

// Drop removes a connection from every room it joined; rooms left empty are
// deleted. Called by the connection lifecycle on disconnect.
func (r *Rooms) Drop(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, members := range r.rooms {
		if _, ok := members[connID]; !ok {
			continue
		}
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, key)
		}
	}
}
