// ABOUTME: Live mapping of participant identity to connection ID, one map per identity space
// ABOUTME: Last connect wins; unregister compares handles so a stale disconnect never clobbers

package presence

import (
	"log/slog"
	"sync"

	"github.com/parleyhq/parley-gateway/internal/identity"
)

// Registry tracks which identities are currently online in each identity
// space. It holds connection IDs only, never connection objects; the
// transport layer owns those and may close them independently. Absence is a
// normal outcome everywhere in this component, not an error.
type Registry struct {
	mu      sync.RWMutex
	users   map[string]string // identity token -> connection ID
	experts map[string]string
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		users:   make(map[string]string),
		experts: make(map[string]string),
		logger:  logger.With("component", "presence"),
	}
}

// bySpace must be called with the lock held.
func (r *Registry) bySpace(space identity.Space) map[string]string {
	if space == identity.SpaceExpert {
		return r.experts
	}
	return r.users
}

// Register inserts or overwrites the mapping for an identity. A repeat
// registration supersedes the previous connection without closing it (last
// connect wins). The caller broadcasts the refreshed snapshot afterward; the
// registry itself never broadcasts.
func (r *Registry) Register(id identity.Identity, connID string) {
	r.mu.Lock()
	m := r.bySpace(id.Space)
	prev, had := m[id.Token]
	m[id.Token] = connID
	r.mu.Unlock()

	if had && prev != connID {
		r.logger.Debug("superseded earlier connection",
			"identity", id.String(),
			"old_conn", prev,
			"new_conn", connID)
	}
}

// Unregister removes whatever mapping in the space currently points at this
// exact connection ID. A connection already superseded by a newer
// registration for the same identity matches nothing, so a late disconnect
// can never clobber the fresher mapping. Returns the identity token that
// went offline and whether the space actually changed.
func (r *Registry) Unregister(space identity.Space, connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.bySpace(space)
	for token, cur := range m {
		if cur == connID {
			delete(m, token)
			return token, true
		}
	}
	return "", false
}

// Lookup returns the connection ID currently registered for an identity.
// ok is false when the identity is offline.
func (r *Registry) Lookup(space identity.Space, token string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, ok := r.bySpace(space)[token]
	return connID, ok
}

// Snapshot returns every identity token currently online in the space. The
// slice is a fresh copy reflecting registry state at call time; no ordering
// is guaranteed.
func (r *Registry) Snapshot(space identity.Space) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := r.bySpace(space)
	tokens := make([]string, 0, len(m))
	for token := range m {
		tokens = append(tokens, token)
	}
	return tokens
}

// Count returns how many identities are online in the space.
func (r *Registry) Count(space identity.Space) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.bySpace(space))
}
