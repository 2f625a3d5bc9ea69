// ABOUTME: Session gate consulted before expert-channel traffic is accepted
// ABOUTME: Wraps the store check with a fail-closed policy on errors

package session

import (
	"context"
	"log/slog"
)

// Checker is the slice of the store the gate needs.
type Checker interface {
	HasConfirmedSession(ctx context.Context, a, b string) (bool, error)
}

// Gate answers whether a confirmed consultation session links two accounts.
// The relay core never consults it; command handlers do, before anything
// reaches the router.
type Gate struct {
	sessions Checker
	logger   *slog.Logger
}

// NewGate creates a gate over the given session checker. Pass nil logger for
// default.
func NewGate(sessions Checker, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		sessions: sessions,
		logger:   logger.With("component", "session"),
	}
}

// ConfirmedSessionExists reports whether a confirmed session exists between
// the two accounts, in either order. A store error denies: the expert
// channel stays closed when the answer is unknown.
func (g *Gate) ConfirmedSessionExists(ctx context.Context, a, b string) bool {
	ok, err := g.sessions.HasConfirmedSession(ctx, a, b)
	if err != nil {
		g.logger.Warn("session check failed, denying", "a", a, "b", b, "error", err)
		return false
	}
	return ok
}
