// ABOUTME: Table of live connections keyed by connection ID
// ABOUTME: The transport side of delivery; everything above it deals in IDs only

package relay

import (
	"log/slog"
	"sync"

	"github.com/parleyhq/parley-gateway/internal/wire"
)

// Peers owns the live Conn objects. It is the only component that touches
// connections directly; the presence registry and room table store bare IDs
// and resolve them through here at delivery time.
type Peers struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	logger *slog.Logger
}

// NewPeers creates an empty connection table. Pass nil logger for default.
func NewPeers(logger *slog.Logger) *Peers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Peers{
		conns:  make(map[string]*Conn),
		logger: logger.With("component", "peers"),
	}
}

// Add registers a live connection.
func (p *Peers) Add(c *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[c.ID()] = c
}

// Remove drops a connection from the table. The Conn itself is closed by its
// owner, not here.
func (p *Peers) Remove(connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.conns, connID)
}

// Len returns the number of live connections.
func (p *Peers) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

// Send encodes one event and queues it for one connection. Reports false
// when the connection is unknown or the frame was dropped.
func (p *Peers) Send(connID, event string, payload any) bool {
	frame, err := wire.Encode(event, payload)
	if err != nil {
		p.logger.Warn("failed to encode event", "event", event, "error", err)
		return false
	}

	p.mu.RLock()
	c, ok := p.conns[connID]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	return c.TrySend(frame)
}

// SendTo encodes one event once and queues it for each listed connection.
// Returns how many connections accepted the frame.
func (p *Peers) SendTo(connIDs []string, event string, payload any) int {
	if len(connIDs) == 0 {
		return 0
	}
	frame, err := wire.Encode(event, payload)
	if err != nil {
		p.logger.Warn("failed to encode event", "event", event, "error", err)
		return 0
	}

	p.mu.RLock()
	targets := make([]*Conn, 0, len(connIDs))
	for _, id := range connIDs {
		if c, ok := p.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	p.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.TrySend(frame) {
			delivered++
		}
	}
	return delivered
}

// CloseAll closes every live connection. Shutdown path: hijacked websocket
// connections are invisible to http.Server.Shutdown, so the gateway closes
// them here before stopping the server.
func (p *Peers) CloseAll() {
	p.mu.RLock()
	targets := make([]*Conn, 0, len(p.conns))
	for _, c := range p.conns {
		targets = append(targets, c)
	}
	p.mu.RUnlock()

	for _, c := range targets {
		c.Close()
	}
}

// Broadcast encodes one event once and queues it for every live connection.
// Returns how many connections accepted the frame.
func (p *Peers) Broadcast(event string, payload any) int {
	frame, err := wire.Encode(event, payload)
	if err != nil {
		p.logger.Warn("failed to encode event", "event", event, "error", err)
		return 0
	}

	p.mu.RLock()
	targets := make([]*Conn, 0, len(p.conns))
	for _, c := range p.conns {
		targets = append(targets, c)
	}
	p.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.TrySend(frame) {
			delivered++
		}
	}
	return delivered
}
