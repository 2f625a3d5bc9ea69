// ABOUTME: Wraps one client websocket: buffered outbound queue, writer pump, read loop
// ABOUTME: Sends are non-blocking; a full queue drops the frame rather than stall the relay

package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds a single frame write to a slow client.
	writeWait = 10 * time.Second

	// maxFrameBytes caps inbound frames; chat payloads are small.
	maxFrameBytes = 512 * 1024

	// sendQueueSize is the per-connection outbound buffer. Delivery is
	// best-effort: a full queue drops the frame.
	sendQueueSize = 64
)

// socket is the minimal transport surface Conn needs. *websocket.Conn
// satisfies it; tests substitute an in-memory double.
type socket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// connState tracks a connection through its lifecycle:
// connecting, identified, closed.
type connState int

const (
	stateConnecting connState = iota
	stateIdentified
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateIdentified:
		return "identified"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn owns one client socket. A single writer pump drains the outbound
// queue; the read loop feeds inbound frames to the hub. Everything above the
// transport refers to a Conn only by its ID.
type Conn struct {
	id     string
	sock   socket
	out    chan []byte
	closed chan struct{}
	once   sync.Once
	logger *slog.Logger

	mu    sync.Mutex
	state connState
}

func newConn(sock socket, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conn{
		id:     uuid.New().String(),
		sock:   sock,
		out:    make(chan []byte, sendQueueSize),
		closed: make(chan struct{}),
		logger: logger,
		state:  stateConnecting,
	}
	go c.writePump()
	return c
}

// ID returns the opaque connection handle used across the relay core.
func (c *Conn) ID() string { return c.id }

// State returns the connection's current lifecycle state.
func (c *Conn) State() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s connState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// TrySend queues an already-encoded frame without blocking. Reports false
// when the frame was dropped because the queue is full or the connection is
// closed.
func (c *Conn) TrySend(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.out <- frame:
		return true
	default:
		c.logger.Debug("send queue full, dropping frame", "conn", c.id)
		return false
	}
}

// Close tears down the socket and stops the writer pump. Safe to call more
// than once and from any goroutine.
func (c *Conn) Close() {
	c.once.Do(func() {
		c.setState(stateClosed)
		close(c.closed)
		_ = c.sock.Close()
	})
}

// readLoop delivers inbound frames to onFrame until the transport errors,
// then closes the connection. Runs on the caller's goroutine.
func (c *Conn) readLoop(onFrame func([]byte)) {
	defer c.Close()

	c.sock.SetReadLimit(maxFrameBytes)
	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("connection read error", "conn", c.id, "error", err)
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		onFrame(data)
	}
}

func (c *Conn) writePump() {
	for {
		select {
		case <-c.closed:
			return
		case frame := <-c.out:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("write failed, closing connection", "conn", c.id, "error", err)
				c.Close()
				return
			}
		}
	}
}
