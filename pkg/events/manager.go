package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// ClientMessage is the JSON structure for client → server WebSocket messages.
// The session channel is implicit in the upgrade path, so the only supported
// action is "ping".
type ClientMessage struct {
	Action string `json:"action"`
}

// ConnectionManager owns live WebSocket connections. One connection per
// session; a newer connection displaces the previous sink on the bus.
type ConnectionManager struct {
	writeTimeout time.Duration

	mu          sync.RWMutex
	connections map[string]*Connection
}

// Connection is a single WebSocket subscriber bound to one session bus.
type Connection struct {
	ID        string
	SessionID string
	conn      *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	writeMu   sync.Mutex
}

// NewConnectionManager creates a ConnectionManager with the given write
// timeout per frame.
func NewConnectionManager(writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		writeTimeout: writeTimeout,
		connections:  make(map[string]*Connection),
	}
}

// ActiveConnections returns the count of live WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// HandleConnection manages the lifecycle of one subscriber connection.
// It emits session_started, attaches the connection to the session bus,
// and blocks in the read loop until the connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, sessionID string, bus *Bus) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		conn:      conn,
		ctx:       ctx,
		cancel:    cancel,
	}

	m.mu.Lock()
	m.connections[c.ID] = c
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.connections, c.ID)
		m.mu.Unlock()
		if bus != nil {
			bus.Detach(c)
		}
		c.cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	// Handshake frame precedes any bus traffic on this connection.
	if err := m.sendJSON(c, SessionStartedPayload{
		Type:      TypeSessionStarted,
		SessionID: sessionID,
	}); err != nil {
		slog.Warn("Failed to send session_started",
			"connection_id", c.ID, "session_id", sessionID, "error", err)
		return
	}

	if bus != nil {
		bus.Attach(c)
	}

	// Read loop. Only ping is supported; everything else is ignored.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message",
				"connection_id", c.ID, "error", err)
			continue
		}
		if msg.Action == "ping" {
			_ = m.sendJSON(c, map[string]string{"type": "pong"})
		}
	}
}

// Send implements Sink: ordered frames from the bus are written to the
// socket with the manager's write timeout.
func (c *Connection) Send(ctx context.Context, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, frame)
}

func (m *ConnectionManager) sendJSON(c *Connection, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Send(writeCtx, data)
}
