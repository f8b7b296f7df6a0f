package relay

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/slipstream-racing/slipstream/go/internal/room"
)

// ConnectionManager owns every live WebSocket connection and delivers
// room-scoped frames by connection id. Room membership itself lives in
// the registry; the manager only maps ids to sockets.
type ConnectionManager struct {
	conns map[string]*Connection
	mu    sync.RWMutex

	registry *room.Registry
	upgrader websocket.Upgrader
	config   ConnectionConfig
}

// Connection is one player's WebSocket plus its protocol session.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager
	Session *Session

	ConnectedAt time.Time
}

// ConnectionConfig holds per-connection WebSocket tuning.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns the production defaults. State
// snapshots are small; 4KB leaves headroom for usernames and future
// fields.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// The game client is served from arbitrary origins (itch,
			// local dev); the relay carries no credentials.
			return true
		},
	}
}

// NewConnectionManager creates a manager bound to a room registry.
func NewConnectionManager(registry *room.Registry, config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		conns:    make(map[string]*Connection),
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// UpgradeConnection upgrades an HTTP request to a WebSocket, assigns
// the connection id that doubles as the player id, and starts the
// read/write pumps.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}
	connection.Session = NewSession(connection.ID, cm.registry, cm, func(frame []byte) {
		cm.send(connection, frame)
	})

	cm.register(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("player connected")

	return nil
}

func (cm *ConnectionManager) register(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.conns[conn.ID] = conn
}

// unregister removes the connection and tears down its session. The
// read and write pumps both call this on exit; the second call is a
// no-op, which keeps disconnect cleanup idempotent.
func (cm *ConnectionManager) unregister(conn *Connection) {
	cm.mu.Lock()
	_, live := cm.conns[conn.ID]
	if live {
		delete(cm.conns, conn.ID)
		close(conn.Send)
	}
	cm.mu.Unlock()

	if !live {
		return
	}

	conn.Session.Close()

	log.Info().
		Str("connection_id", conn.ID).
		Msg("player disconnected")
}

// SendToMembers delivers one frame to each listed connection. A member
// whose send buffer is full is treated as dead and dropped; the relay
// never blocks a broadcast on a slow consumer.
func (cm *ConnectionManager) SendToMembers(ids []string, frame []byte) {
	cm.mu.RLock()
	targets := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := cm.conns[id]; ok {
			targets = append(targets, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		if !cm.send(conn, frame) {
			log.Warn().
				Str("connection_id", conn.ID).
				Msg("send buffer full, closing connection")
			// Tear down off this goroutine: the caller may hold its own
			// session lock, and unregister takes the victim's.
			go func(conn *Connection) {
				cm.unregister(conn)
				conn.Conn.Close()
			}(conn)
		}
	}
}

// send enqueues one frame without blocking. Returns false only for a
// live connection whose buffer is full. Holding the read lock means
// the Send channel cannot be closed underneath the select, since
// unregister closes it under the write lock.
func (cm *ConnectionManager) send(conn *Connection, frame []byte) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if _, live := cm.conns[conn.ID]; !live {
		return true
	}
	select {
	case conn.Send <- frame:
		return true
	default:
		return false
	}
}

// ConnectionCount returns the number of live connections.
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.conns)
}

// CloseAll force-closes every live connection, used on shutdown.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.conns))
	for _, conn := range cm.conns {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range conns {
		cm.unregister(conn)
		conn.Conn.Close()
	}
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregister(c)
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("write failed")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump feeds inbound frames to the session until the socket dies.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, frame, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected close")
			}
			break
		}

		c.Session.HandleFrame(frame)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
