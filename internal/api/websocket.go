package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"

	"github.com/nerrad567/pairing-relay/internal/infrastructure/config"
	"github.com/nerrad567/pairing-relay/internal/infrastructure/logging"
	"github.com/nerrad567/pairing-relay/internal/pairing"
)

// Query parameters naming the connection role on upgrade.
const (
	roleParam       = "role"
	legacyRoleParam = "clientType"
)

// Hub tracks live WebSocket clients so they can be closed on shutdown.
// Pairing state lives in the engine; the hub only owns sockets.
type Hub struct {
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient is one upgraded connection. It implements pairing.Peer.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// id and role are set once before the read pump starts.
	id   string
	role pairing.Role

	// mu guards closed and closing send, so Send never writes to a closed channel.
	mu     sync.Mutex
	closed bool
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	if err := h.close(); err != nil {
		h.logger.Debug("closing websocket clients", "error", err)
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client from the hub and closes its send queue.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	client.closeSend()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// close disconnects all clients. Each read pump then observes the closed
// socket and runs its normal disconnect path.
func (h *Hub) close() error {
	h.mu.Lock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	var err error
	for _, client := range clients {
		client.closeSend()
		if closeErr := client.conn.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
			err = multierr.Append(err, closeErr)
		}
	}
	return err
}

// newWSClient wraps an upgraded connection.
func newWSClient(hub *Hub, conn *websocket.Conn, buffer int) *WSClient {
	return &WSClient{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, buffer),
	}
}

// Send enqueues data for the write pump without blocking.
func (c *WSClient) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return pairing.ErrPeerClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return pairing.ErrSendQueueFull
	}
}

// closeSend closes the send queue once. The write pump drains what is left,
// sends a close frame and exits.
func (c *WSClient) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// roleFromRequest reads the connection role from the query string.
func roleFromRequest(r *http.Request) (pairing.Role, error) {
	q := r.URL.Query()
	raw := q.Get(roleParam)
	if raw == "" {
		raw = q.Get(legacyRoleParam)
	}
	if raw == "" {
		return "", fmt.Errorf("%w: %s query parameter is required", pairing.ErrInvalidRole, roleParam)
	}
	return pairing.ParseRole(raw)
}

// handleWebSocket upgrades the HTTP connection and registers it with the
// pairing engine. The role must be valid before the upgrade is attempted.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	role, err := roleFromRequest(r)
	if err != nil {
		writeInvalidRole(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(s.hub, conn, s.wsCfg.SendBuffer)
	client.role = role
	s.hub.Register(client)

	// The writer runs before Connect so the initial availability is flushed.
	go client.writePump(s.wsCfg)

	registered, err := s.engine.Connect(role, client)
	if err != nil {
		s.logger.Error("pairing registration failed",
			"role", role,
			"remote_addr", r.RemoteAddr,
			"error", err,
		)
		s.hub.Unregister(client)
		return
	}
	client.id = registered.ID

	s.logger.Info("websocket connection opened",
		"connection_id", registered.ID,
		"role", role,
		"remote_addr", r.RemoteAddr,
	)

	go s.readPump(client)
}

// readPump reads frames from the connection and hands them to the engine.
// On exit the connection is disconnected from the engine and the hub.
func (s *Server) readPump(c *WSClient) {
	defer func() {
		s.engine.Disconnect(c.id)
		c.hub.Unregister(c)
		c.conn.Close()
		s.logger.Info("websocket connection closed", "connection_id", c.id, "role", c.role)
	}()

	c.conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	pingInterval := time.Duration(s.wsCfg.PingInterval) * time.Second
	pongWait := time.Duration(s.wsCfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", "connection_id", c.id, "error", err)
			} else {
				s.logger.Debug("websocket closed", "connection_id", c.id, "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection alive
		// even if the peer doesn't respond to protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))

		if err := s.engine.HandleMessage(c.id, message); err != nil {
			s.logger.Debug("message rejected",
				"connection_id", c.id,
				"reason", pairing.Reason(err),
				"error", err,
			)
		}
	}
}

// writePump writes queued messages and keepalive pings to the connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Send queue closed
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
