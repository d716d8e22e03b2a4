package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"carbon-scribe/ghg-reporting/internal/notifications"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// Manager handles WebSocket connections and routes messages to the
// connections subscribed to a company
type Manager struct {
	connections map[string]*Connection
	mu          sync.RWMutex
	hub         *Hub
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

// Connection represents a WebSocket client connection
type Connection struct {
	ID           string
	CompanyIDs   map[string]bool
	Conn         *websocket.Conn
	Send         chan notifications.WebSocketMessage
	ConnectedAt  time.Time
	LastActivity time.Time
	UserAgent    string
	IPAddress    string
	mu           sync.Mutex
	closeOnce    sync.Once
}

func (c *Connection) subscribed(companyID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CompanyIDs[companyID]
}

func (c *Connection) closeSend() {
	c.closeOnce.Do(func() { close(c.Send) })
}

// Hub manages the broadcast of messages to connections
type Hub struct {
	connections map[*Connection]bool
	broadcast   chan notifications.WebSocketMessage
	register    chan *Connection
	unregister  chan *Connection
	stop        chan struct{}
}

// NewManager creates a new WebSocket manager. allowedOrigins empty accepts
// every origin.
func NewManager(logger *zap.Logger, allowedOrigins ...string) *Manager {
	hub := &Hub{
		connections: make(map[*Connection]bool),
		broadcast:   make(chan notifications.WebSocketMessage, 256),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		stop:        make(chan struct{}),
	}

	go hub.run()

	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}

	return &Manager{
		connections: make(map[string]*Connection),
		hub:         hub,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return len(origins) == 0 || origins[r.Header.Get("Origin")]
			},
		},
	}
}

// HandleConnection upgrades the request and starts the connection pumps.
// Company subscriptions may be passed as repeated company_id query params.
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	now := time.Now()
	connection := &Connection{
		ID:           uuid.New().String(),
		CompanyIDs:   make(map[string]bool),
		Conn:         conn,
		Send:         make(chan notifications.WebSocketMessage, sendBuffer),
		ConnectedAt:  now,
		LastActivity: now,
		UserAgent:    r.Header.Get("User-Agent"),
		IPAddress:    r.RemoteAddr,
	}
	for _, id := range r.URL.Query()["company_id"] {
		connection.CompanyIDs[id] = true
	}

	select {
	case m.hub.register <- connection:
	case <-m.hub.stop:
		conn.Close()
		return nil, fmt.Errorf("websocket manager closed")
	}

	m.mu.Lock()
	m.connections[connection.ID] = connection
	m.mu.Unlock()

	go m.readPump(connection)
	go m.writePump(connection)

	return connection, nil
}

// readPump reads subscription changes until the client goes away
func (m *Manager) readPump(conn *Connection) {
	defer func() {
		select {
		case m.hub.unregister <- conn:
		case <-m.hub.stop:
		}
		m.mu.Lock()
		delete(m.connections, conn.ID)
		m.mu.Unlock()
		conn.Conn.Close()
	}()

	conn.Conn.SetReadLimit(4096)
	conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg notifications.WebSocketMessage
		if err := conn.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Warn("WebSocket read failed", zap.String("connection_id", conn.ID), zap.Error(err))
			}
			return
		}

		conn.mu.Lock()
		conn.LastActivity = time.Now()
		conn.mu.Unlock()

		m.handleMessage(conn, &msg)
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (m *Manager) writePump(conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage applies subscribe and unsubscribe requests
func (m *Manager) handleMessage(conn *Connection, msg *notifications.WebSocketMessage) {
	switch msg.Type {
	case notifications.WSMessageTypeSubscribe, notifications.WSMessageTypeUnsubscribe:
		var req notifications.SubscribeRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			m.logger.Debug("Ignoring malformed subscription", zap.String("connection_id", conn.ID), zap.Error(err))
			return
		}
		conn.mu.Lock()
		for _, id := range req.CompanyIDs {
			if msg.Type == notifications.WSMessageTypeSubscribe {
				conn.CompanyIDs[id] = true
			} else {
				delete(conn.CompanyIDs, id)
			}
		}
		subscribed := make([]string, 0, len(conn.CompanyIDs))
		for id := range conn.CompanyIDs {
			subscribed = append(subscribed, id)
		}
		conn.mu.Unlock()

		data, _ := json.Marshal(map[string]interface{}{"status": "subscribed", "connection_id": conn.ID, "company_ids": subscribed})
		select {
		case conn.Send <- notifications.WebSocketMessage{
			Type:      notifications.WSMessageTypeStatus,
			Data:      data,
			Timestamp: time.Now().UTC(),
			Channel:   "private",
		}:
		default:
		}
	default:
		m.logger.Debug("Unknown message type", zap.String("type", msg.Type))
	}
}

// run runs the hub in its own goroutine
func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.connections[conn] = true

		case conn := <-h.unregister:
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				conn.closeSend()
			}

		case message := <-h.broadcast:
			for conn := range h.connections {
				select {
				case conn.Send <- message:
				default:
					// slow consumer
				}
			}

		case <-h.stop:
			for conn := range h.connections {
				conn.closeSend()
				delete(h.connections, conn)
			}
			return
		}
	}
}

// SendToCompany delivers a message to every connection subscribed to the
// company and returns how many received it
func (m *Manager) SendToCompany(companyID string, message notifications.WebSocketMessage) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	message.Target = companyID
	message.Channel = "company"
	sent := 0
	for _, conn := range m.connections {
		if !conn.subscribed(companyID) {
			continue
		}
		select {
		case conn.Send <- message:
			sent++
		default:
			m.logger.Warn("WebSocket buffer full, dropping message", zap.String("connection_id", conn.ID))
		}
	}
	return sent
}

// Broadcast sends a message to all connected clients
func (m *Manager) Broadcast(message notifications.WebSocketMessage) error {
	select {
	case m.hub.broadcast <- message:
		return nil
	default:
		return fmt.Errorf("broadcast channel full")
	}
}

// GetConnectionCount returns the number of active connections
func (m *Manager) GetConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// GetCompanyConnections returns the number of connections subscribed to a company
func (m *Manager) GetCompanyConnections(companyID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, conn := range m.connections {
		if conn.subscribed(companyID) {
			count++
		}
	}
	return count
}

// Close closes the WebSocket manager and all connections
func (m *Manager) Close() {
	close(m.hub.stop)

	m.mu.Lock()
	for _, conn := range m.connections {
		conn.Conn.Close()
	}
	m.connections = make(map[string]*Connection)
	m.mu.Unlock()
}
