package webui

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"crewmonitor/monitor"
)

// WebSocketBroadcaster is a molecule that manages WebSocket client
// connections and broadcasts messages to all of them. It implements
// monitor.Sink, so subscribing it to a registry streams every progress
// update to the connected dashboards.
//
// Thread-safe for concurrent client connections and message broadcasting.
//
// Usage:
//
//	b := webui.NewWebSocketBroadcaster(webui.DefaultBroadcasterConfig(), logger)
//	go b.Start(ctx)
//	unsubscribe := registry.Subscribe(b)
//	mux.HandleFunc("/ws", b.HandleConnection)
type WebSocketBroadcaster struct {
	clients   map[*websocket.Conn]clientInfo
	clientsMu sync.RWMutex

	broadcast  chan WSMessage
	register   chan registration
	unregister chan *websocket.Conn
	done       chan struct{}
	doneOnce   sync.Once

	upgrader websocket.Upgrader
	config   BroadcasterConfig
	logger   *zap.Logger

	// initialState, when set, produces the message a client receives
	// before any broadcast.
	initialState func() InitialData
}

var _ monitor.Sink = (*WebSocketBroadcaster)(nil)

// clientInfo stores metadata about a connected client
type clientInfo struct {
	connectedAt time.Time
	remoteAddr  string
	send        chan []byte
}

type registration struct {
	conn    *websocket.Conn
	initial []byte
}

// BroadcasterConfig holds configuration for the WebSocketBroadcaster
type BroadcasterConfig struct {
	// PingInterval is how often to send ping frames (default: 30s)
	PingInterval time.Duration

	// PongWait is how long to wait for a pong response (default: 60s)
	PongWait time.Duration

	// WriteWait is time allowed to write a message (default: 10s)
	WriteWait time.Duration

	// MaxMessageSize is max message size from client (default: 512 bytes)
	MaxMessageSize int64

	// BroadcastBufferSize is the broadcast channel buffer (default: 256)
	BroadcastBufferSize int

	// ClientSendBufferSize is per-client send buffer (default: 256)
	ClientSendBufferSize int
}

// DefaultBroadcasterConfig returns the default configuration.
// This is a pure function with no side effects.
func DefaultBroadcasterConfig() BroadcasterConfig {
	return BroadcasterConfig{
		PingInterval:         30 * time.Second,
		PongWait:             60 * time.Second,
		WriteWait:            10 * time.Second,
		MaxMessageSize:       512,
		BroadcastBufferSize:  256,
		ClientSendBufferSize: 256,
	}
}

// NewWebSocketBroadcaster creates a broadcaster. Zero config fields take
// their defaults. Call Start to begin processing messages.
func NewWebSocketBroadcaster(config BroadcasterConfig, logger *zap.Logger) *WebSocketBroadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultBroadcasterConfig()
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.PongWait <= 0 {
		config.PongWait = defaults.PongWait
	}
	if config.WriteWait <= 0 {
		config.WriteWait = defaults.WriteWait
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaults.MaxMessageSize
	}
	if config.BroadcastBufferSize <= 0 {
		config.BroadcastBufferSize = defaults.BroadcastBufferSize
	}
	if config.ClientSendBufferSize <= 0 {
		config.ClientSendBufferSize = defaults.ClientSendBufferSize
	}

	return &WebSocketBroadcaster{
		clients:    make(map[*websocket.Conn]clientInfo),
		broadcast:  make(chan WSMessage, config.BroadcastBufferSize),
		register:   make(chan registration),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		config:     config,
		logger:     logger.Named("websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Same-origin deployment; the dashboard is served by this process.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// SetInitialState installs the producer of the snapshot sent to each new
// client. Call before Start.
func (b *WebSocketBroadcaster) SetInitialState(fn func() InitialData) {
	b.initialState = fn
}

// Start runs the registration and broadcast loop until ctx is cancelled,
// then closes every client. This method blocks.
func (b *WebSocketBroadcaster) Start(ctx context.Context) {
	b.logger.Debug("broadcaster started")
	defer b.doneOnce.Do(func() { close(b.done) })

	for {
		select {
		case <-ctx.Done():
			b.logger.Debug("broadcaster stopping", zap.Error(ctx.Err()))
			b.closeAllClients()
			return

		case reg := <-b.register:
			b.addClient(reg)

		case conn := <-b.unregister:
			b.removeClient(conn)

		case message := <-b.broadcast:
			b.broadcastToAll(message)
		}
	}
}

// HandleConnection upgrades the request to a WebSocket and registers the
// client. The client first receives the initial state, if configured.
func (b *WebSocketBroadcaster) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		return
	}

	conn.SetReadLimit(b.config.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(b.config.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(b.config.PongWait))
	})

	reg := registration{conn: conn}
	if b.initialState != nil {
		data, err := json.Marshal(NewInitialMessage(b.initialState()))
		if err != nil {
			b.logger.Error("failed to marshal initial state", zap.Error(err))
		} else {
			reg.initial = data
		}
	}

	select {
	case b.register <- reg:
	case <-b.done:
		_ = conn.Close()
		return
	}

	go b.readPump(conn)
}

// OnProgress implements monitor.Sink by broadcasting a progress message.
func (b *WebSocketBroadcaster) OnProgress(update monitor.ProgressUpdate) {
	b.BroadcastMessage(NewProgressMessage(update))
}

// BroadcastMessage queues msg for every connected client. It never
// blocks; when the broadcast buffer is full the message is dropped.
func (b *WebSocketBroadcaster) BroadcastMessage(msg WSMessage) {
	select {
	case b.broadcast <- msg:
	default:
		b.logger.Warn("broadcast buffer full, dropping message", zap.String("type", msg.Type))
	}
}

// BroadcastError broadcasts an error message to all clients.
func (b *WebSocketBroadcaster) BroadcastError(code, message string) {
	b.BroadcastMessage(NewErrorMessage(code, message))
}

// ClientCount returns the current number of connected clients.
func (b *WebSocketBroadcaster) ClientCount() int {
	b.clientsMu.RLock()
	defer b.clientsMu.RUnlock()
	return len(b.clients)
}

// Close disconnects every client.
func (b *WebSocketBroadcaster) Close() {
	b.closeAllClients()
}

func (b *WebSocketBroadcaster) addClient(reg registration) {
	b.clientsMu.Lock()
	defer b.clientsMu.Unlock()

	info := clientInfo{
		connectedAt: time.Now(),
		remoteAddr:  reg.conn.RemoteAddr().String(),
		send:        make(chan []byte, b.config.ClientSendBufferSize),
	}
	if reg.initial != nil {
		info.send <- reg.initial
	}
	b.clients[reg.conn] = info

	go b.writePump(reg.conn, info.send)

	b.logger.Info("client connected",
		zap.String("remote_addr", info.remoteAddr),
		zap.Int("clients", len(b.clients)))
}

func (b *WebSocketBroadcaster) removeClient(conn *websocket.Conn) {
	b.clientsMu.Lock()
	defer b.clientsMu.Unlock()

	if info, ok := b.clients[conn]; ok {
		close(info.send)
		delete(b.clients, conn)
		b.logger.Info("client disconnected",
			zap.String("remote_addr", info.remoteAddr),
			zap.Duration("connected_for", time.Since(info.connectedAt)),
			zap.Int("clients", len(b.clients)))
	}
}

func (b *WebSocketBroadcaster) requestUnregister(conn *websocket.Conn) {
	select {
	case b.unregister <- conn:
	case <-b.done:
	}
}

func (b *WebSocketBroadcaster) broadcastToAll(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("failed to marshal broadcast message",
			zap.String("type", msg.Type),
			zap.Error(err))
		return
	}

	b.clientsMu.RLock()
	defer b.clientsMu.RUnlock()

	for conn, info := range b.clients {
		select {
		case info.send <- data:
		default:
			b.logger.Warn("client send buffer full, closing", zap.String("remote_addr", info.remoteAddr))
			go b.requestUnregister(conn)
		}
	}
}

func (b *WebSocketBroadcaster) closeAllClients() {
	b.clientsMu.Lock()
	defer b.clientsMu.Unlock()

	for conn, info := range b.clients {
		close(info.send)
		delete(b.clients, conn)
	}
}

// readPump discards client messages and keeps the read deadline fresh.
// It unregisters the client when the connection fails.
func (b *WebSocketBroadcaster) readPump(conn *websocket.Conn) {
	defer b.requestUnregister(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				b.logger.Debug("unexpected websocket close", zap.Error(err))
			}
			return
		}
	}
}

// writePump is the only writer on conn. It drains send and pings the
// client every PingInterval, and closes the connection when send closes.
func (b *WebSocketBroadcaster) writePump(conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(b.config.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case message, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(b.config.WriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				b.logger.Debug("websocket write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(b.config.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				b.logger.Debug("websocket ping failed", zap.Error(err))
				return
			}
		}
	}
}
