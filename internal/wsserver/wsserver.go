// Package wsserver implements the Connection Server: the WebSocket
// acceptor that enforces the connection cap, runs the heartbeat, routes
// inbound messages, and tracks per-connection state.
//
// Grounded on the teacher's internal/server/server.go (Server/Client
// structs, handleWebSocket, heartbeat via ping ticker + pong handler,
// readPump/writePump, Stop() shutdown ordering) and server_http.go's mux
// pattern.
package wsserver

import (
	"context"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/syncbridge/host/internal/bridgeerrors"
	"github.com/syncbridge/host/internal/discovery"
	"github.com/syncbridge/host/internal/protocol"
)

// EventType enumerates the connection-lifecycle and traffic events the
// orchestrator subscribes to, replacing the teacher's (and the original
// source's) event-emitter-per-component with an explicit variant set, per
// spec.md §9's re-architecture guidance.
type EventType string

const (
	EventClientConnected    EventType = "CLIENT_CONNECTED"
	EventClientDisconnected EventType = "CLIENT_DISCONNECTED"
	EventMessageReceived    EventType = "MESSAGE_RECEIVED"
	EventMessageSent        EventType = "MESSAGE_SENT"
	EventError              EventType = "ERROR"
)

// Event is delivered to every Subscribe callback.
type Event struct {
	Type         EventType
	ConnectionID string
	Message      protocol.Message
	Err          error
	Reason       string
}

const (
	defaultPingInterval  = 30 * time.Second
	defaultPongTolerance = 5 * time.Second
	defaultHeartbeatTick = 5 * time.Second
	writeWait            = 10 * time.Second
)

// ServerInfo fills ConnectionAccepted.payload.serverInfo.
type ServerInfo struct {
	Name     string
	Version  string
	Platform string
}

// Server is the Connection Server.
type Server struct {
	maxConnections int
	serverInfo     ServerInfo
	upgrader       websocket.Upgrader
	httpServer     *http.Server

	pingInterval  time.Duration
	pongTolerance time.Duration
	heartbeatTick time.Duration

	mu          sync.RWMutex
	connections map[string]*Connection
	stopped     bool

	subMu       sync.Mutex
	subscribers map[int]func(Event)
	nextSub     int

	inboundHandler func(connID string, msg protocol.Message)
}

// Option configures optional Server behavior.
type Option func(*Server)

// WithHeartbeatTiming overrides the ping interval, pong grace tolerance,
// and heartbeat poll tick. Production callers have no reason to use this;
// it exists so tests can shrink spec.md §8 scenario 6's 35+ second
// ping-timeout window down to something a test can wait out.
func WithHeartbeatTiming(pingInterval, pongTolerance, heartbeatTick time.Duration) Option {
	return func(s *Server) {
		s.pingInterval = pingInterval
		s.pongTolerance = pongTolerance
		s.heartbeatTick = heartbeatTick
	}
}

// New creates a Connection Server. maxConnections is the hard cap on
// simultaneous tracked connections, counting those still waiting for
// their handshake (spec.md §6.4).
func New(maxConnections int, info ServerInfo, opts ...Option) *Server {
	s := &Server{
		maxConnections: maxConnections,
		serverInfo:     info,
		upgrader:       websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		connections:    map[string]*Connection{},
		subscribers:    map[int]func(Event){},
		pingInterval:   defaultPingInterval,
		pongTolerance:  defaultPongTolerance,
		heartbeatTick:  defaultHeartbeatTick,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetInboundHandler registers the callback invoked for every successfully
// decoded AI-typed inbound message (AIConversation, AskResponse,
// TriggerSend). Everything else (handshake, ping, echo) the server handles
// itself per spec.md §4.4.
func (s *Server) SetInboundHandler(h func(connID string, msg protocol.Message)) {
	s.mu.Lock()
	s.inboundHandler = h
	s.mu.Unlock()
}

// Subscribe registers cb for every Event the server produces. The
// returned func removes it.
func (s *Server) Subscribe(cb func(Event)) func() {
	s.subMu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subscribers[id] = cb
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *Server) emit(ev Event) {
	s.subMu.Lock()
	cbs := make([]func(Event), 0, len(s.subscribers))
	for _, cb := range s.subscribers {
		cbs = append(cbs, cb)
	}
	s.subMu.Unlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

// Start binds addr and begins accepting WebSocket connections at /ws.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return bridgeerrors.Wrap(bridgeerrors.CodeStartupPortUnavailable, "failed to bind "+addr, err)
	}

	s.httpServer = &http.Server{Handler: mux}
	go func() {
		log.Printf("Connection server listening on %s", addr)
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("Connection server error: %v", err)
		}
	}()
	return nil
}

// Stop closes every connection with code 1000 and shuts down the listener.
// Idempotent.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	conns := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.connections = map[string]*Connection{}
	s.mu.Unlock()

	for _, c := range conns {
		s.closeConnection(c, websocket.CloseNormalClosure, "Server shutdown", false)
	}

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// ConnectionCount returns the number of tracked connections (any state).
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// Connections returns a snapshot of every tracked connection.
func (s *Server) Connections() []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Info, 0, len(s.connections))
	for _, c := range s.connections {
		out = append(out, c.snapshot())
	}
	return out
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	if len(s.connections) >= s.maxConnections {
		s.mu.Unlock()
		s.rejectForCapacity(conn)
		return
	}
	id := uuid.New().String()
	c := newConnection(id, conn)
	s.connections[id] = c
	s.mu.Unlock()

	go s.writePump(c)
	go s.heartbeatMonitor(c)
	go s.readPump(c)
}

// rejectForCapacity implements spec.md §4.4's accept-path cap: reply
// ConnectionRejected on the raw socket and close with 1013, without ever
// allocating a Connection record.
func (s *Server) rejectForCapacity(conn *websocket.Conn) {
	log.Printf("wsserver: rejecting connection from %s: at maximum capacity (%d)", conn.RemoteAddr(), s.maxConnections)
	msg := protocol.NewConnectionRejectedMessage(uuid.New().String(), "Server at maximum capacity")
	data, err := protocol.Encode(msg)
	if err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, data)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(1013, "at maximum capacity"))
	conn.Close()
}

func (s *Server) writePump(c *Connection) {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case data, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("wsserver: write error on connection %s: %v", c.id, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// heartbeatMonitor disconnects a connection that hasn't answered a PING
// with a PONG within pingInterval+pongTolerance, per spec.md §4.4.
func (s *Server) heartbeatMonitor(c *Connection) {
	ticker := time.NewTicker(s.heartbeatTick)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if c.timeSincePong() > s.pingInterval+s.pongTolerance {
				log.Printf("wsserver: ping timeout on connection %s", c.id)
				s.closeConnection(c, websocket.CloseNormalClosure, "Ping timeout", true)
				return
			}
		}
	}
}

func (s *Server) readPump(c *Connection) {
	defer func() {
		s.mu.Lock()
		_, existed := s.connections[c.id]
		delete(s.connections, c.id)
		s.mu.Unlock()
		c.closeSignal()
		if existed {
			s.emit(Event{Type: EventClientDisconnected, ConnectionID: c.id})
		}
	}()

	c.conn.SetReadLimit(512 * 1024)
	c.conn.SetPongHandler(func(string) error {
		c.touchPong()
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		if !c.limiter.Allow() {
			s.emit(Event{Type: EventError, ConnectionID: c.id,
				Err: bridgeerrors.New(bridgeerrors.CodeCapacityRateLimited, "inbound message rate exceeded")})
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			log.Printf("wsserver: invalid message on connection %s: %v", c.id, err)
			s.emit(Event{Type: EventError, ConnectionID: c.id, Err: err})
			continue
		}

		c.touchActivity()
		s.emit(Event{Type: EventMessageReceived, ConnectionID: c.id, Message: msg})
		s.routeInbound(c, msg)
	}
}

func (s *Server) routeInbound(c *Connection, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeClientHandshake:
		s.handleHandshake(c, msg)
	case protocol.TypePing:
		s.sendTo(c, protocol.NewPongMessage(uuid.New().String()))
	case protocol.TypeEcho:
		payload := msg.Payload.(protocol.EchoPayload)
		s.sendTo(c, protocol.NewEchoMessage(uuid.New().String(), payload.Message))
	default:
		if protocol.IsAIMessage(msg.Type) {
			s.mu.RLock()
			handler := s.inboundHandler
			s.mu.RUnlock()
			if handler != nil {
				handler(c.id, msg)
			}
		}
	}
}

func (s *Server) handleHandshake(c *Connection, msg protocol.Message) {
	c.applyHandshake(msg.ClientType, msg.Version, msg.Capabilities)
	c.setState(StateConnected)

	accepted := protocol.NewConnectionAcceptedMessage(uuid.New().String(), c.id, protocol.ServerInfo{
		Name:         s.serverInfo.Name,
		Version:      s.serverInfo.Version,
		Platform:     s.serverInfo.Platform,
		Capabilities: discovery.Capabilities,
	})
	s.sendTo(c, accepted)
	s.emit(Event{Type: EventClientConnected, ConnectionID: c.id})
}

// SendMessage serializes and writes msg to the connection identified by
// id. Returns false if the connection is absent or not Connected.
func (s *Server) SendMessage(id string, msg protocol.Message) bool {
	s.mu.RLock()
	c, ok := s.connections[id]
	s.mu.RUnlock()
	if !ok || c.State() != StateConnected {
		return false
	}
	return s.sendTo(c, msg)
}

// Broadcast sends msg to every Connected connection and returns the number
// of successful sends. One slow peer never blocks the others: each send is
// a non-blocking channel write.
func (s *Server) Broadcast(msg protocol.Message) int {
	s.mu.RLock()
	conns := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		if c.State() == StateConnected {
			conns = append(conns, c)
		}
	}
	s.mu.RUnlock()

	count := 0
	for _, c := range conns {
		if s.sendTo(c, msg) {
			count++
		}
	}
	return count
}

func (s *Server) sendTo(c *Connection, msg protocol.Message) bool {
	data, err := protocol.Encode(msg)
	if err != nil {
		log.Printf("wsserver: failed to encode message for connection %s: %v", c.id, err)
		return false
	}
	select {
	case <-c.done:
		return false
	case c.send <- data:
		if !protocol.IsSystemMessage(msg.Type) {
			s.emit(Event{Type: EventMessageSent, ConnectionID: c.id, Message: msg})
		}
		return true
	default:
		log.Printf("wsserver: send buffer full for connection %s, dropping message", c.id)
		return false
	}
}

// closeConnection tears down one connection with the given WebSocket close
// code/reason. stillTracked is true when the caller has not yet removed
// the record from s.connections (the heartbeat monitor): closeConnection
// then removes it and emits CLIENT_DISCONNECTED. Stop passes false because
// it has already cleared the map, so shutdown emits no CLIENT_DISCONNECTED.
func (s *Server) closeConnection(c *Connection, code int, reason string, stillTracked bool) {
	if stillTracked {
		s.mu.Lock()
		delete(s.connections, c.id)
		s.mu.Unlock()
	}
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	c.closeSignal()
	if stillTracked {
		s.emit(Event{Type: EventClientDisconnected, ConnectionID: c.id, Reason: reason})
	}
}
