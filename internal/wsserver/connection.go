package wsserver

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// State is a Connection's position in the state machine described in
// spec.md §4.4.
type State string

const (
	StateConnecting   State = "Connecting"
	StateConnected    State = "Connected"
	StateReconnecting State = "Reconnecting"
	StateFailed       State = "Failed"
	StateDisconnected State = "Disconnected"
)

// sendBufferSize is the per-connection outbound buffer, grounded on the
// teacher's channelBufferSize for the same slow-peer-isolation purpose.
const sendBufferSize = 256

// Connection is one accepted WebSocket session. It is owned exclusively by
// Server; the bridge/orchestrator refer to it only by id.
type Connection struct {
	id   string
	conn *websocket.Conn

	send chan []byte
	done chan struct{}
	once sync.Once

	// limiter bounds how fast this connection's inbound frames are
	// processed, guarding the single mutex'd dispatch path from a
	// flooding remote client — grounded on the teacher's per-client PTY
	// input limiter.
	limiter *rate.Limiter

	mu           sync.Mutex
	state        State
	clientType   string
	version      string
	capabilities []string
	connectedAt  time.Time
	lastActivity time.Time
	lastPong     time.Time
}

func newConnection(id string, conn *websocket.Conn) *Connection {
	now := time.Now()
	return &Connection{
		id:           id,
		conn:         conn,
		send:         make(chan []byte, sendBufferSize),
		done:         make(chan struct{}),
		limiter:      rate.NewLimiter(rate.Limit(50), 20),
		state:        StateConnecting,
		clientType:   "unknown",
		connectedAt:  now,
		lastActivity: now,
		lastPong:     now,
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connection) touchActivity() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Connection) touchPong() {
	c.mu.Lock()
	c.lastPong = time.Now()
	c.mu.Unlock()
}

func (c *Connection) timeSincePong() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastPong)
}

func (c *Connection) applyHandshake(clientType, version string, capabilities []string) {
	c.mu.Lock()
	c.clientType = clientType
	c.version = version
	c.capabilities = capabilities
	c.mu.Unlock()
}

// Info is a read-only snapshot of a Connection, for the status API.
type Info struct {
	ID           string
	ClientType   string
	Version      string
	Capabilities []string
	State        State
	ConnectedAt  time.Time
	LastActivity time.Time
}

func (c *Connection) snapshot() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		ID:           c.id,
		ClientType:   c.clientType,
		Version:      c.version,
		Capabilities: append([]string{}, c.capabilities...),
		State:        c.state,
		ConnectedAt:  c.connectedAt,
		LastActivity: c.lastActivity,
	}
}

// closeSignal closes done exactly once, mirroring the teacher's
// closeSend/sendOnce pattern so Stop() and readPump can both call it
// without a double-close panic.
func (c *Connection) closeSignal() {
	c.once.Do(func() {
		close(c.done)
	})
}
