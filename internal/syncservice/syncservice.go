// Package syncservice is the Sync Service orchestrator: it owns the
// lifecycle and wiring of the Network Probe, Discovery Endpoint, Connection
// Server, and AI Bridge, exposes the public status API, and forwards
// bridge-generated outbound messages through the Connection Server.
//
// Grounded on the teacher's internal/server/server_lifecycle.go (Start /
// StartAsync / Stop shutdown ordering, idempotency guard) and cmd/host.go's
// start/stop wiring, generalized from one WebSocket listener to two
// (Connection Server + Discovery Endpoint) plus the Bridge in between.
package syncservice

import (
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/syncbridge/host/internal/bridge"
	"github.com/syncbridge/host/internal/bridgeerrors"
	"github.com/syncbridge/host/internal/config"
	"github.com/syncbridge/host/internal/discovery"
	"github.com/syncbridge/host/internal/hosttask"
	"github.com/syncbridge/host/internal/netprobe"
	"github.com/syncbridge/host/internal/protocol"
	"github.com/syncbridge/host/internal/wsserver"
)

// EventType names the two service-lifecycle events, SERVICE_STARTED and
// SERVICE_STOPPED. Service does not deliver them: it has no Subscribe
// method, and neither Start nor Stop emits an event.
type EventType string

const (
	EventServiceStarted EventType = "SERVICE_STARTED"
	EventServiceStopped EventType = "SERVICE_STOPPED"
)

// Event describes one service-lifecycle event: its type and the bound
// WebSocket and discovery ports. Nothing in this package constructs or
// delivers one.
type Event struct {
	Type          EventType
	Port          int
	DiscoveryPort int
}

const findFreePortAttempts = 10

// cleanupInterval matches spec.md §4.6's hourly cleanup timer. The timer
// does no work on its ticks (see runCleanupTimer): per-connection teardown
// already removes bridge client records when a connection closes.
const cleanupInterval = time.Hour

// StatusHostHandle is the "provider handle" spec.md §4.6 references:
// pushing a status update to the host UI whenever connections change. It is
// optional; Start works without one.
type StatusHostHandle interface {
	PushStatus(Status)
}

// Status is the payload returned by GetStatus and, if a StatusHostHandle
// was supplied at Start, pushed to the host UI on every connect/disconnect.
type Status struct {
	Running          bool
	Config           config.Config
	NetworkInfo      NetworkInfo
	Connections      []wsserver.Info
	ConnectedClients int
	WebSocketPort    int
	DiscoveryPort    int
}

// NetworkInfo summarizes what the Network Probe found at startup.
type NetworkInfo struct {
	PrimaryIPv4   string
	InterfaceName string
	Segment24     string
	Online        bool
}

// Service is the Sync Service orchestrator.
type Service struct {
	provider hosttask.Provider

	mu            sync.Mutex
	running       bool
	cfg           config.Config
	networkInfo   NetworkInfo
	wsPort        int
	discoveryPort int
	hostHandle    StatusHostHandle

	conn        *wsserver.Server
	disc        *discovery.Endpoint
	br          *bridge.Bridge
	unsubConn   func()
	unsubBridge func()
	cleanupStop chan struct{}
}

// New creates a Sync Service bound to the given host provider. Call Start
// to bind ports and begin accepting connections.
func New(provider hosttask.Provider) *Service {
	return &Service{provider: provider}
}

// Start gathers network info, picks free ports, constructs and starts the
// Connection Server and Discovery Endpoint, wires the AI Bridge between
// them, and marks the service running. If cfg.Enabled is false, Start
// returns immediately without binding any port (spec.md §6.4). On any step
// failure it stops whatever subcomponent it already started and returns
// the error, leaving the service not running (spec.md §4.6/§7: startup
// errors are fatal).
func (s *Service) Start(cfg config.Config, hostHandle StatusHostHandle) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return bridgeerrors.New(bridgeerrors.CodeStartupAlreadyRunning, "sync service is already running")
	}
	cfg = cfg.WithDefaults()
	if !cfg.Enabled {
		s.mu.Unlock()
		return nil
	}
	s.cfg = cfg
	s.hostHandle = hostHandle
	s.mu.Unlock()

	ip, err := netprobe.PrimaryIPv4()
	if err != nil {
		return bridgeerrors.Wrap(bridgeerrors.CodeStartupNoPrimaryIP, "could not determine a LAN-facing IPv4 address", err)
	}
	networkInfo := NetworkInfo{
		PrimaryIPv4:   ip,
		InterfaceName: netprobe.InterfaceNameOrUnknown(),
		Segment24:     netprobe.Segment24OrUnknown(ip),
		Online:        netprobe.Online(),
	}

	wsPort, err := netprobe.FindFreePort("0.0.0.0", cfg.Port, findFreePortAttempts)
	if err != nil {
		return bridgeerrors.Wrap(bridgeerrors.CodeStartupPortUnavailable, "no free WebSocket port found", err)
	}
	discoveryPort, err := netprobe.FindFreePort("0.0.0.0", cfg.DiscoveryPort, findFreePortAttempts)
	if err != nil {
		return bridgeerrors.Wrap(bridgeerrors.CodeStartupPortUnavailable, "no free discovery port found", err)
	}

	conn := wsserver.New(cfg.MaxConnections, wsserver.ServerInfo{
		Name:     "Roo Code",
		Version:  "1.0.0",
		Platform: platformName(),
	})
	disc := discovery.New(discovery.Info{
		ServiceName: cfg.ServiceName,
		WSPort:      wsPort,
		Platform:    platformName(),
		Version:     "1.0.0",
		MDNSEnabled: cfg.MDNSEnabled,
	})
	br := bridge.New(s.provider)

	if err := conn.Start(fmt.Sprintf("0.0.0.0:%d", wsPort)); err != nil {
		return err
	}
	if err := disc.Start(fmt.Sprintf("0.0.0.0:%d", discoveryPort)); err != nil {
		conn.Stop()
		return bridgeerrors.Wrap(bridgeerrors.CodeStartupPortUnavailable, "failed to start discovery endpoint", err)
	}

	br.Start()

	s.mu.Lock()
	s.conn, s.disc, s.br = conn, disc, br
	s.networkInfo = networkInfo
	s.wsPort, s.discoveryPort = wsPort, discoveryPort
	s.running = true
	s.cleanupStop = make(chan struct{})
	s.mu.Unlock()

	// Dispatch: every AI-typed inbound message is handed to the Bridge,
	// which registers the client (idempotent) and returns the
	// acknowledgment to send back on the originating connection
	// (spec.md §4.6 "Dispatch").
	conn.SetInboundHandler(func(connID string, msg protocol.Message) {
		if reply, ok := br.HandleInbound(connID, msg); ok {
			conn.SendMessage(connID, reply)
		}
	})

	// Bridge-generated outbound events (live conversions and replay) are
	// forwarded through the Connection Server exactly as spec.md §2's
	// control/data flow describes.
	s.unsubBridge = br.Subscribe(func(ev bridge.OutboundEvent) {
		conn.SendMessage(ev.ConnectionID, ev.Message)
	})

	// Connection lifecycle events drop the Bridge's client record on
	// disconnect and push a status update to the host UI, if one was
	// supplied.
	s.unsubConn = conn.Subscribe(func(ev wsserver.Event) {
		if ev.Type == wsserver.EventClientDisconnected {
			br.UnregisterClient(ev.ConnectionID)
		}
		switch ev.Type {
		case wsserver.EventClientConnected, wsserver.EventClientDisconnected:
			s.pushStatus()
		}
	})

	go s.runCleanupTimer()

	log.Printf("sync service started: ws=%d discovery=%d", wsPort, discoveryPort)
	return nil
}

func platformName() string {
	return runtime.GOOS
}

// runCleanupTimer is the hourly safety-net timer documented in spec.md
// §4.6; it currently has nothing to reclaim beyond what immediate
// disconnect handling already does, so it is a no-op tick, kept so Stop has
// a timer to cancel and future bookkeeping has a home.
func (s *Service) runCleanupTimer() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	s.mu.Lock()
	stop := s.cleanupStop
	s.mu.Unlock()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// Stop closes both listeners, cancels the cleanup timer, and marks the
// service stopped. Idempotent.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	conn, disc, br := s.conn, s.disc, s.br
	unsubConn, unsubBridge := s.unsubConn, s.unsubBridge
	cleanupStop := s.cleanupStop
	s.mu.Unlock()

	if cleanupStop != nil {
		close(cleanupStop)
	}
	if unsubConn != nil {
		unsubConn()
	}
	if unsubBridge != nil {
		unsubBridge()
	}
	if br != nil {
		br.Stop()
	}

	var connErr, discErr error
	if conn != nil {
		connErr = conn.Stop()
	}
	if disc != nil {
		discErr = disc.Stop()
	}

	log.Printf("sync service stopped")
	if connErr != nil {
		return connErr
	}
	return discErr
}

// GetStatus returns the current snapshot of the service's running state,
// configuration, network info, and connections (spec.md §4.6).
func (s *Service) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Running:       s.running,
		Config:        s.cfg,
		NetworkInfo:   s.networkInfo,
		WebSocketPort: s.wsPort,
		DiscoveryPort: s.discoveryPort,
	}
	if s.conn != nil {
		status.Connections = s.conn.Connections()
		for _, c := range status.Connections {
			if c.State == wsserver.StateConnected {
				status.ConnectedClients++
			}
		}
	}
	return status
}

func (s *Service) pushStatus() {
	s.mu.Lock()
	handle := s.hostHandle
	s.mu.Unlock()
	if handle == nil {
		return
	}
	handle.PushStatus(s.GetStatus())
}
