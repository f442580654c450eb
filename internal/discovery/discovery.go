// Package discovery implements the sync bridge's small HTTP surface: the
// /discover, /health, and / routes a remote client probes before opening a
// WebSocket connection, plus an optional additive mDNS advertisement.
//
// Grounded on the teacher's internal/server/server_http.go createMux
// pattern (conditional route registration, stdlib net/http only) and
// internal/mdns/mdns.go's zeroconf Advertiser wrapper.
package discovery

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/syncbridge/host/internal/netprobe"
)

// ServiceType is the mDNS service type advertised for the sync bridge.
const ServiceType = "_syncbridge._tcp"

// Capabilities advertised in /discover responses and ClientHandshake acks.
var Capabilities = []string{"ai_conversation", "trigger_send", "echo", "ping_pong"}

// primaryIPv4 is a seam over netprobe.PrimaryIPv4 so tests can force the
// spec.md §4.3 "primary IP undeterminable" 500 path without depending on
// the test host's actual network interfaces.
var primaryIPv4 = netprobe.PrimaryIPv4

// Info is the static information the Endpoint needs to answer /discover.
type Info struct {
	ServiceName string
	WSPort      int
	Platform    string
	Version     string
	MDNSEnabled bool
}

// Endpoint serves the discovery HTTP surface and, when configured,
// advertises the service over mDNS/Bonjour.
type Endpoint struct {
	info       Info
	httpServer *http.Server
	startedAt  time.Time

	mu         sync.Mutex
	mdnsServer *zeroconf.Server
}

// New creates a discovery Endpoint; call Start to bind and begin serving.
func New(info Info) *Endpoint {
	return &Endpoint{info: info}
}

// Start binds addr and begins serving. It also starts mDNS advertisement
// if info.MDNSEnabled is set. mDNS failures are logged, not fatal: per
// spec.md §4.1 "no failure is fatal" for network helpers, and the HTTP
// /discover route remains the authoritative discovery path.
func (e *Endpoint) Start(addr string) error {
	e.startedAt = time.Now()
	mux := http.NewServeMux()
	mux.HandleFunc("/discover", e.handleDiscover)
	mux.HandleFunc("/health", e.handleHealth)
	mux.HandleFunc("/", e.handleIndex)

	e.httpServer = &http.Server{Addr: addr, Handler: withCORS(mux)}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}

	go func() {
		log.Printf("Discovery endpoint listening on %s", addr)
		if err := e.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("Discovery endpoint error: %v", err)
		}
	}()

	if e.info.MDNSEnabled {
		if err := e.startMDNS(); err != nil {
			log.Printf("mDNS advertisement failed to start: %v", err)
		}
	}

	return nil
}

// Stop closes the HTTP listener and, if running, the mDNS advertisement.
func (e *Endpoint) Stop() error {
	e.mu.Lock()
	if e.mdnsServer != nil {
		e.mdnsServer.Shutdown()
		e.mdnsServer = nil
	}
	e.mu.Unlock()

	if e.httpServer != nil {
		return e.httpServer.Close()
	}
	return nil
}

func (e *Endpoint) startMDNS() error {
	name := e.info.ServiceName
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			name = "syncbridge"
		} else {
			name = hostname
		}
	}
	server, err := zeroconf.Register(name, ServiceType, "local.", e.info.WSPort, []string{
		fmt.Sprintf("version=%s", e.info.Version),
	}, nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	e.mu.Lock()
	e.mdnsServer = server
	e.mu.Unlock()
	return nil
}

func (e *Endpoint) handleDiscover(w http.ResponseWriter, r *http.Request) {
	// spec.md §4.3 carves out a narrower override of §4.1's general
	// "Unknown" fallback policy for this endpoint specifically: if the
	// primary IP can't be determined, the request fails outright rather
	// than advertising an unreachable websocket_url.
	ip, err := primaryIPv4()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":   "Could not determine primary IP address",
			"message": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":          e.info.ServiceName,
		"websocket_url": fmt.Sprintf("ws://%s:%d", ip, e.info.WSPort),
		"version":       e.info.Version,
		"platform":      e.info.Platform,
		"app":           "syncbridge",
		"capabilities":  Capabilities,
		"interfaceName": netprobe.InterfaceNameOrUnknown(),
		"segment24":     netprobe.Segment24OrUnknown(ip),
	})
}

func (e *Endpoint) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().UnixMilli(),
		"service":        e.info.ServiceName,
		"version":        e.info.Version,
		"uptime_seconds": int(time.Since(e.startedAt).Seconds()),
	})
}

func (e *Endpoint) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error":               "Not found",
			"path":                r.URL.Path,
			"available_endpoints": []string{"/discover", "/health", "/"},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":   e.info.ServiceName,
		"endpoints": []string{"/discover", "/health"},
		"wsPort":    e.info.WSPort,
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(body)
}
