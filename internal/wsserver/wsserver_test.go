package wsserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/syncbridge/host/internal/protocol"
)

func newTestServer(maxConnections int) (*Server, *httptest.Server) {
	s := New(maxConnections, ServerInfo{Name: "Roo Code Test", Version: "1.0.0", Platform: "test"})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	ts := httptest.NewServer(mux)

	return s, ts
}

func newTestServerWithHeartbeat(maxConnections int, pingInterval, pongTolerance, heartbeatTick time.Duration) (*Server, *httptest.Server) {
	s := New(maxConnections, ServerInfo{Name: "Roo Code Test", Version: "1.0.0", Platform: "test"},
		WithHeartbeatTiming(pingInterval, pongTolerance, heartbeatTick))

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	ts := httptest.NewServer(mux)

	return s, ts
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return msg
}

func sendMessage(t *testing.T, conn *websocket.Conn, msg protocol.Message) {
	t.Helper()
	data, err := protocol.Encode(msg)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestHandshakeReceivesConnectionAccepted(t *testing.T) {
	s, ts := newTestServer(10)
	defer ts.Close()
	defer s.Stop()

	conn := dial(t, ts)
	defer conn.Close()

	sendMessage(t, conn, protocol.NewClientHandshakeMessage("hs-1", "visionOS", "1.0.0", []string{"ai_conversation"}))

	resp := readMessage(t, conn)
	if resp.Type != protocol.TypeConnectionAccepted {
		t.Fatalf("expected ConnectionAccepted, got %s", resp.Type)
	}
	payload, ok := resp.Payload.(protocol.ConnectionAcceptedPayload)
	if !ok {
		t.Fatalf("expected ConnectionAcceptedPayload, got %T", resp.Payload)
	}
	if payload.ConnectionID == "" {
		t.Fatal("expected non-empty connectionId")
	}
	if payload.ServerInfo.Name != "Roo Code Test" {
		t.Fatalf("unexpected server name %q", payload.ServerInfo.Name)
	}

	if s.ConnectionCount() != 1 {
		t.Fatalf("expected 1 tracked connection, got %d", s.ConnectionCount())
	}
}

func TestEchoReturnsSamePayload(t *testing.T) {
	s, ts := newTestServer(10)
	defer ts.Close()
	defer s.Stop()

	conn := dial(t, ts)
	defer conn.Close()

	sendMessage(t, conn, protocol.NewEchoMessage("echo-1", "hello sync bridge"))

	resp := readMessage(t, conn)
	if resp.Type != protocol.TypeEcho {
		t.Fatalf("expected Echo, got %s", resp.Type)
	}
	payload := resp.Payload.(protocol.EchoPayload)
	if payload.Message != "hello sync bridge" {
		t.Fatalf("expected echoed message, got %q", payload.Message)
	}
}

func TestPingReceivesPong(t *testing.T) {
	s, ts := newTestServer(10)
	defer ts.Close()
	defer s.Stop()

	conn := dial(t, ts)
	defer conn.Close()

	sendMessage(t, conn, protocol.NewPingMessage("ping-1"))

	resp := readMessage(t, conn)
	if resp.Type != protocol.TypePong {
		t.Fatalf("expected Pong, got %s", resp.Type)
	}
}

func TestCapacityRejectionClosesWithCode1013(t *testing.T) {
	s, ts := newTestServer(1)
	defer ts.Close()
	defer s.Stop()

	first := dial(t, ts)
	defer first.Close()
	sendMessage(t, first, protocol.NewClientHandshakeMessage("hs-1", "visionOS", "1.0.0", nil))
	readMessage(t, first) // ConnectionAccepted

	second := dial(t, ts)
	defer second.Close()

	resp := readMessage(t, second)
	if resp.Type != protocol.TypeConnectionRejected {
		t.Fatalf("expected ConnectionRejected, got %s", resp.Type)
	}
	if resp.Reason == "" {
		t.Fatal("expected a non-empty rejection reason")
	}

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := second.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected a close error, got %v", err)
	}
	if closeErr.Code != 1013 {
		t.Fatalf("expected close code 1013, got %d", closeErr.Code)
	}

	if s.ConnectionCount() != 1 {
		t.Fatalf("rejected connection must not be tracked; expected 1, got %d", s.ConnectionCount())
	}
}

func TestUnknownFrameDoesNotDisconnect(t *testing.T) {
	s, ts := newTestServer(10)
	defer ts.Close()
	defer s.Stop()

	conn := dial(t, ts)
	defer conn.Close()

	sendMessage(t, conn, protocol.NewClientHandshakeMessage("hs-1", "visionOS", "1.0.0", nil))
	readMessage(t, conn) // ConnectionAccepted

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"not_a_real_type"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// The connection should still be alive: a follow-up ping gets a pong.
	sendMessage(t, conn, protocol.NewPingMessage("ping-after-garbage"))
	resp := readMessage(t, conn)
	if resp.Type != protocol.TypePong {
		t.Fatalf("expected Pong after malformed frame, got %s", resp.Type)
	}
}

func TestInboundHandlerReceivesAIConversation(t *testing.T) {
	s, ts := newTestServer(10)
	defer ts.Close()
	defer s.Stop()

	received := make(chan protocol.Message, 1)
	s.SetInboundHandler(func(connID string, msg protocol.Message) {
		received <- msg
	})

	conn := dial(t, ts)
	defer conn.Close()

	sendMessage(t, conn, protocol.NewClientHandshakeMessage("hs-1", "visionOS", "1.0.0", nil))
	readMessage(t, conn) // ConnectionAccepted

	sendMessage(t, conn, protocol.NewAIConversationMessage("ai-1", "session-1", protocol.RoleUser, "hello", nil, nil))

	select {
	case msg := <-received:
		if msg.Type != protocol.TypeAIConversation {
			t.Fatalf("expected AIConversation, got %s", msg.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound handler")
	}
}

func TestBroadcastReachesAllConnectedClients(t *testing.T) {
	s, ts := newTestServer(10)
	defer ts.Close()
	defer s.Stop()

	connA := dial(t, ts)
	defer connA.Close()
	connB := dial(t, ts)
	defer connB.Close()

	for _, c := range []*websocket.Conn{connA, connB} {
		sendMessage(t, c, protocol.NewClientHandshakeMessage("hs", "visionOS", "1.0.0", nil))
		readMessage(t, c) // ConnectionAccepted
	}

	count := s.Broadcast(protocol.NewAIConversationMessage("bc-1", "session-1", protocol.RoleAssistant, "broadcast", nil, nil))
	if count != 2 {
		t.Fatalf("expected 2 successful sends, got %d", count)
	}

	for _, c := range []*websocket.Conn{connA, connB} {
		msg := readMessage(t, c)
		if msg.Type != protocol.TypeAIConversation {
			t.Fatalf("expected AIConversation, got %s", msg.Type)
		}
	}
}

// TestPingTimeoutClosesConnectionOnce drives spec.md §8 scenario 6: a
// client that never answers PING frames gets closed with reason "Ping
// timeout" and produces exactly one CLIENT_DISCONNECTED event. Heartbeat
// timings are shrunk via WithHeartbeatTiming so the test doesn't need a
// 35+ second sleep.
func TestPingTimeoutClosesConnectionOnce(t *testing.T) {
	s, ts := newTestServerWithHeartbeat(10, 30*time.Millisecond, 20*time.Millisecond, 10*time.Millisecond)
	defer ts.Close()
	defer s.Stop()

	conn := dial(t, ts)
	defer conn.Close()

	// Swallow incoming PING control frames instead of letting gorilla's
	// default handler auto-reply with PONG.
	conn.SetPingHandler(func(string) error { return nil })

	disconnects := make(chan Event, 4)
	unsubscribe := s.Subscribe(func(ev Event) {
		if ev.Type == EventClientDisconnected {
			disconnects <- ev
		}
	})
	defer unsubscribe()

	sendMessage(t, conn, protocol.NewClientHandshakeMessage("hs-1", "visionOS", "1.0.0", nil))
	accepted := readMessage(t, conn)
	connID := accepted.Payload.(protocol.ConnectionAcceptedPayload).ConnectionID

	// Keep pumping reads so gorilla processes control frames (pings) and
	// eventually observes the server's close frame.
	go func() {
		for {
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var first Event
	select {
	case first = <-disconnects:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ping-timeout disconnect")
	}
	if first.ConnectionID != connID {
		t.Fatalf("disconnect event for wrong connection: got %q, want %q", first.ConnectionID, connID)
	}
	if first.Reason != "Ping timeout" {
		t.Fatalf("expected reason %q, got %q", "Ping timeout", first.Reason)
	}

	select {
	case second := <-disconnects:
		t.Fatalf("expected exactly one CLIENT_DISCONNECTED event, got a second: %+v", second)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStopClosesOpenConnections(t *testing.T) {
	s, ts := newTestServer(10)
	defer ts.Close()

	conn := dial(t, ts)
	defer conn.Close()

	sendMessage(t, conn, protocol.NewClientHandshakeMessage("hs-1", "visionOS", "1.0.0", nil))
	readMessage(t, conn) // ConnectionAccepted

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected connection to be closed after Stop")
	}

	// Stop must be idempotent.
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop call returned error: %v", err)
	}
}
