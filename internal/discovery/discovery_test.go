package discovery

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestDiscoverRoute(t *testing.T) {
	ep := New(Info{ServiceName: "syncbridge-test", WSPort: 8765, Platform: "linux", Version: "1.0.0"})
	addr := "127.0.0.1:18766"
	if err := ep.Start(addr); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ep.Stop()
	time.Sleep(20 * time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://%s/discover", addr))
	if err != nil {
		t.Fatalf("GET /discover: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	wsURL, _ := body["websocket_url"].(string)
	if wsURL == "" {
		t.Fatal("expected non-empty websocket_url")
	}
}

func TestHealthRoute(t *testing.T) {
	ep := New(Info{ServiceName: "syncbridge-test", WSPort: 8765, Version: "1.0.0"})
	addr := "127.0.0.1:18767"
	if err := ep.Start(addr); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ep.Stop()
	time.Sleep(20 * time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://%s/health", addr))
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "healthy" {
		t.Fatalf("expected status healthy, got %+v", body)
	}
}

func TestDiscoverReturns500WhenPrimaryIPUndeterminable(t *testing.T) {
	orig := primaryIPv4
	primaryIPv4 = func() (string, error) {
		return "", fmt.Errorf("netprobe: no non-loopback IPv4 address found")
	}
	defer func() { primaryIPv4 = orig }()

	ep := New(Info{ServiceName: "syncbridge-test", WSPort: 8765, Platform: "linux", Version: "1.0.0"})
	addr := "127.0.0.1:18769"
	if err := ep.Start(addr); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ep.Stop()
	time.Sleep(20 * time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://%s/discover", addr))
	if err != nil {
		t.Fatalf("GET /discover: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] == nil || body["message"] == nil {
		t.Fatalf("expected error and message fields, got %+v", body)
	}
}

func TestUnknownPathReturns404(t *testing.T) {
	ep := New(Info{ServiceName: "syncbridge-test", WSPort: 8765})
	addr := "127.0.0.1:18768"
	if err := ep.Start(addr); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ep.Stop()
	time.Sleep(20 * time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://%s/nope", addr))
	if err != nil {
		t.Fatalf("GET /nope: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
