package main

import (
	"bytes"
	"strconv"
	"strings"
	"testing"

	"github.com/syncbridge/host/internal/config"
	"github.com/syncbridge/host/internal/hosttask/demoprovider"
	"github.com/syncbridge/host/internal/syncservice"
)

func runWithArgs(args []string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunUsage(t *testing.T) {
	code, out, _ := runWithArgs([]string{"syncbridge"})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out, "Usage:") {
		t.Fatalf("expected usage output, got %q", out)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	code, out, _ := runWithArgs([]string{"syncbridge", "nope"})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(out, "Unknown command") {
		t.Fatalf("expected unknown command output, got %q", out)
	}
}

func TestRunVersion(t *testing.T) {
	code, out, _ := runWithArgs([]string{"syncbridge", "version"})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out, "syncbridge") {
		t.Fatalf("expected version output, got %q", out)
	}
}

func TestStartHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runStart([]string{"--help"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage: syncbridge start") {
		t.Fatalf("expected start usage, got %q", stderr.String())
	}
}

func TestStartInvalidFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runStart([]string{"--port=not-a-number"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected error output for invalid flag")
	}
}

func TestStatusHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runStatus([]string{"--help"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Usage: syncbridge status") {
		t.Fatalf("expected status usage, got %q", stderr.String())
	}
}

func TestStatusUnreachable(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := runStatus([]string{"--host", "127.0.0.1", "--discovery-port", "1"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit code 1 for unreachable host, got %d", code)
	}
}

func TestStatusAgainstRunningService(t *testing.T) {
	provider := demoprovider.New()
	svc := syncservice.New(provider)
	cfg := config.Config{Enabled: true, Port: 29901, DiscoveryPort: 29902, MaxConnections: 5}
	if err := svc.Start(cfg, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop()

	status := svc.GetStatus()

	var stdout, stderr bytes.Buffer
	code := runStatus([]string{"--discovery-port", strconv.Itoa(status.DiscoveryPort)}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d, stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Sync Bridge Status") {
		t.Fatalf("expected status output, got %q", stdout.String())
	}
	if !strings.Contains(stdout.String(), "healthy") {
		t.Fatalf("expected healthy status, got %q", stdout.String())
	}
}
