package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/syncbridge/host/internal/config"
	"github.com/syncbridge/host/internal/hosttask/demoprovider"
	"github.com/syncbridge/host/internal/syncservice"
)

func runStart(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "Path to config file (default: ~/.syncbridge/config.toml)")
	port := fs.Int("port", 0, "Preferred WebSocket port (default: 8765)")
	discoveryPort := fs.Int("discovery-port", 0, "Preferred HTTP discovery port (default: 8766)")
	serviceName := fs.String("service-name", "", `Name surfaced in /discover (default: "RooCode-<hostname>")`)
	maxConnections := fs.Int("max-connections", 0, "Hard cap on simultaneous connected sessions (default: 10)")
	mdns := fs.Bool("mdns", false, "Advertise _syncbridge._tcp via mDNS/Bonjour in addition to HTTP discovery")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: syncbridge start [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	// Seed a default config on first run, mirroring the teacher's
	// convenience "start" command. WriteDefault is a no-op if the file
	// already exists, so this is silent on repeat runs.
	if *configPath == "" {
		if defaultPath, err := config.DefaultConfigPath(); err == nil {
			_ = config.WriteDefault(defaultPath)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if explicit["port"] {
		cfg.Port = *port
	}
	if explicit["discovery-port"] {
		cfg.DiscoveryPort = *discoveryPort
	}
	if explicit["service-name"] {
		cfg.ServiceName = *serviceName
	}
	if explicit["max-connections"] {
		cfg.MaxConnections = *maxConnections
	}
	if explicit["mdns"] {
		cfg.MDNSEnabled = *mdns
	}
	cfg = cfg.WithDefaults()

	if !cfg.Enabled {
		fmt.Fprintln(stdout, "syncbridge is disabled in config (enabled = false); nothing to start")
		return 0
	}

	provider := demoprovider.New()
	svc := syncservice.New(provider)
	if err := svc.Start(cfg, nil); err != nil {
		fmt.Fprintf(stderr, "Error: failed to start sync bridge: %v\n", err)
		return 1
	}

	status := svc.GetStatus()
	fmt.Fprintln(stdout, "")
	fmt.Fprintln(stdout, "===========================================")
	fmt.Fprintln(stdout, "  Sync Bridge")
	fmt.Fprintln(stdout, "===========================================")
	fmt.Fprintf(stdout, "  Service name:   %s\n", status.Config.ServiceName)
	fmt.Fprintf(stdout, "  WebSocket:      ws://%s:%d\n", status.NetworkInfo.PrimaryIPv4, status.WebSocketPort)
	fmt.Fprintf(stdout, "  Discovery:      http://%s:%d/discover\n", status.NetworkInfo.PrimaryIPv4, status.DiscoveryPort)
	fmt.Fprintf(stdout, "  Interface:      %s (%s)\n", status.NetworkInfo.InterfaceName, status.NetworkInfo.Segment24)
	fmt.Fprintf(stdout, "  Max clients:    %d\n", status.Config.MaxConnections)
	fmt.Fprintf(stdout, "  mDNS:           %v\n", status.Config.MDNSEnabled)
	fmt.Fprintln(stdout, "===========================================")
	fmt.Fprintln(stdout, "")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Fprintln(stdout, "Shutting down...")
	if err := svc.Stop(); err != nil {
		fmt.Fprintf(stderr, "Error during shutdown: %v\n", err)
		return 1
	}
	return 0
}
