package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"
)

type discoverResponse struct {
	Name          string   `json:"name"`
	WebSocketURL  string   `json:"websocket_url"`
	Version       string   `json:"version"`
	Platform      string   `json:"platform"`
	Capabilities  []string `json:"capabilities"`
	InterfaceName string   `json:"interfaceName"`
	Segment24     string   `json:"segment24"`
}

type healthResponse struct {
	Status        string `json:"status"`
	Service       string `json:"service"`
	Version       string `json:"version"`
	UptimeSeconds int    `json:"uptime_seconds"`
}

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)

	host := fs.String("host", "127.0.0.1", "Host to query")
	discoveryPort := fs.Int("discovery-port", 8766, "Discovery port to query")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: syncbridge status [options]\n\nQuery a running sync bridge's discovery endpoint.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	base := fmt.Sprintf("http://%s:%d", *host, *discoveryPort)
	client := &http.Client{Timeout: 3 * time.Second}

	var disc discoverResponse
	if err := getJSON(client, base+"/discover", &disc); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var health healthResponse
	if err := getJSON(client, base+"/health", &health); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Sync Bridge Status\n")
	fmt.Fprintf(stdout, "==================\n")
	fmt.Fprintf(stdout, "Name:         %s\n", disc.Name)
	fmt.Fprintf(stdout, "Status:       %s\n", health.Status)
	fmt.Fprintf(stdout, "WebSocket:    %s\n", disc.WebSocketURL)
	fmt.Fprintf(stdout, "Version:      %s\n", disc.Version)
	fmt.Fprintf(stdout, "Platform:     %s\n", disc.Platform)
	fmt.Fprintf(stdout, "Interface:    %s\n", disc.InterfaceName)
	fmt.Fprintf(stdout, "Segment:      %s\n", disc.Segment24)
	fmt.Fprintf(stdout, "Uptime:       %s\n", formatUptime(health.UptimeSeconds))
	if len(disc.Capabilities) > 0 {
		fmt.Fprintf(stdout, "Capabilities: %v\n", disc.Capabilities)
	}

	return 0
}

func getJSON(client *http.Client, url string, out interface{}) error {
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func formatUptime(seconds int) string {
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
