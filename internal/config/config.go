// Package config provides TOML configuration file loading for the sync
// bridge host process. The configuration file lives at
// ~/.syncbridge/config.toml by default, but can be overridden with the
// --config flag. CLI flags always take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds every option spec.md §6.4 recognizes, plus the additive
// mDNS toggle from SPEC_FULL.md's DOMAIN STACK. Field names are exported
// Go names (PascalCase) and map to camelCase TOML keys matching the wire
// config the spec documents.
type Config struct {
	// Enabled gates whether Start binds any ports at all. Default: true.
	Enabled bool `toml:"enabled"`

	// Port is the preferred WebSocket port; a busy port triggers a forward
	// scan of up to 10 ports (internal/netprobe.FindFreePort). Default: 8765.
	Port int `toml:"port"`

	// DiscoveryPort is the preferred HTTP discovery port, scanned the same
	// way as Port. Default: 8766.
	DiscoveryPort int `toml:"discoveryPort"`

	// ServiceName is surfaced in the /discover response's "name" field.
	// Default: "RooCode-<hostname>".
	ServiceName string `toml:"serviceName"`

	// MaxConnections caps simultaneous connections, counting those still
	// waiting for their handshake. Default: 10.
	MaxConnections int `toml:"maxConnections"`

	// MDNSEnabled additionally advertises _syncbridge._tcp on the LAN via
	// zeroconf, layered on top of the required HTTP discovery surface.
	// Default: false.
	MDNSEnabled bool `toml:"mdnsEnabled"`
}

// Default values per spec.md §6.4.
const (
	DefaultPort           = 8765
	DefaultDiscoveryPort  = 8766
	DefaultMaxConnections = 10
)

// WithDefaults returns a copy of cfg with every zero-valued port, capacity,
// and service-name field set to its documented default. Enabled and
// MDNSEnabled are copied unchanged, so a false Enabled stays false (Load
// is what turns an omitted enabled key into true). ServiceName falls back
// to "RooCode-<hostname>";
// if the hostname can't be determined it falls back to "RooCode-host".
func (c Config) WithDefaults() Config {
	out := c
	if out.Port == 0 {
		out.Port = DefaultPort
	}
	if out.DiscoveryPort == 0 {
		out.DiscoveryPort = DefaultDiscoveryPort
	}
	if out.MaxConnections == 0 {
		out.MaxConnections = DefaultMaxConnections
	}
	if out.ServiceName == "" {
		name := "host"
		if hostname, err := os.Hostname(); err == nil && hostname != "" {
			name = hostname
		}
		out.ServiceName = "RooCode-" + name
	}
	return out
}

// Default returns the all-defaults configuration, equivalent to an empty
// file: enabled, default ports, default service name, default capacity.
func Default() Config {
	cfg := Config{Enabled: true}
	return cfg.WithDefaults()
}

// DefaultConfigPath returns ~/.syncbridge/config.toml. Errors only if the
// user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".syncbridge", "config.toml"), nil
}

// Load reads a TOML config file from path and returns a Config with
// defaults already applied to every unset field.
//
// Behavior:
//   - If path is empty, attempts to load from the default location.
//     Returns the all-defaults Config without error if that file is absent.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
//
// Enabled has no TOML-level "unset" representation distinct from false, so
// an explicit `enabled = false` in the file is honored as-is; a file that
// omits the key is treated as enabled (matching spec.md §6.4's default).
func Load(path string) (Config, error) {
	explicit := path != ""

	if !explicit {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Default(), nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return Default(), nil
		}
		path = defaultPath
	} else if _, err := os.Stat(path); os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config file not found: %s", path)
	}

	var raw rawConfig
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg := raw.toConfig()
	return cfg.WithDefaults(), nil
}

// rawConfig mirrors Config but with Enabled as a pointer so Load can tell
// "absent from file" (nil, defaults to true) apart from "enabled = false"
// (explicit false).
type rawConfig struct {
	Enabled        *bool  `toml:"enabled"`
	Port           int    `toml:"port"`
	DiscoveryPort  int    `toml:"discoveryPort"`
	ServiceName    string `toml:"serviceName"`
	MaxConnections int    `toml:"maxConnections"`
	MDNSEnabled    bool   `toml:"mdnsEnabled"`
}

func (r rawConfig) toConfig() Config {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return Config{
		Enabled:        enabled,
		Port:           r.Port,
		DiscoveryPort:  r.DiscoveryPort,
		ServiceName:    r.ServiceName,
		MaxConnections: r.MaxConnections,
		MDNSEnabled:    r.MDNSEnabled,
	}
}

// WriteDefault creates a config file with the documented defaults at path
// if one doesn't already exist. Mirrors the teacher's "start" convenience
// command, which seeds a config file on first run rather than requiring
// the user to hand-write one.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`# syncbridge configuration

enabled = true
port = %d
discoveryPort = %d
maxConnections = %d
mdnsEnabled = false
`, DefaultPort, DefaultDiscoveryPort, DefaultMaxConnections)

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
