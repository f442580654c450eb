// Package netprobe answers the small set of network questions the sync
// service needs at startup: which local IPv4 address to advertise, what
// LAN segment it's on, and which port to actually bind when the configured
// one is taken.
package netprobe

import (
	"fmt"
	"net"
)

// interfacePreference lists exact interface names in the order spec.md
// §4.1 prefers them: the common macOS/Linux Wi-Fi/Ethernet names first,
// falling back to the first non-loopback IPv4 address found after that.
var interfacePreference = []string{"en0", "en1", "eth0", "wlan0"}

// Unknown is the literal value spec.md §4.1 calls for: "No failure is
// fatal: any unknown value is reported as the literal string 'Unknown'."
// The *OrUnknown helpers below apply this at the boundary; PrimaryIPv4,
// InterfaceName, and Segment24 themselves still return a real error so
// callers that need to distinguish failure from a genuine answer can.
const Unknown = "Unknown"

// primaryInterface pairs the selected LAN-facing address with the name of
// the interface it was found on, so PrimaryIPv4 and InterfaceName can
// share one selection pass instead of scanning interfaces twice.
type primaryInterface struct {
	ip   string
	name string
}

func selectPrimaryInterface() (primaryInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return primaryInterface{}, fmt.Errorf("netprobe: listing interfaces: %w", err)
	}

	byName := map[string]string{}
	var fallback primaryInterface

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP.To4()
			if ip == nil || ip.IsLoopback() {
				continue
			}
			byName[iface.Name] = ip.String()
			if fallback.ip == "" {
				fallback = primaryInterface{ip: ip.String(), name: iface.Name}
			}
		}
	}

	for _, name := range interfacePreference {
		if ip, ok := byName[name]; ok {
			return primaryInterface{ip: ip, name: name}, nil
		}
	}
	if fallback.ip != "" {
		return fallback, nil
	}
	return primaryInterface{}, fmt.Errorf("netprobe: no non-loopback IPv4 address found")
}

// PrimaryIPv4 returns the host's LAN-facing IPv4 address, preferring
// well-known interface names before falling back to the first
// non-loopback IPv4 address on any up interface. It returns an error if
// the host has no such address (e.g. fully offline).
func PrimaryIPv4() (string, error) {
	p, err := selectPrimaryInterface()
	if err != nil {
		return "", err
	}
	return p.ip, nil
}

// PrimaryIPv4OrUnknown is PrimaryIPv4 with the spec.md §4.1 "Unknown"
// fallback applied: it returns Unknown instead of an error. Service.Start
// and /discover do not use it; both call PrimaryIPv4 and fail when it
// errors.
func PrimaryIPv4OrUnknown() string {
	ip, err := PrimaryIPv4()
	if err != nil {
		return Unknown
	}
	return ip
}

// InterfaceName returns the name of the interface PrimaryIPv4 selected its
// address from (e.g. "en0"), using the same preference order.
func InterfaceName() (string, error) {
	p, err := selectPrimaryInterface()
	if err != nil {
		return "", err
	}
	return p.name, nil
}

// InterfaceNameOrUnknown is InterfaceName with the spec.md §4.1 "Unknown"
// fallback applied.
func InterfaceNameOrUnknown() string {
	name, err := InterfaceName()
	if err != nil {
		return Unknown
	}
	return name
}

// Segment24 returns the /24 network portion of an IPv4 address, e.g.
// "192.168.1.42" -> "192.168.1.0/24". Used in discovery responses so
// clients can sanity-check they're on the same LAN segment as the host.
func Segment24(ipv4 string) (string, error) {
	ip := net.ParseIP(ipv4)
	if ip == nil || ip.To4() == nil {
		return "", fmt.Errorf("netprobe: %q is not an IPv4 address", ipv4)
	}
	mask := net.CIDRMask(24, 32)
	network := ip.Mask(mask)
	return fmt.Sprintf("%s/24", network.String()), nil
}

// Segment24OrUnknown is Segment24 with the spec.md §4.1 "Unknown" fallback
// applied.
func Segment24OrUnknown(ipv4 string) string {
	segment, err := Segment24(ipv4)
	if err != nil {
		return Unknown
	}
	return segment
}

// PortAvailable reports whether a TCP port is free to bind on the given
// address. It probes by opening and immediately closing a listener, the
// same check-before-bind idiom the host's HTTP server uses to fail fast on
// a taken port rather than discovering it mid-startup.
func PortAvailable(addr string, port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// FindFreePort scans forward from preferredPort up to maxAttempts-1
// additional ports and returns the first one free to bind on addr. spec.md
// §4.6 calls for a +10 scan window when the configured port is taken.
func FindFreePort(addr string, preferredPort, maxAttempts int) (int, error) {
	for i := 0; i < maxAttempts; i++ {
		candidate := preferredPort + i
		if PortAvailable(addr, candidate) {
			return candidate, nil
		}
	}
	return 0, fmt.Errorf("netprobe: no free port found in range [%d, %d]", preferredPort, preferredPort+maxAttempts-1)
}

// Online reports whether the host currently has a LAN-facing IPv4 address.
// The sync service records the result in its NetworkInfo at startup.
func Online() bool {
	_, err := PrimaryIPv4()
	return err == nil
}
