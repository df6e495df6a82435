package discovery

import (
	"context"
	"errors"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

// ErrNoRelay is returned when no relay answered within the scan window.
var ErrNoRelay = errors.New("discovery: no relay found")

// RelayEndpoint is one relay seen on the LAN.
type RelayEndpoint struct {
	Instance  string
	HostName  string
	Port      int
	Path      string
	Version   int
	Addresses []string
}

// URL returns the websocket URL of the relay. IPv4 addresses are preferred
// over the host name.
func (e RelayEndpoint) URL() string {
	host := strings.TrimSuffix(e.HostName, ".")
	for _, address := range e.Addresses {
		if ip := net.ParseIP(address); ip != nil && ip.To4() != nil {
			host = address
			break
		}
	}
	if host == "" && len(e.Addresses) > 0 {
		host = e.Addresses[0]
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(e.Port)) + e.Path
}

// FindRelay returns the first relay that answers before the scan timeout.
func FindRelay(ctx context.Context, config Config) (RelayEndpoint, error) {
	relays, err := scan(ctx, config, true)
	if err != nil {
		return RelayEndpoint{}, err
	}
	if len(relays) == 0 {
		return RelayEndpoint{}, ErrNoRelay
	}
	return relays[0], nil
}

// Browse collects every relay that answers during the scan window, sorted by
// instance name.
func Browse(ctx context.Context, config Config) ([]RelayEndpoint, error) {
	return scan(ctx, config, false)
}

func scan(ctx context.Context, config Config, first bool) ([]RelayEndpoint, error) {
	cfg := config.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, err
		}
		browse = resolver.Browse
	}

	scanCtx, cancel := context.WithTimeout(ctx, cfg.ScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	collected := make(map[string]RelayEndpoint)
	collectorDone := make(chan struct{})

	go func() {
		defer close(collectorDone)
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry := <-entries:
				if entry == nil {
					continue
				}
				relay, ok := parseEntry(entry)
				if !ok {
					continue
				}
				collected[relay.Instance+"|"+relay.HostName] = relay
				if first {
					cancel()
					return
				}
			}
		}
	}()

	if err := browse(scanCtx, cfg.Service, cfg.Domain, entries); err != nil {
		cancel()
		<-collectorDone
		return nil, err
	}

	<-scanCtx.Done()
	<-collectorDone

	// The caller's own cancellation is an error; the scan window ending is not.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]RelayEndpoint, 0, len(collected))
	for _, relay := range collected {
		out = append(out, relay)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Instance == out[j].Instance {
			return out[i].HostName < out[j].HostName
		}
		return out[i].Instance < out[j].Instance
	})
	return out, nil
}

func parseEntry(entry *zeroconf.ServiceEntry) (RelayEndpoint, bool) {
	if entry.Port <= 0 {
		return RelayEndpoint{}, false
	}
	txt := txtToMap(entry.Text)

	version := 0
	if txt["version"] != "" {
		if parsed, err := strconv.Atoi(txt["version"]); err == nil {
			version = parsed
		}
	}

	path := txt["path"]
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	addresses := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	seen := make(map[string]struct{})
	for _, ip := range append(append([]net.IP(nil), entry.AddrIPv4...), entry.AddrIPv6...) {
		if ip == nil {
			continue
		}
		raw := ip.String()
		if _, exists := seen[raw]; exists {
			continue
		}
		seen[raw] = struct{}{}
		addresses = append(addresses, raw)
	}
	sort.Strings(addresses)

	if len(addresses) == 0 && strings.TrimSpace(entry.HostName) == "" {
		return RelayEndpoint{}, false
	}

	return RelayEndpoint{
		Instance:  strings.TrimSpace(entry.Instance),
		HostName:  entry.HostName,
		Port:      entry.Port,
		Path:      path,
		Version:   version,
		Addresses: addresses,
	}, true
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out
}
