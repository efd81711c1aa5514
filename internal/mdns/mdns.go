// Package mdns finds LAN instruments advertised over multicast DNS and
// advertises the telemetry page.
package mdns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// Instrument services advertised by LXI and raw SCPI socket servers.
var InstrumentServices = []string{"_scpi-raw._tcp", "_lxi._tcp"}

// Host represents a discovered instrument endpoint.
type Host struct {
	Service   string // "_scpi-raw._tcp"
	Instance  string // Advertised name: "DSO4254C 1234567"
	Hostname  string // DNS hostname: "scope.local."
	Addresses []net.IP
	Port      int
	TXT       []string
}

// Address returns the first usable address, preferring IPv4, or the
// hostname when none was resolved.
func (h Host) Address() string {
	for _, ip := range h.Addresses {
		if ip.To4() != nil {
			return ip.String()
		}
	}
	if len(h.Addresses) > 0 {
		return h.Addresses[0].String()
	}
	return strings.TrimSuffix(h.Hostname, ".")
}

// BrowseFunc streams entries for one service until ctx is done, then closes
// entries.
type BrowseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Zeroconf browses with a fresh zeroconf resolver.
func Zeroconf(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("resolver error: %w", err)
	}
	return resolver.Browse(ctx, service, domain, entries)
}

// Discover performs a blocking browse of every service for timeout and
// returns cleaned and deduplicated hosts sorted by service and instance.
// browse may be nil to use Zeroconf.
func Discover(ctx context.Context, services []string, timeout time.Duration, browse BrowseFunc) ([]Host, error) {
	if browse == nil {
		browse = Zeroconf
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		resultMap = make(map[string]Host)
	)
	// Services are browsed concurrently; each browse lasts until the timeout.
	errs := make([]error, len(services))
	for i, service := range services {
		entries := make(chan *zeroconf.ServiceEntry)
		if err := browse(ctx, service, "local.", entries); err != nil {
			errs[i] = fmt.Errorf("browse %s: %w", service, err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range entries {
				if e == nil {
					continue
				}
				h := hostFromEntry(service, e)
				mu.Lock()
				// Pick a stable key
				resultMap[fmt.Sprintf("%s|%s|%d", service, e.HostName, e.Port)] = h
				mu.Unlock()
			}
		}()
	}
	if err := errors.Join(errs...); err != nil {
		cancel()
		wg.Wait()
		return nil, err
	}
	wg.Wait()

	out := make([]Host, 0, len(resultMap))
	for _, h := range resultMap {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return out[i].Instance < out[j].Instance
	})
	return out, nil
}

func hostFromEntry(service string, e *zeroconf.ServiceEntry) Host {
	// Consolidate IPs (both v4 and v6)
	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)
	return Host{
		Service:   service,
		Instance:  cleanInstance(e.Instance),
		Hostname:  e.HostName,
		Addresses: addrs,
		Port:      e.Port,
		TXT:       append([]string{}, e.Text...),
	}
}

// Advertise registers an HTTP service for instance on port until the
// returned function is called.
func Advertise(instance string, port int, txt []string) (func(), error) {
	server, err := zeroconf.Register(instance, "_http._tcp", "local.", port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", instance, err)
	}
	return server.Shutdown, nil
}

// cleanInstance removes Zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
