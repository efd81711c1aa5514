// Package discovery lists instrument resources and picks one by serial
// number.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.bug.st/serial/enumerator"

	"github.com/rjboer/GoBode/internal/logging"
	"github.com/rjboer/GoBode/internal/mdns"
	"github.com/rjboer/GoBode/internal/transport"
)

var (
	// ErrNoResource is returned when no resource matches the serial.
	ErrNoResource = errors.New("discovery: no matching resource")
	// ErrAmbiguousResource is returned when several resources match.
	ErrAmbiguousResource = errors.New("discovery: serial matches more than one resource")
)

// Resource is one reachable instrument.
type Resource struct {
	// Name is a resource string accepted by transport.Open.
	Name   string `json:"name"`
	Source string `json:"source"`
	Detail string `json:"detail,omitempty"`
}

// Enumerator lists resources from one source.
type Enumerator interface {
	Name() string
	Enumerate(ctx context.Context) ([]Resource, error)
}

// SerialEnumerator lists USB serial ports. The USB serial number becomes
// part of the resource string so Select can match it.
type SerialEnumerator struct {
	// List defaults to enumerator.GetDetailedPortsList.
	List func() ([]*enumerator.PortDetails, error)
}

func (SerialEnumerator) Name() string { return "serial" }

func (e SerialEnumerator) Enumerate(context.Context) ([]Resource, error) {
	list := e.List
	if list == nil {
		list = enumerator.GetDetailedPortsList
	}
	ports, err := list()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	out := make([]Resource, 0, len(ports))
	for _, p := range ports {
		if p == nil || p.Name == "" {
			continue
		}
		r := Resource{Name: transport.SerialResource(p.Name, ""), Source: "serial"}
		if p.IsUSB {
			r.Name = transport.SerialResource(p.Name, p.SerialNumber)
			r.Detail = fmt.Sprintf("USB %s:%s %s", p.VID, p.PID, p.Product)
		}
		out = append(out, r)
	}
	return out, nil
}

// MDNSEnumerator browses the LAN for SCPI socket servers. The advertised
// instance name, which usually carries the serial number, is appended to the
// resource string.
type MDNSEnumerator struct {
	Services []string
	Timeout  time.Duration
	Browse   mdns.BrowseFunc
}

func (MDNSEnumerator) Name() string { return "mdns" }

func (e MDNSEnumerator) Enumerate(ctx context.Context) ([]Resource, error) {
	services := e.Services
	if len(services) == 0 {
		services = mdns.InstrumentServices
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	hosts, err := mdns.Discover(ctx, services, timeout, e.Browse)
	if err != nil {
		return nil, err
	}
	out := make([]Resource, 0, len(hosts))
	for _, h := range hosts {
		if h.Port <= 0 {
			continue
		}
		out = append(out, Resource{
			Name:   transport.TCPResource(h.Address(), h.Port, h.Instance),
			Source: "mdns",
			Detail: strings.Join(h.TXT, " "),
		})
	}
	return out, nil
}

// StaticEnumerator returns configured resource strings after validating
// them.
type StaticEnumerator []string

func (StaticEnumerator) Name() string { return "static" }

func (e StaticEnumerator) Enumerate(context.Context) ([]Resource, error) {
	out := make([]Resource, 0, len(e))
	for _, s := range e {
		res, err := transport.ParseResource(s)
		if err != nil {
			return nil, err
		}
		out = append(out, Resource{Name: res.Raw, Source: "static"})
	}
	return out, nil
}

// Discover runs every enumerator and merges their results, dropping
// duplicate resource strings. A failing enumerator is logged and skipped;
// Discover fails only when all of them fail.
func Discover(ctx context.Context, logger logging.Logger, enumerators ...Enumerator) ([]Resource, error) {
	logger = logging.OrDefault(logger).With(logging.Subsystem("discovery"))
	seen := map[string]bool{}
	var (
		out  []Resource
		errs []error
	)
	for _, e := range enumerators {
		found, err := e.Enumerate(ctx)
		if err != nil {
			logger.Warn("enumerator failed", logging.Field{Key: "source", Value: e.Name()}, logging.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		for _, r := range found {
			if seen[r.Name] {
				continue
			}
			seen[r.Name] = true
			out = append(out, r)
		}
		logger.Debug("enumerated", logging.Field{Key: "source", Value: e.Name()}, logging.Field{Key: "count", Value: len(found)})
	}
	if len(errs) > 0 && len(errs) == len(enumerators) {
		return nil, errors.Join(errs...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Names returns the resource strings of rs.
func Names(rs []Resource) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Name
	}
	return out
}

// Select returns the single resource string containing serial.
func Select(resources []string, serial string) (string, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return "", fmt.Errorf("%w: empty serial", ErrNoResource)
	}
	var matches []string
	for _, r := range resources {
		if strings.Contains(r, serial) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: serial %q among %d resources", ErrNoResource, serial, len(resources))
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: serial %q matches %s", ErrAmbiguousResource, serial, strings.Join(matches, ", "))
	}
}
