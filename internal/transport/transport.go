// Package transport provides the byte channel used to talk to bench
// instruments: line-oriented SCPI commands plus raw binary reads.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rjboer/GoBode/internal/logging"
)

var (
	// ErrTimeout is returned when a read does not complete before its deadline.
	ErrTimeout = errors.New("transport: timeout")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("transport: closed")
	// ErrUnsupportedResource is returned for resource strings Open cannot dial.
	ErrUnsupportedResource = errors.New("transport: unsupported resource")
)

// DefaultTimeout is applied to freshly opened transports.
const DefaultTimeout = 2 * time.Second

// Transport is a request/response channel to one instrument.
type Transport interface {
	// Write sends a single command. A trailing newline is added when missing.
	Write(ctx context.Context, cmd string) error
	// Query sends a command and returns its single-line reply without the
	// line terminator.
	Query(ctx context.Context, cmd string) (string, error)
	// ReadBytes reads exactly n bytes. On timeout it returns the bytes read so
	// far together with an error wrapping ErrTimeout.
	ReadBytes(ctx context.Context, n int) ([]byte, error)
	SetTimeout(d time.Duration)
	Timeout() time.Duration
	Close() error
}

// Kind identifies the physical link behind a resource string.
type Kind int

const (
	KindTCP Kind = iota
	KindSerial
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindSerial:
		return "serial"
	default:
		return "unknown"
	}
}

// Resource is a parsed instrument identifier.
//
//	TCPIP::<host>::<port>::SOCKET[::<instance>]
//	ASRL::<device>[::<serial>]::INSTR
type Resource struct {
	Raw      string
	Kind     Kind
	Host     string
	Port     int
	Instance string
	Device   string
	Serial   string
}

// Address returns host:port for TCP resources and the device path otherwise.
func (r Resource) Address() string {
	if r.Kind == KindTCP {
		return joinHostPort(r.Host, r.Port)
	}
	return r.Device
}

// ParseResource splits a resource string into its components.
func ParseResource(s string) (Resource, error) {
	raw := strings.TrimSpace(s)
	parts := strings.Split(raw, "::")
	if len(parts) < 3 {
		return Resource{}, fmt.Errorf("%w: %q", ErrUnsupportedResource, s)
	}
	head := strings.ToUpper(parts[0])
	switch {
	case strings.HasPrefix(head, "TCPIP"):
		if len(parts) < 4 || !strings.EqualFold(parts[3], "SOCKET") {
			return Resource{}, fmt.Errorf("%w: %q (want TCPIP::host::port::SOCKET)", ErrUnsupportedResource, s)
		}
		port, err := strconv.Atoi(parts[2])
		if err != nil || port <= 0 || port > 65535 {
			return Resource{}, fmt.Errorf("%w: invalid port in %q", ErrUnsupportedResource, s)
		}
		res := Resource{Raw: raw, Kind: KindTCP, Host: parts[1], Port: port}
		if len(parts) > 4 {
			res.Instance = strings.Join(parts[4:], "::")
		}
		if res.Host == "" {
			return Resource{}, fmt.Errorf("%w: empty host in %q", ErrUnsupportedResource, s)
		}
		return res, nil
	case strings.HasPrefix(head, "ASRL"):
		if !strings.EqualFold(parts[len(parts)-1], "INSTR") {
			return Resource{}, fmt.Errorf("%w: %q (want ASRL::device::INSTR)", ErrUnsupportedResource, s)
		}
		res := Resource{Raw: raw, Kind: KindSerial, Device: parts[1]}
		if len(parts) == 4 {
			res.Serial = parts[2]
		}
		if res.Device == "" {
			return Resource{}, fmt.Errorf("%w: empty device in %q", ErrUnsupportedResource, s)
		}
		return res, nil
	default:
		return Resource{}, fmt.Errorf("%w: %q", ErrUnsupportedResource, s)
	}
}

// TCPResource formats a socket resource string.
func TCPResource(host string, port int, instance string) string {
	s := fmt.Sprintf("TCPIP::%s::%d::SOCKET", host, port)
	if instance != "" {
		s += "::" + instance
	}
	return s
}

// SerialResource formats a serial resource string.
func SerialResource(device, serialNumber string) string {
	if serialNumber == "" {
		return fmt.Sprintf("ASRL::%s::INSTR", device)
	}
	return fmt.Sprintf("ASRL::%s::%s::INSTR", device, serialNumber)
}

// Options configures Open.
type Options struct {
	Timeout     time.Duration
	DialTimeout time.Duration
	Serial      SerialOptions
	Logger      logging.Logger
}

// Open dials the instrument named by resource.
func Open(ctx context.Context, resource string, opts Options) (*Conn, error) {
	res, err := ParseResource(resource)
	if err != nil {
		return nil, err
	}
	logger := logging.OrDefault(opts.Logger).With(logging.Subsystem("transport"), logging.Field{Key: "resource", Value: res.Raw})

	var p port
	switch res.Kind {
	case KindTCP:
		p, err = dialTCP(ctx, res.Address(), opts.DialTimeout)
	case KindSerial:
		p, err = openSerial(res.Device, opts.Serial)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedResource, resource)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", res.Raw, err)
	}

	c := newConn(p, res.Raw, logger)
	if opts.Timeout > 0 {
		c.SetTimeout(opts.Timeout)
	}
	logger.Info("instrument connected", logging.Field{Key: "kind", Value: res.Kind.String()})
	return c, nil
}

func joinHostPort(host string, port int) string {
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		return fmt.Sprintf("[%s]:%d", host, port)
	}
	return fmt.Sprintf("%s:%d", host, port)
}
