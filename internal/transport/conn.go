package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rjboer/GoBode/internal/logging"
)

// maxLineLength bounds a single query reply.
const maxLineLength = 4096

// port is the raw link underneath a Conn. Reads are never buffered so that
// binary frames following a text reply are not swallowed.
type port interface {
	io.ReadWriteCloser
	setReadDeadline(t time.Time) error
	setWriteDeadline(t time.Time) error
}

// Conn implements Transport over a TCP socket or a serial port.
type Conn struct {
	mu      sync.Mutex
	p       port
	name    string
	timeout time.Duration
	closed  bool
	logger  logging.Logger
}

func newConn(p port, name string, logger logging.Logger) *Conn {
	return &Conn{
		p:       p,
		name:    name,
		timeout: DefaultTimeout,
		logger:  logging.OrDefault(logger),
	}
}

// NewNetConn wraps an established network connection.
func NewNetConn(c net.Conn, name string, logger logging.Logger) *Conn {
	return newConn(netPort{c}, name, logger)
}

// Name returns the resource string the connection was opened with.
func (c *Conn) Name() string { return c.name }

func (c *Conn) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		d = DefaultTimeout
	}
	c.timeout = d
}

func (c *Conn) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

// Close releases the underlying link. Calling it more than once is safe.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.Debug("closing instrument link")
	return c.p.Close()
}

// ---------- Commands ----------

func (c *Conn) Write(ctx context.Context, cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(ctx, cmd)
}

func (c *Conn) Query(ctx context.Context, cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeLocked(ctx, cmd); err != nil {
		return "", err
	}
	line, err := c.readLineLocked(ctx)
	if err != nil {
		return "", fmt.Errorf("query %q: %w", strings.TrimSpace(cmd), err)
	}
	c.logger.Debug("query reply", logging.Field{Key: "cmd", Value: strings.TrimSpace(cmd)}, logging.Field{Key: "reply", Value: line})
	return line, nil
}

func (c *Conn) ReadBytes(ctx context.Context, n int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if n <= 0 {
		return nil, fmt.Errorf("read bytes: invalid length %d", n)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deadline := c.deadline(ctx)
	buf := make([]byte, n)
	got := 0
	for got < n {
		if err := c.p.setReadDeadline(deadline); err != nil {
			return buf[:got], fmt.Errorf("set read deadline: %w", err)
		}
		m, err := c.p.Read(buf[got:])
		got += m
		if err != nil {
			if isTimeout(err) {
				return buf[:got], fmt.Errorf("%w: read %d of %d bytes", ErrTimeout, got, n)
			}
			return buf[:got], fmt.Errorf("read: %w", err)
		}
		if m == 0 && !time.Now().Before(deadline) {
			return buf[:got], fmt.Errorf("%w: read %d of %d bytes", ErrTimeout, got, n)
		}
	}
	return buf, nil
}

// ---------- Raw I/O ----------

func (c *Conn) writeLocked(ctx context.Context, cmd string) error {
	if c.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !strings.HasSuffix(cmd, "\n") {
		cmd += "\n"
	}
	c.logger.Debug("write", logging.Field{Key: "cmd", Value: strings.TrimSpace(cmd)})

	b := []byte(cmd)
	_ = c.p.setWriteDeadline(c.deadline(ctx))
	for len(b) > 0 {
		n, err := c.p.Write(b)
		if err != nil {
			if isTimeout(err) {
				return fmt.Errorf("%w: write %q", ErrTimeout, strings.TrimSpace(cmd))
			}
			return fmt.Errorf("write %q: %w", strings.TrimSpace(cmd), err)
		}
		b = b[n:]
	}
	return nil
}

// readLineLocked reads byte-by-byte up to '\n' so nothing past the reply is
// consumed.
func (c *Conn) readLineLocked(ctx context.Context) (string, error) {
	deadline := c.deadline(ctx)
	var line []byte
	var one [1]byte
	for len(line) < maxLineLength {
		if err := c.p.setReadDeadline(deadline); err != nil {
			return "", fmt.Errorf("set read deadline: %w", err)
		}
		n, err := c.p.Read(one[:])
		if err != nil {
			if isTimeout(err) {
				return "", fmt.Errorf("%w: partial reply %q", ErrTimeout, string(line))
			}
			return "", err
		}
		if n == 0 {
			if !time.Now().Before(deadline) {
				return "", fmt.Errorf("%w: partial reply %q", ErrTimeout, string(line))
			}
			continue
		}
		if one[0] == '\n' {
			return strings.TrimRight(string(line), "\r "), nil
		}
		line = append(line, one[0])
	}
	return "", fmt.Errorf("reply exceeds %d bytes", maxLineLength)
}

func (c *Conn) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, ErrTimeout)
}
