package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

type netPort struct {
	net.Conn
}

func (p netPort) setReadDeadline(t time.Time) error  { return p.SetReadDeadline(t) }
func (p netPort) setWriteDeadline(t time.Time) error { return p.SetWriteDeadline(t) }

func dialTCP(ctx context.Context, addr string, timeout time.Duration) (port, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d := net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect failed: %w", err)
	}
	if tcp, ok := c.(*net.TCPConn); ok {
		// SCPI commands are small; send them immediately.
		_ = tcp.SetNoDelay(true)
	}
	return netPort{c}, nil
}
