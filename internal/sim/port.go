package sim

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rjboer/GoBode/internal/transport"
)

// Port is one instrument connection into the bench. It implements
// transport.Transport.
type Port struct {
	bench   *Bench
	write   func(cmd string) error
	query   func(cmd string) (string, error)
	read    func(n int) []byte
	timeout time.Duration
	closed  bool
}

var _ transport.Transport = (*Port)(nil)

func newPort(b *Bench, write func(string) error, query func(string) (string, error), read func(int) []byte) *Port {
	return &Port{bench: b, write: write, query: query, read: read, timeout: transport.DefaultTimeout}
}

func (p *Port) Write(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.bench.mu.Lock()
	defer p.bench.mu.Unlock()
	if p.closed {
		return transport.ErrClosed
	}
	cmd = strings.TrimSpace(cmd)
	p.bench.commands = append(p.bench.commands, cmd)
	return p.write(cmd)
}

func (p *Port) Query(ctx context.Context, cmd string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.bench.mu.Lock()
	defer p.bench.mu.Unlock()
	if p.closed {
		return "", transport.ErrClosed
	}
	cmd = strings.TrimSpace(cmd)
	p.bench.commands = append(p.bench.commands, cmd)
	return p.query(cmd)
}

func (p *Port) ReadBytes(ctx context.Context, n int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.bench.mu.Lock()
	defer p.bench.mu.Unlock()
	if p.closed {
		return nil, transport.ErrClosed
	}
	if p.read == nil {
		return nil, fmt.Errorf("%w: instrument sends no binary data", transport.ErrTimeout)
	}
	got := p.read(n)
	if len(got) < n {
		return got, fmt.Errorf("%w: read %d of %d bytes", transport.ErrTimeout, len(got), n)
	}
	return got, nil
}

func (p *Port) SetTimeout(d time.Duration) {
	p.bench.mu.Lock()
	defer p.bench.mu.Unlock()
	p.timeout = d
}

func (p *Port) Timeout() time.Duration {
	p.bench.mu.Lock()
	defer p.bench.mu.Unlock()
	return p.timeout
}

// Close disconnects the port. Further calls fail with transport.ErrClosed.
func (p *Port) Close() error {
	p.bench.mu.Lock()
	defer p.bench.mu.Unlock()
	p.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (p *Port) Closed() bool {
	p.bench.mu.Lock()
	defer p.bench.mu.Unlock()
	return p.closed
}
