// Package transporttest provides an in-memory Transport for driver tests.
package transporttest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rjboer/GoBode/internal/transport"
)

// Scripted records every command and answers queries and binary reads from
// scripted replies.
type Scripted struct {
	mu      sync.Mutex
	writes  []string
	replies map[string][]string
	frames  [][]byte
	pending []byte
	timeout time.Duration
	closed  int
}

// New returns an empty scripted transport.
func New() *Scripted {
	return &Scripted{replies: map[string][]string{}, timeout: transport.DefaultTimeout}
}

// Reply queues answers for a query. The last answer repeats once the queue
// drains.
func (s *Scripted) Reply(cmd string, answers ...string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[cmd] = append(s.replies[cmd], answers...)
	return s
}

// QueueFrame appends raw bytes that become readable after the next
// WAVEFORM:DATA:ALL? request. A nil frame makes that request time out.
func (s *Scripted) QueueFrame(frame []byte) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return s
}

// Writes returns every command written so far, queries included.
func (s *Scripted) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

// Closed reports how many times Close was called.
func (s *Scripted) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Scripted) record(cmd string) {
	cmd = strings.TrimSpace(cmd)
	s.writes = append(s.writes, cmd)
	if cmd == "WAVEFORM:DATA:ALL?" && len(s.frames) > 0 {
		s.pending = append(s.pending, s.frames[0]...)
		s.frames = s.frames[1:]
	}
}

func (s *Scripted) Write(_ context.Context, cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed > 0 {
		return transport.ErrClosed
	}
	s.record(cmd)
	return nil
}

func (s *Scripted) Query(_ context.Context, cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed > 0 {
		return "", transport.ErrClosed
	}
	s.record(cmd)
	key := strings.TrimSpace(cmd)
	answers, ok := s.replies[key]
	if !ok || len(answers) == 0 {
		return "", fmt.Errorf("%w: no scripted reply for %q", transport.ErrTimeout, key)
	}
	reply := answers[0]
	if len(answers) > 1 {
		s.replies[key] = answers[1:]
	}
	return reply, nil
}

func (s *Scripted) ReadBytes(_ context.Context, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed > 0 {
		return nil, transport.ErrClosed
	}
	if len(s.pending) < n {
		got := s.pending
		s.pending = nil
		return got, fmt.Errorf("%w: read %d of %d bytes", transport.ErrTimeout, len(got), n)
	}
	out := append([]byte(nil), s.pending[:n]...)
	s.pending = s.pending[n:]
	return out, nil
}

func (s *Scripted) SetTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
}

func (s *Scripted) Timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

func (s *Scripted) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}
