// Package scope drives a DSO4000-series oscilloscope: preset, timebase and
// sensitivity control, and auto-ranged binary waveform acquisition.
package scope

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/rjboer/GoBode/internal/logging"
	"github.com/rjboer/GoBode/internal/transport"
)

var (
	// ErrOPCTimeout is returned when the operation-complete bit never sets.
	ErrOPCTimeout = errors.New("scope: operation complete not signalled")
	// ErrPreambleRetriesExhausted is returned when every acquisition attempt
	// ended with a malformed or stalled transfer.
	ErrPreambleRetriesExhausted = errors.New("scope: acquisition retries exhausted")
	// ErrRangeNotConverged is returned when auto-ranging keeps requesting
	// changes past its adjustment budget.
	ErrRangeNotConverged = errors.New("scope: auto-ranging did not converge")
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config carries acquisition parameters. Zero values take defaults.
type Config struct {
	ProbeFactors        [Channels]float64 `json:"probe_factors"`
	Timeout             time.Duration     `json:"timeout"`
	PreambleTimeout     time.Duration     `json:"preamble_timeout"`
	ChunkTimeout        time.Duration     `json:"chunk_timeout"`
	MaxFrameBytes       int               `json:"max_frame_bytes"`
	MaxEmptyChunks      int               `json:"max_empty_chunks"`
	MaxAcquireAttempts  int               `json:"max_acquire_attempts"`
	MaxRangeAdjustments int               `json:"max_range_adjustments"`
	RetryDelay          time.Duration     `json:"retry_delay"`
	MaxOPCPolls         int               `json:"max_opc_polls"`
	OPCPollInterval     time.Duration     `json:"opc_poll_interval"`
	// CoupledChannels are switched to AC coupling during preset (one based).
	CoupledChannels []int `json:"coupled_channels"`

	Sleep SleepFunc `json:"-"`
}

func (c Config) withDefaults() Config {
	if c.ProbeFactors == ([Channels]float64{}) {
		c.ProbeFactors = DefaultProbeFactors
	}
	if c.Timeout <= 0 {
		c.Timeout = transport.DefaultTimeout
	}
	if c.PreambleTimeout <= 0 {
		c.PreambleTimeout = 500 * time.Millisecond
	}
	if c.ChunkTimeout <= 0 {
		c.ChunkTimeout = 300 * time.Millisecond
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = 1 << 16
	}
	if c.MaxEmptyChunks <= 0 {
		c.MaxEmptyChunks = 3
	}
	if c.MaxAcquireAttempts <= 0 {
		c.MaxAcquireAttempts = 5
	}
	if c.MaxRangeAdjustments <= 0 {
		c.MaxRangeAdjustments = len(RangeLadder)
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.MaxOPCPolls <= 0 {
		c.MaxOPCPolls = 100
	}
	if c.OPCPollInterval <= 0 {
		c.OPCPollInterval = 10 * time.Millisecond
	}
	if c.CoupledChannels == nil {
		c.CoupledChannels = []int{1, 2}
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
	return c
}

// Scope owns one oscilloscope transport.
type Scope struct {
	t      transport.Transport
	cfg    Config
	logger logging.Logger
	ranges RangeState

	closeOnce sync.Once
	closeErr  error
}

// New wraps t without touching the instrument. The Scope takes ownership of t.
func New(t transport.Transport, cfg Config, logger logging.Logger) *Scope {
	cfg = cfg.withDefaults()
	t.SetTimeout(cfg.Timeout)
	return &Scope{
		t:      t,
		cfg:    cfg,
		logger: logging.OrDefault(logger).With(logging.Subsystem("scope")),
	}
}

// Open wraps t and presets the instrument. t is closed when preset fails.
func Open(ctx context.Context, t transport.Transport, cfg Config, logger logging.Logger) (*Scope, error) {
	s := New(t, cfg, logger)
	if err := s.Preset(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("preset oscilloscope: %w", err)
	}
	return s, nil
}

// Close releases the transport. It is safe to call more than once.
func (s *Scope) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.t.Close()
	})
	return s.closeErr
}

// Ranges returns a copy of the current range state.
func (s *Scope) Ranges() RangeState { return s.ranges }

// Preset clears status, AC-couples the measurement channels and starts the
// acquisition system.
func (s *Scope) Preset(ctx context.Context) error {
	if err := s.t.Write(ctx, "*CLS"); err != nil {
		return err
	}
	for _, ch := range s.cfg.CoupledChannels {
		if err := s.t.Write(ctx, fmt.Sprintf("CHANnel%d:COUPling AC", ch)); err != nil {
			return err
		}
		coupling, err := s.t.Query(ctx, fmt.Sprintf("CHANnel%d:COUPling?", ch))
		if err != nil {
			return err
		}
		s.logger.Debug("channel coupling", logging.Field{Key: "channel", Value: ch}, logging.Field{Key: "coupling", Value: coupling})
	}
	if err := s.t.Write(ctx, "RUN ON"); err != nil {
		return err
	}
	return s.wait(ctx)
}

// SetTimebase selects the horizontal scale for a signal of freq Hz and
// returns the scale sent to the instrument.
func (s *Scope) SetTimebase(ctx context.Context, freq float64) (float64, error) {
	tb, err := SelectTimebase(freq)
	if err != nil {
		return 0, err
	}
	if err := s.t.Write(ctx, "TIMebase:SCALe "+formatNumber(tb)); err != nil {
		return 0, err
	}
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	s.logger.Debug("timebase set", logging.Field{Key: "frequency_hz", Value: freq}, logging.Field{Key: "scale_s", Value: tb})
	return tb, nil
}

// SetSensitivity moves channel ch (zero based) to ladder index idx. The
// command carries the range at the probe tip.
func (s *Scope) SetSensitivity(ctx context.Context, ch, idx int) error {
	if ch < 0 || ch >= Channels {
		return fmt.Errorf("channel index %d out of range", ch)
	}
	idx = clampIndex(idx)
	mV := RangeLadder[idx] * s.cfg.ProbeFactors[ch]
	if err := s.t.Write(ctx, fmt.Sprintf("CHANnel%d:RANGe %s mV", ch+1, formatNumber(mV))); err != nil {
		return err
	}
	s.ranges.Set(ch, idx)
	return s.wait(ctx)
}

// Acquire waits for a fresh trigger, downloads the waveform and re-acquires
// until every enabled channel sits within a usable range.
func (s *Scope) Acquire(ctx context.Context) (Capture, error) {
	if err := s.settle(ctx); err != nil {
		return Capture{}, err
	}
	for round := 0; ; round++ {
		c, err := s.acquireWithRetry(ctx)
		if err != nil {
			return Capture{}, err
		}
		adjustments := s.ranges.Evaluate(c.Raw, c.Preamble.VoltageCodes)
		if len(adjustments) == 0 {
			return c, nil
		}
		if round >= s.cfg.MaxRangeAdjustments {
			return Capture{}, fmt.Errorf("%w after %d adjustments", ErrRangeNotConverged, round)
		}
		for _, a := range adjustments {
			s.logger.Info("channel range adjusted",
				logging.Field{Key: "channel", Value: a.Channel + 1},
				logging.Field{Key: "coarser", Value: a.Coarser()},
				logging.Field{Key: "range_mv", Value: RangeLadder[a.To]},
			)
			if err := s.SetSensitivity(ctx, a.Channel, a.To); err != nil {
				return Capture{}, fmt.Errorf("set channel %d range: %w", a.Channel+1, err)
			}
		}
		if err := s.settle(ctx); err != nil {
			return Capture{}, err
		}
	}
}

func (s *Scope) acquireWithRetry(ctx context.Context) (Capture, error) {
	var capture Capture
	attempt := 0
	op := func() error {
		attempt++
		c, err := s.acquireOnce(ctx)
		if err != nil {
			if retryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		capture = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		s.logger.Warn("acquisition failed, retrying",
			logging.Err(err),
			logging.Field{Key: "attempt", Value: attempt},
			logging.Field{Key: "backoff", Value: next},
		)
		s.drain(ctx)
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.RetryDelay), uint64(s.cfg.MaxAcquireAttempts-1)),
		ctx,
	)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Capture{}, ctxErr
		}
		if retryable(err) {
			return Capture{}, fmt.Errorf("%w after %d attempts: %w", ErrPreambleRetriesExhausted, attempt, err)
		}
		return Capture{}, err
	}
	return capture, nil
}

func (s *Scope) acquireOnce(ctx context.Context) (Capture, error) {
	p, payload, err := s.readWaveform(ctx)
	if err != nil {
		return Capture{}, err
	}
	c, err := buildCapture(p, payload, s.cfg.ProbeFactors)
	if err != nil {
		return Capture{}, err
	}
	s.logger.Debug("waveform captured",
		logging.Field{Key: "bytes", Value: len(payload)},
		logging.Field{Key: "sample_rate", Value: p.SamplingRate},
		logging.Field{Key: "channels", Value: p.EnabledCount()},
	)
	return c, nil
}

// settle waits for the instrument to fill a full screen with the current
// settings: the timebase range, at least one second, rounded up.
func (s *Scope) settle(ctx context.Context) error {
	reply, err := s.t.Query(ctx, "TIMebase:RANGe?")
	if err != nil {
		return err
	}
	window, err := strconv.ParseFloat(strings.TrimSpace(reply), 64)
	if err != nil {
		return fmt.Errorf("parse timebase range %q: %w", reply, err)
	}
	wait := math.Ceil(math.Max(1, window))
	return s.cfg.Sleep(ctx, time.Duration(wait)*time.Second)
}

var errOPCPending = errors.New("operation pending")

// wait performs the *OPC / *ESR? handshake.
func (s *Scope) wait(ctx context.Context) error {
	if err := s.t.Write(ctx, "*OPC"); err != nil {
		return err
	}
	op := func() error {
		reply, err := s.t.Query(ctx, "*ESR?")
		if err != nil {
			return backoff.Permanent(err)
		}
		esr, err := strconv.Atoi(strings.TrimSpace(reply))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("parse *ESR? reply %q: %w", reply, err))
		}
		if esr&1 == 0 {
			return errOPCPending
		}
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.OPCPollInterval), uint64(s.cfg.MaxOPCPolls-1)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, errOPCPending) {
			return fmt.Errorf("%w after %d polls", ErrOPCTimeout, s.cfg.MaxOPCPolls)
		}
		return err
	}
	return nil
}

// drain discards whatever is left of an interrupted transfer.
func (s *Scope) drain(ctx context.Context) {
	s.t.SetTimeout(s.cfg.ChunkTimeout)
	defer s.t.SetTimeout(s.cfg.Timeout)
	if stale, err := s.t.ReadBytes(ctx, s.cfg.MaxFrameBytes); len(stale) > 0 {
		s.logger.Debug("discarded stale bytes", logging.Field{Key: "bytes", Value: len(stale)}, logging.Err(err))
	}
}

func retryable(err error) bool {
	return errors.Is(err, ErrMalformedPreamble) ||
		errors.Is(err, ErrReassemblyStalled) ||
		errors.Is(err, ErrFrameTooLarge)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
