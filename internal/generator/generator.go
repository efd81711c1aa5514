// Package generator drives a UTG900-series arbitrary waveform generator as a
// fixed sine source.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rjboer/GoBode/internal/logging"
	"github.com/rjboer/GoBode/internal/transport"
)

// ErrInvalidSetting is returned for a frequency or amplitude the source
// cannot produce.
var ErrInvalidSetting = errors.New("generator: invalid setting")

// Config selects the output channel and load. Zero values take defaults.
type Config struct {
	Channel int           `json:"channel"`
	LoadOhm int           `json:"load_ohm"`
	Timeout time.Duration `json:"timeout"`
}

func (c Config) withDefaults() Config {
	if c.Channel <= 0 {
		c.Channel = 1
	}
	if c.LoadOhm <= 0 {
		c.LoadOhm = 10000
	}
	if c.Timeout <= 0 {
		c.Timeout = transport.DefaultTimeout
	}
	return c
}

// Generator owns one generator transport.
type Generator struct {
	t      transport.Transport
	cfg    Config
	logger logging.Logger
	prefix string

	closeOnce sync.Once
	closeErr  error
}

// New wraps t without touching the instrument. The Generator takes ownership
// of t.
func New(t transport.Transport, cfg Config, logger logging.Logger) *Generator {
	cfg = cfg.withDefaults()
	t.SetTimeout(cfg.Timeout)
	return &Generator{
		t:      t,
		cfg:    cfg,
		logger: logging.OrDefault(logger).With(logging.Subsystem("generator")),
		prefix: fmt.Sprintf("CHANnel%d:", cfg.Channel),
	}
}

// Open wraps t and presets the output. t is closed when preset fails.
func Open(ctx context.Context, t transport.Transport, cfg Config, logger logging.Logger) (*Generator, error) {
	g := New(t, cfg, logger)
	if err := g.Preset(ctx); err != nil {
		_ = g.Close()
		return nil, fmt.Errorf("preset generator: %w", err)
	}
	return g, nil
}

// Preset configures a 1 Vpp sine without offset into the configured load
// and enables the output.
func (g *Generator) Preset(ctx context.Context) error {
	for _, cmd := range []string{
		"OUTPut 0",
		"LOAD " + strconv.Itoa(g.cfg.LoadOhm),
		"AMPLitude:UNIT VPP",
		"BASE:WAVe SINe",
		"BASE:PHASe 0",
		"BASE:AMPLitude 1",
		"BASE:OFFSet 0",
		"OUTPut 1",
	} {
		if err := g.send(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// SetFrequency sets the sine frequency in Hz.
func (g *Generator) SetFrequency(ctx context.Context, hz float64) error {
	if !(hz > 0) {
		return fmt.Errorf("%w: frequency %g Hz", ErrInvalidSetting, hz)
	}
	return g.send(ctx, "BASE:FREQuency "+formatNumber(hz))
}

// SetAmplitude sets the peak-to-peak output voltage.
func (g *Generator) SetAmplitude(ctx context.Context, vpp float64) error {
	if !(vpp >= 0) {
		return fmt.Errorf("%w: amplitude %g Vpp", ErrInvalidSetting, vpp)
	}
	return g.send(ctx, "BASE:AMPLitude "+formatNumber(vpp))
}

// On enables the output.
func (g *Generator) On(ctx context.Context) error { return g.send(ctx, "OUTPut 1") }

// Off disables the output.
func (g *Generator) Off(ctx context.Context) error { return g.send(ctx, "OUTPut 0") }

// Close releases the transport. It is safe to call more than once.
func (g *Generator) Close() error {
	g.closeOnce.Do(func() {
		g.closeErr = g.t.Close()
	})
	return g.closeErr
}

func (g *Generator) send(ctx context.Context, cmd string) error {
	full := g.prefix + cmd
	g.logger.Debug("command", logging.Field{Key: "cmd", Value: full})
	if err := g.t.Write(ctx, full); err != nil {
		return fmt.Errorf("%s: %w", full, err)
	}
	return nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
