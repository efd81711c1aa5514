package sim

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/rjboer/GoBode/internal/logging"
	"github.com/rjboer/GoBode/internal/scope"
)

// ErrUnsupportedCommand is returned for commands the emulated instruments do
// not understand.
var ErrUnsupportedCommand = errors.New("sim: unsupported command")

// Config describes the emulated bench. Zero values take defaults.
type Config struct {
	// DUT sits between the generator and the response channel.
	DUT Transfer
	// InputChannel and OutputChannel are zero based scope inputs watching
	// the stimulus and the response.
	InputChannel  int
	OutputChannel int
	// GeneratorChannel is the one based generator output that drives the DUT.
	GeneratorChannel int
	// SamplesPerChannel is the record length of one acquisition.
	SamplesPerChannel int
	// Divisions is the number of horizontal divisions on screen.
	Divisions int
	// ChunkBytes bounds the payload of a single data frame.
	ChunkBytes int
	// ProbeFactors must match the factors the scope driver applies.
	ProbeFactors [scope.Channels]float64
	// RangeMillivolts is the power-on range of each channel.
	RangeMillivolts [scope.Channels]float64
	// NoiseVolts is the standard deviation of additive noise on each channel.
	NoiseVolts float64
	Seed       uint64
}

func (c Config) withDefaults() Config {
	if c.DUT == nil {
		c.DUT = Through()
	}
	if c.InputChannel == 0 && c.OutputChannel == 0 {
		c.OutputChannel = 1
	}
	if c.GeneratorChannel == 0 {
		c.GeneratorChannel = 1
	}
	if c.SamplesPerChannel <= 0 {
		c.SamplesPerChannel = 1000
	}
	if c.Divisions <= 0 {
		c.Divisions = 10
	}
	if c.ChunkBytes <= 0 {
		c.ChunkBytes = 512
	}
	if c.ProbeFactors == ([scope.Channels]float64{}) {
		c.ProbeFactors = scope.DefaultProbeFactors
	}
	for i, mV := range c.RangeMillivolts {
		if mV <= 0 {
			c.RangeMillivolts[i] = 1000
		}
	}
	return c
}

// Bench holds the shared state of the emulated instruments.
type Bench struct {
	mu     sync.Mutex
	cfg    Config
	logger logging.Logger
	noise  *distuv.Normal

	// generator
	output    bool
	freq      float64
	vpp       float64
	genConfig map[string]string

	// scope
	timebase  float64
	tipRange  [scope.Channels]float64
	coupling  [scope.Channels]string
	opc       bool
	transfer  []byte
	sent      int
	pending   []byte
	captures  int
	commands  []string
	scopePort *Port
	genPort   *Port
}

// New builds a bench with the generator output off.
func New(cfg Config, logger logging.Logger) *Bench {
	cfg = cfg.withDefaults()
	b := &Bench{
		cfg:       cfg,
		logger:    logging.OrDefault(logger).With(logging.Subsystem("sim")),
		freq:      1000,
		timebase:  1e-3,
		genConfig: map[string]string{},
	}
	for i := range b.tipRange {
		b.tipRange[i] = cfg.RangeMillivolts[i] * cfg.ProbeFactors[i]
		b.coupling[i] = "DC"
	}
	if cfg.NoiseVolts > 0 {
		b.noise = &distuv.Normal{Mu: 0, Sigma: cfg.NoiseVolts, Src: rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)}
	}
	b.scopePort = newPort(b, b.scopeWrite, b.scopeQuery, b.scopeRead)
	b.genPort = newPort(b, b.generatorWrite, b.generatorQuery, nil)
	return b
}

// Scope returns the oscilloscope end of the bench.
func (b *Bench) Scope() *Port { return b.scopePort }

// Generator returns the function generator end of the bench.
func (b *Bench) Generator() *Port { return b.genPort }

// Captures reports how many waveform records the scope has produced.
func (b *Bench) Captures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.captures
}

// OutputOn reports whether the generator output is enabled.
func (b *Bench) OutputOn() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.output
}

// Stimulus returns the generator frequency and peak-to-peak amplitude.
func (b *Bench) Stimulus() (freq, vpp float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.freq, b.vpp
}

// Commands returns every command received by either instrument.
func (b *Bench) Commands() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.commands...)
}

// ---------- Generator ----------

func (b *Bench) generatorCommand(cmd string) (string, string, error) {
	prefix := fmt.Sprintf("CHANnel%d:", b.cfg.GeneratorChannel)
	if !strings.HasPrefix(cmd, prefix) {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedCommand, cmd)
	}
	key, arg, _ := strings.Cut(strings.TrimPrefix(cmd, prefix), " ")
	return key, strings.TrimSpace(arg), nil
}

func (b *Bench) generatorWrite(cmd string) error {
	key, arg, err := b.generatorCommand(cmd)
	if err != nil {
		return err
	}
	switch key {
	case "OUTPut":
		b.output = arg == "1" || strings.EqualFold(arg, "ON")
	case "BASE:FREQuency":
		v, err := parsePositive(arg)
		if err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
		b.freq = v
	case "BASE:AMPLitude":
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil || v < 0 {
			return fmt.Errorf("%s: invalid amplitude", cmd)
		}
		b.vpp = v
	case "LOAD", "AMPLitude:UNIT", "BASE:WAVe", "BASE:PHASe", "BASE:OFFSet":
		b.genConfig[key] = arg
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedCommand, cmd)
	}
	return nil
}

func (b *Bench) generatorQuery(cmd string) (string, error) {
	if cmd == "*IDN?" {
		return "SIM,FG1000,0,1.0", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedCommand, cmd)
}

// ---------- Oscilloscope ----------

func (b *Bench) scopeWrite(cmd string) error {
	switch {
	case cmd == "*CLS" || cmd == "RUN ON":
		return nil
	case cmd == "*OPC":
		b.opc = true
		return nil
	case cmd == "WAVEFORM:DATA:ALL?":
		return b.nextFrame()
	case strings.HasPrefix(cmd, "TIMebase:SCALe "):
		v, err := parsePositive(strings.TrimPrefix(cmd, "TIMebase:SCALe "))
		if err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
		b.timebase = v
		return nil
	case strings.HasPrefix(cmd, "CHANnel"):
		ch, key, arg, err := channelCommand(cmd)
		if err != nil {
			return err
		}
		switch key {
		case "COUPling":
			b.coupling[ch] = arg
		case "RANGe":
			v, err := parsePositive(strings.TrimSuffix(arg, " mV"))
			if err != nil {
				return fmt.Errorf("%s: %w", cmd, err)
			}
			b.tipRange[ch] = v
		default:
			return fmt.Errorf("%w: %q", ErrUnsupportedCommand, cmd)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedCommand, cmd)
}

func (b *Bench) scopeQuery(cmd string) (string, error) {
	switch {
	case cmd == "*IDN?":
		return "SIM,DSO4000,0,1.0", nil
	case cmd == "*ESR?":
		if b.opc {
			b.opc = false
			return "1", nil
		}
		return "0", nil
	case cmd == "TIMebase:RANGe?":
		return strconv.FormatFloat(b.timebase*float64(b.cfg.Divisions), 'g', -1, 64), nil
	case strings.HasPrefix(cmd, "CHANnel") && strings.HasSuffix(cmd, ":COUPling?"):
		ch, _, _, err := channelCommand(strings.TrimSuffix(cmd, "?"))
		if err != nil {
			return "", err
		}
		return b.coupling[ch], nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedCommand, cmd)
}

func (b *Bench) scopeRead(n int) []byte {
	if n > len(b.pending) {
		n = len(b.pending)
	}
	out := append([]byte(nil), b.pending[:n]...)
	b.pending = b.pending[n:]
	return out
}

// nextFrame queues the answer to one waveform request: a preamble when no
// transfer is in progress, otherwise the next data frame.
func (b *Bench) nextFrame() error {
	if b.transfer == nil {
		preamble, payload, err := b.capture()
		if err != nil {
			return err
		}
		b.transfer, b.sent = payload, 0
		b.pending = append(b.pending, preamble...)
		return nil
	}
	end := min(b.sent+b.cfg.ChunkBytes, len(b.transfer))
	b.pending = append(b.pending, scope.EncodeDataFrame(len(b.transfer), b.sent, b.transfer[b.sent:end])...)
	b.sent = end
	if b.sent == len(b.transfer) {
		b.transfer = nil
	}
	return nil
}

// capture synthesizes one record of the stimulus and the DUT response,
// quantized against each channel's current range.
func (b *Bench) capture() ([]byte, []byte, error) {
	cfg := b.cfg
	window := b.timebase * float64(cfg.Divisions)
	// the header carries four significant digits of the rate
	fs, err := strconv.ParseFloat(strconv.FormatFloat(float64(cfg.SamplesPerChannel)/window, 'e', 3, 64), 64)
	if err != nil {
		return nil, nil, err
	}

	amp := 0.0
	if b.output {
		amp = b.vpp / 2
	}
	h := cfg.DUT(b.freq)
	w := 2 * math.Pi * b.freq / fs

	p := scope.Preamble{
		TotalLength:  2 * cfg.SamplesPerChannel,
		Running:      true,
		Triggered:    true,
		SamplingRate: fs,
		Decimation:   1,
	}
	p.Enabled[cfg.InputChannel] = true
	p.Enabled[cfg.OutputChannel] = true

	// Channels are laid out in ascending index order.
	first, second := cfg.InputChannel, cfg.OutputChannel
	if second < first {
		first, second = second, first
	}
	payload := make([]byte, 0, p.TotalLength)
	for _, ch := range []int{first, second} {
		code, err := strconv.ParseFloat(scope.FormatVoltageCode(b.tipRange[ch]/cfg.ProbeFactors[ch]/1000*scope.CalibrationConstant), 64)
		if err != nil {
			return nil, nil, err
		}
		p.VoltageCodes[ch] = code
		step := scope.VoltsPerCode(code, cfg.ProbeFactors[ch])
		gain, phase := 1.0, 0.0
		if ch == cfg.OutputChannel {
			gain, phase = cmplx.Abs(h), cmplx.Phase(h)
		}
		for i := 0; i < cfg.SamplesPerChannel; i++ {
			v := gain * amp * math.Sin(w*float64(i)+phase)
			if b.noise != nil {
				v += b.noise.Rand()
			}
			payload = append(payload, byte(quantize(v, step)))
		}
	}
	frame, err := scope.EncodePreamble(p, scope.MaxPreambleLength)
	if err != nil {
		return nil, nil, err
	}
	b.captures++
	b.logger.Debug("waveform synthesized",
		logging.Field{Key: "frequency_hz", Value: b.freq},
		logging.Field{Key: "sample_rate", Value: fs},
		logging.Field{Key: "output", Value: b.output},
	)
	return frame, payload, nil
}

func quantize(v, step float64) int8 {
	code := math.Round(v / step)
	return int8(max(math.MinInt8, min(math.MaxInt8, code)))
}

func channelCommand(cmd string) (int, string, string, error) {
	rest := strings.TrimPrefix(cmd, "CHANnel")
	num, tail, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, "", "", fmt.Errorf("%w: %q", ErrUnsupportedCommand, cmd)
	}
	ch, err := strconv.Atoi(num)
	if err != nil || ch < 1 || ch > scope.Channels {
		return 0, "", "", fmt.Errorf("%w: channel in %q", ErrUnsupportedCommand, cmd)
	}
	key, arg, _ := strings.Cut(tail, " ")
	return ch - 1, key, strings.TrimSpace(arg), nil
}

func parsePositive(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if !(v > 0) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("value %q must be positive", s)
	}
	return v, nil
}
