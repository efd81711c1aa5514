// Package sweep runs a stepped-sine frequency response measurement over a
// generator and a two channel oscilloscope.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rjboer/GoBode/internal/dsp"
	"github.com/rjboer/GoBode/internal/logging"
	"github.com/rjboer/GoBode/internal/scope"
	"github.com/rjboer/GoBode/internal/telemetry"
)

// ErrCaptureLengthMismatch is returned when repeated captures of one point
// cannot be averaged sample by sample.
var ErrCaptureLengthMismatch = errors.New("sweep: capture lengths differ")

// Scope is the acquisition side of the bench.
type Scope interface {
	SetTimebase(ctx context.Context, freq float64) (float64, error)
	Acquire(ctx context.Context) (scope.Capture, error)
}

// Generator is the stimulus side of the bench.
type Generator interface {
	SetFrequency(ctx context.Context, hz float64) error
	SetAmplitude(ctx context.Context, vpp float64) error
	Off(ctx context.Context) error
}

// Config captures sweep level configuration.
type Config struct {
	StartHz         float64      `json:"start_hz"`
	StopHz          float64      `json:"stop_hz"`
	PointsPerDecade int          `json:"points_per_decade"`
	Averaging       int          `json:"averaging"`
	AveragingLimit  float64      `json:"averaging_limit_hz"`
	Filter          bool         `json:"filter"`
	Amplitudes      []Breakpoint `json:"amplitudes"`
	// InputChannel and OutputChannel are zero based scope inputs for the
	// stimulus and the response.
	InputChannel  int `json:"input_channel"`
	OutputChannel int `json:"output_channel"`

	FilterOrder    int     `json:"filter_order"`
	FilterRippleDB float64 `json:"filter_ripple_db"`
	FilterStopDB   float64 `json:"filter_stop_db"`
	// FilterEdge places the passband edge at this multiple of the sweep
	// frequency.
	FilterEdge float64 `json:"filter_edge"`
}

// DefaultConfig returns the bench defaults: 1 kHz to 800 kHz at ten points
// per decade, two averages up to 10 kHz, harmonic filtering on.
func DefaultConfig() Config {
	return Config{
		StartHz:         1000,
		StopHz:          800e3,
		PointsPerDecade: 10,
		Averaging:       2,
		AveragingLimit:  10e3,
		Filter:          true,
		Amplitudes:      append([]Breakpoint(nil), DefaultAmplitudes...),
		InputChannel:    0,
		OutputChannel:   1,
	}
}

func (c *Config) init() {
	if c.PointsPerDecade == 0 {
		c.PointsPerDecade = 10
	}
	if c.Averaging <= 0 {
		c.Averaging = 1
	}
	if len(c.Amplitudes) == 0 {
		c.Amplitudes = append([]Breakpoint(nil), DefaultAmplitudes...)
	}
	if c.InputChannel == 0 && c.OutputChannel == 0 {
		c.OutputChannel = 1
	}
	if c.FilterOrder == 0 {
		c.FilterOrder = 6
	}
	if c.FilterRippleDB == 0 {
		c.FilterRippleDB = 0.02
	}
	if c.FilterStopDB == 0 {
		c.FilterStopDB = 50
	}
	if c.FilterEdge == 0 {
		c.FilterEdge = 4
	}
}

// Response is the ordered result of a sweep.
type Response struct {
	Samples []Sample `json:"samples"`
}

// Rows returns the response as three rows: frequency, gain and phase.
func (r Response) Rows() [3][]float64 {
	var rows [3][]float64
	for i := range rows {
		rows[i] = make([]float64, len(r.Samples))
	}
	for i, s := range r.Samples {
		rows[0][i], rows[1][i], rows[2][i] = s.FrequencyHz, s.GainDB, s.PhaseDeg
	}
	return rows
}

// Runner wires the instruments into the measurement loop.
type Runner struct {
	scope    Scope
	gen      Generator
	reporter telemetry.Reporter
	logger   logging.Logger
	cfg      Config

	freqs []float64
	table *AmplitudeTable
	corr  *dsp.Correlator
}

// NewRunner builds a runner. reporter may be nil.
func NewRunner(sc Scope, gen Generator, reporter telemetry.Reporter, logger logging.Logger, cfg Config) *Runner {
	return &Runner{
		scope:    sc,
		gen:      gen,
		reporter: reporter,
		logger:   logging.OrDefault(logger).With(logging.Subsystem("sweep")),
		cfg:      cfg,
		corr:     dsp.NewCorrelator(),
	}
}

// Init validates the configuration and precomputes the frequency plan.
func (r *Runner) Init() error {
	r.cfg.init()
	if r.cfg.InputChannel == r.cfg.OutputChannel {
		return fmt.Errorf("input and output share scope channel %d", r.cfg.InputChannel)
	}
	for _, ch := range []int{r.cfg.InputChannel, r.cfg.OutputChannel} {
		if ch < 0 || ch >= scope.Channels {
			return fmt.Errorf("scope channel %d out of range", ch)
		}
	}
	freqs, err := DecadeSpace(r.cfg.StartHz, r.cfg.StopHz, r.cfg.PointsPerDecade)
	if err != nil {
		return err
	}
	table, err := NewAmplitudeTable(r.cfg.Amplitudes)
	if err != nil {
		return err
	}
	if err := table.Covers(freqs[0], freqs[len(freqs)-1]); err != nil {
		return err
	}
	r.freqs, r.table = freqs, table
	return nil
}

// Frequencies returns the planned sweep points.
func (r *Runner) Frequencies() []float64 {
	return append([]float64(nil), r.freqs...)
}

// Run measures every planned frequency in ascending order. On failure the
// returned Response holds the points completed so far. The generator output
// is switched off on every return path.
func (r *Runner) Run(ctx context.Context) (resp Response, err error) {
	if r.freqs == nil {
		if err := r.Init(); err != nil {
			return Response{}, err
		}
	}
	defer func() {
		if offErr := r.gen.Off(context.WithoutCancel(ctx)); offErr != nil {
			r.logger.Error("switch generator off", logging.Err(offErr))
			if err == nil {
				err = fmt.Errorf("switch generator off: %w", offErr)
			}
		}
	}()

	averaging := r.cfg.Averaging
	for i, freq := range r.freqs {
		if err := ctx.Err(); err != nil {
			return resp, err
		}
		pointStart := time.Now()
		if freq > r.cfg.AveragingLimit {
			averaging = 1
		}
		s, vpp, fs, err := r.measure(ctx, freq, averaging)
		if err != nil {
			return resp, fmt.Errorf("point %d (%g Hz): %w", i, freq, err)
		}
		resp.Samples = append(resp.Samples, s)

		if r.reporter != nil {
			r.reporter.ReportPoint(telemetry.Point{
				Timestamp:    time.Now(),
				Index:        i,
				Total:        len(r.freqs),
				FrequencyHz:  s.FrequencyHz,
				GainDB:       s.GainDB,
				PhaseDeg:     s.PhaseDeg,
				AmplitudeVpp: vpp,
				Averages:     averaging,
				SampleRateHz: fs,
			})
		}
		r.logger.Debug("point complete",
			logging.Field{Key: "index", Value: i},
			logging.Field{Key: "elapsed_ms", Value: time.Since(pointStart).Seconds() * 1000})
	}
	return resp, nil
}

func (r *Runner) measure(ctx context.Context, freq float64, averaging int) (Sample, float64, float64, error) {
	if _, err := r.scope.SetTimebase(ctx, freq); err != nil {
		return Sample{}, 0, 0, fmt.Errorf("set timebase: %w", err)
	}
	vpp, err := r.table.Volts(freq)
	if err != nil {
		return Sample{}, 0, 0, err
	}
	if err := r.gen.SetFrequency(ctx, freq); err != nil {
		return Sample{}, 0, 0, fmt.Errorf("set frequency: %w", err)
	}
	if err := r.gen.SetAmplitude(ctx, vpp); err != nil {
		return Sample{}, 0, 0, fmt.Errorf("set amplitude: %w", err)
	}

	in, out, fs, err := r.acquireAveraged(ctx, averaging)
	if err != nil {
		return Sample{}, 0, 0, err
	}
	if r.cfg.Filter {
		if in, out, err = r.filter(in, out, fs, freq); err != nil {
			return Sample{}, 0, 0, err
		}
	}
	s, err := Extract(r.corr, in, out, fs, freq)
	if err != nil {
		return Sample{}, 0, 0, err
	}
	return s, vpp, fs, nil
}

// acquireAveraged takes n captures and averages the two measurement
// channels sample by sample.
func (r *Runner) acquireAveraged(ctx context.Context, n int) ([]float64, []float64, float64, error) {
	var in, out []float64
	var fs float64
	for k := 0; k < n; k++ {
		c, err := r.scope.Acquire(ctx)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("acquire %d/%d: %w", k+1, n, err)
		}
		a, err := c.Channel(r.cfg.InputChannel)
		if err != nil {
			return nil, nil, 0, err
		}
		b, err := c.Channel(r.cfg.OutputChannel)
		if err != nil {
			return nil, nil, 0, err
		}
		if k == 0 {
			in = append([]float64(nil), a...)
			out = append([]float64(nil), b...)
			fs = c.SampleRate
			continue
		}
		if len(a) != len(in) || len(b) != len(out) {
			return nil, nil, 0, fmt.Errorf("%w: repeat %d has %d/%d samples, first had %d/%d",
				ErrCaptureLengthMismatch, k+1, len(a), len(b), len(in), len(out))
		}
		for i := range a {
			in[i] += a[i]
			out[i] += b[i]
		}
	}
	if n > 1 {
		for i := range in {
			in[i] /= float64(n)
		}
		for i := range out {
			out[i] /= float64(n)
		}
	}
	return in, out, fs, nil
}

// filter removes harmonics above FilterEdge times the sweep frequency with a
// zero phase elliptic lowpass.
func (r *Runner) filter(in, out []float64, fs, freq float64) ([]float64, []float64, error) {
	wn := r.cfg.FilterEdge * freq / (fs / 2)
	sections, err := dsp.EllipticLowpass(r.cfg.FilterOrder, r.cfg.FilterRippleDB, r.cfg.FilterStopDB, wn)
	if err != nil {
		return nil, nil, fmt.Errorf("harmonic filter at %g Hz, sample rate %g Hz: %w", freq, fs, err)
	}
	fin, err := dsp.FiltFilt(sections, in)
	if err != nil {
		return nil, nil, err
	}
	fout, err := dsp.FiltFilt(sections, out)
	if err != nil {
		return nil, nil, err
	}
	return fin, fout, nil
}
