package sweep

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
)

var (
	// ErrInvalidRange is returned for an empty or inverted frequency range.
	ErrInvalidRange = errors.New("sweep: invalid frequency range")
	// ErrAmplitudeDomain is returned when the amplitude table does not cover
	// a requested frequency.
	ErrAmplitudeDomain = errors.New("sweep: frequency outside amplitude table")
)

// DecadeSpace returns floor(log10(stop/start)) * perDecade frequencies,
// logarithmically spaced from start to stop with both ends included.
func DecadeSpace(start, stop float64, perDecade int) ([]float64, error) {
	if !(start > 0) || !(stop > start) || perDecade <= 0 {
		return nil, fmt.Errorf("%w: %g..%g Hz at %d points per decade", ErrInvalidRange, start, stop, perDecade)
	}
	// whole decades, tolerating rounding in the logarithm of exact ratios
	n := int(math.Floor(math.Log10(stop/start)+1e-9)) * perDecade
	switch n {
	case 0:
		return nil, fmt.Errorf("%w: %g..%g Hz spans less than one decade", ErrInvalidRange, start, stop)
	case 1:
		return []float64{start}, nil
	}
	out := floats.LogSpan(make([]float64, n), start, stop)
	out[0], out[n-1] = start, stop
	return out, nil
}

// Breakpoint maps a frequency to a generator amplitude in millivolts.
type Breakpoint struct {
	FrequencyHz float64 `json:"frequency_hz"`
	Millivolts  float64 `json:"millivolts"`
}

// DefaultAmplitudes keeps the source at 700 mVpp up to 2 kHz, ramping down to
// 300 mVpp by 20 kHz.
var DefaultAmplitudes = []Breakpoint{
	{0, 700},
	{2000, 700},
	{20000, 300},
	{100e6, 300},
}

// AmplitudeTable interpolates generator amplitude linearly between
// breakpoints.
type AmplitudeTable struct {
	pl     interp.PiecewiseLinear
	lo, hi float64
}

// NewAmplitudeTable builds a table from at least two breakpoints. Points are
// sorted by frequency; duplicate frequencies are rejected.
func NewAmplitudeTable(points []Breakpoint) (*AmplitudeTable, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("amplitude table needs at least two points, got %d", len(points))
	}
	sorted := append([]Breakpoint(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FrequencyHz < sorted[j].FrequencyHz })
	xs := make([]float64, len(sorted))
	ys := make([]float64, len(sorted))
	for i, p := range sorted {
		if i > 0 && p.FrequencyHz == sorted[i-1].FrequencyHz {
			return nil, fmt.Errorf("amplitude table repeats %g Hz", p.FrequencyHz)
		}
		if p.Millivolts < 0 {
			return nil, fmt.Errorf("amplitude table: negative amplitude %g mV at %g Hz", p.Millivolts, p.FrequencyHz)
		}
		xs[i], ys[i] = p.FrequencyHz, p.Millivolts
	}
	t := &AmplitudeTable{lo: xs[0], hi: xs[len(xs)-1]}
	if err := t.pl.Fit(xs, ys); err != nil {
		return nil, err
	}
	return t, nil
}

// Covers reports ErrAmplitudeDomain unless [start, stop] lies within the
// table.
func (t *AmplitudeTable) Covers(start, stop float64) error {
	if start < t.lo || stop > t.hi {
		return fmt.Errorf("%w: sweep %g..%g Hz, table %g..%g Hz", ErrAmplitudeDomain, start, stop, t.lo, t.hi)
	}
	return nil
}

// Volts returns the peak-to-peak amplitude for freq in volts.
func (t *AmplitudeTable) Volts(freq float64) (float64, error) {
	if freq < t.lo || freq > t.hi {
		return 0, fmt.Errorf("%w: %g Hz, table %g..%g Hz", ErrAmplitudeDomain, freq, t.lo, t.hi)
	}
	return t.pl.Predict(freq) / 1000, nil
}
