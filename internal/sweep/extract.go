package sweep

import (
	"errors"
	"fmt"
	"math"

	"github.com/rjboer/GoBode/internal/dsp"
)

// ErrDegenerateAmplitude is returned when a channel is flat, so the gain
// ratio has no finite logarithm.
var ErrDegenerateAmplitude = errors.New("sweep: degenerate channel amplitude")

// Sample is one point of the frequency response.
type Sample struct {
	FrequencyHz float64 `json:"frequency_hz"`
	GainDB      float64 `json:"gain_db"`
	PhaseDeg    float64 `json:"phase_deg"`
}

// Extract measures the gain and phase of out relative to in. The phase is
// positive when out leads in.
func Extract(corr *dsp.Correlator, in, out []float64, sampleRate, freq float64) (Sample, error) {
	if !(sampleRate > 0) || !(freq > 0) {
		return Sample{}, fmt.Errorf("%w: sample rate %g Hz, frequency %g Hz", ErrInvalidRange, sampleRate, freq)
	}
	ppIn, err := dsp.PeakToPeak(in)
	if err != nil {
		return Sample{}, fmt.Errorf("reference channel: %w", err)
	}
	ppOut, err := dsp.PeakToPeak(out)
	if err != nil {
		return Sample{}, fmt.Errorf("response channel: %w", err)
	}
	if ppIn == 0 || ppOut == 0 {
		return Sample{}, fmt.Errorf("%w: peak-to-peak %g V in, %g V out", ErrDegenerateAmplitude, ppIn, ppOut)
	}
	if corr == nil {
		corr = dsp.NewCorrelator()
	}
	lag, err := corr.BestLag(in, out)
	if err != nil {
		return Sample{}, err
	}
	perPeriod := sampleRate / freq
	return Sample{
		FrequencyHz: freq,
		GainDB:      20 * math.Log10(ppOut/ppIn),
		PhaseDeg:    NormalizePhase(float64(lag) / perPeriod * 360),
	}, nil
}

// NormalizePhase wraps deg into (-180, 180].
func NormalizePhase(deg float64) float64 {
	deg = math.Mod(deg, 360)
	switch {
	case deg > 180:
		deg -= 360
	case deg <= -180:
		deg += 360
	}
	return deg
}
