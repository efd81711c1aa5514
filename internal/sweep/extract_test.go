package sweep

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/GoBode/internal/dsp"
)

func sine(n int, fs, freq, amp, phaseDeg float64) []float64 {
	out := make([]float64, n)
	w := 2 * math.Pi * freq / fs
	ph := phaseDeg * math.Pi / 180
	for i := range out {
		out[i] = amp * math.Sin(w*float64(i)+ph)
	}
	return out
}

func TestExtractGainAndPhase(t *testing.T) {
	const fs, freq = 1e6, 1e3
	in := sine(20000, fs, freq, 1, 0)

	s, err := Extract(nil, in, sine(20000, fs, freq, 2, 45), fs, freq)
	require.NoError(t, err)
	assert.Equal(t, freq, s.FrequencyHz)
	assert.InDelta(t, 6.02, s.GainDB, 0.1)
	assert.InDelta(t, 45, s.PhaseDeg, 2)

	s, err = Extract(dsp.NewCorrelator(), in, sine(20000, fs, freq, 0.5, -45), fs, freq)
	require.NoError(t, err)
	assert.InDelta(t, -6.02, s.GainDB, 0.1)
	assert.InDelta(t, -45, s.PhaseDeg, 2)
}

func TestExtractRejectsDegenerateInput(t *testing.T) {
	in := sine(1000, 1e6, 1e3, 1, 0)
	flat := make([]float64, 1000)

	_, err := Extract(nil, in, flat, 1e6, 1e3)
	assert.ErrorIs(t, err, ErrDegenerateAmplitude)
	_, err = Extract(nil, flat, in, 1e6, 1e3)
	assert.ErrorIs(t, err, ErrDegenerateAmplitude)
	_, err = Extract(nil, nil, in, 1e6, 1e3)
	assert.ErrorIs(t, err, dsp.ErrEmptySignal)
	_, err = Extract(nil, in, in, 0, 1e3)
	assert.ErrorIs(t, err, ErrInvalidRange)
	_, err = Extract(nil, in, in, 1e6, math.NaN())
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestNormalizePhase(t *testing.T) {
	for _, tc := range []struct{ in, want float64 }{
		{0, 0},
		{-45, -45},
		{180, 180},
		{-180, 180},
		{190, -170},
		{-190, 170},
		{359, -1},
		{540, 180},
		{720, 0},
		{-900, 180},
	} {
		assert.InDelta(t, tc.want, NormalizePhase(tc.in), 1e-9, "%g", tc.in)
	}

	for x := -2000.0; x <= 2000; x += 7.3 {
		got := NormalizePhase(x)
		assert.Greater(t, got, -180.0)
		assert.LessOrEqual(t, got, 180.0)
		turns := (x - got) / 360
		assert.InDelta(t, math.Round(turns), turns, 1e-9)
	}
}
