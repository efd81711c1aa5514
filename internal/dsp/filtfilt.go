package dsp

import (
	"errors"
	"fmt"
)

// ErrSignalTooShort is returned when a signal cannot cover the edge padding
// of a forward-backward filter.
var ErrSignalTooShort = errors.New("dsp: signal too short for filter")

// PadLength returns the number of samples FiltFilt extends each edge by.
func PadLength(sections []Biquad) int {
	return 3 * (2*len(sections) + 1)
}

// Filter runs x through the cascade. zi holds two state values per section
// and is updated in place; nil starts from rest.
func Filter(sections []Biquad, x []float64, zi [][2]float64) []float64 {
	if zi == nil {
		zi = make([][2]float64, len(sections))
	}
	y := append([]float64(nil), x...)
	for s, sec := range sections {
		d0, d1 := zi[s][0], zi[s][1]
		for i, v := range y {
			out := sec.B0*v + d0
			d0 = sec.B1*v - sec.A1*out + d1
			d1 = sec.B2*v - sec.A2*out
			y[i] = out
		}
		zi[s] = [2]float64{d0, d1}
	}
	return y
}

// SteadyState returns the per-section filter state for a unit step input
// that has been applied forever.
func SteadyState(sections []Biquad) [][2]float64 {
	zi := make([][2]float64, len(sections))
	scale := 1.0
	for s, sec := range sections {
		g := sec.DCGain()
		d1 := sec.B2 - sec.A2*g
		d0 := sec.B1 - sec.A1*g + d1
		zi[s] = [2]float64{scale * d0, scale * d1}
		scale *= g
	}
	return zi
}

// FiltFilt applies the cascade forward and then backward, giving zero phase
// distortion and the squared magnitude response. The edges are extended by
// odd reflection and both passes start from the steady state of the edge
// sample.
func FiltFilt(sections []Biquad, x []float64) ([]float64, error) {
	pad := PadLength(sections)
	if len(x) <= pad {
		return nil, fmt.Errorf("%w: %d samples, need more than %d", ErrSignalTooShort, len(x), pad)
	}
	ext := oddExtend(x, pad)
	zi := SteadyState(sections)

	y := Filter(sections, ext, scaledState(zi, ext[0]))
	reverse(y)
	y = Filter(sections, y, scaledState(zi, y[0]))
	reverse(y)
	return y[pad : len(y)-pad], nil
}

func oddExtend(x []float64, n int) []float64 {
	last := len(x) - 1
	out := make([]float64, 0, len(x)+2*n)
	for i := n; i >= 1; i-- {
		out = append(out, 2*x[0]-x[i])
	}
	out = append(out, x...)
	for i := 1; i <= n; i++ {
		out = append(out, 2*x[last]-x[last-i])
	}
	return out
}

func scaledState(zi [][2]float64, v float64) [][2]float64 {
	out := make([][2]float64, len(zi))
	for i, z := range zi {
		out[i] = [2]float64{z[0] * v, z[1] * v}
	}
	return out
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
