package dsp

import (
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// Correlator cross-correlates real signals and keeps the FFT plan and
// scratch buffers of the last transform size. Successive sweep points
// usually share one capture length, so the plan is rebuilt rarely.
type Correlator struct {
	mu     sync.Mutex
	size   int
	fft    *fourier.FFT
	pa, pb []float64
}

// NewCorrelator returns a Correlator with no cached plan.
func NewCorrelator() *Correlator {
	return &Correlator{}
}

// Size returns the transform size currently cached, zero before first use.
func (c *Correlator) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Correlate returns the full cross-correlation of a against b. See
// CrossCorrelate for the lag convention.
func (c *Correlator) Correlate(a, b []float64) ([]float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return nil, ErrEmptySignal
	}
	full := len(a) + len(b) - 1

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensure(nextPow2(full))

	for i := range c.pa {
		c.pa[i], c.pb[i] = 0, 0
	}
	copy(c.pa, a)
	copy(c.pb, b)
	ca := c.fft.Coefficients(nil, c.pa)
	cb := c.fft.Coefficients(nil, c.pb)
	for i := range ca {
		ca[i] *= complex(real(cb[i]), -imag(cb[i]))
	}
	circ := c.fft.Sequence(nil, ca)

	// circ holds lag L at index L for L >= 0 and at size+L for L < 0.
	out := make([]float64, full)
	scale := 1 / float64(c.size)
	for k := range out {
		idx := k - (len(b) - 1)
		if idx < 0 {
			idx += c.size
		}
		out[k] = circ[idx] * scale
	}
	return out, nil
}

// BestLag returns the lag of the correlation maximum. Ties go to the most
// negative lag.
func (c *Correlator) BestLag(a, b []float64) (int, error) {
	corr, err := c.Correlate(a, b)
	if err != nil {
		return 0, err
	}
	return floats.MaxIdx(corr) - (len(b) - 1), nil
}

func (c *Correlator) ensure(size int) {
	if c.size == size && c.fft != nil {
		return
	}
	c.size = size
	c.fft = fourier.NewFFT(size)
	c.pa = make([]float64, size)
	c.pb = make([]float64, size)
}
