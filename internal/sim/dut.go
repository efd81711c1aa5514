// Package sim emulates the measurement bench in memory: a function
// generator driving a device under test whose input and output are watched
// by a two channel oscilloscope speaking the binary waveform protocol.
package sim

import (
	"math"
	"math/cmplx"
)

// Transfer is the complex frequency response of a device under test.
type Transfer func(freq float64) complex128

// Through passes the stimulus unchanged.
func Through() Transfer {
	return func(float64) complex128 { return 1 }
}

// RCLowpass is a first order lowpass with its -3 dB corner at cornerHz and a
// passband gain of gainDB.
func RCLowpass(cornerHz, gainDB float64) Transfer {
	k := math.Pow(10, gainDB/20)
	return func(freq float64) complex128 {
		return complex(k, 0) / complex(1, freq/cornerHz)
	}
}

// GainDB returns the magnitude of h at freq in decibels.
func (h Transfer) GainDB(freq float64) float64 {
	return 20 * math.Log10(cmplx.Abs(h(freq)))
}

// PhaseDeg returns the phase of h at freq in degrees.
func (h Transfer) PhaseDeg(freq float64) float64 {
	return cmplx.Phase(h(freq)) * 180 / math.Pi
}
