package scope

import (
	"errors"
	"fmt"
)

// CalibrationConstant converts the reported channel voltage code to volts:
// a 1 V range is reported as 4.9e-318. The value was reverse-engineered from
// DSO4000-series firmware replies and does not appear in the vendor manual.
// The code looks like an integer microvolt count printed through a float
// format, so it is kept as an opaque constant rather than derived.
const CalibrationConstant = 4.9e-318

// adcSpan is the number of ADC steps covering ten vertical divisions.
const adcSpan = 255

// ErrNoChannels is returned when the preamble reports no enabled channel.
var ErrNoChannels = errors.New("scope: no channel enabled")

// Channels is the number of analog inputs on the instrument.
const Channels = 4

// DefaultProbeFactors are the attenuation factors of the probes on each
// input. The bench uses 10x probes on channels 1 and 2.
var DefaultProbeFactors = [Channels]float64{10, 10, 1, 1}

// SplitChannels cuts the raw sample buffer into per-channel slices. Enabled
// channels receive consecutive blocks of len(raw)/enabled samples; disabled
// channels get an empty slice. Trailing samples that do not fill a block are
// dropped.
func SplitChannels(enabled [Channels]bool, raw []int8) ([Channels][]int8, error) {
	var out [Channels][]int8
	count := 0
	for _, on := range enabled {
		if on {
			count++
		}
	}
	if count == 0 {
		return out, ErrNoChannels
	}
	per := len(raw) / count
	block := 0
	for i, on := range enabled {
		if !on {
			out[i] = []int8{}
			continue
		}
		out[i] = raw[block*per : (block+1)*per]
		block++
	}
	return out, nil
}

// VoltsPerCode returns the scale of one ADC step for a channel whose range
// code is code, seen through a probe with the given attenuation.
func VoltsPerCode(code, probe float64) float64 {
	rangeVolts := code * probe / CalibrationConstant
	return rangeVolts * 10 / adcSpan
}

// RangeMillivolts converts a reported range code to the input-referred range
// in millivolts.
func RangeMillivolts(code float64) float64 {
	return code / CalibrationConstant * 1000
}

// ScaleChannels converts raw codes to volts at the probe tip.
func ScaleChannels(codes [Channels]float64, probes [Channels]float64, raw [Channels][]int8) [Channels][]float64 {
	var out [Channels][]float64
	for i := range raw {
		scale := VoltsPerCode(codes[i], probes[i])
		volts := make([]float64, len(raw[i]))
		for j, c := range raw[i] {
			volts[j] = float64(c) * scale
		}
		out[i] = volts
	}
	return out
}

// Capture is one completed, scaled acquisition.
type Capture struct {
	Preamble   Preamble
	Raw        [Channels][]int8
	Volts      [Channels][]float64
	SampleRate float64
}

// Channel returns the scaled samples of input i (zero based).
func (c Capture) Channel(i int) ([]float64, error) {
	if i < 0 || i >= Channels {
		return nil, fmt.Errorf("channel index %d out of range", i)
	}
	return c.Volts[i], nil
}

// buildCapture splits and scales a reassembled buffer.
func buildCapture(p Preamble, payload []byte, probes [Channels]float64) (Capture, error) {
	samples := make([]int8, len(payload))
	for i, b := range payload {
		samples[i] = int8(b)
	}
	raw, err := SplitChannels(p.Enabled, samples)
	if err != nil {
		return Capture{}, err
	}
	return Capture{
		Preamble:   p,
		Raw:        raw,
		Volts:      ScaleChannels(p.VoltageCodes, probes, raw),
		SampleRate: p.SamplingRate,
	}, nil
}
