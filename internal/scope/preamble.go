package scope

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedPreamble reports a waveform header that cannot be decoded.
var ErrMalformedPreamble = errors.New("scope: malformed preamble")

const (
	// HeaderLength is the length header every waveform frame starts with:
	// tag, current length, total length and sent length.
	HeaderLength = 29
	// MinPreambleLength and MaxPreambleLength bound a complete preamble frame.
	MinPreambleLength = 117
	MaxPreambleLength = 128

	frameTag = "#9"
)

type span struct{ start, end int }

type column struct {
	s    span
	text string
}

// Fixed column layout of the preamble frame. The vendor programming manual
// disagrees with what the firmware sends; these offsets follow the firmware.
var (
	tagSpan      = span{0, 2}
	curSpan      = span{2, 11}
	totSpan      = span{11, 20}
	sentSpan     = span{20, 29}
	runSpan      = span{29, 30}
	trigSpan     = span{30, 31}
	offsetSpans  = [4]span{{31, 35}, {35, 39}, {39, 43}, {43, 47}}
	voltageSpans = [4]span{{47, 55}, {55, 63}, {63, 71}, {71, 79}}
	enabledSpan  = span{79, 83}
	rateSpan     = span{83, 92}
	decimSpan    = span{92, 98}
	trigTimeSpan = span{98, 107}
	startSpan    = span{107, 116}
	reservedFrom = 116
)

// Preamble is the decoded header of the first frame of an acquisition.
type Preamble struct {
	Tag           string
	CurrentLength int
	TotalLength   int
	SentLength    int
	Running       bool
	Triggered     bool
	Offsets       [4]int
	// VoltageCodes are the per-channel range codes exactly as reported. See
	// CalibrationConstant for how they map to volts.
	VoltageCodes [4]float64
	Enabled      [4]bool
	SamplingRate float64
	Decimation   int
	TriggerTime  float64
	StartTime    float64
	Reserved     []byte
}

// EnabledCount returns how many channel flags are set.
func (p Preamble) EnabledCount() int {
	n := 0
	for _, on := range p.Enabled {
		if on {
			n++
		}
	}
	return n
}

// DecodePreamble parses a preamble frame of 117 to 128 bytes.
func DecodePreamble(b []byte) (Preamble, error) {
	switch {
	case len(b) > MaxPreambleLength:
		return Preamble{}, fmt.Errorf("%w: header too long (%d bytes)", ErrMalformedPreamble, len(b))
	case len(b) < MinPreambleLength:
		return Preamble{}, fmt.Errorf("%w: header too short (%d bytes)", ErrMalformedPreamble, len(b))
	}

	var (
		p   Preamble
		err error
	)
	p.Tag = string(b[tagSpan.start:tagSpan.end])
	if p.CurrentLength, err = lengthField(b, curSpan, "current length"); err != nil {
		return Preamble{}, err
	}
	if p.TotalLength, err = lengthField(b, totSpan, "total length"); err != nil {
		return Preamble{}, err
	}
	if p.SentLength, err = lengthField(b, sentSpan, "sent length"); err != nil {
		return Preamble{}, err
	}
	if p.Running, err = flagField(b[runSpan.start], "run state"); err != nil {
		return Preamble{}, err
	}
	if p.Triggered, err = flagField(b[trigSpan.start], "trigger state"); err != nil {
		return Preamble{}, err
	}
	for i := range offsetSpans {
		if p.Offsets[i], err = intField(b, offsetSpans[i], fmt.Sprintf("channel %d offset", i+1)); err != nil {
			return Preamble{}, err
		}
		if p.VoltageCodes[i], err = floatField(b, voltageSpans[i], fmt.Sprintf("channel %d voltage", i+1)); err != nil {
			return Preamble{}, err
		}
		if p.Enabled[i], err = flagField(b[enabledSpan.start+i], fmt.Sprintf("channel %d enabled", i+1)); err != nil {
			return Preamble{}, err
		}
	}
	if p.SamplingRate, err = floatField(b, rateSpan, "sampling rate"); err != nil {
		return Preamble{}, err
	}
	if p.Decimation, err = intField(b, decimSpan, "decimation"); err != nil {
		return Preamble{}, err
	}
	if p.TriggerTime, err = floatField(b, trigTimeSpan, "trigger time"); err != nil {
		return Preamble{}, err
	}
	if p.StartTime, err = floatField(b, startSpan, "start time"); err != nil {
		return Preamble{}, err
	}
	p.Reserved = append([]byte(nil), b[reservedFrom:]...)
	return p, nil
}

// ChunkHeader is the length header carried by every data frame.
type ChunkHeader struct {
	CurrentLength int
	TotalLength   int
	SentLength    int
}

// Cumulative returns the number of payload bytes delivered once this chunk
// has been consumed.
func (h ChunkHeader) Cumulative() int {
	return h.SentLength + h.CurrentLength - HeaderLength
}

// DecodeChunkHeader parses the 29-byte header of a data frame. The frame must
// also hold at least the trailing terminator byte.
func DecodeChunkHeader(b []byte) (ChunkHeader, error) {
	if len(b) < HeaderLength+1 {
		return ChunkHeader{}, fmt.Errorf("%w: data frame too short (%d bytes)", ErrMalformedPreamble, len(b))
	}
	if string(b[tagSpan.start:tagSpan.end]) != frameTag {
		return ChunkHeader{}, fmt.Errorf("%w: unexpected tag %q", ErrMalformedPreamble, b[tagSpan.start:tagSpan.end])
	}
	var (
		h   ChunkHeader
		err error
	)
	if h.CurrentLength, err = lengthField(b, curSpan, "current length"); err != nil {
		return ChunkHeader{}, err
	}
	if h.TotalLength, err = lengthField(b, totSpan, "total length"); err != nil {
		return ChunkHeader{}, err
	}
	if h.SentLength, err = lengthField(b, sentSpan, "sent length"); err != nil {
		return ChunkHeader{}, err
	}
	if h.CurrentLength < HeaderLength {
		return ChunkHeader{}, fmt.Errorf("%w: current length %d shorter than header", ErrMalformedPreamble, h.CurrentLength)
	}
	return h, nil
}

func fieldText(b []byte, s span) string {
	return strings.Trim(string(b[s.start:s.end]), " \x00")
}

func lengthField(b []byte, s span, name string) (int, error) {
	text := fieldText(b, s)
	v, err := strconv.ParseUint(text, 10, 31)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrMalformedPreamble, name, text)
	}
	return int(v), nil
}

// intField tolerates blank columns, which the firmware sends for unused
// channels. Signed values are rejected like any other garbled column.
func intField(b []byte, s span, name string) (int, error) {
	text := fieldText(b, s)
	if text == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(text, 10, 31)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrMalformedPreamble, name, text)
	}
	return int(v), nil
}

func floatField(b []byte, s span, name string) (float64, error) {
	text := fieldText(b, s)
	if text == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s %q", ErrMalformedPreamble, name, text)
	}
	return v, nil
}

func flagField(c byte, name string) (bool, error) {
	switch c {
	case '1':
		return true, nil
	case '0', ' ':
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s flag %q", ErrMalformedPreamble, name, c)
	}
}

// ---------- Encoding ----------

// EncodePreamble renders p as a preamble frame of the given length, the last
// byte being the frame terminator. CurrentLength is derived from size.
func EncodePreamble(p Preamble, size int) ([]byte, error) {
	if size < MinPreambleLength || size > MaxPreambleLength {
		return nil, fmt.Errorf("preamble size %d outside [%d,%d]", size, MinPreambleLength, MaxPreambleLength)
	}
	b := bytes.Repeat([]byte{' '}, size)
	b[size-1] = '\n'

	put := func(s span, text string) error {
		if len(text) > s.end-s.start {
			return fmt.Errorf("field %q exceeds %d columns", text, s.end-s.start)
		}
		copy(b[s.start:s.end], fmt.Sprintf("%*s", s.end-s.start, text))
		return nil
	}
	fields := []column{
		{tagSpan, frameTag},
		{curSpan, fmt.Sprintf("%09d", size-1)},
		{totSpan, fmt.Sprintf("%09d", p.TotalLength)},
		{sentSpan, fmt.Sprintf("%09d", p.SentLength)},
		{runSpan, flagText(p.Running)},
		{trigSpan, flagText(p.Triggered)},
		{rateSpan, strconv.FormatFloat(p.SamplingRate, 'e', 3, 64)},
		{decimSpan, fmt.Sprintf("%06d", p.Decimation)},
		{trigTimeSpan, strconv.FormatFloat(p.TriggerTime, 'e', 2, 64)},
		{startSpan, strconv.FormatFloat(p.StartTime, 'e', 2, 64)},
	}
	for i := 0; i < 4; i++ {
		fields = append(fields,
			column{offsetSpans[i], fmt.Sprintf("%04d", p.Offsets[i])},
			column{voltageSpans[i], FormatVoltageCode(p.VoltageCodes[i])},
			column{span{enabledSpan.start + i, enabledSpan.start + i + 1}, flagText(p.Enabled[i])},
		)
	}
	for _, f := range fields {
		if err := put(f.s, f.text); err != nil {
			return nil, err
		}
	}
	if n := copy(b[reservedFrom:size-1], p.Reserved); n < len(p.Reserved) {
		return nil, fmt.Errorf("reserved tail of %d bytes does not fit", len(p.Reserved))
	}
	return b, nil
}

// EncodeDataFrame renders one data frame carrying payload, which starts at
// offset sent of a transfer of total bytes.
func EncodeDataFrame(total, sent int, payload []byte) []byte {
	b := make([]byte, 0, HeaderLength+len(payload)+1)
	b = append(b, frameTag...)
	b = append(b, fmt.Sprintf("%09d%09d%09d", HeaderLength+len(payload), total, sent)...)
	b = append(b, payload...)
	return append(b, '\n')
}

// FormatVoltageCode renders a range code in the 8-column form the firmware
// uses.
func FormatVoltageCode(code float64) string {
	if code == 0 {
		return "0"
	}
	return strconv.FormatFloat(code, 'e', 1, 64)
}

func flagText(on bool) string {
	if on {
		return "1"
	}
	return "0"
}
