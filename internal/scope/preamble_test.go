package scope

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPreamble() Preamble {
	return Preamble{
		TotalLength:  4000,
		Running:      true,
		Triggered:    true,
		Offsets:      [4]int{12, 3, 0, 0},
		VoltageCodes: [4]float64{4.9e-318, 9.8e-319, 0, 0},
		Enabled:      [4]bool{true, true, false, false},
		SamplingRate: 1e6,
		Decimation:   1,
	}
}

func mustPreamble(t *testing.T, p Preamble, size int) []byte {
	t.Helper()
	b, err := EncodePreamble(p, size)
	require.NoError(t, err)
	require.Len(t, b, size)
	return b
}

func TestDecodePreambleLengthContract(t *testing.T) {
	valid := mustPreamble(t, testPreamble(), MaxPreambleLength)
	for size := 0; size <= 200; size++ {
		var blob []byte
		if size <= len(valid) {
			blob = valid[:size]
		} else {
			blob = append(append([]byte{}, valid...), bytes.Repeat([]byte{' '}, size-len(valid))...)
		}
		_, err := DecodePreamble(blob)
		if size >= MinPreambleLength && size <= MaxPreambleLength {
			assert.NoError(t, err, "size %d", size)
		} else {
			assert.ErrorIs(t, err, ErrMalformedPreamble, "size %d", size)
		}
	}
}

func TestDecodePreambleFields(t *testing.T) {
	want := testPreamble()
	got, err := DecodePreamble(mustPreamble(t, want, 120))
	require.NoError(t, err)

	want.Tag = "#9"
	want.CurrentLength = 119
	diff := cmp.Diff(want, got, cmpopts.IgnoreFields(Preamble{}, "Reserved"), cmpopts.EquateApprox(0.02, 0))
	assert.Empty(t, diff)
	assert.Equal(t, 2, got.EnabledCount())
	assert.Equal(t, []byte("   \n"), got.Reserved)
}

func TestDecodePreambleRejectsGarbledNumbers(t *testing.T) {
	b := mustPreamble(t, testPreamble(), 117)
	copy(b[totSpan.start:totSpan.end], "12AB45678")
	_, err := DecodePreamble(b)
	assert.ErrorIs(t, err, ErrMalformedPreamble)

	b = mustPreamble(t, testPreamble(), 117)
	b[enabledSpan.start] = 'x'
	_, err = DecodePreamble(b)
	assert.ErrorIs(t, err, ErrMalformedPreamble)
}

func TestDecodePreambleRejectsNegativeFields(t *testing.T) {
	b := mustPreamble(t, testPreamble(), 117)
	copy(b[offsetSpans[1].start:offsetSpans[1].end], fmt.Sprintf("%*s", offsetSpans[1].end-offsetSpans[1].start, "-3"))
	_, err := DecodePreamble(b)
	assert.ErrorIs(t, err, ErrMalformedPreamble)

	b = mustPreamble(t, testPreamble(), 117)
	copy(b[rateSpan.start:rateSpan.end], fmt.Sprintf("%*s", rateSpan.end-rateSpan.start, "-1e6"))
	_, err = DecodePreamble(b)
	assert.ErrorIs(t, err, ErrMalformedPreamble)

	// blank columns are how unused channels are reported
	b = mustPreamble(t, testPreamble(), 117)
	copy(b[offsetSpans[3].start:offsetSpans[3].end], bytes.Repeat([]byte{' '}, offsetSpans[3].end-offsetSpans[3].start))
	p, err := DecodePreamble(b)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Offsets[3])
}

func TestDecodeChunkHeader(t *testing.T) {
	frame := EncodeDataFrame(100, 40, bytes.Repeat([]byte{1}, 30))
	h, err := DecodeChunkHeader(frame)
	require.NoError(t, err)
	assert.Equal(t, ChunkHeader{CurrentLength: 59, TotalLength: 100, SentLength: 40}, h)
	assert.Equal(t, 70, h.Cumulative())

	_, err = DecodeChunkHeader(frame[:20])
	assert.ErrorIs(t, err, ErrMalformedPreamble)

	frame[0] = '@'
	_, err = DecodeChunkHeader(frame)
	assert.ErrorIs(t, err, ErrMalformedPreamble)
}

func TestFormatVoltageCodeFitsColumn(t *testing.T) {
	for _, mV := range RangeLadder {
		text := FormatVoltageCode(mV / 1000 * CalibrationConstant)
		assert.LessOrEqual(t, len(text), 8, text)
	}
}
