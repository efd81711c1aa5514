package scope

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitChannelsBlockSizes(t *testing.T) {
	masks := [][Channels]bool{
		{true, false, false, false},
		{true, true, false, false},
		{false, true, false, true},
		{true, true, true, false},
		{true, true, true, true},
	}
	for _, mask := range masks {
		for _, length := range []int{0, 1, 7, 100, 1001} {
			raw := make([]int8, length)
			for i := range raw {
				raw[i] = int8(i % 100)
			}
			out, err := SplitChannels(mask, raw)
			require.NoError(t, err)

			enabled := 0
			for _, on := range mask {
				if on {
					enabled++
				}
			}
			total := 0
			for i, on := range mask {
				if on {
					assert.Len(t, out[i], length/enabled, "mask %v len %d ch %d", mask, length, i)
				} else {
					assert.Empty(t, out[i])
				}
				total += len(out[i])
			}
			assert.LessOrEqual(t, total, length)
		}
	}
}

func TestSplitChannelsContiguousBlocks(t *testing.T) {
	raw := []int8{1, 2, 3, 4, 5, 6, 7}
	out, err := SplitChannels([Channels]bool{true, false, true, false}, raw)
	require.NoError(t, err)
	assert.Equal(t, []int8{1, 2, 3}, out[0])
	assert.Equal(t, []int8{4, 5, 6}, out[2])
}

func TestSplitChannelsNoneEnabled(t *testing.T) {
	_, err := SplitChannels([Channels]bool{}, []int8{1, 2})
	assert.ErrorIs(t, err, ErrNoChannels)
}

func TestVoltsPerCodeCalibration(t *testing.T) {
	// A 1 V range through a 1x probe spans ten volts over 255 codes.
	assert.InDelta(t, 10.0/255, VoltsPerCode(4.9e-318, 1), 1e-12)
	assert.InDelta(t, 100.0/255, VoltsPerCode(4.9e-318, 10), 1e-12)
	assert.InDelta(t, 1000, RangeMillivolts(4.9e-318), 1e-9)
}

func TestScaleChannels(t *testing.T) {
	raw := [Channels][]int8{{-127, 0, 127}, {}, {}, {}}
	out := ScaleChannels([Channels]float64{4.9e-319, 0, 0, 0}, [Channels]float64{10, 10, 1, 1}, raw)
	require.Len(t, out[0], 3)
	// subnormal range codes only carry a few significant digits
	assert.InEpsilon(t, -127*10.0/255, out[0][0], 1e-4)
	assert.Equal(t, 0.0, out[0][1])
	assert.Empty(t, out[1])
	assert.False(t, math.IsNaN(out[0][2]))
}
