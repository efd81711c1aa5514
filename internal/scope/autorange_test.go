package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func codeFor(mV float64) float64 { return mV / 1000 * CalibrationConstant }

func rawWithPeak(peak int) []int8 {
	out := make([]int8, 64)
	for i := range out {
		if i%2 == 0 {
			out[i] = int8(peak)
		} else {
			out[i] = int8(-peak)
		}
	}
	return out
}

func apply(rs *RangeState, adj []Adjustment) {
	for _, a := range adj {
		rs.Set(a.Channel, a.To)
	}
}

func TestNearestRange(t *testing.T) {
	assert.Equal(t, 0, NearestRange(0))
	assert.Equal(t, 7, NearestRange(1000))
	assert.Equal(t, 7, NearestRange(1020))
	assert.Equal(t, 4, NearestRange(98))
	assert.Equal(t, len(RangeLadder)-1, NearestRange(1e9))
}

func TestEvaluateStepsOneRung(t *testing.T) {
	var rs RangeState
	codes := [Channels]float64{codeFor(1000), codeFor(1000), 0, 0}

	adj := rs.Evaluate([Channels][]int8{rawWithPeak(127), rawWithPeak(20), nil, nil}, codes)
	require.Len(t, adj, 2)
	assert.Equal(t, Adjustment{Channel: 0, From: 7, To: 8}, adj[0])
	assert.True(t, adj[0].Coarser())
	assert.Equal(t, Adjustment{Channel: 1, From: 7, To: 6}, adj[1])

	// Proposals are not committed until applied.
	idx, _ := rs.Index(0)
	assert.Equal(t, 7, idx)
	again := rs.Evaluate([Channels][]int8{rawWithPeak(127), rawWithPeak(20), nil, nil}, codes)
	assert.Equal(t, adj, again)
	apply(&rs, adj)

	// A well placed signal leaves the state alone.
	adj = rs.Evaluate([Channels][]int8{rawWithPeak(90), rawWithPeak(-60), nil, nil}, codes)
	assert.Empty(t, adj)
	idx, known := rs.Index(0)
	assert.True(t, known)
	assert.Equal(t, 8, idx)
	idx, _ = rs.Index(1)
	assert.Equal(t, 6, idx)
}

func TestEvaluateStopsAtLadderEnds(t *testing.T) {
	var rs RangeState
	rs.Set(0, len(RangeLadder)-1)
	rs.Set(1, 0)
	adj := rs.Evaluate([Channels][]int8{rawWithPeak(127), rawWithPeak(1), nil, nil}, [Channels]float64{})
	assert.Empty(t, adj)

	rs.Set(2, 99)
	idx, _ := rs.Index(2)
	assert.Equal(t, len(RangeLadder)-1, idx)
	rs.Set(2, -5)
	idx, _ = rs.Index(2)
	assert.Equal(t, 0, idx)
}

func TestEvaluateMonotonicUnderPersistentSignal(t *testing.T) {
	var rs RangeState
	codes := [Channels]float64{codeFor(5), 0, 0, 0}
	last := -1
	for i := 0; i < 3*len(RangeLadder); i++ {
		apply(&rs, rs.Evaluate([Channels][]int8{rawWithPeak(127), nil, nil, nil}, codes))
		idx, _ := rs.Index(0)
		assert.GreaterOrEqual(t, idx, last)
		assert.Less(t, idx, len(RangeLadder))
		last = idx
	}
	assert.Equal(t, len(RangeLadder)-1, last)

	for i := 0; i < 3*len(RangeLadder); i++ {
		apply(&rs, rs.Evaluate([Channels][]int8{rawWithPeak(3), nil, nil, nil}, codes))
		idx, _ := rs.Index(0)
		assert.LessOrEqual(t, idx, last)
		assert.GreaterOrEqual(t, idx, 0)
		last = idx
	}
	assert.Equal(t, 0, last)
}

func TestSelectTimebase(t *testing.T) {
	tb, err := SelectTimebase(1000)
	require.NoError(t, err)
	assert.Equal(t, 200e-6, tb)

	tb, err = SelectTimebase(800e3)
	require.NoError(t, err)
	assert.Equal(t, 200e-9, tb)

	tb, err = SelectTimebase(1e-6)
	require.NoError(t, err)
	assert.Equal(t, 500.0, tb)

	_, err = SelectTimebase(0)
	assert.Error(t, err)
}
