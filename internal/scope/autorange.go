package scope

import "math"

// RangeLadder lists the input sensitivity ranges in millivolts, finest first.
var RangeLadder = [...]float64{5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 20000, 50000, 100000}

const (
	// ClipLimit is the raw code magnitude treated as clipping.
	ClipLimit = 125
	// UnderRangeLimit is the raw code magnitude below which a channel uses
	// too little of the ADC.
	UnderRangeLimit = 49
)

// NearestRange returns the ladder index closest to mV. Ties resolve to the
// finer range.
func NearestRange(mV float64) int {
	best := 0
	bestDiff := math.Inf(1)
	for i, r := range RangeLadder {
		if d := math.Abs(r - mV); d < bestDiff {
			best, bestDiff = i, d
		}
	}
	return best
}

// RangeState tracks the selected ladder index per channel.
type RangeState struct {
	index [Channels]int
	known [Channels]bool
}

// Index returns the ladder index of channel ch and whether it has been set.
func (r *RangeState) Index(ch int) (int, bool) {
	return r.index[ch], r.known[ch]
}

// Millivolts returns the current range of channel ch.
func (r *RangeState) Millivolts(ch int) float64 {
	return RangeLadder[r.index[ch]]
}

// Set forces channel ch to ladder index idx, clamped to the ladder.
func (r *RangeState) Set(ch, idx int) {
	r.index[ch] = clampIndex(idx)
	r.known[ch] = true
}

// Observe seeds channel ch from an instrument range code the first time the
// channel is seen. Later codes leave the state untouched.
func (r *RangeState) Observe(ch int, code float64) {
	if r.known[ch] {
		return
	}
	r.Set(ch, NearestRange(RangeMillivolts(code)))
}

// Adjustment is one range step decided by Evaluate.
type Adjustment struct {
	Channel int
	From    int
	To      int
}

// Coarser reports whether the step moves to a larger range.
func (a Adjustment) Coarser() bool { return a.To > a.From }

// Evaluate inspects the raw extremes of every non-empty channel and proposes
// a one rung step: coarser when clipping, finer when under-ranged. Rungs at
// the ends of the ladder are never left. The state only records the range
// reported by the instrument; a step takes effect once it is applied with
// Set.
func (r *RangeState) Evaluate(raw [Channels][]int8, codes [Channels]float64) []Adjustment {
	var out []Adjustment
	for ch, samples := range raw {
		if len(samples) == 0 {
			continue
		}
		r.Observe(ch, codes[ch])
		lo, hi := extremes(samples)
		from := r.index[ch]
		to := from
		switch {
		case lo < -ClipLimit || hi > ClipLimit:
			to = from + 1
		case lo > -UnderRangeLimit && hi < UnderRangeLimit:
			to = from - 1
		}
		if to == from || to != clampIndex(to) {
			continue
		}
		out = append(out, Adjustment{Channel: ch, From: from, To: to})
	}
	return out
}

func extremes(samples []int8) (lo, hi int) {
	lo, hi = math.MaxInt8, math.MinInt8
	for _, s := range samples {
		v := int(s)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func clampIndex(idx int) int {
	if idx < 0 {
		return 0
	}
	if idx >= len(RangeLadder) {
		return len(RangeLadder) - 1
	}
	return idx
}
