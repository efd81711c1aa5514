package scope

import (
	"fmt"
	"math"
	"strconv"
)

// TimebaseLadder lists the horizontal scales (seconds per division).
var TimebaseLadder = [...]float64{
	2e-9, 5e-9, 10e-9, 20e-9, 50e-9, 100e-9, 200e-9, 500e-9,
	1e-6, 2e-6, 5e-6, 10e-6, 20e-6, 50e-6, 100e-6, 200e-6, 500e-6,
	1e-3, 2e-3, 5e-3, 10e-3, 20e-3, 50e-3, 100e-3, 200e-3, 500e-3,
	1, 2, 5, 10, 20, 50, 100, 200, 500,
}

// divisionsPerPeriod places one signal period across five divisions.
const divisionsPerPeriod = 5

// SelectTimebase returns the ladder scale closest to a fifth of the period of
// freq.
func SelectTimebase(freq float64) (float64, error) {
	if !(freq > 0) || math.IsInf(freq, 0) {
		return 0, fmt.Errorf("invalid frequency %v", freq)
	}
	target := 1 / freq / divisionsPerPeriod
	best := TimebaseLadder[0]
	for _, tb := range TimebaseLadder[1:] {
		if math.Abs(tb-target) < math.Abs(best-target) {
			best = tb
		}
	}
	return best, nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
