package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/GoBode/internal/sweep"
	"github.com/rjboer/GoBode/internal/telemetry"
)

type pointLog struct{ points []telemetry.Point }

func (l *pointLog) ReportPoint(p telemetry.Point) { l.points = append(l.points, p) }

func TestSweepMeasuresLowpass(t *testing.T) {
	dut := RCLowpass(10e3, 0)
	b, sc, gen := openBench(t, Config{DUT: dut})

	cfg := sweep.DefaultConfig()
	cfg.StopHz = 100e3
	points := &pointLog{}
	r := sweep.NewRunner(sc, gen, points, nil, cfg)
	resp, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, resp.Samples, 20)
	require.Len(t, points.points, 20)
	for i, s := range resp.Samples {
		assert.InDelta(t, dut.GainDB(s.FrequencyHz), s.GainDB, 0.5, "gain at %g Hz", s.FrequencyHz)
		// two periods on screen bias the correlation peak by a few degrees
		assert.InDelta(t, dut.PhaseDeg(s.FrequencyHz), s.PhaseDeg, 10, "phase at %g Hz", s.FrequencyHz)
		if i > 0 {
			assert.Greater(t, s.FrequencyHz, resp.Samples[i-1].FrequencyHz)
		}
	}
	first, last := resp.Samples[0], resp.Samples[len(resp.Samples)-1]
	assert.Greater(t, first.GainDB-last.GainDB, 15.0)
	assert.Less(t, last.PhaseDeg, -70.0)

	// averaging stops above 10 kHz
	assert.Equal(t, 2, points.points[0].Averages)
	assert.Equal(t, 1, points.points[19].Averages)
	assert.False(t, b.OutputOn())
}

func TestSweepWithoutFilterOnFlatPath(t *testing.T) {
	b, sc, gen := openBench(t, Config{})
	cfg := sweep.DefaultConfig()
	cfg.StopHz = 10e3
	cfg.PointsPerDecade = 4
	cfg.Filter = false
	resp, err := sweep.NewRunner(sc, gen, nil, nil, cfg).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Samples, 4)
	for _, s := range resp.Samples {
		assert.InDelta(t, 0, s.GainDB, 0.2)
		assert.InDelta(t, 0, s.PhaseDeg, 1)
	}
	assert.False(t, b.OutputOn())
}

func TestSweepStopsWhenScopeGoesAway(t *testing.T) {
	b, sc, gen := openBench(t, Config{})
	cfg := sweep.DefaultConfig()
	require.NoError(t, b.Scope().Close())

	resp, err := sweep.NewRunner(sc, gen, nil, nil, cfg).Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, resp.Samples)
	assert.False(t, b.OutputOn(), "generator must be switched off after a failed sweep")
}

func TestSweepHonoursCancellation(t *testing.T) {
	b, sc, gen := openBench(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sweep.NewRunner(sc, gen, nil, nil, sweep.DefaultConfig()).Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, b.OutputOn())
}
