package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/GoBode/internal/sweep"
	"github.com/rjboer/GoBode/internal/telemetry"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "bode.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	started := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

	run, err := s.CreateRun(ctx, started, sweep.DefaultConfig())
	require.NoError(t, err)
	_, err = uuid.Parse(run.ID)
	require.NoError(t, err)

	require.NoError(t, s.AddSample(ctx, run.ID, 1, sweep.Sample{FrequencyHz: 2000, GainDB: -1, PhaseDeg: -20}))
	require.NoError(t, s.AddSample(ctx, run.ID, 0, sweep.Sample{FrequencyHz: 1000, GainDB: 0, PhaseDeg: -10}))
	require.NoError(t, s.Finish(ctx, run.ID, started.Add(time.Minute), nil))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, got.Status)
	assert.True(t, got.StartedAt.Equal(started))
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.Equal(started.Add(time.Minute)))
	assert.Contains(t, string(got.Config), `"start_hz":1000`)

	samples, err := s.Samples(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, []sweep.Sample{
		{FrequencyHz: 1000, GainDB: 0, PhaseDeg: -10},
		{FrequencyHz: 2000, GainDB: -1, PhaseDeg: -20},
	}, samples)
}

func TestFailedRunKeepsError(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	run, err := s.CreateRun(ctx, time.Now(), map[string]int{"points": 3})
	require.NoError(t, err)
	require.NoError(t, s.Finish(ctx, run.ID, time.Now(), errors.New("scope went away")))

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusFailed, runs[0].Status)
	assert.Equal(t, "scope went away", runs[0].Error)
}

func TestUnknownRun(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, s.Finish(ctx, "missing", time.Now(), nil), ErrRunNotFound)
}

func TestRecorderPersistsPoints(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	run, err := s.CreateRun(ctx, time.Now(), nil)
	require.NoError(t, err)

	rec := NewRecorder(ctx, s, run.ID, nil)
	var reporter telemetry.Reporter = rec
	reporter.ReportPoint(telemetry.Point{Index: 0, FrequencyHz: 1000, GainDB: -0.1, PhaseDeg: -3})
	reporter.ReportPoint(telemetry.Point{Index: 1, FrequencyHz: 1259, GainDB: -0.2, PhaseDeg: -4})

	samples, err := s.Samples(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, 1259.0, samples[1].FrequencyHz)
}
