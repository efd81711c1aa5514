package store

import (
	"context"

	"github.com/rjboer/GoBode/internal/logging"
	"github.com/rjboer/GoBode/internal/sweep"
	"github.com/rjboer/GoBode/internal/telemetry"
)

// Recorder is a telemetry.Reporter that persists each point as it is
// measured, so an interrupted sweep keeps what it measured.
type Recorder struct {
	store  *Store
	runID  string
	ctx    context.Context
	logger logging.Logger
}

// NewRecorder records points of runID.
func NewRecorder(ctx context.Context, s *Store, runID string, logger logging.Logger) *Recorder {
	return &Recorder{
		store:  s,
		runID:  runID,
		ctx:    ctx,
		logger: logging.OrDefault(logger).With(logging.Subsystem("store")),
	}
}

// ReportPoint implements telemetry.Reporter.
func (r *Recorder) ReportPoint(p telemetry.Point) {
	smp := sweep.Sample{FrequencyHz: p.FrequencyHz, GainDB: p.GainDB, PhaseDeg: p.PhaseDeg}
	if err := r.store.AddSample(r.ctx, r.runID, p.Index, smp); err != nil {
		r.logger.Error("persist sweep point", logging.Field{Key: "run_id", Value: r.runID}, logging.Err(err))
	}
}
