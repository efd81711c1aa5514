package telemetry

import (
	"time"

	"github.com/rjboer/GoBode/internal/logging"
)

// Point is one measured frequency response sample with its acquisition
// context.
type Point struct {
	Timestamp    time.Time `json:"timestamp"`
	Index        int       `json:"index"`
	Total        int       `json:"total"`
	FrequencyHz  float64   `json:"frequencyHz"`
	GainDB       float64   `json:"gainDb"`
	PhaseDeg     float64   `json:"phaseDeg"`
	AmplitudeVpp float64   `json:"amplitudeVpp"`
	Averages     int       `json:"averages"`
	SampleRateHz float64   `json:"sampleRateHz"`
}

// Reporter captures telemetry events.
type Reporter interface {
	ReportPoint(p Point)
}

// StdoutReporter logs every sweep point.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a stdout reporter with the provided logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	return StdoutReporter{logger: logging.OrDefault(logger).With(logging.Subsystem("telemetry"))}
}

func (r StdoutReporter) ReportPoint(p Point) {
	fields := []logging.Field{
		{Key: "point", Value: p.Index + 1},
		{Key: "of", Value: p.Total},
		{Key: "frequency_hz", Value: p.FrequencyHz},
		{Key: "gain_db", Value: p.GainDB},
		{Key: "phase_deg", Value: p.PhaseDeg},
	}
	if p.AmplitudeVpp != 0 {
		fields = append(fields, logging.Field{Key: "amplitude_vpp", Value: p.AmplitudeVpp})
	}
	if p.Averages > 1 {
		fields = append(fields, logging.Field{Key: "averages", Value: p.Averages})
	}
	if p.SampleRateHz != 0 {
		fields = append(fields, logging.Field{Key: "sample_rate_hz", Value: p.SampleRateHz})
	}
	r.logger.Info("sweep point", fields...)
}

// MultiReporter fans out telemetry to multiple destinations.
type MultiReporter []Reporter

// ReportPoint forwards the point to each configured reporter.
func (m MultiReporter) ReportPoint(p Point) {
	for _, r := range m {
		if r != nil {
			r.ReportPoint(p)
		}
	}
}
