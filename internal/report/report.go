// Package report writes a finished frequency response to disk: a NumPy
// array, a CSV table, a PNG Bode plot and an interactive HTML chart.
package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rjboer/GoBode/internal/logging"
)

// ErrNoData is returned when there is nothing to plot.
var ErrNoData = errors.New("report: no samples")

// Rows holds frequency (Hz), gain (dB) and phase (degrees) in that order.
type Rows = [3][]float64

const timestampLayout = "20060102_150405"

// Basename names the files of a run started at t.
func Basename(t time.Time) string {
	return t.Format(timestampLayout)
}

// Paths lists the files written by Write.
type Paths struct {
	NPY  string `json:"npy"`
	CSV  string `json:"csv"`
	PNG  string `json:"png"`
	HTML string `json:"html"`
}

func pathsFor(dir, base string) Paths {
	return Paths{
		NPY:  filepath.Join(dir, base+"_data.npy"),
		CSV:  filepath.Join(dir, base+"_data.csv"),
		PNG:  filepath.Join(dir, base+"_plot.png"),
		HTML: filepath.Join(dir, base+"_plot.html"),
	}
}

func checkRows(rows Rows) (int, error) {
	n := len(rows[0])
	if len(rows[1]) != n || len(rows[2]) != n {
		return 0, fmt.Errorf("report: ragged rows %d/%d/%d", len(rows[0]), len(rows[1]), len(rows[2]))
	}
	return n, nil
}

// Write stores every report format for rows under dir, creating it if
// needed. The data files are written even when there are too few points to
// plot.
func Write(dir string, started time.Time, rows Rows, logger logging.Logger) (Paths, error) {
	logger = logging.OrDefault(logger).With(logging.Subsystem("report"))
	if _, err := checkRows(rows); err != nil {
		return Paths{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("create output directory: %w", err)
	}
	paths := pathsFor(dir, Basename(started))

	writers := []struct {
		path  string
		write func(f *os.File) error
	}{
		{paths.NPY, func(f *os.File) error { return WriteNPY(f, rows) }},
		{paths.CSV, func(f *os.File) error { return WriteCSV(f, rows) }},
		{paths.PNG, func(f *os.File) error { return WritePNG(f, rows) }},
		{paths.HTML, func(f *os.File) error { return WriteHTML(f, "Frequency response "+Basename(started), rows) }},
	}
	for _, w := range writers {
		if err := writeFile(w.path, w.write); err != nil {
			if errors.Is(err, ErrNoData) {
				logger.Warn("skipping empty report", logging.Field{Key: "path", Value: w.path})
				continue
			}
			return paths, err
		}
		logger.Info("report written", logging.Field{Key: "path", Value: w.path})
	}
	return paths, nil
}

func writeFile(path string, write func(f *os.File) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
