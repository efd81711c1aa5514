package report

import (
	"encoding/csv"
	"io"
	"strconv"
)

var csvHeader = []string{"frequency_hz", "gain_db", "phase_deg"}

// WriteCSV stores rows as one line per sample with a header.
func WriteCSV(w io.Writer, rows Rows) error {
	n, err := checkRows(rows)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		rec := make([]string, len(rows))
		for j := range rows {
			rec[j] = strconv.FormatFloat(rows[j][i], 'g', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
