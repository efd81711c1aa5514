package report

import (
	"fmt"
	"io"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// WriteNPY stores rows as a float64 array of shape (3, N) in NumPy's .npy
// format, C order.
func WriteNPY(w io.Writer, rows Rows) error {
	n, err := checkRows(rows)
	if err != nil {
		return err
	}
	m := mat.NewDense(len(rows), n, nil)
	for i, row := range rows {
		m.SetRow(i, row)
	}
	return npyio.Write(w, m)
}

// ReadNPY loads an array written by WriteNPY.
func ReadNPY(r io.Reader) (Rows, error) {
	var (
		rows Rows
		m    mat.Dense
	)
	if err := npyio.Read(r, &m); err != nil {
		return rows, fmt.Errorf("read npy: %w", err)
	}
	if nr, _ := m.Dims(); nr != len(rows) {
		return rows, fmt.Errorf("npy array has %d rows, want %d", nr, len(rows))
	}
	for i := range rows {
		rows[i] = mat.Row(nil, i, &m)
	}
	return rows, nil
}
