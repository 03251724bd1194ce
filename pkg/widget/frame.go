package widget

import (
	"github.com/odvcencio/vegabridge/pkg/encoding/ndarray"
	vberrors "github.com/odvcencio/vegabridge/pkg/errors"
)

// Table is a numeric frame: one name per column, rows of equal width.
type Table struct {
	Columns []string
	Rows    [][]float32
}

func (t Table) array() (ndarray.Array, error) {
	arr, err := ndarray.New(t.Rows)
	if err != nil {
		return ndarray.Array{}, vberrors.Wrap(err, vberrors.ErrCodePayloadEncode, "encode table")
	}
	if len(t.Rows) > 0 && len(t.Columns) != len(t.Rows[0]) {
		return ndarray.Array{}, vberrors.New(vberrors.ErrCodeInvalidInput, "column count does not match row width").
			WithContext("columns", len(t.Columns)).
			WithContext("width", len(t.Rows[0]))
	}
	return arr, nil
}

// Matrix is a dense row-major grid of cell values.
type Matrix struct {
	Rows int
	Cols int
	Data []float32
}

func (m Matrix) array() (ndarray.Array, error) {
	if m.Rows < 0 || m.Cols < 0 || len(m.Data) != m.Rows*m.Cols {
		return ndarray.Array{}, vberrors.New(vberrors.ErrCodeInvalidInput, "matrix shape does not match data").
			WithContext("rows", m.Rows).
			WithContext("cols", m.Cols).
			WithContext("len", len(m.Data))
	}
	return ndarray.Array{Shape: []int{m.Rows, m.Cols}, Data: append([]float32(nil), m.Data...)}, nil
}
