// Package rowsource produces the dense R x C matrix of float32 rows that the
// correlation engine consumes. Rows are observations (surface nodes) and
// columns are samples (time points).
package rowsource

import (
	"context"

	"caretcore/internal/models"
	"caretcore/pkg/algorithm"
)

const op = "rowsource"

// Source produces a row-major matrix. The caller owns the returned matrix.
type Source interface {
	Materialize(ctx context.Context) (*models.Matrix, error)
}

// InMemory is a Source whose data is already resident.
type InMemory struct {
	matrix  *models.Matrix
	columns [][]float32
}

// FromMatrix wraps a row-major matrix; it is handed out without copying.
func FromMatrix(m *models.Matrix) *InMemory {
	return &InMemory{matrix: m}
}

// FromRows copies rows (each of length C) into a row-major matrix.
func FromRows(rows [][]float32) *InMemory {
	if len(rows) == 0 {
		return &InMemory{matrix: &models.Matrix{}}
	}
	m := models.NewMatrix(len(rows), len(rows[0]))
	for i, r := range rows {
		copy(m.Row(i), r)
	}
	return &InMemory{matrix: m}
}

// FromColumns holds C columns of length R, the layout of a metric file, and
// transposes them into rows on Materialize.
func FromColumns(columns [][]float32) *InMemory {
	return &InMemory{columns: columns}
}

// Materialize returns the matrix. Ragged columns yield ErrInconsistent and
// an empty matrix yields ErrEmptyInput.
func (s *InMemory) Materialize(ctx context.Context) (*models.Matrix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.matrix != nil {
		if s.matrix.Rows <= 0 || s.matrix.Cols <= 0 {
			return nil, algorithm.Errorf(algorithm.ErrEmptyInput, op, "input is %dx%d", s.matrix.Rows, s.matrix.Cols)
		}
		if len(s.matrix.Data) != s.matrix.Rows*s.matrix.Cols {
			return nil, algorithm.Errorf(algorithm.ErrInconsistent, op, "buffer holds %d values for %dx%d",
				len(s.matrix.Data), s.matrix.Rows, s.matrix.Cols)
		}
		return s.matrix, nil
	}

	numCols := len(s.columns)
	if numCols == 0 || len(s.columns[0]) == 0 {
		return nil, algorithm.Errorf(algorithm.ErrEmptyInput, op, "input has no rows or no columns")
	}
	numRows := len(s.columns[0])
	m := models.NewMatrix(numRows, numCols)
	for j, col := range s.columns {
		if len(col) != numRows {
			return nil, algorithm.Errorf(algorithm.ErrInconsistent, op,
				"column %d has %d rows, column 0 has %d", j, len(col), numRows)
		}
		for i, v := range col {
			m.Data[i*numCols+j] = v
		}
	}
	return m, nil
}
