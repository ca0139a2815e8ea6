package models

import (
	"gonum.org/v1/gonum/mat"
)

// Matrix is an owned row-major matrix of float32 values. It is used both for
// the rows being correlated (R observations by C samples) and for outputs.
type Matrix struct {
	// Data holds Rows*Cols values, row i occupying Data[i*Cols:(i+1)*Cols]
	Data []float32

	Rows int
	Cols int
}

// NewMatrix allocates a zeroed rows x cols matrix.
func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{
		Data: make([]float32, rows*cols),
		Rows: rows,
		Cols: cols,
	}
}

// Row returns the slice backing row i.
func (m *Matrix) Row(i int) []float32 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// At returns element (i, j).
func (m *Matrix) At(i, j int) float32 {
	return m.Data[i*m.Cols+j]
}

// Set stores element (i, j).
func (m *Matrix) Set(i, j int, v float32) {
	m.Data[i*m.Cols+j] = v
}

// Dense copies the matrix into a gonum dense matrix.
func (m *Matrix) Dense() *mat.Dense {
	data := make([]float64, len(m.Data))
	for i, v := range m.Data {
		data[i] = float64(v)
	}
	return mat.NewDense(m.Rows, m.Cols, data)
}

// SquareMatrix is an n x n matrix backed by a single allocation and viewed
// through n row slices, so any element is reachable in O(1) by row.
type SquareMatrix struct {
	Matrix

	rows [][]float32
}

// NewSquareMatrix allocates a zeroed n x n matrix with its row views.
func NewSquareMatrix(n int) *SquareMatrix {
	s := &SquareMatrix{Matrix: *NewMatrix(n, n)}
	s.rows = make([][]float32, n)
	for i := 0; i < n; i++ {
		s.rows[i] = s.Data[i*n : (i+1)*n : (i+1)*n]
	}
	return s
}

// Dim returns n.
func (s *SquareMatrix) Dim() int {
	return s.Rows
}

// RowView returns the view of row i.
func (s *SquareMatrix) RowView(i int) []float32 {
	return s.rows[i]
}

// SymDense copies the upper triangle into a gonum symmetric matrix.
func (s *SquareMatrix) SymDense() *mat.SymDense {
	n := s.Rows
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, float64(s.rows[i][j]))
		}
	}
	return sym
}
