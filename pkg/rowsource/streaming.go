package rowsource

import (
	"context"
	"errors"
	"fmt"

	"caretcore/internal/models"
	"caretcore/pkg/algorithm"
	"caretcore/pkg/gifti"
)

// Array is one array delivered by a reader: a single column of length R
// with dimensions (R) or (R, 1), or the whole matrix with dimensions (R, C).
type Array interface {
	Dimensions() []int
	Float32() []float32
	SubscriptOrder() gifti.Order
}

// Producer drives the reader callback once per array, in order. It stops
// and returns an error as soon as the callback returns a non-empty message.
type Producer interface {
	Produce(ctx context.Context, reader *Streaming) error
}

// ProducerFunc adapts a function to Producer.
type ProducerFunc func(ctx context.Context, reader *Streaming) error

func (f ProducerFunc) Produce(ctx context.Context, reader *Streaming) error { return f(ctx, reader) }

// GiftiFile produces the data arrays of a GIFTI metric file as they are read.
func GiftiFile(path string) Producer {
	return ProducerFunc(func(ctx context.Context, reader *Streaming) error {
		return gifti.StreamFile(ctx, path, gifti.ListenerFunc(func(a *gifti.DataArray, index, total int) string {
			return reader.DataArrayRead(a, index, total)
		}))
	})
}

// Streaming assembles the matrix from arrays delivered one at a time by a
// Producer, so only the matrix itself is ever resident.
type Streaming struct {
	producer Producer

	matrix   *models.Matrix
	received int
	twoDim   bool

	// rejection is the first error raised by the callback
	rejection error
}

// NewStreaming creates a Source fed by producer.
func NewStreaming(producer Producer) *Streaming {
	return &Streaming{producer: producer}
}

func (s *Streaming) reject(kind error, format string, args ...any) string {
	err := algorithm.Errorf(kind, op, format, args...)
	if s.rejection == nil {
		s.rejection = err
	}
	return err.(*algorithm.Error).Msg
}

// DataArrayRead is the reader callback. It returns an empty string on
// success and a human-readable message when the array is rejected.
func (s *Streaming) DataArrayRead(a Array, index, total int) string {
	dims := a.Dimensions()
	numRows, numCols := -1, -1
	twoDim := false
	switch len(dims) {
	case 1:
		numRows = dims[0]
	case 2:
		switch {
		case dims[1] == 1:
			numRows = dims[0]
		case dims[1] > 1:
			if total > 1 {
				return s.reject(algorithm.ErrWrongShape, "data file may contain only one two-dimensional data array")
			}
			numRows, numCols = dims[0], dims[1]
			twoDim = true
		default:
			return s.reject(algorithm.ErrEmptyInput, "data array %d has no columns", index)
		}
	default:
		return s.reject(algorithm.ErrWrongShape, "data arrays must be one-dimensional or (rows, columns), got %d dimensions", len(dims))
	}
	if numRows <= 0 {
		return s.reject(algorithm.ErrEmptyInput, "data array %d has no rows", index)
	}

	if index == 0 {
		if twoDim {
			values := a.Float32()
			if len(values) != numRows*numCols {
				return s.reject(algorithm.ErrWrongShape, "array holds %d values for %dx%d", len(values), numRows, numCols)
			}
			if a.SubscriptOrder() == gifti.ColumnMajor {
				rowMajor := make([]float32, len(values))
				for i := 0; i < numRows; i++ {
					for j := 0; j < numCols; j++ {
						rowMajor[i*numCols+j] = values[i+j*numRows]
					}
				}
				values = rowMajor
			}
			s.matrix = &models.Matrix{Data: values, Rows: numRows, Cols: numCols}
			s.twoDim = true
		} else {
			if total <= 0 {
				return s.reject(algorithm.ErrEmptyInput, "file holds no data arrays")
			}
			s.matrix = models.NewMatrix(numRows, total)
		}
	} else {
		if s.matrix == nil || index != s.received {
			return s.reject(algorithm.ErrInconsistent, "data array %d delivered out of order", index)
		}
		if numRows != s.matrix.Rows {
			return s.reject(algorithm.ErrInconsistent, "data arrays must all have the same dimensions: array %d has %d rows, array 0 has %d",
				index, numRows, s.matrix.Rows)
		}
	}

	if !twoDim {
		col := a.Float32()
		if len(col) < numRows {
			return s.reject(algorithm.ErrWrongShape, "array %d holds %d values for %d rows", index, len(col), numRows)
		}
		stride := s.matrix.Cols
		if index >= stride {
			return s.reject(algorithm.ErrInconsistent, "array %d exceeds the %d announced columns", index, stride)
		}
		for i := 0; i < numRows; i++ {
			s.matrix.Data[i*stride+index] = col[i]
		}
	}
	s.received++
	return ""
}

// Materialize runs the producer and returns the assembled matrix.
func (s *Streaming) Materialize(ctx context.Context) (*models.Matrix, error) {
	s.matrix, s.received, s.twoDim, s.rejection = nil, 0, false, nil

	err := s.producer.Produce(ctx, s)
	if s.rejection != nil {
		return nil, s.rejection
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, &algorithm.Error{Kind: algorithm.ErrCancelled, Op: op, Err: err}
		}
		return nil, algorithm.Wrap(algorithm.ErrIoFailure, op, err)
	}
	if s.matrix == nil || s.matrix.Rows == 0 || s.matrix.Cols == 0 {
		return nil, algorithm.Errorf(algorithm.ErrEmptyInput, op, "no data arrays were read")
	}
	if !s.twoDim && s.received != s.matrix.Cols {
		return nil, algorithm.Errorf(algorithm.ErrInconsistent, op, "read %d of %d announced data arrays", s.received, s.matrix.Cols)
	}
	return s.matrix, nil
}

// String describes the source for logs.
func (s *Streaming) String() string {
	if s.matrix == nil {
		return "streaming source (unread)"
	}
	return fmt.Sprintf("streaming source %dx%d", s.matrix.Rows, s.matrix.Cols)
}
