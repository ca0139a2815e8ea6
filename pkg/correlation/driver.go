package correlation

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"caretcore/internal/models"
	"caretcore/pkg/algorithm"
	"caretcore/pkg/parallel"
)

const driverOp = "correlation"

// Driver computes the correlation of every pair of centered rows. Rows are
// handed out one at a time from a shared counter, so workers that finish
// short rows early pick up more.
type Driver struct {
	Runner   parallel.Runner
	Progress algorithm.Progress
	FisherZ  bool
}

// rowLoop runs body for every row index acquired from nextRow until the rows
// are exhausted or cancellation is requested. Each worker owns a scratch
// buffer of the given size.
func (d *Driver) rowLoop(ctx context.Context, numRows, scratch int, body func(buf []byte, i int) error) error {
	runner := d.Runner
	if runner == nil {
		runner = parallel.Serial{}
	}
	progress := algorithm.OrNop(d.Progress)

	var nextRow atomic.Int64
	var failed atomic.Bool
	workers := runner.Workers()
	if workers > numRows {
		workers = numRows
	}

	err := runner.Run(ctx, workers, func(int) error {
		var buf []byte
		if scratch > 0 {
			buf = make([]byte, scratch)
		}
		for {
			if failed.Load() {
				return nil
			}
			if progress.IsCancelled() {
				return algorithm.Errorf(algorithm.ErrCancelled, driverOp, "cancelled after %d rows", nextRow.Load())
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			i := int(nextRow.Add(1) - 1)
			if i >= numRows {
				return nil
			}
			progress.Update("correlating rows", i, numRows)
			if err := body(buf, i); err != nil {
				failed.Store(true)
				return err
			}
		}
	})
	return cancelled(err)
}

// cancelled maps context errors to ErrCancelled and passes others through.
func cancelled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &algorithm.Error{Kind: algorithm.ErrCancelled, Op: driverOp, Err: err}
	}
	return err
}

// RunInMemory fills out with the full symmetric matrix. Each worker computes
// row i from the diagonal onwards and mirrors every element.
func (d *Driver) RunInMemory(ctx context.Context, m *models.Matrix, stats *RowStats, out *models.SquareMatrix) error {
	numRows := m.Rows
	if out.Dim() != numRows {
		return algorithm.Errorf(algorithm.ErrInconsistent, driverOp, "output is %dx%d for %d rows", out.Dim(), out.Dim(), numRows)
	}
	return d.rowLoop(ctx, numRows, 0, func(_ []byte, i int) error {
		xi := m.Row(i)
		ssi := stats.SS[i]
		for j := i; j < numRows; j++ {
			r := pearson(xi, m.Row(j), ssi, stats.SS[j], d.FisherZ)
			out.RowView(i)[j] = r
			out.RowView(j)[i] = r
		}
		return nil
	})
}

// RunStreaming writes the full matrix to sink as little-endian float32, row i
// at byte offset i*R*4. Every row is written once, as one block, while holding
// the sink lock.
func (d *Driver) RunStreaming(ctx context.Context, m *models.Matrix, stats *RowStats, sink PositionedByteSink) error {
	numRows := m.Rows
	rowBytes := 4 * numRows
	var mu sync.Mutex

	return d.rowLoop(ctx, numRows, rowBytes, func(buf []byte, i int) error {
		xi := m.Row(i)
		ssi := stats.SS[i]
		for j := 0; j < numRows; j++ {
			r := pearson(xi, m.Row(j), ssi, stats.SS[j], d.FisherZ)
			binary.LittleEndian.PutUint32(buf[4*j:], math.Float32bits(r))
		}

		mu.Lock()
		defer mu.Unlock()
		if err := sink.Seek(uint64(i) * uint64(rowBytes)); err != nil {
			return algorithm.Wrap(algorithm.ErrIoFailure, driverOp, err)
		}
		n, err := sink.Write(buf)
		if err != nil {
			return algorithm.Wrap(algorithm.ErrIoFailure, driverOp, err)
		}
		if n != uint64(rowBytes) {
			return algorithm.Errorf(algorithm.ErrIoFailure, driverOp, "short write on row %d: %d of %d bytes", i, n, rowBytes)
		}
		return nil
	})
}
