package correlation

import (
	"context"

	"caretcore/internal/models"
	"caretcore/pkg/parallel"
)

// RowStats holds the per-row mean and centered sum of squares. After
// ComputeRowStats the matrix rows are centered in place.
type RowStats struct {
	Mean []float32
	SS   []float64
}

// ComputeRowStats centers every row of m on its mean and records the sum of
// squares of the centered values. Rows are independent and processed through
// runner in contiguous chunks.
func ComputeRowStats(ctx context.Context, runner parallel.Runner, m *models.Matrix) (*RowStats, error) {
	stats := &RowStats{
		Mean: make([]float32, m.Rows),
		SS:   make([]float64, m.Rows),
	}
	err := runner.RunRange(ctx, m.Rows, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			stats.Mean[i], stats.SS[i] = centerRow(m.Row(i))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func centerRow(row []float32) (float32, float64) {
	if len(row) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range row {
		sum += float64(v)
	}
	mean := float32(sum / float64(len(row)))

	var ss float64
	for j, v := range row {
		f := float32(float64(v) - float64(mean))
		ss += float64(f * f)
		row[j] = f
	}
	return mean, ss
}
