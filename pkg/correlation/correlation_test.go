package correlation

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"caretcore/internal/models"
	"caretcore/pkg/algorithm"
	"caretcore/pkg/gifti"
	"caretcore/pkg/parallel"
	"caretcore/pkg/rowsource"
)

var threeByFour = [][]float32{
	{1, 2, 3, 4},
	{2, 4, 6, 8},
	{1, 0, 1, 0},
}

func randomRows(rows, cols int, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float32, rows)
	for i := range out {
		out[i] = make([]float32, cols)
		for j := range out[i] {
			out[i][j] = float32(rng.NormFloat64()*3 + float64(i%7))
		}
	}
	return out
}

func runInMemory(t *testing.T, rows [][]float32, opts Options) *Result {
	t.Helper()
	e, err := New(opts)
	require.NoError(t, err)
	res, err := e.Run(context.Background(), rowsource.FromRows(rows))
	require.NoError(t, err)
	return res
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func decodeRows(t *testing.T, raw []byte, n int) []float32 {
	t.Helper()
	require.Len(t, raw, 4*n*n)
	out := make([]float32, n*n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out
}

func TestThreeRowsMatchPearson(t *testing.T) {
	res := runInMemory(t, threeByFour, Options{})
	out := res.Matrix

	for i := range threeByFour {
		for j := range threeByFour {
			want := stat.Correlation(toFloat64(threeByFour[i]), toFloat64(threeByFour[j]), nil)
			assert.InDelta(t, want, float64(out.At(i, j)), 1e-6, "r[%d,%d]", i, j)
		}
	}
	assert.Equal(t, float32(1), out.At(0, 1))
	assert.InDelta(t, -1/math.Sqrt(5), float64(out.At(0, 2)), 1e-6)

	// observations as rows, one variable per input row
	input, err := rowsource.FromRows(threeByFour).Materialize(context.Background())
	require.NoError(t, err)
	want := mat.NewSymDense(len(threeByFour), nil)
	stat.CorrelationMatrix(want, input.Dense().T(), nil)
	assert.True(t, mat.EqualApprox(want, res.SymDense(), 1e-6))
	assert.InDelta(t, -1/math.Sqrt(5), float64(out.At(1, 2)), 1e-6)
}

func TestFisherZ(t *testing.T) {
	res := runInMemory(t, threeByFour, Options{ApplyFisherZ: true})
	out := res.Matrix

	perfect := float32(0.5 * math.Log(2/tinyValue))
	assert.Equal(t, perfect, out.At(0, 1))
	assert.Equal(t, perfect, out.At(1, 0))
	for i := 0; i < 3; i++ {
		assert.Equal(t, perfect, out.At(i, i))
	}
	assert.InDelta(t, math.Atanh(-1/math.Sqrt(5)), float64(out.At(0, 2)), 1e-5)
	assert.Equal(t, out.At(0, 2), out.At(2, 0))
}

func TestSingleRow(t *testing.T) {
	res := runInMemory(t, [][]float32{{3, 1, 4, 1, 5}}, Options{})
	require.Equal(t, 1, res.Matrix.Dim())
	assert.Equal(t, float32(1), res.Matrix.At(0, 0))

	res = runInMemory(t, [][]float32{{3, 1, 4, 1, 5}}, Options{ApplyFisherZ: true})
	assert.Equal(t, float32(0.5*math.Log(2/tinyValue)), res.Matrix.At(0, 0))
}

func TestSingleColumnUsesTinyDenominator(t *testing.T) {
	res := runInMemory(t, [][]float32{{1}, {5}, {-2}}, Options{})
	for i := 0; i < 3; i++ {
		assert.Zero(t, res.Stats.SS[i])
		for j := 0; j < 3; j++ {
			assert.Zero(t, res.Matrix.At(i, j))
		}
	}
}

func TestZeroVarianceRowDiagonal(t *testing.T) {
	res := runInMemory(t, [][]float32{{2, 2, 2}, {1, 2, 3}}, Options{})
	// centered constant row is all zero, so Σx² / 1e-20 is zero too
	assert.Zero(t, res.Matrix.At(0, 0))
	assert.Zero(t, res.Matrix.At(0, 1))
	assert.Equal(t, float32(1), res.Matrix.At(1, 1))
}

func TestInMemoryInvariants(t *testing.T) {
	rows := randomRows(120, 16, 1)
	res := runInMemory(t, rows, Options{Parallel: true, Workers: 4})
	out := res.Matrix

	// the symmetric view is built from the upper triangle only
	assert.True(t, mat.Equal(res.SymDense(), out.Dense()))

	for i := 0; i < out.Dim(); i++ {
		require.Greater(t, res.Stats.SS[i], 0.0)
		assert.InDelta(t, 1.0, float64(out.At(i, i)), 1e-6)
		for j := 0; j < out.Dim(); j++ {
			r := float64(out.At(i, j))
			assert.True(t, r >= -1-1e-6 && r <= 1+1e-6, "r[%d,%d] = %v", i, j, r)
		}
	}
}

func TestRowPermutation(t *testing.T) {
	rows := randomRows(40, 12, 2)
	perm := rand.New(rand.NewSource(3)).Perm(len(rows))
	permuted := make([][]float32, len(rows))
	for i, p := range perm {
		permuted[i] = append([]float32(nil), rows[p]...)
	}

	a := runInMemory(t, rows, Options{}).Matrix
	b := runInMemory(t, permuted, Options{}).Matrix
	for i := range perm {
		for j := range perm {
			assert.Equal(t, a.At(perm[i], perm[j]), b.At(i, j))
		}
	}
}

func TestRowStatistics(t *testing.T) {
	rows := randomRows(50, 30, 4)
	m := models.NewMatrix(len(rows), len(rows[0]))
	for i, r := range rows {
		copy(m.Row(i), r)
	}

	stats, err := ComputeRowStats(context.Background(), parallel.New(3), m)
	require.NoError(t, err)
	for i := 0; i < m.Rows; i++ {
		var sum, maxAbs float64
		for _, v := range rows[i] {
			maxAbs = math.Max(maxAbs, math.Abs(float64(v)))
		}
		for _, v := range m.Row(i) {
			sum += float64(v)
		}
		assert.Less(t, math.Abs(sum), 1e-4*float64(m.Cols)*maxAbs)
		assert.InDelta(t, stat.Mean(toFloat64(rows[i]), nil), float64(stats.Mean[i]), 1e-4)
	}

	again, err := ComputeRowStats(context.Background(), parallel.Serial{}, m)
	require.NoError(t, err)
	for i := 0; i < m.Rows; i++ {
		assert.InDelta(t, 0, float64(again.Mean[i]), 1e-5)
		assert.InDelta(t, stats.SS[i], again.SS[i], 1e-6*stats.SS[i])
	}
}

func TestStreamingMatchesInMemory(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large correlation in short mode")
	}
	const numRows, numCols = 1000, 20

	res := runInMemory(t, randomRows(numRows, numCols, 5), Options{Parallel: true, Workers: 4})

	e, err := New(Options{Parallel: true, Workers: 4, Mode: Incremental})
	require.NoError(t, err)
	sink := NewMemorySink(4 * numRows * numRows)
	n, err := e.RunToSink(context.Background(), rowsource.FromRows(randomRows(numRows, numCols, 5)), sink)
	require.NoError(t, err)
	require.Equal(t, numRows, n)

	streamed := decodeRows(t, sink.Bytes(), numRows)
	for k, v := range res.Matrix.Data {
		if math.Abs(float64(v-streamed[k])) > 1e-5 {
			t.Fatalf("element %d: in-memory %v, streaming %v", k, v, streamed[k])
		}
	}
}

type cancelAfter struct {
	algorithm.CancelFlag
	rows int
}

func (c *cancelAfter) Update(_ string, current, _ int) {
	if current >= c.rows {
		c.Cancel()
	}
}

func TestCancellation(t *testing.T) {
	flag := &algorithm.CancelFlag{}
	flag.Cancel()
	e, err := New(Options{}, WithProgress(flag))
	require.NoError(t, err)
	_, err = e.Run(context.Background(), rowsource.FromRows(threeByFour))
	assert.ErrorIs(t, err, algorithm.ErrCancelled)

	// rows acquired before the flag was raised stay written
	m := models.NewMatrix(20, 4)
	for i, v := range randomRows(20, 4, 6) {
		copy(m.Row(i), v)
	}
	stats, err := ComputeRowStats(context.Background(), parallel.Serial{}, m)
	require.NoError(t, err)
	sink := NewMemorySink(0)
	d := &Driver{Runner: parallel.Serial{}, Progress: &cancelAfter{rows: 4}}
	err = d.RunStreaming(context.Background(), m, stats, sink)
	assert.ErrorIs(t, err, algorithm.ErrCancelled)
	assert.Len(t, sink.Bytes(), 5*20*4)
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := models.NewMatrix(8, 3)
	d := &Driver{Runner: parallel.New(2)}
	err := d.RunInMemory(ctx, m, &RowStats{SS: make([]float64, 8)}, models.NewSquareMatrix(8))
	assert.ErrorIs(t, err, algorithm.ErrCancelled)
}

func TestCancelledKeepsOtherErrors(t *testing.T) {
	assert.ErrorIs(t, cancelled(context.Canceled), algorithm.ErrCancelled)
	assert.ErrorIs(t, cancelled(context.DeadlineExceeded), algorithm.ErrCancelled)

	failure := algorithm.Errorf(algorithm.ErrIoFailure, "test", "disk gone")
	err := cancelled(failure)
	assert.ErrorIs(t, err, algorithm.ErrIoFailure)
	assert.NotErrorIs(t, err, algorithm.ErrCancelled)
	assert.NoError(t, cancelled(nil))
}

func TestRunReportsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e, err := New(Options{Parallel: true, Workers: 2})
	require.NoError(t, err)
	_, err = e.Run(ctx, rowsource.FromRows(randomRows(10, 4, 9)))
	assert.ErrorIs(t, err, algorithm.ErrCancelled)
}

type shortSink struct{ MemorySink }

func (s *shortSink) Write(p []byte) (uint64, error) {
	n, err := s.MemorySink.Write(p[:len(p)-1])
	return n, err
}

type seekFailSink struct{ MemorySink }

func (s *seekFailSink) Seek(uint64) error {
	return &algorithm.Error{Kind: algorithm.ErrSeekFailure, Op: "test", Err: errors.New("not seekable")}
}

func TestStreamingSinkFailures(t *testing.T) {
	for name, sink := range map[string]PositionedByteSink{
		"short write": &shortSink{},
		"seek":        &seekFailSink{},
	} {
		t.Run(name, func(t *testing.T) {
			e, err := New(Options{Parallel: true, Workers: 2})
			require.NoError(t, err)
			_, err = e.RunToSink(context.Background(), rowsource.FromRows(randomRows(10, 5, 7)), sink)
			require.Error(t, err)
			assert.ErrorIs(t, err, algorithm.ErrIoFailure)
		})
	}
}

func TestNewRejectsUnknownMode(t *testing.T) {
	_, err := New(Options{Mode: "sideways"})
	assert.ErrorIs(t, err, algorithm.ErrInconsistent)
}

func TestIncrementalNeedsPaths(t *testing.T) {
	e, err := New(Options{Mode: Incremental})
	require.NoError(t, err)
	assert.ErrorIs(t, e.RunIncremental(context.Background()), algorithm.ErrEmptyInput)
}

func writeMetric(t *testing.T, path string, rows [][]float32) {
	t.Helper()
	f := &gifti.File{}
	for c := range rows[0] {
		a := gifti.NewDataArray([]int{len(rows)}, gifti.EncodingGZipBase64Binary)
		for r := range rows {
			a.Data[r] = rows[r][c]
		}
		f.AddDataArray(a)
	}
	require.NoError(t, f.Write(path))
}

func TestRunIncrementalWritesRowsAndHeader(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "series.func.gii")
	output := filepath.Join(dir, "corr.dat")
	rows := randomRows(25, 9, 8)
	writeMetric(t, input, rows)

	e, err := New(Options{Mode: Incremental, InputPath: input, OutputPath: output, OutputGifti: true, Parallel: true, Workers: 3})
	require.NoError(t, err)
	require.NoError(t, e.Execute(context.Background()))

	raw, err := os.ReadFile(output)
	require.NoError(t, err)
	streamed := decodeRows(t, raw, len(rows))

	want := runInMemory(t, rows, Options{}).Matrix
	for k, v := range want.Data {
		assert.InDelta(t, v, streamed[k], 1e-6)
	}

	header, err := gifti.ReadFile(output + ".gii")
	require.NoError(t, err)
	require.Len(t, header.Arrays, 1)
	a := header.Arrays[0]
	assert.Equal(t, gifti.EncodingExternalFileBinary, a.Encoding)
	assert.Equal(t, []int{25, 25}, a.Dims)
	assert.Equal(t, "corr.dat", a.ExternalFileName)
	assert.Equal(t, streamed, a.Data)
}

func TestExecuteInMemoryGifti(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "series.func.gii")
	output := filepath.Join(dir, "corr.func.gii")
	writeMetric(t, input, threeByFour)

	e, err := New(Options{InputPath: input, OutputPath: output, OutputGifti: true})
	require.NoError(t, err)
	require.NoError(t, e.Execute(context.Background()))

	f, err := gifti.ReadFile(output)
	require.NoError(t, err)
	require.Len(t, f.Arrays, 3)
	assert.Equal(t, float32(1), f.Arrays[0].Data[1])
	name, ok := f.Arrays[2].MetaData.Get("Name")
	require.True(t, ok)
	assert.Equal(t, "Row 3", name)
}

func TestExecuteInMemoryRaw(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "series.func.gii")
	output := filepath.Join(dir, "corr.dat")
	writeMetric(t, input, threeByFour)

	e, err := New(Options{InputPath: input, OutputPath: output})
	require.NoError(t, err)
	require.NoError(t, e.Execute(context.Background()))

	raw, err := os.ReadFile(output)
	require.NoError(t, err)
	out := decodeRows(t, raw, 3)
	assert.Equal(t, float32(1), out[0*3+1])
	assert.Equal(t, float32(1), out[2*3+2])
}

func TestLoadGiftiTwoDimensional(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matrix.gii")
	f := &gifti.File{}
	a := gifti.NewDataArray([]int{3, 4}, gifti.EncodingBase64Binary)
	for i, r := range threeByFour {
		copy(a.Data[i*4:], r)
	}
	f.AddDataArray(a)
	require.NoError(t, f.Write(path))

	src, err := LoadGifti(path)
	require.NoError(t, err)
	m, err := src.Materialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, threeByFour[2], m.Row(2))
}

func TestFileSinkPositionedWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.dat")
	sink, err := NewFileSink(path, 16)
	require.NoError(t, err)

	require.NoError(t, sink.Seek(8))
	n, err := sink.Write([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n)
	require.NoError(t, sink.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3, 4, 0, 0, 0, 0}, raw)
}
