// Package correlation computes the dense Pearson correlation matrix between
// every pair of rows of a node-by-sample matrix, optionally Fisher z
// transformed. Results are either held in memory or streamed row by row to a
// positioned byte sink so matrices larger than memory can be produced.
package correlation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/mat"

	"caretcore/internal/models"
	"caretcore/pkg/algorithm"
	"caretcore/pkg/gifti"
	"caretcore/pkg/logging"
	"caretcore/pkg/parallel"
	"caretcore/pkg/rowsource"
)

// Mode selects the output back-end.
type Mode string

const (
	// InMemory holds the R x R result in memory.
	InMemory Mode = "inMemory"

	// Incremental streams rows of the result to a file as they complete.
	Incremental Mode = "incremental"
)

// progressEvery is the row interval between forwarded progress updates.
const progressEvery = 1000

// Options configures an Engine.
type Options struct {
	ApplyFisherZ bool
	Parallel     bool
	Mode         Mode

	InputPath  string
	OutputPath string

	// OutputGifti writes the in-memory result as a GIFTI file, or an
	// ExternalFileBinary header next to the incremental output.
	OutputGifti bool

	// Workers is the pool size when Parallel is set; <= 0 uses every core.
	Workers int
}

// Result is the outcome of an in-memory run.
type Result struct {
	Matrix *models.SquareMatrix
	Stats  *RowStats
}

// SymDense returns the correlation matrix as a gonum symmetric matrix.
func (r *Result) SymDense() *mat.SymDense {
	return r.Matrix.SymDense()
}

// Engine runs the correlation pipeline: source, row statistics, driver, sink.
type Engine struct {
	opts     Options
	logger   *logging.Logger
	progress algorithm.Progress
	runner   parallel.Runner
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for stage timings and progress.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithProgress sets the observer polled for cancellation and sent row
// progress. Updates are throttled.
func WithProgress(p algorithm.Progress) Option {
	return func(e *Engine) { e.progress = p }
}

// New validates opts and creates an Engine.
func New(opts Options, options ...Option) (*Engine, error) {
	switch opts.Mode {
	case "":
		opts.Mode = InMemory
	case InMemory, Incremental:
	default:
		return nil, algorithm.Errorf(algorithm.ErrInconsistent, driverOp, "unknown mode %q", opts.Mode)
	}

	e := &Engine{opts: opts}
	for _, o := range options {
		o(e)
	}
	if e.logger == nil {
		e.logger = logging.NoopLogger()
	}
	e.logger = e.logger.WithEngine("correlation")

	workers := 1
	if opts.Parallel {
		workers = opts.Workers
		if workers <= 0 {
			workers = parallel.DefaultWorkers()
		}
	}
	e.runner = parallel.New(workers)

	if e.progress == nil {
		e.progress = algorithm.LogProgress{Logger: e.logger.WithStage("correlate")}
	}
	e.progress = algorithm.Throttle(e.progress, progressEvery, 0)
	return e, nil
}

func (e *Engine) driver() *Driver {
	return &Driver{Runner: e.runner, Progress: e.progress, FisherZ: e.opts.ApplyFisherZ}
}

func (e *Engine) prepare(ctx context.Context, src rowsource.Source) (*models.Matrix, *RowStats, error) {
	start := time.Now()
	m, err := src.Materialize(ctx)
	if err != nil {
		return nil, nil, cancelled(err)
	}
	e.logger.Elapsed("load", start)
	e.logger.Debug("input loaded", "rows", m.Rows, "columns", m.Cols, "workers", e.runner.Workers())

	start = time.Now()
	stats, err := ComputeRowStats(ctx, e.runner, m)
	if err != nil {
		return nil, nil, cancelled(err)
	}
	e.logger.Elapsed("row statistics", start)
	return m, stats, nil
}

// Run correlates the rows of src into an in-memory matrix. The rows of the
// materialized input are left centered.
func (e *Engine) Run(ctx context.Context, src rowsource.Source) (*Result, error) {
	m, stats, err := e.prepare(ctx, src)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out := models.NewSquareMatrix(m.Rows)
	if err := e.driver().RunInMemory(ctx, m, stats, out); err != nil {
		return nil, err
	}
	e.logger.Elapsed("correlation", start)
	return &Result{Matrix: out, Stats: stats}, nil
}

// RunToSink correlates the rows of src, writing each row of the result to
// sink as it completes. The sink is not closed.
func (e *Engine) RunToSink(ctx context.Context, src rowsource.Source, sink PositionedByteSink) (int, error) {
	m, stats, err := e.prepare(ctx, src)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	if err := e.driver().RunStreaming(ctx, m, stats, sink); err != nil {
		return m.Rows, err
	}
	e.logger.Elapsed("correlation", start)
	return m.Rows, nil
}

// RunIncremental streams the GIFTI file at InputPath through the streaming
// back-end into the raw float32 file at OutputPath.
func (e *Engine) RunIncremental(ctx context.Context) error {
	if e.opts.InputPath == "" || e.opts.OutputPath == "" {
		return algorithm.Errorf(algorithm.ErrEmptyInput, driverOp, "incremental mode needs input and output paths")
	}
	src := rowsource.NewStreaming(rowsource.GiftiFile(e.opts.InputPath))

	m, stats, err := e.prepare(ctx, src)
	if err != nil {
		return err
	}

	size := int64(m.Rows) * int64(m.Rows) * 4
	sink, err := NewFileSink(e.opts.OutputPath, size)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := e.driver().RunStreaming(ctx, m, stats, sink); err != nil {
		sink.Close()
		return err
	}
	if err := sink.Close(); err != nil {
		return algorithm.Wrap(algorithm.ErrIoFailure, driverOp, err)
	}
	e.logger.Elapsed("correlation", start)

	if e.opts.OutputGifti {
		start = time.Now()
		if err := e.writeExternalHeader(m.Rows); err != nil {
			return err
		}
		e.logger.Elapsed("write", start)
	}
	return nil
}

// writeExternalHeader describes the raw output file as an R x R
// ExternalFileBinary array.
func (e *Engine) writeExternalHeader(numRows int) error {
	f := &gifti.File{}
	f.MetaData.Set("Description", "Correlation matrix of "+filepath.Base(e.opts.InputPath))
	a := gifti.NewDataArray([]int{numRows, numRows}, gifti.EncodingExternalFileBinary)
	a.Data = nil
	a.ExternalFileName = filepath.Base(e.opts.OutputPath)
	a.ExternalFileOffset = 0
	f.AddDataArray(a)
	f.SetModified()
	if err := f.Write(e.opts.OutputPath + ".gii"); err != nil {
		return algorithm.Wrap(algorithm.ErrIoFailure, driverOp, err)
	}
	return nil
}

// Execute runs the engine in its configured mode, reading InputPath and
// writing OutputPath.
func (e *Engine) Execute(ctx context.Context) error {
	if e.opts.Mode == Incremental {
		return e.RunIncremental(ctx)
	}
	if e.opts.InputPath == "" || e.opts.OutputPath == "" {
		return algorithm.Errorf(algorithm.ErrEmptyInput, driverOp, "input and output paths are required")
	}

	src, err := LoadGifti(e.opts.InputPath)
	if err != nil {
		return err
	}
	result, err := e.Run(ctx, src)
	if err != nil {
		return err
	}

	start := time.Now()
	if e.opts.OutputGifti {
		err = WriteGifti(e.opts.OutputPath, result, gifti.EncodingGZipBase64Binary)
	} else {
		err = WriteRaw(e.opts.OutputPath, result)
	}
	if err != nil {
		return err
	}
	e.logger.Elapsed("write", start)
	return nil
}

// LoadGifti reads a whole GIFTI metric file into an in-memory source. The
// file holds either one array per column or a single rows x columns array.
func LoadGifti(path string) (*rowsource.InMemory, error) {
	f, err := gifti.ReadFile(path)
	if err != nil {
		return nil, algorithm.Wrap(algorithm.ErrIoFailure, "rowsource", err)
	}
	if len(f.Arrays) == 1 && len(f.Arrays[0].Dims) == 2 && f.Arrays[0].Dims[1] > 1 {
		a := f.Arrays[0]
		if err := a.ToRowMajor(); err != nil {
			return nil, algorithm.Wrap(algorithm.ErrWrongShape, "rowsource", err)
		}
		return rowsource.FromMatrix(&models.Matrix{Data: a.Data, Rows: a.Dims[0], Cols: a.Dims[1]}), nil
	}

	columns := make([][]float32, len(f.Arrays))
	for i, a := range f.Arrays {
		if len(a.Dims) == 0 || len(a.Dims) > 2 || (len(a.Dims) == 2 && a.Dims[1] != 1) {
			return nil, algorithm.Errorf(algorithm.ErrWrongShape, "rowsource", "data array %d has dimensions %v", i, a.Dims)
		}
		columns[i] = a.Data
	}
	return rowsource.FromColumns(columns), nil
}

// WriteGifti stores an in-memory result as a GIFTI file with one array per
// row of the matrix.
func WriteGifti(path string, result *Result, encoding gifti.Encoding) error {
	n := result.Matrix.Dim()
	f := &gifti.File{}
	for i := 0; i < n; i++ {
		a := gifti.NewDataArray([]int{n}, encoding)
		a.Data = result.Matrix.RowView(i)
		a.MetaData.Set("Name", fmt.Sprintf("Row %d", i+1))
		f.AddDataArray(a)
	}
	f.SetModified()
	if err := f.Write(path); err != nil {
		return algorithm.Wrap(algorithm.ErrIoFailure, driverOp, err)
	}
	return nil
}

// WriteRaw stores an in-memory result as little-endian float32, row-major,
// the same layout the streaming back-end produces.
func WriteRaw(path string, result *Result) error {
	if err := os.WriteFile(path, gifti.Float32Bytes(result.Matrix.Data), 0644); err != nil {
		return algorithm.Wrap(algorithm.ErrIoFailure, driverOp, err)
	}
	return nil
}
