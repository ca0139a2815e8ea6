// Package gradient estimates the intensity gradient of a scalar volume with a
// bank of six oriented quadrature filters. Each direction modulates the
// volume by a plane wave, low-pass filters it and demodulates it; the six
// sine responses are then projected onto x, y and z. The volume is processed
// in slabs along z so intermediate state stays bounded.
package gradient

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"caretcore/internal/models"
	"caretcore/pkg/algorithm"
	"caretcore/pkg/logging"
	"caretcore/pkg/parallel"
	"caretcore/pkg/volume"
)

const op = "gradient"

// FilterFiveTap is the only supported low-pass footprint.
const FilterFiveTap = "fiveTap"

// Options configures an Engine.
type Options struct {
	// Lambda is the wavelength in voxels, one of 1, 2, 5
	Lambda int

	// Masking restricts the projection to the nonzero voxels of Mask
	Masking bool
	Mask    *models.VolumeScalar

	// FilterSize must be FilterFiveTap or empty
	FilterSize string

	// Debug logs the wave vectors, mask size and slab ranges
	Debug bool

	// ParallelSlabs runs slabs concurrently instead of the directions
	// within a slab
	ParallelSlabs bool

	// Workers is the pool size; <= 1 runs serially
	Workers int
}

// Engine computes gradient volumes. It is safe to reuse for several volumes
// but not for concurrent runs.
type Engine struct {
	opts Options

	table Table
	taps  [2*halo + 1]float32
	waves [models.NumDirections][3]float64

	logger   *logging.Logger
	progress algorithm.Progress
	runner   parallel.Runner
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithProgress sets the observer polled for cancellation between slabs and
// directions.
func WithProgress(p algorithm.Progress) Option {
	return func(e *Engine) { e.progress = p }
}

// New validates opts, scales the coefficient table for Lambda and computes
// the wave vectors.
func New(opts Options, options ...Option) (*Engine, error) {
	table, err := TableFor(opts.Lambda)
	if err != nil {
		return nil, err
	}
	if opts.FilterSize != "" && opts.FilterSize != FilterFiveTap {
		return nil, algorithm.Errorf(algorithm.ErrInconsistent, op, "unsupported filter size %q", opts.FilterSize)
	}
	if opts.Masking && opts.Mask == nil {
		return nil, algorithm.Errorf(algorithm.ErrInconsistent, op, "masking requested without a mask volume")
	}

	e := &Engine{
		opts:  opts,
		table: table.Scaled(),
		taps:  lowPassTaps(table.W0()),
	}
	for _, o := range options {
		o(e)
	}
	if e.logger == nil {
		e.logger = logging.NoopLogger()
	}
	if opts.Debug {
		e.logger = e.logger.WithLevel(slog.LevelDebug)
	}
	e.logger = e.logger.WithEngine("gradient")
	e.progress = algorithm.OrNop(e.progress)
	e.runner = parallel.New(opts.Workers)

	n := WaveVectors(opts.Lambda)
	for a := range e.waves {
		e.waves[a] = [3]float64{n.At(a, 0), n.At(a, 1), n.At(a, 2)}
	}

	if opts.Debug {
		e.logger.Debug("filter bank",
			"lambda", opts.Lambda,
			"kmag", math.Pi/(2*float64(opts.Lambda)),
			"w0", table.W0(),
			"filter", FilterFiveTap)
		for a, w := range e.waves {
			e.logger.Debug("direction cosine", "alpha", a, "x", w[0], "y", w[1], "z", w[2])
		}
	}
	return e, nil
}

func checkVolume(vol *models.VolumeScalar) error {
	if vol == nil || vol.X <= 0 || vol.Y <= 0 || vol.Z <= 0 {
		return algorithm.Errorf(algorithm.ErrEmptyInput, op, "volume has an empty dimension")
	}
	if err := vol.Validate(); err != nil {
		return algorithm.Wrap(algorithm.ErrInconsistent, op, err)
	}
	return nil
}

func cancelled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &algorithm.Error{Kind: algorithm.ErrCancelled, Op: op, Err: err}
	}
	return err
}

// Run computes the unit gradient direction and magnitude of every voxel.
func (e *Engine) Run(ctx context.Context, vol *models.VolumeScalar) (*models.VolumeVector, error) {
	if err := checkVolume(vol); err != nil {
		return nil, err
	}

	var mask *volume.Mask
	if e.opts.Masking {
		if !vol.SameShape(e.opts.Mask) {
			return nil, algorithm.Errorf(algorithm.ErrInconsistent, op,
				"mask is %dx%dx%d, volume is %dx%dx%d",
				e.opts.Mask.X, e.opts.Mask.Y, e.opts.Mask.Z, vol.X, vol.Y, vol.Z)
		}
		mask = volume.NewMask(e.opts.Mask)
		if mask.Len() != vol.Len() {
			return nil, algorithm.Errorf(algorithm.ErrInconsistent, op,
				"mask holds %d voxels, volume holds %d", mask.Len(), vol.Len())
		}
		if e.opts.Debug {
			e.logger.Debug("mask loaded", "voxels", mask.Count())
		}
	}

	bank, err := e.SineBank(ctx, vol)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out := models.NewVolumeVector(vol.X, vol.Y, vol.Z)
	if err := project(ctx, e.runner, bank, e.table, mask, out); err != nil {
		return nil, cancelled(err)
	}
	e.logger.Elapsed("projection", start)
	return out, nil
}

// SineBank runs the filter bank slab by slab and stitches the demodulated
// sine responses of the whole volume.
func (e *Engine) SineBank(ctx context.Context, vol *models.VolumeScalar) (*models.SineBank, error) {
	if err := checkVolume(vol); err != nil {
		return nil, err
	}
	return e.sineBank(ctx, vol, planSlabs(vol.Z))
}

func (e *Engine) sineBank(ctx context.Context, vol *models.VolumeScalar, plan []slab) (*models.SineBank, error) {
	start := time.Now()
	bank := models.NewSineBank(vol.X, vol.Y, vol.Z)

	slabRunner, dirRunner := parallel.Runner(parallel.Serial{}), e.runner
	if e.opts.ParallelSlabs {
		slabRunner, dirRunner = e.runner, parallel.Serial{}
	}

	err := slabRunner.Run(ctx, len(plan), func(c int) error {
		if e.progress.IsCancelled() {
			return algorithm.Errorf(algorithm.ErrCancelled, op, "cancelled before slab %d", c)
		}
		s := plan[c]
		e.progress.Update("filtering slab", c, len(plan))
		if e.opts.Debug {
			e.logger.Debug("analyzing slab", "slab", c,
				"input", []int{s.inLo, s.inHi}, "output", []int{s.outLo, s.outHi})
		}
		return e.filterSlab(ctx, vol, s, bank, dirRunner)
	})
	if err != nil {
		return nil, cancelled(err)
	}
	e.logger.Elapsed("filter bank", start)
	return bank, nil
}

// filterSlab runs every direction over one slab and copies the slab's output
// slices into bank. Output ranges of different slabs are disjoint.
func (e *Engine) filterSlab(ctx context.Context, vol *models.VolumeScalar, s slab, bank *models.SineBank, dirRunner parallel.Runner) error {
	plane := vol.X * vol.Y
	nz := s.inHi - s.inLo
	in := vol.Data[s.inLo*plane : s.inHi*plane]
	from := (s.outLo - s.inLo) * plane
	to := (s.outHi - s.inLo) * plane

	return dirRunner.Run(ctx, models.NumDirections, func(a int) error {
		if e.progress.IsCancelled() {
			return algorithm.Errorf(algorithm.ErrCancelled, op, "cancelled before direction %d", a)
		}
		sine := make([]float32, plane*nz)
		newSlabScratch(vol.X, vol.Y, nz, s.inLo).filterDirection(in, e.waves[a], e.taps, sine)
		copy(bank.Sine[a][s.outLo*plane:s.outHi*plane], sine[from:to])
		return nil
	})
}
