package gradient

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"

	"caretcore/internal/models"
	"caretcore/pkg/parallel"
	"caretcore/pkg/volume"
)

// project combines the six sine responses of every voxel into a gradient
// using the scaled first-derivative vectors of t, then splits it into a unit
// direction and a magnitude. With a mask only the voxels inside it are
// visited; the rest, and voxels with a zero gradient, keep a zero direction
// and magnitude.
func project(ctx context.Context, runner parallel.Runner, bank *models.SineBank, t Table, mask *volume.Mask, out *models.VolumeVector) error {
	return runner.RunRange(ctx, out.Len(), func(lo, hi int) error {
		var r [models.NumDirections]float64
		voxel := func(idx int) {
			for a := range r {
				r[a] = float64(bank.Sine[a][idx])
			}
			gx := float32(floats.Dot(r[:], t.Mx[:]))
			gy := float32(floats.Dot(r[:], t.My[:]))
			gz := float32(floats.Dot(r[:], t.Mz[:]))

			mag := gx*gx + gy*gy + gz*gz
			if mag > 0 {
				m := float32(math.Sqrt(float64(mag)))
				out.SetDirection(idx, gx/m, gy/m, gz/m)
				out.Mag[idx] = m
			}
		}

		if mask == nil {
			for idx := lo; idx < hi; idx++ {
				voxel(idx)
			}
			return nil
		}
		for idx := range mask.Range(lo, hi) {
			voxel(idx)
		}
		return nil
	})
}
