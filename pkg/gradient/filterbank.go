package gradient

import "math"

// halo is half the low-pass filter footprint.
const halo = 2

var lpfKernel = [2*halo + 1]float32{1.0 / 16.0, 1.0 / 4.0, 3.0 / 8.0, 1.0 / 4.0, 1.0 / 16.0}

// lowPassTaps returns the kernel divided by the cube root of w0, so the
// three separable passes together divide by w0.
func lowPassTaps(w0 float64) [2*halo + 1]float32 {
	norm := float32(math.Pow(w0, 1.0/3.0))
	taps := lpfKernel
	for i := range taps {
		taps[i] /= norm
	}
	return taps
}

// slabScratch holds the per-direction intermediates of one slab. It is
// owned by a single goroutine and dropped when the direction is done.
type slabScratch struct {
	nx, ny, nz int

	// z0 is the global slice index of the slab's first slice
	z0 int

	cos []float32

	cosTab, sinTab [3][]float32

	line []float32
}

func newSlabScratch(nx, ny, nz, z0 int) *slabScratch {
	s := &slabScratch{nx: nx, ny: ny, nz: nz, z0: z0}
	s.cos = make([]float32, nx*ny*nz)
	for axis, n := range [3]int{nx, ny, nz} {
		s.cosTab[axis] = make([]float32, n)
		s.sinTab[axis] = make([]float32, n)
	}
	s.line = make([]float32, max(nx, ny, nz))
	return s
}

// tables fills the per-axis cos/sin tables for wave vector n. Phases use
// global voxel coordinates so every slab sees the same carrier.
func (s *slabScratch) tables(n [3]float64) {
	for i := 0; i < s.nx; i++ {
		s.cosTab[0][i] = float32(math.Cos(float64(i) * n[0]))
		s.sinTab[0][i] = float32(math.Sin(float64(i) * n[0]))
	}
	for j := 0; j < s.ny; j++ {
		s.cosTab[1][j] = float32(math.Cos(float64(j) * n[1]))
		s.sinTab[1][j] = float32(math.Sin(float64(j) * n[1]))
	}
	for k := 0; k < s.nz; k++ {
		s.cosTab[2][k] = float32(math.Cos(float64(s.z0+k) * n[2]))
		s.sinTab[2][k] = float32(math.Sin(float64(s.z0+k) * n[2]))
	}
}

// carrier calls fn with the cos/sin of the phase at every voxel, combining
// the axis tables with the angle-sum identities.
func (s *slabScratch) carrier(fn func(idx int, c, sn float32)) {
	for k := 0; k < s.nz; k++ {
		cz, sz := s.cosTab[2][k], s.sinTab[2][k]
		for j := 0; j < s.ny; j++ {
			cy, sy := s.cosTab[1][j], s.sinTab[1][j]
			cyz := cy*cz - sy*sz
			syz := sy*cz + cy*sz
			base := s.nx*j + s.nx*s.ny*k
			for i := 0; i < s.nx; i++ {
				cx, sx := s.cosTab[0][i], s.sinTab[0][i]
				cxyz := cx*cyz - sx*syz
				sxyz := sx*cyz + cx*syz
				fn(base+i, cxyz, sxyz)
			}
		}
	}
}

// filterDirection runs modulate, low-pass and demodulate for one wave
// vector over the slab voxels in, leaving the demodulated sine part in sine.
func (s *slabScratch) filterDirection(in []float32, n [3]float64, taps [2*halo + 1]float32, sine []float32) {
	s.tables(n)

	s.carrier(func(idx int, c, sn float32) {
		s.cos[idx] = c * in[idx]
		sine[idx] = sn * in[idx]
	})

	s.lowPass(s.cos, taps)
	s.lowPass(sine, taps)

	s.carrier(func(idx int, c, sn float32) {
		re, im := s.cos[idx], sine[idx]
		sine[idx] = -sn*re + c*im
	})
}

// lowPass convolves v separably along x, y and z. Samples beyond a face
// repeat the face sample.
func (s *slabScratch) lowPass(v []float32, taps [2*halo + 1]float32) {
	nx, ny, nz := s.nx, s.ny, s.nz
	plane := nx * ny
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			s.convolveLine(v, nx*j+plane*k, 1, nx, taps)
		}
	}
	for k := 0; k < nz; k++ {
		for i := 0; i < nx; i++ {
			s.convolveLine(v, i+plane*k, nx, ny, taps)
		}
	}
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			s.convolveLine(v, i+nx*j, plane, nz, taps)
		}
	}
}

func (s *slabScratch) convolveLine(v []float32, start, stride, n int, taps [2*halo + 1]float32) {
	line := s.line[:n]
	for p := 0; p < n; p++ {
		line[p] = v[start+p*stride]
	}
	last := n - 1
	for p := 0; p < n; p++ {
		var sum float32
		for t := -halo; t <= halo; t++ {
			q := min(max(p+t, 0), last)
			sum += taps[t+halo] * line[q]
		}
		v[start+p*stride] = sum
	}
}
