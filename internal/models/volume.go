package models

import "fmt"

// NumDirections is the number of dodecahedral filter directions.
const NumDirections = 6

// VolumeScalar represents a 3D scalar volume such as an anatomical MRI image
// or a mask. Voxels are stored in a flat slice with index i + X*j + X*Y*k.
type VolumeScalar struct {
	// Data holds X*Y*Z voxel intensities
	Data []float32

	// X, Y, Z are the dimensions of the volume in voxels (Z is the slowest axis)
	X, Y, Z int
}

// NewVolumeScalar allocates a zeroed volume with the given dimensions.
func NewVolumeScalar(x, y, z int) *VolumeScalar {
	return &VolumeScalar{
		Data: make([]float32, x*y*z),
		X:    x,
		Y:    y,
		Z:    z,
	}
}

// Len returns the number of voxels.
func (v *VolumeScalar) Len() int {
	return v.X * v.Y * v.Z
}

// Index converts grid coordinates to a flat index.
func (v *VolumeScalar) Index(i, j, k int) int {
	return i + v.X*j + v.X*v.Y*k
}

// At returns the voxel at (i, j, k).
func (v *VolumeScalar) At(i, j, k int) float32 {
	return v.Data[v.Index(i, j, k)]
}

// Set stores a value at (i, j, k).
func (v *VolumeScalar) Set(i, j, k int, value float32) {
	v.Data[v.Index(i, j, k)] = value
}

// Validate checks that the dimensions are positive and match the buffer.
func (v *VolumeScalar) Validate() error {
	if v.X <= 0 || v.Y <= 0 || v.Z <= 0 {
		return fmt.Errorf("volume has empty dimension %dx%dx%d", v.X, v.Y, v.Z)
	}
	if len(v.Data) != v.Len() {
		return fmt.Errorf("volume holds %d voxels but dimensions %dx%dx%d need %d",
			len(v.Data), v.X, v.Y, v.Z, v.Len())
	}
	return nil
}

// SameShape reports whether two volumes have identical dimensions.
func (v *VolumeScalar) SameShape(o *VolumeScalar) bool {
	return o != nil && v.X == o.X && v.Y == o.Y && v.Z == o.Z
}

// VolumeVector holds a unit gradient direction and a magnitude per voxel.
type VolumeVector struct {
	// Dir holds interleaved (x, y, z) direction components, 3 per voxel
	Dir []float32

	// Mag holds one nonnegative magnitude per voxel
	Mag []float32

	X, Y, Z int
}

// NewVolumeVector allocates a zeroed vector volume.
func NewVolumeVector(x, y, z int) *VolumeVector {
	n := x * y * z
	return &VolumeVector{
		Dir: make([]float32, 3*n),
		Mag: make([]float32, n),
		X:   x,
		Y:   y,
		Z:   z,
	}
}

// Len returns the number of voxels.
func (v *VolumeVector) Len() int {
	return v.X * v.Y * v.Z
}

// Index converts grid coordinates to a flat voxel index.
func (v *VolumeVector) Index(i, j, k int) int {
	return i + v.X*j + v.X*v.Y*k
}

// Direction returns the direction stored for the voxel with flat index idx.
func (v *VolumeVector) Direction(idx int) (x, y, z float32) {
	return v.Dir[3*idx], v.Dir[3*idx+1], v.Dir[3*idx+2]
}

// SetDirection stores the direction for the voxel with flat index idx.
func (v *VolumeVector) SetDirection(idx int, x, y, z float32) {
	v.Dir[3*idx] = x
	v.Dir[3*idx+1] = y
	v.Dir[3*idx+2] = z
}

// Magnitude returns the magnitude of the voxel with flat index idx.
func (v *VolumeVector) Magnitude(idx int) float32 {
	return v.Mag[idx]
}

// SineBank holds the six demodulated sine volumes of one volume or slab,
// one per filter direction.
type SineBank struct {
	Sine [NumDirections][]float32

	X, Y, Z int
}

// NewSineBank allocates a zeroed bank for an X*Y*Z region.
func NewSineBank(x, y, z int) *SineBank {
	b := &SineBank{X: x, Y: y, Z: z}
	for a := range b.Sine {
		b.Sine[a] = make([]float32, x*y*z)
	}
	return b
}
