package volume

import (
	"iter"

	"github.com/RoaringBitmap/roaring/v2"

	"caretcore/internal/models"
)

// Mask is the set of voxels with a nonzero value in a mask volume.
type Mask struct {
	rb *roaring.Bitmap

	// size is the voxel count of the volume the mask was built from
	size int
}

// NewMask collects the flat indices of every nonzero voxel of vol.
func NewMask(vol *models.VolumeScalar) *Mask {
	rb := roaring.New()
	for i, v := range vol.Data {
		if v != 0 {
			rb.Add(uint32(i))
		}
	}
	rb.RunOptimize()
	return &Mask{rb: rb, size: len(vol.Data)}
}

// Len returns the number of voxels of the masked volume.
func (m *Mask) Len() int {
	return m.size
}

// Count returns the number of voxels inside the mask.
func (m *Mask) Count() uint64 {
	return m.rb.GetCardinality()
}

// Voxels iterates over the flat indices inside the mask in increasing order.
func (m *Mask) Voxels() iter.Seq[int] {
	return m.Range(0, m.size)
}

// Range iterates in increasing order over the flat indices inside the mask
// that fall in [lo, hi). Each call uses its own iterator, so ranges may be
// walked concurrently.
func (m *Mask) Range(lo, hi int) iter.Seq[int] {
	return func(yield func(int) bool) {
		if lo >= hi {
			return
		}
		it := m.rb.Iterator()
		it.AdvanceIfNeeded(uint32(max(lo, 0)))
		for it.HasNext() {
			idx := int(it.PeekNext())
			if idx >= hi {
				return
			}
			it.Next()
			if !yield(idx) {
				return
			}
		}
	}
}
