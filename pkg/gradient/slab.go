package gradient

// numChunks is the number of slabs the slowest axis is split into.
const numChunks = 7

// slab is one unit of filter-bank work: output slices [outLo, outHi) are
// computed from input slices [inLo, inHi), which add a halo on either side.
type slab struct {
	inLo, inHi   int
	outLo, outHi int
}

// planSlabs splits z slices into seven contiguous output ranges. Volumes with
// fewer than seven slices are processed as a single slab.
func planSlabs(z int) []slab {
	if z < numChunks {
		return []slab{{inLo: 0, inHi: z, outLo: 0, outHi: z}}
	}
	plan := make([]slab, 0, numChunks)
	for c := 0; c < numChunks; c++ {
		lo := c * z / numChunks
		hi := (c + 1) * z / numChunks
		if c == numChunks-1 {
			hi = z
		}
		if lo >= hi {
			continue
		}
		plan = append(plan, slab{
			inLo:  max(lo-halo, 0),
			inHi:  min(hi+halo, z),
			outLo: lo,
			outHi: hi,
		})
	}
	return plan
}
