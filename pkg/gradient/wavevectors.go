package gradient

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// WaveVectors returns the six filter directions for lambda as the rows of a
// 6x3 matrix: one along z and five spread around the z axis at polar angle
// atan(2), pointing at the vertices of an icosahedron.
func WaveVectors(lambda int) *mat.Dense {
	kmag := math.Pi / (2 * float64(lambda))
	phi := 2 * math.Pi / 5
	sqrt5 := math.Sqrt(5)

	n := mat.NewDense(6, 3, nil)
	n.Set(0, 2, kmag)
	for i := 0; i < 5; i++ {
		n.Set(i+1, 0, 2*kmag*math.Cos(float64(i)*phi)/sqrt5)
		n.Set(i+1, 1, 2*kmag*math.Sin(float64(i)*phi)/sqrt5)
		n.Set(i+1, 2, kmag/sqrt5)
	}
	return n
}
