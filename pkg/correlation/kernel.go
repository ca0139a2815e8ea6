package correlation

import "math"

// tinyValue replaces a zero denominator, both for zero-variance rows and for
// the Fisher transform of a perfect correlation.
const tinyValue = 1.0e-20

// dot accumulates the float32 products of two centered rows in float64.
func dot(xi, xj []float32) float64 {
	var sum float64
	for k := range xi {
		sum += float64(xi[k] * xj[k])
	}
	return sum
}

// pearson returns the correlation of two centered rows given their sums of
// squares, optionally Fisher z transformed. The coefficient is rounded to
// float32 before the transform.
func pearson(xi, xj []float32, ssi, ssj float64, fisher bool) float32 {
	sum := dot(xi, xj)

	var r float32
	if denominator := ssi * ssj; denominator != 0 {
		r = float32(sum / math.Sqrt(denominator))
	} else {
		r = float32(sum / tinyValue)
	}

	if fisher {
		r = fisherZ(r)
	}
	return r
}

func fisherZ(r float32) float32 {
	denom := float32(1.0 - float64(r))
	if denom != 0 {
		return float32(0.5 * math.Log((1.0+float64(r))/float64(denom)))
	}
	return float32(0.5 * math.Log((1.0+float64(r))/tinyValue))
}
