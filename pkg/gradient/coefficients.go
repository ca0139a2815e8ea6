package gradient

import (
	"gonum.org/v1/gonum/floats"

	"caretcore/pkg/algorithm"
)

// Table holds the five-tap filter bank coefficients for one wavelength.
// M0 is the DC response of each direction; the remaining vectors map the six
// sine responses onto first and second derivatives.
type Table struct {
	M0 [6]float64

	Mx, My, Mz [6]float64

	Mxx, Myy, Mzz [6]float64
	Mxy, Mxz, Myz [6]float64
}

// five-tap, kmag = 0.5
var lambda1 = Table{
	M0:  [6]float64{0.2500, 0.2638, 0.2684, 0.2760, 0.2760, 0.2684},
	Mx:  [6]float64{0.0229, 0.9473, 0.2578, -0.7316, -0.7316, 0.2578},
	My:  [6]float64{-0.0000, -0.0000, 0.8901, 0.5082, -0.5082, -0.8901},
	Mz:  [6]float64{1.1201, 0.4535, 0.4461, 0.4370, 0.4370, 0.4461},
	Mxx: [6]float64{1.8665, 0.5017, 1.7378, 0.9013, 0.9013, 1.7378},
	Myy: [6]float64{1.8525, 1.8471, 0.5788, 1.3642, 1.3642, 0.5788},
	Mzz: [6]float64{-0.1405, 1.1744, 1.1583, 1.1327, 1.1327, 1.1583},
	Mxy: [6]float64{-0.0000, -0.0000, -0.6869, 1.2031, -1.2031, 0.6869},
	Mxz: [6]float64{-0.3044, -1.4666, -0.5865, 0.8093, 0.8093, -0.5865},
	Myz: [6]float64{0.0000, 0.0000, -1.1971, -0.7241, 0.7241, 1.1971},
}

// five-tap, kmag = 0.25
var lambda2 = Table{
	M0:  [6]float64{0.7286, 0.7305, 0.7312, 0.7323, 0.7323, 0.7312},
	Mx:  [6]float64{0.0010, 0.7616, 0.2270, -0.6077, -0.6077, 0.2270},
	My:  [6]float64{-0.0000, -0.0000, 0.7216, 0.4361, -0.4361, -0.7216},
	Mz:  [6]float64{0.8607, 0.3706, 0.3703, 0.3699, 0.3699, 0.3703},
	Mxx: [6]float64{1.2048, -1.4741, 0.9749, -0.5593, -0.5593, 0.9749},
	Myy: [6]float64{1.2043, 1.2167, -1.2321, 0.3024, 0.3024, -1.2321},
	Mzz: [6]float64{-2.1358, 0.5305, 0.5301, 0.5295, 0.5295, 0.5301},
	Mxy: [6]float64{-0.0000, 0.0000, -1.2283, 2.0323, -2.0323, 1.2283},
	Mxz: [6]float64{-0.0397, -2.1228, -0.6533, 1.7218, 1.7218, -0.6533},
	Myz: [6]float64{-0.0000, 0.0000, -2.0216, -1.2480, 1.2480, 2.0216},
}

// five-tap, kmag = 0.10; second derivatives repeat the kmag = 0.25 design
var lambda5 = Table{
	M0:  [6]float64{0.9517, 0.9517, 0.9517, 0.9518, 0.9518, 0.9517},
	Mx:  [6]float64{0.0000, 1.4907, 0.4579, -1.2033, -1.2033, 0.4579},
	My:  [6]float64{-0.0000, 0.0000, 1.4169, 0.8725, -0.8725, -1.4169},
	Mz:  [6]float64{1.6694, 0.7418, 0.7417, 0.7417, 0.7417, 0.7417},
	Mxx: [6]float64{1.2048, -1.4741, 0.9749, -0.5593, -0.5593, 0.9749},
	Myy: [6]float64{1.2043, 1.2167, -1.2321, 0.3024, 0.3024, -1.2321},
	Mzz: [6]float64{-2.1358, 0.5305, 0.5301, 0.5295, 0.5295, 0.5301},
	Mxy: [6]float64{-0.0000, 0.0000, -1.2283, 2.0323, -2.0323, 1.2283},
	Mxz: [6]float64{-0.0397, -2.1228, -0.6533, 1.7218, 1.7218, -0.6533},
	Myz: [6]float64{-0.0000, 0.0000, -2.0216, -1.2480, 1.2480, 2.0216},
}

// TableFor returns a copy of the table for lambda, one of 1, 2 or 5.
func TableFor(lambda int) (Table, error) {
	switch lambda {
	case 1:
		return lambda1, nil
	case 2:
		return lambda2, nil
	case 5:
		return lambda5, nil
	}
	return Table{}, algorithm.Errorf(algorithm.ErrInconsistent, op, "unrecognized lambda %d", lambda)
}

// W0 is the mean DC response, the normalization constant of the filter bank.
func (t Table) W0() float64 {
	return floats.Sum(t.M0[:]) / float64(len(t.M0))
}

// Scaled returns the table with the nine derivative vectors multiplied by W0.
func (t Table) Scaled() Table {
	w0 := t.W0()
	for _, v := range []*[6]float64{
		&t.Mx, &t.My, &t.Mz,
		&t.Mxx, &t.Myy, &t.Mzz,
		&t.Mxy, &t.Mxz, &t.Myz,
	} {
		floats.Scale(w0, v[:])
	}
	return t
}
