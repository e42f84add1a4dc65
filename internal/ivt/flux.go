// Package ivt computes Integrated Vapor Transport from ERA5 pressure-level
// fields of specific humidity and horizontal wind.
package ivt

import (
	"math"

	"github.com/ctessum/sparse"
)

// Gravity is the standard gravitational acceleration [m s-2].
const Gravity = 9.81

// PressureThickness converts pressure levels from hPa to Pa and returns the
// thickness of each layer between adjacent levels, dp[k-1] = p[k] - p[k-1].
// The result has one element fewer than levels.
func PressureThickness(levels []float64) []float64 {
	if len(levels) < 2 {
		return nil
	}
	dp := make([]float64, len(levels)-1)
	for k := 1; k < len(levels); k++ {
		dp[k-1] = levels[k]*100 - levels[k-1]*100
	}
	return dp
}

// ColumnFlux integrates the moisture flux q·w over pressure for every
// (latitude, longitude) column of the (level, latitude, longitude) cubes q
// and w. Level k is weighted by dp[k-1] for k >= 1; the first level is not
// part of any product.
func ColumnFlux(q, w *sparse.DenseArray, dp []float64) *sparse.DenseArray {
	nl, ny, nx := q.Shape[0], q.Shape[1], q.Shape[2]
	out := sparse.ZerosDense(ny, nx)
	plane := ny * nx
	for k := 1; k < nl; k++ {
		qk := q.Elements[k*plane : (k+1)*plane]
		wk := w.Elements[k*plane : (k+1)*plane]
		for i := range out.Elements {
			out.Elements[i] += qk[i] * wk[i] * dp[k-1]
		}
	}
	return out
}

// Magnitude returns sqrt(qu² + qv²) / Gravity elementwise [kg m-1 s-1].
func Magnitude(qu, qv *sparse.DenseArray) *sparse.DenseArray {
	out := sparse.ZerosDense(qu.Shape...)
	for i := range out.Elements {
		out.Elements[i] = math.Sqrt(qu.Elements[i]*qu.Elements[i]+qv.Elements[i]*qv.Elements[i]) / Gravity
	}
	return out
}
