package ratio

import (
	"errors"
	"math"
)

var errBadFit = errors.New("polynomial fit failed")

// polyfit computes a least-squares polynomial fit of the given degree and
// returns coefficients ordered from the constant term upward. It solves the
// normal equations of the Vandermonde system with Gaussian elimination;
// the matrices involved are at most 3x3 here, so numerical sophistication
// beyond partial pivoting is not needed.
func polyfit(xs, ys []float64, degree int) ([]float64, error) {
	n := len(xs)
	if n != len(ys) || n < degree+1 {
		return nil, errBadFit
	}
	for i := 0; i < n; i++ {
		if math.IsNaN(xs[i]) || math.IsInf(xs[i], 0) || math.IsNaN(ys[i]) || math.IsInf(ys[i], 0) {
			return nil, errBadFit
		}
	}

	terms := degree + 1

	// Build AᵀA and Aᵀy for the Vandermonde matrix A.
	ata := make([][]float64, terms)
	aty := make([]float64, terms)
	for i := range ata {
		ata[i] = make([]float64, terms)
	}
	for k := 0; k < n; k++ {
		pows := make([]float64, 2*degree+1)
		pows[0] = 1
		for p := 1; p < len(pows); p++ {
			pows[p] = pows[p-1] * xs[k]
		}
		for i := 0; i < terms; i++ {
			for j := 0; j < terms; j++ {
				ata[i][j] += pows[i+j]
			}
			aty[i] += pows[i] * ys[k]
		}
	}

	coeffs, err := solve(ata, aty)
	if err != nil {
		return nil, err
	}
	for _, c := range coeffs {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, errBadFit
		}
	}
	return coeffs, nil
}

// solve performs Gaussian elimination with partial pivoting on a small
// dense system.
func solve(a [][]float64, b []float64) ([]float64, error) {
	n := len(b)
	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, errBadFit
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for row := col + 1; row < n; row++ {
			f := a[row][col] / a[col][col]
			for k := col; k < n; k++ {
				a[row][k] -= f * a[col][k]
			}
			b[row] -= f * b[col]
		}
	}

	x := make([]float64, n)
	for row := n - 1; row >= 0; row-- {
		sum := b[row]
		for k := row + 1; k < n; k++ {
			sum -= a[row][k] * x[k]
		}
		x[row] = sum / a[row][row]
	}
	return x, nil
}

// polyval evaluates the polynomial at x using Horner's method.
func polyval(coeffs []float64, x float64) float64 {
	v := 0.0
	for i := len(coeffs) - 1; i >= 0; i-- {
		v = v*x + coeffs[i]
	}
	return v
}

// rsquared computes the coefficient of determination of the fit against
// the observed values.
func rsquared(coeffs, xs, ys []float64) float64 {
	mean := 0.0
	for _, y := range ys {
		mean += y
	}
	mean /= float64(len(ys))

	var ssRes, ssTot float64
	for i, x := range xs {
		diff := ys[i] - polyval(coeffs, x)
		ssRes += diff * diff
		dev := ys[i] - mean
		ssTot += dev * dev
	}
	if ssTot == 0 {
		if ssRes < 1e-12 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}
