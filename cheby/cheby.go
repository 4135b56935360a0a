// Package cheby fits and evaluates Chebyshev polynomial series of the first
// kind on [-1, 1]. It is reentrant and holds no package-level state: every
// operation is a pure function of its arguments.
package cheby

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Nodes returns the n Chebyshev nodes of the first kind on [-1, 1]:
// x_k = cos(pi*(2k+1)/(2n)).
func Nodes(n int) []float64 {
	nodes := make([]float64, n)
	for k := 0; k < n; k++ {
		nodes[k] = math.Cos(math.Pi * (2*float64(k) + 1) / (2 * float64(n)))
	}
	return nodes
}

// Fit computes degree+1 Chebyshev coefficients from samples taken at the
// nodes returned by Nodes(len(samples)). len(samples) must be >= degree+1.
//
// When len(samples) == degree+1, the closed-form discrete Chebyshev
// transform is used. For an oversampled fit (len(samples) > degree+1) a
// Vandermonde least-squares solve is used instead. Both agree to within 1
// ulp when len(samples) == degree+1.
func Fit(samples []float64, degree int) []float64 {
	if len(samples) == degree+1 {
		return fitExact(samples, degree)
	}
	return fitLeastSquares(samples, degree)
}

func fitExact(samples []float64, degree int) []float64 {
	n := len(samples)
	coeffs := make([]float64, degree+1)
	for j := 0; j <= degree; j++ {
		var sum float64
		for k := 0; k < n; k++ {
			theta := math.Pi * (2*float64(k) + 1) * float64(j) / (2 * float64(n))
			sum += samples[k] * math.Cos(theta)
		}
		if j == 0 {
			coeffs[j] = sum / float64(n)
		} else {
			coeffs[j] = 2 * sum / float64(n)
		}
	}
	return coeffs
}

func fitLeastSquares(samples []float64, degree int) []float64 {
	return FitAt(Nodes(len(samples)), samples, degree)
}

// FitAt computes a least-squares Chebyshev fit of degree from samples ys
// taken at arbitrary abscissas xs in [-1, 1] — not necessarily the
// canonical nodes Nodes(n) returns. This is the form a caller needs when
// samples come from an external dense, uniformly time-stepped stream (e.g.
// integrator output) rather than being taken at the canonical nodes
// directly, as refit does.
func FitAt(xs, ys []float64, degree int) []float64 {
	n := len(xs)
	a := mat.NewDense(n, degree+1, nil)
	for k, x := range xs {
		a.SetRow(k, basis(x, degree))
	}
	y := mat.NewVecDense(n, append([]float64(nil), ys...))

	var qr mat.QR
	qr.Factorize(a)

	c := mat.NewVecDense(degree+1, nil)
	if err := qr.SolveVecTo(c, false, y); err != nil {
		// Degenerate design matrix: fall back to the exact transform on
		// the first degree+1 samples rather than propagating a solver
		// error up through what spec callers treat as a pure function.
		return fitExact(ys[:degree+1], degree)
	}
	return append([]float64(nil), c.RawVector().Data...)
}

// ResidualAt returns the maximum absolute difference between the fitted
// series and ys, evaluated at the arbitrary abscissas xs (the FitAt
// counterpart to Residual).
func ResidualAt(xs, ys, coeffs []float64) float64 {
	var maxAbs float64
	for k, x := range xs {
		d := math.Abs(Evaluate(coeffs, x) - ys[k])
		if d > maxAbs {
			maxAbs = d
		}
	}
	return maxAbs
}

// basis returns [T_0(x), ..., T_degree(x)] via the stable three-term
// recurrence T_j = 2x*T_{j-1} - T_{j-2}.
func basis(x float64, degree int) []float64 {
	t := make([]float64, degree+1)
	t[0] = 1
	if degree >= 1 {
		t[1] = x
	}
	for j := 2; j <= degree; j++ {
		t[j] = 2*x*t[j-1] - t[j-2]
	}
	return t
}

// Evaluate evaluates a Chebyshev series at x in [-1, 1] via Clenshaw's
// recurrence.
func Evaluate(coeffs []float64, x float64) float64 {
	n := len(coeffs)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return coeffs[0]
	}
	x2 := 2 * x
	b0, b1 := coeffs[n-1], 0.0
	for i := n - 2; i >= 1; i-- {
		b0, b1 = coeffs[i]+x2*b0-b1, b0
	}
	return coeffs[0] + x*b0 - b1
}

// DerivativeCoeffs converts a series' coefficients into the coefficients of
// its derivative series, using the standard Chebyshev derivative recurrence.
func DerivativeCoeffs(coeffs []float64) []float64 {
	n := len(coeffs)
	if n < 2 {
		return nil
	}
	m := n - 1
	dc := make([]float64, m)
	for j := m - 1; j >= 1; j-- {
		var djp2 float64
		if j+2 < m {
			djp2 = dc[j+2]
		}
		dc[j] = djp2 + 2*float64(j+1)*coeffs[j+1]
	}
	var d2 float64
	if m > 2 {
		d2 = dc[2]
	}
	dc[0] = (d2 + 2*coeffs[1]) / 2
	return dc
}

// EvaluateDerivative evaluates the derivative of a Chebyshev series at x in
// [-1, 1].
func EvaluateDerivative(coeffs []float64, x float64) float64 {
	return Evaluate(DerivativeCoeffs(coeffs), x)
}

// Residual returns the maximum absolute difference between the fitted
// series and the original samples, evaluated at the fit's own nodes.
func Residual(samples, coeffs []float64) float64 {
	nodes := Nodes(len(samples))
	var maxAbs float64
	for k, x := range nodes {
		d := math.Abs(Evaluate(coeffs, x) - samples[k])
		if d > maxAbs {
			maxAbs = d
		}
	}
	return maxAbs
}
