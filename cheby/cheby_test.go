package cheby

import (
	"math"
	"testing"
)

func sampleAt(f func(float64) float64, n int) []float64 {
	nodes := Nodes(n)
	out := make([]float64, n)
	for i, x := range nodes {
		out[i] = f(x)
	}
	return out
}

func TestFitEvaluateRoundTripPolynomial(t *testing.T) {
	// A degree-4 polynomial is reproduced exactly by a degree-4 fit.
	f := func(x float64) float64 { return 1 + 2*x - 3*x*x + 0.5*x*x*x + x*x*x*x }
	samples := sampleAt(f, 5)
	coeffs := Fit(samples, 4)

	for _, x := range []float64{-1, -0.5, 0, 0.3, 0.9, 1} {
		got := Evaluate(coeffs, x)
		want := f(x)
		if math.Abs(got-want) > 1e-9 {
			t.Fatalf("Evaluate(%v) = %v, want %v", x, got, want)
		}
	}
}

func TestFitExactAndLeastSquaresAgree(t *testing.T) {
	f := func(x float64) float64 { return math.Sin(3*x) + 0.2*x*x }
	degree := 6
	exactSamples := sampleAt(f, degree+1)
	exact := Fit(exactSamples, degree)

	oversampled := sampleAt(f, degree+1)
	ls := fitLeastSquares(oversampled, degree)

	for i := range exact {
		if math.Abs(exact[i]-ls[i]) > 1e-9 {
			t.Fatalf("coefficient %d: exact=%v least-squares=%v", i, exact[i], ls[i])
		}
	}
}

func TestResidualShrinksWithDegree(t *testing.T) {
	f := func(x float64) float64 { return math.Exp(x) }
	lowSamples := sampleAt(f, 4)
	lowCoeffs := Fit(lowSamples, 3)
	lowResidual := Residual(lowSamples, lowCoeffs)

	highSamples := sampleAt(f, 11)
	highCoeffs := Fit(highSamples, 10)
	highResidual := Residual(highSamples, highCoeffs)

	if highResidual >= lowResidual {
		t.Fatalf("expected higher-degree fit to have smaller residual: low=%v high=%v", lowResidual, highResidual)
	}
}

func TestEvaluateDerivativeMatchesNumerical(t *testing.T) {
	f := func(x float64) float64 { return x*x*x - 2*x }
	samples := sampleAt(f, 5)
	coeffs := Fit(samples, 4)

	x := 0.3
	h := 1e-6
	numerical := (Evaluate(coeffs, x+h) - Evaluate(coeffs, x-h)) / (2 * h)
	analytical := EvaluateDerivative(coeffs, x)
	if math.Abs(numerical-analytical) > 1e-4 {
		t.Fatalf("EvaluateDerivative = %v, numerical = %v", analytical, numerical)
	}
}

func TestFitAtArbitraryAbscissas(t *testing.T) {
	f := func(x float64) float64 { return 1 + 2*x - 3*x*x + 0.5*x*x*x }
	degree := 3
	n := 20
	xs := make([]float64, n)
	ys := make([]float64, n)
	for k := 0; k < n; k++ {
		x := -1 + 2*float64(k)/float64(n-1) // uniform grid, not canonical nodes
		xs[k] = x
		ys[k] = f(x)
	}
	coeffs := FitAt(xs, ys, degree)
	for _, x := range []float64{-1, -0.4, 0, 0.6, 1} {
		got := Evaluate(coeffs, x)
		want := f(x)
		if math.Abs(got-want) > 1e-8 {
			t.Fatalf("Evaluate(%v) = %v, want %v", x, got, want)
		}
	}
	if r := ResidualAt(xs, ys, coeffs); r > 1e-8 {
		t.Fatalf("ResidualAt = %v, want ~0", r)
	}
}

func TestEvaluateDegenerateCases(t *testing.T) {
	if got := Evaluate(nil, 0.5); got != 0 {
		t.Fatalf("Evaluate(nil) = %v, want 0", got)
	}
	if got := Evaluate([]float64{7}, 0.5); got != 7 {
		t.Fatalf("Evaluate(single) = %v, want 7", got)
	}
}
