package spline

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// randomDominantSystem returns a random strictly diagonally dominant
// tridiagonal system of size n.
func randomDominantSystem(rng *rand.Rand, n int) (sub, diag, super []float64) {
	sub = make([]float64, n-1)
	super = make([]float64, n-1)
	diag = make([]float64, n)
	for i := 0; i < n-1; i++ {
		sub[i] = rng.Float64()*2 - 1
		super[i] = rng.Float64()*2 - 1
	}
	for i := 0; i < n; i++ {
		off := 0.0
		if i > 0 {
			off += math.Abs(sub[i-1])
		}
		if i < n-1 {
			off += math.Abs(super[i])
		}
		diag[i] = off + 0.5 + rng.Float64()
		if rng.Intn(2) == 0 {
			diag[i] = -diag[i]
		}
	}
	return sub, diag, super
}

func denseTridiag(sub, diag, super []float64) *mat.Dense {
	n := len(diag)
	A := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		A.Set(i, i, diag[i])
		if i < n-1 {
			A.Set(i, i+1, super[i])
			A.Set(i+1, i, sub[i])
		}
	}
	return A
}

// TestSolveResidual verifies A x = d for random diagonally dominant systems.
func TestSolveResidual(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for _, n := range []int{1, 2, 3, 10, 57} {
		sub, diag, super := randomDominantSystem(rng, n)
		rhs := make([]float64, n)
		for i := range rhs {
			rhs[i] = rng.Float64()*20 - 10
		}

		x, err := Solve(sub, diag, super, rhs)
		if err != nil {
			t.Fatalf("n=%d: Solve failed: %v", n, err)
		}

		var got mat.VecDense
		got.MulVec(denseTridiag(sub, diag, super), mat.NewVecDense(n, x))
		for i := 0; i < n; i++ {
			if diff := math.Abs(got.AtVec(i) - rhs[i]); diff > 1e-10 {
				t.Errorf("n=%d row %d: residual %.3e", n, i, diff)
			}
		}
	}
}

// TestSolveRoundTrip builds d = A x for a known x and checks x is recovered.
func TestSolveRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const n = 25

	sub, diag, super := randomDominantSystem(rng, n)
	want := make([]float64, n)
	for i := range want {
		want[i] = rng.NormFloat64()
	}

	var d mat.VecDense
	d.MulVec(denseTridiag(sub, diag, super), mat.NewVecDense(n, want))

	got, err := Solve(sub, diag, super, d.RawVector().Data)
	if err != nil {
		t.Fatalf("Solve failed: %v", err)
	}
	for i := range want {
		if diff := math.Abs(got[i] - want[i]); diff > 1e-10 {
			t.Errorf("x[%d] = %.12f, want %.12f", i, got[i], want[i])
		}
	}
}

func TestSolveDimensionErrors(t *testing.T) {
	tests := []struct {
		name                  string
		sub, diag, super, rhs []float64
	}{
		{"empty", nil, nil, nil, nil},
		{"short rhs", []float64{1}, []float64{4, 4}, []float64{1}, []float64{1}},
		{"long sub", []float64{1, 1}, []float64{4, 4}, []float64{1}, []float64{1, 1}},
		{"short super", []float64{1}, []float64{4, 4}, nil, []float64{1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Solve(tt.sub, tt.diag, tt.super, tt.rhs)
			if !errors.Is(err, ErrDimension) {
				t.Errorf("expected ErrDimension, got %v", err)
			}
		})
	}
}

// TestSolveZeroPivot documents that a singular leading pivot is not trapped.
func TestSolveZeroPivot(t *testing.T) {
	x, err := Solve([]float64{1}, []float64{0, 1}, []float64{1}, []float64{1, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !math.IsNaN(x[0]) && !math.IsInf(x[0], 0) {
		t.Errorf("expected NaN/Inf from zero pivot, got %v", x)
	}
}
