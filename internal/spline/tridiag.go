// Package spline builds and evaluates clamped cubic splines over sampled,
// possibly vector-valued, time series.
//
// The package is stateless. Coefficients are held in gonum dense matrices with
// one row per interpolation region and one column per state component, so a
// single row view evaluates every component at once.
package spline

import (
	"errors"
	"fmt"
)

// ErrDimension is returned when slice or matrix lengths do not agree.
var ErrDimension = errors.New("dimension mismatch")

// ErrDegenerateKnots is returned when knot times are not strictly increasing.
var ErrDegenerateKnots = errors.New("knot times must be strictly increasing")

// Solve solves the tridiagonal system A x = rhs with the Thomas algorithm.
//
// diag holds the n diagonal entries, sub the n-1 entries below the diagonal
// (sub[i] couples row i+1 to column i) and super the n-1 entries above it.
// There is no pivoting: the system must be diagonally dominant. A zero pivot
// is not detected and shows up as Inf or NaN in the result.
func Solve(sub, diag, super, rhs []float64) ([]float64, error) {
	n := len(diag)
	if n == 0 {
		return nil, fmt.Errorf("tridiagonal solve: empty system: %w", ErrDimension)
	}
	if len(rhs) != n || len(sub) != n-1 || len(super) != n-1 {
		return nil, fmt.Errorf("tridiagonal solve: len(diag)=%d len(rhs)=%d len(sub)=%d len(super)=%d: %w",
			n, len(rhs), len(sub), len(super), ErrDimension)
	}

	w := make([]float64, n) // normalized super-diagonal multipliers
	g := make([]float64, n) // transformed right-hand side

	w[0] = 0
	if n > 1 {
		w[0] = super[0] / diag[0]
	}
	g[0] = rhs[0] / diag[0]

	for i := 1; i < n; i++ {
		denom := diag[i] - sub[i-1]*w[i-1]
		if i < n-1 {
			w[i] = super[i] / denom
		}
		g[i] = (rhs[i] - sub[i-1]*g[i-1]) / denom
	}

	p := make([]float64, n)
	p[n-1] = g[n-1]
	for i := n - 1; i > 0; i-- {
		p[i-1] = g[i-1] - w[i-1]*p[i]
	}
	return p, nil
}
