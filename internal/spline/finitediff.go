package spline

import "fmt"

// Edge selects which end of a table a one-sided difference is taken at.
type Edge int

const (
	EdgeLeft Edge = iota
	EdgeRight
)

// String implements fmt.Stringer.
func (e Edge) String() string {
	switch e {
	case EdgeLeft:
		return "left"
	case EdgeRight:
		return "right"
	default:
		return fmt.Sprintf("Edge(%d)", int(e))
	}
}

// ParseEdge converts "left" or "right" to an Edge.
func ParseEdge(s string) (Edge, error) {
	switch s {
	case "left":
		return EdgeLeft, nil
	case "right":
		return EdgeRight, nil
	default:
		return 0, fmt.Errorf("unknown edge %q (want left or right)", s)
	}
}

// 4th-order one-sided stencils over 5 uniformly spaced points. The right
// stencil is the left one reversed in time and negated.
var (
	leftStencil  = [5]float64{-25.0 / 12.0, 4, -3, 4.0 / 3.0, -1.0 / 4.0}
	rightStencil = [5]float64{1.0 / 4.0, -4.0 / 3.0, 3, -4, 25.0 / 12.0}
)

// FiniteDifferenceAtEdge estimates the first derivative at the first (left)
// or last (right) of exactly five uniformly spaced samples. The step is taken
// from times[1]-times[0]. The stencil is exact for polynomials up to degree 4.
func FiniteDifferenceAtEdge(times, values []float64, edge Edge) (float64, error) {
	if len(times) != 5 || len(values) != 5 {
		return 0, fmt.Errorf("edge difference needs 5 points, got %d times and %d values: %w",
			len(times), len(values), ErrDimension)
	}
	h := times[1] - times[0]
	if !(h > 0) {
		return 0, fmt.Errorf("edge difference step %g: %w", h, ErrDegenerateKnots)
	}

	var stencil [5]float64
	switch edge {
	case EdgeLeft:
		stencil = leftStencil
	case EdgeRight:
		stencil = rightStencil
	default:
		return 0, fmt.Errorf("edge difference: unknown %v", edge)
	}

	var sum float64
	for i, w := range stencil {
		sum += w * values[i]
	}
	return sum / h, nil
}
