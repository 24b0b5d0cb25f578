package spline

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Coefficients is a complete piecewise-cubic representation over K knots for
// M components. A, B, C and D are (K-1) x M: row i holds the constant, linear,
// quadratic and cubic terms of region [Knots[i], Knots[i+1]) for every
// component.
type Coefficients struct {
	Knots      []float64
	A, B, C, D *mat.Dense
}

// Regions returns the number of interpolation regions (knots - 1).
func (c *Coefficients) Regions() int {
	return len(c.Knots) - 1
}

// Components returns the number of state components.
func (c *Coefficients) Components() int {
	_, m := c.A.Dims()
	return m
}

// Span returns the first and last knot.
func (c *Coefficients) Span() (float64, float64) {
	return c.Knots[0], c.Knots[len(c.Knots)-1]
}

// Engine builds and evaluates clamped cubic splines. It holds no state; the
// zero value is ready to use and may be shared freely.
type Engine struct{}

// NewEngine returns a spline engine.
func NewEngine() *Engine {
	return &Engine{}
}

// BuildCoefficients computes the clamped cubic spline through (t[i], y[i])
// whose first derivative at t[0] is d0 and at t[n] is dn.
//
// The returned slices have one entry per region (len(t)-1). On region i the
// spline is a[i] + b[i]dx + c[i]dx^2 + d[i]dx^3 with dx = x - t[i].
func (e *Engine) BuildCoefficients(t, y []float64, d0, dn float64) (a, b, c, d []float64, err error) {
	if len(t) < 2 {
		return nil, nil, nil, nil, fmt.Errorf("spline needs at least 2 knots, got %d: %w", len(t), ErrDimension)
	}
	if len(t) != len(y) {
		return nil, nil, nil, nil, fmt.Errorf("spline has %d knot times but %d values: %w", len(t), len(y), ErrDimension)
	}

	n := len(t) - 1 // regions
	h := make([]float64, n)
	slope := make([]float64, n)
	for i := 0; i < n; i++ {
		h[i] = t[i+1] - t[i]
		if !(h[i] > 0) {
			return nil, nil, nil, nil, fmt.Errorf("knot %d at %g does not follow knot %d at %g: %w",
				i+1, t[i+1], i, t[i], ErrDegenerateKnots)
		}
		slope[i] = (y[i+1] - y[i]) / h[i]
	}

	// Normal equations for the quadratic terms, one row per knot.
	diag := make([]float64, n+1)
	v := make([]float64, n+1)
	diag[0] = 2 * h[0]
	v[0] = 3 * (slope[0] - d0)
	for i := 1; i < n; i++ {
		diag[i] = 2 * (h[i-1] + h[i])
		v[i] = 3 * (slope[i] - slope[i-1])
	}
	diag[n] = 2 * h[n-1]
	v[n] = 3 * (dn - slope[n-1])

	cs, err := Solve(h, diag, h, v)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	a = make([]float64, n)
	b = make([]float64, n)
	c = make([]float64, n)
	d = make([]float64, n)
	for i := 0; i < n; i++ {
		a[i] = y[i]
		b[i] = slope[i] - h[i]*(2*cs[i]+cs[i+1])/3
		c[i] = cs[i]
		d[i] = (cs[i+1] - cs[i]) / (3 * h[i])
	}
	return a, b, c, d, nil
}

// Build computes a vector-valued clamped spline. values is knots x components,
// d0 and dn hold the boundary first derivative of each component. Nothing is
// returned unless every component builds.
func (e *Engine) Build(t []float64, values *mat.Dense, d0, dn []float64) (*Coefficients, error) {
	rows, m := values.Dims()
	if rows != len(t) {
		return nil, fmt.Errorf("spline has %d knot times but %d value rows: %w", len(t), rows, ErrDimension)
	}
	if len(d0) != m || len(dn) != m {
		return nil, fmt.Errorf("spline has %d components but %d/%d boundary derivatives: %w",
			m, len(d0), len(dn), ErrDimension)
	}
	if len(t) < 2 {
		return nil, fmt.Errorf("spline needs at least 2 knots, got %d: %w", len(t), ErrDimension)
	}

	n := len(t) - 1
	coeffs := &Coefficients{
		Knots: append([]float64(nil), t...),
		A:     mat.NewDense(n, m, nil),
		B:     mat.NewDense(n, m, nil),
		C:     mat.NewDense(n, m, nil),
		D:     mat.NewDense(n, m, nil),
	}

	col := make([]float64, rows)
	for j := 0; j < m; j++ {
		mat.Col(col, j, values)
		a, b, c, d, err := e.BuildCoefficients(t, col, d0[j], dn[j])
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", j, err)
		}
		coeffs.A.SetCol(j, a)
		coeffs.B.SetCol(j, b)
		coeffs.C.SetCol(j, c)
		coeffs.D.SetCol(j, d)
	}
	return coeffs, nil
}

// Region returns the index of the region used to evaluate x. Queries before the
// first knot use region 0 and queries at or past the last knot use the final
// region, so both ends extrapolate with the nearest cubic. A query exactly on
// an interior knot selects the region starting at that knot.
func (c *Coefficients) Region(x float64) int {
	n := c.Regions()
	// First knot strictly greater than x, minus one.
	idx := sort.Search(len(c.Knots), func(i int) bool { return c.Knots[i] > x }) - 1
	if idx < 0 {
		return 0
	}
	if idx > n-1 {
		return n - 1
	}
	return idx
}

// Evaluate returns the value, first derivative and second derivative of every
// component at x. Out-of-range queries extrapolate; callers that need strict
// bounds must check Span themselves.
func (e *Engine) Evaluate(c *Coefficients, x float64) (y, dy, d2y []float64) {
	idx := c.Region(x)
	dx := x - c.Knots[idx]

	a := c.A.RawRowView(idx)
	b := c.B.RawRowView(idx)
	cc := c.C.RawRowView(idx)
	d := c.D.RawRowView(idx)

	m := len(a)
	y = make([]float64, m)
	dy = make([]float64, m)
	d2y = make([]float64, m)
	for j := 0; j < m; j++ {
		y[j] = a[j] + dx*(b[j]+dx*(cc[j]+dx*d[j]))
		dy[j] = b[j] + dx*(2*cc[j]+3*dx*d[j])
		d2y[j] = 2 * (cc[j] + 3*dx*d[j])
	}
	return y, dy, d2y
}
