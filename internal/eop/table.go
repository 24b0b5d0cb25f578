package eop

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/star/eopsmooth/internal/metrics"
)

const (
	// DefaultMaxRows bounds the table size; daily rows from 1962 to well past
	// 2100 fit.
	DefaultMaxRows = 50000

	// DefaultLeapTolerance is how close (seconds) a UT1-UTC jump must be to a
	// whole number of seconds to be treated as a leap second.
	DefaultLeapTolerance = 0.01
)

// TableOptions configures a Table. Zero fields take defaults.
type TableOptions struct {
	MaxRows       int
	LeapTolerance float64
}

// Table is a load-once, query-many EOP interpolation table.
//
// Queries may run concurrently with each other and with a single goroutine
// calling Initialize; they see an uninitialized table until it returns. The
// arrays are read-only once published and the remembered bracket index is
// atomic.
type Table struct {
	loader Loader
	opts   TableOptions
	logger *slog.Logger

	mjd, ut1, x, y, lod []float64

	initialized atomic.Bool
	hint        atomic.Int64 // last bracket index
}

// NewTable creates an uninitialized table backed by loader.
func NewTable(loader Loader, opts TableOptions, logger *slog.Logger) *Table {
	if opts.MaxRows <= 0 {
		opts.MaxRows = DefaultMaxRows
	}
	if opts.LeapTolerance <= 0 {
		opts.LeapTolerance = DefaultLeapTolerance
	}
	return &Table{loader: loader, opts: opts, logger: logger}
}

// Initialize loads the backing rows. Errors leave the table uninitialized.
// Calling Initialize on an initialized table is a no-op.
func (t *Table) Initialize() error {
	if t.initialized.Load() {
		return nil
	}

	start := time.Now()
	records, err := t.loader.Load()
	if err != nil {
		return fmt.Errorf("loading EOP table: %w", err)
	}
	if len(records) > t.opts.MaxRows {
		return fmt.Errorf("%d rows, limit %d: %w", len(records), t.opts.MaxRows, ErrTableFull)
	}

	n := len(records)
	mjd := make([]float64, n)
	ut1 := make([]float64, n)
	x := make([]float64, n)
	y := make([]float64, n)
	lod := make([]float64, n)
	for i, r := range records {
		if i > 0 && !(r.MJD > records[i-1].MJD) {
			return fmt.Errorf("row %d: MJD %.4f after %.4f: %w", i, r.MJD, records[i-1].MJD, ErrNotMonotonic)
		}
		mjd[i], ut1[i], x[i], y[i], lod[i] = r.MJD, r.UT1UTC, r.X, r.Y, r.LOD
	}

	t.mjd, t.ut1, t.x, t.y, t.lod = mjd, ut1, x, y, lod
	t.hint.Store(0)
	t.initialized.Store(true)
	metrics.SetEOPTableRows(n)

	first, last := t.Span()
	t.logger.Info("EOP table initialized",
		"rows", n,
		"first_mjd", first,
		"last_mjd", last,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// IsInitialized reports whether Initialize has succeeded.
func (t *Table) IsInitialized() bool {
	return t.initialized.Load()
}

// Len returns the number of rows, 0 before Initialize.
func (t *Table) Len() int {
	if !t.initialized.Load() {
		return 0
	}
	return len(t.mjd)
}

// Span returns the first and last MJD, or zeros for an empty or
// uninitialized table.
func (t *Table) Span() (float64, float64) {
	if !t.initialized.Load() || len(t.mjd) == 0 {
		return 0, 0
	}
	return t.mjd[0], t.mjd[len(t.mjd)-1]
}

// GetUt1UtcOffset returns UT1-UTC in seconds at a UTC MJD.
//
// Outside the table the nearest row's value is returned. Inside, the two
// bracketing rows are interpolated linearly, except that a whole-second jump
// between them is a leap second: the continuous part of the change is
// interpolated up to the later row and the jump itself applies from the later
// row's epoch on. An uninitialized or empty table returns 0.
func (t *Table) GetUt1UtcOffset(mjd float64) float64 {
	if !t.initialized.Load() || len(t.mjd) == 0 {
		return 0
	}

	i, path, edge := t.locate(mjd)
	metrics.IncEOPLookup("ut1", path)
	if edge {
		return t.ut1[i]
	}

	f := (mjd - t.mjd[i]) / (t.mjd[i+1] - t.mjd[i])
	jump := t.ut1[i+1] - t.ut1[i]
	if leap := math.Round(jump); leap != 0 && math.Abs(jump-leap) <= t.opts.LeapTolerance {
		metrics.IncEOPLeapSecondBracket()
		return t.ut1[i] + f*(jump-leap)
	}
	return t.ut1[i] + f*jump
}

// GetPolarMotionAndLod returns polar motion x, y (arcsec) and LOD (seconds)
// at a UTC MJD, linearly interpolated with flat extrapolation. ok is false
// when the table is uninitialized or empty.
func (t *Table) GetPolarMotionAndLod(mjd float64) (x, y, lod float64, ok bool) {
	if !t.initialized.Load() || len(t.mjd) == 0 {
		return 0, 0, 0, false
	}

	i, path, edge := t.locate(mjd)
	metrics.IncEOPLookup("polar", path)
	if edge {
		return t.x[i], t.y[i], t.lod[i], true
	}

	f := (mjd - t.mjd[i]) / (t.mjd[i+1] - t.mjd[i])
	x = t.x[i] + f*(t.x[i+1]-t.x[i])
	y = t.y[i] + f*(t.y[i+1]-t.y[i])
	lod = t.lod[i] + f*(t.lod[i+1]-t.lod[i])
	return x, y, lod, true
}

// locate returns either an edge row to extrapolate from (edge=true) or the
// bracket index i with mjd[i] <= q < mjd[i+1]. path names how it was found.
// NaN extrapolates from the first row.
func (t *Table) locate(q float64) (i int, path string, edge bool) {
	n := len(t.mjd)
	if !(q > t.mjd[0]) {
		return 0, "before", true
	}
	if q >= t.mjd[n-1] {
		return n - 1, "after", true
	}

	// Sequential queries usually stay in the same bracket or move to the next.
	h := int(t.hint.Load())
	if h >= 0 && h < n-1 {
		if t.mjd[h] <= q && q < t.mjd[h+1] {
			return h, "hint", false
		}
		if h+2 < n && t.mjd[h+1] <= q && q < t.mjd[h+2] {
			t.hint.Store(int64(h + 1))
			return h + 1, "next", false
		}
	}

	i = sort.Search(n, func(k int) bool { return t.mjd[k] > q }) - 1
	t.hint.Store(int64(i))
	return i, "search", false
}
