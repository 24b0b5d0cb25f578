// Package ephemeris caches clamped cubic spline fits of sampled body states so
// that position, velocity and their time derivatives can be evaluated at any
// epoch without calling the underlying ephemeris every time.
//
// A SmoothingCache is append-only. A query is answered by the first data set,
// in insertion order, whose key matches and whose window covers the epoch. On a
// miss a new data set is built synchronously from the configured Sampler.
package ephemeris

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	// StateSize is the number of components sampled per epoch: position
	// followed by velocity.
	StateSize = 6

	// YearMargin (days) pads a construction window that is shifted to cover
	// an epoch outside the default window.
	YearMargin = 365.25

	// minRegion is the shortest final region kept by FixedStep; anything
	// shorter is merged into the region before it.
	minRegion = 1e-9

	// maxKnots bounds the knot vector of a single data set.
	maxKnots = 1 << 22
)

var (
	// ErrUnsupportedStepPolicy is returned when the configured policy cannot
	// produce a knot vector.
	ErrUnsupportedStepPolicy = errors.New("unsupported step policy")
	// ErrInvalidConfig is returned for a window, step or region count that
	// cannot produce a spline.
	ErrInvalidConfig = errors.New("invalid smoothing configuration")
	// ErrInvalidEpoch is returned by GetState for a NaN or infinite epoch.
	ErrInvalidEpoch = errors.New("epoch must be finite")
)

// StepPolicy selects how knots are placed across a construction window.
type StepPolicy int

const (
	// FixedStep places knots every Config.Step days.
	FixedStep StepPolicy = iota
	// FixedRegions splits the window into Config.Regions equal regions.
	FixedRegions
	// RegionsPerRevolution would size regions by the target's orbital period.
	// It is recognized but not supported.
	RegionsPerRevolution
)

// String implements fmt.Stringer.
func (p StepPolicy) String() string {
	switch p {
	case FixedStep:
		return "step"
	case FixedRegions:
		return "regions"
	case RegionsPerRevolution:
		return "per_revolution"
	default:
		return fmt.Sprintf("StepPolicy(%d)", int(p))
	}
}

// ParseStepPolicy converts a configuration string to a StepPolicy.
func ParseStepPolicy(s string) (StepPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "step", "fixed_step":
		return FixedStep, nil
	case "regions", "fixed_regions":
		return FixedRegions, nil
	case "per_revolution", "regions_per_revolution":
		return RegionsPerRevolution, nil
	default:
		return FixedStep, fmt.Errorf("%q: %w", s, ErrUnsupportedStepPolicy)
	}
}

// Config holds smoothing cache configuration. Epochs and the step are in MJD
// days.
type Config struct {
	DefaultT0 float64
	DefaultTf float64

	Policy  StepPolicy
	Step    float64 // FixedStep spacing, days
	Regions int     // FixedRegions count

	// MaxEntries bounds the number of data sets held; the earliest inserted is
	// evicted first. Zero means unbounded.
	MaxEntries int
}

// DefaultConfig returns a one-year window starting 2024-01-01 with
// quarter-day knots.
func DefaultConfig() Config {
	return Config{
		DefaultT0: 60310,
		DefaultTf: 60310 + YearMargin,
		Policy:    FixedStep,
		Step:      0.25,
	}
}

// Validate reports whether the configuration can build data sets.
func (c Config) Validate() error {
	if !finite(c.DefaultT0) || !finite(c.DefaultTf) || !(c.DefaultTf-c.DefaultT0 > minRegion) {
		return fmt.Errorf("default window [%g, %g]: %w", c.DefaultT0, c.DefaultTf, ErrInvalidConfig)
	}
	if c.MaxEntries < 0 {
		return fmt.Errorf("max entries %d: %w", c.MaxEntries, ErrInvalidConfig)
	}

	switch c.Policy {
	case FixedStep:
		if !finite(c.Step) || !(c.Step > 0) {
			return fmt.Errorf("step %g: %w", c.Step, ErrInvalidConfig)
		}
	case FixedRegions:
		if c.Regions <= 0 {
			return fmt.Errorf("regions %d: %w", c.Regions, ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%v: %w", c.Policy, ErrUnsupportedStepPolicy)
	}
	return nil
}

// window returns the construction window for an epoch. The default window is
// used when it covers the epoch; otherwise a window of at least two years is
// placed with a one-year margin on the epoch's side.
func (c Config) window(epoch float64) (t0, tf float64) {
	t0, tf = c.DefaultT0, c.DefaultTf
	width := math.Max(tf-t0, 2*YearMargin)

	switch {
	case epoch < t0:
		t0 = epoch - YearMargin
		tf = t0 + width
	case epoch > tf:
		tf = epoch + YearMargin
		t0 = tf - width
	}
	return t0, tf
}

// knots returns the knot vector for [t0, tf] and the policy step h used for
// the boundary difference samples.
func (c Config) knots(t0, tf float64) ([]float64, float64, error) {
	if err := c.Validate(); err != nil {
		return nil, 0, err
	}
	width := tf - t0
	if !finite(width) || !(width > minRegion) {
		return nil, 0, fmt.Errorf("window [%g, %g]: %w", t0, tf, ErrInvalidConfig)
	}

	switch c.Policy {
	case FixedStep:
		h := c.Step
		if width/h > maxKnots {
			return nil, 0, fmt.Errorf("window [%g, %g] at step %g needs more than %d knots: %w", t0, tf, h, maxKnots, ErrInvalidConfig)
		}
		n := int(math.Floor(width / h))
		knots := make([]float64, 0, n+2)
		for i := 0; i <= n; i++ {
			knots = append(knots, t0+float64(i)*h)
		}
		last := len(knots) - 1
		switch {
		case tf-knots[last] > minRegion:
			knots = append(knots, tf)
		case last > 0:
			knots[last] = tf
		default:
			return nil, 0, fmt.Errorf("window [%g, %g] too short: %w", t0, tf, ErrInvalidConfig)
		}
		return knots, h, nil

	default: // FixedRegions
		if c.Regions > maxKnots {
			return nil, 0, fmt.Errorf("regions %d exceeds %d: %w", c.Regions, maxKnots, ErrInvalidConfig)
		}
		h := width / float64(c.Regions)
		knots := make([]float64, c.Regions+1)
		for i := range knots {
			knots[i] = t0 + float64(i)*h
		}
		knots[c.Regions] = tf
		return knots, h, nil
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
