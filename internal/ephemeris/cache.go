package ephemeris

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/star/eopsmooth/internal/metrics"
	"github.com/star/eopsmooth/internal/spline"
)

// SmoothingCache answers state queries from spline fits, building a new fit
// synchronously on a miss. Safe for concurrent use by multiple goroutines;
// concurrent misses are built one at a time.
type SmoothingCache struct {
	mu      sync.Mutex
	entries []*DataSet // insertion order
	knots   int

	config  Config
	engine  *spline.Engine
	sampler Sampler
	logger  *slog.Logger

	// Counters (lock-free).
	hits        atomic.Int64
	misses      atomic.Int64
	builds      atomic.Int64
	buildErrors atomic.Int64
	evictions   atomic.Int64
}

// NewSmoothingCache creates an empty cache. The configuration is checked on
// each build, so an unusable one surfaces as a query error.
func NewSmoothingCache(config Config, engine *spline.Engine, sampler Sampler, logger *slog.Logger) *SmoothingCache {
	logger.Info("smoothing cache initialized",
		"default_t0", config.DefaultT0,
		"default_tf", config.DefaultTf,
		"policy", config.Policy.String(),
		"step_days", config.Step,
		"regions", config.Regions,
		"max_entries", config.MaxEntries,
	)

	return &SmoothingCache{
		config:  config,
		engine:  engine,
		sampler: sampler,
		logger:  logger,
	}
}

// GetState returns the smoothed state of target relative to ref in frame at
// an MJD epoch, with its first and second time derivatives per day.
//
// ctx is passed to the sampler on a miss. A sampler error is returned
// unchanged and nothing is cached for the failed build. A non-finite epoch
// returns ErrInvalidEpoch.
func (c *SmoothingCache) GetState(ctx context.Context, ref, target, frame string, epoch float64) (state, d1, d2 []float64, err error) {
	if !finite(epoch) {
		return nil, nil, nil, fmt.Errorf("%g: %w", epoch, ErrInvalidEpoch)
	}
	key := Key{Reference: ref, Target: target, Frame: frame}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ds := c.lookup(key, epoch); ds != nil {
		c.hits.Add(1)
		metrics.IncSplineCacheHits()
		state, d1, d2 = c.engine.Evaluate(ds.Coeffs, epoch)
		return state, d1, d2, nil
	}

	c.misses.Add(1)
	metrics.IncSplineCacheMisses()

	ds, err := c.build(ctx, key, epoch)
	if err != nil {
		c.buildErrors.Add(1)
		metrics.IncSplineBuildErrors()
		c.logger.Warn("smoothing build failed",
			"key", key.String(),
			"epoch", epoch,
			"error", err,
		)
		return nil, nil, nil, err
	}
	c.insert(ds)

	state, d1, d2 = c.engine.Evaluate(ds.Coeffs, epoch)
	return state, d1, d2, nil
}

// lookup returns the first entry covering the query. Caller must hold mu.
func (c *SmoothingCache) lookup(key Key, epoch float64) *DataSet {
	for _, ds := range c.entries {
		if ds.Covers(key, epoch) {
			return ds
		}
	}
	return nil
}

// build samples and fits a new data set for the window around epoch.
func (c *SmoothingCache) build(ctx context.Context, key Key, epoch float64) (*DataSet, error) {
	start := time.Now()
	t0, tf := c.config.window(epoch)

	knots, h, err := c.config.knots(t0, tf)
	if err != nil {
		return nil, err
	}

	values := mat.NewDense(len(knots), StateSize, nil)
	for i, t := range knots {
		s, err := c.sampler.TranslateOrigin(ctx, t, key.Target, key.Reference, key.Frame)
		if err != nil {
			return nil, err
		}
		values.SetRow(i, s[:])
	}

	d0, dn, err := c.boundaryDerivatives(ctx, key, t0, tf, h)
	if err != nil {
		return nil, err
	}

	coeffs, err := c.engine.Build(knots, values, d0, dn)
	if err != nil {
		return nil, fmt.Errorf("building spline for %v: %w", key, err)
	}

	ds := &DataSet{
		ID:      uuid.New(),
		Key:     key,
		T0:      t0,
		Tf:      tf,
		Coeffs:  coeffs,
		BuiltAt: time.Now(),
	}

	elapsed := time.Since(start)
	c.builds.Add(1)
	metrics.ObserveSplineBuildDuration(elapsed)
	c.logger.Info("smoothing data set built",
		"dataset_id", ds.ID.String(),
		"key", key.String(),
		"t0", t0,
		"tf", tf,
		"knots", len(knots),
		"duration_ms", elapsed.Milliseconds(),
	)
	return ds, nil
}

// boundaryDerivatives estimates the first derivative of every component at t0
// and tf from five extra samples per edge, spaced by the policy step.
func (c *SmoothingCache) boundaryDerivatives(ctx context.Context, key Key, t0, tf, h float64) (d0, dn []float64, err error) {
	var left, right [5]float64
	var leftStates, rightStates [5]State
	for k := 0; k < 5; k++ {
		left[k] = t0 + float64(k)*h
		right[k] = tf - float64(4-k)*h

		if leftStates[k], err = c.sampler.TranslateOrigin(ctx, left[k], key.Target, key.Reference, key.Frame); err != nil {
			return nil, nil, err
		}
		if rightStates[k], err = c.sampler.TranslateOrigin(ctx, right[k], key.Target, key.Reference, key.Frame); err != nil {
			return nil, nil, err
		}
	}

	d0 = make([]float64, StateSize)
	dn = make([]float64, StateSize)
	var col [5]float64
	for j := 0; j < StateSize; j++ {
		for k := range col {
			col[k] = leftStates[k][j]
		}
		if d0[j], err = spline.FiniteDifferenceAtEdge(left[:], col[:], spline.EdgeLeft); err != nil {
			return nil, nil, fmt.Errorf("left boundary derivative: %w", err)
		}

		for k := range col {
			col[k] = rightStates[k][j]
		}
		if dn[j], err = spline.FiniteDifferenceAtEdge(right[:], col[:], spline.EdgeRight); err != nil {
			return nil, nil, fmt.Errorf("right boundary derivative: %w", err)
		}
	}
	return d0, dn, nil
}

// insert appends a data set, evicting the oldest entries past MaxEntries.
// Caller must hold mu.
func (c *SmoothingCache) insert(ds *DataSet) {
	c.entries = append(c.entries, ds)
	c.knots += len(ds.Coeffs.Knots)

	if limit := c.config.MaxEntries; limit > 0 && len(c.entries) > limit {
		drop := len(c.entries) - limit
		for _, old := range c.entries[:drop] {
			c.knots -= len(old.Coeffs.Knots)
			c.logger.Debug("smoothing data set evicted", "dataset_id", old.ID.String(), "key", old.Key.String())
		}
		// Copy so the evicted sets are not pinned by the backing array.
		c.entries = append([]*DataSet(nil), c.entries[drop:]...)
		c.evictions.Add(int64(drop))
		metrics.AddSplineEvictions(drop)
	}

	metrics.SetSplineCacheSize(len(c.entries), c.knots)
}

// Entries returns a snapshot of the cached data sets in lookup order.
func (c *SmoothingCache) Entries() []EntryInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]EntryInfo, len(c.entries))
	for i, ds := range c.entries {
		out[i] = ds.info()
	}
	return out
}

// Stats returns current cache statistics.
func (c *SmoothingCache) Stats() CacheStats {
	c.mu.Lock()
	entries, knots := len(c.entries), c.knots
	c.mu.Unlock()

	return CacheStats{
		Entries:     entries,
		Knots:       knots,
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Builds:      c.builds.Load(),
		BuildErrors: c.buildErrors.Load(),
		Evictions:   c.evictions.Load(),
	}
}

// CacheStats holds cache statistics for the stats endpoint.
type CacheStats struct {
	Entries     int   `json:"entries"`
	Knots       int   `json:"knots"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Builds      int64 `json:"builds"`
	BuildErrors int64 `json:"build_errors"`
	Evictions   int64 `json:"evictions"`
}
