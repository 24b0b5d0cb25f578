package ephemeris

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"

	"github.com/star/eopsmooth/internal/spline"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

const epoch0 = 60310.0

// poly is a per-component cubic in years from epoch0. Clamped splines with
// 4th-order edge differences reproduce it exactly.
var poly = [StateSize][4]float64{
	{7000, 120, -35, 4},
	{-3000, 15, 60, -2},
	{1200, -80, 9, 1.5},
	{7.5, 0.2, -0.03, 0.004},
	{-1.2, 0.05, 0.01, -0.002},
	{0.3, -0.01, 0.002, 0.0007},
}

func polyState(t float64) (state, d1, d2 State) {
	u := (t - epoch0) / YearMargin
	for j, c := range poly {
		state[j] = c[0] + u*(c[1]+u*(c[2]+u*c[3]))
		d1[j] = (c[1] + u*(2*c[2]+3*u*c[3])) / YearMargin
		d2[j] = (2*c[2] + 6*u*c[3]) / (YearMargin * YearMargin)
	}
	return state, d1, d2
}

// countingSampler serves polyState and records every sampled epoch.
type countingSampler struct {
	mu     sync.Mutex
	epochs []float64
}

func (s *countingSampler) TranslateOrigin(ctx context.Context, epoch float64, target, reference, frame string) (State, error) {
	s.mu.Lock()
	s.epochs = append(s.epochs, epoch)
	s.mu.Unlock()
	st, _, _ := polyState(epoch)
	return st, nil
}

func (s *countingSampler) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.epochs)
}

func testConfig() Config {
	return Config{
		DefaultT0: epoch0,
		DefaultTf: epoch0 + YearMargin,
		Policy:    FixedStep,
		Step:      1,
	}
}

func newTestCache(cfg Config, s Sampler) *SmoothingCache {
	return NewSmoothingCache(cfg, spline.NewEngine(), s, testLogger)
}

func relNear(got, want, rel, abs float64) bool {
	return math.Abs(got-want) <= abs+rel*math.Abs(want)
}

func TestGetStateReproducesCubic(t *testing.T) {
	c := newTestCache(testConfig(), &countingSampler{})

	for _, epoch := range []float64{epoch0, epoch0 + 0.37, epoch0 + 100.5, epoch0 + 200, epoch0 + 365.1, epoch0 + YearMargin} {
		state, d1, d2, err := c.GetState(context.Background(), "Earth", "Probe", "ICRF", epoch)
		if err != nil {
			t.Fatalf("GetState(%v): %v", epoch, err)
		}
		ws, wd1, wd2 := polyState(epoch)
		for j := 0; j < StateSize; j++ {
			if !relNear(state[j], ws[j], 1e-10, 1e-9) {
				t.Errorf("epoch %v state[%d] = %v, want %v", epoch, j, state[j], ws[j])
			}
			if !relNear(d1[j], wd1[j], 1e-7, 1e-11) {
				t.Errorf("epoch %v d1[%d] = %v, want %v", epoch, j, d1[j], wd1[j])
			}
			if !relNear(d2[j], wd2[j], 1e-5, 1e-11) {
				t.Errorf("epoch %v d2[%d] = %v, want %v", epoch, j, d2[j], wd2[j])
			}
		}
	}

	if st := c.Stats(); st.Entries != 1 || st.Builds != 1 {
		t.Errorf("Stats = %+v, want one entry built once", st)
	}
}

func TestGetStateIdempotent(t *testing.T) {
	sampler := &countingSampler{}
	c := newTestCache(testConfig(), sampler)
	ctx := context.Background()

	s1, a1, b1, err := c.GetState(ctx, "Earth", "Probe", "ICRF", epoch0+42.25)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	calls := sampler.calls()

	for i := 0; i < 5; i++ {
		s2, a2, b2, err := c.GetState(ctx, "Earth", "Probe", "ICRF", epoch0+42.25)
		if err != nil {
			t.Fatalf("GetState: %v", err)
		}
		for j := range s1 {
			if s1[j] != s2[j] || a1[j] != a2[j] || b1[j] != b2[j] {
				t.Fatalf("query %d component %d differs", i, j)
			}
		}
	}

	if sampler.calls() != calls {
		t.Errorf("sampler called %d more times on hits", sampler.calls()-calls)
	}
	st := c.Stats()
	if st.Entries != 1 || st.Hits != 5 || st.Misses != 1 {
		t.Errorf("Stats = %+v, want 1 entry, 5 hits, 1 miss", st)
	}
}

func TestGetStateWindowShift(t *testing.T) {
	tests := []struct {
		name   string
		epoch  float64
		t0, tf float64
	}{
		{"inside", epoch0 + 10, epoch0, epoch0 + YearMargin},
		{"at default end", epoch0 + YearMargin, epoch0, epoch0 + YearMargin},
		{"below", 60000, 60000 - YearMargin, 60000 + YearMargin},
		{"above", 61000, 61000 - YearMargin, 61000 + YearMargin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCache(testConfig(), &countingSampler{})
			if _, _, _, err := c.GetState(context.Background(), "Earth", "Probe", "ICRF", tt.epoch); err != nil {
				t.Fatalf("GetState: %v", err)
			}
			entries := c.Entries()
			if len(entries) != 1 {
				t.Fatalf("got %d entries, want 1", len(entries))
			}
			e := entries[0]
			if !relNear(e.T0, tt.t0, 0, 1e-9) || !relNear(e.Tf, tt.tf, 0, 1e-9) {
				t.Errorf("window = [%v, %v], want [%v, %v]", e.T0, e.Tf, tt.t0, tt.tf)
			}
			if e.ID == "" || e.Knots < 2 {
				t.Errorf("entry = %+v", e)
			}
		})
	}
}

func TestWindowShiftKeepsWiderDefault(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultTf = epoch0 + 1000

	got := func(epoch float64) (float64, float64) { return cfg.window(epoch) }

	if t0, tf := got(epoch0 - 1); t0 != epoch0-1-YearMargin || tf != t0+1000 {
		t.Errorf("below: [%v, %v]", t0, tf)
	}
	if t0, tf := got(epoch0 + 1001); tf != epoch0+1001+YearMargin || t0 != tf-1000 {
		t.Errorf("above: [%v, %v]", t0, tf)
	}
}

func TestGetStateFirstMatchWins(t *testing.T) {
	sampler := &countingSampler{}
	c := newTestCache(testConfig(), sampler)
	ctx := context.Background()

	// Shifted window [59634.75, 60365.25] overlaps the default one.
	if _, _, _, err := c.GetState(ctx, "Earth", "Probe", "ICRF", 60000); err != nil {
		t.Fatalf("GetState: %v", err)
	}
	calls := sampler.calls()

	// Covered by the shifted entry, so no default-window build happens.
	if _, _, _, err := c.GetState(ctx, "Earth", "Probe", "ICRF", epoch0+20); err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if sampler.calls() != calls || len(c.Entries()) != 1 {
		t.Fatalf("query inside an existing entry triggered a build")
	}

	// Same window, different key.
	for _, key := range []Key{
		{"Earth", "Probe", "PEF"},
		{"Moon", "Probe", "ICRF"},
		{"Earth", "Other", "ICRF"},
	} {
		if _, _, _, err := c.GetState(ctx, key.Reference, key.Target, key.Frame, epoch0+20); err != nil {
			t.Fatalf("GetState(%v): %v", key, err)
		}
	}
	if n := len(c.Entries()); n != 4 {
		t.Errorf("got %d entries, want 4", n)
	}
}

func TestGetStateSamplerErrorUnwrapped(t *testing.T) {
	errBoom := errors.New("ephemeris unavailable")
	calls := 0
	sampler := SamplerFunc(func(ctx context.Context, epoch float64, target, reference, frame string) (State, error) {
		calls++
		if epoch > epoch0+100 {
			return State{}, errBoom
		}
		return State{}, nil
	})
	c := newTestCache(testConfig(), sampler)

	for attempt := 1; attempt <= 2; attempt++ {
		state, d1, d2, err := c.GetState(context.Background(), "Earth", "Probe", "ICRF", epoch0+1)
		if err != errBoom {
			t.Fatalf("attempt %d: err = %v, want the sampler error itself", attempt, err)
		}
		if state != nil || d1 != nil || d2 != nil {
			t.Errorf("attempt %d: non-nil results on error", attempt)
		}
		if n := len(c.Entries()); n != 0 {
			t.Fatalf("attempt %d: %d entries after failed build", attempt, n)
		}
	}

	// The failure is not remembered, so the second query sampled again.
	if calls < 2*102 {
		t.Errorf("sampler called %d times, want a full retry", calls)
	}
	if st := c.Stats(); st.BuildErrors != 2 || st.Builds != 0 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestGetStateBoundarySamples(t *testing.T) {
	cfg := testConfig()
	cfg.Policy = FixedRegions
	cfg.Regions = 10
	sampler := &countingSampler{}
	c := newTestCache(cfg, sampler)

	if _, _, _, err := c.GetState(context.Background(), "Earth", "Probe", "ICRF", epoch0+1); err != nil {
		t.Fatalf("GetState: %v", err)
	}

	// 11 knots plus 5 samples per edge.
	if got := sampler.calls(); got != 11+10 {
		t.Fatalf("sampler called %d times, want 21", got)
	}

	h := YearMargin / 10
	seen := map[float64]int{}
	for _, e := range sampler.epochs {
		seen[math.Round(e*1e6)/1e6]++
	}
	for k := 0; k < 5; k++ {
		left := math.Round((epoch0+float64(k)*h)*1e6) / 1e6
		right := math.Round((epoch0+YearMargin-float64(4-k)*h)*1e6) / 1e6
		if seen[left] == 0 {
			t.Errorf("left edge sample %d at %v not requested", k, left)
		}
		if seen[right] == 0 {
			t.Errorf("right edge sample %d at %v not requested", k, right)
		}
	}
}

func TestGetStateForwardsContext(t *testing.T) {
	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "req-1")

	sampler := SamplerFunc(func(ctx context.Context, epoch float64, target, reference, frame string) (State, error) {
		if ctx.Value(ctxKey{}) != "req-1" {
			return State{}, errors.New("context not forwarded")
		}
		if target != "Probe" || reference != "Earth" || frame != "ICRF" {
			return State{}, errors.New("arguments out of order")
		}
		return State{}, nil
	})

	if _, _, _, err := newTestCache(testConfig(), sampler).GetState(ctx, "Earth", "Probe", "ICRF", epoch0); err != nil {
		t.Fatal(err)
	}
}

func TestGetStateConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"per revolution", func(c *Config) { c.Policy = RegionsPerRevolution }, ErrUnsupportedStepPolicy},
		{"unknown policy", func(c *Config) { c.Policy = StepPolicy(9) }, ErrUnsupportedStepPolicy},
		{"zero step", func(c *Config) { c.Step = 0 }, ErrInvalidConfig},
		{"negative step", func(c *Config) { c.Step = -1 }, ErrInvalidConfig},
		{"zero regions", func(c *Config) { c.Policy = FixedRegions; c.Regions = 0 }, ErrInvalidConfig},
		{"inverted window", func(c *Config) { c.DefaultTf = c.DefaultT0 - 1 }, ErrInvalidConfig},
		{"nan window", func(c *Config) { c.DefaultT0 = math.NaN() }, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			sampler := &countingSampler{}

			_, _, _, err := newTestCache(cfg, sampler).GetState(context.Background(), "Earth", "Probe", "ICRF", epoch0)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if sampler.calls() != 0 {
				t.Errorf("sampler called %d times for unusable config", sampler.calls())
			}
		})
	}
}

func TestGetStateRejectsNonFiniteEpoch(t *testing.T) {
	sampler := &countingSampler{}
	cache := newTestCache(testConfig(), sampler)

	for _, epoch := range []float64{math.Inf(1), math.Inf(-1), math.NaN()} {
		t.Run(fmt.Sprint(epoch), func(t *testing.T) {
			for i := 0; i < 2; i++ {
				state, _, _, err := cache.GetState(context.Background(), "Earth", "Sat", "TEME", epoch)
				if !errors.Is(err, ErrInvalidEpoch) {
					t.Fatalf("err = %v, want ErrInvalidEpoch", err)
				}
				if state != nil {
					t.Errorf("state = %v, want nil", state)
				}
			}
		})
	}

	if n := cache.Stats().Entries; n != 0 {
		t.Errorf("entries = %d, want 0", n)
	}
	if sampler.calls() != 0 {
		t.Errorf("sampler called %d times", sampler.calls())
	}
}

func TestMaxEntriesEvictsOldest(t *testing.T) {
	cfg := testConfig()
	cfg.MaxEntries = 2
	c := newTestCache(cfg, &countingSampler{})
	ctx := context.Background()

	for _, target := range []string{"A", "B", "C"} {
		if _, _, _, err := c.GetState(ctx, "Earth", target, "ICRF", epoch0); err != nil {
			t.Fatalf("GetState(%s): %v", target, err)
		}
	}

	entries := c.Entries()
	if len(entries) != 2 || entries[0].Key.Target != "B" || entries[1].Key.Target != "C" {
		t.Fatalf("entries = %+v, want B then C", entries)
	}

	if _, _, _, err := c.GetState(ctx, "Earth", "A", "ICRF", epoch0); err != nil {
		t.Fatal(err)
	}
	st := c.Stats()
	if st.Evictions != 2 || st.Misses != 4 || st.Entries != 2 {
		t.Errorf("Stats = %+v, want 2 evictions, 4 misses, 2 entries", st)
	}
	var knots int
	for _, e := range c.Entries() {
		knots += e.Knots
	}
	if st.Knots != knots {
		t.Errorf("Stats.Knots = %d, want %d", st.Knots, knots)
	}
}

func TestConcurrentGetState(t *testing.T) {
	sampler := &countingSampler{}
	c := newTestCache(testConfig(), sampler)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for k := 0; k < 20; k++ {
				epoch := epoch0 + float64(g*20+k)
				state, _, _, err := c.GetState(context.Background(), "Earth", "Probe", "ICRF", epoch)
				if err != nil {
					t.Errorf("GetState: %v", err)
					return
				}
				want, _, _ := polyState(epoch)
				if !relNear(state[0], want[0], 1e-10, 1e-9) {
					t.Errorf("state[0] at %v = %v, want %v", epoch, state[0], want[0])
					return
				}
			}
		}(g)
	}
	wg.Wait()

	if st := c.Stats(); st.Builds != 1 || st.Entries != 1 {
		t.Errorf("Stats = %+v, want a single build", st)
	}
}
