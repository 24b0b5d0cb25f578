package ephemeris

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	satellite "github.com/joshuaferrara/go-satellite"
	"github.com/mshafiee/jpleph"

	"github.com/star/eopsmooth/internal/transform"
)

// ISS elements near 2024-04-09 12:00 UTC.
const (
	issLine1 = "1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005"
	issLine2 = "2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09"
)

// mjdISS is 2024-04-10 00:00 UTC.
const mjdISS = 60410.0

func issSampler(t *testing.T, ut1 transform.UT1Source) *SGP4Sampler {
	t.Helper()
	tles := []TLE{{Name: "ISS (ZARYA)", NORADID: 25544, Line1: issLine1, Line2: issLine2}}
	s, err := NewSGP4Sampler(tles, ut1, testLogger)
	if err != nil {
		t.Fatalf("NewSGP4Sampler: %v", err)
	}
	return s
}

type fixedUT1 float64

func (f fixedUT1) GetUt1UtcOffset(float64) float64 { return float64(f) }

func TestSGP4SamplerTEME(t *testing.T) {
	s := issSampler(t, nil)

	for _, target := range []string{"ISS (ZARYA)", "iss (zarya)", "25544"} {
		st, err := s.TranslateOrigin(context.Background(), mjdISS, target, "Earth", "TEME")
		if err != nil {
			t.Fatalf("TranslateOrigin(%q): %v", target, err)
		}
		r := math.Sqrt(st[0]*st[0] + st[1]*st[1] + st[2]*st[2])
		v := math.Sqrt(st[3]*st[3] + st[4]*st[4] + st[5]*st[5])
		if r < 6500 || r > 7000 {
			t.Errorf("%q: |r| = %.1f km, expected ISS orbit", target, r)
		}
		if v < 7.4 || v > 7.9 {
			t.Errorf("%q: |v| = %.3f km/s, expected ~7.66", target, v)
		}
	}
}

func TestSGP4SamplerPEFMatchesLibrary(t *testing.T) {
	s := issSampler(t, nil)

	st, err := s.TranslateOrigin(context.Background(), mjdISS, "25544", "earth", "pef")
	if err != nil {
		t.Fatalf("TranslateOrigin: %v", err)
	}

	sat := satellite.TLEToSat(issLine1, issLine2, satellite.GravityWGS84)
	pos, _ := satellite.Propagate(sat, 2024, 4, 10, 0, 0, 0)
	want := satellite.ECIToECEF(pos, satellite.GSTimeFromDate(2024, 4, 10, 0, 0, 0))

	for i, w := range []float64{want.X, want.Y, want.Z} {
		if math.Abs(st[i]-w) > 1e-3 {
			t.Errorf("PEF[%d] = %.6f, library ECEF %.6f", i, st[i], w)
		}
	}
}

func TestSGP4SamplerUsesUT1(t *testing.T) {
	utc := issSampler(t, nil)
	ut1 := issSampler(t, fixedUT1(0.5))

	a, err := utc.TranslateOrigin(context.Background(), mjdISS, "25544", "Earth", "PEF")
	if err != nil {
		t.Fatal(err)
	}
	b, err := ut1.TranslateOrigin(context.Background(), mjdISS, "25544", "Earth", "PEF")
	if err != nil {
		t.Fatal(err)
	}

	// Half a second of Earth rotation moves an LEO point ~0.25 km.
	d := math.Hypot(a[0]-b[0], a[1]-b[1])
	if d < 0.1 || d > 0.5 {
		t.Errorf("UT1 offset moved PEF position by %.3f km, want ~0.25", d)
	}
	if a[2] != b[2] {
		t.Errorf("rotation about Z changed z: %v vs %v", a[2], b[2])
	}
}

func TestSGP4SamplerSubSecond(t *testing.T) {
	s := issSampler(t, nil)
	ctx := context.Background()

	whole, err := s.TranslateOrigin(ctx, mjdISS+10.0/86400, "25544", "Earth", "TEME")
	if err != nil {
		t.Fatal(err)
	}
	half, err := s.TranslateOrigin(ctx, mjdISS+10.5/86400, "25544", "Earth", "TEME")
	if err != nil {
		t.Fatal(err)
	}

	// Half a second along a ~7.66 km/s orbit.
	for i := 0; i < 3; i++ {
		want := whole[i] + 0.5*whole[i+3]
		if math.Abs(half[i]-want) > 0.01 {
			t.Errorf("position[%d] = %.6f, want %.6f", i, half[i], want)
		}
	}
}

func TestHermite(t *testing.T) {
	// Uniform motion is reproduced exactly.
	s0 := State{1, 2, 3, 0.5, -1, 2}
	s1 := State{1.5, 1, 5, 0.5, -1, 2}

	for _, u := range []float64{0, 0.25, 0.5, 0.9} {
		got := hermite(s0, s1, u)
		for i := 0; i < 3; i++ {
			if want := s0[i] + u*s0[i+3]; math.Abs(got[i]-want) > 1e-12 {
				t.Errorf("u=%v position[%d] = %v, want %v", u, i, got[i], want)
			}
			if math.Abs(got[i+3]-s0[i+3]) > 1e-12 {
				t.Errorf("u=%v velocity[%d] = %v, want %v", u, i, got[i+3], s0[i+3])
			}
		}
	}
}

func TestSGP4SamplerErrors(t *testing.T) {
	s := issSampler(t, nil)
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name      string
		ctx       context.Context
		target    string
		reference string
		frame     string
		want      error
	}{
		{"unknown target", context.Background(), "HUBBLE", "Earth", "TEME", ErrUnknownTarget},
		{"reference", context.Background(), "25544", "Moon", "TEME", ErrUnsupportedReference},
		{"frame", context.Background(), "25544", "Earth", "ICRF", ErrUnsupportedFrame},
		{"canceled", canceled, "25544", "Earth", "TEME", context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.TranslateOrigin(tt.ctx, mjdISS, tt.target, tt.reference, tt.frame)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewSGP4SamplerRejectsBadTLE(t *testing.T) {
	tests := []struct {
		name         string
		line1, line2 string
	}{
		{"short line1", issLine1[:60], issLine2},
		{"short line2", issLine1, issLine2[:60]},
		{"swapped", issLine2, issLine1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSGP4Sampler([]TLE{{Name: "X", NORADID: 1, Line1: tt.line1, Line2: tt.line2}}, nil, testLogger)
			if err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseTLE(t *testing.T) {
	data := strings.Join([]string{
		"ISS (ZARYA)",
		issLine1,
		issLine2,
		"",
		"GARBAGE",
		"1 x",
		"STARLINK-1007",
		"1 44713U 19074A   24100.50000000  .00001000  00000-0  10000-4 0  9995",
		"2 44713  53.0000 200.0000 0001500  90.0000 270.0000 15.06000000    05",
	}, "\n")

	tles, err := ParseTLE(strings.NewReader(data), testLogger)
	if err != nil {
		t.Fatalf("ParseTLE: %v", err)
	}
	if len(tles) != 2 {
		t.Fatalf("got %d TLEs, want 2", len(tles))
	}
	if tles[0].Name != "ISS (ZARYA)" || tles[0].NORADID != 25544 {
		t.Errorf("tles[0] = %+v", tles[0])
	}
	if tles[1].Name != "STARLINK-1007" || tles[1].NORADID != 44713 {
		t.Errorf("tles[1] = %+v", tles[1])
	}
}

func TestLoadSGP4Sampler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iss.tle")
	if err := os.WriteFile(path, []byte("ISS\n"+issLine1+"\n"+issLine2+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadSGP4Sampler(path, nil, testLogger)
	if err != nil {
		t.Fatalf("LoadSGP4Sampler: %v", err)
	}
	if _, err := s.TranslateOrigin(context.Background(), mjdISS, "iss", "Earth", "TEME"); err != nil {
		t.Errorf("TranslateOrigin: %v", err)
	}
}

// fakeEphemeris records the last query and returns fixed AU values.
type fakeEphemeris struct {
	et     float64
	target jpleph.Planet
	center jpleph.CenterBody
	err    error
	closed bool
}

func (f *fakeEphemeris) CalculatePV(et float64, target jpleph.Planet, center jpleph.CenterBody, calcVelocity bool) (jpleph.Position, jpleph.Velocity, error) {
	f.et, f.target, f.center = et, target, center
	if f.err != nil {
		return jpleph.Position{}, jpleph.Velocity{}, f.err
	}
	return jpleph.Position{X: 1, Y: -0.5, Z: 0.25}, jpleph.Velocity{DX: 0.01, DY: 0, DZ: -0.02}, nil
}

func (f *fakeEphemeris) Close() error {
	f.closed = true
	return nil
}

func TestJPLSampler(t *testing.T) {
	const au = 149597870.7
	fake := &fakeEphemeris{}
	s := newJPLSampler(fake, au, testLogger)

	st, err := s.TranslateOrigin(context.Background(), 51544.5, "Mars", "sun", "icrf")
	if err != nil {
		t.Fatalf("TranslateOrigin: %v", err)
	}

	if fake.et != 2451545.0 {
		t.Errorf("et = %v, want JD 2451545.0", fake.et)
	}
	if fake.target != jpleph.Mars || fake.center != jpleph.CenterSun {
		t.Errorf("target/center = %v/%v", fake.target, fake.center)
	}

	want := State{au, -0.5 * au, 0.25 * au, 0.01 * au / 86400, 0, -0.02 * au / 86400}
	for i := range want {
		if math.Abs(st[i]-want[i]) > 1e-6*math.Max(1, math.Abs(want[i])) {
			t.Errorf("state[%d] = %v, want %v", i, st[i], want[i])
		}
	}

	if err := s.Close(); err != nil || !fake.closed {
		t.Errorf("Close: err=%v closed=%v", err, fake.closed)
	}
}

func TestJPLSamplerErrors(t *testing.T) {
	errRange := errors.New("epoch outside ephemeris")

	tests := []struct {
		name      string
		target    string
		reference string
		frame     string
		fakeErr   error
		want      error
	}{
		{"frame", "Mars", "Sun", "TEME", nil, ErrUnsupportedFrame},
		{"target", "Vulcan", "Sun", "ICRF", nil, ErrUnknownTarget},
		{"reference", "Mars", "Vulcan", "ICRF", nil, ErrUnsupportedReference},
		{"library", "Mars", "Sun", "ICRF", errRange, errRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newJPLSampler(&fakeEphemeris{err: tt.fakeErr}, 1, testLogger)
			_, err := s.TranslateOrigin(context.Background(), 60000, tt.target, tt.reference, tt.frame)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseBody(t *testing.T) {
	for name, want := range map[string]jpleph.Planet{
		"Mercury": jpleph.Mercury,
		" moon ":  jpleph.Moon,
		"SSB":     jpleph.SolarSystemBarycenter,
		"emb":     jpleph.EarthMoonBarycenter,
	} {
		got, err := ParseBody(name)
		if err != nil || got != want {
			t.Errorf("ParseBody(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseBody("Nutations"); !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("ParseBody(Nutations) err = %v", err)
	}
}

// TestSGP4CacheRoundTrip smooths a short SGP4 arc and checks the spline
// against direct sampling between knots.
func TestSGP4CacheRoundTrip(t *testing.T) {
	s := issSampler(t, nil)
	cfg := Config{
		DefaultT0: mjdISS,
		DefaultTf: mjdISS + 0.1,
		Policy:    FixedStep,
		Step:      30.0 / 86400,
	}
	c := newTestCache(cfg, s)

	epoch := mjdISS + 0.05 + 7.0/86400
	got, _, _, err := c.GetState(context.Background(), "Earth", "25544", "TEME", epoch)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	want, err := s.TranslateOrigin(context.Background(), epoch, "25544", "Earth", "TEME")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if math.Abs(got[i]-want[i]) > 0.01 {
			t.Errorf("position[%d] = %.4f, direct %.4f", i, got[i], want[i])
		}
	}
}

func TestFrameRouter(t *testing.T) {
	mark := func(v float64) Sampler {
		return SamplerFunc(func(ctx context.Context, epoch float64, target, reference, frame string) (State, error) {
			return State{v}, nil
		})
	}
	r := FrameRouter{FrameICRF: mark(1), FrameTEME: mark(2), FramePEF: mark(2)}

	for frame, want := range map[string]float64{"icrf": 1, "TEME": 2, "Pef": 2} {
		st, err := r.TranslateOrigin(context.Background(), 60000, "x", "y", frame)
		if err != nil || st[0] != want {
			t.Errorf("frame %s: got %v, %v; want %v", frame, st[0], err, want)
		}
	}
	if _, err := r.TranslateOrigin(context.Background(), 60000, "x", "y", "ITRF"); !errors.Is(err, ErrUnsupportedFrame) {
		t.Errorf("ITRF err = %v", err)
	}
}
