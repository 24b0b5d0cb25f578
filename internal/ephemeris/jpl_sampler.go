package ephemeris

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mshafiee/jpleph"

	"github.com/star/eopsmooth/internal/transform"
)

// FrameICRF is the only frame JPLSampler produces.
const FrameICRF = "ICRF"

var bodies = map[string]jpleph.Planet{
	"MERCURY": jpleph.Mercury,
	"VENUS":   jpleph.Venus,
	"EARTH":   jpleph.Earth,
	"MARS":    jpleph.Mars,
	"JUPITER": jpleph.Jupiter,
	"SATURN":  jpleph.Saturn,
	"URANUS":  jpleph.Uranus,
	"NEPTUNE": jpleph.Neptune,
	"PLUTO":   jpleph.Pluto,
	"MOON":    jpleph.Moon,
	"SUN":     jpleph.Sun,
	"SSB":     jpleph.SolarSystemBarycenter,
	"EMB":     jpleph.EarthMoonBarycenter,
}

// ParseBody maps a body name to its JPL ephemeris index. Names are case
// insensitive.
func ParseBody(name string) (jpleph.Planet, error) {
	p, ok := bodies[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%q: %w", name, ErrUnknownTarget)
	}
	return p, nil
}

// ephemerisReader is the part of *jpleph.Ephemeris the sampler reads.
type ephemerisReader interface {
	CalculatePV(et float64, target jpleph.Planet, center jpleph.CenterBody, calcVelocity bool) (jpleph.Position, jpleph.Velocity, error)
	Close() error
}

// JPLSampler samples solar system body states from a JPL binary ephemeris.
// Epochs are MJD in the ephemeris time scale (TDB). States are km and km/s
// in ICRF. Safe for concurrent use.
type JPLSampler struct {
	mu     sync.Mutex // the reader keeps a record cache
	eph    ephemerisReader
	auKM   float64
	logger *slog.Logger
}

// OpenJPLSampler opens a JPL binary ephemeris file such as de440.bin.
func OpenJPLSampler(path string, logger *slog.Logger) (*JPLSampler, error) {
	eph, err := jpleph.NewEphemeris(path, false)
	if err != nil {
		return nil, fmt.Errorf("opening JPL ephemeris %s: %w", path, err)
	}

	au := eph.GetEphemerisDouble(jpleph.AUinKM)
	if !(au > 0) {
		eph.Close()
		return nil, fmt.Errorf("JPL ephemeris %s: invalid AU constant %g", path, au)
	}

	logger.Info("jpl sampler initialized",
		"file", path,
		"start_jd", eph.GetEphemerisDouble(jpleph.EphemerisStartJD),
		"end_jd", eph.GetEphemerisDouble(jpleph.EphemerisEndJD),
		"au_km", au,
	)
	return newJPLSampler(eph, au, logger), nil
}

func newJPLSampler(eph ephemerisReader, auKM float64, logger *slog.Logger) *JPLSampler {
	return &JPLSampler{eph: eph, auKM: auKM, logger: logger}
}

// TranslateOrigin implements Sampler.
func (s *JPLSampler) TranslateOrigin(ctx context.Context, epoch float64, target, reference, frame string) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	if !strings.EqualFold(frame, FrameICRF) {
		return State{}, fmt.Errorf("jpl %q: %w", frame, ErrUnsupportedFrame)
	}
	t, err := ParseBody(target)
	if err != nil {
		return State{}, err
	}
	c, ok := bodies[strings.ToUpper(strings.TrimSpace(reference))]
	if !ok {
		return State{}, fmt.Errorf("jpl %q: %w", reference, ErrUnsupportedReference)
	}

	s.mu.Lock()
	pos, vel, err := s.eph.CalculatePV(transform.MJDToJD(epoch), t, jpleph.CenterBody(c), true)
	s.mu.Unlock()
	if err != nil {
		return State{}, fmt.Errorf("jpl %s->%s at MJD %.6f: %w", reference, target, epoch, err)
	}

	kmps := s.auKM / transform.SecondsPerDay
	return State{
		pos.X * s.auKM, pos.Y * s.auKM, pos.Z * s.auKM,
		vel.DX * kmps, vel.DY * kmps, vel.DZ * kmps,
	}, nil
}

// Close releases the ephemeris file.
func (s *JPLSampler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eph.Close()
}
