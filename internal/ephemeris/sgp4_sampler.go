package ephemeris

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/star/eopsmooth/internal/transform"
)

// Frames produced by SGP4Sampler.
const (
	FrameTEME = "TEME"
	FramePEF  = "PEF"
)

// ReferenceEarth is the only reference body SGP4Sampler supports.
const ReferenceEarth = "Earth"

// SGP4Sampler samples Earth satellite states from TLEs with SGP4.
//
// Epochs are UTC MJD. States are km and km/s in TEME, or in PEF after
// rotating by GMST evaluated at UT1. Targets are looked up by TLE name or
// NORAD catalog number.
//
// Propagate in go-satellite takes whole seconds, so a fractional-second epoch
// is sampled at the two neighbouring seconds and joined with a cubic Hermite
// fit through their positions and velocities.
type SGP4Sampler struct {
	sats   map[string]satellite.Satellite
	ut1    transform.UT1Source
	logger *slog.Logger
}

// NewSGP4Sampler initializes SGP4 for every TLE. ut1 may be nil, in which
// case UT1 is taken to equal UTC for PEF rotation.
func NewSGP4Sampler(tles []TLE, ut1 transform.UT1Source, logger *slog.Logger) (*SGP4Sampler, error) {
	sats := make(map[string]satellite.Satellite, 2*len(tles))
	for _, t := range tles {
		if err := validateTLELines(t.Line1, t.Line2); err != nil {
			return nil, fmt.Errorf("invalid TLE for NORAD %d: %w", t.NORADID, err)
		}
		sat := satellite.TLEToSat(t.Line1, t.Line2, satellite.GravityWGS84)
		if sat.Error != 0 {
			return nil, fmt.Errorf("sgp4 init failed for NORAD %d: code=%d %s", t.NORADID, sat.Error, sat.ErrorStr)
		}
		if t.Name != "" {
			sats[strings.ToUpper(t.Name)] = sat
		}
		sats[strconv.Itoa(t.NORADID)] = sat
	}

	logger.Info("sgp4 sampler initialized", "satellites", len(tles), "eop", ut1 != nil)
	return &SGP4Sampler{sats: sats, ut1: ut1, logger: logger}, nil
}

// LoadSGP4Sampler reads a 3-line TLE file and initializes a sampler from it.
func LoadSGP4Sampler(path string, ut1 transform.UT1Source, logger *slog.Logger) (*SGP4Sampler, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening TLE file: %w", err)
	}
	defer f.Close()

	tles, err := ParseTLE(f, logger)
	if err != nil {
		return nil, err
	}
	return NewSGP4Sampler(tles, ut1, logger)
}

// TranslateOrigin implements Sampler.
func (s *SGP4Sampler) TranslateOrigin(ctx context.Context, epoch float64, target, reference, frame string) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	if !strings.EqualFold(reference, ReferenceEarth) {
		return State{}, fmt.Errorf("sgp4 %q: %w", reference, ErrUnsupportedReference)
	}
	sat, ok := s.sats[strings.ToUpper(strings.TrimSpace(target))]
	if !ok {
		return State{}, fmt.Errorf("sgp4 %q: %w", target, ErrUnknownTarget)
	}

	frame = strings.ToUpper(frame)
	if frame != FrameTEME && frame != FramePEF {
		return State{}, fmt.Errorf("sgp4 %q: %w", frame, ErrUnsupportedFrame)
	}

	teme, err := propagateMJD(sat, epoch)
	if err != nil {
		return State{}, fmt.Errorf("%s: %w", target, err)
	}
	if frame == FrameTEME {
		return teme, nil
	}

	gmst := transform.GMST(transform.UT1MJD(epoch, s.ut1))
	return State(transform.TEMEToPEF(teme, gmst)), nil
}

// propagateMJD returns the TEME state at a UTC MJD.
func propagateMJD(sat satellite.Satellite, mjd float64) (State, error) {
	t := transform.MJDToTime(mjd)
	base := t.Truncate(time.Second)
	frac := t.Sub(base).Seconds()

	s0, err := propagateAt(sat, base)
	if err != nil {
		return State{}, err
	}
	if frac < 1e-6 {
		return s0, nil
	}
	s1, err := propagateAt(sat, base.Add(time.Second))
	if err != nil {
		return State{}, err
	}
	return hermite(s0, s1, frac), nil
}

// propagateAt runs SGP4 at a whole UTC second. Propagate takes Satellite by
// value so SGP4 error codes are not visible; failures are detected from the
// output instead.
func propagateAt(sat satellite.Satellite, t time.Time) (State, error) {
	pos, vel := satellite.Propagate(sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())

	if math.IsNaN(pos.X) || math.IsNaN(pos.Y) || math.IsNaN(pos.Z) ||
		math.IsInf(pos.X, 0) || math.IsInf(pos.Y, 0) || math.IsInf(pos.Z, 0) {
		return State{}, fmt.Errorf("sgp4 propagation failed at %s: output is NaN/Inf", t.Format(time.RFC3339))
	}

	// Anything below the surface or far beyond GEO means the model diverged.
	mag := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
	if mag < 6200.0 || mag > 50000.0 {
		return State{}, fmt.Errorf("sgp4 propagation failed at %s: unreasonable position magnitude %.1f km",
			t.Format(time.RFC3339), mag)
	}

	return State{pos.X, pos.Y, pos.Z, vel.X, vel.Y, vel.Z}, nil
}

// hermite joins two states one second apart at fraction u in [0, 1).
func hermite(s0, s1 State, u float64) State {
	u2, u3 := u*u, u*u*u
	h00 := 2*u3 - 3*u2 + 1
	h10 := u3 - 2*u2 + u
	h01 := -2*u3 + 3*u2
	h11 := u3 - u2

	dh00 := 6*u2 - 6*u
	dh10 := 3*u2 - 4*u + 1
	dh01 := -6*u2 + 6*u
	dh11 := 3*u2 - 2*u

	var out State
	for i := 0; i < 3; i++ {
		p0, v0, p1, v1 := s0[i], s0[i+3], s1[i], s1[i+3]
		out[i] = h00*p0 + h10*v0 + h01*p1 + h11*v1
		out[i+3] = dh00*p0 + dh10*v0 + dh01*p1 + dh11*v1
	}
	return out
}
