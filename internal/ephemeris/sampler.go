package ephemeris

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// State is a sampled body state: position then velocity.
type State [StateSize]float64

// Sampler computes the state of target relative to reference in frame at an
// MJD epoch. Errors are returned to the cache caller unchanged.
type Sampler interface {
	TranslateOrigin(ctx context.Context, epoch float64, target, reference, frame string) (State, error)
}

// SamplerFunc adapts a function to the Sampler interface.
type SamplerFunc func(ctx context.Context, epoch float64, target, reference, frame string) (State, error)

// TranslateOrigin calls f.
func (f SamplerFunc) TranslateOrigin(ctx context.Context, epoch float64, target, reference, frame string) (State, error) {
	return f(ctx, epoch, target, reference, frame)
}

var (
	// ErrUnknownTarget is returned by samplers for a body they cannot produce.
	ErrUnknownTarget = errors.New("unknown target body")
	// ErrUnsupportedReference is returned for a reference body the sampler
	// cannot translate to.
	ErrUnsupportedReference = errors.New("unsupported reference body")
	// ErrUnsupportedFrame is returned for a frame the sampler cannot express.
	ErrUnsupportedFrame = errors.New("unsupported reference frame")
)

// FrameRouter dispatches to a sampler by frame name, compared case
// insensitively. Keys must be upper case.
type FrameRouter map[string]Sampler

// TranslateOrigin implements Sampler.
func (r FrameRouter) TranslateOrigin(ctx context.Context, epoch float64, target, reference, frame string) (State, error) {
	s, ok := r[strings.ToUpper(frame)]
	if !ok {
		return State{}, fmt.Errorf("%q: %w", frame, ErrUnsupportedFrame)
	}
	return s.TranslateOrigin(ctx, epoch, target, reference, frame)
}
