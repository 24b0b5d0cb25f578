// Package eop loads Earth Orientation Parameter tables and interpolates
// UT1-UTC, polar motion and length of day from them.
//
// A Table is loaded once through a Loader and queried many times. Queries
// outside the table extrapolate flat from the nearest row; UT1-UTC brackets
// that contain a leap second are stepped rather than blended.
package eop

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformed is returned for rows that cannot be parsed.
	ErrMalformed = errors.New("malformed EOP row")
	// ErrNotMonotonic is returned when row epochs do not strictly increase.
	ErrNotMonotonic = errors.New("EOP epochs must be strictly increasing")
	// ErrTableFull is returned when a file has more rows than the table allows.
	ErrTableFull = errors.New("EOP table size exceeded")
	// ErrUnknownFormat is returned for unrecognized file layouts.
	ErrUnknownFormat = errors.New("unknown EOP file format")
)

// Record is one daily row of an EOP file.
type Record struct {
	MJD    float64 // UTC Modified Julian Date
	X, Y   float64 // polar motion, arcsec
	UT1UTC float64 // seconds
	LOD    float64 // excess length of day, seconds
}

// Format identifies the layout of an EOP file.
type Format int

const (
	// FormatAuto detects the layout from the first data row.
	FormatAuto Format = iota
	// FormatC04 is the whitespace-delimited IERS C04 series
	// (year month day MJD x y UT1-UTC LOD ...).
	FormatC04
	// FormatFinals is the fixed-column IERS finals/finals2000A series.
	FormatFinals
)

// String implements fmt.Stringer.
func (f Format) String() string {
	switch f {
	case FormatAuto:
		return "auto"
	case FormatC04:
		return "c04"
	case FormatFinals:
		return "finals"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat converts a configuration string to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "c04", "eopc04", "legacy":
		return FormatC04, nil
	case "finals", "finals2000a":
		return FormatFinals, nil
	default:
		return FormatAuto, fmt.Errorf("%q: %w", s, ErrUnknownFormat)
	}
}
