// Package transform provides the time-scale and frame helpers needed by the
// ephemeris samplers.
//
// Epochs are carried as Modified Julian Dates (float64 days) across the module.
// The only frame rotation here is TEME to PEF about the Z axis by GMST, with
// GMST evaluated from UT1 when Earth orientation data is available. Polar
// motion and the equation of the equinoxes are not applied.
package transform

import (
	"time"

	"github.com/soniakeys/meeus/v3/julian"
)

// MJDOffset is the Julian Date of MJD 0 (1858-11-17 00:00 UTC).
const MJDOffset = 2400000.5

// SecondsPerDay is the number of SI seconds in a nominal day.
const SecondsPerDay = 86400.0

// TimeToMJD converts a time to a Modified Julian Date in the same time scale.
func TimeToMJD(t time.Time) float64 {
	return julian.TimeToJD(t.UTC()) - MJDOffset
}

// MJDToTime converts a Modified Julian Date to a UTC time.Time.
func MJDToTime(mjd float64) time.Time {
	return julian.JDToTime(mjd + MJDOffset).UTC()
}

// MJDToJD converts a Modified Julian Date to a Julian Date.
func MJDToJD(mjd float64) float64 {
	return mjd + MJDOffset
}

// UT1Source supplies UT1-UTC in seconds for a UTC Modified Julian Date.
// *eop.Table satisfies it.
type UT1Source interface {
	GetUt1UtcOffset(mjd float64) float64
}

// UT1MJD returns the UT1 Modified Julian Date for a UTC one. A nil source
// treats UT1 as UTC.
func UT1MJD(utcMJD float64, src UT1Source) float64 {
	if src == nil {
		return utcMJD
	}
	return utcMJD + src.GetUt1UtcOffset(utcMJD)/SecondsPerDay
}
