package transform

import "math"

// j2000 is the Julian Date of the J2000.0 epoch (January 1, 2000, 12:00:00 TT).
const j2000 = 2451545.0

// OmegaEarth is Earth's rotation rate in rad/s (IAU value).
const OmegaEarth = 7.292115146706979e-5

// GMST returns Greenwich Mean Sidereal Time in radians for a UT1 Modified
// Julian Date, using the IAU-82 model (Vallado Eq 3-47):
//
//	θ_GMST = 67310.54841 + (876600h + 8640184.812866)*T + 0.093104*T² - 6.2e-6*T³
//
// where T is Julian centuries of UT1 from J2000.0 and θ is in seconds of time.
func GMST(ut1MJD float64) float64 {
	tUT1 := (MJDToJD(ut1MJD) - j2000) / 36525.0

	// 876600h = 3155760000 s.
	gmstSec := 67310.54841 +
		(3155760000.0+8640184.812866)*tUT1 +
		0.093104*tUT1*tUT1 -
		6.2e-6*tUT1*tUT1*tUT1

	gmstSec = math.Mod(gmstSec, SecondsPerDay)
	if gmstSec < 0 {
		gmstSec += SecondsPerDay
	}
	return gmstSec / SecondsPerDay * 2.0 * math.Pi
}

// TEMEToPEF rotates a TEME state (km, km/s) into the pseudo Earth-fixed frame
// using the given GMST angle in radians.
//
// Position: r_PEF = R3(θ) r_TEME
// Velocity: v_PEF = R3(θ) v_TEME - ω × r_PEF
func TEMEToPEF(state [6]float64, gmst float64) [6]float64 {
	cosG := math.Cos(gmst)
	sinG := math.Sin(gmst)

	x := state[0]*cosG + state[1]*sinG
	y := -state[0]*sinG + state[1]*cosG
	z := state[2]

	vx := state[3]*cosG + state[4]*sinG
	vy := -state[3]*sinG + state[4]*cosG
	vz := state[5]

	// ω × r = [-ω y, ω x, 0]
	return [6]float64{x, y, z, vx + OmegaEarth*y, vy - OmegaEarth*x, vz}
}
