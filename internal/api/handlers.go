package api

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/star/eopsmooth/internal/ephemeris"
	"github.com/star/eopsmooth/internal/httputil"
)

// EOPSource answers Earth orientation queries. *eop.Table satisfies it.
type EOPSource interface {
	IsInitialized() bool
	GetUt1UtcOffset(mjd float64) float64
	GetPolarMotionAndLod(mjd float64) (x, y, lod float64, ok bool)
}

// StateSource answers smoothed ephemeris queries. *ephemeris.SmoothingCache
// satisfies it.
type StateSource interface {
	GetState(ctx context.Context, ref, target, frame string, epoch float64) (state, d1, d2 []float64, err error)
	Stats() ephemeris.CacheStats
	Entries() []ephemeris.EntryInfo
}

type eopResponse struct {
	MJD    float64 `json:"mjd"`
	UT1UTC float64 `json:"ut1_utc"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	LOD    float64 `json:"lod"`
}

type stateResponse struct {
	Reference        string    `json:"reference"`
	Target           string    `json:"target"`
	Frame            string    `json:"frame"`
	MJD              float64   `json:"mjd"`
	State            []float64 `json:"state"`
	FirstDerivative  []float64 `json:"first_derivative"`
	SecondDerivative []float64 `json:"second_derivative"`
}

type statsResponse struct {
	Cache   ephemeris.CacheStats  `json:"cache"`
	Entries []ephemeris.EntryInfo `json:"entries"`
}

// parseMJD reads a required finite mjd query parameter.
func parseMJD(r *http.Request) (float64, error) {
	raw := r.URL.Query().Get("mjd")
	if raw == "" {
		return 0, fmt.Errorf("mjd is required")
	}
	mjd, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(mjd) || math.IsInf(mjd, 0) {
		return 0, fmt.Errorf("invalid mjd %q", raw)
	}
	return mjd, nil
}

func eopHandler(eop EOPSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mjd, err := parseMJD(r)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if !eop.IsInitialized() {
			httputil.WriteError(w, http.StatusServiceUnavailable, "EOP table not initialized")
			return
		}

		x, y, lod, _ := eop.GetPolarMotionAndLod(mjd)
		httputil.WriteJSON(w, http.StatusOK, eopResponse{
			MJD:    mjd,
			UT1UTC: eop.GetUt1UtcOffset(mjd),
			X:      x,
			Y:      y,
			LOD:    lod,
		})
	}
}

func stateHandler(states StateSource, limiter *inflightLimiter, trustProxy bool, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		ref := strings.TrimSpace(q.Get("reference"))
		target := strings.TrimSpace(q.Get("target"))
		frame := strings.TrimSpace(q.Get("frame"))
		if ref == "" || target == "" || frame == "" {
			httputil.WriteError(w, http.StatusBadRequest, "reference, target and frame are required")
			return
		}
		mjd, err := parseMJD(r)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if states == nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, "no ephemeris sampler configured")
			return
		}

		ip := httputil.ClientIP(r, trustProxy)
		if !limiter.acquire(ip) {
			httputil.WriteError(w, http.StatusTooManyRequests, "too many concurrent ephemeris requests")
			return
		}
		defer limiter.release(ip)

		state, d1, d2, err := states.GetState(r.Context(), ref, target, frame, mjd)
		if err != nil {
			logger.Debug("ephemeris query failed", "reference", ref, "target", target, "frame", frame, "mjd", mjd, "error", err)
			httputil.WriteError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		httputil.WriteJSON(w, http.StatusOK, stateResponse{
			Reference:        ref,
			Target:           target,
			Frame:            frame,
			MJD:              mjd,
			State:            state,
			FirstDerivative:  d1,
			SecondDerivative: d2,
		})
	}
}

func statsHandler(states StateSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if states == nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, "no ephemeris sampler configured")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, statsResponse{
			Cache:   states.Stats(),
			Entries: states.Entries(),
		})
	}
}
