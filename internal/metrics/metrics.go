// Package metrics holds the Prometheus collectors for the smoothing cache, the
// EOP table and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eopsmooth_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eopsmooth_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	splineCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eopsmooth_spline_cache_hits_total",
		Help: "Ephemeris queries answered by an existing spline data set.",
	})

	splineCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eopsmooth_spline_cache_misses_total",
		Help: "Ephemeris queries that required a new spline data set.",
	})

	splineBuildErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eopsmooth_spline_build_errors_total",
		Help: "Spline data set builds that failed.",
	})

	splineEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eopsmooth_spline_cache_evictions_total",
		Help: "Spline data sets evicted to respect the capacity bound.",
	})

	splineEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eopsmooth_spline_cache_entries",
		Help: "Spline data sets currently cached.",
	})

	splineKnots = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eopsmooth_spline_cache_knots",
		Help: "Total knots held across cached spline data sets.",
	})

	splineBuildDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "eopsmooth_spline_build_duration_seconds",
		Help:    "Time to sample and fit one spline data set.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
	})

	eopLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eopsmooth_eop_lookups_total",
			Help: "EOP table lookups by quantity and bracket search path.",
		},
		[]string{"quantity", "path"},
	)

	eopLeapSteps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eopsmooth_eop_leap_second_brackets_total",
		Help: "UT1-UTC lookups that landed in a bracket containing a leap second.",
	})

	eopRows = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eopsmooth_eop_table_rows",
		Help: "Rows loaded into the EOP table.",
	})
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpDurationSeconds)
	prometheus.MustRegister(splineCacheHits)
	prometheus.MustRegister(splineCacheMisses)
	prometheus.MustRegister(splineBuildErrors)
	prometheus.MustRegister(splineEvictions)
	prometheus.MustRegister(splineEntries)
	prometheus.MustRegister(splineKnots)
	prometheus.MustRegister(splineBuildDuration)
	prometheus.MustRegister(eopLookups)
	prometheus.MustRegister(eopLeapSteps)
	prometheus.MustRegister(eopRows)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func IncSplineCacheHits()   { splineCacheHits.Inc() }
func IncSplineCacheMisses() { splineCacheMisses.Inc() }
func IncSplineBuildErrors() { splineBuildErrors.Inc() }

func AddSplineEvictions(n int) { splineEvictions.Add(float64(n)) }

// SetSplineCacheSize publishes the current entry and knot totals.
func SetSplineCacheSize(entries, knots int) {
	splineEntries.Set(float64(entries))
	splineKnots.Set(float64(knots))
}

func ObserveSplineBuildDuration(d time.Duration) {
	splineBuildDuration.Observe(d.Seconds())
}

// IncEOPLookup counts one lookup. quantity is "ut1" or "polar"; path names the
// bracket search outcome ("hint", "next", "search", "before", "after").
func IncEOPLookup(quantity, path string) {
	eopLookups.WithLabelValues(quantity, path).Inc()
}

func IncEOPLeapSecondBracket() { eopLeapSteps.Inc() }

func SetEOPTableRows(n int) { eopRows.Set(float64(n)) }

// knownRoutes are recorded with their own label; everything else is "other".
var knownRoutes = map[string]bool{
	"/":                       true,
	"/healthz":                true,
	"/readyz":                 true,
	"/metrics":                true,
	"/api/v1/eop":             true,
	"/api/v1/ephemeris/state": true,
	"/api/v1/ephemeris/stats": true,
}

// normalizeRoute bounds the cardinality of the path label.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
