package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/star/eopsmooth/internal/api"
	"github.com/star/eopsmooth/internal/auth"
	"github.com/star/eopsmooth/internal/eop"
	"github.com/star/eopsmooth/internal/ephemeris"
	"github.com/star/eopsmooth/internal/spline"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: loadLogLevel(),
	}))

	if err := run(logger); err != nil {
		logger.Error("eopd exited", "error", err)
		os.Exit(1)
	}
}

// run wires the daemon and blocks until a signal or a listen error. Deferred
// cleanup runs before it returns.
func run(logger *slog.Logger) error {
	addr := os.Getenv("EOPD_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	authCfg, err := loadAuthConfig(logger)
	if err != nil {
		return fmt.Errorf("invalid auth configuration: %w", err)
	}

	eopCfg := loadEOPConfig(logger)
	table := eop.NewTable(newEOPLoader(eopCfg, logger), eop.TableOptions{MaxRows: eopCfg.MaxRows}, logger)

	splineCfg := loadSplineConfig(logger)
	if err := splineCfg.Validate(); err != nil {
		return fmt.Errorf("invalid spline configuration: %w", err)
	}

	samplerCfg := loadSamplerConfig(logger)
	router, closeSamplers, err := buildSamplers(samplerCfg, table, logger)
	if err != nil {
		return fmt.Errorf("sampler setup failed: %w", err)
	}
	defer closeSamplers()

	var states api.StateSource
	if len(router) > 0 {
		states = ephemeris.NewSmoothingCache(splineCfg, spline.NewEngine(), router, logger)
	} else {
		logger.Warn("no TLE or JPL file configured, ephemeris endpoints disabled")
	}

	srv := api.NewServer(addr, table, states, api.Options{
		Auth:             authCfg,
		TrustProxy:       loadBool(logger, "EOPD_TRUST_PROXY", false),
		MaxInflightPerIP: loadInt(logger, "EOPD_STATE_MAX_INFLIGHT", 4),
	}, logger)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load the EOP table, retrying until it succeeds; /readyz reports 503 meanwhile.
	go func() {
		ticker := time.NewTicker(eopCfg.RetryInterval)
		defer ticker.Stop()
		for {
			err := table.Initialize()
			if err == nil {
				return
			}
			logger.Error("EOP table initialization failed", "error", err, "retry_seconds", eopCfg.RetryInterval.Seconds())
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", addr, "auth_enabled", authCfg.Enabled, "ephemeris_enabled", states != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func loadLogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv("EOPD_LOG_LEVEL"))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func loadAuthConfig(logger *slog.Logger) (auth.Config, error) {
	cfg := auth.Config{}

	enabledStr := os.Getenv("EOPD_AUTH_ENABLED")
	if enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return cfg, errors.New("EOPD_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = os.Getenv("EOPD_AUTH_TOKEN")
		if cfg.Token == "" {
			return cfg, errors.New("EOPD_AUTH_TOKEN is required when auth is enabled")
		}
		logger.Info("auth enabled")
	}

	return cfg, nil
}

type eopConfig struct {
	File           string
	Format         eop.Format
	SourceURL      string
	CacheDir       string
	MaxCachedFiles int
	MaxRows        int
	RetryInterval  time.Duration
}

func loadEOPConfig(logger *slog.Logger) eopConfig {
	cfg := eopConfig{
		CacheDir:       "/tmp/eopd/eop",
		MaxCachedFiles: 3,
		MaxRows:        eop.DefaultMaxRows,
		RetryInterval:  time.Minute,
	}

	cfg.File = os.Getenv("EOPD_EOP_FILE")
	cfg.SourceURL = os.Getenv("EOPD_EOP_URL")

	if v := os.Getenv("EOPD_EOP_FORMAT"); v != "" {
		f, err := eop.ParseFormat(v)
		if err != nil {
			logger.Warn("invalid EOPD_EOP_FORMAT value, detecting format", "value", v)
		} else {
			cfg.Format = f
		}
	}

	if v := os.Getenv("EOPD_EOP_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}

	cfg.MaxRows = loadInt(logger, "EOPD_EOP_MAX_ROWS", cfg.MaxRows)
	cfg.MaxCachedFiles = loadInt(logger, "EOPD_EOP_CACHE_FILES", cfg.MaxCachedFiles)
	if secs := loadInt(logger, "EOPD_EOP_RETRY_SECONDS", 60); secs > 0 {
		cfg.RetryInterval = time.Duration(secs) * time.Second
	}

	logger.Info("EOP config",
		"file", cfg.File,
		"format", cfg.Format.String(),
		"source_url", cfg.SourceURL,
		"cache_dir", cfg.CacheDir,
		"max_rows", cfg.MaxRows,
	)

	return cfg
}

// newEOPLoader reads EOPD_EOP_FILE when set. Otherwise it downloads the
// remote file into the on-disk cache and falls back to the newest cached copy
// when the download fails.
func newEOPLoader(cfg eopConfig, logger *slog.Logger) eop.Loader {
	if cfg.File != "" {
		return eop.FileLoader{Path: cfg.File, Format: cfg.Format, Logger: logger}
	}

	fetcher := eop.NewFetcher(cfg.SourceURL, logger)
	fileCache := eop.NewFileCache(cfg.CacheDir, cfg.MaxCachedFiles)

	return eop.LoaderFunc(func() ([]eop.Record, error) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		path := ""
		data, err := fetcher.Fetch(ctx)
		if err == nil {
			path, err = fileCache.Write(data, time.Now())
		}
		if err != nil {
			logger.Warn("EOP download failed, using cached copy", "url", fetcher.SourceURL(), "error", err)
			var ts time.Time
			path, ts, err = fileCache.LatestPath()
			if err != nil {
				return nil, err
			}
			logger.Info("loading cached EOP file", "path", path, "cached_at", ts.Format(time.RFC3339))
		}

		return eop.FileLoader{Path: path, Format: cfg.Format, Logger: logger}.Load()
	})
}

// defaultMaxEntries bounds the daemon's cache; the library default is
// unbounded.
const defaultMaxEntries = 64

func loadSplineConfig(logger *slog.Logger) ephemeris.Config {
	cfg := ephemeris.DefaultConfig()
	cfg.MaxEntries = defaultMaxEntries

	cfg.DefaultT0 = loadFloat(logger, "EOPD_SPLINE_T0", cfg.DefaultT0)
	cfg.DefaultTf = loadFloat(logger, "EOPD_SPLINE_TF", cfg.DefaultTf)

	if v := os.Getenv("EOPD_SPLINE_POLICY"); v != "" {
		p, err := ephemeris.ParseStepPolicy(v)
		if err != nil {
			logger.Warn("invalid EOPD_SPLINE_POLICY value, using default", "value", v, "default", cfg.Policy.String())
		} else {
			cfg.Policy = p
		}
	}

	cfg.Step = loadFloat(logger, "EOPD_SPLINE_STEP", cfg.Step)
	cfg.Regions = loadInt(logger, "EOPD_SPLINE_REGIONS", cfg.Regions)
	cfg.MaxEntries = loadInt(logger, "EOPD_SPLINE_MAX_ENTRIES", cfg.MaxEntries)

	logger.Info("spline config",
		"default_t0", cfg.DefaultT0,
		"default_tf", cfg.DefaultTf,
		"policy", cfg.Policy.String(),
		"step_days", cfg.Step,
		"regions", cfg.Regions,
		"max_entries", cfg.MaxEntries,
	)

	return cfg
}

type samplerConfig struct {
	TLEFile string
	JPLFile string
}

func loadSamplerConfig(logger *slog.Logger) samplerConfig {
	cfg := samplerConfig{
		TLEFile: os.Getenv("EOPD_TLE_FILE"),
		JPLFile: os.Getenv("EOPD_JPL_FILE"),
	}
	logger.Info("sampler config", "tle_file", cfg.TLEFile, "jpl_file", cfg.JPLFile)
	return cfg
}

// buildSamplers routes TEME/PEF queries to SGP4 and ICRF queries to the JPL
// ephemeris, for whichever files are configured.
func buildSamplers(cfg samplerConfig, table *eop.Table, logger *slog.Logger) (ephemeris.FrameRouter, func(), error) {
	router := ephemeris.FrameRouter{}
	closeFn := func() {}

	if cfg.TLEFile != "" {
		sgp4, err := ephemeris.LoadSGP4Sampler(cfg.TLEFile, table, logger)
		if err != nil {
			return nil, closeFn, err
		}
		router[ephemeris.FrameTEME] = sgp4
		router[ephemeris.FramePEF] = sgp4
	}

	if cfg.JPLFile != "" {
		jpl, err := ephemeris.OpenJPLSampler(cfg.JPLFile, logger)
		if err != nil {
			return nil, closeFn, err
		}
		router[ephemeris.FrameICRF] = jpl
		closeFn = func() {
			if err := jpl.Close(); err != nil {
				logger.Warn("closing JPL ephemeris", "error", err)
			}
		}
	}

	return router, closeFn, nil
}

func loadInt(logger *slog.Logger, key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", def)
		return def
	}
	return n
}

func loadFloat(logger *slog.Logger, key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", def)
		return def
	}
	return f
}

func loadBool(logger *slog.Logger, key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn("invalid "+key+" value, using default", "value", v, "default", def)
		return def
	}
	return b
}
