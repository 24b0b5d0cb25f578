package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/star/eopsmooth/internal/eop"
	"github.com/star/eopsmooth/internal/ephemeris"
	"github.com/star/eopsmooth/internal/spline"
)

func main() {
	eopFile := flag.String("eop", "", "EOP file (C04 or finals2000A)")
	format := flag.String("format", "auto", "EOP file format: auto, c04, finals")
	from := flag.Float64("from", 0, "first MJD to print")
	to := flag.Float64("to", 0, "last MJD to print")
	step := flag.Float64("step", 1, "MJD step")
	tleFile := flag.String("tle", "", "TLE file; compares smoothed and direct SGP4 states")
	target := flag.String("target", "", "satellite name or NORAD id for -tle")
	frame := flag.String("frame", ephemeris.FrameTEME, "frame for -tle: TEME or PEF")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if *eopFile == "" || *step <= 0 || *to < *from {
		flag.Usage()
		os.Exit(2)
	}

	f, err := eop.ParseFormat(*format)
	if err != nil {
		fmt.Println("ERROR:", err)
		os.Exit(2)
	}

	table := eop.NewTable(eop.FileLoader{Path: *eopFile, Format: f, Logger: logger}, eop.TableOptions{}, logger)
	if err := table.Initialize(); err != nil {
		fmt.Println("ERROR loading EOP table:", err)
		os.Exit(1)
	}
	first, last := table.Span()
	fmt.Printf("Loaded %d EOP rows, MJD %.2f to %.2f\n", table.Len(), first, last)

	fmt.Printf("%12s %12s %10s %10s %10s\n", "MJD", "UT1-UTC[s]", "x[\"]", "y[\"]", "LOD[ms]")
	for mjd := *from; mjd <= *to; mjd += *step {
		x, y, lod, _ := table.GetPolarMotionAndLod(mjd)
		fmt.Printf("%12.4f %12.7f %10.6f %10.6f %10.4f\n", mjd, table.GetUt1UtcOffset(mjd), x, y, lod*1000)
	}

	if *tleFile == "" {
		return
	}
	if *target == "" {
		fmt.Println("ERROR: -target is required with -tle")
		os.Exit(2)
	}

	sampler, err := ephemeris.LoadSGP4Sampler(*tleFile, table, logger)
	if err != nil {
		fmt.Println("ERROR loading TLEs:", err)
		os.Exit(1)
	}

	cfg := ephemeris.DefaultConfig()
	cfg.DefaultT0, cfg.DefaultTf = *from, math.Max(*to, *from+*step)
	cfg.Step = 1.0 / 1440 // one minute
	if err := cfg.Validate(); err != nil {
		fmt.Println("ERROR:", err)
		os.Exit(2)
	}
	cache := ephemeris.NewSmoothingCache(cfg, spline.NewEngine(), sampler, logger)

	ctx := context.Background()
	fmt.Printf("\n%12s %14s %14s\n", "MJD", "|dr| [m]", "|dv| [mm/s]")
	worstR, worstV := 0.0, 0.0
	for mjd := *from; mjd <= *to; mjd += *step / 7 {
		smooth, _, _, err := cache.GetState(ctx, ephemeris.ReferenceEarth, *target, *frame, mjd)
		if err != nil {
			fmt.Println("ERROR smoothing:", err)
			os.Exit(1)
		}
		direct, err := sampler.TranslateOrigin(ctx, mjd, *target, ephemeris.ReferenceEarth, *frame)
		if err != nil {
			fmt.Println("ERROR propagating:", err)
			os.Exit(1)
		}
		dr := math.Sqrt(sq(smooth[0]-direct[0]) + sq(smooth[1]-direct[1]) + sq(smooth[2]-direct[2]))
		dv := math.Sqrt(sq(smooth[3]-direct[3]) + sq(smooth[4]-direct[4]) + sq(smooth[5]-direct[5]))
		worstR, worstV = math.Max(worstR, dr), math.Max(worstV, dv)
		fmt.Printf("%12.5f %14.3f %14.3f\n", mjd, dr*1000, dv*1e6)
	}

	stats := cache.Stats()
	fmt.Printf("\nmax |dr| %.3f m, max |dv| %.3f mm/s, %d data sets, %d knots\n",
		worstR*1000, worstV*1e6, stats.Entries, stats.Knots)
}

func sq(v float64) float64 { return v * v }
