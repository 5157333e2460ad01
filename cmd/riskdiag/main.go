package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/star/orbitwatch/internal/catalog"
	"github.com/star/orbitwatch/internal/propagation"
	"github.com/star/orbitwatch/internal/risk"
	"github.com/star/orbitwatch/internal/tle"
)

func main() {
	var (
		file        = flag.String("file", "", "catalog text file (required)")
		at          = flag.String("at", "", "evaluation instant, RFC 3339 (default now)")
		horizon     = flag.Duration("horizon", time.Hour, "evaluation horizon")
		policy      = flag.String("policy", "endpoint", "sampling policy: endpoint, uniform or stepped")
		samples     = flag.Int("samples", 0, "sample count for the uniform policy")
		step        = flag.Duration("step", 0, "sample spacing for the stepped policy")
		target      = flag.String("target", "", "only evaluate pairs involving this object id")
		z           = flag.Float64("z", 0, "skip samples whose vertical separation exceeds this many km (0 disables)")
		includeNone = flag.Bool("include-none", false, "report pairs that scored zero")
		workers     = flag.Int("workers", 0, "worker count (default NumCPU)")
		debris      = flag.Bool("detect-debris", true, "tag DEB and R/B names as debris")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	instant := time.Now().UTC()
	if *at != "" {
		t, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ERROR parsing -at:", err)
			os.Exit(2)
		}
		instant = t.UTC()
	}
	p, err := risk.ParsePolicy(*policy)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR parsing -policy:", err)
		os.Exit(2)
	}

	f, err := os.Open(*file)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR reading catalog:", err)
		os.Exit(1)
	}
	parsed, err := tle.Parse(f, tle.Options{DetectDebris: *debris}, logger)
	f.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR parsing catalog:", err)
		os.Exit(1)
	}

	store := catalog.NewStore()
	cat, dupes := store.Replace(*file, time.Now().UTC(), parsed.Sets)
	fmt.Fprintf(os.Stderr, "Loaded %d objects (%d malformed, %d duplicates), catalog version %d\n",
		cat.Len(), len(parsed.Errors), len(dupes), cat.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	prop := propagation.NewPropagator(propagation.Config{Workers: *workers}, logger)
	est := risk.NewEstimator(prop, risk.Config{
		Sampling:    risk.Sampling{Policy: p, Samples: *samples, Step: *step},
		Target:      *target,
		ZThreshold:  *z,
		Workers:     *workers,
		IncludeNone: *includeNone,
	}, logger)

	start := time.Now()
	report, err := est.Evaluate(ctx, cat, instant, *horizon)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR evaluating risk:", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Evaluated %d pairs in %v, %d reported, %d excluded\n",
		report.PairsEvaluated, time.Since(start).Round(time.Millisecond), len(report.Pairs), len(report.Excluded))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR writing report:", err)
		os.Exit(1)
	}
}
