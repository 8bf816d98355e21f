package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bbernstein/tidecal/internal/adapter"
	"github.com/bbernstein/tidecal/internal/cache"
	"github.com/bbernstein/tidecal/internal/catalog"
	"github.com/bbernstein/tidecal/internal/config"
	"github.com/bbernstein/tidecal/internal/metrics"
	"github.com/bbernstein/tidecal/internal/tide"
	"github.com/bbernstein/tidecal/pkg/http/client"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const application = "tidecal"

// Exit codes, one per failure class so scripts can tell a typo from an outage.
const (
	exitOK          = 0
	exitError       = 1
	exitUsage       = 2
	exitUnknown     = 3
	exitNoData      = 4
	exitUnavailable = 5
)

func main() {
	cfg, err := config.Load()
	cfg.InitializeLogging()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load configuration")
	}

	os.Exit(run(context.Background(), cfg, metrics.NewMetrics(), os.Args[1:], os.Stdout))
}

func run(ctx context.Context, cfg *config.Config, m *metrics.Metrics, args []string, stdout io.Writer) int {
	now := time.Now()

	fs := flag.NewFlagSet("tides", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	stationID := fs.String("station", "", "NOAA or CHS station id (required)")
	source := fs.String("source", "", "provider hint: NOAA or CHS")
	year := fs.Int("year", now.Year(), "year")
	month := fs.Int("month", int(now.Month()), "month, 1-12")
	lowWater := fs.Float64("low-water", cfg.LowWaterMark, "mark days whose low is below this height in metres")
	asJSON := fs.Bool("json", false, "print the events as JSON")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *stationID == "" {
		fmt.Fprintln(os.Stderr, "-station is required")
		fs.Usage()
		return exitUsage
	}

	svc, closeFn := newService(ctx, cfg, m)
	defer closeFn()

	result, err := svc.GetEvents(ctx, *stationID, *source, *year, *month)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitCode(err)
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			log.Error().Err(err).Msg("Could not write output")
			return exitError
		}
		return exitOK
	}

	fmt.Fprintf(stdout, "%s (%s) %s %d\n", result.StationID, result.Source, time.Month(result.Month), result.Year)
	for _, line := range tide.FormatEvents(result.Events, *lowWater) {
		fmt.Fprintln(stdout, line)
	}
	return exitOK
}

// newService wires both providers, the caches and, when the catalog opens,
// lookup counting. The returned func releases the catalog.
func newService(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*tide.Service, func()) {
	cacheCfg := config.GetCacheConfig()
	clock := clockwork.NewRealClock()

	noaa := adapter.NewNOAAAdapter(client.New(client.Options{
		BaseURL:   cfg.NOAABaseURL,
		Timeout:   cfg.HTTPTimeout,
		UserAgent: cfg.UserAgent,
	}), application)

	chsOpts := []adapter.CHSOption{adapter.WithCHSMetrics(m)}
	if resolutions, err := cache.NewResolutionCache(cacheCfg, clock); err != nil {
		log.Warn().Err(err).Msg("Resolution cache disabled")
	} else {
		chsOpts = append(chsOpts, adapter.WithResolutionCache(resolutions))
	}
	chs := adapter.NewCHSAdapter(client.New(client.Options{
		BaseURL:   cfg.CHSBaseURL,
		Timeout:   cfg.HTTPTimeout,
		UserAgent: cfg.UserAgent,
	}), chsOpts...)

	opts := []tide.Option{tide.WithMetrics(m)}
	if cacheCfg.EnableEventCache {
		if events, err := cache.NewEventCache(cacheCfg, clock); err != nil {
			log.Warn().Err(err).Msg("Event cache disabled")
		} else {
			opts = append(opts, tide.WithCache(events))
		}
	}

	closeFn := func() {}
	store, err := catalog.Open(ctx, cfg.CatalogDSN)
	if err != nil {
		log.Warn().Err(err).Msg("Catalog unavailable, lookups will not be counted")
	} else {
		opts = append(opts, tide.WithLookupRecorder(store))
		closeFn = func() { _ = store.Close() }
	}

	return tide.NewService(adapter.NewDispatcher(noaa, chs), opts...), closeFn
}

func exitCode(err error) int {
	switch adapter.Outcome(err) {
	case "invalid_input":
		return exitUsage
	case "unknown_station":
		return exitUnknown
	case "no_data":
		return exitNoData
	case "unavailable":
		return exitUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return exitUnavailable
	}
	return exitError
}
