package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/bbernstein/tidecal/internal/catalog"
	"github.com/bbernstein/tidecal/internal/config"
	"github.com/bbernstein/tidecal/internal/metrics"
	"github.com/bbernstein/tidecal/internal/models"
	"github.com/bbernstein/tidecal/internal/snapshot"
	"github.com/bbernstein/tidecal/internal/station"
	"github.com/bbernstein/tidecal/internal/syncer"
	"github.com/bbernstein/tidecal/pkg/http/client"
	"github.com/rs/zerolog/log"
)

const usage = `usage: stations <command> [flags]

commands:
  sync     [-source chs|noaa|all] [-json]
  search   [-country USA|Canada] [-limit n] <text>
  popular  [-limit n]
  nearest  -lat <deg> -lon <deg> [-limit n] [-source NOAA|CHS]
`

var lambdaStart = lambda.Start

func main() {
	cfg, err := config.Load()
	cfg.InitializeLogging()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load configuration")
	}

	m := metrics.NewMetrics()

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		log.Info().Str("env", cfg.Environment).Msg("Starting scheduled station sync handler")
		lambdaStart(newSyncHandler(cfg, m))
		return
	}

	os.Exit(run(context.Background(), cfg, m, os.Args[1:], os.Stdout))
}

// newSyncHandler runs both catalog passes for each scheduled event.
func newSyncHandler(cfg *config.Config, m *metrics.Metrics) func(context.Context, events.CloudWatchEvent) ([]syncer.Summary, error) {
	return func(ctx context.Context, event events.CloudWatchEvent) ([]syncer.Summary, error) {
		log.Info().Str("event_id", event.ID).Str("detail_type", event.DetailType).Msg("Handling scheduled sync")

		a, err := newApp(ctx, cfg, m)
		if err != nil {
			return nil, err
		}
		defer a.Close()

		summaries := a.engine.SyncAll(ctx)
		a.writeMetrics()
		return summaries, failures(summaries)
	}
}

type app struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	store   *catalog.Store
	engine  *syncer.Engine
}

func newApp(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*app, error) {
	store, err := catalog.Open(ctx, cfg.CatalogDSN)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	opts := []syncer.Option{
		syncer.WithPopulationThreshold(cfg.PopulationThreshold),
		syncer.WithMetrics(m),
	}

	if len(cfg.CHSDirectoryURLs) > 0 {
		dir := station.NewCHSDirectoryFromURLs(cfg.CHSDirectoryURLs, client.Options{
			Timeout:   cfg.HTTPTimeout,
			UserAgent: cfg.UserAgent,
		}, station.WithDirectoryMetrics(m))
		opts = append(opts, syncer.WithDirectory(dir))
	}

	snapOpts, err := snapshotOptions(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	opts = append(opts, snapOpts...)

	return &app{
		cfg:     cfg,
		metrics: m,
		store:   store,
		engine:  syncer.NewEngine(store, opts...),
	}, nil
}

// snapshotOptions orders each source's fallbacks: local file, then S3, then
// the lists bundled into the binary. The Canadian S3 object doubles as the
// publish target for fresh directory listings.
func snapshotOptions(ctx context.Context, cfg *config.Config) ([]syncer.Option, error) {
	var ca, us []snapshot.Snapshot
	var opts []syncer.Option

	if cfg.CanadianSnapshotPath != "" {
		ca = append(ca, snapshot.NewFileSnapshot(cfg.CanadianSnapshotPath, models.SourceCHS))
	}
	if cfg.USSnapshotPath != "" {
		us = append(us, snapshot.NewFileSnapshot(cfg.USSnapshotPath, models.SourceNOAA))
	}

	if cfg.SnapshotBucket != "" {
		s3Client, err := snapshot.NewS3Client(ctx, cfg.S3Endpoint, cfg.AWSRegion)
		if err != nil {
			return nil, fmt.Errorf("creating S3 client: %w", err)
		}
		caS3 := snapshot.NewS3Snapshot(s3Client, cfg.SnapshotBucket, cfg.CanadianSnapshotKey, models.SourceCHS, nil)
		ca = append(ca, caS3)
		us = append(us, snapshot.NewS3Snapshot(s3Client, cfg.SnapshotBucket, cfg.USSnapshotKey, models.SourceNOAA, nil))
		opts = append(opts, syncer.WithPublisher(caS3))
	}

	ca = append(ca, snapshot.NewEmbeddedSnapshot(snapshot.CanadianFile, models.SourceCHS))
	us = append(us, snapshot.NewEmbeddedSnapshot(snapshot.USFile, models.SourceNOAA))

	return append(opts,
		syncer.WithCanadianSnapshot(snapshot.NewChainSnapshot(ca...)),
		syncer.WithUSSnapshot(snapshot.NewChainSnapshot(us...)),
	), nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) writeMetrics() {
	if a.cfg.MetricsTextfile == "" {
		return
	}
	if err := a.metrics.WriteTextfile(a.cfg.MetricsTextfile); err != nil {
		log.Warn().Err(err).Str("path", a.cfg.MetricsTextfile).Msg("Could not write metrics textfile")
	}
}

func failures(summaries []syncer.Summary) error {
	var errs []error
	for _, s := range summaries {
		if !s.Success {
			errs = append(errs, fmt.Errorf("%s sync failed: %s", s.Source, s.Error))
		}
	}
	return errors.Join(errs...)
}

// run executes one command and returns the process exit code: 0 on success,
// 1 when the command failed, 2 on a usage error.
func run(ctx context.Context, cfg *config.Config, m *metrics.Metrics, args []string, stdout io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}

	var cmd func(context.Context, *app, []string, io.Writer) error
	switch args[0] {
	case "sync":
		cmd = runSync
	case "search":
		cmd = runSearch
	case "popular":
		cmd = runPopular
	case "nearest":
		cmd = runNearest
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	a, err := newApp(ctx, cfg, m)
	if err != nil {
		log.Error().Err(err).Msg("Startup failed")
		return 1
	}
	defer a.Close()

	err = cmd(ctx, a, args[1:], stdout)
	var usageErr usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &usageErr), errors.Is(err, flag.ErrHelp):
		fmt.Fprintf(os.Stderr, "%v\n\n%s", err, usage)
		return 2
	default:
		log.Error().Err(err).Str("command", args[0]).Msg("Command failed")
		return 1
	}
}

type usageError string

func (e usageError) Error() string {
	return string(e)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usageError(err.Error())
	}
	return nil
}

func runSync(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("sync")
	source := fs.String("source", "all", "chs, noaa or all")
	asJSON := fs.Bool("json", false, "print summaries as JSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	var summaries []syncer.Summary
	switch strings.ToLower(*source) {
	case "all":
		summaries = a.engine.SyncAll(ctx)
	case "chs":
		summaries = []syncer.Summary{a.engine.SyncCanadian(ctx)}
	case "noaa":
		summaries = []syncer.Summary{a.engine.SyncUS(ctx)}
	default:
		return usageError(fmt.Sprintf("unknown source %q", *source))
	}
	a.writeMetrics()

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summaries); err != nil {
			return err
		}
	} else {
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		for _, s := range summaries {
			status := "ok"
			if !s.Success {
				status = "FAILED: " + s.Error
			}
			fmt.Fprintf(tw, "%s\t%s\t+%d\t~%d\t-%d\t%s\n", s.Source, s.Path, s.Inserted, s.Updated, s.Removed, status)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	return failures(summaries)
}

func runSearch(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("search")
	country := fs.String("country", "", "restrict to USA or Canada")
	limit := fs.Int("limit", 20, "maximum results")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	text := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(text) == "" {
		return usageError("search needs some text")
	}

	records, err := a.store.Search(ctx, text, *country, *limit)
	if err != nil {
		return err
	}
	return printRecords(stdout, records, false)
}

func runPopular(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("popular")
	limit := fs.Int("limit", 10, "maximum results")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	records, err := a.store.MostUsed(ctx, *limit)
	if err != nil {
		return err
	}
	return printRecords(stdout, records, false)
}

func runNearest(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("nearest")
	lat := fs.Float64("lat", 0, "latitude in degrees")
	lon := fs.Float64("lon", 0, "longitude in degrees")
	limit := fs.Int("limit", 5, "maximum results")
	source := fs.String("source", "", "restrict to NOAA or CHS")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if !set["lat"] || !set["lon"] {
		return usageError("nearest needs -lat and -lon")
	}

	finder := station.NewNearestFinder(a.store)
	records, err := finder.FindNearestStations(ctx, *lat, *lon, *limit, models.Source(strings.ToUpper(*source)))
	if err != nil {
		return err
	}
	return printRecords(stdout, records, true)
}

func printRecords(w io.Writer, records []models.StationRecord, withDistance bool) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "no stations found")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range records {
		if withDistance {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f km\n", r.StationID, r.Label(), r.Source, r.Distance)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", r.StationID, r.Label(), r.Source, r.UsageCount)
	}
	return tw.Flush()
}
