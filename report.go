package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pteich/configstruct"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pteich/elastic-query-samples/checkpoint"
	"github.com/pteich/elastic-query-samples/composite"
	"github.com/pteich/elastic-query-samples/config"
	"github.com/pteich/elastic-query-samples/elastic"
	"github.com/pteich/elastic-query-samples/export"
	"github.com/pteich/elastic-query-samples/flags"
	"github.com/pteich/elastic-query-samples/formats"
	"github.com/pteich/elastic-query-samples/logging"
)

const defaultReportName = "composite"

func reportCommands(a *app) []*configstruct.Command {
	conf := flags.Composite{
		Size:      100,
		SortField: "ctime",
		OutFormat: formats.FormatCSV,
		Outfile:   "-",
	}

	cmd := a.command("composite", "Walk all buckets of composite aggregations and write them as CSV, JSON or raw", &conf,
		func(ctx context.Context, client elastic.Client) error {
			return a.runReports(ctx, client, &conf)
		})
	return []*configstruct.Command{cmd}
}

// selectReports returns the report built from --sources, the one named by
// --report or all reports of the config file.
func selectReports(cfg *config.Config, conf *flags.Composite) ([]config.Report, error) {
	var reports []config.Report

	switch {
	case conf.Sources != "":
		sources, err := flags.ParseSources(conf.Sources)
		if err != nil {
			return nil, err
		}
		name := conf.Report
		if name == "" {
			name = defaultReportName
		}
		r := config.Report{
			Name:    name,
			Index:   conf.Index,
			Size:    conf.Size,
			Query:   conf.Query,
			Sources: sources,
		}
		if conf.TopHits {
			r.TopHits = &config.TopHits{
				Name:      "top_hits",
				Size:      1,
				SortField: conf.SortField,
				SortOrder: string(composite.Desc),
			}
		}
		reports = append(reports, r)
	case conf.Report != "":
		r, ok := cfg.Report(conf.Report)
		if !ok {
			return nil, fmt.Errorf("report %q not found in config", conf.Report)
		}
		reports = append(reports, r)
	default:
		reports = append(reports, cfg.Reports...)
	}

	if len(reports) == 0 {
		return nil, fmt.Errorf("no report given, use --sources, --report or a config file with reports")
	}

	for i := range reports {
		if conf.Index != "" {
			reports[i].Index = conf.Index
		}
		if conf.Schedule != "" {
			reports[i].Schedule = conf.Schedule
		}
	}
	return reports, nil
}

// outputPath writes a single report to outfile. Several reports each get
// their own file named after the report, with outfile as directory.
func outputPath(outfile, name, format string, multiple bool) string {
	if !multiple {
		return outfile
	}
	dir := outfile
	if dir == "" || dir == "-" {
		dir = "."
	}
	return filepath.Join(dir, name+"."+format)
}

// openStore returns nil when checkpoints are disabled. The returned close
// function is never nil.
func openStore(cfg config.Checkpoint, dir string) (checkpoint.Store, func(), error) {
	backend := cfg.Backend
	if backend == "" && dir != "" {
		backend = "file"
	}
	if dir == "" {
		dir = cfg.Dir
	}

	switch backend {
	case "":
		return nil, func() {}, nil
	case "file":
		store, err := checkpoint.NewFileStore(dir)
		if err != nil {
			return nil, func() {}, err
		}
		return store, func() {}, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return checkpoint.NewRedisStore(rdb, cfg.KeyPrefix, cfg.TTL), func() { _ = rdb.Close() }, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown checkpoint backend %q", backend)
	}
}

type reportRunner struct {
	client  elastic.Client
	conf    *flags.Composite
	store   checkpoint.Store
	opts    []composite.Option
	exports export.Options
	logger  zerolog.Logger
	single  bool
}

// run walks one report and writes all of its buckets. Without resume an
// unfinished checkpoint is dropped first.
func (r *reportRunner) run(ctx context.Context, report config.Report, resume bool) error {
	logger := r.logger.With().Str("report", report.Name).Logger()

	req, err := report.PageRequest()
	if err != nil {
		return fmt.Errorf("report %s: %w", report.Name, err)
	}

	opts := append([]composite.Option{composite.WithLogger(logger)}, r.opts...)
	w, err := composite.NewWalker(r.client, req, opts...)
	if err != nil {
		return err
	}

	walk := export.WalkFunc(w.Walk)
	if r.store != nil {
		if !resume {
			if err := r.store.Delete(ctx, report.Name); err != nil {
				return fmt.Errorf("report %s: %w", report.Name, err)
			}
		}
		walk = func(ctx context.Context, fn composite.PageFunc) (composite.Stats, error) {
			return checkpoint.Walk(ctx, r.store, w, fn)
		}
	}

	path := outputPath(r.conf.Outfile, report.Name, r.conf.OutFormat, !r.single)
	out, err := export.OpenOutput(path)
	if err != nil {
		return err
	}
	defer out.Close()

	start := time.Now()
	stats, err := export.Buckets(ctx, req, walk, out, r.conf.OutFormat, r.exports)
	if err != nil {
		logger.Error().Err(err).Str("last", stats.Last.String()).Msg("report failed")
		return fmt.Errorf("report %s: %w", report.Name, err)
	}

	logger.Info().
		Int("rounds", stats.Rounds).
		Int("pages", stats.Pages).
		Int("buckets", stats.Buckets).
		Dur("took", time.Since(start)).
		Str("output", path).
		Msg("report finished")
	return nil
}

// runAll runs the reports concurrently.
func (r *reportRunner) runAll(ctx context.Context, reports []config.Report, resume bool) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, report := range reports {
		g.Go(func() error {
			return r.run(gctx, report, resume)
		})
	}
	return g.Wait()
}

func (a *app) runReports(ctx context.Context, client elastic.Client, conf *flags.Composite) error {
	reports, err := selectReports(a.cfg, conf)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(a.cfg.Checkpoint, conf.CheckpointDir)
	if err != nil {
		return err
	}
	defer closeStore()
	if conf.Resume && store == nil {
		return fmt.Errorf("--resume needs a checkpoint backend or --checkpoint-dir")
	}

	listen := conf.Metrics
	if listen == "" {
		listen = a.cfg.Metrics.Listen
	}
	if listen != "" {
		mctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := a.metrics.Serve(mctx, listen, logging.NewLogger("metrics")); err != nil {
				a.logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	runner := &reportRunner{
		client: client,
		conf:   conf,
		store:  store,
		opts: []composite.Option{
			composite.WithObserver(a.metrics.Observer()),
			composite.WithRoundTimeout(a.cfg.Connection.ResponseTimeout),
		},
		exports: export.Options{
			Logger:   logging.NewLogger("export"),
			Metrics:  a.metrics,
			Progress: conf.Outfile != "-" && len(reports) == 1,
		},
		logger: logging.NewLogger("report"),
		single: len(reports) == 1,
	}

	var once, scheduled []config.Report
	for _, r := range reports {
		if r.Schedule != "" {
			scheduled = append(scheduled, r)
		} else {
			once = append(once, r)
		}
	}

	if len(once) > 0 {
		if err := runner.runAll(ctx, once, conf.Resume); err != nil {
			return err
		}
	}
	if len(scheduled) == 0 {
		return nil
	}

	return schedule(ctx, runner, scheduled, conf.Resume)
}

// schedule runs every report on its cron expression until ctx is done. A run
// that is still busy when the next one is due skips it.
func schedule(ctx context.Context, runner *reportRunner, reports []config.Report, resume bool) error {
	logger := cron.PrintfLogger(logging.Printf{Logger: logging.NewLogger("cron"), Level: zerolog.InfoLevel})
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	for _, report := range reports {
		// only the first run of a report continues an old checkpoint
		first := resume
		_, err := c.AddFunc(report.Schedule, func() {
			if err := runner.run(ctx, report, first); err != nil {
				runner.logger.Error().Err(err).Str("report", report.Name).Msg("scheduled report failed")
			}
			first = false
		})
		if err != nil {
			return fmt.Errorf("report %s: invalid schedule %q: %w", report.Name, report.Schedule, err)
		}
		runner.logger.Info().Str("report", report.Name).Str("schedule", report.Schedule).Msg("report scheduled")
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
