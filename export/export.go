package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-query-samples/composite"
	"github.com/pteich/elastic-query-samples/elastic"
	"github.com/pteich/elastic-query-samples/flags"
	"github.com/pteich/elastic-query-samples/formats"
	"github.com/pteich/elastic-query-samples/metrics"
)

const workers = 8

type Options struct {
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	// Progress shows a progress bar on stderr.
	Progress bool
}

func (o Options) bar(total int) *pb.ProgressBar {
	if !o.Progress {
		return nil
	}
	return pb.StartNew(total)
}

func finish(bar *pb.ProgressBar) {
	if bar != nil {
		bar.Finish()
	}
}

// NewFormatter returns the writer for the given output format, CSV by default.
func NewFormatter(format string, fields []string, out io.Writer, bar *pb.ProgressBar, logger zerolog.Logger) formats.Formatter {
	switch format {
	case formats.FormatJSON:
		return formats.JSON{
			Output:      out,
			ProgressBar: bar,
		}
	case formats.FormatRAW:
		return formats.Raw{
			Output:      out,
			ProgressBar: bar,
			Logger:      logger,
		}
	default:
		return formats.CSV{
			Fields:      fields,
			Output:      out,
			Workers:     workers,
			ProgressBar: bar,
			Logger:      logger,
		}
	}
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// OpenOutput creates the output file, "-" or an empty path write to stdout.
func OpenOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	outfile, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating output file: %w", err)
	}
	return outfile, nil
}

// BuildQuery combines the optional time range with a raw query, a Lucene
// query or match_all, in this order of precedence.
func BuildQuery(conf *flags.Export) (elastic.Query, error) {
	esQuery := elastic.NewBoolQuery()

	if conf.StartDate != "" || conf.EndDate != "" {
		rangeQuery := elastic.NewRangeQuery(conf.Timefield)
		if conf.StartDate != "" {
			rangeQuery = rangeQuery.Gte(conf.StartDate)
		}
		if conf.EndDate != "" {
			rangeQuery = rangeQuery.Lte(conf.EndDate)
		}
		esQuery = esQuery.Filter(rangeQuery)
	}

	switch {
	case conf.RAWQuery != "":
		rawQuery, err := elastic.NewRawStringQuery(conf.RAWQuery)
		if err != nil {
			return nil, fmt.Errorf("invalid raw query: %w", err)
		}
		esQuery = esQuery.Must(rawQuery)
	case conf.Query != "":
		esQuery = esQuery.Must(elastic.NewQueryStringQuery(conf.Query))
	default:
		esQuery = esQuery.Must(elastic.NewMatchAllQuery())
	}

	return esQuery, nil
}

// Run exports all documents matching the flags through a scroll.
func Run(ctx context.Context, client elastic.Client, conf *flags.Export, opts Options) error {
	if conf.Fieldlist != "" {
		conf.Fields = strings.Split(conf.Fieldlist, ",")
	}

	query, err := BuildQuery(conf)
	if err != nil {
		return err
	}

	outfile, err := OpenOutput(conf.Outfile)
	if err != nil {
		return err
	}
	defer outfile.Close()

	total, err := client.Count(ctx, conf.Index, query)
	if err != nil {
		return fmt.Errorf("counting documents: %w", err)
	}
	opts.Logger.Info().Str("index", conf.Index).Int64("total", total).Msg("starting export")

	bar := opts.bar(int(total))
	defer finish(bar)

	g, gctx := errgroup.WithContext(ctx)
	hits := make(chan elastic.SearchHit)

	g.Go(func() error {
		defer close(hits)

		scroll := client.Scroll(conf.Index, conf.ScrollSize, query).KeepAlive(conf.KeepAlive)
		if len(conf.Fields) > 0 {
			scroll = scroll.FetchSourceContext(conf.Fields)
		}
		defer func() {
			if err := scroll.Clear(context.Background()); err != nil {
				opts.Logger.Warn().Err(err).Msg("clearing scroll")
			}
		}()

		for {
			res, err := scroll.Do(gctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("scrolling %s: %w", conf.Index, err)
			}

			for i := range res.Hits {
				select {
				case hits <- &res.Hits[i]:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if opts.Metrics != nil {
				opts.Metrics.DocumentsExported(conf.Index, len(res.Hits))
			}
		}
	})

	output := NewFormatter(conf.OutFormat, conf.Fields, outfile, bar, opts.Logger)
	g.Go(func() error {
		return output.Run(gctx, hits)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// WalkFunc runs a composite walk, usually Walker.Walk or a checkpointed walk.
type WalkFunc func(ctx context.Context, fn composite.PageFunc) (composite.Stats, error)

// Buckets writes every bucket of a composite walk in the given format. CSV
// columns are the key names, doc_count and the metric names; with top hits
// the columns follow the first bucket.
func Buckets(ctx context.Context, req composite.PageRequest, walk WalkFunc, out io.Writer, format string, opts Options) (composite.Stats, error) {
	fields := BucketFields(req)

	var stats composite.Stats
	bar := opts.bar(0)
	defer finish(bar)

	g, gctx := errgroup.WithContext(ctx)
	hits := make(chan elastic.SearchHit)

	g.Go(func() error {
		defer close(hits)

		var err error
		stats, err = walk(gctx, func(ctx context.Context, page composite.Page) error {
			if bar != nil {
				bar.SetTotal(bar.Total() + int64(page.Len()))
			}
			for i := range page.Buckets {
				select {
				case hits <- &page.Buckets[i]:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
		return err
	})

	output := NewFormatter(format, fields, out, bar, opts.Logger)
	g.Go(func() error {
		return output.Run(gctx, hits)
	})

	err := g.Wait()
	return stats, err
}

// BucketFields returns the CSV columns of a composite export, nil if they
// depend on the documents.
func BucketFields(req composite.PageRequest) []string {
	fields := append(req.SourceNames(), "doc_count")

	var metricNames []string
	for name, sub := range req.SubAggregations {
		if _, ok := sub.(composite.TopHits); ok {
			return nil
		}
		metricNames = append(metricNames, name)
	}
	sort.Strings(metricNames)

	return append(fields, metricNames...)
}
