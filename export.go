package main

import (
	"context"

	"github.com/pteich/configstruct"

	"github.com/pteich/elastic-query-samples/elastic"
	"github.com/pteich/elastic-query-samples/export"
	"github.com/pteich/elastic-query-samples/flags"
	"github.com/pteich/elastic-query-samples/formats"
	"github.com/pteich/elastic-query-samples/logging"
)

func exportCommands(a *app) []*configstruct.Command {
	conf := flags.Export{
		Index:      "logs-*",
		Query:      "*",
		OutFormat:  formats.FormatCSV,
		Outfile:    "output.csv",
		ScrollSize: 1000,
		KeepAlive:  "1m",
		Timefield:  "Timestamp",
	}

	cmd := a.command("export", "Export all documents matching a query into a CSV, JSON or raw file", &conf,
		func(ctx context.Context, client elastic.Client) error {
			return export.Run(ctx, client, &conf, export.Options{
				Logger:   logging.NewLogger("export"),
				Metrics:  a.metrics,
				Progress: conf.Outfile != "-",
			})
		})
	return []*configstruct.Command{cmd}
}
