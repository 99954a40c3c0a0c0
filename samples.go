package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pteich/configstruct"

	"github.com/pteich/elastic-query-samples/elastic"
	"github.com/pteich/elastic-query-samples/flags"
	"github.com/pteich/elastic-query-samples/logging"
	"github.com/pteich/elastic-query-samples/samples"
)

func (a *app) samples(client elastic.Client) *samples.Samples {
	return samples.New(client, os.Stdout, logging.NewLogger("samples"))
}

func readBody(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func sampleCommands(a *app) []*configstruct.Command {
	infoConf := struct{}{}
	indexConf := flags.Index{Index: samples.DefaultIndex}
	deleteIndexConf := flags.Index{Index: samples.DefaultIndex}
	putConf := flags.Document{Index: samples.DefaultIndex, ID: "doc1"}
	getConf := flags.Document{Index: samples.DefaultIndex, ID: "doc1"}
	deleteConf := flags.Document{Index: samples.DefaultIndex, ID: "doc1"}
	bulkConf := flags.Bulk{Index: samples.DefaultIndex, Count: samples.DefaultBulkCount}
	searchConf := flags.Search{Index: samples.DefaultIndex}
	aggConf := flags.Aggregate{Index: samples.DefaultIndex}
	demoConf := flags.Demo{Index: samples.DefaultIndex, Count: samples.DefaultBulkCount}

	commands := []struct {
		name        string
		description string
		conf        interface{}
		run         func(ctx context.Context, client elastic.Client) error
	}{
		{"info", "Print server distribution and version", &infoConf, func(ctx context.Context, client elastic.Client) error {
			return a.samples(client).Info(ctx)
		}},
		{"create-index", "Create an index with the sample metric mapping or a JSON definition", &indexConf, func(ctx context.Context, client elastic.Client) error {
			body, err := readBody(indexConf.Body)
			if err != nil {
				return err
			}
			if body != nil {
				return a.samples(client).CreateIndexFromJSON(ctx, indexConf.Index, body)
			}
			return a.samples(client).CreateIndex(ctx, indexConf.Index, nil)
		}},
		{"delete-index", "Delete an index", &deleteIndexConf, func(ctx context.Context, client elastic.Client) error {
			return a.samples(client).DeleteIndex(ctx, deleteIndexConf.Index)
		}},
		{"put-doc", "Index a single document", &putConf, func(ctx context.Context, client elastic.Client) error {
			var doc []byte
			if putConf.Doc != "" {
				doc = []byte(putConf.Doc)
			}
			return a.samples(client).PutDocument(ctx, putConf.Index, putConf.ID, doc)
		}},
		{"get-doc", "Read a single document by id", &getConf, func(ctx context.Context, client elastic.Client) error {
			return a.samples(client).GetDocument(ctx, getConf.Index, getConf.ID)
		}},
		{"delete-doc", "Delete a single document by id", &deleteConf, func(ctx context.Context, client elastic.Client) error {
			return a.samples(client).DeleteDocument(ctx, deleteConf.Index, deleteConf.ID)
		}},
		{"bulk", "Bulk insert or upsert sample metric documents", &bulkConf, func(ctx context.Context, client elastic.Client) error {
			s := a.samples(client)
			var res *elastic.BulkResult
			var err error
			if bulkConf.Upsert {
				res, err = s.BulkUpsert(ctx, bulkConf.Index, bulkConf.Count)
			} else {
				res, err = s.BulkInsert(ctx, bulkConf.Index, bulkConf.Count)
			}
			if err != nil {
				return err
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d of %d bulk items failed", res.Failed, res.Items)
			}
			return nil
		}},
		{"search", "Search with term and terms filters or scroll through all matches", &searchConf, func(ctx context.Context, client elastic.Client) error {
			s := a.samples(client)
			if searchConf.Scroll {
				_, err := s.Scroll(ctx, searchConf.Index)
				return err
			}
			if searchConf.Filter == "" {
				_, err := s.SearchTerm(ctx, searchConf.Index)
				return err
			}
			conditions, err := searchConf.Conditions()
			if err != nil {
				return err
			}
			_, err = s.SearchConditions(ctx, searchConf.Index, conditions)
			return err
		}},
		{"aggregate", "Nested terms aggregation with the max value per group", &aggConf, func(ctx context.Context, client elastic.Client) error {
			var query elastic.Query
			if aggConf.Filter != "" {
				conditions, err := flags.ParseConditions(aggConf.Filter)
				if err != nil {
					return err
				}
				query = elastic.NewFilterQuery(conditions)
			}
			_, err := a.samples(client).Aggregate(ctx, aggConf.Index, query)
			return err
		}},
		{"demo", "Run all samples in order against one index", &demoConf, func(ctx context.Context, client elastic.Client) error {
			failed, err := a.samples(client).Demo(ctx, demoConf.Index, demoConf.Count)
			a.logger.Info().Int("failed", failed).Msg("demo finished")
			return err
		}},
	}

	cmds := make([]*configstruct.Command, 0, len(commands))
	for _, c := range commands {
		cmds = append(cmds, a.command(c.name, c.description, c.conf, c.run))
	}
	return cmds
}
