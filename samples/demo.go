package samples

import (
	"context"

	"github.com/pteich/elastic-query-samples/fieldvalue"
)

const demoDocumentID = "doc1"

type step struct {
	name string
	run  func(ctx context.Context) error
}

// Demo runs every sample against index in a fixed order. A failing sample is
// reported and the demo continues, the index is deleted first and may not
// exist. Only cancellation stops it early.
func (s *Samples) Demo(ctx context.Context, index string, count int) (failed int, err error) {
	if count <= 0 {
		count = DefaultBulkCount
	}

	steps := []step{
		{"info", s.Info},
		{"delete index", func(ctx context.Context) error { return s.DeleteIndex(ctx, index) }},
		{"create index from JSON", func(ctx context.Context) error { return s.CreateIndexFromJSON(ctx, index, nil) }},
		// the index exists at this point, the engine rejects the second create
		{"create index", func(ctx context.Context) error { return s.CreateIndex(ctx, index, nil) }},
		{"bulk insert", func(ctx context.Context) error {
			_, err := s.BulkInsert(ctx, index, count)
			return err
		}},
		{"bulk upsert", func(ctx context.Context) error {
			_, err := s.BulkUpsert(ctx, index, count)
			return err
		}},
		{"delete document", func(ctx context.Context) error { return s.DeleteDocument(ctx, index, demoDocumentID) }},
		{"put document", func(ctx context.Context) error { return s.PutDocument(ctx, index, demoDocumentID, nil) }},
		{"get document", func(ctx context.Context) error { return s.GetDocument(ctx, index, demoDocumentID) }},
		{"term search", func(ctx context.Context) error {
			_, err := s.SearchTerm(ctx, index)
			return err
		}},
		{"condition search", func(ctx context.Context) error {
			_, err := s.SearchConditions(ctx, index, map[string]fieldvalue.Value{
				"counter": fieldvalue.String("15U"),
				"objHash": fieldvalue.Long(1113030459),
			})
			return err
		}},
		{"terms search", func(ctx context.Context) error {
			_, err := s.SearchTerms(ctx, index)
			return err
		}},
		{"scroll", func(ctx context.Context) error {
			_, err := s.Scroll(ctx, index)
			return err
		}},
		{"aggregation", func(ctx context.Context) error {
			_, err := s.Aggregate(ctx, index, nil)
			return err
		}},
		{"composite", func(ctx context.Context) error {
			_, err := s.Composite(ctx, index)
			return err
		}},
		{"composite pages", func(ctx context.Context) error {
			_, err := s.CompositePages(ctx, index, 2, true)
			return err
		}},
	}

	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		if err := st.run(ctx); err != nil {
			failed++
			s.printf("%s\n", err)
			s.logger.Warn().Err(err).Str("sample", st.name).Msg("sample failed")
		}
	}
	return failed, nil
}
