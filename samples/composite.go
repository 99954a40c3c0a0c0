package samples

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pteich/elastic-query-samples/composite"
)

const topHitsName = "topHits"

// CounterHashRequest groups by counter and objHash, both ascending.
func CounterHashRequest(index, name string, size int) composite.PageRequest {
	return composite.PageRequest{
		Index: index,
		Name:  name,
		Size:  size,
		Sources: []composite.GroupKey{
			{Name: "COUNTER", Field: "counter", Order: composite.Asc},
			{Name: "OBJ_HASH", Field: "objHash", Order: composite.Asc},
		},
	}
}

// Composite issues a single composite request with the engine's default page
// size and prints the buckets of that page.
func (s *Samples) Composite(ctx context.Context, index string) (composite.Page, error) {
	s.title("CompositeAggregationSample.search")

	// 10 is the engine default when no size is sent
	w, err := composite.NewWalker(s.client, CounterHashRequest(index, "my_buckets", 10), composite.WithLogger(s.logger))
	if err != nil {
		return composite.Page{}, err
	}

	page, err := w.Fetch(ctx, composite.Key{})
	if err != nil {
		return composite.Page{}, err
	}

	s.printf("key: %s\n", w.Name())
	for _, b := range page.Buckets {
		s.printf("%s : %d\n", b.Key, b.DocCount)
	}
	return page, nil
}

// CompositePages walks all buckets size at a time. With topHits every bucket
// carries its latest document by ctime, which is printed before the keys of
// the page.
func (s *Samples) CompositePages(ctx context.Context, index string, size int, topHits bool) (composite.Stats, error) {
	s.title("CompositeAggregationPaginationSample.search")

	req := CounterHashRequest(index, "compAgg", size)
	if topHits {
		req.SubAggregations = map[string]composite.SubAggregation{
			topHitsName: composite.NewTopHits(1, composite.SortField{Field: "ctime", Order: composite.Desc}),
		}
	}

	w, err := composite.NewWalker(s.client, req, composite.WithLogger(s.logger))
	if err != nil {
		return composite.Stats{}, err
	}

	return w.Walk(ctx, func(_ context.Context, page composite.Page) error {
		s.logger.Debug().Int("page", page.Number).Int("buckets", page.Len()).Msg("composite page")

		if topHits {
			for i := range page.Buckets {
				hits, err := page.Buckets[i].TopHits(topHitsName)
				if err != nil {
					return err
				}
				for _, hit := range hits {
					s.printf("%s\n", sourceLine(hit.Source))
				}
			}
		}
		for _, b := range page.Buckets {
			s.printf("%s : %d\n", b.Key, b.DocCount)
		}
		return nil
	})
}

// sourceLine prints the fields of a source as "name : value, " in key order.
func sourceLine(raw json.RawMessage) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return string(raw)
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var line string
	for _, name := range names {
		line += fmt.Sprintf("%s : %s, ", name, fields[name])
	}
	return line
}
