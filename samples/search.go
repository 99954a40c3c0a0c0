package samples

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pteich/elastic-query-samples/elastic"
	"github.com/pteich/elastic-query-samples/fieldvalue"
)

const (
	searchSize = 10
	scrollSize = 5
	keepAlive  = "1m"
)

// counterFilter is the filter shared by the term, scroll and aggregation samples.
func counterFilter() elastic.Query {
	return elastic.NewBoolQuery().Filter(elastic.NewTermQuery("counter", fieldvalue.String("15U")))
}

// SearchTerm returns up to ten documents with counter "15U".
func (s *Samples) SearchTerm(ctx context.Context, index string) (*elastic.SearchResponse, error) {
	s.title("SearchDocumentsSample.searchWithTerm")
	return s.search(ctx, index, counterFilter())
}

// SearchConditions filters on every field of conditions, term for scalars and
// terms for lists.
func (s *Samples) SearchConditions(ctx context.Context, index string, conditions map[string]fieldvalue.Value) (*elastic.SearchResponse, error) {
	s.title("SearchDocumentsSample.searchWithConditions")
	return s.search(ctx, index, elastic.NewFilterQuery(conditions))
}

// SearchTerms matches the first two objHash values of the bulk documents.
func (s *Samples) SearchTerms(ctx context.Context, index string) (*elastic.SearchResponse, error) {
	s.title("SearchDocumentsSample.searchWithTerms")

	hashes, err := fieldvalue.Of([]int64{1113030459, 1113030460})
	if err != nil {
		return nil, err
	}
	query := elastic.NewBoolQuery().Filter(
		elastic.NewTermQuery("counter", fieldvalue.String("15U")),
		elastic.NewTermsQuery("objHash", hashes),
	)
	return s.search(ctx, index, query)
}

func (s *Samples) search(ctx context.Context, index string, query elastic.Query) (*elastic.SearchResponse, error) {
	body, err := json.Marshal(elastic.ScrollBody(searchSize, query.Build(), nil, docvalueFields))
	if err != nil {
		return nil, fmt.Errorf("encoding search: %w", err)
	}
	s.logger.Debug().RawJSON("body", body).Str("index", index).Msg("search")

	res, err := s.client.Search(ctx, index, body)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", index, err)
	}

	s.printTotal(res)
	s.printHits(res.Hits)
	return res, nil
}

// Scroll reads all documents with counter "15U" five at a time and returns
// their number. The scroll context is cleared on every path.
func (s *Samples) Scroll(ctx context.Context, index string) (count int, err error) {
	s.title("ScrollSample.search")

	scroll := s.client.Scroll(index, scrollSize, counterFilter()).
		KeepAlive(keepAlive).
		DocvalueFields(docvalueFields...)
	defer func() {
		if cerr := scroll.Clear(context.Background()); cerr != nil {
			s.logger.Warn().Err(cerr).Str("index", index).Msg("clearing scroll")
		}
	}()

	for {
		res, err := scroll.Do(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return count, fmt.Errorf("scrolling %s: %w", index, err)
		}
		s.printHits(res.Hits)
		count += len(res.Hits)
	}

	s.printf("Total Documents: %d\n", count)
	return count, nil
}
