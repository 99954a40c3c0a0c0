package samples

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pteich/elastic-query-samples/elastic"
)

// DefaultBulkCount is the number of documents written by the bulk samples.
const DefaultBulkCount = 20

func bulkID(i int) string {
	return fmt.Sprintf("id%d", i)
}

// BulkInsert indexes count metric documents with ids id0..id<count-1>.
func (s *Samples) BulkInsert(ctx context.Context, index string, count int) (*elastic.BulkResult, error) {
	s.title("BulkSample.bulkInsert")

	now := s.now()
	items := make([]elastic.BulkItem, 0, count)
	for i := 0; i < count; i++ {
		doc, err := json.Marshal(NewMetric(i, now))
		if err != nil {
			return nil, err
		}
		items = append(items, elastic.BulkItem{Action: elastic.BulkIndex, ID: bulkID(i), Doc: doc})
	}

	return s.bulk(ctx, index, items)
}

// BulkUpsert sets value to 1000+i*1000 on the same ids, creating documents
// that do not exist. The index must have _source enabled.
func (s *Samples) BulkUpsert(ctx context.Context, index string, count int) (*elastic.BulkResult, error) {
	s.title("BulkSample.bulkUpsert")

	items := make([]elastic.BulkItem, 0, count)
	for i := 0; i < count; i++ {
		doc, err := json.Marshal(map[string]interface{}{"value": 1000 + i*1000})
		if err != nil {
			return nil, err
		}
		items = append(items, elastic.BulkItem{
			Action:      elastic.BulkUpdate,
			ID:          bulkID(i),
			Doc:         doc,
			DocAsUpsert: true,
		})
	}

	return s.bulk(ctx, index, items)
}

func (s *Samples) bulk(ctx context.Context, index string, items []elastic.BulkItem) (*elastic.BulkResult, error) {
	if len(items) == 0 {
		return &elastic.BulkResult{}, nil
	}

	res, err := s.client.Bulk(ctx, index, items, true)
	if err != nil {
		return nil, fmt.Errorf("bulk request on %s: %w", index, err)
	}

	s.printf("Bulk response items: %d\n", res.Items)
	if res.Failed > 0 {
		s.printf("Failed items: %d\n", res.Failed)
		for _, msg := range res.Errors {
			s.logger.Warn().Str("index", index).Msg(msg)
		}
	}
	return res, nil
}
