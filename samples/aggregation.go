package samples

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pteich/elastic-query-samples/elastic"
)

const (
	mainAgg   = "MainAgg_term"
	subAgg    = "SubAgg_term"
	subSubAgg = "SubSubAgg_max"
)

// TermsBucket is a bucket of the nested terms aggregation.
type TermsBucket struct {
	Key      json.RawMessage
	DocCount int64
	Max      *float64
	Buckets  []TermsBucket
}

type wireTerms struct {
	Buckets []wireTermsBucket `json:"buckets"`
}

type wireTermsBucket struct {
	Key      json.RawMessage `json:"key"`
	DocCount int64           `json:"doc_count"`
	Sub      *wireTerms      `json:"SubAgg_term"`
	Max      *struct {
		Value *float64 `json:"value"`
	} `json:"SubSubAgg_max"`
}

func (b wireTermsBucket) bucket() TermsBucket {
	out := TermsBucket{Key: b.Key, DocCount: b.DocCount}
	if b.Max != nil {
		out.Max = b.Max.Value
	}
	if b.Sub != nil {
		for _, sub := range b.Sub.Buckets {
			out.Buckets = append(out.Buckets, sub.bucket())
		}
	}
	return out
}

func aggregationBody(query elastic.Query) map[string]interface{} {
	return map[string]interface{}{
		"size":  0,
		"query": query.Build(),
		"aggs": map[string]interface{}{
			mainAgg: map[string]interface{}{
				"terms": map[string]interface{}{"field": "counter"},
				"aggs": map[string]interface{}{
					subAgg: map[string]interface{}{
						"terms": map[string]interface{}{"field": "objHash"},
						"aggs": map[string]interface{}{
							subSubAgg: map[string]interface{}{
								"max": map[string]interface{}{"field": "value"},
							},
						},
					},
				},
			},
		},
	}
}

// Aggregate groups the documents matching query by counter, then objHash,
// with the maximum value per group. A nil query uses the counter filter.
func (s *Samples) Aggregate(ctx context.Context, index string, query elastic.Query) ([]TermsBucket, error) {
	s.title("AggregationSample.search")

	if query == nil {
		query = counterFilter()
	}
	body, err := json.Marshal(aggregationBody(query))
	if err != nil {
		return nil, fmt.Errorf("encoding aggregation: %w", err)
	}

	res, err := s.client.Search(ctx, index, body)
	if err != nil {
		return nil, fmt.Errorf("aggregating %s: %w", index, err)
	}

	raw, ok := res.Aggregations[mainAgg]
	if !ok {
		return nil, nil
	}
	var terms wireTerms
	if err := json.Unmarshal(raw, &terms); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", mainAgg, err)
	}

	buckets := make([]TermsBucket, 0, len(terms.Buckets))
	for _, b := range terms.Buckets {
		buckets = append(buckets, b.bucket())
	}
	s.printTree(buckets)
	return buckets, nil
}

func (s *Samples) printTree(buckets []TermsBucket) {
	s.printf("Agg - %s\n", mainAgg)
	for _, main := range buckets {
		s.printf("    key: %s\n", unquote(main.Key))
		s.printf("    Agg - %s\n", subAgg)
		for _, sub := range main.Buckets {
			s.printf("        key: %s (count=%d)\n", unquote(sub.Key), sub.DocCount)
			if sub.Max != nil {
				s.printf("            max=%f\n", *sub.Max)
			}
		}
	}
}

func unquote(raw json.RawMessage) string {
	return strings.Trim(string(raw), `"`)
}
