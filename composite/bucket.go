package composite

import (
	"encoding/json"
	"fmt"

	"github.com/pteich/elastic-query-samples/elastic"
)

// Bucket is one group of a composite page.
type Bucket struct {
	Key      Key
	DocCount int64
	// SubAggregations holds the raw result of every sub aggregation by name.
	SubAggregations map[string]json.RawMessage
}

var _ elastic.SearchHit = (*Bucket)(nil)

// Value returns the result of a single value metric. ok is false when the
// metric is missing or the engine reported null, e.g. max over no values.
func (b *Bucket) Value(name string) (value float64, ok bool, err error) {
	raw, found := b.SubAggregations[name]
	if !found {
		return 0, false, nil
	}
	var res struct {
		Value *float64 `json:"value"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return 0, false, fmt.Errorf("decoding metric %s: %w", name, err)
	}
	if res.Value == nil {
		return 0, false, nil
	}
	return *res.Value, true, nil
}

// TopHits returns the documents of a top_hits sub aggregation.
func (b *Bucket) TopHits(name string) ([]elastic.Hit, error) {
	raw, found := b.SubAggregations[name]
	if !found {
		return nil, nil
	}
	var res struct {
		Hits struct {
			Hits []elastic.Hit `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decoding top hits %s: %w", name, err)
	}
	return res.Hits.Hits, nil
}

// GetSource renders the bucket as a flat record for the export formats:
// key values by source name, doc_count and one entry per sub aggregation.
// Single value metrics are reduced to their value and top hits to the
// source of the first document.
func (b *Bucket) GetSource() []byte {
	record := make(map[string]interface{}, b.Key.Len()+1+len(b.SubAggregations))
	for _, kv := range b.Key.values {
		record[kv.Name] = kv.Value.Interface()
	}
	record["doc_count"] = b.DocCount

	for name, raw := range b.SubAggregations {
		record[name] = flatValue(raw)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil
	}
	return data
}

func flatValue(raw json.RawMessage) interface{} {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return raw
	}
	if value, ok := fields["value"]; ok {
		// kept verbatim so large or tiny numbers survive
		return value
	}
	if hits, ok := fields["hits"]; ok {
		var res struct {
			Hits []elastic.Hit `json:"hits"`
		}
		if err := json.Unmarshal(hits, &res); err != nil || len(res.Hits) == 0 {
			return nil
		}
		return res.Hits[0].Source
	}
	return raw
}

// Page is the result of one round.
type Page struct {
	Number  int
	Buckets []Bucket
	// After is the continuation key the engine returned with this page.
	After Key
}

func (p Page) Len() int { return len(p.Buckets) }

type wireComposite struct {
	AfterKey json.RawMessage              `json:"after_key"`
	Buckets  []map[string]json.RawMessage `json:"buckets"`
}

// decodePage extracts the named composite aggregation from a search
// response. A response without the aggregation is an empty page.
func decodePage(res *elastic.SearchResponse, req PageRequest, number int) (Page, error) {
	page := Page{Number: number}
	if res == nil || len(res.Aggregations) == 0 {
		return page, nil
	}
	raw, ok := res.Aggregations[req.Name]
	if !ok {
		return page, nil
	}

	var comp wireComposite
	if err := json.Unmarshal(raw, &comp); err != nil {
		return page, fmt.Errorf("decoding composite aggregation %s: %w", req.Name, err)
	}

	after, err := decodeKey(comp.AfterKey, req.Sources)
	if err != nil {
		return page, err
	}
	page.After = after

	page.Buckets = make([]Bucket, 0, len(comp.Buckets))
	for _, fields := range comp.Buckets {
		key, err := decodeKey(fields["key"], req.Sources)
		if err != nil {
			return page, err
		}
		if key.IsZero() {
			return page, fmt.Errorf("composite aggregation %s: bucket without key", req.Name)
		}

		bucket := Bucket{Key: key}
		if rawCount, ok := fields["doc_count"]; ok {
			if err := json.Unmarshal(rawCount, &bucket.DocCount); err != nil {
				return page, fmt.Errorf("decoding doc_count: %w", err)
			}
		}
		for name := range req.SubAggregations {
			if sub, ok := fields[name]; ok {
				if bucket.SubAggregations == nil {
					bucket.SubAggregations = make(map[string]json.RawMessage, len(req.SubAggregations))
				}
				bucket.SubAggregations[name] = sub
			}
		}
		page.Buckets = append(page.Buckets, bucket)
	}
	return page, nil
}
