package composite

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pteich/elastic-query-samples/elastic"
)

var (
	// ErrInvalidRequest is returned for templates that cannot be walked.
	ErrInvalidRequest = errors.New("composite: invalid request")
	// ErrKeyMismatch is returned when a continuation key does not belong to the template.
	ErrKeyMismatch = errors.New("composite: continuation key does not match sources")
)

type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// GroupKey is one terms source of a composite aggregation.
type GroupKey struct {
	Name          string
	Field         string
	Order         Order
	MissingBucket bool
}

func (g GroupKey) source() map[string]interface{} {
	order := g.Order
	if order == "" {
		order = Asc
	}
	return map[string]interface{}{
		g.Name: map[string]interface{}{
			"terms": map[string]interface{}{
				"field":          g.Field,
				"missing_bucket": g.MissingBucket,
				"order":          string(order),
			},
		},
	}
}

// SubAggregation is evaluated once per composite bucket.
type SubAggregation interface {
	Source() map[string]interface{}
}

type SortField struct {
	Field string
	Order Order
}

// TopHits returns the best matching documents of every bucket.
type TopHits struct {
	Size     int
	Sort     []SortField
	Includes []string
}

func NewTopHits(size int, sort ...SortField) TopHits {
	return TopHits{Size: size, Sort: sort}
}

func (t TopHits) Source() map[string]interface{} {
	body := map[string]interface{}{}
	if t.Size > 0 {
		body["size"] = t.Size
	}
	if len(t.Sort) > 0 {
		sort := make([]interface{}, 0, len(t.Sort))
		for _, s := range t.Sort {
			order := s.Order
			if order == "" {
				order = Asc
			}
			sort = append(sort, map[string]interface{}{
				s.Field: map[string]interface{}{"order": string(order)},
			})
		}
		body["sort"] = sort
	}
	if len(t.Includes) > 0 {
		body["_source"] = map[string]interface{}{"includes": t.Includes}
	}
	return map[string]interface{}{"top_hits": body}
}

// Metric is a single value metric aggregation such as sum or avg.
type Metric struct {
	Type  string
	Field string
}

func Sum(field string) Metric         { return Metric{Type: "sum", Field: field} }
func Avg(field string) Metric         { return Metric{Type: "avg", Field: field} }
func Min(field string) Metric         { return Metric{Type: "min", Field: field} }
func Max(field string) Metric         { return Metric{Type: "max", Field: field} }
func ValueCount(field string) Metric  { return Metric{Type: "value_count", Field: field} }
func Cardinality(field string) Metric { return Metric{Type: "cardinality", Field: field} }

func (m Metric) Source() map[string]interface{} {
	return map[string]interface{}{
		m.Type: map[string]interface{}{"field": m.Field},
	}
}

// PageRequest is the immutable template of a walk. After is only used as the
// starting point; every round builds a fresh body from the template.
type PageRequest struct {
	Index           string
	Name            string
	Sources         []GroupKey
	Size            int
	SubAggregations map[string]SubAggregation
	Query           elastic.Query
	After           Key
}

// Validate checks the template for problems the engine would reject or that
// would make the continuation key ambiguous.
func (r PageRequest) Validate() error {
	if r.Index == "" {
		return fmt.Errorf("%w: index is empty", ErrInvalidRequest)
	}
	if r.Name == "" {
		return fmt.Errorf("%w: aggregation name is empty", ErrInvalidRequest)
	}
	if r.Size < 1 {
		return fmt.Errorf("%w: page size %d must be at least 1", ErrInvalidRequest, r.Size)
	}
	if len(r.Sources) == 0 {
		return fmt.Errorf("%w: at least one source is required", ErrInvalidRequest)
	}

	seen := make(map[string]bool, len(r.Sources))
	for i, src := range r.Sources {
		if src.Name == "" || src.Field == "" {
			return fmt.Errorf("%w: source %d needs a name and a field", ErrInvalidRequest, i)
		}
		if src.Order != "" && src.Order != Asc && src.Order != Desc {
			return fmt.Errorf("%w: source %s has unknown order %q", ErrInvalidRequest, src.Name, src.Order)
		}
		if seen[src.Name] {
			return fmt.Errorf("%w: duplicate source name %s", ErrInvalidRequest, src.Name)
		}
		seen[src.Name] = true
	}

	for name, agg := range r.SubAggregations {
		if name == "" || name == "key" || name == "doc_count" {
			return fmt.Errorf("%w: invalid sub aggregation name %q", ErrInvalidRequest, name)
		}
		if agg == nil {
			return fmt.Errorf("%w: sub aggregation %s is nil", ErrInvalidRequest, name)
		}
	}

	if !r.After.IsZero() {
		if err := r.After.matches(r.Sources); err != nil {
			return err
		}
	}
	return nil
}

// SourceNames returns the source names in template order.
func (r PageRequest) SourceNames() []string {
	names := make([]string, len(r.Sources))
	for i, src := range r.Sources {
		names[i] = src.Name
	}
	return names
}

func (r PageRequest) clone() PageRequest {
	c := r
	c.Sources = append([]GroupKey(nil), r.Sources...)
	if r.SubAggregations != nil {
		c.SubAggregations = make(map[string]SubAggregation, len(r.SubAggregations))
		for name, agg := range r.SubAggregations {
			c.SubAggregations[name] = agg
		}
	}
	c.After = r.After.clone()
	return c
}

// Fingerprint identifies what a continuation key of this template points
// into: the index, every source with field, order and missing bucket, and the
// query. Page size and sub aggregations do not change the key space.
func (r PageRequest) Fingerprint() string {
	sources := make([]interface{}, len(r.Sources))
	for i, src := range r.Sources {
		order := src.Order
		if order == "" {
			order = Asc
		}
		sources[i] = []interface{}{src.Name, src.Field, order, src.MissingBucket}
	}

	fp := map[string]interface{}{
		"index":   r.Index,
		"sources": sources,
	}
	if r.Query != nil {
		if q := r.Query.Build(); len(q) > 0 {
			fp["query"] = q
		}
	}

	data, err := json.Marshal(fp)
	if err != nil {
		return ""
	}
	return string(data)
}

// Body builds the search body for one round. An empty key produces the first page.
func (r PageRequest) Body(after Key) ([]byte, error) {
	if !after.IsZero() {
		if err := after.matches(r.Sources); err != nil {
			return nil, err
		}
	}

	sources := make([]interface{}, len(r.Sources))
	for i, src := range r.Sources {
		sources[i] = src.source()
	}

	comp := map[string]interface{}{
		"size":    r.Size,
		"sources": sources,
	}
	if !after.IsZero() {
		comp["after"] = after.Map()
	}

	agg := map[string]interface{}{"composite": comp}
	if len(r.SubAggregations) > 0 {
		subs := make(map[string]interface{}, len(r.SubAggregations))
		for name, sub := range r.SubAggregations {
			subs[name] = sub.Source()
		}
		agg["aggs"] = subs
	}

	body := map[string]interface{}{
		"size": 0,
		"aggs": map[string]interface{}{r.Name: agg},
	}
	if r.Query != nil {
		if q := r.Query.Build(); len(q) > 0 {
			body["query"] = q
		}
	}
	return json.Marshal(body)
}
