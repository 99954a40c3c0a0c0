package elastic

import (
	"encoding/json"
	"sort"

	"github.com/pteich/elastic-query-samples/fieldvalue"
)

type QueryBuilder struct {
	query map[string]interface{}
}

func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{
		query: make(map[string]interface{}),
	}
}

func (q *QueryBuilder) Build() map[string]interface{} {
	return q.query
}

type BoolQuery struct {
	builder *QueryBuilder
}

func NewBoolQuery() *BoolQuery {
	return &BoolQuery{
		builder: NewQueryBuilder(),
	}
}

func (q *BoolQuery) Must(queries ...Query) *BoolQuery {
	return q.add("must", queries)
}

func (q *BoolQuery) Filter(queries ...Query) *BoolQuery {
	return q.add("filter", queries)
}

func (q *BoolQuery) add(occur string, queries []Query) *BoolQuery {
	if q.builder.query["bool"] == nil {
		q.builder.query["bool"] = make(map[string]interface{})
	}
	boolQuery := q.builder.query["bool"].(map[string]interface{})
	if boolQuery[occur] == nil {
		boolQuery[occur] = []interface{}{}
	}
	for _, query := range queries {
		if query == nil {
			continue
		}
		boolQuery[occur] = append(boolQuery[occur].([]interface{}), query.Build())
	}
	return q
}

func (q *BoolQuery) Build() map[string]interface{} {
	return q.builder.Build()
}

type RangeQuery struct {
	builder *QueryBuilder
	field   string
}

func NewRangeQuery(field string) *RangeQuery {
	return &RangeQuery{
		builder: NewQueryBuilder(),
		field:   field,
	}
}

func (q *RangeQuery) Gte(value string) *RangeQuery {
	q.bound()["gte"] = value
	return q
}

func (q *RangeQuery) Lte(value string) *RangeQuery {
	q.bound()["lte"] = value
	return q
}

func (q *RangeQuery) bound() map[string]interface{} {
	if q.builder.query["range"] == nil {
		q.builder.query["range"] = make(map[string]interface{})
	}
	rangeQuery := q.builder.query["range"].(map[string]interface{})
	if rangeQuery[q.field] == nil {
		rangeQuery[q.field] = make(map[string]interface{})
	}
	return rangeQuery[q.field].(map[string]interface{})
}

func (q *RangeQuery) Build() map[string]interface{} {
	return q.builder.Build()
}

type QueryStringQuery struct {
	query string
}

func NewQueryStringQuery(query string) *QueryStringQuery {
	return &QueryStringQuery{query: query}
}

func (q *QueryStringQuery) Build() map[string]interface{} {
	return map[string]interface{}{
		"query_string": map[string]interface{}{
			"query": q.query,
		},
	}
}

type MatchAllQuery struct{}

func NewMatchAllQuery() *MatchAllQuery {
	return &MatchAllQuery{}
}

func (q *MatchAllQuery) Build() map[string]interface{} {
	return map[string]interface{}{"match_all": map[string]interface{}{}}
}

type RawStringQuery struct {
	query map[string]interface{}
}

// NewRawStringQuery parses a JSON query. Invalid JSON yields an error instead of a nil query.
func NewRawStringQuery(rawQuery string) (*RawStringQuery, error) {
	q := &RawStringQuery{}
	if err := json.Unmarshal([]byte(rawQuery), &q.query); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *RawStringQuery) Build() map[string]interface{} {
	return q.query
}

// TermQuery matches documents whose field holds exactly the given scalar value.
type TermQuery struct {
	field string
	value fieldvalue.Value
}

func NewTermQuery(field string, value fieldvalue.Value) *TermQuery {
	return &TermQuery{field: field, value: value}
}

func (q *TermQuery) Build() map[string]interface{} {
	return map[string]interface{}{
		"term": map[string]interface{}{
			q.field: map[string]interface{}{"value": q.value.Interface()},
		},
	}
}

// TermsQuery matches documents whose field holds any of the given values.
type TermsQuery struct {
	field  string
	values []fieldvalue.Value
}

func NewTermsQuery(field string, values ...fieldvalue.Value) *TermsQuery {
	var flat []fieldvalue.Value
	for _, v := range values {
		flat = append(flat, fieldvalue.Flatten(v)...)
	}
	return &TermsQuery{field: field, values: flat}
}

func (q *TermsQuery) Build() map[string]interface{} {
	values := make([]interface{}, len(q.values))
	for i, v := range q.values {
		values[i] = v.Interface()
	}
	return map[string]interface{}{
		"terms": map[string]interface{}{q.field: values},
	}
}

// NewFilterQuery builds a bool filter with one condition per field. Lists become
// terms queries, scalars term queries. Fields are sorted for a stable body.
func NewFilterQuery(conditions map[string]fieldvalue.Value) *BoolQuery {
	fields := make([]string, 0, len(conditions))
	for field := range conditions {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	bq := NewBoolQuery()
	for _, field := range fields {
		v := conditions[field]
		if v.Kind() == fieldvalue.KindList {
			bq.Filter(NewTermsQuery(field, v))
		} else {
			bq.Filter(NewTermQuery(field, v))
		}
	}
	return bq
}
