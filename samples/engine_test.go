package samples

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/pteich/elastic-query-samples/elastic"
)

// memEngine is an elastic.Client over documents held in memory. It supports
// the term/terms filters, nested terms with max and composite with top_hits
// as used by the samples.
type memEngine struct {
	mu      sync.Mutex
	indices map[string]map[string]map[string]interface{}
	bodies  []map[string]interface{}
	cleared int
}

var _ elastic.Client = (*memEngine)(nil)

func newMemEngine() *memEngine {
	return &memEngine{indices: make(map[string]map[string]map[string]interface{})}
}

func notFound(what string) error {
	return &elastic.HTTPStatusError{StatusCode: http.StatusNotFound, Body: what + " not found"}
}

func (e *memEngine) Info(context.Context) (*elastic.ServerInfo, error) {
	return &elastic.ServerInfo{Name: "node-1", Distribution: "opensearch", Number: "2.15.0"}, nil
}

func (e *memEngine) CreateIndex(_ context.Context, index string, body []byte) (bool, error) {
	if !json.Valid(body) {
		return false, &elastic.HTTPStatusError{StatusCode: http.StatusBadRequest, Body: "invalid body"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.indices[index]; ok {
		return false, &elastic.HTTPStatusError{StatusCode: http.StatusBadRequest, Body: "resource_already_exists_exception"}
	}
	e.indices[index] = make(map[string]map[string]interface{})
	return true, nil
}

func (e *memEngine) DeleteIndex(_ context.Context, index string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.indices[index]; !ok {
		return false, notFound("index " + index)
	}
	delete(e.indices, index)
	return true, nil
}

func (e *memEngine) docs(index string) (map[string]map[string]interface{}, error) {
	docs, ok := e.indices[index]
	if !ok {
		return nil, notFound("index " + index)
	}
	return docs, nil
}

func (e *memEngine) IndexDocument(_ context.Context, index, id string, doc []byte, _ bool) (*elastic.DocumentResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	docs, err := e.docs(index)
	if err != nil {
		return nil, err
	}
	var source map[string]interface{}
	if err := json.Unmarshal(doc, &source); err != nil {
		return nil, err
	}
	result := "created"
	if _, ok := docs[id]; ok {
		result = "updated"
	}
	docs[id] = source
	return &elastic.DocumentResult{Index: index, ID: id, Version: 1, Result: result}, nil
}

func (e *memEngine) GetDocument(_ context.Context, index, id string) (*elastic.Document, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	docs, err := e.docs(index)
	if err != nil {
		return nil, err
	}
	source, ok := docs[id]
	if !ok {
		return &elastic.Document{Index: index, ID: id}, nil
	}
	data, _ := json.Marshal(source)
	return &elastic.Document{Index: index, ID: id, Version: 1, Found: true, Source: data}, nil
}

func (e *memEngine) DeleteDocument(_ context.Context, index, id string, _ bool) (*elastic.DocumentResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	docs, err := e.docs(index)
	if err != nil {
		return nil, err
	}
	if _, ok := docs[id]; !ok {
		return &elastic.DocumentResult{Index: index, ID: id, Result: "not_found"}, nil
	}
	delete(docs, id)
	return &elastic.DocumentResult{Index: index, ID: id, Result: "deleted"}, nil
}

func (e *memEngine) Bulk(_ context.Context, index string, items []elastic.BulkItem, _ bool) (*elastic.BulkResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	docs, err := e.docs(index)
	if err != nil {
		return nil, err
	}

	res := &elastic.BulkResult{Items: len(items)}
	for _, item := range items {
		var source map[string]interface{}
		if err := json.Unmarshal(item.Doc, &source); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		existing, ok := docs[item.ID]
		switch {
		case item.Action == elastic.BulkUpdate && ok:
			for k, v := range source {
				existing[k] = v
			}
		case item.Action == elastic.BulkUpdate && !item.DocAsUpsert:
			res.Failed++
			res.Errors = append(res.Errors, item.ID+": document missing")
		default:
			docs[item.ID] = source
		}
	}
	return res, nil
}

func (e *memEngine) Count(_ context.Context, index string, query elastic.Query) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	docs, err := e.docs(index)
	if err != nil {
		return 0, err
	}
	var q map[string]interface{}
	if query != nil {
		q = query.Build()
	}
	return int64(len(filter(docs, q))), nil
}

func (e *memEngine) Perform(ctx context.Context, method, path string, body []byte) (*elastic.RawResponse, error) {
	if method != http.MethodPut {
		return nil, &elastic.HTTPStatusError{StatusCode: http.StatusMethodNotAllowed, URL: path}
	}
	index := strings.TrimPrefix(path, "/")
	if _, err := e.CreateIndex(ctx, index, body); err != nil {
		return nil, err
	}
	return &elastic.RawResponse{
		StatusCode: http.StatusOK,
		Body:       json.RawMessage(fmt.Sprintf(`{"acknowledged":true,"index":%q}`, index)),
	}, nil
}

func (e *memEngine) Stop() {}

type hitDoc struct {
	id     string
	source map[string]interface{}
}

// filter returns the documents matching a bool query of term/terms filters,
// ordered by id.
func filter(docs map[string]map[string]interface{}, query map[string]interface{}) []hitDoc {
	var conditions []interface{}
	if b, ok := query["bool"].(map[string]interface{}); ok {
		conditions, _ = b["filter"].([]interface{})
	}

	var out []hitDoc
	for id, doc := range docs {
		if matches(doc, conditions) {
			out = append(out, hitDoc{id: id, source: doc})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func matches(doc map[string]interface{}, conditions []interface{}) bool {
	for _, c := range conditions {
		c := c.(map[string]interface{})
		if term, ok := c["term"].(map[string]interface{}); ok {
			for field, v := range term {
				want := v.(map[string]interface{})["value"]
				if fmt.Sprint(doc[field]) != fmt.Sprint(want) {
					return false
				}
			}
		}
		if terms, ok := c["terms"].(map[string]interface{}); ok {
			for field, v := range terms {
				found := false
				for _, want := range v.([]interface{}) {
					if fmt.Sprint(doc[field]) == fmt.Sprint(want) {
						found = true
					}
				}
				if !found {
					return false
				}
			}
		}
	}
	return true
}

func toJSON(v interface{}) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

func hits(matched []hitDoc, body map[string]interface{}) []elastic.Hit {
	var docvalues []string
	if fields, ok := body["docvalue_fields"].([]interface{}); ok {
		for _, f := range fields {
			docvalues = append(docvalues, f.(map[string]interface{})["field"].(string))
		}
	}

	out := make([]elastic.Hit, 0, len(matched))
	for _, d := range matched {
		hit := elastic.Hit{Index: "sample-index", ID: d.id, Source: toJSON(d.source)}
		if len(docvalues) > 0 {
			hit.Fields = make(map[string]json.RawMessage)
			for _, f := range docvalues {
				hit.Fields[f] = toJSON([]interface{}{d.source[f]})
			}
		}
		out = append(out, hit)
	}
	return out
}

func (e *memEngine) Search(_ context.Context, index string, body []byte) (*elastic.SearchResponse, error) {
	var req map[string]interface{}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.bodies = append(e.bodies, req)

	docs, err := e.docs(index)
	if err != nil {
		return nil, err
	}
	query, _ := req["query"].(map[string]interface{})
	matched := filter(docs, query)

	res := &elastic.SearchResponse{Total: int64(len(matched)), TotalRelation: "eq"}
	if aggs, ok := req["aggs"].(map[string]interface{}); ok {
		res.Aggregations = make(map[string]json.RawMessage)
		for name, agg := range aggs {
			res.Aggregations[name] = evaluate(agg.(map[string]interface{}), matched)
		}
		return res, nil
	}

	size := 10
	if s, ok := req["size"].(float64); ok {
		size = int(s)
	}
	if len(matched) > size {
		matched = matched[:size]
	}
	res.Hits = hits(matched, req)
	return res, nil
}

func evaluate(agg map[string]interface{}, docs []hitDoc) json.RawMessage {
	if c, ok := agg["composite"].(map[string]interface{}); ok {
		sub, _ := agg["aggs"].(map[string]interface{})
		return evaluateComposite(c, sub, docs)
	}
	if m, ok := agg["max"].(map[string]interface{}); ok {
		field := m["field"].(string)
		var max *float64
		for _, d := range docs {
			if v, ok := d.source[field].(float64); ok && (max == nil || v > *max) {
				max = &v
			}
		}
		return toJSON(map[string]interface{}{"value": max})
	}
	if th, ok := agg["top_hits"].(map[string]interface{}); ok {
		sorted := append([]hitDoc(nil), docs...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].source["ctime"].(float64) > sorted[j].source["ctime"].(float64)
		})
		if size, ok := th["size"].(float64); ok && len(sorted) > int(size) {
			sorted = sorted[:int(size)]
		}
		return toJSON(map[string]interface{}{"hits": map[string]interface{}{"hits": hits(sorted, nil)}})
	}

	terms := agg["terms"].(map[string]interface{})
	field := terms["field"].(string)
	groups := map[string][]hitDoc{}
	keys := map[string]interface{}{}
	for _, d := range docs {
		k := fmt.Sprint(d.source[field])
		groups[k] = append(groups[k], d)
		keys[k] = d.source[field]
	}
	names := make([]string, 0, len(groups))
	for k := range groups {
		names = append(names, k)
	}
	sort.Strings(names)

	sub, _ := agg["aggs"].(map[string]interface{})
	buckets := make([]map[string]interface{}, 0, len(names))
	for _, k := range names {
		b := map[string]interface{}{"key": keys[k], "doc_count": len(groups[k])}
		for name, a := range sub {
			b[name] = evaluate(a.(map[string]interface{}), groups[k])
		}
		buckets = append(buckets, b)
	}
	return toJSON(map[string]interface{}{"buckets": buckets})
}

// evaluateComposite supports ascending terms sources only.
func evaluateComposite(c map[string]interface{}, sub map[string]interface{}, docs []hitDoc) json.RawMessage {
	type source struct{ name, field string }
	var sources []source
	for _, s := range c["sources"].([]interface{}) {
		for name, def := range s.(map[string]interface{}) {
			field := def.(map[string]interface{})["terms"].(map[string]interface{})["field"].(string)
			sources = append(sources, source{name, field})
		}
	}

	type group struct {
		key  []interface{}
		docs []hitDoc
	}
	groups := map[string]*group{}
	for _, d := range docs {
		key := make([]interface{}, len(sources))
		for i, s := range sources {
			key[i] = d.source[s.field]
		}
		id := fmt.Sprint(key...)
		if groups[id] == nil {
			groups[id] = &group{key: key}
		}
		groups[id].docs = append(groups[id].docs, d)
	}

	less := func(a, b []interface{}) bool {
		for i := range a {
			if fmt.Sprint(a[i]) == fmt.Sprint(b[i]) {
				continue
			}
			if fa, ok := a[i].(float64); ok {
				return fa < b[i].(float64)
			}
			return fmt.Sprint(a[i]) < fmt.Sprint(b[i])
		}
		return false
	}

	sorted := make([]*group, 0, len(groups))
	for _, g := range groups {
		sorted = append(sorted, g)
	}
	sort.Slice(sorted, func(i, j int) bool { return less(sorted[i].key, sorted[j].key) })

	if after, ok := c["after"].(map[string]interface{}); ok {
		afterKey := make([]interface{}, len(sources))
		for i, s := range sources {
			afterKey[i] = after[s.name]
		}
		var rest []*group
		for _, g := range sorted {
			if less(afterKey, g.key) {
				rest = append(rest, g)
			}
		}
		sorted = rest
	}

	size := int(c["size"].(float64))
	if len(sorted) > size {
		sorted = sorted[:size]
	}

	keyObject := func(key []interface{}) map[string]interface{} {
		obj := make(map[string]interface{}, len(key))
		for i, s := range sources {
			obj[s.name] = key[i]
		}
		return obj
	}

	buckets := make([]map[string]interface{}, 0, len(sorted))
	for _, g := range sorted {
		b := map[string]interface{}{"key": keyObject(g.key), "doc_count": len(g.docs)}
		for name, a := range sub {
			b[name] = evaluate(a.(map[string]interface{}), g.docs)
		}
		buckets = append(buckets, b)
	}

	out := map[string]interface{}{"buckets": buckets}
	if len(sorted) > 0 {
		out["after_key"] = keyObject(sorted[len(sorted)-1].key)
	}
	return toJSON(out)
}

func (e *memEngine) Scroll(index string, size int, query elastic.Query) elastic.ScrollService {
	return &memScroll{engine: e, index: index, size: size, query: query.Build()}
}

type memScroll struct {
	engine    *memEngine
	index     string
	size      int
	query     map[string]interface{}
	docvalues []string
	matched   []hitDoc
	started   bool
	scrollID  string
}

func (s *memScroll) Do(context.Context) (*elastic.SearchResponse, error) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()

	if !s.started {
		docs, err := s.engine.docs(s.index)
		if err != nil {
			return nil, err
		}
		s.matched = filter(docs, s.query)
		s.started = true
		s.scrollID = "scroll-" + s.index
	}
	if len(s.matched) == 0 {
		return nil, io.EOF
	}

	n := s.size
	if n > len(s.matched) {
		n = len(s.matched)
	}
	page := s.matched[:n]
	s.matched = s.matched[n:]

	body := map[string]interface{}{}
	if len(s.docvalues) > 0 {
		fields := make([]interface{}, len(s.docvalues))
		for i, f := range s.docvalues {
			fields[i] = map[string]interface{}{"field": f}
		}
		body["docvalue_fields"] = fields
	}
	return &elastic.SearchResponse{ScrollID: s.scrollID, Hits: hits(page, body)}, nil
}

func (s *memScroll) Clear(context.Context) error {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if s.scrollID != "" {
		s.engine.cleared++
		s.scrollID = ""
	}
	return nil
}

func (s *memScroll) FetchSourceContext([]string) elastic.ScrollService { return s }

func (s *memScroll) DocvalueFields(fields ...string) elastic.ScrollService {
	s.docvalues = append(s.docvalues, fields...)
	return s
}

func (s *memScroll) KeepAlive(string) elastic.ScrollService { return s }
