package composite

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/pteich/elastic-query-samples/elastic"
)

// fakeEngine evaluates composite terms aggregations over documents held in
// memory, with max and top_hits as the only supported sub aggregations.
type fakeEngine struct {
	mu     sync.Mutex
	docs   []map[string]interface{}
	bodies []map[string]interface{}
	// failAt makes the given round return an error.
	failAt int
	// noAfterKey omits after_key from every response.
	noAfterKey bool
	// renameKey replaces the source names in returned keys.
	renameKey map[string]string
}

func (e *fakeEngine) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.bodies)
}

func (e *fakeEngine) body(i int) map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bodies[i]
}

type fakeSource struct {
	name  string
	field string
	desc  bool
}

type fakeBucket struct {
	key  []interface{}
	docs []map[string]interface{}
}

func (e *fakeEngine) Search(ctx context.Context, index string, body []byte) (*elastic.SearchResponse, error) {
	var req map[string]interface{}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.bodies = append(e.bodies, req)
	round := len(e.bodies)
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.failAt == round {
		return nil, &elastic.HTTPStatusError{StatusCode: 503, Body: "unavailable"}
	}

	aggs := req["aggs"].(map[string]interface{})
	out := make(map[string]json.RawMessage, len(aggs))
	for name, a := range aggs {
		raw, err := e.evaluate(a.(map[string]interface{}))
		if err != nil {
			return nil, err
		}
		out[name] = raw
	}
	return &elastic.SearchResponse{Aggregations: out}, nil
}

func (e *fakeEngine) evaluate(agg map[string]interface{}) (json.RawMessage, error) {
	comp := agg["composite"].(map[string]interface{})
	size := int(comp["size"].(float64))

	var sources []fakeSource
	for _, s := range comp["sources"].([]interface{}) {
		for name, def := range s.(map[string]interface{}) {
			terms := def.(map[string]interface{})["terms"].(map[string]interface{})
			sources = append(sources, fakeSource{
				name:  name,
				field: terms["field"].(string),
				desc:  terms["order"] == "desc",
			})
		}
	}

	groups := map[string]*fakeBucket{}
	for _, doc := range e.docs {
		key := make([]interface{}, 0, len(sources))
		complete := true
		for _, src := range sources {
			v, ok := doc[src.field]
			if !ok {
				complete = false
				break
			}
			key = append(key, v)
		}
		if !complete {
			continue
		}
		id := fmt.Sprint(key...)
		if groups[id] == nil {
			groups[id] = &fakeBucket{key: key}
		}
		groups[id].docs = append(groups[id].docs, doc)
	}

	ordered := make([]*fakeBucket, 0, len(groups))
	for _, b := range groups {
		ordered = append(ordered, b)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return compareKeys(ordered[i].key, ordered[j].key, sources) < 0
	})

	if after, ok := comp["after"].(map[string]interface{}); ok {
		afterKey := make([]interface{}, len(sources))
		for i, src := range sources {
			afterKey[i] = after[src.name]
		}
		start := 0
		for start < len(ordered) && compareKeys(ordered[start].key, afterKey, sources) <= 0 {
			start++
		}
		ordered = ordered[start:]
	}
	if len(ordered) > size {
		ordered = ordered[:size]
	}

	subs, _ := agg["aggs"].(map[string]interface{})
	buckets := make([]map[string]interface{}, 0, len(ordered))
	for _, b := range ordered {
		bucket := map[string]interface{}{
			"key":       e.keyObject(b.key, sources),
			"doc_count": len(b.docs),
		}
		for name, sub := range subs {
			bucket[name] = evaluateSub(sub.(map[string]interface{}), b.docs)
		}
		buckets = append(buckets, bucket)
	}

	res := map[string]interface{}{"buckets": buckets}
	if len(buckets) > 0 && !e.noAfterKey {
		res["after_key"] = buckets[len(buckets)-1]["key"]
	}
	return json.Marshal(res)
}

func (e *fakeEngine) keyObject(key []interface{}, sources []fakeSource) map[string]interface{} {
	obj := make(map[string]interface{}, len(sources))
	for i, src := range sources {
		name := src.name
		if renamed, ok := e.renameKey[name]; ok {
			name = renamed
		}
		obj[name] = key[i]
	}
	return obj
}

func evaluateSub(sub map[string]interface{}, docs []map[string]interface{}) interface{} {
	if m, ok := sub["max"].(map[string]interface{}); ok {
		field := m["field"].(string)
		var max *float64
		for _, doc := range docs {
			if v, ok := toFloat(doc[field]); ok && (max == nil || v > *max) {
				max = &v
			}
		}
		return map[string]interface{}{"value": max}
	}
	if th, ok := sub["top_hits"].(map[string]interface{}); ok {
		n := 3
		if s, ok := th["size"].(float64); ok {
			n = int(s)
		}
		if n > len(docs) {
			n = len(docs)
		}
		hits := make([]map[string]interface{}, 0, n)
		for _, doc := range docs[:n] {
			hits = append(hits, map[string]interface{}{"_index": "fake", "_id": doc["id"], "_source": doc})
		}
		return map[string]interface{}{"hits": map[string]interface{}{"hits": hits}}
	}
	return map[string]interface{}{}
}

func compareKeys(a, b []interface{}, sources []fakeSource) int {
	for i, src := range sources {
		c := compareValues(a[i], b[i])
		if src.desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

func compareValues(a, b interface{}) int {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
