package composite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pteich/elastic-query-samples/elastic"
	"github.com/pteich/elastic-query-samples/fieldvalue"
)

func sampleDocs(n int) []map[string]interface{} {
	docs := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, map[string]interface{}{
			"id":      fmt.Sprintf("id%d", i),
			"counter": "15U",
			"objHash": 1113030459 + i%4,
			"value":   i,
		})
	}
	return docs
}

// fiveGroups has five distinct (counter, objHash) combinations.
func fiveGroups() []map[string]interface{} {
	return []map[string]interface{}{
		{"id": "1", "counter": "a", "objHash": 1, "value": 1},
		{"id": "2", "counter": "a", "objHash": 2, "value": 2},
		{"id": "3", "counter": "b", "objHash": 1, "value": 3},
		{"id": "4", "counter": "b", "objHash": 1, "value": 4},
		{"id": "5", "counter": "b", "objHash": 3, "value": 5},
		{"id": "6", "counter": "c", "objHash": 1, "value": 6},
	}
}

func testRequest(size int) PageRequest {
	return PageRequest{
		Index: "test",
		Name:  "by_counter_hash",
		Size:  size,
		Sources: []GroupKey{
			{Name: "COUNTER", Field: "counter", Order: Asc},
			{Name: "OBJ_HASH", Field: "objHash", Order: Asc},
		},
	}
}

func collectSizes(t *testing.T, w *Walker) ([]int, []Bucket, Stats) {
	t.Helper()
	var sizes []int
	var buckets []Bucket
	stats, err := w.Walk(context.Background(), func(_ context.Context, page Page) error {
		sizes = append(sizes, page.Len())
		buckets = append(buckets, page.Buckets...)
		return nil
	})
	require.NoError(t, err)
	return sizes, buckets, stats
}

func TestWalkPageSizes(t *testing.T) {
	engine := &fakeEngine{docs: fiveGroups()}
	w, err := NewWalker(engine, testRequest(2))
	require.NoError(t, err)

	sizes, buckets, stats := collectSizes(t, w)

	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Len(t, buckets, 5)
	assert.Equal(t, 4, stats.Rounds)
	assert.Equal(t, 3, stats.Pages)
	assert.Equal(t, 5, stats.Buckets)
	assert.Equal(t, 4, engine.calls())

	first := buckets[0]
	v, ok := first.Key.Get("COUNTER")
	require.True(t, ok)
	assert.Equal(t, fieldvalue.String("a"), v)
	v, ok = first.Key.Get("OBJ_HASH")
	require.True(t, ok)
	assert.Equal(t, fieldvalue.Long(1), v)
	assert.EqualValues(t, 1, first.DocCount)

	assert.Equal(t, fmt.Sprint(buckets[4].Key), fmt.Sprint(stats.Last))
}

func TestWalkCoversEveryGroupOnce(t *testing.T) {
	docs := sampleDocs(20)
	docs = append(docs, map[string]interface{}{"id": "x", "counter": "16U", "objHash": 7, "value": 99})

	for _, size := range []int{1, 2, 3, 5, 100} {
		t.Run(fmt.Sprintf("size %d", size), func(t *testing.T) {
			w, err := NewWalker(&fakeEngine{docs: docs}, testRequest(size))
			require.NoError(t, err)

			sizes, buckets, stats := collectSizes(t, w)

			seen := map[string]int64{}
			for _, b := range buckets {
				_, dup := seen[b.Key.String()]
				assert.False(t, dup, "bucket %s delivered twice", b.Key)
				seen[b.Key.String()] = b.DocCount
			}
			assert.Len(t, seen, 5)

			var total int64
			for _, c := range seen {
				total += c
			}
			assert.EqualValues(t, len(docs), total)

			expectedPages := (5 + size - 1) / size
			assert.Len(t, sizes, expectedPages)
			assert.Equal(t, expectedPages, stats.Pages)
			for _, s := range sizes[:len(sizes)-1] {
				assert.Equal(t, size, s)
			}
		})
	}
}

func TestWalkIsRepeatable(t *testing.T) {
	engine := &fakeEngine{docs: sampleDocs(20)}
	w, err := NewWalker(engine, testRequest(3))
	require.NoError(t, err)

	first, _, err := w.Collect(context.Background())
	require.NoError(t, err)
	second, _, err := w.Collect(context.Background())
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.True(t, first[i].Key.Equal(second[i].Key))
		assert.Equal(t, first[i].DocCount, second[i].DocCount)
	}
}

func TestWalkEmptyIndex(t *testing.T) {
	engine := &fakeEngine{}
	w, err := NewWalker(engine, testRequest(2))
	require.NoError(t, err)

	called := false
	stats, err := w.Walk(context.Background(), func(context.Context, Page) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, 1, stats.Rounds)
	assert.Zero(t, stats.Pages)
	assert.True(t, stats.Last.IsZero())
}

func TestWalkRequestBodies(t *testing.T) {
	engine := &fakeEngine{docs: fiveGroups()}
	tmpl := testRequest(2)
	w, err := NewWalker(engine, tmpl)
	require.NoError(t, err)

	// later changes to the caller's template must not leak into the walk
	tmpl.Sources[0].Field = "other"

	_, _, err = w.Collect(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, engine.calls())

	first := engine.body(0)
	assert.EqualValues(t, 0, first["size"])
	comp := first["aggs"].(map[string]interface{})["by_counter_hash"].(map[string]interface{})["composite"].(map[string]interface{})
	assert.NotContains(t, comp, "after")
	assert.EqualValues(t, 2, comp["size"])

	sources := comp["sources"].([]interface{})
	require.Len(t, sources, 2)
	counter := sources[0].(map[string]interface{})["COUNTER"].(map[string]interface{})["terms"].(map[string]interface{})
	assert.Equal(t, "counter", counter["field"])
	assert.Equal(t, false, counter["missing_bucket"])
	assert.Equal(t, "asc", counter["order"])

	second := engine.body(1)
	comp = second["aggs"].(map[string]interface{})["by_counter_hash"].(map[string]interface{})["composite"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"COUNTER": "a", "OBJ_HASH": float64(2)}, comp["after"])

	assert.Equal(t, "counter", w.Request().Sources[0].Field)
}

func TestWalkStopsOnSearchError(t *testing.T) {
	engine := &fakeEngine{docs: fiveGroups(), failAt: 2}
	w, err := NewWalker(engine, testRequest(2))
	require.NoError(t, err)

	var failed error
	w.observer.WalkFailed = func(_ string, err error) { failed = err }

	pages := 0
	stats, err := w.Walk(context.Background(), func(context.Context, Page) error {
		pages++
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "round 2")

	var statusErr *elastic.HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 503, statusErr.StatusCode)

	assert.Equal(t, 1, pages)
	assert.Equal(t, 2, engine.calls())
	assert.Equal(t, 1, stats.Pages)
	assert.False(t, stats.Last.IsZero())
	assert.Equal(t, err, failed)
}

func TestWalkCallbackErrorStops(t *testing.T) {
	engine := &fakeEngine{docs: fiveGroups()}
	w, err := NewWalker(engine, testRequest(2))
	require.NoError(t, err)

	stop := errors.New("stop")
	_, err = w.Walk(context.Background(), func(context.Context, Page) error {
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, engine.calls())
}

func TestResumeFromLastKey(t *testing.T) {
	engine := &fakeEngine{docs: sampleDocs(20)}
	w, err := NewWalker(engine, testRequest(1))
	require.NoError(t, err)

	full, _, err := w.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, full, 4)

	var head []Bucket
	stats, err := w.Walk(context.Background(), func(_ context.Context, page Page) error {
		head = append(head, page.Buckets...)
		if len(head) == 2 {
			return errors.New("interrupted")
		}
		return nil
	})
	require.Error(t, err)
	require.Len(t, head, 2)

	// the failing page was delivered but not acknowledged, resume repeats it
	var tail []Bucket
	_, err = w.Resume(context.Background(), stats.Last, func(_ context.Context, page Page) error {
		tail = append(tail, page.Buckets...)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, tail, 3)

	assert.True(t, full[1].Key.Equal(tail[0].Key))
	assert.True(t, full[3].Key.Equal(tail[2].Key))
}

func TestResumeFromStoredKey(t *testing.T) {
	engine := &fakeEngine{docs: sampleDocs(20)}
	w, err := NewWalker(engine, testRequest(2))
	require.NoError(t, err)

	full, stats, err := w.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, full, 4)

	data, err := json.Marshal(full[1].Key)
	require.NoError(t, err)

	var key Key
	require.NoError(t, json.Unmarshal(data, &key))
	assert.True(t, key.Equal(full[1].Key))

	rest, err := collectFrom(w, key)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.True(t, rest[0].Key.Equal(full[2].Key))
	assert.True(t, rest[1].Key.Equal(full[3].Key))

	rest, err = collectFrom(w, stats.Last)
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func collectFrom(w *Walker, key Key) ([]Bucket, error) {
	var buckets []Bucket
	_, err := w.Resume(context.Background(), key, func(_ context.Context, page Page) error {
		buckets = append(buckets, page.Buckets...)
		return nil
	})
	return buckets, err
}

func TestTemplateAfterStartsWalk(t *testing.T) {
	tmpl := testRequest(10)
	tmpl.After = NewKey(
		KeyValue{Name: "COUNTER", Value: fieldvalue.String("b")},
		KeyValue{Name: "OBJ_HASH", Value: fieldvalue.Long(1)},
	)
	w, err := NewWalker(&fakeEngine{docs: fiveGroups()}, tmpl)
	require.NoError(t, err)

	buckets, _, err := w.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, "{COUNTER=b, OBJ_HASH=3}", buckets[0].Key.String())
	assert.Equal(t, "{COUNTER=c, OBJ_HASH=1}", buckets[1].Key.String())
}

func TestKeyMismatch(t *testing.T) {
	t.Run("resume key", func(t *testing.T) {
		engine := &fakeEngine{docs: fiveGroups()}
		w, err := NewWalker(engine, testRequest(2))
		require.NoError(t, err)

		_, err = w.Resume(context.Background(), NewKey(KeyValue{Name: "COUNTER", Value: fieldvalue.String("a")}), nil)
		require.ErrorIs(t, err, ErrKeyMismatch)

		_, err = w.Resume(context.Background(), NewKey(
			KeyValue{Name: "OBJ_HASH", Value: fieldvalue.Long(1)},
			KeyValue{Name: "COUNTER", Value: fieldvalue.String("a")},
		), nil)
		require.ErrorIs(t, err, ErrKeyMismatch)
		assert.Zero(t, engine.calls())
	})

	t.Run("engine key", func(t *testing.T) {
		engine := &fakeEngine{docs: fiveGroups(), renameKey: map[string]string{"OBJ_HASH": "objHash"}}
		w, err := NewWalker(engine, testRequest(2))
		require.NoError(t, err)

		_, err = w.Walk(context.Background(), nil)
		require.ErrorIs(t, err, ErrKeyMismatch)
		assert.Equal(t, 1, engine.calls())
	})

	t.Run("template", func(t *testing.T) {
		tmpl := testRequest(2)
		tmpl.After = NewKey(KeyValue{Name: "X", Value: fieldvalue.Long(1)})
		_, err := NewWalker(&fakeEngine{}, tmpl)
		require.ErrorIs(t, err, ErrKeyMismatch)
	})
}

func TestWalkWithoutAfterKey(t *testing.T) {
	engine := &fakeEngine{docs: fiveGroups(), noAfterKey: true}
	w, err := NewWalker(engine, testRequest(2))
	require.NoError(t, err)

	sizes, _, stats := collectSizes(t, w)
	assert.Equal(t, []int{2}, sizes)
	assert.Equal(t, 1, stats.Rounds)
	assert.Equal(t, 1, engine.calls())
}

func TestWalkCancelled(t *testing.T) {
	engine := &fakeEngine{docs: fiveGroups()}
	w, err := NewWalker(engine, testRequest(2))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	_, err = w.Walk(ctx, func(context.Context, Page) error {
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, engine.calls())
}

func TestWalkMaxRounds(t *testing.T) {
	engine := &fakeEngine{docs: fiveGroups()}
	w, err := NewWalker(engine, testRequest(1), WithMaxRounds(2))
	require.NoError(t, err)

	stats, err := w.Walk(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, 2, stats.Rounds)
	assert.Equal(t, 2, engine.calls())
}

func TestObserver(t *testing.T) {
	var started, finished []int
	var buckets []int
	w, err := NewWalker(&fakeEngine{docs: fiveGroups()}, testRequest(2), WithObserver(Observer{
		RoundStarted: func(name string, round int) {
			assert.Equal(t, "by_counter_hash", name)
			started = append(started, round)
		},
		RoundFinished: func(_ string, round int, n int, d time.Duration) {
			finished = append(finished, round)
			buckets = append(buckets, n)
			assert.GreaterOrEqual(t, d, time.Duration(0))
		},
	}))
	require.NoError(t, err)

	_, err = w.Walk(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, started)
	assert.Equal(t, []int{1, 2, 3, 4}, finished)
	assert.Equal(t, []int{2, 2, 1, 0}, buckets)
}

func TestSubAggregations(t *testing.T) {
	tmpl := testRequest(10)
	tmpl.SubAggregations = map[string]SubAggregation{
		"max_value": Max("value"),
		"latest":    NewTopHits(1, SortField{Field: "ctime", Order: Desc}),
	}
	w, err := NewWalker(&fakeEngine{docs: sampleDocs(20)}, tmpl)
	require.NoError(t, err)

	buckets, _, err := w.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, buckets, 4)

	v, ok, err := buckets[0].Value("max_value")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, float64(16), v)

	hits, err := buckets[0].TopHits("latest")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "id0", hits[0].ID)

	_, ok, err = buckets[0].Value("unknown")
	require.NoError(t, err)
	assert.False(t, ok)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buckets[0].GetSource(), &record))
	assert.Equal(t, "15U", record["COUNTER"])
	assert.EqualValues(t, 1113030459, record["OBJ_HASH"])
	assert.EqualValues(t, 5, record["doc_count"])
	assert.EqualValues(t, 16, record["max_value"])
	assert.Equal(t, "id0", record["latest"].(map[string]interface{})["id"])
}

func TestFingerprint(t *testing.T) {
	base := PageRequest{
		Index:   "sample-index",
		Name:    "compAgg",
		Size:    2,
		Sources: []GroupKey{{Name: "COUNTER", Field: "counter"}, {Name: "OBJ_HASH", Field: "objHash", Order: Asc}},
	}

	same := base.clone()
	same.Size = 100
	same.Name = "other"
	same.Sources[0].Order = Asc
	same.SubAggregations = map[string]SubAggregation{"max_value": Max("value")}
	assert.Equal(t, base.Fingerprint(), same.Fingerprint())

	desc := base.clone()
	desc.Sources[1].Order = Desc
	assert.NotEqual(t, base.Fingerprint(), desc.Fingerprint())

	filtered := base.clone()
	filtered.Query = elastic.NewQueryStringQuery("counter:15U")
	assert.NotEqual(t, base.Fingerprint(), filtered.Fingerprint())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(r *PageRequest)
	}{
		{"no index", func(r *PageRequest) { r.Index = "" }},
		{"no name", func(r *PageRequest) { r.Name = "" }},
		{"zero size", func(r *PageRequest) { r.Size = 0 }},
		{"no sources", func(r *PageRequest) { r.Sources = nil }},
		{"source without field", func(r *PageRequest) { r.Sources[0].Field = "" }},
		{"duplicate source", func(r *PageRequest) { r.Sources[1].Name = r.Sources[0].Name }},
		{"bad order", func(r *PageRequest) { r.Sources[0].Order = "up" }},
		{"reserved sub aggregation", func(r *PageRequest) {
			r.SubAggregations = map[string]SubAggregation{"doc_count": Max("value")}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRequest(2)
			tt.modify(&r)
			_, err := NewWalker(&fakeEngine{}, r)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	_, err := NewWalker(nil, testRequest(2))
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestBodyWithQuery(t *testing.T) {
	r := testRequest(2)
	r.Query = elastic.NewTermQuery("counter", fieldvalue.String("15U"))

	body, err := r.Body(Key{})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"size": 0,
		"query": {"term": {"counter": {"value": "15U"}}},
		"aggs": {"by_counter_hash": {"composite": {
			"size": 2,
			"sources": [
				{"COUNTER": {"terms": {"field": "counter", "missing_bucket": false, "order": "asc"}}},
				{"OBJ_HASH": {"terms": {"field": "objHash", "missing_bucket": false, "order": "asc"}}}
			]
		}}}
	}`, string(body))
}

func TestWalkAll(t *testing.T) {
	engine := &fakeEngine{docs: sampleDocs(20)}

	byCounter := testRequest(1)
	byCounter.Name = "by_counter"
	byCounter.Sources = byCounter.Sources[:1]

	w1, err := NewWalker(engine, testRequest(2))
	require.NoError(t, err)
	w2, err := NewWalker(engine, byCounter)
	require.NoError(t, err)

	var mu sync.Mutex
	counts := map[string]int{}
	stats, err := WalkAll(context.Background(), []*Walker{w1, w2}, func(_ context.Context, w *Walker, page Page) error {
		mu.Lock()
		defer mu.Unlock()
		counts[w.Name()] += page.Len()
		return nil
	})
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, 4, counts["by_counter_hash"])
	assert.Equal(t, 1, counts["by_counter"])
	assert.Equal(t, 4, stats[0].Buckets)
	assert.Equal(t, 1, stats[1].Buckets)
}

func TestFetchSingleRound(t *testing.T) {
	engine := &fakeEngine{docs: fiveGroups()}
	w, err := NewWalker(engine, testRequest(2))
	require.NoError(t, err)

	first, err := w.Fetch(context.Background(), Key{})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Len())
	assert.False(t, first.After.IsZero())

	second, err := w.Fetch(context.Background(), first.After)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Len())
	assert.Equal(t, "b", second.Buckets[0].Key.Values()[0].Value.String())
	assert.Equal(t, 2, engine.calls())

	_, err = w.Fetch(context.Background(), NewKey(KeyValue{Name: "other", Value: fieldvalue.Long(1)}))
	assert.ErrorIs(t, err, ErrKeyMismatch)
}
