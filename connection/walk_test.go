package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pteich/elastic-query-samples/composite"
	"github.com/pteich/elastic-query-samples/config"
	"github.com/pteich/elastic-query-samples/elastic"
)

var hosts = []string{"a", "b", "c", "d", "e"}

// newCompositeEngine answers composite searches on the field host over five
// distinct values. The index "broken" fails every search.
func newCompositeEngine(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Elastic-Product", "Elasticsearch")

		if !strings.HasSuffix(r.URL.Path, "/_search") {
			fmt.Fprint(w, `{"name":"node-1","cluster_name":"fake","version":{"number":"8.19.0"}}`)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/broken/") {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":{"type":"search_phase_execution_exception"},"status":500}`)
			return
		}

		var body struct {
			Aggs map[string]struct {
				Composite struct {
					Size  int               `json:"size"`
					After map[string]string `json:"after"`
				} `json:"composite"`
			} `json:"aggs"`
		}
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		aggs := make(map[string]interface{})
		for name, agg := range body.Aggs {
			start := 0
			if after, ok := agg.Composite.After["host"]; ok {
				for start < len(hosts) && hosts[start] <= after {
					start++
				}
			}
			end := start + agg.Composite.Size
			if end > len(hosts) {
				end = len(hosts)
			}

			buckets := []map[string]interface{}{}
			for _, h := range hosts[start:end] {
				buckets = append(buckets, map[string]interface{}{"key": map[string]string{"host": h}, "doc_count": 1})
			}
			result := map[string]interface{}{"buckets": buckets}
			if len(buckets) > 0 {
				result["after_key"] = map[string]string{"host": hosts[end-1]}
			}
			aggs[name] = result
		}

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"took":         1,
			"hits":         map[string]interface{}{"total": map[string]interface{}{"value": 5, "relation": "eq"}, "hits": []interface{}{}},
			"aggregations": aggs,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func hostRequest(index string) composite.PageRequest {
	return composite.PageRequest{
		Index:   index,
		Name:    "by_host",
		Size:    2,
		Sources: []composite.GroupKey{{Name: "host", Field: "host", Order: composite.Asc}},
	}
}

func TestWalkEveryVersion(t *testing.T) {
	srv := newCompositeEngine(t)

	for _, version := range []int{7, 8, 9} {
		t.Run(fmt.Sprintf("v%d", version), func(t *testing.T) {
			cfg := config.Default().Connection
			cfg.URL = srv.URL
			cfg.Version = version

			client, err := Open(cfg, nil, zerolog.Nop())
			require.NoError(t, err)
			defer client.Stop()

			w, err := composite.NewWalker(client, hostRequest("metrics"))
			require.NoError(t, err)

			var sizes []int
			var keys []string
			stats, err := w.Walk(context.Background(), func(_ context.Context, page composite.Page) error {
				sizes = append(sizes, page.Len())
				for _, b := range page.Buckets {
					keys = append(keys, b.Key.String())
				}
				return nil
			})
			require.NoError(t, err)

			assert.Equal(t, []int{2, 2, 1}, sizes)
			assert.Len(t, keys, 5)
			assert.Equal(t, 4, stats.Rounds)
			assert.Equal(t, 5, stats.Buckets)
		})
	}
}

func TestWalkStatusError(t *testing.T) {
	srv := newCompositeEngine(t)

	for _, version := range []int{7, 8, 9} {
		t.Run(fmt.Sprintf("v%d", version), func(t *testing.T) {
			cfg := config.Default().Connection
			cfg.URL = srv.URL
			cfg.Version = version

			client, err := Open(cfg, nil, zerolog.Nop())
			require.NoError(t, err)
			defer client.Stop()

			w, err := composite.NewWalker(client, hostRequest("broken"))
			require.NoError(t, err)

			_, err = w.Walk(context.Background(), nil)
			require.Error(t, err)

			var statusErr *elastic.HTTPStatusError
			require.True(t, errors.As(err, &statusErr), "got %v", err)
			assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
		})
	}
}
