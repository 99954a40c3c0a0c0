package samples

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type IndexDefinition struct {
	Settings IndexSettings `json:"settings"`
	Mappings Mapping       `json:"mappings"`
}

type IndexSettings struct {
	NumberOfShards   int `json:"number_of_shards"`
	NumberOfReplicas int `json:"number_of_replicas"`
}

type Mapping struct {
	Dynamic    string              `json:"dynamic,omitempty"`
	Source     *SourceField        `json:"_source,omitempty"`
	Properties map[string]Property `json:"properties"`
}

type SourceField struct {
	Enabled bool `json:"enabled"`
}

type Property struct {
	Type          string  `json:"type"`
	IgnoreAbove   int     `json:"ignore_above,omitempty"`
	Format        string  `json:"format,omitempty"`
	ScalingFactor float64 `json:"scaling_factor,omitempty"`
}

// MetricIndex is the strict mapping of Metric.
func MetricIndex() IndexDefinition {
	return IndexDefinition{
		Settings: IndexSettings{NumberOfShards: 1, NumberOfReplicas: 1},
		Mappings: Mapping{
			Dynamic: "strict",
			Source:  &SourceField{Enabled: true},
			Properties: map[string]Property{
				"counter": {Type: "keyword", IgnoreAbove: 256},
				"ctime":   {Type: "date", Format: "yyyy-MM-dd HH:mm:ss || epoch_millis"},
				"objHash": {Type: "integer"},
				"value":   {Type: "scaled_float", ScalingFactor: 100},
			},
		},
	}
}

// metricMappingJSON is the same mapping as MetricIndex as a plain string,
// without settings.
const metricMappingJSON = `{
  "mappings": {
    "dynamic": "strict",
    "_source": {
      "enabled": true
    },
    "properties": {
      "counter": {
        "type": "keyword",
        "ignore_above": 256
      },
      "ctime": {
        "type": "date",
        "format": "yyyy-MM-dd HH:mm:ss || epoch_millis"
      },
      "objHash": {
        "type": "integer"
      },
      "value": {
        "type": "scaled_float",
        "scaling_factor": 100
      }
    }
  }
}`

func (s *Samples) Info(ctx context.Context) error {
	info, err := s.client.Info(ctx)
	if err != nil {
		return fmt.Errorf("server info: %w", err)
	}
	s.printf("Server: %s@%s\n", info.Distribution, info.Number)
	return nil
}

// CreateIndex creates the index from a typed definition, MetricIndex when def is nil.
func (s *Samples) CreateIndex(ctx context.Context, index string, def *IndexDefinition) error {
	s.title("IndexSample.createIndex")

	if def == nil {
		d := MetricIndex()
		def = &d
	}
	body, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encoding index definition: %w", err)
	}
	s.printf("%s\n", body)

	return s.createIndex(ctx, index, body)
}

// CreateIndexFromJSON sends a raw JSON definition through a generic request,
// the metric mapping when body is empty.
func (s *Samples) CreateIndexFromJSON(ctx context.Context, index string, body []byte) error {
	s.title("IndexSample.createIndexWithJsonString")

	if len(body) == 0 {
		body = []byte(metricMappingJSON)
	}
	if !json.Valid(body) {
		return fmt.Errorf("index definition for %s is not valid JSON", index)
	}

	res, err := s.client.Perform(ctx, http.MethodPut, "/"+index, body)
	if err != nil {
		s.printf("Index creation failed\n")
		return fmt.Errorf("creating index %s: %w", index, err)
	}
	if res.StatusCode == http.StatusOK {
		s.printf("Index creation successful\n")
	} else {
		s.printf("Index creation failed\n")
	}
	s.printf("%s\n", res.Body)
	return nil
}

func (s *Samples) createIndex(ctx context.Context, index string, body []byte) error {
	ack, err := s.client.CreateIndex(ctx, index, body)
	if err != nil {
		return fmt.Errorf("creating index %s: %w", index, err)
	}
	if ack {
		s.printf("Index creation successful\n")
	} else {
		s.printf("Index creation failed\n")
	}
	return nil
}

func (s *Samples) DeleteIndex(ctx context.Context, index string) error {
	s.title("IndexSample.deleteIndex")

	ack, err := s.client.DeleteIndex(ctx, index)
	if err != nil {
		return fmt.Errorf("deleting index %s: %w", index, err)
	}
	if ack {
		s.printf("Index deletion successful\n")
	} else {
		s.printf("Index deletion failed\n")
	}
	return nil
}
