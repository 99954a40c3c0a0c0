package elastic

import (
	"context"
	"encoding/json"
)

// Client is the version independent surface the samples are written against.
// Implementations live in the v7, v8 and v9 subpackages.
type Client interface {
	Info(ctx context.Context) (*ServerInfo, error)
	CreateIndex(ctx context.Context, index string, body []byte) (bool, error)
	DeleteIndex(ctx context.Context, index string) (bool, error)
	IndexDocument(ctx context.Context, index, id string, doc []byte, refresh bool) (*DocumentResult, error)
	GetDocument(ctx context.Context, index, id string) (*Document, error)
	DeleteDocument(ctx context.Context, index, id string, refresh bool) (*DocumentResult, error)
	Bulk(ctx context.Context, index string, items []BulkItem, refresh bool) (*BulkResult, error)
	Count(ctx context.Context, index string, query Query) (int64, error)
	Search(ctx context.Context, index string, body []byte) (*SearchResponse, error)
	// Perform sends a raw JSON request, the equivalent of a generic client.
	Perform(ctx context.Context, method, path string, body []byte) (*RawResponse, error)
	Scroll(index string, size int, query Query) ScrollService
	Stop()
}

type Query interface {
	Build() map[string]interface{}
}

// ScrollService iterates a scroll context. Do returns io.EOF once all hits
// have been delivered.
type ScrollService interface {
	Do(ctx context.Context) (*SearchResponse, error)
	Clear(ctx context.Context) error
	FetchSourceContext(includeFields []string) ScrollService
	DocvalueFields(fields ...string) ScrollService
	KeepAlive(keepAlive string) ScrollService
}

type SearchHit interface {
	GetSource() []byte
}

type ServerInfo struct {
	Name         string `json:"name"`
	ClusterName  string `json:"cluster_name"`
	Distribution string `json:"distribution"`
	Number       string `json:"number"`
}

type SearchResponse struct {
	Took          int64
	Total         int64
	TotalRelation string
	ScrollID      string
	Hits          []Hit
	Aggregations  map[string]json.RawMessage
}

// TotalIsExact reports whether Total is an exact count rather than a lower bound.
func (r *SearchResponse) TotalIsExact() bool {
	return r.TotalRelation == "" || r.TotalRelation == "eq"
}

type Hit struct {
	Index  string                     `json:"_index"`
	ID     string                     `json:"_id"`
	Source json.RawMessage            `json:"_source,omitempty"`
	Fields map[string]json.RawMessage `json:"fields,omitempty"`
}

func (h *Hit) GetSource() []byte {
	return h.Source
}

type DocumentResult struct {
	Index   string `json:"_index"`
	ID      string `json:"_id"`
	Version int64  `json:"_version"`
	Result  string `json:"result"`
}

type Document struct {
	Index   string          `json:"_index"`
	ID      string          `json:"_id"`
	Version int64           `json:"_version"`
	Found   bool            `json:"found"`
	Source  json.RawMessage `json:"_source,omitempty"`
}

type BulkAction string

const (
	BulkIndex  BulkAction = "index"
	BulkUpdate BulkAction = "update"
)

type BulkItem struct {
	Action      BulkAction
	ID          string
	Doc         json.RawMessage
	DocAsUpsert bool
}

type BulkResult struct {
	Items  int
	Failed int
	Errors []string
}

type RawResponse struct {
	StatusCode int
	Body       json.RawMessage
}
