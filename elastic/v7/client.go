package v7

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/olivere/elastic/v7"

	elasticsearch "github.com/pteich/elastic-query-samples/elastic"
)

type Client struct {
	client *elastic.Client
}

var _ elasticsearch.Client = (*Client)(nil)

// Options collects the settings used to build an olivere client.
type Options struct {
	URL                 string
	Username            string
	Password            string
	HTTPClient          *http.Client
	Sniff               bool
	HealthcheckInterval time.Duration
	ErrorLog            elastic.Logger
	TraceLog            elastic.Logger
}

func NewClient(esOpts []elastic.ClientOptionFunc) (*Client, error) {
	client, err := elastic.NewClient(esOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{client: client}, nil
}

func NewOptions(o Options) []elastic.ClientOptionFunc {
	esOpts := []elastic.ClientOptionFunc{
		elastic.SetURL(o.URL),
		elastic.SetSniff(o.Sniff),
	}
	if o.HTTPClient != nil {
		esOpts = append(esOpts, elastic.SetHttpClient(o.HTTPClient))
	}
	if o.HealthcheckInterval > 0 {
		esOpts = append(esOpts, elastic.SetHealthcheckInterval(o.HealthcheckInterval))
	} else {
		esOpts = append(esOpts, elastic.SetHealthcheck(false))
	}
	if o.ErrorLog != nil {
		esOpts = append(esOpts, elastic.SetErrorLog(o.ErrorLog))
	}
	if o.TraceLog != nil {
		esOpts = append(esOpts, elastic.SetTraceLog(o.TraceLog))
	}
	if o.Username != "" && o.Password != "" {
		esOpts = append(esOpts, elastic.SetBasicAuth(o.Username, o.Password))
	}
	return esOpts
}

func (c *Client) Info(ctx context.Context) (*elasticsearch.ServerInfo, error) {
	res, err := c.client.PerformRequest(ctx, elastic.PerformRequestOptions{
		Method: http.MethodGet,
		Path:   "/",
	})
	if err != nil {
		return nil, wrapError(err)
	}

	var resp struct {
		Name        string `json:"name"`
		ClusterName string `json:"cluster_name"`
		Version     struct {
			Distribution string `json:"distribution"`
			Number       string `json:"number"`
		} `json:"version"`
	}
	if err := json.Unmarshal(res.Body, &resp); err != nil {
		return nil, err
	}

	info := &elasticsearch.ServerInfo{
		Name:         resp.Name,
		ClusterName:  resp.ClusterName,
		Distribution: resp.Version.Distribution,
		Number:       resp.Version.Number,
	}
	if info.Distribution == "" {
		info.Distribution = "elasticsearch"
	}
	return info, nil
}

func (c *Client) CreateIndex(ctx context.Context, index string, body []byte) (bool, error) {
	res, err := c.client.CreateIndex(index).BodyString(string(body)).Do(ctx)
	if err != nil {
		return false, wrapError(err)
	}
	return res.Acknowledged, nil
}

func (c *Client) DeleteIndex(ctx context.Context, index string) (bool, error) {
	res, err := c.client.DeleteIndex(index).Do(ctx)
	if err != nil {
		return false, wrapError(err)
	}
	return res.Acknowledged, nil
}

func (c *Client) IndexDocument(ctx context.Context, index, id string, doc []byte, refresh bool) (*elasticsearch.DocumentResult, error) {
	svc := c.client.Index().Index(index).Id(id).BodyString(string(doc))
	if refresh {
		svc = svc.Refresh("true")
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	return &elasticsearch.DocumentResult{
		Index:   res.Index,
		ID:      res.Id,
		Version: res.Version,
		Result:  res.Result,
	}, nil
}

func (c *Client) GetDocument(ctx context.Context, index, id string) (*elasticsearch.Document, error) {
	res, err := c.client.Get().Index(index).Id(id).Do(ctx)
	if elastic.IsNotFound(err) {
		return &elasticsearch.Document{Index: index, ID: id, Found: false}, nil
	}
	if err != nil {
		return nil, wrapError(err)
	}

	doc := &elasticsearch.Document{
		Index:  res.Index,
		ID:     res.Id,
		Found:  res.Found,
		Source: res.Source,
	}
	if res.Version != nil {
		doc.Version = *res.Version
	}
	return doc, nil
}

func (c *Client) DeleteDocument(ctx context.Context, index, id string, refresh bool) (*elasticsearch.DocumentResult, error) {
	svc := c.client.Delete().Index(index).Id(id)
	if refresh {
		svc = svc.Refresh("true")
	}
	res, err := svc.Do(ctx)
	if elastic.IsNotFound(err) {
		return &elasticsearch.DocumentResult{Index: index, ID: id, Result: "not_found"}, nil
	}
	if err != nil {
		return nil, wrapError(err)
	}
	return &elasticsearch.DocumentResult{
		Index:   res.Index,
		ID:      res.Id,
		Version: res.Version,
		Result:  res.Result,
	}, nil
}

func (c *Client) Bulk(ctx context.Context, index string, items []elasticsearch.BulkItem, refresh bool) (*elasticsearch.BulkResult, error) {
	svc := c.client.Bulk().Index(index)
	for _, item := range items {
		switch item.Action {
		case elasticsearch.BulkUpdate:
			svc = svc.Add(elastic.NewBulkUpdateRequest().Id(item.ID).Doc(item.Doc).DocAsUpsert(item.DocAsUpsert))
		default:
			svc = svc.Add(elastic.NewBulkIndexRequest().Id(item.ID).Doc(item.Doc))
		}
	}
	if refresh {
		svc = svc.Refresh("true")
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, wrapError(err)
	}

	result := &elasticsearch.BulkResult{}
	for _, item := range res.Items {
		result.Items += len(item)
	}
	for _, failed := range res.Failed() {
		result.Failed++
		if failed.Error != nil {
			result.Errors = append(result.Errors, failed.Id+": "+failed.Error.Reason)
		}
	}
	return result, nil
}

func (c *Client) Count(ctx context.Context, index string, query elasticsearch.Query) (int64, error) {
	svc := c.client.Count(index)
	if query != nil {
		svc = svc.Query(sourceQuery{query})
	}
	count, err := svc.Do(ctx)
	if err != nil {
		return 0, wrapError(err)
	}
	return count, nil
}

func (c *Client) Search(ctx context.Context, index string, body []byte) (*elasticsearch.SearchResponse, error) {
	res, err := c.client.Search(index).Source(json.RawMessage(body)).Do(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	return convertResult(res)
}

func (c *Client) Perform(ctx context.Context, method, path string, body []byte) (*elasticsearch.RawResponse, error) {
	opts := elastic.PerformRequestOptions{
		Method: method,
		Path:   path,
	}
	if body != nil {
		opts.Body = string(body)
	}
	res, err := c.client.PerformRequest(ctx, opts)
	if err != nil {
		return nil, wrapError(err)
	}
	return &elasticsearch.RawResponse{StatusCode: res.StatusCode, Body: res.Body}, nil
}

func (c *Client) Scroll(index string, size int, query elasticsearch.Query) elasticsearch.ScrollService {
	var q map[string]interface{}
	if query != nil {
		q = query.Build()
	}
	return &ScrollService{
		client:    c.client,
		index:     index,
		size:      size,
		query:     q,
		keepAlive: "5m",
	}
}

func (c *Client) Stop() {
	c.client.Stop()
}

// ScrollService defers building the olivere scroll until the first Do so
// field selection and keep alive can be applied in any order.
type ScrollService struct {
	client         *elastic.Client
	scroll         *elastic.ScrollService
	index          string
	size           int
	query          map[string]interface{}
	includeFields  []string
	docvalueFields []string
	keepAlive      string
}

func (s *ScrollService) Do(ctx context.Context) (*elasticsearch.SearchResponse, error) {
	if s.scroll == nil {
		body := elasticsearch.ScrollBody(s.size, s.query, s.includeFields, s.docvalueFields)
		s.scroll = s.client.Scroll(s.index).KeepAlive(s.keepAlive).Body(body)
	}

	results, err := s.scroll.Do(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, wrapError(err)
	}
	return convertResult(results)
}

func (s *ScrollService) Clear(ctx context.Context) error {
	if s.scroll == nil {
		return nil
	}
	return wrapError(s.scroll.Clear(ctx))
}

func (s *ScrollService) FetchSourceContext(includeFields []string) elasticsearch.ScrollService {
	s.includeFields = includeFields
	return s
}

func (s *ScrollService) DocvalueFields(fields ...string) elasticsearch.ScrollService {
	s.docvalueFields = append(s.docvalueFields, fields...)
	return s
}

func (s *ScrollService) KeepAlive(keepAlive string) elasticsearch.ScrollService {
	if keepAlive != "" {
		s.keepAlive = keepAlive
	}
	return s
}

// sourceQuery lets a map based query be used where olivere expects elastic.Query.
type sourceQuery struct {
	query elasticsearch.Query
}

func (q sourceQuery) Source() (interface{}, error) {
	return q.query.Build(), nil
}

func convertResult(res *elastic.SearchResult) (*elasticsearch.SearchResponse, error) {
	out := &elasticsearch.SearchResponse{
		Took:     res.TookInMillis,
		ScrollID: res.ScrollId,
	}
	if len(res.Aggregations) > 0 {
		out.Aggregations = make(map[string]json.RawMessage, len(res.Aggregations))
		for name, raw := range res.Aggregations {
			out.Aggregations[name] = raw
		}
	}
	if res.Hits == nil {
		return out, nil
	}
	if res.Hits.TotalHits != nil {
		out.Total = res.Hits.TotalHits.Value
		out.TotalRelation = res.Hits.TotalHits.Relation
	}

	out.Hits = make([]elasticsearch.Hit, 0, len(res.Hits.Hits))
	for _, hit := range res.Hits.Hits {
		h := elasticsearch.Hit{
			Index:  hit.Index,
			ID:     hit.Id,
			Source: hit.Source,
		}
		if len(hit.Fields) > 0 {
			data, err := json.Marshal(hit.Fields)
			if err != nil {
				return nil, err
			}
			if err := json.Unmarshal(data, &h.Fields); err != nil {
				return nil, err
			}
		}
		out.Hits = append(out.Hits, h)
	}
	return out, nil
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var e *elastic.Error
	if errors.As(err, &e) {
		body := ""
		if e.Details != nil {
			body = e.Details.Type + ": " + e.Details.Reason
		}
		return &elasticsearch.HTTPStatusError{StatusCode: e.Status, Body: body}
	}
	return err
}
