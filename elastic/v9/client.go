package v9

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/elastic/go-elasticsearch/v9/esapi"
	"github.com/elastic/go-elasticsearch/v9/esutil"

	"github.com/pteich/elastic-query-samples/elastic"
)

const defaultKeepAlive = 5 * time.Minute

type Client struct {
	client *elasticsearch.Client
}

var _ elastic.Client = (*Client)(nil)

func NewClient(cfg elasticsearch.Config) (*Client, error) {
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{client: client}, nil
}

func NewConfig(url string, username string, password string, httpClient *http.Client) elasticsearch.Config {
	cfg := elasticsearch.Config{
		Addresses: []string{url},
		Username:  username,
		Password:  password,
	}
	if httpClient != nil {
		cfg.Transport = httpClient.Transport
	}
	return cfg
}

func (c *Client) Info(ctx context.Context) (*elastic.ServerInfo, error) {
	res, err := esapi.InfoRequest{}.Do(ctx, c.client)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, statusError(res)
	}

	var resp struct {
		Name        string `json:"name"`
		ClusterName string `json:"cluster_name"`
		Version     struct {
			Distribution string `json:"distribution"`
			Number       string `json:"number"`
		} `json:"version"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, err
	}

	info := &elastic.ServerInfo{
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
	req := esapi.IndicesCreateRequest{
		Index: index,
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return false, statusError(res)
	}
	return decodeAcknowledged(res.Body)
}

func (c *Client) DeleteIndex(ctx context.Context, index string) (bool, error) {
	res, err := esapi.IndicesDeleteRequest{Index: []string{index}}.Do(ctx, c.client)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return false, statusError(res)
	}
	return decodeAcknowledged(res.Body)
}

func (c *Client) IndexDocument(ctx context.Context, index, id string, doc []byte, refresh bool) (*elastic.DocumentResult, error) {
	req := esapi.IndexRequest{
		Index:      index,
		DocumentID: id,
		Body:       bytes.NewReader(doc),
		Refresh:    refreshParam(refresh),
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, statusError(res)
	}

	var meta elastic.DocumentResult
	if err := json.NewDecoder(res.Body).Decode(&meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (c *Client) GetDocument(ctx context.Context, index, id string) (*elastic.Document, error) {
	res, err := esapi.GetRequest{Index: index, DocumentID: id}.Do(ctx, c.client)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return &elastic.Document{Index: index, ID: id, Found: false}, nil
	}
	if res.IsError() {
		return nil, statusError(res)
	}

	var doc elastic.Document
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) DeleteDocument(ctx context.Context, index, id string, refresh bool) (*elastic.DocumentResult, error) {
	req := esapi.DeleteRequest{
		Index:      index,
		DocumentID: id,
		Refresh:    refreshParam(refresh),
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	// a missing document is reported in the body with result "not_found"
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return nil, statusError(res)
	}

	var meta elastic.DocumentResult
	if err := json.NewDecoder(res.Body).Decode(&meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (c *Client) Bulk(ctx context.Context, index string, items []elastic.BulkItem, refresh bool) (*elastic.BulkResult, error) {
	body, err := elastic.BulkBody(index, items)
	if err != nil {
		return nil, err
	}

	req := esapi.BulkRequest{
		Index:   index,
		Body:    bytes.NewReader(body),
		Refresh: refreshParam(refresh),
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, statusError(res)
	}
	return elastic.DecodeBulkResponse(res.Body)
}

func (c *Client) Count(ctx context.Context, index string, query elastic.Query) (int64, error) {
	var body io.Reader
	if query != nil {
		queryMap := query.Build()
		if len(queryMap) > 0 {
			body = esutil.NewJSONReader(map[string]interface{}{"query": queryMap})
		}
	}

	req := esapi.CountRequest{
		Index: []string{index},
		Body:  body,
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, statusError(res)
	}

	var resp struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (c *Client) Search(ctx context.Context, index string, body []byte) (*elastic.SearchResponse, error) {
	req := esapi.SearchRequest{
		Index: []string{index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, statusError(res)
	}
	return elastic.DecodeSearchResponse(res.Body)
}

func (c *Client) Perform(ctx context.Context, method, path string, body []byte) (*elastic.RawResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.client.Perform(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if res.StatusCode >= 400 {
		return nil, &elastic.HTTPStatusError{StatusCode: res.StatusCode, URL: path, Body: string(data)}
	}
	return &elastic.RawResponse{StatusCode: res.StatusCode, Body: data}, nil
}

func (c *Client) Scroll(index string, size int, query elastic.Query) elastic.ScrollService {
	var q map[string]interface{}
	if query != nil {
		q = query.Build()
	}
	return &ScrollService{
		client:     c.client,
		index:      index,
		size:       size,
		query:      q,
		scrollTime: defaultKeepAlive,
	}
}

func (c *Client) Stop() {}

type ScrollService struct {
	client         *elasticsearch.Client
	index          string
	size           int
	query          map[string]interface{}
	includeFields  []string
	docvalueFields []string
	scrollID       string
	scrollTime     time.Duration
	done           bool
}

func (s *ScrollService) Do(ctx context.Context) (*elastic.SearchResponse, error) {
	if s.done {
		return nil, io.EOF
	}

	var res *esapi.Response
	var err error

	if s.scrollID == "" {
		body := elastic.ScrollBody(s.size, s.query, s.includeFields, s.docvalueFields)
		req := esapi.SearchRequest{
			Index:  []string{s.index},
			Scroll: s.scrollTime,
			Body:   esutil.NewJSONReader(body),
		}
		res, err = req.Do(ctx, s.client)
	} else {
		req := esapi.ScrollRequest{
			ScrollID: s.scrollID,
			Scroll:   s.scrollTime,
		}
		res, err = req.Do(ctx, s.client)
	}
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, statusError(res)
	}

	result, err := elastic.DecodeSearchResponse(res.Body)
	if err != nil {
		return nil, err
	}
	if result.ScrollID != "" {
		s.scrollID = result.ScrollID
	}
	if len(result.Hits) == 0 {
		s.done = true
		return nil, io.EOF
	}
	return result, nil
}

func (s *ScrollService) Clear(ctx context.Context) error {
	if s.scrollID == "" {
		return nil
	}

	req := esapi.ClearScrollRequest{
		ScrollID: []string{s.scrollID},
	}

	res, err := req.Do(ctx, s.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	s.scrollID = ""
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return statusError(res)
	}
	return nil
}

func (s *ScrollService) FetchSourceContext(includeFields []string) elastic.ScrollService {
	s.includeFields = includeFields
	return s
}

func (s *ScrollService) DocvalueFields(fields ...string) elastic.ScrollService {
	s.docvalueFields = append(s.docvalueFields, fields...)
	return s
}

func (s *ScrollService) KeepAlive(keepAlive string) elastic.ScrollService {
	if d, err := time.ParseDuration(keepAlive); err == nil && d > 0 {
		s.scrollTime = d
	}
	return s
}

func refreshParam(refresh bool) string {
	if refresh {
		return "true"
	}
	return ""
}

func decodeAcknowledged(r io.Reader) (bool, error) {
	var resp struct {
		Acknowledged bool `json:"acknowledged"`
	}
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return false, err
	}
	return resp.Acknowledged, nil
}

func statusError(res *esapi.Response) error {
	body, _ := io.ReadAll(res.Body)
	return &elastic.HTTPStatusError{StatusCode: res.StatusCode, Body: string(body)}
}
