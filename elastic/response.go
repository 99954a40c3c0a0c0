package elastic

import (
	"encoding/json"
	"fmt"
	"io"
)

type wireSearchResponse struct {
	Took     int64  `json:"took"`
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Total json.RawMessage `json:"total"`
		Hits  []Hit           `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations"`
}

// DecodeSearchResponse reads a search or scroll response body. Both the 7.x
// object form and the legacy numeric form of hits.total are accepted.
func DecodeSearchResponse(r io.Reader) (*SearchResponse, error) {
	var raw wireSearchResponse
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	res := &SearchResponse{
		Took:         raw.Took,
		ScrollID:     raw.ScrollID,
		Hits:         raw.Hits.Hits,
		Aggregations: raw.Aggregations,
	}

	if len(raw.Hits.Total) > 0 {
		var total struct {
			Value    int64  `json:"value"`
			Relation string `json:"relation"`
		}
		if err := json.Unmarshal(raw.Hits.Total, &total); err == nil {
			res.Total = total.Value
			res.TotalRelation = total.Relation
		} else if err := json.Unmarshal(raw.Hits.Total, &res.Total); err != nil {
			return nil, fmt.Errorf("decoding hits.total: %w", err)
		}
	}

	return res, nil
}

// ScrollBody builds the initial body of a scroll search.
func ScrollBody(size int, query map[string]interface{}, includeFields, docvalueFields []string) map[string]interface{} {
	body := map[string]interface{}{}
	if size > 0 {
		body["size"] = size
	}
	if len(query) > 0 {
		body["query"] = query
	}
	if len(includeFields) > 0 {
		body["_source"] = includeFields
	}
	if len(docvalueFields) > 0 {
		fields := make([]interface{}, len(docvalueFields))
		for i, f := range docvalueFields {
			fields[i] = map[string]interface{}{"field": f}
		}
		body["docvalue_fields"] = fields
	}
	return body
}

// BulkBody encodes bulk items as NDJSON.
func BulkBody(index string, items []BulkItem) ([]byte, error) {
	var buf []byte
	for _, item := range items {
		meta := map[string]string{"_index": index}
		if item.ID != "" {
			meta["_id"] = item.ID
		}
		action, err := json.Marshal(map[string]interface{}{string(item.Action): meta})
		if err != nil {
			return nil, err
		}
		buf = append(buf, action...)
		buf = append(buf, '\n')

		var source []byte
		switch item.Action {
		case BulkUpdate:
			source, err = json.Marshal(map[string]interface{}{
				"doc":           item.Doc,
				"doc_as_upsert": item.DocAsUpsert,
			})
			if err != nil {
				return nil, err
			}
		default:
			source = item.Doc
		}
		buf = append(buf, source...)
		buf = append(buf, '\n')
	}
	return buf, nil
}

// DecodeBulkResponse counts items and failures of a bulk response.
func DecodeBulkResponse(r io.Reader) (*BulkResult, error) {
	var raw struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string          `json:"_id"`
			Status int             `json:"status"`
			Error  json.RawMessage `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding bulk response: %w", err)
	}

	res := &BulkResult{Items: len(raw.Items)}
	for _, item := range raw.Items {
		for _, op := range item {
			if op.Status >= 300 || len(op.Error) > 0 {
				res.Failed++
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", op.ID, string(op.Error)))
			}
		}
	}
	return res, nil
}
