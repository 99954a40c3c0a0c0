// Package samples contains one call pattern per engine API: index lifecycle,
// single documents, bulk, term searches, scroll, nested and composite
// aggregations. Every sample writes a human readable report to its output.
package samples

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/pteich/elastic-query-samples/elastic"
)

// DefaultIndex is used when no index is given.
const DefaultIndex = "sample-index"

// docvalueFields are requested by the search and scroll samples.
var docvalueFields = []string{"counter", "ctime", "objHash", "value"}

// Metric is the document stored by all samples.
type Metric struct {
	Counter string  `json:"counter"`
	CTime   int64   `json:"ctime"`
	ObjHash int64   `json:"objHash"`
	Value   float64 `json:"value"`
}

// SampleMetric is the fixed document of the single document samples,
// 2024-06-05 03:41:41 +09:00.
func SampleMetric() Metric {
	return Metric{Counter: "15U", CTime: 1717558901000, ObjHash: 1113030459, Value: 0}
}

// NewMetric returns the i-th bulk document. Four objHash values repeat so that
// the aggregations have something to group.
func NewMetric(i int, now time.Time) Metric {
	return Metric{
		Counter: "15U",
		CTime:   now.UnixMilli(),
		ObjHash: 1113030459 + int64(i%4),
		Value:   float64(i),
	}
}

type Samples struct {
	client elastic.Client
	out    io.Writer
	logger zerolog.Logger
	now    func() time.Time
}

func New(client elastic.Client, out io.Writer, logger zerolog.Logger) *Samples {
	return &Samples{
		client: client,
		out:    out,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Samples) printf(format string, args ...interface{}) {
	fmt.Fprintf(s.out, format, args...)
}

func (s *Samples) title(name string) {
	s.printf("= %s =\n", name)
}

// printHits writes the source and the docvalue fields of every hit.
func (s *Samples) printHits(hits []elastic.Hit) {
	for _, hit := range hits {
		if len(hit.Source) == 0 {
			s.printf("Document has no source.\n")
		} else {
			s.printf("Document source: \n%s\n", pretty(hit.Source))
		}

		if len(hit.Fields) > 0 {
			s.printf("Document has docvalue_fields: \n{%s}\n", firstValues(hit.Fields))
		}
	}
}

func (s *Samples) printTotal(res *elastic.SearchResponse) {
	if res.TotalIsExact() {
		s.printf("There are %d results.\n", res.Total)
	} else {
		s.printf("There are more than %d results.\n", res.Total)
	}
}

func pretty(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// firstValues renders docvalue fields as "name:value" pairs, docvalues are
// always arrays and only their first element is shown.
func firstValues(fields map[string]json.RawMessage) string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	for _, name := range names {
		var values []json.RawMessage
		if err := json.Unmarshal(fields[name], &values); err != nil || len(values) == 0 {
			continue
		}
		fmt.Fprintf(&buf, "%s:%s ", name, values[0])
	}
	return buf.String()
}
