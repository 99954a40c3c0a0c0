package formats

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-query-samples/elastic"
)

var lineBreaks = regexp.MustCompile(`\x{000D}\x{000A}|[\x{000A}\x{000B}\x{000C}\x{000D}\x{0085}\x{2028}\x{2029}]`)

// CSV writes one row per record. Nested objects are addressed with dotted
// field names. Without Fields the columns are taken from the first record.
type CSV struct {
	Fields      []string
	Output      io.Writer
	Workers     int
	ProgressBar *pb.ProgressBar
	Logger      zerolog.Logger
}

func (c CSV) Run(ctx context.Context, hits <-chan elastic.SearchHit) error {
	fields := c.Fields

	var first map[string]interface{}
	if len(fields) == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case hit, ok := <-hits:
			if !ok {
				return nil
			}
			doc, err := decode(hit)
			if err != nil {
				return err
			}
			first = doc
			fields = columns(doc)
		}
	}

	workers := c.Workers
	if workers < 1 {
		workers = 1
	}

	w := csv.NewWriter(c.Output)
	if err := w.Write(fields); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}

	csvout := make(chan []string, workers)
	written := make(chan error, 1)
	go func() {
		for csvdata := range csvout {
			if err := w.Write(csvdata); err != nil {
				c.Logger.Error().Err(err).Msg("writing CSV data")
			}
			w.Flush()
			increment(c.ProgressBar)
		}
		w.Flush()
		written <- w.Error()
	}()

	if first != nil {
		csvout <- row(first, fields)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for hit := range hits {
				document, err := decode(hit)
				if err != nil {
					c.Logger.Error().Err(err).Msg("unmarshal JSON from search hit")
					continue
				}

				select {
				case csvout <- row(document, fields):
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	err := g.Wait()
	close(csvout)
	if werr := <-written; err == nil {
		err = werr
	}
	return err
}

func decode(hit elastic.SearchHit) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(hit.GetSource()))
	dec.UseNumber()

	var document map[string]interface{}
	if err := dec.Decode(&document); err != nil {
		return nil, err
	}
	return document, nil
}

func row(document map[string]interface{}, fields []string) []string {
	flat := flatten(document)

	csvdata := make([]string, 0, len(fields))
	for _, field := range fields {
		val, ok := flat[field]
		if !ok || val == nil {
			csvdata = append(csvdata, "")
			continue
		}

		var outdata string
		switch val := val.(type) {
		case json.Number:
			outdata = val.String()
		case int64:
			outdata = strconv.FormatInt(val, 10)
		case float64:
			outdata = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			outdata = removeLBR(fmt.Sprintf("%v", val))
		}
		csvdata = append(csvdata, outdata)
	}
	return csvdata
}

// columns returns the sorted leaf names of a flattened document.
func columns(document map[string]interface{}) []string {
	var fields []string
	for key, val := range flatten(document) {
		if _, nested := val.(map[string]interface{}); nested {
			continue
		}
		fields = append(fields, key)
	}
	sort.Strings(fields)
	return fields
}

// flatten adds a dotted key for every value of a nested object while keeping
// the original keys.
func flatten(document map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(document))
	for key, val := range document {
		out[key] = val
		if nested, ok := val.(map[string]interface{}); ok {
			for nestedKey, nestedVal := range flatten(nested) {
				out[key+"."+nestedKey] = nestedVal
			}
		}
	}
	return out
}

func removeLBR(text string) string {
	return lineBreaks.ReplaceAllString(text, ``)
}
