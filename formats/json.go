package formats

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-query-samples/elastic"
)

// JSON writes the source of every record as one line.
type JSON struct {
	Output      io.Writer
	ProgressBar *pb.ProgressBar
}

func (j JSON) Run(ctx context.Context, hits <-chan elastic.SearchHit) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case hit, ok := <-hits:
			if !ok {
				return nil
			}
			if _, err := fmt.Fprintln(j.Output, string(hit.GetSource())); err != nil {
				return err
			}
			increment(j.ProgressBar)
		}
	}
}
