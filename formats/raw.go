package formats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-query-samples/elastic"
)

// Raw writes every record with its metadata, one JSON object per line.
type Raw struct {
	Output      io.Writer
	ProgressBar *pb.ProgressBar
	Logger      zerolog.Logger
}

func (r Raw) Run(ctx context.Context, hits <-chan elastic.SearchHit) error {
	for hit := range hits {
		data, err := json.Marshal(hit)
		if err != nil {
			r.Logger.Error().Err(err).Msg("marshal search hit")
			continue
		}
		if _, err := fmt.Fprintln(r.Output, string(data)); err != nil {
			return err
		}
		increment(r.ProgressBar)

		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}
