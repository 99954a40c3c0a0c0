package formats

import (
	"context"

	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-query-samples/elastic"
)

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatRAW  = "raw"
)

// Formatter writes every record received on hits until the channel is closed.
type Formatter interface {
	Run(ctx context.Context, hits <-chan elastic.SearchHit) error
}

func increment(bar *pb.ProgressBar) {
	if bar != nil {
		bar.Increment()
	}
}
