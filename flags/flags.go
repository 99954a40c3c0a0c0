package flags

import (
	"fmt"
	"strings"

	"github.com/pteich/elastic-query-samples/config"
	"github.com/pteich/elastic-query-samples/fieldvalue"
)

// Connection holds the global flags shared by every command.
type Connection struct {
	Config            string `cli:"config" usage:"Path to YAML config file" env:"ESQS_CONFIG"`
	ElasticURL        string `cli:"connect" cliAlt:"c" usage:"ElasticSearch URL" env:"ELASTIC_URL"`
	ElasticVersion    int    `cli:"version" usage:"ElasticSearch major version (7, 8 or 9)" env:"ELASTIC_VERSION"`
	ElasticUser       string `cli:"user" usage:"ElasticSearch Username" env:"ELASTIC_USER"`
	ElasticPass       string `cli:"pass" usage:"ElasticSearch Password" env:"ELASTIC_PASS"`
	ElasticSkipVerify bool   `cli:"insecure" usage:"Skip verification of the SSL certificate"`
	ElasticCACert     string `cli:"cacert" usage:"Path to CA certificate"`
	ElasticClientCrt  string `cli:"clientcert" usage:"Path to client certificate"`
	ElasticClientKey  string `cli:"clientkey" usage:"Path to client key"`
	LogLevel          string `cli:"loglevel" usage:"Log level [debug|info|warn|error]" env:"LOG_LEVEL"`
	LogPretty         bool   `cli:"pretty" usage:"Human readable log output"`
	Trace             bool   `cli:"trace" usage:"Log every request sent to ElasticSearch"`
}

// Apply overrides the values of cfg that were given on the command line.
func (f *Connection) Apply(cfg *config.Config) {
	if f.ElasticURL != "" {
		cfg.Connection.URL = f.ElasticURL
	}
	if f.ElasticVersion != 0 {
		cfg.Connection.Version = f.ElasticVersion
	}
	if f.ElasticUser != "" {
		cfg.Connection.Username = f.ElasticUser
	}
	if f.ElasticPass != "" {
		cfg.Connection.Password = f.ElasticPass
	}
	if f.ElasticSkipVerify {
		cfg.Connection.SkipVerify = true
	}
	if f.ElasticCACert != "" {
		cfg.Connection.CACert = f.ElasticCACert
	}
	if f.ElasticClientCrt != "" {
		cfg.Connection.ClientCert = f.ElasticClientCrt
	}
	if f.ElasticClientKey != "" {
		cfg.Connection.ClientKey = f.ElasticClientKey
	}
	if f.LogLevel != "" {
		cfg.Logging.Level = f.LogLevel
	}
	if f.LogPretty {
		cfg.Logging.Pretty = true
	}
	if f.Trace {
		cfg.Logging.Level = "trace"
	}
}

type Index struct {
	Index string `cli:"index" cliAlt:"i" usage:"Index name"`
	// Body is a JSON file with settings and mappings sent as a generic
	// request. Without it the typed sample metric definition is used.
	Body string `cli:"body" usage:"Path to JSON file with the index definition"`
}

type Document struct {
	Index string `cli:"index" cliAlt:"i" usage:"Index name"`
	ID    string `cli:"id" usage:"Document ID"`
	Doc   string `cli:"doc" usage:"Document as JSON, defaults to a sample metric"`
}

type Bulk struct {
	Index  string `cli:"index" cliAlt:"i" usage:"Index name"`
	Count  int    `cli:"count" usage:"Number of sample documents"`
	Upsert bool   `cli:"upsert" usage:"Update existing documents or insert them"`
}

type Search struct {
	Index string `cli:"index" cliAlt:"i" usage:"Index name"`
	// Filter is a list of field=value conditions separated by semicolons,
	// values with commas become terms conditions.
	Filter string `cli:"filter" cliAlt:"f" usage:"Conditions like counter=15U;objHash=1,2"`
	Scroll bool   `cli:"scroll" usage:"Iterate all hits with a scroll"`
}

// Conditions parses Filter into field values.
func (s *Search) Conditions() (map[string]fieldvalue.Value, error) {
	return ParseConditions(s.Filter)
}

type Aggregate struct {
	Index  string `cli:"index" cliAlt:"i" usage:"Index name"`
	Filter string `cli:"filter" cliAlt:"f" usage:"Conditions like counter=15U;objHash=1,2"`
}

// Export holds the flags of the scroll export.
type Export struct {
	Index      string `cli:"index" cliAlt:"i" usage:"ElasticSearch Index (or Index Prefix)"`
	RAWQuery   string `cli:"rawquery" cliAlt:"r" usage:"ElasticSearch raw query string"`
	Query      string `cli:"query" cliAlt:"q" usage:"Lucene query same that is used in Kibana search input"`
	OutFormat  string `cli:"outformat" cliAlt:"f" usage:"Format of the output data. [json|csv|raw]"`
	Outfile    string `cli:"outfile" cliAlt:"o" usage:"Path to output file"`
	StartDate  string `cli:"start" cliAlt:"s" usage:"Start date for included documents"`
	EndDate    string `cli:"end" cliAlt:"e" usage:"End date for included documents"`
	ScrollSize int    `cli:"size" usage:"Number of documents that will be returned per shard"`
	KeepAlive  string `cli:"keepalive" usage:"How long the scroll context is kept between requests"`
	Timefield  string `cli:"timefield" usage:"Field name to use for start and end date query"`
	Fieldlist  string `cli:"fields" usage:"Fields to include in export as comma separated list"`
	Fields     []string
}

// Composite holds the flags of a composite aggregation report.
type Composite struct {
	Report    string `cli:"report" usage:"Name of a report from the config file"`
	Index     string `cli:"index" cliAlt:"i" usage:"Index name"`
	Sources   string `cli:"sources" usage:"Group keys as name=field[:desc] separated by commas"`
	Size      int    `cli:"size" usage:"Buckets per request"`
	Query     string `cli:"query" cliAlt:"q" usage:"Lucene query to filter documents"`
	TopHits   bool   `cli:"tophits" usage:"Include the latest document of every bucket"`
	SortField string `cli:"sortfield" usage:"Field used to pick the latest document"`
	OutFormat string `cli:"outformat" cliAlt:"f" usage:"Format of the output data. [json|csv|raw]"`
	Outfile   string `cli:"outfile" cliAlt:"o" usage:"Path to output file, - for stdout"`
	Schedule  string `cli:"schedule" usage:"Cron expression to repeat the report"`
	Resume    bool   `cli:"resume" usage:"Continue an interrupted report from its checkpoint"`
	Metrics   string `cli:"metrics" usage:"Listen address for Prometheus metrics, e.g. :9102"`

	// CheckpointDir enables file checkpoints when no backend is configured.
	CheckpointDir string `cli:"checkpoint-dir" usage:"Directory for report checkpoints"`
}

type Demo struct {
	Index string `cli:"index" cliAlt:"i" usage:"Index name used by all samples"`
	Count int    `cli:"count" usage:"Number of sample documents"`
}

// ParseConditions reads "field=value;field=v1,v2". Values are typed with
// fieldvalue.Parse.
func ParseConditions(filter string) (map[string]fieldvalue.Value, error) {
	conditions := make(map[string]fieldvalue.Value)
	if strings.TrimSpace(filter) == "" {
		return conditions, nil
	}

	for _, part := range strings.Split(filter, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		field, raw, ok := strings.Cut(part, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid condition %q, expected field=value", part)
		}
		v, err := fieldvalue.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("condition %s: %w", field, err)
		}
		conditions[strings.TrimSpace(field)] = v
	}
	return conditions, nil
}

// ParseSources reads "NAME=field[:desc],NAME2=field2".
func ParseSources(sources string) ([]config.Source, error) {
	var out []config.Source
	for _, part := range strings.Split(sources, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, field, ok := strings.Cut(part, "=")
		if !ok {
			name, field = part, part
		}
		src := config.Source{Name: name, Field: field, Order: "asc"}
		if f, order, ok := strings.Cut(field, ":"); ok {
			src.Field = f
			src.Order = order
		}
		out = append(out, src)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no sources given")
	}
	return out, nil
}
