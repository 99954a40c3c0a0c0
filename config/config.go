package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/pteich/elastic-query-samples/composite"
	"github.com/pteich/elastic-query-samples/elastic"
)

// Config holds the settings that can be kept in a YAML file. Command line
// flags override single values after loading.
type Config struct {
	Connection Connection `koanf:"connection"`
	Logging    Logging    `koanf:"logging"`
	Metrics    Metrics    `koanf:"metrics"`
	Checkpoint Checkpoint `koanf:"checkpoint"`
	Reports    []Report   `koanf:"reports"`
}

type Connection struct {
	URL      string `koanf:"url"`
	Version  int    `koanf:"version"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	SkipVerify bool   `koanf:"skip_verify"`
	CACert     string `koanf:"ca_cert"`
	ClientCert string `koanf:"client_cert"`
	ClientKey  string `koanf:"client_key"`

	MaxConnsPerHost     int           `koanf:"max_conns_per_host"`
	ConnectTimeout      time.Duration `koanf:"connect_timeout"`
	ResponseTimeout     time.Duration `koanf:"response_timeout"`
	IdleTimeout         time.Duration `koanf:"idle_timeout"`
	Sniff               bool          `koanf:"sniff"`
	HealthcheckInterval time.Duration `koanf:"healthcheck_interval"`
}

type Logging struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

type Metrics struct {
	// Listen enables the /metrics endpoint when not empty, e.g. ":9102".
	Listen string `koanf:"listen"`
}

type Checkpoint struct {
	// Backend is "file", "redis" or empty to disable checkpoints.
	Backend       string        `koanf:"backend"`
	Dir           string        `koanf:"dir"`
	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	RedisDB       int           `koanf:"redis_db"`
	KeyPrefix     string        `koanf:"key_prefix"`
	TTL           time.Duration `koanf:"ttl"`
}

// Report describes a composite aggregation walk that can be run on a schedule.
type Report struct {
	Name     string            `koanf:"name"`
	Index    string            `koanf:"index"`
	Size     int               `koanf:"size"`
	Query    string            `koanf:"query"`
	Schedule string            `koanf:"schedule"`
	Sources  []Source          `koanf:"sources"`
	TopHits  *TopHits          `koanf:"top_hits"`
	Metrics  map[string]Metric `koanf:"metrics"`
}

type Source struct {
	Name          string `koanf:"name"`
	Field         string `koanf:"field"`
	Order         string `koanf:"order"`
	MissingBucket bool   `koanf:"missing_bucket"`
}

type TopHits struct {
	Name      string `koanf:"name"`
	Size      int    `koanf:"size"`
	SortField string `koanf:"sort_field"`
	SortOrder string `koanf:"sort_order"`
}

type Metric struct {
	Type  string `koanf:"type"`
	Field string `koanf:"field"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	setDefaults(&cfg)
	return &cfg
}

// Load reads configuration from the given YAML file path.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Connection.URL == "" {
		cfg.Connection.URL = "http://localhost:9200"
	}
	if cfg.Connection.Version == 0 {
		cfg.Connection.Version = 8
	}
	if cfg.Connection.MaxConnsPerHost <= 0 {
		cfg.Connection.MaxConnsPerHost = 10
	}
	if cfg.Connection.ConnectTimeout <= 0 {
		cfg.Connection.ConnectTimeout = 10 * time.Second
	}
	if cfg.Connection.ResponseTimeout <= 0 {
		cfg.Connection.ResponseTimeout = 60 * time.Second
	}
	if cfg.Connection.IdleTimeout <= 0 {
		cfg.Connection.IdleTimeout = 90 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Checkpoint.Backend == "file" && cfg.Checkpoint.Dir == "" {
		cfg.Checkpoint.Dir = ".checkpoints"
	}
	if cfg.Checkpoint.Backend == "redis" && cfg.Checkpoint.RedisAddr == "" {
		cfg.Checkpoint.RedisAddr = "localhost:6379"
	}
	if cfg.Checkpoint.KeyPrefix == "" {
		cfg.Checkpoint.KeyPrefix = "composite:checkpoint:"
	}
	for i := range cfg.Reports {
		if cfg.Reports[i].Size <= 0 {
			cfg.Reports[i].Size = 100
		}
		if cfg.Reports[i].TopHits != nil && cfg.Reports[i].TopHits.Name == "" {
			cfg.Reports[i].TopHits.Name = "top_hits"
		}
	}
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Connection.URL)
	if err != nil {
		return fmt.Errorf("invalid connection.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("connection.url must be http or https, got %q", c.Connection.URL)
	}

	switch c.Connection.Version {
	case 7, 8, 9:
	default:
		return fmt.Errorf("connection.version must be 7, 8 or 9, got %d", c.Connection.Version)
	}

	if (c.Connection.ClientCert == "") != (c.Connection.ClientKey == "") {
		return fmt.Errorf("connection.client_cert and connection.client_key must be set together")
	}

	switch c.Checkpoint.Backend {
	case "", "file", "redis":
	default:
		return fmt.Errorf("checkpoint.backend must be file or redis, got %q", c.Checkpoint.Backend)
	}

	names := make(map[string]bool, len(c.Reports))
	for i, r := range c.Reports {
		if names[r.Name] {
			return fmt.Errorf("reports[%d]: duplicate name %q", i, r.Name)
		}
		names[r.Name] = true
		if _, err := r.PageRequest(); err != nil {
			return fmt.Errorf("reports[%d]: %w", i, err)
		}
	}

	return nil
}

// Report returns the report with the given name.
func (c *Config) Report(name string) (Report, bool) {
	for _, r := range c.Reports {
		if r.Name == name {
			return r, true
		}
	}
	return Report{}, false
}

// PageRequest converts the report into a validated walk template.
func (r Report) PageRequest() (composite.PageRequest, error) {
	req := composite.PageRequest{
		Index: r.Index,
		Name:  r.Name,
		Size:  r.Size,
	}
	for _, s := range r.Sources {
		req.Sources = append(req.Sources, composite.GroupKey{
			Name:          s.Name,
			Field:         s.Field,
			Order:         composite.Order(s.Order),
			MissingBucket: s.MissingBucket,
		})
	}

	if r.TopHits != nil || len(r.Metrics) > 0 {
		req.SubAggregations = make(map[string]composite.SubAggregation)
	}
	if r.TopHits != nil {
		th := composite.TopHits{Size: r.TopHits.Size}
		if r.TopHits.SortField != "" {
			th.Sort = []composite.SortField{{Field: r.TopHits.SortField, Order: composite.Order(r.TopHits.SortOrder)}}
		}
		req.SubAggregations[r.TopHits.Name] = th
	}
	for name, m := range r.Metrics {
		switch m.Type {
		case "sum", "avg", "min", "max", "value_count", "cardinality":
		default:
			return req, fmt.Errorf("metric %s: unknown type %q", name, m.Type)
		}
		req.SubAggregations[name] = composite.Metric{Type: m.Type, Field: m.Field}
	}

	if r.Query != "" {
		req.Query = elastic.NewQueryStringQuery(r.Query)
	}

	return req, req.Validate()
}
