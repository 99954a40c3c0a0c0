// Package connection builds the HTTP transport and the versioned search
// client from the connection settings. There is no package level client;
// callers own a Manager and pass it where a client is needed.
package connection

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pteich/elastic-query-samples/config"
	"github.com/pteich/elastic-query-samples/elastic"
	elasticv7 "github.com/pteich/elastic-query-samples/elastic/v7"
	elasticv8 "github.com/pteich/elastic-query-samples/elastic/v8"
	elasticv9 "github.com/pteich/elastic-query-samples/elastic/v9"
	"github.com/pteich/elastic-query-samples/logging"
)

type Manager struct {
	cfg        config.Connection
	logger     zerolog.Logger
	httpClient *http.Client

	mu     sync.Mutex
	client elastic.Client
}

func NewManager(cfg config.Connection, logger zerolog.Logger) (*Manager, error) {
	httpClient, err := NewHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:        cfg,
		logger:     logger,
		httpClient: httpClient,
	}, nil
}

func (m *Manager) Config() config.Connection {
	return m.cfg
}

func (m *Manager) HTTPClient() *http.Client {
	return m.httpClient
}

// Client opens the client on first use and returns the same instance afterwards.
func (m *Manager) Client() (elastic.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return m.client, nil
	}

	client, err := Open(m.cfg, m.httpClient, m.logger)
	if err != nil {
		return nil, err
	}
	m.client = client

	m.logger.Debug().
		Str("url", m.cfg.URL).
		Int("version", m.cfg.Version).
		Msg("search client opened")

	return client, nil
}

// Close stops the client if it was opened. The manager can be reused.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		m.client.Stop()
		m.client = nil
	}
	m.httpClient.CloseIdleConnections()
}

// Open creates a client for the configured major version.
func Open(cfg config.Connection, httpClient *http.Client, logger zerolog.Logger) (elastic.Client, error) {
	switch cfg.Version {
	case 7:
		opts := elasticv7.Options{
			URL:                 cfg.URL,
			Username:            cfg.Username,
			Password:            cfg.Password,
			HTTPClient:          httpClient,
			Sniff:               cfg.Sniff,
			HealthcheckInterval: cfg.HealthcheckInterval,
			ErrorLog:            logging.Printf{Logger: logger, Level: zerolog.ErrorLevel},
		}
		if zerolog.GlobalLevel() <= zerolog.TraceLevel && logger.GetLevel() <= zerolog.TraceLevel {
			opts.TraceLog = logging.Printf{Logger: logger, Level: zerolog.TraceLevel}
		}
		client, err := elasticv7.NewClient(elasticv7.NewOptions(opts))
		if err != nil {
			return nil, fmt.Errorf("creating v7 client: %w", err)
		}
		return client, nil
	case 8:
		client, err := elasticv8.NewClient(elasticv8.NewConfig(cfg.URL, cfg.Username, cfg.Password, httpClient))
		if err != nil {
			return nil, fmt.Errorf("creating v8 client: %w", err)
		}
		return client, nil
	case 9:
		client, err := elasticv9.NewClient(elasticv9.NewConfig(cfg.URL, cfg.Username, cfg.Password, httpClient))
		if err != nil {
			return nil, fmt.Errorf("creating v9 client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported version %d", cfg.Version)
	}
}

// NewHTTPClient builds an *http.Client with pool size, timeouts and TLS
// settings from the given config.
func NewHTTPClient(cfg config.Connection) (*http.Client, error) {
	tlsConfig, err := newTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ResponseTimeout,
		IdleConnTimeout:       cfg.IdleTimeout,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
	}

	return &http.Client{Transport: tr}, nil
}

func newTLSConfig(cfg config.Connection) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.SkipVerify,
	}

	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("reading CA certificate %s: %w", cfg.CACert, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate %s", cfg.CACert)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.ClientCert != "" || cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
