package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pteich/configstruct"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pteich/elastic-query-samples/config"
	"github.com/pteich/elastic-query-samples/connection"
	"github.com/pteich/elastic-query-samples/elastic"
	"github.com/pteich/elastic-query-samples/flags"
	"github.com/pteich/elastic-query-samples/logging"
	"github.com/pteich/elastic-query-samples/metrics"
)

var Version = "dev"

// app holds what every command needs after the global flags are parsed.
type app struct {
	ctx     context.Context
	global  flags.Connection
	cfg     *config.Config
	logger  zerolog.Logger
	manager *connection.Manager
	metrics *metrics.Metrics
}

// setup loads the optional config file, applies the global flags on top and
// prepares logging and the connection manager.
func (a *app) setup() error {
	cfg := config.Default()
	if a.global.Config != "" {
		loaded, err := config.Load(a.global.Config)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	a.global.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
		Output: os.Stderr,
	})
	a.logger = logging.NewLogger("cli")

	manager, err := connection.NewManager(cfg.Connection, logging.NewLogger("connection"))
	if err != nil {
		return err
	}
	a.manager = manager
	a.metrics = metrics.New(nil)

	return nil
}

func (a *app) close() {
	if a.manager != nil {
		a.manager.Close()
	}
}

// command wraps run with setup and teardown of the shared client.
func (a *app) command(name, description string, conf interface{}, run func(ctx context.Context, client elastic.Client) error) *configstruct.Command {
	return configstruct.NewCommand(name, description, conf, func(_ *configstruct.Command, _ interface{}) error {
		if err := a.setup(); err != nil {
			return err
		}
		defer a.close()

		client, err := a.manager.Client()
		if err != nil {
			return fmt.Errorf("connecting to %s: %w", a.cfg.Connection.URL, err)
		}
		return run(a.ctx, client)
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{
		ctx:    ctx,
		logger: log.Logger,
	}

	var subCommands []*configstruct.Command
	for _, build := range []func(*app) []*configstruct.Command{
		sampleCommands,
		exportCommands,
		reportCommands,
	} {
		subCommands = append(subCommands, build(a)...)
	}

	cmd := configstruct.NewCommand(
		"",
		"Samples for the ElasticSearch and OpenSearch APIs, composite aggregation reports and exports. Version "+Version,
		&a.global,
		nil,
		subCommands...,
	)

	if err := cmd.ParseAndRun(os.Args); err != nil {
		a.logger.Error().Err(err).Msg("command failed")
		stop()
		os.Exit(1)
	}
}
