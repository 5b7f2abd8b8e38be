package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/robert-malhotra/go-csw-catalog/internal/config"
	"github.com/robert-malhotra/go-csw-catalog/internal/observability"
	"github.com/robert-malhotra/go-csw-catalog/pkg/adhoc"
	"github.com/robert-malhotra/go-csw-catalog/pkg/discovery"
	"github.com/robert-malhotra/go-csw-catalog/pkg/harvest"
	"github.com/robert-malhotra/go-csw-catalog/pkg/store/memstore"
	"github.com/robert-malhotra/go-csw-catalog/pkg/store/sqlstore"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel"
)

// catalogStore is what both store backends provide.
type catalogStore interface {
	discovery.Store
	adhoc.Lookup
	harvest.Sink
	PutAdhocQuery(ctx context.Context, q *adhoc.StoredQuery) error
	AdhocQueryIDs(ctx context.Context) ([]string, error)
}

var (
	_ catalogStore = (*memstore.Store)(nil)
	_ catalogStore = (*sqlstore.Store)(nil)
)

// catalog bundles what every command needs.
type catalog struct {
	cfg    *config.Config
	logger *slog.Logger
	obs    *observability.Config
	store  catalogStore
	stdout io.Writer
	close  func() error
}

func openCatalog(ctx context.Context, cmd *cli.Command) (*catalog, error) {
	cfg, err := config.Load(cmd.String(configFlag.Name), os.Getenv)
	if err != nil {
		return nil, err
	}
	if v := cmd.String(driverFlag.Name); v != "" {
		cfg.Store.Driver = v
	}
	if v := cmd.String(dsnFlag.Name); v != "" {
		cfg.Store.DSN = v
	}
	if v := cmd.String(logLevelFlag.Name); v != "" {
		cfg.Logging.Level = v
	}
	if v := cmd.String(formatFlag.Name); v != "" {
		cfg.Output.Format = v
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	root := cmd.Root()
	logger, err := cfg.Logging.NewLogger(root.ErrWriter)
	if err != nil {
		return nil, err
	}

	obs := newObservability(cfg.Observability)

	c := &catalog{cfg: cfg, logger: logger, obs: obs, stdout: root.Writer, close: func() error { return nil }}
	switch cfg.Store.Driver {
	case config.DriverMemory:
		c.store = memstore.New(memstore.WithLogger(logger))
	default:
		s, err := sqlstore.Open(cfg.Store.Driver, cfg.Store.DSN,
			sqlstore.WithLogger(logger), sqlstore.WithObservability(obs))
		if err != nil {
			return nil, err
		}
		c.store, c.close = s, s.Close
	}

	if err := c.seed(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// newObservability binds the global OpenTelemetry providers, which stay
// no-ops unless an SDK is installed before the command runs.
func newObservability(cfg config.ObservabilityConfig) *observability.Config {
	opts := []observability.Option{
		observability.WithTracerProvider(otel.GetTracerProvider()),
		observability.WithMeterProvider(otel.GetMeterProvider()),
		observability.WithServiceName(cfg.ServiceName),
		observability.WithServiceVersion(cfg.ServiceVersion),
	}
	if cfg.DetailedDBTracing {
		opts = append(opts, observability.WithDetailedDBTracing())
	}
	return observability.NewConfig(opts...)
}

// seed loads the records and stored queries declared in the configuration.
func (c *catalog) seed(ctx context.Context) error {
	if len(c.cfg.Records) > 0 {
		recs := make([]*discovery.Record, 0, len(c.cfg.Records))
		for i := range c.cfg.Records {
			rec, err := c.cfg.Records[i].Record()
			if err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		n, err := c.store.Upsert(ctx, recs...)
		if err != nil {
			return fmt.Errorf("seed records: %w", err)
		}
		c.logger.Debug("seeded records", "declared", len(recs), "changed", n)
	}
	for i := range c.cfg.StoredQueries {
		q, err := c.cfg.StoredQueries[i].StoredQuery()
		if err != nil {
			return err
		}
		if err := c.store.PutAdhocQuery(ctx, q); err != nil {
			return fmt.Errorf("seed stored query %q: %w", q.ID, err)
		}
	}
	return nil
}

func (c *catalog) handler() (*discovery.Handler, error) {
	queryables, err := c.cfg.LoadQueryables()
	if err != nil {
		return nil, err
	}
	opts := []discovery.Option{
		discovery.WithLogger(c.logger),
		discovery.WithObservability(c.obs),
		discovery.WithResolver(adhoc.NewResolver(c.store,
			adhoc.WithLogger(c.logger), adhoc.WithObservability(c.obs))),
		discovery.WithDefaultMaxRecords(c.cfg.Paging.DefaultMaxRecords),
		discovery.WithMaxRecordsLimit(c.cfg.Paging.MaxRecordsLimit),
	}
	if queryables != nil {
		opts = append(opts, discovery.WithQueryables(queryables))
	}
	return discovery.NewHandler(c.store, opts...), nil
}

func (c *catalog) Close() error {
	return c.close()
}
