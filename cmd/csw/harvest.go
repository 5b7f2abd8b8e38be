package main

import (
	"context"
	"fmt"

	"github.com/robert-malhotra/go-csw-catalog/internal/config"
	"github.com/robert-malhotra/go-csw-catalog/pkg/harvest"
	"github.com/urfave/cli/v3"
)

func newHarvestCommand() *cli.Command {
	return &cli.Command{
		Name:      "harvest",
		Usage:     "Copy STAC collection items into the catalogue",
		ArgsUsage: "[collection-id...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Aliases: []string{"u"}, Usage: "STAC API base URL (default from config)"},
			&cli.IntFlag{Name: "batch-size", Usage: "records per store write (default from config)"},
			&cli.IntFlag{Name: "max-items", Usage: "stop each collection after this many items"},
			&cli.StringFlag{Name: "token", Usage: "bearer token for the STAC API"},
		},
		Action: harvestAction,
	}
}

func harvestFlags(cmd *cli.Command, hc config.HarvestConfig) config.HarvestConfig {
	if cmd.IsSet("url") {
		hc.URL = cmd.String("url")
	}
	if cmd.IsSet("token") {
		hc.BearerToken = cmd.String("token")
	}
	if cmd.IsSet("batch-size") {
		hc.BatchSize = int(cmd.Int("batch-size"))
	}
	if cmd.IsSet("max-items") {
		hc.MaxItems = int(cmd.Int("max-items"))
	}
	return hc
}

func harvestAction(ctx context.Context, cmd *cli.Command) error {
	c, err := openCatalog(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	hc := harvestFlags(cmd, c.cfg.Harvest)
	collections := hc.Collections
	if cmd.Args().Len() > 0 {
		collections = cmd.Args().Slice()
	}
	if hc.URL == "" {
		return fmt.Errorf("no STAC API URL: set harvest.url or pass --url")
	}
	if len(collections) == 0 {
		return fmt.Errorf("no collections to harvest")
	}

	client, err := newHarvestClient(c, hc)
	if err != nil {
		return err
	}

	h := newHarvester(c, hc, client)
	results := make([]*harvest.Result, 0, len(collections))
	for _, id := range collections {
		res, err := h.Harvest(ctx, id)
		if err != nil {
			return fmt.Errorf("harvest %s: %w", id, err)
		}
		results = append(results, res)
	}
	return printJSON(c.stdout, results)
}

func newHarvestClient(c *catalog, hc config.HarvestConfig) (*harvest.Client, error) {
	opts := []harvest.ClientOption{
		harvest.WithTimeout(hc.Timeout),
		harvest.WithMaxRetries(hc.MaxRetries),
		harvest.WithClientLogger(c.logger),
	}
	if hc.BearerToken != "" {
		opts = append(opts, harvest.WithMiddleware(harvest.BearerToken(hc.BearerToken)))
	}
	if hc.APIKey != "" {
		opts = append(opts, harvest.WithMiddleware(harvest.APIKey(hc.APIKeyHeader, hc.APIKey)))
	}
	return harvest.NewClient(hc.URL, opts...)
}

func newHarvester(c *catalog, hc config.HarvestConfig, client *harvest.Client) *harvest.Harvester {
	return harvest.New(client, c.store,
		harvest.WithBatchSize(hc.BatchSize),
		harvest.WithMaxItems(hc.MaxItems),
		harvest.WithLogger(c.logger),
		harvest.WithObservability(c.obs),
	)
}

func newImportCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Load STAC items from GeoJSON documents",
		ArgsUsage: "<path-or-uri...>",
		Description: "Each argument is a local path or a file, http(s) or s3 URI naming a\n" +
			"FeatureCollection or a single Feature.",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "batch-size", Usage: "records per store write (default from config)"},
			&cli.IntFlag{Name: "max-items", Usage: "stop each document after this many items"},
			&cli.StringFlag{Name: "token", Usage: "bearer token for http sources"},
		},
		Action: importAction,
	}
}

func importAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() == 0 {
		return fmt.Errorf("expected at least 1 argument, got 0")
	}
	c, err := openCatalog(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	hc := harvestFlags(cmd, c.cfg.Harvest)
	var client *harvest.Client
	if hc.URL != "" {
		if client, err = newHarvestClient(c, hc); err != nil {
			return err
		}
	}
	h := newHarvester(c, hc, client)

	results := make([]*harvest.Result, 0, cmd.Args().Len())
	for _, uri := range cmd.Args().Slice() {
		res, err := h.Import(ctx, uri)
		if err != nil {
			return fmt.Errorf("import %s: %w", uri, err)
		}
		results = append(results, res)
	}
	return printJSON(c.stdout, results)
}
