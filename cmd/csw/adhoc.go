package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ogc "github.com/planetlabs/go-ogc/filter"
	"github.com/robert-malhotra/go-csw-catalog/internal/config"
	"github.com/robert-malhotra/go-csw-catalog/pkg/adhoc"
	"github.com/robert-malhotra/go-csw-catalog/pkg/filter"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

func newAdhocCommand() *cli.Command {
	return &cli.Command{
		Name:  "adhoc",
		Usage: "Manage stored ad-hoc queries",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List stored query identifiers",
				Action: listAdhocAction,
			},
			{
				Name:      "show",
				Usage:     "Print a stored query as JSON",
				ArgsUsage: "<query-id>",
				Action:    showAdhocAction,
			},
			{
				Name:      "resolve",
				Usage:     "Resolve a stored query with slot values and print the result",
				ArgsUsage: "<query-id>",
				Flags: []cli.Flag{
					slotFlag,
					&cli.IntFlag{Name: "start", Aliases: []string{"s"}, Usage: "1-based start position", Value: 1},
					&cli.IntFlag{Name: "max", Aliases: []string{"n"}, Usage: "maximum records", Value: 10},
					&cli.StringFlag{
						Name:  "format",
						Usage: "constraint encoding: text (CQL text), json (filter tree) or cql2 (CQL2 JSON)",
						Value: constraintText,
					},
				},
				Action: resolveAdhocAction,
			},
			{
				Name:      "put",
				Usage:     "Store queries from a JSON document or a YAML list",
				ArgsUsage: "<file>",
				Action:    putAdhocAction,
			},
		},
	}
}

func listAdhocAction(ctx context.Context, cmd *cli.Command) error {
	c, err := openCatalog(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ids, err := c.store.AdhocQueryIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := fmt.Fprintln(c.stdout, id); err != nil {
			return err
		}
	}
	return nil
}

func showAdhocAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("expected 1 argument: query id")
	}
	c, err := openCatalog(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	q, err := c.store.LookupAdhocQuery(ctx, cmd.Args().First())
	if err != nil {
		return err
	}
	return printJSON(c.stdout, q)
}

const (
	constraintText = "text"
	constraintJSON = "json"
	constraintCQL2 = "cql2"
)

// resolvedQuery is the printable form of a resolved query. Exactly one of
// the constraint fields is set, depending on --format.
type resolvedQuery struct {
	Constraint      string                `json:"constraint,omitempty"`
	Filter          json.RawMessage       `json:"filter,omitempty"`
	CQL2            *ogc.Filter           `json:"cql2,omitempty"`
	TypeNames       []string              `json:"typeNames,omitempty"`
	ReturnTypeNames []string              `json:"returnTypeNames,omitempty"`
	SortBy          []filter.SortProperty `json:"sortBy,omitempty"`
	StartPosition   int                   `json:"startPosition"`
	MaxRecords      int                   `json:"maxRecords"`
}

func resolveAdhocAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("expected 1 argument: query id")
	}
	slots := map[string]string{}
	for _, s := range cmd.StringSlice(slotFlag.Name) {
		name, value, ok := strings.Cut(s, "=")
		if !ok || name == "" {
			return fmt.Errorf("invalid --slot %q: expected name=value", s)
		}
		slots[name] = value
	}
	format := cmd.String("format")
	switch format {
	case constraintText, constraintJSON, constraintCQL2:
	default:
		return fmt.Errorf("unsupported constraint format %q", format)
	}

	c, err := openCatalog(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	resolver := adhoc.NewResolver(c.store, adhoc.WithLogger(c.logger), adhoc.WithObservability(c.obs))
	q, err := resolver.Resolve(ctx, &adhoc.Request{
		QueryID:       cmd.Args().First(),
		Slots:         slots,
		StartPosition: int(cmd.Int("start")),
		MaxRecords:    int(cmd.Int("max")),
	})
	if err != nil {
		return err
	}

	out := resolvedQuery{
		TypeNames:       q.TypeNames,
		ReturnTypeNames: q.ReturnTypeNames,
		SortBy:          q.SortBy,
		StartPosition:   q.StartPosition,
		MaxRecords:      q.MaxRecords,
	}
	if q.Filter != nil {
		if err := encodeConstraint(&out, q.Filter, format); err != nil {
			return err
		}
	}
	return printJSON(c.stdout, out)
}

func encodeConstraint(out *resolvedQuery, op filter.Operator, format string) error {
	var err error
	switch format {
	case constraintJSON:
		out.Filter, err = filter.Serialize(op)
	case constraintCQL2:
		out.CQL2, err = filter.ToCQL2(op)
	default:
		out.Constraint, err = filter.Text(op)
	}
	if errors.Is(err, filter.ErrNotExpressible) {
		return fmt.Errorf("%w (use --format json for the full filter tree)", err)
	}
	return err
}

// readStoredQueries decodes a single JSON stored query, or a YAML list in
// the configuration file's stored_queries form.
func readStoredQueries(path string) ([]*adhoc.StoredQuery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var decls []config.StoredQueryConfig
		if err := yaml.Unmarshal(data, &decls); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		out := make([]*adhoc.StoredQuery, 0, len(decls))
		for i := range decls {
			q, err := decls[i].StoredQuery()
			if err != nil {
				return nil, err
			}
			out = append(out, q)
		}
		return out, nil
	default:
		var q adhoc.StoredQuery
		if err := json.Unmarshal(data, &q); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return []*adhoc.StoredQuery{&q}, nil
	}
}

func putAdhocAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("expected 1 argument: file")
	}
	queries, err := readStoredQueries(cmd.Args().First())
	if err != nil {
		return err
	}

	c, err := openCatalog(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	for _, q := range queries {
		if err := c.store.PutAdhocQuery(ctx, q); err != nil {
			return fmt.Errorf("store query %q: %w", q.ID, err)
		}
		c.logger.InfoContext(ctx, "stored query", "id", q.ID)
	}
	return nil
}
