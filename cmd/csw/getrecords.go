package main

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/robert-malhotra/go-csw-catalog/pkg/discovery"
	"github.com/urfave/cli/v3"
)

var slotFlag = &cli.StringSliceFlag{
	Name:  "slot",
	Usage: "stored query slot value as name=value (repeatable)",
}

// kvpFlags maps command flags onto GetRecords KVP parameter names.
var kvpFlags = []struct {
	flag  cli.Flag
	param string
}{
	{&cli.StringFlag{Name: "result-type", Aliases: []string{"r"}, Usage: "hits, results or validate", Value: "results"}, "resultType"},
	{&cli.IntFlag{Name: "start", Aliases: []string{"s"}, Usage: "1-based start position", Value: 1}, "startPosition"},
	{&cli.IntFlag{Name: "max", Aliases: []string{"n"}, Usage: "maximum records to return (default from config)", Value: -1}, "maxRecords"},
	{&cli.StringFlag{Name: "type-names", Usage: "comma separated record type names"}, "typeNames"},
	{&cli.StringFlag{Name: "constraint", Aliases: []string{"q"}, Usage: "CQL text or CQL2 JSON constraint"}, "constraint"},
	{&cli.StringFlag{Name: "constraint-language", Usage: "CQL_TEXT or CQL2_JSON (inferred when empty)"}, "constraintLanguage"},
	{&cli.StringFlag{Name: "sort-by", Usage: "sort specification, e.g. dc:title:A,dc:modified:D"}, "sortBy"},
	{&cli.StringFlag{Name: "element-set", Aliases: []string{"e"}, Usage: "brief, summary or full"}, "elementSetName"},
	{&cli.StringFlag{Name: "element-names", Usage: "comma separated element names"}, "ElementName"},
	{&cli.StringFlag{Name: "output-schema", Usage: "csw:Record or native"}, "outputSchema"},
	{&cli.StringFlag{Name: "stored-query", Usage: "identifier of a stored ad-hoc query"}, "storedQueryId"},
	{&cli.StringFlag{Name: "request-id", Usage: "request identifier (generated when empty)"}, "requestId"},
}

func newGetRecordsCommand() *cli.Command {
	flags := make([]cli.Flag, 0, len(kvpFlags)+1)
	for _, f := range kvpFlags {
		flags = append(flags, f.flag)
	}
	flags = append(flags, slotFlag)
	return &cli.Command{
		Name:      "getrecords",
		Usage:     "Run a GetRecords request against the catalogue",
		ArgsUsage: "[key=value&...]",
		Flags:     flags,
		Action:    getRecordsAction,
	}
}

// requestValues builds the KVP request from the flags that were set. A raw
// query string argument is merged underneath them.
func requestValues(cmd *cli.Command) (url.Values, error) {
	values := url.Values{}
	if cmd.Args().Len() > 0 {
		raw, err := url.ParseQuery(strings.Join(cmd.Args().Slice(), "&"))
		if err != nil {
			return nil, fmt.Errorf("invalid request arguments: %w", err)
		}
		values = raw
	}

	for _, f := range kvpFlags {
		name := f.flag.Names()[0]
		switch fl := f.flag.(type) {
		case *cli.IntFlag:
			if !cmd.IsSet(name) && values.Has(f.param) {
				continue
			}
			n := cmd.Int(name)
			if n < 0 {
				continue
			}
			values.Set(f.param, strconv.Itoa(int(n)))
		case *cli.StringFlag:
			if !cmd.IsSet(name) && (values.Has(f.param) || fl.Value == "") {
				continue
			}
			values.Set(f.param, cmd.String(name))
		}
	}

	for _, s := range cmd.StringSlice(slotFlag.Name) {
		name, value, ok := strings.Cut(s, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --slot %q: expected name=value", s)
		}
		values.Set(discovery.SlotParamPrefix+name, value)
	}
	return values, nil
}

func getRecordsAction(ctx context.Context, cmd *cli.Command) error {
	values, err := requestValues(cmd)
	if err != nil {
		return err
	}
	req, err := discovery.ParseGetRecordsKVP(values)
	if err != nil {
		return err
	}

	c, err := openCatalog(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	h, err := c.handler()
	if err != nil {
		return err
	}
	out, err := newOutput(c.cfg.Output, c.stdout)
	if err != nil {
		return err
	}
	resp, err := h.GetRecords(ctx, req, out)
	if err != nil {
		return err
	}
	c.logger.DebugContext(ctx, "getrecords complete", "requestId", resp.RequestID, "page", resp.String())
	return out.Finish()
}

func newGetRecordByIDCommand() *cli.Command {
	return &cli.Command{
		Name:      "getrecordbyid",
		Usage:     "Fetch records by identifier",
		ArgsUsage: "<id> [id...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type-names", Usage: "comma separated record type names"},
			&cli.StringFlag{Name: "element-set", Aliases: []string{"e"}, Usage: "brief, summary or full", Value: "summary"},
			&cli.StringFlag{Name: "output-schema", Usage: "csw:Record or native"},
		},
		Action: getRecordByIDAction,
	}
}

func getRecordByIDAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() == 0 {
		return fmt.Errorf("expected at least 1 argument: record id")
	}
	es, err := discovery.ParseElementSet(cmd.String("element-set"))
	if err != nil {
		return err
	}
	p := discovery.Projection{
		Schema:     discovery.ParseOutputSchema(cmd.String("output-schema")),
		ElementSet: es,
	}
	var typeNames []string
	if s := cmd.String("type-names"); s != "" {
		typeNames = strings.Split(s, ",")
	}

	c, err := openCatalog(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	h, err := c.handler()
	if err != nil {
		return err
	}
	out, err := newOutput(c.cfg.Output, c.stdout)
	if err != nil {
		return err
	}
	if _, err := h.GetRecordByID(ctx, cmd.Args().Slice(), typeNames, p, out); err != nil {
		return err
	}
	return out.Finish()
}
