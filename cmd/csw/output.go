package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/robert-malhotra/go-csw-catalog/internal/config"
	"github.com/robert-malhotra/go-csw-catalog/pkg/discovery"
	"github.com/robert-malhotra/go-csw-catalog/pkg/emitter"
)

// output is an emitter whose document is written by Finish.
type output interface {
	discovery.HeaderEmitter
	Finish() error
}

type jsonOutput struct {
	emitter.Collector
	w io.Writer
}

func (o *jsonOutput) Finish() error { return o.WriteJSON(o.w) }

func newOutput(cfg config.OutputConfig, w io.Writer) (output, error) {
	switch cfg.Format {
	case "xml":
		var opts []emitter.XMLOption
		if cfg.Indent {
			opts = append(opts, emitter.WithIndent("", "  "))
		}
		return emitter.NewXMLWriter(w, opts...), nil
	case "json":
		return &jsonOutput{w: w}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", cfg.Format)
	}
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
