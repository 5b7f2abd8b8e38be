package emitter

import (
	"encoding/json"
	"io"

	"github.com/robert-malhotra/go-csw-catalog/pkg/discovery"
)

// Collector keeps the header and the projected records in memory.
type Collector struct {
	Header  *discovery.Response `json:"searchStatus,omitempty"`
	Records []*discovery.Record  `json:"records"`
}

// EmitHeader implements discovery.HeaderEmitter.
func (c *Collector) EmitHeader(resp *discovery.Response) error {
	cp := *resp
	c.Header = &cp
	return nil
}

// Emit implements discovery.Emitter.
func (c *Collector) Emit(rec *discovery.Record, p discovery.Projection) error {
	c.Records = append(c.Records, Project(rec, p))
	return nil
}

// IDs lists the identifiers of the collected records.
func (c *Collector) IDs() []string {
	out := make([]string, len(c.Records))
	for i, r := range c.Records {
		out[i] = r.ID
	}
	return out
}

// WriteJSON writes the collected page as indented JSON.
func (c *Collector) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}
