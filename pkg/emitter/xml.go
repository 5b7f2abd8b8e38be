package emitter

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/robert-malhotra/go-csw-catalog/pkg/discovery"
)

// XML namespaces of the CSW 2.0.2 response.
const (
	NamespaceCSW = "http://www.opengis.net/cat/csw/2.0.2"
	NamespaceDC  = "http://purl.org/dc/elements/1.1/"
	NamespaceDCT = "http://purl.org/dc/terms/"
	NamespaceOWS = "http://www.opengis.net/ows"

	crsCRS84 = "urn:ogc:def:crs:OGC:1.3:CRS84"
)

// ErrFinished is returned when the writer is used after Finish.
var ErrFinished = errors.New("emitter: writer already finished")

// XMLOption configures an XMLWriter.
type XMLOption func(*XMLWriter)

// WithIndent indents the output.
func WithIndent(prefix, indent string) XMLOption {
	return func(x *XMLWriter) { x.enc.Indent(prefix, indent) }
}

// WithoutDeclaration omits the XML declaration.
func WithoutDeclaration() XMLOption {
	return func(x *XMLWriter) { x.declaration = false }
}

// XMLWriter renders a csw:GetRecordsResponse, or a csw:GetRecordByIdResponse
// when records arrive without a header. Output is buffered and only written
// to the destination by Finish, so a failed request leaves it untouched.
type XMLWriter struct {
	dst         io.Writer
	buf         bytes.Buffer
	enc         *xml.Encoder
	open        []xml.StartElement
	declaration bool
	finished    bool
}

// NewXMLWriter creates a writer that flushes to w on Finish.
func NewXMLWriter(w io.Writer, opts ...XMLOption) *XMLWriter {
	x := &XMLWriter{dst: w, declaration: true}
	x.enc = xml.NewEncoder(&x.buf)
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func element(name string, attrs ...string) xml.StartElement {
	start := xml.StartElement{Name: xml.Name{Local: name}}
	for i := 0; i+1 < len(attrs); i += 2 {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: attrs[i]}, Value: attrs[i+1]})
	}
	return start
}

func (x *XMLWriter) push(start xml.StartElement) error {
	if err := x.enc.EncodeToken(start); err != nil {
		return err
	}
	x.open = append(x.open, start)
	return nil
}

func (x *XMLWriter) pop() error {
	n := len(x.open)
	if n == 0 {
		return nil
	}
	start := x.open[n-1]
	x.open = x.open[:n-1]
	return x.enc.EncodeToken(start.End())
}

func (x *XMLWriter) text(name, value string, attrs ...string) error {
	start := element(name, attrs...)
	if err := x.enc.EncodeToken(start); err != nil {
		return err
	}
	if err := x.enc.EncodeToken(xml.CharData(value)); err != nil {
		return err
	}
	return x.enc.EncodeToken(start.End())
}

func (x *XMLWriter) begin(root string) error {
	if x.declaration {
		if err := x.enc.EncodeToken(xml.ProcInst{Target: "xml", Inst: []byte(`version="1.0" encoding="UTF-8"`)}); err != nil {
			return err
		}
	}
	return x.push(element(root,
		"xmlns:csw", NamespaceCSW,
		"xmlns:dc", NamespaceDC,
		"xmlns:dct", NamespaceDCT,
		"xmlns:ows", NamespaceOWS,
		"version", "2.0.2",
	))
}

// EmitHeader opens the response and writes the search status.
func (x *XMLWriter) EmitHeader(resp *discovery.Response) error {
	if x.finished {
		return ErrFinished
	}
	if len(x.open) > 0 {
		return errors.New("emitter: header after records")
	}
	if err := x.begin("csw:GetRecordsResponse"); err != nil {
		return err
	}
	if resp.RequestID != "" {
		if err := x.text("csw:RequestId", resp.RequestID); err != nil {
			return err
		}
	}
	status := element("csw:SearchStatus", "timestamp", resp.Timestamp.UTC().Format(time.RFC3339))
	if err := x.enc.EncodeToken(status); err != nil {
		return err
	}
	if err := x.enc.EncodeToken(status.End()); err != nil {
		return err
	}
	return x.push(element("csw:SearchResults",
		"numberOfRecordsMatched", strconv.Itoa(resp.Matched),
		"numberOfRecordsReturned", strconv.Itoa(resp.Returned),
		"nextRecord", strconv.Itoa(resp.Next),
		"elementSet", string(resp.ElementSet),
	))
}

// Emit writes one record in the projection's schema.
func (x *XMLWriter) Emit(rec *discovery.Record, p discovery.Projection) error {
	if x.finished {
		return ErrFinished
	}
	if rec == nil {
		return errors.New("emitter: nil record")
	}
	if len(x.open) == 0 {
		if err := x.begin("csw:GetRecordByIdResponse"); err != nil {
			return err
		}
	}
	if p.Schema == discovery.SchemaNative && len(rec.Raw) > 0 {
		if err := x.native(rec.Raw, p.ElementNames); err != nil {
			return fmt.Errorf("record %q: %w", rec.ID, err)
		}
		return nil
	}
	if p.Schema == discovery.SchemaNative {
		p.ElementSet = discovery.ElementSetFull
	}
	return x.dublinCore(rec, p)
}

// Finish closes every open element and writes the document to the
// destination.
func (x *XMLWriter) Finish() error {
	if x.finished {
		return ErrFinished
	}
	x.finished = true
	for len(x.open) > 0 {
		if err := x.pop(); err != nil {
			return err
		}
	}
	if err := x.enc.Flush(); err != nil {
		return err
	}
	if _, err := x.dst.Write(x.buf.Bytes()); err != nil {
		return err
	}
	if x.buf.Len() > 0 {
		_, err := io.WriteString(x.dst, "\n")
		return err
	}
	return nil
}

func recordElement(p discovery.Projection) string {
	switch {
	case len(p.ElementNames) > 0:
		return "csw:Record"
	case p.ElementSet == discovery.ElementSetBrief:
		return "csw:BriefRecord"
	case p.ElementSet == discovery.ElementSetFull:
		return "csw:Record"
	default:
		return "csw:SummaryRecord"
	}
}

func (x *XMLWriter) dublinCore(rec *discovery.Record, p discovery.Projection) error {
	r := Project(rec, p)
	if err := x.push(element(recordElement(p))); err != nil {
		return err
	}
	fields := []struct{ name, value string }{
		{"dc:identifier", r.ID},
		{"dc:title", r.Title},
		{"dc:type", r.Type},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := x.text(f.name, f.value); err != nil {
			return err
		}
	}
	for _, s := range r.Subjects {
		if err := x.text("dc:subject", s); err != nil {
			return err
		}
	}
	if r.Format != "" {
		if err := x.text("dc:format", r.Format); err != nil {
			return err
		}
	}
	if !r.Modified.IsZero() {
		if err := x.text("dct:modified", r.Modified.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}
	if r.Abstract != "" {
		if err := x.text("dct:abstract", r.Abstract); err != nil {
			return err
		}
	}
	if err := x.properties(r.Properties); err != nil {
		return err
	}
	if r.BBox != nil {
		if err := x.boundingBox(*r.BBox); err != nil {
			return err
		}
	}
	return x.pop()
}

// properties writes Dublin Core properties beyond the core fields. Keys
// outside the dc and dct prefixes have no element in the summary schema
// and are skipped.
func (x *XMLWriter) properties(props map[string]any) error {
	keys := make([]string, 0, len(props))
	for k := range props {
		if strings.HasPrefix(k, "dc:") || strings.HasPrefix(k, "dct:") {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		for _, v := range flatten(props[k]) {
			if err := x.text(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func flatten(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, flatten(item)...)
		}
		return out
	case float64:
		return []string{strconv.FormatFloat(t, 'g', -1, 64)}
	case time.Time:
		return []string{t.UTC().Format(time.RFC3339)}
	default:
		return []string{fmt.Sprint(t)}
	}
}

func (x *XMLWriter) boundingBox(b orb.Bound) error {
	if err := x.push(element("ows:BoundingBox", "crs", crsCRS84)); err != nil {
		return err
	}
	corner := func(p orb.Point) string {
		return strconv.FormatFloat(p[0], 'g', -1, 64) + " " + strconv.FormatFloat(p[1], 'g', -1, 64)
	}
	if err := x.text("ows:LowerCorner", corner(b.Min)); err != nil {
		return err
	}
	if err := x.text("ows:UpperCorner", corner(b.Max)); err != nil {
		return err
	}
	return x.pop()
}

// native re-encodes a stored XML document token by token. With a
// whitelist, only the matching children of the document element are kept.
func (x *XMLWriter) native(raw []byte, names []string) error {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	depth := 0
	skip := 0
	for {
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("decode native record: %w", err)
		}
		switch t := tok.(type) {
		case xml.ProcInst, xml.Directive:
			continue
		case xml.StartElement:
			depth++
			if skip == 0 && depth == 2 && !wanted(names, t.Name.Local) {
				skip = depth
			}
			if skip > 0 {
				continue
			}
			tok = prefixed(t)
		case xml.EndElement:
			d := depth
			depth--
			if skip > 0 {
				if d == skip {
					skip = 0
				}
				continue
			}
			tok = xml.EndElement{Name: joinName(t.Name)}
		case xml.CharData:
			if skip > 0 || depth == 0 {
				continue
			}
			tok = t.Copy()
		case xml.Comment:
			if skip > 0 || depth == 0 {
				continue
			}
			tok = t.Copy()
		}
		if err := x.enc.EncodeToken(tok); err != nil {
			return fmt.Errorf("encode native record: %w", err)
		}
	}
	if depth != 0 {
		return errors.New("decode native record: unbalanced document")
	}
	return nil
}

// prefixed keeps raw prefixes in the local name so the encoder writes
// them back verbatim instead of inventing namespace declarations.
func prefixed(t xml.StartElement) xml.StartElement {
	out := xml.StartElement{Name: joinName(t.Name), Attr: make([]xml.Attr, len(t.Attr))}
	for i, a := range t.Attr {
		out.Attr[i] = xml.Attr{Name: joinName(a.Name), Value: a.Value}
	}
	return out
}

func joinName(n xml.Name) xml.Name {
	if n.Space == "" {
		return xml.Name{Local: n.Local}
	}
	return xml.Name{Local: n.Space + ":" + n.Local}
}
