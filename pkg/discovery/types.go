// Package discovery implements the CSW GetRecords engine: it resolves a
// request into a query, counts matches, computes the page window and streams
// the page through an Emitter.
package discovery

import (
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/robert-malhotra/go-csw-catalog/pkg/adhoc"
	"github.com/robert-malhotra/go-csw-catalog/pkg/filter"
)

// ResultType selects what a GetRecords request produces.
type ResultType string

const (
	ResultHits     ResultType = "hits"
	ResultResults  ResultType = "results"
	ResultValidate ResultType = "validate"
)

// ParseResultType parses a result type, case-insensitively.
func ParseResultType(s string) (ResultType, error) {
	switch rt := ResultType(strings.ToLower(strings.TrimSpace(s))); rt {
	case ResultHits, ResultResults, ResultValidate:
		return rt, nil
	case "":
		return ResultHits, nil
	default:
		return "", fmt.Errorf("unknown result type %q", s)
	}
}

// ElementSet is a named verbosity level for emitted records.
type ElementSet string

const (
	ElementSetBrief   ElementSet = "brief"
	ElementSetSummary ElementSet = "summary"
	ElementSetFull    ElementSet = "full"
)

// ParseElementSet parses an element set name, case-insensitively.
func ParseElementSet(s string) (ElementSet, error) {
	switch es := ElementSet(strings.ToLower(strings.TrimSpace(s))); es {
	case ElementSetBrief, ElementSetSummary, ElementSetFull:
		return es, nil
	case "":
		return ElementSetSummary, nil
	default:
		return "", fmt.Errorf("unknown element set %q", s)
	}
}

// OutputSchema selects between the Dublin Core summary schema and the
// record's native encoding.
type OutputSchema string

const (
	SchemaCSW    OutputSchema = "http://www.opengis.net/cat/csw/2.0.2"
	SchemaNative OutputSchema = "native"
)

// ParseOutputSchema accepts the CSW namespace URI or "csw:Record" for the
// summary schema; anything else names the native encoding.
func ParseOutputSchema(s string) OutputSchema {
	switch strings.TrimSpace(s) {
	case "", string(SchemaCSW), "csw:Record":
		return SchemaCSW
	default:
		return SchemaNative
	}
}

// Record is a catalogue entry as held by a Store.
type Record struct {
	ID         string         `json:"id"`
	TypeName   string         `json:"typeName,omitempty"`
	Title      string         `json:"title,omitempty"`
	Abstract   string         `json:"abstract,omitempty"`
	Type       string         `json:"type,omitempty"`
	Format     string         `json:"format,omitempty"`
	Subjects   []string       `json:"subjects,omitempty"`
	Modified   time.Time      `json:"modified,omitzero"`
	BBox       *orb.Bound     `json:"bbox,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Raw        []byte         `json:"-"`
	Checksum   uint64         `json:"-"`
}

// DefaultTypeName is the type name of records that declare none.
const DefaultTypeName = "csw:Record"

// HasTypeName reports whether the record is of one of names, comparing
// local names case-insensitively. An empty list matches every record.
func (r *Record) HasTypeName(names []string) bool {
	if len(names) == 0 {
		return true
	}
	own := r.TypeName
	if own == "" {
		own = DefaultTypeName
	}
	for _, n := range names {
		if strings.EqualFold(localName(n), localName(own)) {
			return true
		}
	}
	return false
}

func localName(path string) string {
	if i := strings.LastIndexByte(path, ':'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Core queryable names, keyed by canonical name.
const (
	PropIdentifier  = "identifier"
	PropTitle       = "title"
	PropAbstract    = "abstract"
	PropType        = "type"
	PropFormat      = "format"
	PropSubject     = "subject"
	PropModified    = "modified"
	PropBoundingBox = "boundingbox"
	PropAnyText     = "anytext"
)

var propertyAliases = map[string]string{
	"keywords":     PropSubject,
	"description":  PropAbstract,
	"bbox":         PropBoundingBox,
	"geometry":     PropBoundingBox,
	"id":           PropIdentifier,
	"datestamp":    PropModified,
	"revisiondate": PropModified,
}

// CanonicalProperty maps a property path such as "dc:title",
// "apiso:Title" or "ows:BoundingBox" to its canonical queryable name. Paths
// that are not core queryables are returned unchanged.
func CanonicalProperty(path string) string {
	local := strings.ToLower(localName(path))
	if alias, ok := propertyAliases[local]; ok {
		return alias
	}
	switch local {
	case PropIdentifier, PropTitle, PropAbstract, PropType, PropFormat,
		PropSubject, PropModified, PropBoundingBox, PropAnyText:
		return local
	}
	return path
}

// Values returns the values of the property at path. The second result
// reports whether the record has the property at all.
func (r *Record) Values(path string) ([]any, bool) {
	switch CanonicalProperty(path) {
	case PropIdentifier:
		return nonEmpty(r.ID)
	case PropTitle:
		return nonEmpty(r.Title)
	case PropAbstract:
		return nonEmpty(r.Abstract)
	case PropType:
		return nonEmpty(r.Type)
	case PropFormat:
		return nonEmpty(r.Format)
	case PropSubject:
		out := make([]any, 0, len(r.Subjects))
		for _, s := range r.Subjects {
			out = append(out, s)
		}
		return out, len(out) > 0
	case PropModified:
		if r.Modified.IsZero() {
			return nil, false
		}
		return []any{r.Modified.UTC().Format(time.RFC3339)}, true
	case PropBoundingBox:
		if r.BBox == nil {
			return nil, false
		}
		return []any{*r.BBox}, true
	case PropAnyText:
		return nonEmpty(r.AnyText())
	}
	return r.property(path)
}

func (r *Record) property(path string) ([]any, bool) {
	v, ok := r.Properties[path]
	if !ok {
		v, ok = r.Properties[localName(path)]
	}
	if !ok || v == nil {
		return nil, false
	}
	switch vv := v.(type) {
	case []any:
		return vv, len(vv) > 0
	case []string:
		out := make([]any, len(vv))
		for i, s := range vv {
			out[i] = s
		}
		return out, len(out) > 0
	default:
		return []any{v}, true
	}
}

// AnyText concatenates the free-text fields of the record.
func (r *Record) AnyText() string {
	parts := make([]string, 0, 3+len(r.Subjects))
	for _, s := range []string{r.Title, r.Abstract} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	parts = append(parts, r.Subjects...)
	return strings.Join(parts, " ")
}

func nonEmpty(s string) ([]any, bool) {
	if s == "" {
		return nil, false
	}
	return []any{s}, true
}

// Projection tells an Emitter how to render a record.
type Projection struct {
	Schema       OutputSchema
	ElementSet   ElementSet
	ElementNames []string
}

// GetRecords is a parsed GetRecords request. When Adhoc is set the
// constraint, sort and type names come from the stored query instead.
type GetRecords struct {
	RequestID     string
	ResultType    ResultType
	StartPosition int
	// MaxRecords is nil when the request did not carry one; the handler
	// default applies.
	MaxRecords   *int
	OutputSchema OutputSchema
	ElementSet   ElementSet
	ElementNames []string
	TypeNames    []string
	Constraint   filter.Operator
	SortBy       []filter.SortProperty
	Adhoc        *adhoc.Request
}

// Max returns a pointer to n, for GetRecords.MaxRecords.
func Max(n int) *int {
	return &n
}

// Projection returns the rendering options of the request.
func (r *GetRecords) Projection() Projection {
	return Projection{
		Schema:       r.OutputSchema,
		ElementSet:   r.ElementSet,
		ElementNames: r.ElementNames,
	}
}

// Response is the search status of a GetRecords call.
type Response struct {
	RequestID  string     `json:"requestId"`
	Timestamp  time.Time  `json:"timestamp"`
	ResultType ResultType `json:"resultType"`
	ElementSet ElementSet `json:"elementSet"`
	Matched    int        `json:"numberOfRecordsMatched"`
	Returned   int        `json:"numberOfRecordsReturned"`
	Next       int        `json:"nextRecord"`
}

func (r *Response) String() string {
	return fmt.Sprintf("matched=%d returned=%d next=%d", r.Matched, r.Returned, r.Next)
}
