// pkg/filter/queryables.go

package filter

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Queryables is the JSON Schema document describing which record
// properties a catalogue can filter and sort on.
type Queryables struct {
	Schema          string                 `json:"$schema"`
	ID              string                 `json:"$id"`
	Type            string                 `json:"type"`
	Title           string                 `json:"title"`
	Description     string                 `json:"description"`
	Properties      map[string]PropertyRef `json:"properties"`
	AdditionalProps bool                   `json:"additionalProperties"`
}

// PropertyRef describes a single queryable property.
type PropertyRef struct {
	Description string   `json:"description"`
	Ref         string   `json:"$ref,omitempty"`
	Type        string   `json:"type,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
}

// ParseQueryables parses JSON data into a Queryables struct.
func ParseQueryables(data []byte) (*Queryables, error) {
	var q Queryables
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// SerializeQueryables serializes a Queryables struct into JSON.
func SerializeQueryables(q *Queryables) ([]byte, error) {
	return json.MarshalIndent(q, "", "  ")
}

// ValidateQueryables validates the Queryables struct.
func ValidateQueryables(q *Queryables) error {
	if q.Type != "object" {
		return errors.New("queryables must be of type 'object'")
	}
	if q.Properties == nil {
		return errors.New("queryables must have 'properties'")
	}
	return nil
}

// Supports reports whether path names a queryable property. Matching
// ignores case and any namespace prefix, so "dc:Title" matches "title".
func (q *Queryables) Supports(path string) bool {
	if q == nil || q.AdditionalProps {
		return true
	}
	if _, ok := q.Properties[path]; ok {
		return true
	}
	local := localName(path)
	for name := range q.Properties {
		if strings.EqualFold(localName(name), local) {
			return true
		}
	}
	return false
}

// Check returns an error naming every property reference in op that is not
// queryable.
func (q *Queryables) Check(op Operator, sortBy []SortProperty) error {
	var unknown []string
	for _, p := range PropertyPaths(op) {
		if !q.Supports(p) {
			unknown = append(unknown, p)
		}
	}
	for _, s := range sortBy {
		if !q.Supports(s.Property.Path) {
			unknown = append(unknown, s.Property.Path)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown queryable properties: %s", strings.Join(unknown, ", "))
	}
	return nil
}

// PropertyPaths lists the distinct property paths referenced by op, sorted.
func PropertyPaths(op Operator) []string {
	seen := map[string]bool{}
	Walk(op, func(node any) bool {
		if ref, ok := node.(*ValueReference); ok {
			seen[ref.Path] = true
		}
		return true
	})
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func localName(path string) string {
	if i := strings.LastIndexByte(path, ':'); i >= 0 {
		return path[i+1:]
	}
	return path
}
