package harvest

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/araddon/dateparse"
	"github.com/paulmach/orb"
	"github.com/planetlabs/go-stac"
	"github.com/robert-malhotra/go-csw-catalog/pkg/discovery"
)

// GeoJSONFormat is the format of harvested records.
const GeoJSONFormat = "application/geo+json"

// ErrNoID is returned for items without an identifier.
var ErrNoID = errors.New("item has no id")

// ToRecord converts a STAC item into a catalogue record. The item's JSON
// encoding becomes the record's native form.
func ToRecord(item *stac.Item) (*discovery.Record, error) {
	if item == nil || item.Id == "" {
		return nil, ErrNoID
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode item %q: %w", item.Id, err)
	}

	props := maps.Clone(item.Properties)
	if props == nil {
		props = map[string]any{}
	}
	if item.Collection != "" {
		props["collection"] = item.Collection
	}

	rec := &discovery.Record{
		ID:         item.Id,
		TypeName:   discovery.DefaultTypeName,
		Title:      stringProp(props, "title"),
		Abstract:   stringProp(props, "description"),
		Type:       "dataset",
		Format:     GeoJSONFormat,
		Subjects:   keywords(props["keywords"]),
		Modified:   modified(props),
		BBox:       bound(item.Bbox),
		Properties: props,
		Raw:        raw,
	}
	rec.Checksum = discovery.Checksum(rec)
	return rec, nil
}

func stringProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

func keywords(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, k := range list {
		if s, ok := k.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// modified picks the most specific timestamp an item carries.
func modified(props map[string]any) time.Time {
	for _, key := range []string{"updated", "datetime", "start_datetime", "created"} {
		s, ok := props[key].(string)
		if !ok {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC()
		}
		if t, err := dateparse.ParseIn(s, time.UTC); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// bound reads a 2D or 3D GeoJSON bbox.
func bound(bbox []float64) *orb.Bound {
	switch len(bbox) {
	case 4:
		return &orb.Bound{Min: orb.Point{bbox[0], bbox[1]}, Max: orb.Point{bbox[2], bbox[3]}}
	case 6:
		return &orb.Bound{Min: orb.Point{bbox[0], bbox[1]}, Max: orb.Point{bbox[3], bbox[4]}}
	default:
		return nil
	}
}
