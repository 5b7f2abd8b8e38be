// Package emitter renders GetRecords pages: a streaming CSW XML writer and
// an in-memory collector.
package emitter

import (
	"maps"
	"slices"
	"strings"

	"github.com/robert-malhotra/go-csw-catalog/pkg/discovery"
)

var briefFields = []string{
	discovery.PropIdentifier,
	discovery.PropTitle,
	discovery.PropType,
	discovery.PropBoundingBox,
}

var summaryFields = append(slices.Clone(briefFields),
	discovery.PropSubject,
	discovery.PropFormat,
	discovery.PropModified,
	discovery.PropAbstract,
)

// Project returns a copy of rec holding only the fields selected by p. An
// element-name whitelist overrides the element set. The identifier is
// always kept.
func Project(rec *discovery.Record, p discovery.Projection) *discovery.Record {
	if rec == nil {
		return nil
	}
	keep := map[string]bool{discovery.PropIdentifier: true}
	var props []string
	switch {
	case len(p.ElementNames) > 0:
		for _, name := range p.ElementNames {
			canonical := discovery.CanonicalProperty(name)
			if canonical == name {
				props = append(props, name)
				continue
			}
			keep[canonical] = true
		}
	case p.ElementSet == discovery.ElementSetBrief:
		for _, f := range briefFields {
			keep[f] = true
		}
	case p.ElementSet == discovery.ElementSetFull:
		cp := *rec
		cp.Subjects = slices.Clone(rec.Subjects)
		cp.Properties = maps.Clone(rec.Properties)
		return &cp
	default:
		for _, f := range summaryFields {
			keep[f] = true
		}
	}

	out := &discovery.Record{ID: rec.ID, TypeName: rec.TypeName, Raw: rec.Raw, Checksum: rec.Checksum}
	if keep[discovery.PropTitle] {
		out.Title = rec.Title
	}
	if keep[discovery.PropAbstract] {
		out.Abstract = rec.Abstract
	}
	if keep[discovery.PropType] {
		out.Type = rec.Type
	}
	if keep[discovery.PropFormat] {
		out.Format = rec.Format
	}
	if keep[discovery.PropSubject] {
		out.Subjects = slices.Clone(rec.Subjects)
	}
	if keep[discovery.PropModified] {
		out.Modified = rec.Modified
	}
	if keep[discovery.PropBoundingBox] && rec.BBox != nil {
		b := *rec.BBox
		out.BBox = &b
	}
	for _, name := range props {
		if v, ok := lookupProperty(rec.Properties, name); ok {
			if out.Properties == nil {
				out.Properties = map[string]any{}
			}
			out.Properties[name] = v
		}
	}
	return out
}

func lookupProperty(props map[string]any, name string) (any, bool) {
	if v, ok := props[name]; ok {
		return v, true
	}
	local := localName(name)
	for k, v := range props {
		if strings.EqualFold(localName(k), local) {
			return v, true
		}
	}
	return nil, false
}

func localName(name string) string {
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// wanted reports whether an element with the given local name passes the
// whitelist. An empty whitelist passes everything.
func wanted(names []string, local string) bool {
	if len(names) == 0 {
		return true
	}
	for _, n := range names {
		if strings.EqualFold(localName(n), local) {
			return true
		}
	}
	return false
}
