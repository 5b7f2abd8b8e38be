// Package adhoc resolves stored, parameterized catalogue queries into
// executable queries by substituting "$slot" placeholders.
package adhoc

import (
	"fmt"
	"maps"
	"slices"

	"github.com/robert-malhotra/go-csw-catalog/pkg/filter"
	"github.com/robert-malhotra/go-csw-catalog/query"
)

// Slot declares a named placeholder and its default value.
type Slot struct {
	Name    string `json:"name" yaml:"name"`
	Default string `json:"default" yaml:"default"`
}

// StoredQuery is a filter template whose "$name" literals are filled from
// slot values at resolve time.
type StoredQuery struct {
	ID              string
	Constraint      filter.Operator
	Slots           []Slot
	QueryTypeNames  []string
	ReturnTypeNames []string
	SortBy          []filter.SortProperty
}

// Request asks for a stored query to be resolved with caller slot values.
type Request struct {
	QueryID       string
	Slots         map[string]string
	StartPosition int
	MaxRecords    int
}

// Defaults returns the declared slots and their default values.
func (s *StoredQuery) Defaults() map[string]string {
	out := make(map[string]string, len(s.Slots))
	for _, slot := range s.Slots {
		out[slot.Name] = slot.Default
	}
	return out
}

// EffectiveSlots overlays overrides onto the stored defaults. Overrides for
// undeclared slots are dropped.
func (s *StoredQuery) EffectiveSlots(overrides map[string]string) map[string]string {
	effective := s.Defaults()
	for name, value := range overrides {
		if _, declared := effective[name]; declared {
			effective[name] = value
		}
	}
	return effective
}

// Resolve copies stored's constraint with every declared "$name" literal
// replaced by its effective value and bundles it with the window. Literals
// naming an undeclared slot are left as they are. A malformed template
// fails with filter.ErrUnsupportedNode.
func Resolve(stored *StoredQuery, overrides map[string]string, start, maxRecords int) (*query.Query, error) {
	if stored == nil {
		return nil, ErrNotFound
	}
	if isIdentifierFilter(stored.Constraint) {
		return nil, fmt.Errorf("%w: identifier filter in stored query %q", ErrUnsupportedConstruct, stored.ID)
	}

	effective := stored.EffectiveSlots(overrides)

	var resolved filter.Operator
	if stored.Constraint != nil {
		out, err := filter.Rewrite(stored.Constraint, substitute(effective))
		if err != nil {
			return nil, fmt.Errorf("rewrite stored query %q: %w", stored.ID, err)
		}
		resolved = out
	}

	return &query.Query{
		Filter:          resolved,
		TypeNames:       slices.Clone(stored.QueryTypeNames),
		ReturnTypeNames: slices.Clone(stored.ReturnTypeNames),
		SortBy:          filter.CloneSort(stored.SortBy),
		StartPosition:   start,
		MaxRecords:      maxRecords,
	}, nil
}

func substitute(values map[string]string) filter.LiteralFunc {
	return func(lit *filter.Literal) (*filter.Literal, error) {
		name, ok := filter.SlotName(lit)
		if !ok {
			return lit, nil
		}
		if v, ok := values[name]; ok {
			lit.Value = v
		}
		return lit, nil
	}
}

func isIdentifierFilter(op filter.Operator) bool {
	return filter.Contains(op, func(o filter.Operator) bool {
		_, ok := o.(*filter.IDFilter)
		return ok
	})
}

// Clone deep-copies the stored query.
func (s *StoredQuery) Clone() (*StoredQuery, error) {
	cp := &StoredQuery{
		ID:              s.ID,
		Slots:           slices.Clone(s.Slots),
		QueryTypeNames:  slices.Clone(s.QueryTypeNames),
		ReturnTypeNames: slices.Clone(s.ReturnTypeNames),
		SortBy:          filter.CloneSort(s.SortBy),
	}
	if s.Constraint != nil {
		c, err := filter.Clone(s.Constraint)
		if err != nil {
			return nil, err
		}
		cp.Constraint = c
	}
	return cp, nil
}

// SlotNames lists the declared slot names, sorted.
func (s *StoredQuery) SlotNames() []string {
	return slices.Sorted(maps.Keys(s.Defaults()))
}
