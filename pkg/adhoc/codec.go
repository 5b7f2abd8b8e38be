package adhoc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/robert-malhotra/go-csw-catalog/pkg/filter"
)

type storedQueryJSON struct {
	ID              string                `json:"id"`
	Constraint      json.RawMessage       `json:"constraint,omitempty"`
	Slots           []Slot                `json:"slots,omitempty"`
	QueryTypeNames  []string              `json:"queryTypeNames,omitempty"`
	ReturnTypeNames []string              `json:"returnTypeNames,omitempty"`
	SortBy          []filter.SortProperty `json:"sortBy,omitempty"`
}

// MarshalJSON encodes the stored query with its constraint in the filter
// JSON form.
func (s *StoredQuery) MarshalJSON() ([]byte, error) {
	doc := storedQueryJSON{
		ID:              s.ID,
		Slots:           s.Slots,
		QueryTypeNames:  s.QueryTypeNames,
		ReturnTypeNames: s.ReturnTypeNames,
		SortBy:          s.SortBy,
	}
	if s.Constraint != nil {
		c, err := filter.Serialize(s.Constraint)
		if err != nil {
			return nil, fmt.Errorf("encode constraint: %w", err)
		}
		doc.Constraint = c
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes a stored query produced by MarshalJSON.
func (s *StoredQuery) UnmarshalJSON(data []byte) error {
	var doc storedQueryJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*s = StoredQuery{
		ID:              doc.ID,
		Slots:           doc.Slots,
		QueryTypeNames:  doc.QueryTypeNames,
		ReturnTypeNames: doc.ReturnTypeNames,
		SortBy:          doc.SortBy,
	}
	if c := bytes.TrimSpace(doc.Constraint); len(c) > 0 && !bytes.Equal(c, []byte("null")) {
		op, err := filter.Parse(c)
		if err != nil {
			return fmt.Errorf("decode constraint: %w", err)
		}
		s.Constraint = op
	}
	return nil
}
