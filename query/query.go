// Package query holds the store-neutral query value that the discovery
// engine hands to a record store, and a fluent builder for filter trees.
package query

import (
	"fmt"
	"slices"

	"github.com/robert-malhotra/go-csw-catalog/pkg/filter"
)

// Query is a fully resolved catalogue query: a filter with no remaining
// placeholders, the type names to search, sort criteria and the requested
// window. StartPosition is 1-based.
type Query struct {
	Filter          filter.Operator       `json:"-"`
	TypeNames       []string              `json:"typeNames,omitempty"`
	ReturnTypeNames []string              `json:"returnTypeNames,omitempty"`
	SortBy          []filter.SortProperty `json:"sortBy,omitempty"`
	StartPosition   int                   `json:"startPosition"`
	MaxRecords      int                   `json:"maxRecords"`
}

// Offset is the number of matching records to skip, never negative.
func (q *Query) Offset() int {
	if q.StartPosition < 1 {
		return 0
	}
	return q.StartPosition - 1
}

// Limit is the maximum number of records to fetch, never negative.
func (q *Query) Limit() int {
	return max(q.MaxRecords, 0)
}

// WithWindow returns a shallow copy of q with a new window.
func (q *Query) WithWindow(start, maxRecords int) *Query {
	cp := *q
	cp.StartPosition = start
	cp.MaxRecords = maxRecords
	return &cp
}

// Clone deep-copies q, including its filter tree.
func (q *Query) Clone() (*Query, error) {
	cp := &Query{
		TypeNames:       slices.Clone(q.TypeNames),
		ReturnTypeNames: slices.Clone(q.ReturnTypeNames),
		SortBy:          filter.CloneSort(q.SortBy),
		StartPosition:   q.StartPosition,
		MaxRecords:      q.MaxRecords,
	}
	if q.Filter != nil {
		f, err := filter.Clone(q.Filter)
		if err != nil {
			return nil, fmt.Errorf("clone query filter: %w", err)
		}
		cp.Filter = f
	}
	return cp, nil
}

// String renders the filter as CQL text, for logs.
func (q *Query) String() string {
	if q.Filter == nil {
		return fmt.Sprintf("ALL [%d+%d]", q.StartPosition, q.MaxRecords)
	}
	text, err := filter.Text(q.Filter)
	if err != nil {
		text = fmt.Sprintf("<%v>", err)
	}
	return fmt.Sprintf("%s [%d+%d]", text, q.StartPosition, q.MaxRecords)
}
