package discovery

import (
	"context"

	"github.com/robert-malhotra/go-csw-catalog/query"
)

// Store is the record store the engine searches.
type Store interface {
	// Count returns the number of records matching q, ignoring its window.
	Count(ctx context.Context, q *query.Query) (int, error)
	// Open returns a cursor over the records matching q in store order,
	// skipping q.Offset() records and yielding at most q.Limit().
	Open(ctx context.Context, q *query.Query) (Cursor, error)
	// GetByID returns a cursor over the records with the given identifiers,
	// optionally restricted to typeNames.
	GetByID(ctx context.Context, ids, typeNames []string) (Cursor, error)
}

// Cursor iterates records. Callers must call Close exactly once.
type Cursor interface {
	Next() bool
	Record() *Record
	Err() error
	Close() error
}

// Emitter receives each record of the page, in cursor order.
type Emitter interface {
	Emit(rec *Record, p Projection) error
}

// HeaderEmitter is implemented by emitters that need the search status
// before the first record.
type HeaderEmitter interface {
	Emitter
	EmitHeader(resp *Response) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(rec *Record, p Projection) error

// Emit implements Emitter.
func (f EmitterFunc) Emit(rec *Record, p Projection) error {
	return f(rec, p)
}

// SliceCursor is a Cursor over an in-memory slice.
type SliceCursor struct {
	records []*Record
	pos     int
	closed  bool
}

// NewSliceCursor returns a cursor over records.
func NewSliceCursor(records []*Record) *SliceCursor {
	return &SliceCursor{records: records, pos: -1}
}

func (c *SliceCursor) Next() bool {
	if c.closed || c.pos+1 >= len(c.records) {
		return false
	}
	c.pos++
	return true
}

func (c *SliceCursor) Record() *Record {
	if c.pos < 0 || c.pos >= len(c.records) {
		return nil
	}
	return c.records[c.pos]
}

func (c *SliceCursor) Err() error { return nil }

func (c *SliceCursor) Close() error {
	c.closed = true
	return nil
}
