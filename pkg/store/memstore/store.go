// Package memstore is an in-memory record store. It evaluates filter trees
// directly against records and keeps stored ad-hoc queries alongside them.
package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/robert-malhotra/go-csw-catalog/pkg/adhoc"
	"github.com/robert-malhotra/go-csw-catalog/pkg/discovery"
	"github.com/robert-malhotra/go-csw-catalog/pkg/filter"
	"github.com/robert-malhotra/go-csw-catalog/query"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store holds records in insertion order. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records []*discovery.Record
	index   map[string]int
	queries map[string]*adhoc.StoredQuery
	logger  *slog.Logger
}

var (
	_ discovery.Store = (*Store)(nil)
	_ adhoc.Lookup    = (*Store)(nil)
)

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		index:   map[string]int{},
		queries: map[string]*adhoc.StoredQuery{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert inserts or replaces records by identifier and returns how many
// were new or changed. Records without a checksum get one computed.
func (s *Store) Upsert(ctx context.Context, recs ...*discovery.Record) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, r := range recs {
		if r == nil || r.ID == "" {
			return changed, fmt.Errorf("memstore: record without identifier")
		}
		cp := *r
		if cp.Checksum == 0 {
			cp.Checksum = discovery.Checksum(&cp)
		}
		if i, ok := s.index[cp.ID]; ok {
			if s.records[i].Checksum == cp.Checksum {
				continue
			}
			s.records[i] = &cp
		} else {
			s.index[cp.ID] = len(s.records)
			s.records = append(s.records, &cp)
		}
		changed++
	}
	s.logger.Debug("upserted records", "received", len(recs), "changed", changed)
	return changed, nil
}

// Delete removes records by identifier and returns how many were removed.
func (s *Store) Delete(ctx context.Context, ids ...string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := map[string]bool{}
	for _, id := range ids {
		if _, ok := s.index[id]; ok {
			drop[id] = true
		}
	}
	if len(drop) == 0 {
		return 0, nil
	}
	s.records = slices.DeleteFunc(s.records, func(r *discovery.Record) bool { return drop[r.ID] })
	clear(s.index)
	for i, r := range s.records {
		s.index[r.ID] = i
	}
	return len(drop), nil
}

// Len returns the number of records held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) matching(ctx context.Context, q *query.Query) ([]*discovery.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*discovery.Record
	for _, r := range s.records {
		if !r.HasTypeName(q.TypeNames) {
			continue
		}
		ok, err := Match(q.Filter, r)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Count implements discovery.Store.
func (s *Store) Count(ctx context.Context, q *query.Query) (int, error) {
	recs, err := s.matching(ctx, q)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// Open implements discovery.Store. Records are sorted by the query's sort
// criteria, insertion order breaking ties, then windowed.
func (s *Store) Open(ctx context.Context, q *query.Query) (discovery.Cursor, error) {
	recs, err := s.matching(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(q.SortBy) > 0 {
		slices.SortStableFunc(recs, func(a, b *discovery.Record) int {
			return compareRecords(a, b, q.SortBy)
		})
	}
	from := min(q.Offset(), len(recs))
	to := min(from+q.Limit(), len(recs))
	return discovery.NewSliceCursor(recs[from:to]), nil
}

// GetByID implements discovery.Store. Records are returned in the order of
// ids; unknown identifiers are skipped.
func (s *Store) GetByID(ctx context.Context, ids, typeNames []string) (discovery.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*discovery.Record, 0, len(ids))
	for _, id := range ids {
		i, ok := s.index[id]
		if !ok || !s.records[i].HasTypeName(typeNames) {
			continue
		}
		out = append(out, s.records[i])
	}
	return discovery.NewSliceCursor(out), nil
}

// compareRecords orders by each sort property in turn. Records lacking a
// value sort after those that have one.
func compareRecords(a, b *discovery.Record, sortBy []filter.SortProperty) int {
	for _, sp := range sortBy {
		av, aok := a.Values(sp.Property.Path)
		bv, bok := b.Values(sp.Property.Path)
		var n int
		switch {
		case !aok && !bok:
			continue
		case !aok:
			return 1
		case !bok:
			return -1
		default:
			c, ok := compare(av[0], bv[0], true)
			if !ok {
				continue
			}
			n = c
		}
		if sp.Order == filter.Descending {
			n = -n
		}
		if n != 0 {
			return n
		}
	}
	return 0
}

// -----------------------------------------------------------------------------
// Stored ad-hoc queries
// -----------------------------------------------------------------------------

// PutAdhocQuery stores a copy of q under its identifier.
func (s *Store) PutAdhocQuery(_ context.Context, q *adhoc.StoredQuery) error {
	if q == nil || q.ID == "" {
		return fmt.Errorf("memstore: stored query without identifier")
	}
	cp, err := q.Clone()
	if err != nil {
		return fmt.Errorf("memstore: store query %q: %w", q.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries[q.ID] = cp
	return nil
}

// LookupAdhocQuery implements adhoc.Lookup. The returned query is a copy.
func (s *Store) LookupAdhocQuery(ctx context.Context, id string) (*adhoc.StoredQuery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	q, ok := s.queries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, adhoc.ErrNotFound
	}
	return q.Clone()
}

// AdhocQueryIDs lists the stored query identifiers, sorted.
func (s *Store) AdhocQueryIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.queries))
	for id := range s.queries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
