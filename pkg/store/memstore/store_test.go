package memstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/robert-malhotra/go-csw-catalog/pkg/adhoc"
	"github.com/robert-malhotra/go-csw-catalog/pkg/discovery"
	"github.com/robert-malhotra/go-csw-catalog/pkg/emitter"
	"github.com/robert-malhotra/go-csw-catalog/pkg/filter"
	"github.com/robert-malhotra/go-csw-catalog/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(t *testing.T, n int) *Store {
	t.Helper()
	s := New()
	recs := make([]*discovery.Record, 0, n)
	for i := 1; i <= n; i++ {
		typ := "dataset"
		if i%3 == 0 {
			typ = "service"
		}
		recs = append(recs, &discovery.Record{
			ID:    fmt.Sprintf("rec-%02d", i),
			Title: fmt.Sprintf("Title %02d", n+1-i),
			Type:  typ,
		})
	}
	changed, err := s.Upsert(context.Background(), recs...)
	require.NoError(t, err)
	require.Equal(t, n, changed)
	return s
}

func drain(t *testing.T, c discovery.Cursor) []string {
	t.Helper()
	defer func() { require.NoError(t, c.Close()) }()
	var ids []string
	for c.Next() {
		ids = append(ids, c.Record().ID)
	}
	require.NoError(t, c.Err())
	return ids
}

func TestStoreCountAndOpen(t *testing.T) {
	ctx := context.Background()
	s := seeded(t, 12)

	q := &query.Query{Filter: filter.Eq("dc:type", "service"), StartPosition: 1, MaxRecords: 10}
	n, err := s.Count(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	cur, err := s.Open(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-03", "rec-06", "rec-09", "rec-12"}, drain(t, cur))

	// Offset start-1, limit max.
	cur, err = s.Open(ctx, q.WithWindow(2, 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-06", "rec-09"}, drain(t, cur))

	cur, err = s.Open(ctx, q.WithWindow(10, 5))
	require.NoError(t, err)
	assert.Empty(t, drain(t, cur))
}

func TestStoreSort(t *testing.T) {
	ctx := context.Background()
	s := seeded(t, 4)

	cur, err := s.Open(ctx, &query.Query{
		SortBy:     []filter.SortProperty{filter.Sort("dc:title", filter.Ascending)},
		MaxRecords: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-04", "rec-03", "rec-02", "rec-01"}, drain(t, cur))

	cur, err = s.Open(ctx, &query.Query{
		SortBy: []filter.SortProperty{
			filter.Sort("dc:type", filter.Descending),
			filter.Sort("dc:identifier", filter.Ascending),
		},
		MaxRecords: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-03", "rec-01", "rec-02", "rec-04"}, drain(t, cur))
}

func TestStoreTypeNames(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Upsert(ctx,
		&discovery.Record{ID: "a"},
		&discovery.Record{ID: "b", TypeName: "gmd:MD_Metadata"},
	)
	require.NoError(t, err)

	n, err := s.Count(ctx, &query.Query{TypeNames: []string{"csw:Record"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Count(ctx, &query.Query{TypeNames: []string{"MD_Metadata"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cur, err := s.GetByID(ctx, []string{"b", "a", "zz"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, drain(t, cur))

	cur, err = s.GetByID(ctx, []string{"b", "a"}, []string{"csw:Record"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, drain(t, cur))
}

func TestStoreUpsertAndDelete(t *testing.T) {
	ctx := context.Background()
	s := seeded(t, 3)

	changed, err := s.Upsert(ctx, &discovery.Record{ID: "rec-01", Title: "Title 03", Type: "dataset"})
	require.NoError(t, err)
	assert.Zero(t, changed, "identical content is not a change")

	changed, err = s.Upsert(ctx, &discovery.Record{ID: "rec-01", Title: "Renamed"})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	assert.Equal(t, 3, s.Len())

	_, err = s.Upsert(ctx, &discovery.Record{})
	assert.Error(t, err)

	removed, err := s.Delete(ctx, "rec-02", "missing")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, s.Len())
	cur, err := s.GetByID(ctx, []string{"rec-01", "rec-03"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-01", "rec-03"}, drain(t, cur))
}

func TestStoreFilterErrors(t *testing.T) {
	s := seeded(t, 2)
	bad := &query.Query{Filter: &filter.Comparison{
		Op:          filter.OpEqual,
		Left:        &filter.Function{Name: "soundex", Args: []filter.Expression{filter.Property("dc:title")}},
		Right:       filter.Lit("x"),
		MatchAction: filter.MatchAny,
	}}
	_, err := s.Count(context.Background(), bad)
	assert.ErrorIs(t, err, ErrUnsupported)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Count(ctx, &query.Query{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStoreAdhocQueries(t *testing.T) {
	ctx := context.Background()
	s := New()
	stored := &adhoc.StoredQuery{
		ID:         "urn:query:type",
		Constraint: filter.Eq("dc:type", filter.Slot("type")),
		Slots:      []adhoc.Slot{{Name: "type", Default: "dataset"}},
	}
	require.NoError(t, s.PutAdhocQuery(ctx, stored))
	assert.Error(t, s.PutAdhocQuery(ctx, &adhoc.StoredQuery{}))

	// The store holds its own copy.
	stored.Slots[0].Default = "changed"
	got, err := s.LookupAdhocQuery(ctx, "urn:query:type")
	require.NoError(t, err)
	assert.Equal(t, "dataset", got.Slots[0].Default)

	_, err = s.LookupAdhocQuery(ctx, "urn:query:none")
	assert.ErrorIs(t, err, adhoc.ErrNotFound)
	ids, err := s.AdhocQueryIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"urn:query:type"}, ids)
}

func TestStoreWithHandler(t *testing.T) {
	ctx := context.Background()
	s := seeded(t, 25)
	require.NoError(t, s.PutAdhocQuery(ctx, &adhoc.StoredQuery{
		ID:         "urn:query:type",
		Constraint: filter.Eq("dc:type", filter.Slot("type")),
		Slots:      []adhoc.Slot{{Name: "type", Default: "service"}},
		SortBy:     []filter.SortProperty{filter.Sort("dc:identifier", filter.Descending)},
	}))
	h := discovery.NewHandler(s, discovery.WithResolver(adhoc.NewResolver(s)))

	page := &emitter.Collector{}
	resp, err := h.GetRecords(ctx, &discovery.GetRecords{
		ResultType:    discovery.ResultResults,
		StartPosition: 10,
		MaxRecords:    discovery.Max(10),
	}, page)
	require.NoError(t, err)
	assert.Equal(t, 25, resp.Matched)
	assert.Equal(t, 10, resp.Returned)
	assert.Equal(t, 20, resp.Next)
	assert.Equal(t, "rec-10", page.IDs()[0])
	assert.Equal(t, "rec-19", page.IDs()[9])

	page = &emitter.Collector{}
	resp, err = h.GetRecords(ctx, &discovery.GetRecords{
		ResultType:    discovery.ResultResults,
		StartPosition: 20,
		MaxRecords:    discovery.Max(10),
	}, page)
	require.NoError(t, err)
	assert.Equal(t, 6, resp.Returned)
	assert.Equal(t, 0, resp.Next)
	assert.Len(t, page.Records, 6)

	page = &emitter.Collector{}
	resp, err = h.GetRecords(ctx, &discovery.GetRecords{
		ResultType: discovery.ResultResults,
		MaxRecords: discovery.Max(3),
		Adhoc:      &adhoc.Request{QueryID: "urn:query:type"},
	}, page)
	require.NoError(t, err)
	assert.Equal(t, 8, resp.Matched)
	assert.Equal(t, []string{"rec-24", "rec-21", "rec-18"}, page.IDs())
	assert.Equal(t, 4, resp.Next)
}
