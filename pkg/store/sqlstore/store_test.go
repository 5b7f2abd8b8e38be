package sqlstore

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/robert-malhotra/go-csw-catalog/pkg/adhoc"
	"github.com/robert-malhotra/go-csw-catalog/pkg/discovery"
	"github.com/robert-malhotra/go-csw-catalog/pkg/emitter"
	"github.com/robert-malhotra/go-csw-catalog/pkg/filter"
	"github.com/robert-malhotra/go-csw-catalog/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DriverSQLite, "file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seeded(t *testing.T, n int) *Store {
	t.Helper()
	s := openTestStore(t)
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

func lakes() *discovery.Record {
	return &discovery.Record{
		ID:       "rec-lakes",
		Title:    "Lakes of Finland",
		Abstract: "Inland water bodies",
		Type:     "dataset",
		Subjects: []string{"water", "Hydrography"},
		Modified: time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC),
		BBox:     &orb.Bound{Min: orb.Point{20, 60}, Max: orb.Point{30, 70}},
		Properties: map[string]any{
			"eo:cloud_cover": 12.5,
			"published":      true,
		},
	}
}

func TestStoreCountAndOpen(t *testing.T) {
	ctx := context.Background()
	s := seeded(t, 12)
	assert.Equal(t, dialectSQLite, s.Dialect())

	q := &query.Query{Filter: filter.Eq("dc:type", "service"), StartPosition: 1, MaxRecords: 10}
	n, err := s.Count(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	cur, err := s.Open(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-03", "rec-06", "rec-09", "rec-12"}, drain(t, cur))

	cur, err = s.Open(ctx, q.WithWindow(2, 2))
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-06", "rec-09"}, drain(t, cur))

	cur, err = s.Open(ctx, q.WithWindow(10, 5))
	require.NoError(t, err)
	assert.Empty(t, drain(t, cur))

	cur, err = s.Open(ctx, q.WithWindow(1, 0))
	require.NoError(t, err)
	assert.Empty(t, drain(t, cur))
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	src := lakes()
	src.Raw = []byte("<rec/>")
	_, err := s.Upsert(ctx, src)
	require.NoError(t, err)

	cur, err := s.GetByID(ctx, []string{"rec-lakes"}, nil)
	require.NoError(t, err)
	require.True(t, cur.Next())
	got := cur.Record()
	require.NoError(t, cur.Close())

	assert.Equal(t, src.Title, got.Title)
	assert.Equal(t, src.Subjects, got.Subjects)
	assert.True(t, src.Modified.Equal(got.Modified))
	assert.Equal(t, src.BBox, got.BBox)
	assert.Equal(t, src.Properties, got.Properties)
	assert.Equal(t, []byte("<rec/>"), got.Raw)
	assert.Equal(t, discovery.Checksum(src), got.Checksum)
	assert.Empty(t, got.Format)
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

	// Records without the sort property come last in either direction.
	_, err = s.Upsert(ctx, &discovery.Record{ID: "rec-00"})
	require.NoError(t, err)
	for _, order := range []filter.SortOrder{filter.Ascending, filter.Descending} {
		cur, err = s.Open(ctx, &query.Query{
			SortBy:     []filter.SortProperty{filter.Sort("dc:title", order)},
			MaxRecords: 10,
		})
		require.NoError(t, err)
		ids := drain(t, cur)
		require.Len(t, ids, 5)
		assert.Equal(t, "rec-00", ids[4], order)
	}
}

func TestStoreTypeNames(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
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

	changed, err = s.Upsert(ctx, &discovery.Record{ID: "rec-01", Title: "Renamed", Subjects: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	n, err := s.Count(ctx, &query.Query{Filter: filter.Eq("dc:subject", "b")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Upsert(ctx, &discovery.Record{})
	assert.Error(t, err)

	removed, err := s.Delete(ctx, "rec-02", "missing")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	n, err = s.Count(ctx, &query.Query{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	removed, err = s.Delete(ctx, "rec-01")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	n, err = s.Count(ctx, &query.Query{Filter: filter.Eq("dc:subject", "b")})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStoreFilters(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.Upsert(ctx, lakes(), &discovery.Record{ID: "rec-empty"})
	require.NoError(t, err)

	tests := []struct {
		name string
		op   filter.Operator
		want bool
	}{
		{"equal", filter.Eq("dc:title", "Lakes of Finland"), true},
		{"equal is case sensitive", filter.Eq("dc:title", "lakes of finland"), false},
		{"equal ignoring case", &filter.Comparison{
			Op: filter.OpEqual, Left: filter.Property("dc:title"), Right: filter.Lit("lakes of finland"),
			MatchAction: filter.MatchAny,
		}, true},
		{"not equal", filter.Neq("dc:type", "service"), true},
		{"numeric property", filter.Lt("eo:cloud_cover", 20), true},
		{"date", filter.Gt("dct:modified", "2023-01-01"), true},
		{"date after", filter.Gt("dct:modified", "2024-01-01T00:00:00Z"), false},
		{"date with offset", filter.Lt("dct:modified", "2023-07-01T03:00:00+02:00"), true},
		{"bool", filter.Eq("published", true), true},
		{"missing property", filter.Eq("dc:creator", "x"), false},
		{"any subject", filter.Eq("dc:subject", "water"), true},
		{"subject ignoring case", &filter.Comparison{
			Op: filter.OpEqual, Left: filter.Property("dc:subject"), Right: filter.Lit("HYDROGRAPHY"),
			MatchAction: filter.MatchAny,
		}, true},
		{"all subjects", &filter.Comparison{
			Op: filter.OpNotEqual, Left: filter.Property("dc:subject"), Right: filter.Lit("fire"),
			MatchCase: true, MatchAction: filter.MatchAll,
		}, true},
		{"one subject", &filter.Comparison{
			Op: filter.OpGreaterThan, Left: filter.Property("dc:subject"), Right: filter.Lit("A"),
			MatchCase: true, MatchAction: filter.MatchOne,
		}, false},
		{"between", filter.BetweenOf("eo:cloud_cover", 10, 15), true},
		{"between outside", filter.BetweenOf("eo:cloud_cover", 13, 15), false},
		{"like", filter.LikeOf("dc:title", "lakes%"), true},
		{"like single char", filter.LikeOf("dc:title", "L_kes of %"), true},
		{"like anchored", filter.LikeOf("dc:title", "Finland"), false},
		{"like anytext", filter.LikeOf("csw:AnyText", "%hydrography%"), true},
		{"like custom wildcard", &filter.Like{
			Expr: filter.Property("dc:title"), Pattern: filter.Lit("*of*"), Wildcard: "*",
			MatchCase: true, MatchAction: filter.MatchAny,
		}, true},
		{"like case sensitive", &filter.Like{
			Expr: filter.Property("dc:title"), Pattern: filter.Lit("lakes%"),
			MatchCase: true, MatchAction: filter.MatchAny,
		}, false},
		{"like escaped", &filter.Like{
			Expr: filter.Property("dc:title"), Pattern: filter.Lit("Lakes\\%"),
			MatchCase: true, MatchAction: filter.MatchAny,
		}, false},
		{"is null", filter.Null("dc:format"), true},
		{"is not null", filter.Negate(filter.Null("dc:title")), true},
		{"not over missing property", filter.Negate(filter.Eq("dc:creator", "x")), true},
		{"and", filter.And(filter.Eq("dc:type", "dataset"), filter.Lt("eo:cloud_cover", 5)), false},
		{"or", filter.Or(filter.Eq("dc:type", "service"), filter.Lt("eo:cloud_cover", 50)), true},
		{"empty and", filter.And(), true},
		{"ids", filter.IDs("a", "rec-lakes"), true},
		{"arithmetic", &filter.Comparison{
			Op:          filter.OpEqual,
			Left:        &filter.Arithmetic{Op: filter.OpMul, Left: filter.Property("eo:cloud_cover"), Right: filter.Lit(2.0)},
			Right:       filter.Lit(25.0),
			MatchCase:   true,
			MatchAction: filter.MatchAny,
		}, true},
		{"upper", &filter.Comparison{
			Op:          filter.OpEqual,
			Left:        &filter.Function{Name: "upper", Args: []filter.Expression{filter.Property("dc:type")}},
			Right:       filter.Lit("DATASET"),
			MatchCase:   true,
			MatchAction: filter.MatchAny,
		}, true},
		{"strlen", &filter.Comparison{
			Op:          filter.OpEqual,
			Left:        &filter.Function{Name: "strlen", Args: []filter.Expression{filter.Property("dc:type")}},
			Right:       filter.Lit(7.0),
			MatchCase:   true,
			MatchAction: filter.MatchAny,
		}, true},
		{"bbox", filter.BBox("ows:BoundingBox", 25, 65, 40, 80), true},
		{"bbox disjoint", filter.BBox("ows:BoundingBox", 0, 0, 10, 10), false},
		{"default geometry property", &filter.Spatial{
			Op: filter.OpIntersects, Geometry: orb.Point{25, 65},
		}, true},
		{"within", filter.SpatialOf(filter.OpWithin, "ows:BoundingBox", orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{40, 80}}), true},
		{"contains", filter.SpatialOf(filter.OpContains, "ows:BoundingBox", orb.Point{25, 65}), true},
		{"disjoint", filter.SpatialOf(filter.OpDisjoint, "ows:BoundingBox", orb.Point{0, 0}), true},
		{"equals", filter.SpatialOf(filter.OpEquals, "ows:BoundingBox", orb.Bound{Min: orb.Point{20, 60}, Max: orb.Point{30, 70}}), true},
		{"touches", filter.SpatialOf(filter.OpTouches, "ows:BoundingBox", orb.Bound{Min: orb.Point{30, 60}, Max: orb.Point{40, 70}}), true},
		{"overlaps", filter.SpatialOf(filter.OpOverlaps, "ows:BoundingBox", orb.Bound{Min: orb.Point{25, 65}, Max: orb.Point{35, 75}}), true},
		{"overlaps not within", filter.SpatialOf(filter.OpOverlaps, "ows:BoundingBox", orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{40, 80}}), false},
		{"dwithin degrees", filter.DistanceOf(filter.OpDWithin, "ows:BoundingBox", orb.Point{33, 74}, 5, "deg"), true},
		{"dwithin km", filter.DistanceOf(filter.OpDWithin, "ows:BoundingBox", orb.Point{31, 70}, 100, "km"), false},
		{"beyond", filter.DistanceOf(filter.OpBeyond, "ows:BoundingBox", orb.Point{0, 0}, 10, "deg"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cur, err := s.Open(ctx, &query.Query{Filter: tt.op, MaxRecords: 10})
			require.NoError(t, err)
			ids := drain(t, cur)
			assert.Equal(t, tt.want, slices.Contains(ids, "rec-lakes"), ids)
		})
	}
}

func TestStoreNotTranslatable(t *testing.T) {
	ctx := context.Background()
	s := seeded(t, 1)
	tests := []struct {
		name string
		op   filter.Operator
	}{
		{"unknown function", &filter.Comparison{
			Op: filter.OpEqual, Left: &filter.Function{Name: "soundex", Args: []filter.Expression{filter.Property("dc:title")}},
			Right: filter.Lit("x"), MatchAction: filter.MatchAny,
		}},
		{"unknown units", filter.DistanceOf(filter.OpDWithin, "ows:BoundingBox", orb.Point{0, 0}, 1, "furlongs")},
		{"no geometry", &filter.Spatial{Op: filter.OpIntersects, Target: filter.Property("ows:BoundingBox")}},
		{"other geometry property", filter.BBox("footprint", 0, 0, 90, 90)},
		{"geometry reference", &filter.Spatial{
			Op: filter.OpIntersects, Target: filter.Property("ows:BoundingBox"), GeometryRef: filter.Property("footprint"),
		}},
		{"bounding box comparison", filter.Eq("ows:BoundingBox", "x")},
		{"pattern expression", &filter.Like{Expr: filter.Property("dc:title"), Pattern: filter.Property("dc:type")}},
		{"nested in logical", filter.And(filter.Eq("dc:type", "dataset"), filter.Eq("ows:BoundingBox", "x"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Count(ctx, &query.Query{Filter: tt.op})
			assert.ErrorIs(t, err, ErrNotTranslatable)
		})
	}

	_, err := s.Open(ctx, &query.Query{
		SortBy:     []filter.SortProperty{filter.Sort("ows:BoundingBox", filter.Ascending)},
		MaxRecords: 1,
	})
	assert.ErrorIs(t, err, ErrNotTranslatable)
}

func TestStoreAdhocQueries(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	stored := &adhoc.StoredQuery{
		ID:         "urn:query:type",
		Constraint: filter.Eq("dc:type", filter.Slot("type")),
		Slots:      []adhoc.Slot{{Name: "type", Default: "dataset"}},
		SortBy:     []filter.SortProperty{filter.Sort("dc:title", filter.Descending)},
	}
	require.NoError(t, s.PutAdhocQuery(ctx, stored))
	assert.Error(t, s.PutAdhocQuery(ctx, &adhoc.StoredQuery{}))

	got, err := s.LookupAdhocQuery(ctx, "urn:query:type")
	require.NoError(t, err)
	assert.Equal(t, stored, got)

	stored.Slots[0].Default = "service"
	require.NoError(t, s.PutAdhocQuery(ctx, stored))
	got, err = s.LookupAdhocQuery(ctx, "urn:query:type")
	require.NoError(t, err)
	assert.Equal(t, "service", got.Slots[0].Default)

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
		Adhoc:      &adhoc.Request{QueryID: "urn:query:type", Slots: map[string]string{"type": "dataset"}},
	}, page)
	require.NoError(t, err)
	assert.Equal(t, 17, resp.Matched)
	assert.Equal(t, []string{"rec-25", "rec-23", "rec-22"}, page.IDs())
	assert.Equal(t, 4, resp.Next)

	// Untranslatable constraints surface as query execution failures.
	_, err = h.GetRecords(ctx, &discovery.GetRecords{
		ResultType: discovery.ResultHits,
		Constraint: filter.BBox("footprint", 0, 0, 1, 1),
	}, nil)
	assert.ErrorIs(t, err, discovery.ErrQueryExecution)
	assert.ErrorIs(t, err, ErrNotTranslatable)
}
