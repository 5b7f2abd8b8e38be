package discovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/robert-malhotra/go-csw-catalog/pkg/adhoc"
	"github.com/robert-malhotra/go-csw-catalog/pkg/filter"
	"github.com/robert-malhotra/go-csw-catalog/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore serves numbered records and records every call made to it.
type fakeStore struct {
	records      []*Record
	ignoreWindow bool
	countErr     error
	openErr      error
	cursorErr    error

	counts  int
	opens   int
	queries []*query.Query
	cursors []*trackingCursor
}

func newFakeStore(n int) *fakeStore {
	s := &fakeStore{}
	for i := 1; i <= n; i++ {
		s.records = append(s.records, &Record{ID: fmt.Sprintf("rec-%02d", i), Title: fmt.Sprintf("Record %d", i)})
	}
	return s
}

func (s *fakeStore) Count(_ context.Context, q *query.Query) (int, error) {
	s.counts++
	s.queries = append(s.queries, q)
	if s.countErr != nil {
		return 0, s.countErr
	}
	return len(s.records), nil
}

func (s *fakeStore) Open(_ context.Context, q *query.Query) (Cursor, error) {
	s.opens++
	if s.openErr != nil {
		return nil, s.openErr
	}
	from := min(q.Offset(), len(s.records))
	to := len(s.records)
	if !s.ignoreWindow {
		to = min(from+q.Limit(), len(s.records))
	}
	c := &trackingCursor{SliceCursor: NewSliceCursor(s.records[from:to]), err: s.cursorErr}
	s.cursors = append(s.cursors, c)
	return c, nil
}

func (s *fakeStore) GetByID(_ context.Context, ids, _ []string) (Cursor, error) {
	var out []*Record
	for _, id := range ids {
		for _, r := range s.records {
			if r.ID == id {
				out = append(out, r)
			}
		}
	}
	c := &trackingCursor{SliceCursor: NewSliceCursor(out)}
	s.cursors = append(s.cursors, c)
	return c, nil
}

type trackingCursor struct {
	*SliceCursor
	err    error
	seen   int
	closes int
}

func (c *trackingCursor) Next() bool {
	if c.SliceCursor.Next() {
		c.seen++
		return true
	}
	return false
}

func (c *trackingCursor) Err() error { return c.err }

func (c *trackingCursor) Close() error {
	c.closes++
	return c.SliceCursor.Close()
}

// recorder captures the header and records in emission order.
type recorder struct {
	header  *Response
	ids     []string
	failAt  int
	order   []string
	headErr error
}

func (r *recorder) EmitHeader(resp *Response) error {
	r.order = append(r.order, "header")
	if r.headErr != nil {
		return r.headErr
	}
	cp := *resp
	r.header = &cp
	return nil
}

func (r *recorder) Emit(rec *Record, _ Projection) error {
	if r.failAt > 0 && len(r.ids)+1 == r.failAt {
		return errors.New("write: broken pipe")
	}
	r.order = append(r.order, "record")
	r.ids = append(r.ids, rec.ID)
	return nil
}

var fixedTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestHandler(store Store, opts ...Option) *Handler {
	base := []Option{
		WithClock(func() time.Time { return fixedTime }),
		WithRequestIDs(func() string { return "req-1" }),
	}
	return NewHandler(store, append(base, opts...)...)
}

func idRange(from, to int) []string {
	var out []string
	for i := from; i <= to; i++ {
		out = append(out, fmt.Sprintf("rec-%02d", i))
	}
	return out
}

func TestGetRecordsWindows(t *testing.T) {
	tests := []struct {
		name         string
		total        int
		start        int
		max          int
		wantReturned int
		wantNext     int
		wantIDs      []string
	}{
		{"interior window", 25, 10, 10, 10, 20, idRange(10, 19)},
		{"tail window", 25, 20, 10, 6, 0, idRange(20, 25)},
		{"exact end", 20, 11, 10, 10, 0, idRange(11, 20)},
		{"one past interior", 21, 11, 10, 10, 21, idRange(11, 20)},
		{"empty result", 0, 1, 10, 0, 0, nil},
		{"zero start is normalized", 0, 0, 10, 0, 0, nil},
		{"first page", 25, 1, 10, 10, 11, idRange(1, 10)},
		{"start beyond total", 5, 9, 10, 0, 0, nil},
		{"zero max", 25, 1, 0, 0, 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(tt.total)
			rec := &recorder{}
			h := newTestHandler(store)

			resp, err := h.GetRecords(context.Background(), &GetRecords{
				ResultType:    ResultResults,
				StartPosition: tt.start,
				MaxRecords:    Max(tt.max),
			}, rec)
			require.NoError(t, err)

			assert.Equal(t, tt.total, resp.Matched)
			assert.Equal(t, tt.wantReturned, resp.Returned)
			assert.Equal(t, tt.wantNext, resp.Next)
			assert.Equal(t, tt.wantIDs, rec.ids)
			require.NotNil(t, rec.header)
			assert.Equal(t, resp, rec.header)
			for _, c := range store.cursors {
				assert.Equal(t, 1, c.closes)
			}
		})
	}
}

func TestGetRecordsResponseFields(t *testing.T) {
	h := newTestHandler(newFakeStore(3))
	resp, err := h.GetRecords(context.Background(), &GetRecords{
		ResultType: ResultResults,
		ElementSet: ElementSetFull,
		MaxRecords: Max(5),
	}, &recorder{})
	require.NoError(t, err)
	assert.Equal(t, &Response{
		RequestID:  "req-1",
		Timestamp:  fixedTime,
		ResultType: ResultResults,
		ElementSet: ElementSetFull,
		Matched:    3,
		Returned:   3,
		Next:       0,
	}, resp)

	resp, err = h.GetRecords(context.Background(), &GetRecords{RequestID: "mine", ResultType: ResultResults}, &recorder{})
	require.NoError(t, err)
	assert.Equal(t, "mine", resp.RequestID)
	assert.Equal(t, ElementSetSummary, resp.ElementSet)
}

func TestGetRecordsHeaderBeforeRecords(t *testing.T) {
	rec := &recorder{}
	_, err := newTestHandler(newFakeStore(2)).GetRecords(context.Background(),
		&GetRecords{ResultType: ResultResults}, rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"header", "record", "record"}, rec.order)
}

func TestGetRecordsHitsIsIdempotent(t *testing.T) {
	store := newFakeStore(25)
	h := newTestHandler(store)
	req := &GetRecords{ResultType: ResultHits, StartPosition: 10, MaxRecords: Max(10)}

	first, err := h.GetRecords(context.Background(), req, nil)
	require.NoError(t, err)
	second, err := h.GetRecords(context.Background(), req, &recorder{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 25, first.Matched)
	assert.Equal(t, 0, first.Returned)
	assert.Equal(t, 1, first.Next)
	assert.Equal(t, 2, store.counts)
	assert.Zero(t, store.opens)

	empty := newFakeStore(0)
	resp, err := newTestHandler(empty).GetRecords(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Next)
	assert.Zero(t, empty.opens)
}

func TestGetRecordsDefaultsToHits(t *testing.T) {
	store := newFakeStore(4)
	resp, err := newTestHandler(store).GetRecords(context.Background(), &GetRecords{}, nil)
	require.NoError(t, err)
	assert.Equal(t, ResultHits, resp.ResultType)
	assert.Zero(t, store.opens)
}

func TestGetRecordsValidateTouchesNoStore(t *testing.T) {
	store := newFakeStore(25)
	resp, err := newTestHandler(store).GetRecords(context.Background(), &GetRecords{
		ResultType: ResultValidate,
		Constraint: filter.Eq("dc:title", "x"),
	}, &recorder{})
	require.NoError(t, err)
	assert.Zero(t, resp.Matched)
	assert.Zero(t, resp.Returned)
	assert.Zero(t, resp.Next)
	assert.Zero(t, store.counts)
	assert.Zero(t, store.opens)
}

func TestGetRecordsClosesCursorOnEmitterFailure(t *testing.T) {
	store := newFakeStore(25)
	rec := &recorder{failAt: 3}

	_, err := newTestHandler(store).GetRecords(context.Background(), &GetRecords{
		ResultType: ResultResults,
		MaxRecords: Max(10),
	}, rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueryExecution)
	assert.Equal(t, idRange(1, 2), rec.ids)

	require.Len(t, store.cursors, 1)
	assert.Equal(t, 1, store.cursors[0].closes)
}

func TestGetRecordsDrainsCursorPastCutoff(t *testing.T) {
	store := newFakeStore(25)
	store.ignoreWindow = true
	rec := &recorder{}

	resp, err := newTestHandler(store).GetRecords(context.Background(), &GetRecords{
		ResultType:    ResultResults,
		StartPosition: 20,
		MaxRecords:    Max(3),
	}, rec)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Returned)
	assert.Equal(t, idRange(20, 22), rec.ids)

	require.Len(t, store.cursors, 1)
	assert.Equal(t, 6, store.cursors[0].seen)
	assert.Equal(t, 1, store.cursors[0].closes)
}

func TestGetRecordsStoreFailures(t *testing.T) {
	boom := errors.New("database is locked")

	t.Run("count", func(t *testing.T) {
		store := newFakeStore(5)
		store.countErr = boom
		_, err := newTestHandler(store).GetRecords(context.Background(), &GetRecords{ResultType: ResultResults}, &recorder{})
		assert.ErrorIs(t, err, ErrQueryExecution)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, CodeNoApplicableCode, Code(err))
		assert.Zero(t, store.opens)
	})

	t.Run("open", func(t *testing.T) {
		store := newFakeStore(5)
		store.openErr = boom
		_, err := newTestHandler(store).GetRecords(context.Background(), &GetRecords{ResultType: ResultResults}, &recorder{})
		assert.ErrorIs(t, err, ErrQueryExecution)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("iteration", func(t *testing.T) {
		store := newFakeStore(5)
		store.cursorErr = boom
		_, err := newTestHandler(store).GetRecords(context.Background(), &GetRecords{ResultType: ResultResults}, &recorder{})
		assert.ErrorIs(t, err, boom)
		require.Len(t, store.cursors, 1)
		assert.Equal(t, 1, store.cursors[0].closes)
	})

	t.Run("header", func(t *testing.T) {
		store := newFakeStore(5)
		_, err := newTestHandler(store).GetRecords(context.Background(),
			&GetRecords{ResultType: ResultResults}, &recorder{headErr: boom})
		assert.ErrorIs(t, err, boom)
		assert.Zero(t, store.opens)
	})
}

func TestGetRecordsRejectsIdentifierFilter(t *testing.T) {
	for name, constraint := range map[string]filter.Operator{
		"top level": filter.IDs("rec-01"),
		"nested":    filter.And(filter.Eq("dc:type", "dataset"), filter.Negate(filter.IDs("rec-01"))),
	} {
		t.Run(name, func(t *testing.T) {
			store := newFakeStore(5)
			_, err := newTestHandler(store).GetRecords(context.Background(), &GetRecords{
				ResultType: ResultResults,
				Constraint: constraint,
			}, &recorder{})
			assert.ErrorIs(t, err, ErrUnsupportedConstruct)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Equal(t, CodeOperationNotSupported, Code(err))
			assert.Zero(t, store.counts)
			assert.Zero(t, store.opens)
		})
	}
}

func TestGetRecordsMaxRecords(t *testing.T) {
	ctx := context.Background()

	store := newFakeStore(30)
	resp, err := newTestHandler(store).GetRecords(ctx, &GetRecords{ResultType: ResultResults}, &recorder{})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRecords, resp.Returned)

	store = newFakeStore(30)
	resp, err = newTestHandler(store, WithDefaultMaxRecords(5), WithMaxRecordsLimit(7)).
		GetRecords(ctx, &GetRecords{ResultType: ResultResults, MaxRecords: Max(20)}, &recorder{})
	require.NoError(t, err)
	assert.Equal(t, 7, resp.Returned)
	assert.Equal(t, 8, resp.Next)
	assert.Equal(t, 7, store.queries[0].MaxRecords)

	_, err = newTestHandler(store).GetRecords(ctx, &GetRecords{ResultType: ResultResults, MaxRecords: Max(-1)}, &recorder{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, CodeInvalidParameterValue, Code(err))
}

func TestGetRecordsPassesQueryToStore(t *testing.T) {
	store := newFakeStore(3)
	constraint := filter.Eq("dc:type", "dataset")
	_, err := newTestHandler(store).GetRecords(context.Background(), &GetRecords{
		ResultType:    ResultResults,
		StartPosition: 2,
		MaxRecords:    Max(4),
		TypeNames:     []string{"csw:Record"},
		Constraint:    constraint,
		SortBy:        []filter.SortProperty{filter.Sort("dc:title", filter.Descending)},
	}, &recorder{})
	require.NoError(t, err)

	require.Len(t, store.queries, 1)
	q := store.queries[0]
	assert.Equal(t, constraint, q.Filter)
	assert.Equal(t, []string{"csw:Record"}, q.TypeNames)
	assert.Equal(t, 2, q.StartPosition)
	assert.Equal(t, 4, q.MaxRecords)
	assert.Equal(t, filter.Descending, q.SortBy[0].Order)
}

func TestGetRecordsQueryables(t *testing.T) {
	qs := &filter.Queryables{
		Type:       "object",
		Properties: map[string]filter.PropertyRef{"dc:title": {Type: "string"}},
	}
	store := newFakeStore(3)
	h := newTestHandler(store, WithQueryables(qs))

	_, err := h.GetRecords(context.Background(), &GetRecords{
		ResultType: ResultHits,
		Constraint: filter.Eq("apiso:Title", "x"),
	}, nil)
	require.NoError(t, err)

	_, err = h.GetRecords(context.Background(), &GetRecords{
		ResultType: ResultHits,
		Constraint: filter.Eq("dc:creator", "x"),
	}, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, CodeInvalidParameterValue, Code(err))
	assert.Equal(t, 1, store.counts)
}

func adhocHandler(store Store, stored ...*adhoc.StoredQuery) *Handler {
	byID := map[string]*adhoc.StoredQuery{}
	for _, s := range stored {
		byID[s.ID] = s
	}
	resolver := adhoc.NewResolver(adhoc.LookupFunc(func(_ context.Context, id string) (*adhoc.StoredQuery, error) {
		if s, ok := byID[id]; ok {
			return s, nil
		}
		return nil, adhoc.ErrNotFound
	}))
	return newTestHandler(store, WithResolver(resolver))
}

func TestGetRecordsAdhoc(t *testing.T) {
	stored := &adhoc.StoredQuery{
		ID:             "urn:query:by-type",
		Constraint:     filter.Eq("dc:type", filter.Slot("type")),
		Slots:          []adhoc.Slot{{Name: "type", Default: "dataset"}},
		QueryTypeNames: []string{"csw:Record"},
		SortBy:         []filter.SortProperty{filter.Sort("dc:title", filter.Ascending)},
	}
	store := newFakeStore(12)
	h := adhocHandler(store, stored)

	resp, err := h.GetRecords(context.Background(), &GetRecords{
		ResultType:    ResultResults,
		StartPosition: 11,
		MaxRecords:    Max(5),
		Adhoc:         &adhoc.Request{QueryID: stored.ID, Slots: map[string]string{"type": "service"}},
	}, &recorder{})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Returned)

	q := store.queries[0]
	assert.Equal(t, filter.Eq("dc:type", "service"), q.Filter)
	assert.Equal(t, []string{"csw:Record"}, q.TypeNames)
	assert.Equal(t, 11, q.StartPosition)
	assert.Equal(t, 5, q.MaxRecords)
	assert.Equal(t, stored.SortBy, q.SortBy)

	// The stored template keeps its placeholder.
	assert.Equal(t, "$type", stored.Constraint.(*filter.Comparison).Right.(*filter.Literal).Value)
}

func TestGetRecordsAdhocFailures(t *testing.T) {
	idStored := &adhoc.StoredQuery{ID: "urn:query:ids", Constraint: filter.IDs("rec-01")}

	t.Run("not found", func(t *testing.T) {
		store := newFakeStore(3)
		_, err := adhocHandler(store).GetRecords(context.Background(), &GetRecords{
			ResultType: ResultResults,
			Adhoc:      &adhoc.Request{QueryID: "urn:query:missing"},
		}, &recorder{})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, err, ErrInvalidRequest)
		assert.Equal(t, CodeInvalidParameterValue, Code(err))
		assert.Zero(t, store.counts)
	})

	t.Run("identifier filter", func(t *testing.T) {
		store := newFakeStore(3)
		_, err := adhocHandler(store, idStored).GetRecords(context.Background(), &GetRecords{
			ResultType: ResultResults,
			Adhoc:      &adhoc.Request{QueryID: idStored.ID},
		}, &recorder{})
		assert.ErrorIs(t, err, ErrUnsupportedConstruct)
		assert.Zero(t, store.counts)
		assert.Zero(t, store.opens)
	})

	t.Run("malformed template", func(t *testing.T) {
		broken := &adhoc.StoredQuery{ID: "urn:query:broken", Constraint: filter.And(filter.Eq("dc:type", "dataset"), nil)}
		store := newFakeStore(3)
		_, err := adhocHandler(store, broken).GetRecords(context.Background(), &GetRecords{
			ResultType: ResultResults,
			Adhoc:      &adhoc.Request{QueryID: broken.ID},
		}, &recorder{})
		assert.ErrorIs(t, err, filter.ErrUnsupportedNode)
		assert.ErrorIs(t, err, ErrQueryExecution)
		assert.NotErrorIs(t, err, ErrInvalidRequest)
		assert.NotErrorIs(t, err, ErrUnsupportedConstruct)
		assert.Equal(t, CodeNoApplicableCode, Code(err))
		assert.Zero(t, store.counts)
		assert.Zero(t, store.opens)
	})

	t.Run("no resolver", func(t *testing.T) {
		store := newFakeStore(3)
		_, err := newTestHandler(store).GetRecords(context.Background(), &GetRecords{
			ResultType: ResultHits,
			Adhoc:      &adhoc.Request{QueryID: "urn:query:any"},
		}, nil)
		assert.Equal(t, CodeOperationNotSupported, Code(err))
		assert.Zero(t, store.counts)
	})

	t.Run("lookup failure", func(t *testing.T) {
		boom := errors.New("registry offline")
		resolver := adhoc.NewResolver(adhoc.LookupFunc(func(context.Context, string) (*adhoc.StoredQuery, error) {
			return nil, boom
		}))
		_, err := newTestHandler(newFakeStore(1), WithResolver(resolver)).GetRecords(context.Background(),
			&GetRecords{Adhoc: &adhoc.Request{QueryID: "q"}}, nil)
		assert.ErrorIs(t, err, ErrQueryExecution)
		assert.ErrorIs(t, err, boom)
	})
}

func TestGetRecordsRequiresEmitterForResults(t *testing.T) {
	store := newFakeStore(3)
	_, err := newTestHandler(store).GetRecords(context.Background(), &GetRecords{ResultType: ResultResults}, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Zero(t, store.counts)

	_, err = newTestHandler(store).GetRecords(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestGetRecordByID(t *testing.T) {
	store := newFakeStore(5)
	h := newTestHandler(store)
	rec := &recorder{}

	n, err := h.GetRecordByID(context.Background(), []string{"rec-04", "nope", "rec-02"}, nil, Projection{}, rec)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"rec-04", "rec-02"}, rec.ids)
	assert.Equal(t, 1, store.cursors[0].closes)

	_, err = h.GetRecordByID(context.Background(), []string{"nope"}, nil, Projection{}, rec)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, store.cursors[1].closes)

	_, err = h.GetRecordByID(context.Background(), nil, nil, Projection{}, rec)
	assert.Equal(t, CodeMissingParameterValue, Code(err))
}

func TestServiceError(t *testing.T) {
	cause := errors.New("bad token")
	err := invalidParameter("constraint", cause, "invalid CQL text")
	assert.Equal(t, "csw: InvalidParameterValue (constraint): invalid CQL text: bad token", err.Error())
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsInvalidRequest(fmt.Errorf("wrapped: %w", err)))

	var se *ServiceError
	require.ErrorAs(t, fmt.Errorf("wrapped: %w", err), &se)
	assert.Equal(t, "constraint", se.Locator)
	assert.Equal(t, CodeNoApplicableCode, Code(errors.New("plain")))
}
