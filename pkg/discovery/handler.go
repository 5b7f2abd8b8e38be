package discovery

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/robert-malhotra/go-csw-catalog/internal/observability"
	"github.com/robert-malhotra/go-csw-catalog/pkg/adhoc"
	"github.com/robert-malhotra/go-csw-catalog/pkg/filter"
	"github.com/robert-malhotra/go-csw-catalog/query"
)

// DefaultMaxRecords is the page size used when a request carries none.
const DefaultMaxRecords = 10

// Option configures a Handler.
type Option func(*Handler)

// Handler executes GetRecords and GetRecordById requests against a Store.
// It holds no per-request state and is safe for concurrent use when its
// collaborators are.
type Handler struct {
	store      Store
	resolver   *adhoc.Resolver
	queryables *filter.Queryables
	logger     *slog.Logger
	obs        *observability.Config
	defaultMax int
	maxLimit   int
	now        func() time.Time
	newID      func() string
}

// -----------------------------------------------------------------------------
// Handler options
// -----------------------------------------------------------------------------

// WithLogger sets the handler logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithObservability enables tracing and metrics.
func WithObservability(cfg *observability.Config) Option {
	return func(h *Handler) { h.obs = cfg }
}

// WithResolver enables stored ad-hoc queries.
func WithResolver(r *adhoc.Resolver) Option {
	return func(h *Handler) { h.resolver = r }
}

// WithQueryables restricts constraints and sort keys to the given
// queryables.
func WithQueryables(q *filter.Queryables) Option {
	return func(h *Handler) { h.queryables = q }
}

// WithDefaultMaxRecords sets the page size for requests that carry none.
func WithDefaultMaxRecords(n int) Option {
	return func(h *Handler) {
		if n >= 0 {
			h.defaultMax = n
		}
	}
}

// WithMaxRecordsLimit caps the page size. Zero disables the cap.
func WithMaxRecordsLimit(n int) Option {
	return func(h *Handler) {
		if n >= 0 {
			h.maxLimit = n
		}
	}
}

// WithClock overrides the response timestamp source.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithRequestIDs overrides the generator used for requests without an
// identifier.
func WithRequestIDs(gen func() string) Option {
	return func(h *Handler) {
		if gen != nil {
			h.newID = gen
		}
	}
}

// NewHandler creates a Handler over store.
func NewHandler(store Store, opts ...Option) *Handler {
	h := &Handler{
		store:      store,
		logger:     slog.Default(),
		defaultMax: DefaultMaxRecords,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// -----------------------------------------------------------------------------
// GetRecords
// -----------------------------------------------------------------------------

// GetRecords counts the records matching req and, for result type
// "results", emits the requested page through emit. A validate request
// touches no store; a hits request only counts. The store cursor is closed
// on every path once opened.
func (h *Handler) GetRecords(ctx context.Context, req *GetRecords, emit Emitter) (resp *Response, err error) {
	if req == nil {
		return nil, &ServiceError{Code: CodeNoApplicableCode, Message: "nil request", Kind: ErrInvalidRequest}
	}

	begin := time.Now()
	resultType := req.ResultType
	if resultType == "" {
		resultType = ResultHits
	}
	elementSet := req.ElementSet
	if elementSet == "" {
		elementSet = ElementSetSummary
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = h.newID()
	}

	start := max(req.StartPosition, 1)
	maxRecords, err := h.window(req.MaxRecords)
	if err != nil {
		return nil, err
	}

	tracer := h.obs.Tracer()
	metrics := h.obs.Metrics()
	ctx, span := tracer.StartGetRecords(ctx, requestID, string(resultType), start, maxRecords)
	defer span.End()
	logger := observability.LoggerWithTrace(ctx, h.logger).With(
		"request_id", requestID, "result_type", resultType)

	defer func() {
		metrics.RecordRequest(ctx, observability.OpGetRecords, string(resultType), time.Since(begin))
		if err != nil {
			tracer.RecordError(span, err)
			metrics.RecordError(ctx, observability.OpGetRecords, string(Code(err)))
			logger.Warn("getrecords failed", "error", err)
			return
		}
		tracer.SetPage(span, resp.Matched, resp.Returned, resp.Next)
		metrics.RecordReturned(ctx, resp.Returned)
	}()

	if resultType == ResultResults && emit == nil {
		return nil, &ServiceError{Code: CodeNoApplicableCode, Message: "no emitter for results", Kind: ErrInvalidRequest}
	}

	q, err := h.plan(ctx, req, start, maxRecords)
	if err != nil {
		return nil, err
	}
	logger.Debug("planned query", "query", q.String())

	resp = &Response{
		RequestID:  requestID,
		Timestamp:  h.now().UTC(),
		ResultType: resultType,
		ElementSet: elementSet,
	}
	if resultType == ResultValidate {
		return resp, nil
	}

	total, err := h.store.Count(ctx, q)
	if err != nil {
		return nil, queryFailed("count records", err)
	}
	resp.Matched = total

	if resultType == ResultHits {
		if total > 0 {
			resp.Next = 1
		}
		if err := h.emitHeader(emit, resp); err != nil {
			return nil, err
		}
		return resp, nil
	}

	resp.Returned = ComputeReturned(total, maxRecords, start)
	resp.Next = ComputeNext(total, maxRecords, start)
	if err := h.emitHeader(emit, resp); err != nil {
		return nil, err
	}
	if resp.Returned == 0 {
		return resp, nil
	}

	emitted, err := h.fetch(ctx, q, resp.Returned, req.Projection(), emit)
	if err != nil {
		return nil, err
	}
	if emitted < resp.Returned {
		logger.Warn("store yielded fewer records than counted",
			"expected", resp.Returned, "emitted", emitted)
	}
	return resp, nil
}

// fetch opens a cursor for q and emits while fewer than returned records
// have been seen. Every record advances the counter so the cursor is
// drained before it is closed.
func (h *Handler) fetch(ctx context.Context, q *query.Query, returned int, p Projection, emit Emitter) (emitted int, err error) {
	cur, err := h.store.Open(ctx, q)
	if err != nil {
		return 0, queryFailed("open cursor", err)
	}
	defer func() {
		if cerr := cur.Close(); cerr != nil && err == nil {
			err = queryFailed("close cursor", cerr)
		}
	}()

	for c := 0; cur.Next(); c++ {
		if c >= returned {
			continue
		}
		if err := emit.Emit(cur.Record(), p); err != nil {
			return emitted, &ServiceError{
				Code:    CodeNoApplicableCode,
				Message: "emit record",
				Kind:    ErrQueryExecution,
				Err:     err,
			}
		}
		emitted++
	}
	if err := cur.Err(); err != nil {
		return emitted, queryFailed("fetch records", err)
	}
	return emitted, nil
}

func (h *Handler) emitHeader(emit Emitter, resp *Response) error {
	he, ok := emit.(HeaderEmitter)
	if !ok {
		return nil
	}
	if err := he.EmitHeader(resp); err != nil {
		return &ServiceError{Code: CodeNoApplicableCode, Message: "emit header", Kind: ErrQueryExecution, Err: err}
	}
	return nil
}

func (h *Handler) window(requested *int) (int, error) {
	if requested == nil {
		return h.capped(h.defaultMax), nil
	}
	if *requested < 0 {
		return 0, invalidParameter("maxRecords", nil, "must not be negative, got %d", *requested)
	}
	return h.capped(*requested), nil
}

func (h *Handler) capped(n int) int {
	if h.maxLimit > 0 && n > h.maxLimit {
		return h.maxLimit
	}
	return n
}

// plan turns the request into the store query, resolving a stored query
// when one is referenced. Identifier filters are rejected here, before the
// store is consulted.
func (h *Handler) plan(ctx context.Context, req *GetRecords, start, maxRecords int) (*query.Query, error) {
	var q *query.Query
	if req.Adhoc != nil {
		if h.resolver == nil {
			return nil, &ServiceError{
				Code:    CodeOperationNotSupported,
				Locator: "storedQueryId",
				Message: "stored queries are not enabled",
				Kind:    ErrInvalidRequest,
			}
		}
		ar := *req.Adhoc
		ar.StartPosition = start
		ar.MaxRecords = maxRecords
		resolved, err := h.resolver.Resolve(ctx, &ar)
		if err != nil {
			return nil, adhocFailure(ar.QueryID, err)
		}
		q = resolved
		if len(q.TypeNames) == 0 {
			q.TypeNames = slices.Clone(req.TypeNames)
		}
	} else {
		if containsIDFilter(req.Constraint) {
			return nil, &ServiceError{
				Code:    CodeOperationNotSupported,
				Locator: "constraint",
				Message: "identifier filters are not supported by GetRecords, use GetRecordById",
				Kind:    ErrInvalidRequest,
				Err:     ErrUnsupportedConstruct,
			}
		}
		q = &query.Query{
			Filter:        req.Constraint,
			TypeNames:     slices.Clone(req.TypeNames),
			SortBy:        filter.CloneSort(req.SortBy),
			StartPosition: start,
			MaxRecords:    maxRecords,
		}
	}

	if err := h.queryables.Check(q.Filter, q.SortBy); err != nil {
		return nil, invalidParameter("constraint", err, "unknown queryable")
	}
	return q, nil
}

func containsIDFilter(op filter.Operator) bool {
	return filter.Contains(op, func(o filter.Operator) bool {
		_, ok := o.(*filter.IDFilter)
		return ok
	})
}

// -----------------------------------------------------------------------------
// GetRecordById
// -----------------------------------------------------------------------------

// GetRecordByID emits the records with the given identifiers and returns how
// many were emitted. Unknown identifiers are skipped; when none resolve the
// error wraps ErrNotFound.
func (h *Handler) GetRecordByID(ctx context.Context, ids, typeNames []string, p Projection, emit Emitter) (n int, err error) {
	if len(ids) == 0 {
		return 0, missingParameter("Id")
	}
	if emit == nil {
		return 0, &ServiceError{Code: CodeNoApplicableCode, Message: "no emitter", Kind: ErrInvalidRequest}
	}
	if p.ElementSet == "" {
		p.ElementSet = ElementSetSummary
	}

	begin := time.Now()
	tracer := h.obs.Tracer()
	metrics := h.obs.Metrics()
	ctx, span := tracer.StartGetRecordByID(ctx, ids)
	defer span.End()
	defer func() {
		metrics.RecordRequest(ctx, observability.OpGetRecordByID, "", time.Since(begin))
		if err != nil {
			tracer.RecordError(span, err)
			metrics.RecordError(ctx, observability.OpGetRecordByID, string(Code(err)))
			return
		}
		metrics.RecordReturned(ctx, n)
	}()

	cur, err := h.store.GetByID(ctx, ids, typeNames)
	if err != nil {
		return 0, queryFailed("get records by id", err)
	}
	defer func() {
		if cerr := cur.Close(); cerr != nil && err == nil {
			err = queryFailed("close cursor", cerr)
		}
	}()

	for cur.Next() {
		if err := emit.Emit(cur.Record(), p); err != nil {
			return n, &ServiceError{Code: CodeNoApplicableCode, Message: "emit record", Kind: ErrQueryExecution, Err: err}
		}
		n++
	}
	if err := cur.Err(); err != nil {
		return n, queryFailed("fetch records", err)
	}
	if n == 0 {
		return 0, invalidParameter("Id", ErrNotFound, "no record matches %v", ids)
	}
	return n, nil
}
