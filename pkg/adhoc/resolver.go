package adhoc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robert-malhotra/go-csw-catalog/internal/observability"
	"github.com/robert-malhotra/go-csw-catalog/pkg/filter"
	"github.com/robert-malhotra/go-csw-catalog/query"
)

// Lookup fetches a stored query by identifier. Implementations return
// ErrNotFound when the identifier is unknown.
type Lookup interface {
	LookupAdhocQuery(ctx context.Context, id string) (*StoredQuery, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, id string) (*StoredQuery, error)

// LookupAdhocQuery implements Lookup.
func (f LookupFunc) LookupAdhocQuery(ctx context.Context, id string) (*StoredQuery, error) {
	return f(ctx, id)
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the resolver logger.
func WithLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObservability enables tracing of resolve calls.
func WithObservability(cfg *observability.Config) ResolverOption {
	return func(r *Resolver) { r.obs = cfg }
}

// Resolver looks up stored queries and resolves them.
type Resolver struct {
	lookup Lookup
	logger *slog.Logger
	obs    *observability.Config
}

// NewResolver creates a Resolver backed by lookup.
func NewResolver(lookup Lookup, opts ...ResolverOption) *Resolver {
	r := &Resolver{lookup: lookup, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve performs a single lookup of req.QueryID and resolves it with the
// request's slot values and window.
func (r *Resolver) Resolve(ctx context.Context, req *Request) (*query.Query, error) {
	if req == nil || req.QueryID == "" {
		return nil, fmt.Errorf("%w: empty stored query identifier", ErrNotFound)
	}

	tracer := r.obs.Tracer()
	ctx, span := tracer.StartAdhocResolve(ctx, req.QueryID, len(req.Slots))
	defer span.End()
	logger := observability.LoggerWithTrace(ctx, r.logger)

	stored, err := r.lookup.LookupAdhocQuery(ctx, req.QueryID)
	if err == nil && stored == nil {
		err = ErrNotFound
	}
	if err != nil {
		tracer.RecordError(span, err)
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("stored query %q: %w", req.QueryID, err)
		}
		return nil, fmt.Errorf("lookup stored query %q: %w", req.QueryID, err)
	}

	for name := range req.Slots {
		if _, declared := stored.Defaults()[name]; !declared {
			logger.Debug("ignoring undeclared slot", "query_id", req.QueryID, "slot", name)
		}
	}

	q, err := Resolve(stored, req.Slots, req.StartPosition, req.MaxRecords)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	if left := filter.Placeholders(q.Filter); len(left) > 0 {
		logger.Debug("placeholders without a declared slot left in place",
			"query_id", req.QueryID, "placeholders", left)
	}
	logger.Debug("resolved stored query", "query_id", req.QueryID, "query", q.String())
	return q, nil
}
