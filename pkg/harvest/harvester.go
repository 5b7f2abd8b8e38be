package harvest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/planetlabs/go-stac"
	"github.com/robert-malhotra/go-csw-catalog/internal/observability"
	"github.com/robert-malhotra/go-csw-catalog/pkg/discovery"
)

// Sink receives harvested records. Upsert reports how many records changed.
type Sink interface {
	Upsert(ctx context.Context, recs ...*discovery.Record) (int, error)
}

// Result summarises one harvest run.
type Result struct {
	Source  string `json:"source"`
	Seen    int    `json:"seen"`
	Changed int    `json:"changed"`
	Skipped int    `json:"skipped"`
}

// Option configures a Harvester.
type Option func(*Harvester)

// WithBatchSize sets how many records are written per Upsert.
func WithBatchSize(n int) Option {
	return func(h *Harvester) {
		if n > 0 {
			h.batchSize = n
		}
	}
}

// WithMaxItems stops the harvest after n items. Zero means no limit.
func WithMaxItems(n int) Option {
	return func(h *Harvester) { h.maxItems = n }
}

// WithLogger sets the harvester's logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harvester) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithS3Client sets the client used for s3:// sources. Without one the
// default AWS configuration is loaded on first use.
func WithS3Client(c S3API) Option {
	return func(h *Harvester) { h.s3 = c }
}

// WithObservability enables tracing and metrics.
func WithObservability(cfg *observability.Config) Option {
	return func(h *Harvester) { h.obs = cfg }
}

// Harvester copies the items of STAC collections into a Sink.
type Harvester struct {
	client    *Client
	sink      Sink
	batchSize int
	maxItems  int
	s3        S3API
	logger    *slog.Logger
	obs       *observability.Config
}

// New creates a harvester reading through client and writing to sink. The
// client may be nil when only Import is used with non-http sources.
func New(client *Client, sink Sink, opts ...Option) *Harvester {
	h := &Harvester{
		client:    client,
		sink:      sink,
		batchSize: 100,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Harvest pulls every item of the collection. Items that cannot be
// converted are skipped and counted; transport and sink errors abort the
// run, leaving records already written in place.
func (h *Harvester) Harvest(ctx context.Context, collectionID string) (*Result, error) {
	if h.client == nil {
		return nil, errors.New("harvest: no STAC API client")
	}
	return h.run(ctx, h.client.ItemsURL(collectionID), h.client.Items(ctx, collectionID))
}

// Import harvests the items of a static GeoJSON document, either a
// FeatureCollection or a single Feature, read from a file path or an http,
// https, file or s3 URI.
func (h *Harvester) Import(ctx context.Context, uri string) (*Result, error) {
	return h.run(ctx, uri, h.documentItems(ctx, uri))
}

func (h *Harvester) run(ctx context.Context, source string, items iter.Seq2[*stac.Item, error]) (*Result, error) {
	ctx, span := h.obs.Tracer().StartHarvest(ctx, source)
	defer span.End()
	logger := observability.LoggerWithTrace(ctx, h.logger).With("source", source)

	res := &Result{Source: source}
	batch := make([]*discovery.Record, 0, h.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := h.sink.Upsert(ctx, batch...)
		if err != nil {
			return fmt.Errorf("store %d harvested records: %w", len(batch), err)
		}
		res.Changed += n
		batch = batch[:0]
		return nil
	}
	fail := func(err error) (*Result, error) {
		h.obs.Tracer().RecordError(span, err)
		h.obs.Metrics().RecordError(ctx, observability.OpHarvest, "HarvestFailed")
		logger.ErrorContext(ctx, "harvest failed", "seen", res.Seen, "error", err)
		return res, err
	}

	for item, err := range items {
		if err != nil {
			if ferr := flush(); ferr != nil {
				err = errors.Join(err, ferr)
			}
			return fail(err)
		}
		res.Seen++
		rec, err := ToRecord(item)
		if err != nil {
			res.Skipped++
			logger.WarnContext(ctx, "skipping item", "error", err)
		} else {
			batch = append(batch, rec)
		}
		if len(batch) >= h.batchSize {
			if err := flush(); err != nil {
				return fail(err)
			}
		}
		if h.maxItems > 0 && res.Seen >= h.maxItems {
			break
		}
	}
	if err := flush(); err != nil {
		return fail(err)
	}

	h.obs.Metrics().RecordHarvested(ctx, source, res.Changed)
	logger.InfoContext(ctx, "harvest complete", "seen", res.Seen, "changed", res.Changed, "skipped", res.Skipped)
	return res, nil
}
