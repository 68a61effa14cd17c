package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"chartermap/internal/brand"
	"chartermap/internal/collect"
	"chartermap/internal/components/assert"
	"chartermap/internal/components/chrono"
	"chartermap/internal/components/telemetry"
	"chartermap/internal/geojson"
	"chartermap/internal/pool"
	"chartermap/internal/stores"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	report_source_failed = "source.failed"
	report_source_hints  = "source.hints"
	report_need_detail   = "resolve.needed"
	report_resolved      = "resolve.resolved"
	report_unresolved    = "resolve.unresolved"
	report_near_miss     = "brand.near-miss"
	report_no_geometry   = "build.no-geometry"
	report_accepted      = "build.accepted"
)

var tracer = otel.Tracer("chartermap/pipeline")
var meter = otel.Meter("chartermap/pipeline")

var (
	seenCounter, _ = meter.Int64Counter(
		"chartermap.ids_seen",
		metric.WithDescription("distinct store ids discovered by a run"),
	)
	resolvedCounter, _ = meter.Int64Counter(
		"chartermap.resolved",
		metric.WithDescription("ids whose details were fetched"),
	)
	acceptedCounter, _ = meter.Int64Counter(
		"chartermap.accepted",
		metric.WithDescription("features written to the artifact"),
	)
)

// ErrNoSources is returned when every source failed, there is nothing
// to build an artifact from.
var ErrNoSources = errors.New("every source failed")

// Source discovers hints, emit is safe to call from any goroutine.
type Source interface {
	Name() string
	Discover(ctx context.Context, emit func(collect.Hint)) error
}

// Resolver fetches the details of a single id.
type Resolver func(ctx context.Context, id string) (collect.Detail, error)

type Options struct {
	Sources  []Source
	Resolver Resolver
	Cache    *stores.Cache
	Matcher  brand.Matcher
	Writer   geojson.Writer
	Pool     pool.Options
	// Deadline bounds the resolution stage, ids not resolved in time keep
	// their previous cache entry. 0 means no deadline.
	Deadline time.Duration
	// SourceLabel is written to the artifact metadata.
	SourceLabel string
	// RunID tags every report of the run, a new one is generated when
	// empty.
	RunID string
	Time  chrono.TimeAPI
	Tel   telemetry.API
}

type Summary struct {
	RunID      string
	Seen       int
	Resolved   int
	Unresolved int
	Accepted   int
	Written    bool
}

type Pipeline struct {
	opts Options
}

func New(opts Options) Pipeline {
	assert.Positive(len(opts.Sources), "sources")
	if opts.Resolver == nil || opts.Cache == nil {
		panic("expected resolver and cache to be not nil")
	}
	assert.NotNil(opts.Time, "time")
	assert.NotNil(opts.Tel, "tel")
	assert.NotEmptyStr(opts.Matcher.Label(), "matcher")
	assert.NotEmptyStr(opts.Writer.Path(), "writer")
	if opts.Pool.Concurrency <= 0 {
		opts.Pool = pool.DefaultOptions()
	}
	return Pipeline{opts: opts}
}

// run holds the state of one Run, nothing is shared between runs.
type run struct {
	Options
	id        string
	tel       telemetry.API
	collector *collect.Collector
	summary   Summary
}

func (p Pipeline) Run(ctx context.Context) (Summary, error) {
	r := &run{
		Options:   p.opts,
		id:        p.opts.RunID,
		collector: collect.NewCollector(),
	}
	if r.id == "" {
		r.id = uuid.NewString()
	}
	r.tel = telemetry.NewScopedAPI("pipeline", p.opts.Tel)
	r.summary.RunID = r.id

	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", r.id),
	))
	defer span.End()

	err := r.discover(ctx)
	if err != nil {
		return r.summary, err
	}

	r.Cache.Load(ctx)
	aggregates := r.collector.Aggregates()
	r.summary.Seen = len(aggregates)
	seenCounter.Add(ctx, int64(len(aggregates)))

	r.resolve(ctx, aggregates)

	// lookups that finished before a cancellation are still persisted.
	// failures are reported by the cache, the artifact is still built
	// from what is in memory
	_ = r.Cache.Save(context.WithoutCancel(ctx))

	fc := r.build(ctx, aggregates)
	written, err := r.Writer.Write(ctx, fc)
	if err != nil {
		return r.summary, fmt.Errorf("write %s: %w", r.Writer.Path(), err)
	}
	r.summary.Written = written
	return r.summary, nil
}

func (r *run) discover(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "pipeline.discover")
	defer span.End()

	var failed atomic.Int64
	var group errgroup.Group
	for _, source := range r.Sources {
		source := source
		group.Go(func() error {
			var hints atomic.Int64
			err := source.Discover(ctx, func(hint collect.Hint) {
				hints.Add(1)
				r.collector.Add(hint)
			})
			if err != nil {
				failed.Add(1)
				r.tel.ReportWarning(report_source_failed, err, source.Name())
				return nil
			}
			r.tel.ReportDebug(report_source_hints, source.Name(), hints.Load())
			return nil
		})
	}
	// sources never return errors to the group, a failed source is skipped
	_ = group.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if int(failed.Load()) == len(r.Sources) {
		return fmt.Errorf("%w (%d source(s))", ErrNoSources, len(r.Sources))
	}
	return nil
}

// needsDetail decides whether the cached entry for agg can be reused. An
// entry that never had an icon is re-fetched unless the hints already
// identify the brand.
func (r *run) needsDetail(agg collect.Aggregate) bool {
	entry, found := r.Cache.Get(agg.ID)
	if !found || r.Cache.IsStale(entry, r.Matcher.Classify) {
		return true
	}
	return !collect.Hinted(agg, r.Matcher.Accept) && entry.Icon == ""
}

func (r *run) resolve(ctx context.Context, aggregates []collect.Aggregate) {
	ctx, span := tracer.Start(ctx, "pipeline.resolve")
	defer span.End()

	var need []string
	hintGeometry := map[string]*geojson.Geometry{}
	for _, agg := range aggregates {
		if r.needsDetail(agg) {
			need = append(need, agg.ID)
			hintGeometry[agg.ID] = agg.Geometry
		}
	}
	r.tel.ReportCount(report_need_detail, int64(len(need)))
	span.SetAttributes(attribute.Int("ids.needed", len(need)))
	if len(need) == 0 {
		return
	}

	if r.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Deadline)
		defer cancel()
	}

	result := pool.Run(ctx, need, func(ctx context.Context, id string) (string, bool, error) {
		detail, err := r.Resolver(ctx, id)
		if err != nil {
			return "", false, err
		}
		if detail.Geometry == nil {
			detail.Geometry = hintGeometry[id]
		}
		r.Cache.Put(id, detail.Entry())
		return id, true, nil
	}, r.Pool, r.tel)

	r.summary.Resolved = len(result.Values)
	r.summary.Unresolved = len(need) - len(result.Values)
	resolvedCounter.Add(ctx, int64(r.summary.Resolved))
	r.tel.ReportCount(report_resolved, int64(r.summary.Resolved))
	if r.summary.Unresolved > 0 {
		r.tel.ReportCount(report_unresolved, int64(r.summary.Unresolved))
	}
}

func (r *run) build(ctx context.Context, aggregates []collect.Aggregate) geojson.FeatureCollection {
	_, span := tracer.Start(ctx, "pipeline.build")
	defer span.End()

	var features []geojson.Feature
	for _, agg := range aggregates {
		entry, found := r.Cache.Get(agg.ID)
		record := collect.Resolve(agg, entry, found)

		if !r.Matcher.Accept(record.IconText, record.FreeText) {
			if token, ok := r.Matcher.NearMiss(record.IconText); ok {
				r.tel.ReportWarning(report_near_miss, record.ID, token)
			}
			continue
		}
		if !record.Geometry.Valid() {
			r.tel.ReportDebug(report_no_geometry, record.ID)
			continue
		}

		features = append(features, geojson.NewFeature(record.Geometry, geojson.Properties{
			ID:      record.ID,
			Name:    record.Name,
			Address: record.Address,
			Brand:   r.Matcher.Label(),
			Icon:    record.Icon,
		}))
	}

	r.summary.Accepted = len(features)
	acceptedCounter.Add(ctx, int64(len(features)))
	r.tel.ReportCount(report_accepted, int64(len(features)))

	return geojson.NewFeatureCollection(features, &geojson.Metadata{
		Source:      r.SourceLabel,
		IDs:         len(aggregates),
		Accepted:    len(features),
		GeneratedAt: r.Time.Now(),
	})
}
