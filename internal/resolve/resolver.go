// Package resolve turns a (theme, location) query into a displayable image
// sequence by walking an ordered chain of sources and stopping at the first
// one that returns a non-empty result.
package resolve

import (
	"context"
	"log/slog"

	"github.com/danki-amsterdam/witvis/internal/metrics"
	"github.com/danki-amsterdam/witvis/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PageSize is how many images are requested from each tier.
const PageSize = 10

// Tier outcomes recorded in witvis_resolve_tier_total.
const (
	outcomeHit   = "hit"
	outcomeEmpty = "empty"
	outcomeError = "error"
)

// Source is one tier of the chain.
type Source interface {
	Name() string
	Search(ctx context.Context, q model.Query, limit int) ([]model.ImageResult, error)
}

// Resolver tries each source once, in order, without retries or merging.
type Resolver struct {
	tiers   []Source
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// New builds a resolver over tiers. A nil logger uses slog.Default().
func New(logger *slog.Logger, tiers ...Source) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		tiers:   tiers,
		logger:  logger,
		metrics: metrics.NewMetrics(),
		tracer:  otel.Tracer("witvis/resolve"),
	}
}

// Tiers returns the names of the configured tiers in order.
func (r *Resolver) Tiers() []string {
	names := make([]string, len(r.tiers))
	for i, t := range r.tiers {
		names[i] = t.Name()
	}
	return names
}

// Resolve returns the first non-empty tier result, or an empty sequence when
// every tier fails or comes back empty. Tier errors are logged, never returned.
// A cancelled ctx stops the walk and yields the empty sequence.
func (r *Resolver) Resolve(ctx context.Context, q model.Query) []model.ImageResult {
	ctx, span := r.tracer.Start(ctx, "resolve.Resolve", trace.WithAttributes(
		attribute.String("witvis.theme", q.Theme),
		attribute.String("witvis.location", q.Location),
	))
	defer span.End()

	for _, tier := range r.tiers {
		if ctx.Err() != nil {
			span.SetAttributes(attribute.Bool("witvis.cancelled", true))
			return []model.ImageResult{}
		}

		images := r.try(ctx, tier, q)
		if len(images) > 0 {
			span.SetAttributes(attribute.String("witvis.tier", tier.Name()), attribute.Int("witvis.images", len(images)))
			return images
		}
	}

	if ctx.Err() != nil {
		return []model.ImageResult{}
	}
	r.logger.Info("no images resolved", "theme", q.Theme, "location", q.Location)
	return []model.ImageResult{}
}

// try runs a single tier and drops entries without a URL.
func (r *Resolver) try(ctx context.Context, tier Source, q model.Query) []model.ImageResult {
	ctx, span := r.tracer.Start(ctx, "resolve.tier", trace.WithAttributes(attribute.String("witvis.tier", tier.Name())))
	defer span.End()

	results, err := tier.Search(ctx, q, PageSize)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("tier failed", "tier", tier.Name(), "theme", q.Theme, "location", q.Location, "error", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.ResolveTierTotal.WithLabelValues(tier.Name(), outcomeError).Inc()
		return nil
	}

	images := make([]model.ImageResult, 0, len(results))
	for _, img := range results {
		if img.URL != "" {
			images = append(images, img)
		}
	}
	if len(images) == 0 {
		r.metrics.ResolveTierTotal.WithLabelValues(tier.Name(), outcomeEmpty).Inc()
		return nil
	}
	r.metrics.ResolveTierTotal.WithLabelValues(tier.Name(), outcomeHit).Inc()
	return images
}
