// Package moderation gates crowd submissions before they reach the display.
package moderation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/danki-amsterdam/witvis/internal/event"
	"github.com/danki-amsterdam/witvis/internal/metrics"
	"github.com/danki-amsterdam/witvis/internal/model"
	"github.com/danki-amsterdam/witvis/internal/storage"
)

// Service lists and approves submissions.
type Service struct {
	store   storage.Store
	events  event.Publisher
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New returns a moderation Service. A nil publisher becomes the noop one.
func New(store storage.Store, events event.Publisher, logger *slog.Logger) *Service {
	if events == nil {
		events = event.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		events:  events,
		now:     time.Now,
		logger:  logger,
		metrics: metrics.NewMetrics(),
	}
}

// ListPending returns materialized submissions awaiting approval, newest first.
func (s *Service) ListPending(ctx context.Context) ([]model.Submission, error) {
	subs, err := s.store.ListPending(ctx)
	s.observe("list_pending", err)
	return subs, err
}

// ListOrphans returns reserved rows whose upload never completed.
func (s *Service) ListOrphans(ctx context.Context) ([]model.Submission, error) {
	subs, err := s.store.ListOrphans(ctx, s.now().UTC())
	s.observe("list_orphans", err)
	return subs, err
}

// Approve publishes a materialized submission. Approving twice is a no-op
// success. Errors match storage.ErrNotFound or storage.ErrNotMaterialized.
func (s *Service) Approve(ctx context.Context, id int64) (model.Submission, error) {
	sub, err := s.store.Approve(ctx, id)
	s.observe("approve", err)
	if err != nil {
		return model.Submission{}, err
	}

	if err := s.events.PublishSubmissionApproved(ctx, sub); err != nil {
		s.logger.Warn("publish approved event failed", "id", id, "error", err)
	}
	s.logger.Info("submission approved", "id", id, "username", sub.Username)
	return sub, nil
}

func (s *Service) observe(action string, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, storage.ErrNotMaterialized):
		outcome = "not_materialized"
	default:
		outcome = "error"
	}
	s.metrics.ModerationTotal.WithLabelValues(action, outcome).Inc()
}
