// Package intake accepts crowd photo submissions.
//
// A submission is validated and fingerprinted, rejected when the fingerprint
// is already taken, then persisted in two phases: a reserved row is inserted
// first (claiming the checksum), the image is uploaded, and the row is
// patched with its public URL. A row whose upload never completed is an
// orphan; it stays out of every public listing and may be reclaimed by a
// later identical submission once its lease has lapsed.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/danki-amsterdam/witvis/internal/event"
	"github.com/danki-amsterdam/witvis/internal/media"
	"github.com/danki-amsterdam/witvis/internal/metrics"
	"github.com/danki-amsterdam/witvis/internal/model"
	"github.com/danki-amsterdam/witvis/internal/storage"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicate means the fingerprint is already taken or its upload is in flight.
	ErrDuplicate = errors.New("already submitted")
	// ErrUpload wraps blob or store failures after validation passed.
	ErrUpload = errors.New("upload failed")
)

// ValidationError carries the client-facing reason of a rejected submission.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// DefaultPrefix is the folder uploads are stored under.
const DefaultPrefix = "hitvis/uploads"

// Result is what a successful submission returns.
type Result struct {
	ID       int64
	ImageURL string
}

// Options configures a Service.
type Options struct {
	Store          storage.Store
	Blobs          media.BlobStore
	Events         event.Publisher  // Defaults to the noop publisher
	Prefix         string           // Blob key prefix, defaults to DefaultPrefix
	ReservationTTL time.Duration    // Lease on a reserved row, default 2m
	Now            func() time.Time // Clock, defaults to time.Now
	Logger         *slog.Logger
}

// Service runs the submission workflow. It holds no per-request state.
type Service struct {
	store   storage.Store
	blobs   media.BlobStore
	events  event.Publisher
	prefix  string
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// New builds a Service from opts.
func New(opts Options) *Service {
	s := &Service{
		store:   opts.Store,
		blobs:   opts.Blobs,
		events:  opts.Events,
		prefix:  opts.Prefix,
		ttl:     opts.ReservationTTL,
		now:     opts.Now,
		logger:  opts.Logger,
		metrics: metrics.NewMetrics(),
		tracer:  otel.Tracer("witvis/intake"),
	}
	if s.events == nil {
		s.events = event.NewNoop()
	}
	if s.prefix == "" {
		s.prefix = DefaultPrefix
	}
	if s.ttl <= 0 {
		s.ttl = 2 * time.Minute
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Submit validates, de-duplicates and stores one submission.
// Errors match ErrValidation, ErrDuplicate or ErrUpload.
func (s *Service) Submit(ctx context.Context, raw model.RawSubmission) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "intake.Submit")
	defer span.End()

	res, outcome, err := s.submit(ctx, raw)
	s.metrics.IntakeTotal.WithLabelValues(outcome).Inc()
	span.SetAttributes(attribute.String("witvis.outcome", outcome))
	if err != nil && outcome == "upload_failed" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (s *Service) submit(ctx context.Context, raw model.RawSubmission) (Result, string, error) {
	n, err := Normalize(raw)
	if err != nil {
		return Result{}, "validation", err
	}

	sub, outcome, err := s.claim(ctx, n)
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return Result{}, "duplicate", err
		}
		s.logger.Error("reserve submission failed", "checksum", n.Checksum, "error", err)
		return Result{}, "upload_failed", fmt.Errorf("%w: %w", ErrUpload, err)
	}

	key := s.objectKey(n)
	url, err := s.blobs.Put(ctx, media.Object{Key: key, Body: n.Payload, ContentType: n.ContentType, Tags: n.Tags})
	if err != nil {
		s.logger.Error("blob upload failed", "id", sub.ID, "key", key, "error", err)
		s.release(ctx, sub.ID, sub.LeaseToken)
		return Result{}, "upload_failed", fmt.Errorf("%w: %w", ErrUpload, err)
	}

	if err := s.store.SetImageURL(ctx, sub.ID, sub.LeaseToken, url); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// The lease lapsed and an identical submission took the row over.
			s.logger.Warn("reservation lost during upload", "id", sub.ID, "key", key)
			s.discard(ctx, key)
			return Result{}, "duplicate", ErrDuplicate
		}
		// The row stays an orphan; its lease expires and moderation can see it.
		s.logger.Error("patch image url failed", "id", sub.ID, "key", key, "error", err)
		return Result{}, "upload_failed", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	sub.ImageURL = &url
	sub.LeaseUntil = nil
	sub.LeaseToken = ""

	if err := s.events.PublishSubmissionMaterialized(ctx, sub); err != nil {
		s.logger.Warn("publish materialized event failed", "id", sub.ID, "error", err)
	}

	s.logger.Info("submission stored", "id", sub.ID, "username", sub.Username, "key", key, "reclaimed", outcome == "reclaimed")
	return Result{ID: sub.ID, ImageURL: url}, outcome, nil
}

// claim reserves the checksum, or takes over an orphan carrying it.
func (s *Service) claim(ctx context.Context, n Normalized) (model.Submission, string, error) {
	now := s.now().UTC()
	lease := now.Add(s.ttl)
	token := ulid.Make().String()

	existing, err := s.store.FindByChecksum(ctx, n.Checksum)
	switch {
	case err == nil:
		if !existing.Orphaned(now) {
			return model.Submission{}, "", ErrDuplicate
		}
		claim := model.Submission{Email: n.Email, Tags: n.DisplayTags(), LeaseUntil: &lease, LeaseToken: token}
		if err := s.store.ReclaimReservation(ctx, existing.ID, now, claim); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return model.Submission{}, "", ErrDuplicate
			}
			return model.Submission{}, "", err
		}
		existing.Email = claim.Email
		existing.Tags = claim.Tags
		existing.LeaseUntil = &lease
		existing.LeaseToken = token
		return *existing, "reclaimed", nil
	case !errors.Is(err, storage.ErrNotFound):
		return model.Submission{}, "", err
	}

	sub, err := s.store.ReserveSubmission(ctx, model.Submission{
		Username:   n.Username,
		Email:      n.Email,
		Tags:       n.DisplayTags(),
		Location:   n.Location,
		FileName:   n.FileName,
		Checksum:   n.Checksum,
		LeaseUntil: &lease,
		LeaseToken: token,
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return model.Submission{}, "", ErrDuplicate
		}
		return model.Submission{}, "", err
	}
	return sub, "success", nil
}

// release drops the lease after a failed upload so the next identical
// submission can reclaim the row right away.
func (s *Service) release(ctx context.Context, id int64, token string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.ReleaseReservation(ctx, id, token); err != nil {
		s.logger.Warn("release reservation failed", "id", id, "error", err)
	}
}

// discard deletes a blob no row will reference.
func (s *Service) discard(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.logger.Error("delete unreferenced blob failed", "key", key, "error", err)
	}
}

func (s *Service) objectKey(n Normalized) string {
	return path.Join(s.prefix, n.Username, ulid.Make().String()+"_"+path.Base(n.FileName))
}
