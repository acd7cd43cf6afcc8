// internal/event/nats.go
// Package event publishes submission lifecycle events to NATS JetStream.
// Downstream consumers (thumbnailing, notifications, audit) subscribe to witvis.submissions.*.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/danki-amsterdam/witvis/internal/metrics"
	"github.com/danki-amsterdam/witvis/internal/model"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Event subjects
const (
	StreamName           = "WITVIS_SUBMISSIONS"
	SubjectMaterialized  = "witvis.submissions.materialized"
	SubjectApproved      = "witvis.submissions.approved"
	envelopeVersion      = "1.0.0"
	duplicateWindow      = 2 * time.Minute
	streamRetentionLimit = 7 * 24 * time.Hour
)

// Publisher defines the submission events emitted by intake and moderation.
type Publisher interface {
	PublishSubmissionMaterialized(ctx context.Context, sub model.Submission) error
	PublishSubmissionApproved(ctx context.Context, sub model.Submission) error
	Close() error
}

// noop is used when NATS is not configured.
type noop struct{}

// NewNoop returns a Publisher that drops every event.
func NewNoop() Publisher { return noop{} }

func (noop) Close() error { return nil }

func (noop) PublishSubmissionMaterialized(ctx context.Context, sub model.Submission) error {
	return nil
}

func (noop) PublishSubmissionApproved(ctx context.Context, sub model.Submission) error {
	return nil
}

// natsPub is the NATS JetStream implementation of Publisher.
type natsPub struct {
	nc      *nats.Conn            // NATS connection
	js      nats.JetStreamContext // JetStream context for stream operations
	metrics *metrics.Metrics
}

// NewPublisher connects to the NATS server at url.
// An empty url, a failed connection or a failed stream setup all yield the
// noop publisher so the service keeps running without event streaming.
func NewPublisher(url string) Publisher {
	if url == "" {
		return noop{}
	}

	nc, err := nats.Connect(url, nats.Name("witvisd"))
	if err != nil {
		slog.Warn("NATS connect failed, using noop publisher", "error", err)
		return noop{}
	}

	js, err := nc.JetStream()
	if err != nil {
		slog.Warn("NATS JetStream context creation failed, using noop publisher", "error", err)
		nc.Close()
		return noop{}
	}

	if err := initStream(js); err != nil {
		slog.Warn("NATS stream initialization failed, using noop publisher", "error", err)
		nc.Close()
		return noop{}
	}

	return &natsPub{nc: nc, js: js, metrics: metrics.NewMetrics()}
}

// initStream creates the WITVIS_SUBMISSIONS stream when it does not exist yet.
func initStream(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{"witvis.submissions.*"},
		Retention:  nats.LimitsPolicy,
		MaxAge:     streamRetentionLimit,
		Discard:    nats.DiscardOld,
		Storage:    nats.FileStorage,
		Duplicates: duplicateWindow, // JetStream drops repeats of the same Nats-Msg-Id inside this window
	})
	if err != nil {
		return fmt.Errorf("failed to create %s stream: %w", StreamName, err)
	}
	return nil
}

// Envelope is the standard wrapper of every published event.
type Envelope struct {
	Type          string                    `json:"type"`
	Version       string                    `json:"version"`
	OccurredAt    time.Time                 `json:"occurredAt"`
	CorrelationID string                    `json:"correlationId"`
	Payload       model.PublishedSubmission `json:"payload"`
}

// NewEnvelope wraps sub for subject.
func NewEnvelope(subject string, sub model.Submission) Envelope {
	return Envelope{
		Type:          subject,
		Version:       envelopeVersion,
		OccurredAt:    time.Now().UTC(),
		CorrelationID: uuid.New().String(),
		Payload:       sub.Public(),
	}
}

// Close closes the NATS connection.
func (p *natsPub) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

func (p *natsPub) PublishSubmissionMaterialized(ctx context.Context, sub model.Submission) error {
	return p.publish(ctx, SubjectMaterialized, sub)
}

func (p *natsPub) PublishSubmissionApproved(ctx context.Context, sub model.Submission) error {
	return p.publish(ctx, SubjectApproved, sub)
}

func (p *natsPub) publish(ctx context.Context, subject string, sub model.Submission) error {
	start := time.Now()
	status := "success"
	defer func() {
		p.metrics.EventPublishTotal.WithLabelValues(subject, status).Inc()
		p.metrics.EventPublishDuration.WithLabelValues(subject, status).Observe(time.Since(start).Seconds())
	}()

	b, err := json.Marshal(NewEnvelope(subject, sub))
	if err != nil {
		status = "error"
		return err
	}

	// The message id makes retried publishes of the same transition idempotent.
	msgID := fmt.Sprintf("%s.%d", subject, sub.ID)
	if _, err := p.js.Publish(subject, b, nats.MsgId(msgID), nats.Context(ctx)); err != nil {
		status = "error"
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
