package event

import (
	"context"
	"sync"

	"github.com/danki-amsterdam/witvis/internal/model"
)

// Recorder is an in-process Publisher that keeps every envelope it is given.
// Handy in development and tests where no NATS server runs.
type Recorder struct {
	mu     sync.Mutex
	events []Envelope
}

func (r *Recorder) PublishSubmissionMaterialized(ctx context.Context, sub model.Submission) error {
	r.record(SubjectMaterialized, sub)
	return nil
}

func (r *Recorder) PublishSubmissionApproved(ctx context.Context, sub model.Submission) error {
	r.record(SubjectApproved, sub)
	return nil
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) record(subject string, sub model.Submission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, NewEnvelope(subject, sub))
}

// Events returns a copy of the recorded envelopes in publish order.
func (r *Recorder) Events() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, len(r.events))
	copy(out, r.events)
	return out
}
