// Package storage provides implementations of the Store interface
// for in-memory, PostgreSQL and SQLite storage backends.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/danki-amsterdam/witvis/internal/model"
)

// Standard errors returned by the storage layer
var (
	ErrNotFound        = errors.New("not found")        // Returned when a submission is not found
	ErrConflict        = errors.New("conflict")         // Returned when the checksum already exists or a lease is held
	ErrNotMaterialized = errors.New("not materialized") // Returned when approving a row without an image
)

// Store defines the persistence operations of the submission lifecycle.
//
// A row moves through reserved (no image, live lease), materialized (image
// patched in) and published (materialized and approved). A reserved row whose
// lease has expired or been released is an orphan and may be reclaimed.
type Store interface {
	// FindByChecksum looks a submission up by its metadata fingerprint.
	FindByChecksum(ctx context.Context, checksum string) (*model.Submission, error)
	// ReserveSubmission inserts the phase 1 row. Returns ErrConflict when the checksum exists.
	ReserveSubmission(ctx context.Context, sub model.Submission) (model.Submission, error)
	// ReclaimReservation takes over an orphan, replacing its email, display
	// tags, lease and lease token with those of claim.
	// Returns ErrConflict when the row is no longer an orphan at now.
	ReclaimReservation(ctx context.Context, id int64, now time.Time, claim model.Submission) error
	// ReleaseReservation drops the lease of a row whose upload failed, if
	// token still holds it.
	ReleaseReservation(ctx context.Context, id int64, token string) error
	// SetImageURL patches the public URL in and clears the lease. It only
	// applies while token holds the reservation and no image is set;
	// otherwise it returns ErrConflict.
	SetImageURL(ctx context.Context, id int64, token, imageURL string) error

	GetSubmission(ctx context.Context, id int64) (*model.Submission, error)
	// ListPublished returns approved, materialized rows, newest first.
	ListPublished(ctx context.Context, query model.PublishedQuery) ([]model.Submission, error)
	// ListPending returns materialized rows awaiting approval, newest first.
	ListPending(ctx context.Context) ([]model.Submission, error)
	// ListOrphans returns rows without an image and without a live lease at now.
	ListOrphans(ctx context.Context, now time.Time) ([]model.Submission, error)

	// Approve publishes a materialized row. Returns ErrNotFound or ErrNotMaterialized.
	Approve(ctx context.Context, id int64) (model.Submission, error)

	Ping(ctx context.Context) error
}

// Close releases backend resources when the store holds any.
func Close(s Store) error {
	if c, ok := s.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// matchesPublished applies the case-insensitive substring filter of the local tier.
func matchesPublished(sub *model.Submission, q model.PublishedQuery) bool {
	if !sub.Published() {
		return false
	}
	if q.Theme != "" && !strings.Contains(strings.ToLower(sub.Tags), strings.ToLower(q.Theme)) {
		return false
	}
	if q.Location != "" && !strings.Contains(strings.ToLower(sub.Location), strings.ToLower(q.Location)) {
		return false
	}
	return true
}

// likePattern escapes LIKE metacharacters and wraps the term for substring search.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(term)) + "%"
}
