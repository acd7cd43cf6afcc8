// internal/model/submission.go
// Package model defines the data structures used throughout the WITVIS service.
// These structures represent crowd submissions, resolved images and the
// request/response bodies of the HTTP surface.
package model

import (
	"time"
)

// DefaultUsername is assigned when a submission carries no usable username.
const DefaultUsername = "anonymous"

// Submission represents a user-contributed photo candidate.
// A row is reserved (no ImageURL) as soon as de-duplication passes, becomes
// materialized once ImageURL is patched in, and published once Approved.
// This corresponds to the submissions table in storage.
type Submission struct {
	ID         int64      `json:"id" db:"id"`                           // Store-assigned identifier
	Username   string     `json:"username" db:"username"`               // Normalized username ([a-z0-9_-])
	Email      string     `json:"email" db:"email"`                     // Contact address, presence-checked only
	Tags       string     `json:"tags" db:"tags"`                       // Normalized tags, comma-joined in display order
	Location   string     `json:"location" db:"location"`               // Trimmed, lowercased location
	FileName   string     `json:"fileName" db:"file_name"`              // Trimmed, lowercased original file name
	Checksum   string     `json:"checksum" db:"checksum"`               // Metadata fingerprint (unique)
	ImageURL   *string    `json:"imageUrl" db:"image_url"`              // Public URL, nil until the upload completes
	Approved   bool       `json:"approved" db:"approved"`               // Set only by moderation
	UploadedAt time.Time  `json:"uploadedAt" db:"uploaded_at"`          // Set by the store on creation
	LeaseUntil *time.Time `json:"leaseUntil,omitempty" db:"lease_until"` // Reservation lease while the upload is in flight
	LeaseToken string     `json:"-" db:"lease_token"`                    // Identifies the current holder of the reservation
}

// Materialized reports whether the binary upload completed for this row.
func (s Submission) Materialized() bool {
	return s.ImageURL != nil && *s.ImageURL != ""
}

// Published reports whether the row is visible to end users.
func (s Submission) Published() bool {
	return s.Approved && s.Materialized()
}

// Orphaned reports whether the row lost its upload: no image and no live lease.
func (s Submission) Orphaned(now time.Time) bool {
	if s.Materialized() {
		return false
	}
	return s.LeaseUntil == nil || !s.LeaseUntil.After(now)
}

// RawSubmission is the inbound body of POST /upload.
type RawSubmission struct {
	FileBase64 string `json:"fileBase64"` // Base64 payload, optionally a data: URL
	FileName   string `json:"fileName"`   // Original file name
	Username   string `json:"username"`   // Optional, defaults to "anonymous"
	Tags       string `json:"tags"`       // Comma-separated tags
	Location   string `json:"location"`   // Optional location
	Email      string `json:"email"`      // Contact address
}

// UploadResponse is the success body of POST /upload.
type UploadResponse struct {
	Success  bool   `json:"success"`
	ImageURL string `json:"imageUrl"`
}

// PublishedQuery filters the published submissions used by the local tier.
// Theme and Location are matched as case-insensitive substrings of the
// stored tags and location. Empty values match everything.
type PublishedQuery struct {
	Theme    string
	Location string
	Limit    int
}

// PublishedSubmission is the public view of a row, served by GET /submissions
// and carried by submission events. Contact details and the fingerprint stay
// server side.
type PublishedSubmission struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	Tags       string    `json:"tags"`
	Location   string    `json:"location"`
	ImageURL   string    `json:"imageUrl"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Public returns the public view of s.
func (s Submission) Public() PublishedSubmission {
	p := PublishedSubmission{
		ID:         s.ID,
		Username:   s.Username,
		Tags:       s.Tags,
		Location:   s.Location,
		UploadedAt: s.UploadedAt,
	}
	if s.ImageURL != nil {
		p.ImageURL = *s.ImageURL
	}
	return p
}
