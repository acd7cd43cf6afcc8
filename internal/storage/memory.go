// internal/storage/memory.go
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/danki-amsterdam/witvis/internal/model"
)

// memory implements the Store interface using in-memory storage.
// It's intended for development and testing purposes.
type memory struct {
	mu         sync.RWMutex                // Protects concurrent access to maps
	nextID     int64                       // Last assigned submission id
	rows       map[int64]*model.Submission // Map of id to submission
	byChecksum map[string]int64            // Unique checksum index
	now        func() time.Time
}

// NewMemory creates a new in-memory storage implementation.
// Returns a Store interface that can be used for testing or development.
func NewMemory() Store {
	return &memory{
		rows:       make(map[int64]*model.Submission),
		byChecksum: make(map[string]int64),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// clone copies a row so callers never share pointers with the map.
func clone(s *model.Submission) model.Submission {
	out := *s
	if s.ImageURL != nil {
		u := *s.ImageURL
		out.ImageURL = &u
	}
	if s.LeaseUntil != nil {
		l := *s.LeaseUntil
		out.LeaseUntil = &l
	}
	return out
}

func (m *memory) FindByChecksum(ctx context.Context, checksum string) (*model.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, exists := m.byChecksum[checksum]
	if !exists {
		return nil, ErrNotFound
	}
	sub := clone(m.rows[id])
	return &sub, nil
}

func (m *memory) ReserveSubmission(ctx context.Context, sub model.Submission) (model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byChecksum[sub.Checksum]; exists {
		return model.Submission{}, ErrConflict
	}

	m.nextID++
	sub.ID = m.nextID
	sub.ImageURL = nil
	sub.Approved = false
	sub.UploadedAt = m.now()
	row := clone(&sub)
	m.rows[sub.ID] = &row
	m.byChecksum[sub.Checksum] = sub.ID
	return clone(&row), nil
}

func (m *memory) ReclaimReservation(ctx context.Context, id int64, now time.Time, claim model.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, exists := m.rows[id]
	if !exists {
		return ErrNotFound
	}
	if !row.Orphaned(now) {
		return ErrConflict
	}
	row.Email = claim.Email
	row.Tags = claim.Tags
	row.LeaseToken = claim.LeaseToken
	row.LeaseUntil = nil
	if claim.LeaseUntil != nil {
		l := *claim.LeaseUntil
		row.LeaseUntil = &l
	}
	return nil
}

func (m *memory) ReleaseReservation(ctx context.Context, id int64, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, exists := m.rows[id]
	if !exists {
		return ErrNotFound
	}
	if !row.Materialized() && row.LeaseToken == token {
		row.LeaseUntil = nil
	}
	return nil
}

func (m *memory) SetImageURL(ctx context.Context, id int64, token, imageURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, exists := m.rows[id]
	if !exists {
		return ErrNotFound
	}
	if row.Materialized() || row.LeaseToken != token {
		return ErrConflict
	}
	u := imageURL
	row.ImageURL = &u
	row.LeaseUntil = nil
	return nil
}

func (m *memory) GetSubmission(ctx context.Context, id int64) (*model.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, exists := m.rows[id]
	if !exists {
		return nil, ErrNotFound
	}
	sub := clone(row)
	return &sub, nil
}

// collect returns matching rows ordered by id descending.
func (m *memory) collect(keep func(*model.Submission) bool) []model.Submission {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Submission, 0)
	for _, row := range m.rows {
		if keep(row) {
			out = append(out, clone(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (m *memory) ListPublished(ctx context.Context, query model.PublishedQuery) ([]model.Submission, error) {
	out := m.collect(func(s *model.Submission) bool { return matchesPublished(s, query) })
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (m *memory) ListPending(ctx context.Context) ([]model.Submission, error) {
	return m.collect(func(s *model.Submission) bool { return s.Materialized() && !s.Approved }), nil
}

func (m *memory) ListOrphans(ctx context.Context, now time.Time) ([]model.Submission, error) {
	return m.collect(func(s *model.Submission) bool { return s.Orphaned(now) }), nil
}

func (m *memory) Approve(ctx context.Context, id int64) (model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, exists := m.rows[id]
	if !exists {
		return model.Submission{}, ErrNotFound
	}
	if !row.Materialized() {
		return model.Submission{}, ErrNotMaterialized
	}
	row.Approved = true
	return clone(row), nil
}

func (m *memory) Ping(ctx context.Context) error {
	return nil
}
