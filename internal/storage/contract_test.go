package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danki-amsterdam/witvis/internal/model"
)

// runStoreContract exercises the behavior every Store backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	ctx := context.Background()
	lease := func(d time.Duration) *time.Time {
		l := time.Now().UTC().Add(d)
		return &l
	}
	reserve := func(t *testing.T, s Store, checksum, tags, location string) model.Submission {
		t.Helper()
		sub, err := s.ReserveSubmission(ctx, model.Submission{
			Username:   "alice",
			Email:      "alice@example.com",
			Tags:       tags,
			Location:   location,
			FileName:   "a.jpg",
			Checksum:   checksum,
			LeaseUntil: lease(time.Minute),
			LeaseToken: "tok-" + checksum,
		})
		if err != nil {
			t.Fatalf("ReserveSubmission(%s) error = %v", checksum, err)
		}
		return sub
	}
	materialize := func(t *testing.T, s Store, sub model.Submission, url string) {
		t.Helper()
		if err := s.SetImageURL(ctx, sub.ID, sub.LeaseToken, url); err != nil {
			t.Fatalf("SetImageURL(%d) error = %v", sub.ID, err)
		}
	}
	publish := func(t *testing.T, s Store, sub model.Submission, url string) {
		t.Helper()
		materialize(t, s, sub, url)
		if _, err := s.Approve(ctx, sub.ID); err != nil {
			t.Fatalf("Approve(%d) error = %v", sub.ID, err)
		}
	}
	claim := func(token string, until time.Time) model.Submission {
		return model.Submission{Email: token + "@example.com", Tags: "street,sky", LeaseUntil: &until, LeaseToken: token}
	}

	t.Run("ReserveAssignsIDAndRejectsDuplicateChecksum", func(t *testing.T) {
		s := newStore(t)
		sub := reserve(t, s, "c1", "sky", "tokyo")
		if sub.ID == 0 {
			t.Errorf("ReserveSubmission ID = 0, want assigned id")
		}
		if sub.Materialized() || sub.Approved {
			t.Errorf("reserved row = %+v, want unmaterialized and unapproved", sub)
		}
		if sub.UploadedAt.IsZero() {
			t.Errorf("UploadedAt not set")
		}
		_, err := s.ReserveSubmission(ctx, model.Submission{Username: "bob", Email: "b@example.com", Tags: "x", FileName: "b.jpg", Checksum: "c1"})
		if !errors.Is(err, ErrConflict) {
			t.Errorf("duplicate ReserveSubmission error = %v, want ErrConflict", err)
		}
	})

	t.Run("FindByChecksum", func(t *testing.T) {
		s := newStore(t)
		sub := reserve(t, s, "c1", "sky", "tokyo")
		got, err := s.FindByChecksum(ctx, "c1")
		if err != nil {
			t.Fatalf("FindByChecksum error = %v", err)
		}
		if got.ID != sub.ID || got.Tags != "sky" {
			t.Errorf("FindByChecksum = %+v, want id %d", got, sub.ID)
		}
		if _, err := s.FindByChecksum(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("FindByChecksum(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("SetImageURLClearsLease", func(t *testing.T) {
		s := newStore(t)
		sub := reserve(t, s, "c1", "sky", "tokyo")
		materialize(t, s, sub, "https://cdn/a.jpg")
		got, err := s.GetSubmission(ctx, sub.ID)
		if err != nil {
			t.Fatalf("GetSubmission error = %v", err)
		}
		if !got.Materialized() || *got.ImageURL != "https://cdn/a.jpg" {
			t.Errorf("ImageURL = %v, want https://cdn/a.jpg", got.ImageURL)
		}
		if got.LeaseUntil != nil {
			t.Errorf("LeaseUntil = %v, want nil", got.LeaseUntil)
		}
		if err := s.SetImageURL(ctx, sub.ID, sub.LeaseToken, "https://cdn/again.jpg"); !errors.Is(err, ErrConflict) {
			t.Errorf("second SetImageURL error = %v, want ErrConflict", err)
		}
		if err := s.SetImageURL(ctx, 9999, "x", "x"); !errors.Is(err, ErrNotFound) {
			t.Errorf("SetImageURL(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("SetImageURLRequiresCurrentHolder", func(t *testing.T) {
		s := newStore(t)
		sub := reserve(t, s, "c1", "sky", "")
		expired := time.Now().UTC().Add(2 * time.Minute)
		if err := s.ReclaimReservation(ctx, sub.ID, expired, claim("second", expired.Add(time.Minute))); err != nil {
			t.Fatalf("ReclaimReservation(expired lease) error = %v", err)
		}

		if err := s.SetImageURL(ctx, sub.ID, sub.LeaseToken, "https://cdn/stale.jpg"); !errors.Is(err, ErrConflict) {
			t.Errorf("SetImageURL(stale holder) error = %v, want ErrConflict", err)
		}
		if err := s.ReleaseReservation(ctx, sub.ID, sub.LeaseToken); err != nil {
			t.Fatalf("ReleaseReservation(stale holder) error = %v", err)
		}
		orphans, err := s.ListOrphans(ctx, expired)
		if err != nil {
			t.Fatalf("ListOrphans error = %v", err)
		}
		if len(orphans) != 0 {
			t.Errorf("stale release freed the new holder's lease: %v", orphans)
		}

		if err := s.SetImageURL(ctx, sub.ID, "second", "https://cdn/second.jpg"); err != nil {
			t.Fatalf("SetImageURL(current holder) error = %v", err)
		}
		got, err := s.GetSubmission(ctx, sub.ID)
		if err != nil {
			t.Fatalf("GetSubmission error = %v", err)
		}
		if *got.ImageURL != "https://cdn/second.jpg" || got.Email != "second@example.com" || got.Tags != "street,sky" {
			t.Errorf("after reclaim = %+v, want the second holder's url, email and tags", got)
		}
	})

	t.Run("ApproveRequiresMaterializedRow", func(t *testing.T) {
		s := newStore(t)
		sub := reserve(t, s, "c1", "sky", "tokyo")
		if _, err := s.Approve(ctx, sub.ID); !errors.Is(err, ErrNotMaterialized) {
			t.Errorf("Approve(orphan) error = %v, want ErrNotMaterialized", err)
		}
		if _, err := s.Approve(ctx, 9999); !errors.Is(err, ErrNotFound) {
			t.Errorf("Approve(missing) error = %v, want ErrNotFound", err)
		}
		materialize(t, s, sub, "https://cdn/a.jpg")
		approved, err := s.Approve(ctx, sub.ID)
		if err != nil {
			t.Fatalf("Approve error = %v", err)
		}
		if !approved.Published() {
			t.Errorf("Approve returned %+v, want published row", approved)
		}
	})

	t.Run("ListPublishedFiltersAndOrders", func(t *testing.T) {
		s := newStore(t)
		a := reserve(t, s, "c1", "sky,street", "tokyo")
		b := reserve(t, s, "c2", "sky", "oslo")
		c := reserve(t, s, "c3", "party", "tokyo")
		pending := reserve(t, s, "c4", "sky", "tokyo")
		orphan := reserve(t, s, "c5", "sky", "tokyo")
		publish(t, s, a, "https://cdn/a.jpg")
		publish(t, s, b, "https://cdn/b.jpg")
		publish(t, s, c, "https://cdn/c.jpg")
		materialize(t, s, pending, "https://cdn/p.jpg")
		_ = orphan

		all, err := s.ListPublished(ctx, model.PublishedQuery{})
		if err != nil {
			t.Fatalf("ListPublished error = %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("ListPublished(all) len = %d, want 3", len(all))
		}
		if all[0].ID != c.ID || all[2].ID != a.ID {
			t.Errorf("ListPublished order = [%d %d %d], want id descending", all[0].ID, all[1].ID, all[2].ID)
		}

		sky, err := s.ListPublished(ctx, model.PublishedQuery{Theme: "SKY", Location: "Tok"})
		if err != nil {
			t.Fatalf("ListPublished error = %v", err)
		}
		if len(sky) != 1 || sky[0].ID != a.ID {
			t.Errorf("ListPublished(SKY, Tok) = %v, want only row %d", sky, a.ID)
		}

		limited, err := s.ListPublished(ctx, model.PublishedQuery{Theme: "sky", Limit: 1})
		if err != nil {
			t.Fatalf("ListPublished error = %v", err)
		}
		if len(limited) != 1 || limited[0].ID != b.ID {
			t.Errorf("ListPublished(limit 1) = %v, want row %d", limited, b.ID)
		}

		wildcard, err := s.ListPublished(ctx, model.PublishedQuery{Theme: "%"})
		if err != nil {
			t.Fatalf("ListPublished error = %v", err)
		}
		if len(wildcard) != 0 {
			t.Errorf("ListPublished(%%) len = %d, want 0", len(wildcard))
		}
	})

	t.Run("ListPendingAndOrphans", func(t *testing.T) {
		s := newStore(t)
		live := reserve(t, s, "c1", "sky", "")
		pending := reserve(t, s, "c2", "sky", "")
		released := reserve(t, s, "c3", "sky", "")
		materialize(t, s, pending, "https://cdn/p.jpg")
		if err := s.ReleaseReservation(ctx, released.ID, released.LeaseToken); err != nil {
			t.Fatalf("ReleaseReservation error = %v", err)
		}

		got, err := s.ListPending(ctx)
		if err != nil {
			t.Fatalf("ListPending error = %v", err)
		}
		if len(got) != 1 || got[0].ID != pending.ID {
			t.Errorf("ListPending = %v, want row %d", got, pending.ID)
		}

		orphans, err := s.ListOrphans(ctx, time.Now().UTC())
		if err != nil {
			t.Fatalf("ListOrphans error = %v", err)
		}
		if len(orphans) != 1 || orphans[0].ID != released.ID {
			t.Errorf("ListOrphans(now) = %v, want row %d", orphans, released.ID)
		}

		later, err := s.ListOrphans(ctx, time.Now().UTC().Add(time.Hour))
		if err != nil {
			t.Fatalf("ListOrphans error = %v", err)
		}
		if len(later) != 2 || later[0].ID != released.ID || later[1].ID != live.ID {
			t.Errorf("ListOrphans(after lease) = %v, want rows %d and %d", later, released.ID, live.ID)
		}
	})

	t.Run("ReclaimIsCompareAndSet", func(t *testing.T) {
		s := newStore(t)
		sub := reserve(t, s, "c1", "sky", "")
		now := time.Now().UTC()
		if err := s.ReclaimReservation(ctx, sub.ID, now, claim("early", now.Add(time.Minute))); !errors.Is(err, ErrConflict) {
			t.Errorf("ReclaimReservation(live lease) error = %v, want ErrConflict", err)
		}
		if err := s.ReleaseReservation(ctx, sub.ID, sub.LeaseToken); err != nil {
			t.Fatalf("ReleaseReservation error = %v", err)
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		var winners []string
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(token string) {
				defer wg.Done()
				n := time.Now().UTC()
				if err := s.ReclaimReservation(ctx, sub.ID, n, claim(token, n.Add(time.Minute))); err == nil {
					mu.Lock()
					winners = append(winners, token)
					mu.Unlock()
				}
			}("racer-" + string(rune('a'+i)))
		}
		wg.Wait()
		if len(winners) != 1 {
			t.Fatalf("concurrent reclaims won = %v, want exactly one", winners)
		}
		if err := s.SetImageURL(ctx, sub.ID, sub.LeaseToken, "https://cdn/old.jpg"); !errors.Is(err, ErrConflict) {
			t.Errorf("SetImageURL(original holder) error = %v, want ErrConflict", err)
		}
		if err := s.SetImageURL(ctx, sub.ID, winners[0], "https://cdn/won.jpg"); err != nil {
			t.Errorf("SetImageURL(winner) error = %v", err)
		}
		if err := s.ReclaimReservation(ctx, 9999, now, claim("x", now)); !errors.Is(err, ErrNotFound) {
			t.Errorf("ReclaimReservation(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("ReleaseKeepsMaterializedRows", func(t *testing.T) {
		s := newStore(t)
		sub := reserve(t, s, "c1", "sky", "")
		materialize(t, s, sub, "https://cdn/a.jpg")
		if err := s.ReleaseReservation(ctx, sub.ID, sub.LeaseToken); err != nil {
			t.Fatalf("ReleaseReservation error = %v", err)
		}
		got, err := s.GetSubmission(ctx, sub.ID)
		if err != nil {
			t.Fatalf("GetSubmission error = %v", err)
		}
		if !got.Materialized() {
			t.Errorf("ReleaseReservation cleared a materialized row")
		}
		if err := s.ReleaseReservation(ctx, 9999, "x"); !errors.Is(err, ErrNotFound) {
			t.Errorf("ReleaseReservation(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := newStore(t).Ping(ctx); err != nil {
			t.Errorf("Ping error = %v", err)
		}
	})
}
