// Package slideshow cycles through a resolved image sequence.
//
// A Slideshow is the single owner of the current sequence and index. Every
// read returns a Frame snapshot taken under the lock, so the displayed image
// and the "i / n" counter always agree. Searches race freely; only the most
// recently started one may replace the sequence.
//
// Change notifications run outside the lock, so concurrent changes may
// deliver their frames in any order. Each frame carries the sequence number
// of the change that produced it; consumers keep the highest one, which
// Latest does for them.
package slideshow

import (
	"context"
	"sync"
	"time"

	"github.com/danki-amsterdam/witvis/internal/model"
)

// DefaultInterval is the auto-advance period.
const DefaultInterval = 8 * time.Second

// Resolver produces the image sequence for a query.
type Resolver interface {
	Resolve(ctx context.Context, q model.Query) []model.ImageResult
}

// Frame is a consistent snapshot of the display state.
// Index is zero-based; Total is zero when nothing matched. Seq increases
// with every applied change.
type Frame struct {
	Query model.Query
	Index int
	Total int
	Image model.ImageResult
	Seq   uint64
}

// Slideshow holds the displayed sequence.
type Slideshow struct {
	resolver Resolver

	mu       sync.Mutex
	query    model.Query
	images   []model.ImageResult
	index    int
	gen      uint64
	seq      uint64
	cancel   context.CancelFunc
	onChange func(Frame)
}

// New returns an empty Slideshow backed by r.
func New(r Resolver) *Slideshow {
	return &Slideshow{resolver: r}
}

// OnChange registers fn to be called after every applied change. fn runs
// outside the lock and may call back into the Slideshow.
func (s *Slideshow) OnChange(fn func(Frame)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Current returns the displayed frame. ok is false when the sequence is empty.
func (s *Slideshow) Current() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameLocked()
}

// Next advances one image, wrapping at the end.
func (s *Slideshow) Next() (Frame, bool) {
	return s.step(1)
}

// Prev goes back one image, wrapping at the start.
func (s *Slideshow) Prev() (Frame, bool) {
	return s.step(-1)
}

func (s *Slideshow) step(delta int) (Frame, bool) {
	s.mu.Lock()
	n := len(s.images)
	if n == 0 {
		s.mu.Unlock()
		return Frame{Query: s.query, Seq: s.seq}, false
	}
	s.index = ((s.index+delta)%n + n) % n
	s.seq++
	f, _ := s.frameLocked()
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(f)
	}
	return f, true
}

// Search resolves q and replaces the sequence, resetting the index to the
// first image. Starting a search cancels the one in flight; a search that
// has been superseded discards its results and reports false.
func (s *Slideshow) Search(ctx context.Context, q model.Query) bool {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.mu.Unlock()

	images := s.resolver.Resolve(ctx, q)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return false
	}
	s.cancel = nil
	s.query = q
	s.images = images
	s.index = 0
	s.seq++
	f, _ := s.frameLocked()
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(f)
	}
	return true
}

// Stop cancels the search in flight, if any.
func (s *Slideshow) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
}

// Run advances the slideshow every interval until ctx is done.
func (s *Slideshow) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Next()
		}
	}
}

func (s *Slideshow) frameLocked() (Frame, bool) {
	f := Frame{Query: s.query, Index: s.index, Total: len(s.images), Seq: s.seq}
	if f.Total == 0 {
		return f, false
	}
	f.Image = s.images[s.index]
	return f, true
}

// Latest is a one-slot mailbox for frames. It keeps only the newest frame
// offered, by Seq, and signals Ready when one is waiting.
type Latest struct {
	mu    sync.Mutex
	frame Frame
	full  bool
	last  uint64
	ready chan struct{}
}

// NewLatest returns an empty mailbox.
func NewLatest() *Latest {
	return &Latest{ready: make(chan struct{}, 1)}
}

// Offer stores f, replacing a waiting frame. Frames older than the newest
// one already offered are dropped. Offer never blocks.
func (l *Latest) Offer(f Frame) {
	l.mu.Lock()
	if f.Seq <= l.last {
		l.mu.Unlock()
		return
	}
	l.last = f.Seq
	l.frame = f
	l.full = true
	l.mu.Unlock()

	select {
	case l.ready <- struct{}{}:
	default:
	}
}

// Ready receives after a frame has been offered.
func (l *Latest) Ready() <-chan struct{} {
	return l.ready
}

// Take empties the mailbox. ok is false when no frame is waiting.
func (l *Latest) Take() (Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, ok := l.frame, l.full
	l.full = false
	return f, ok
}
