package resolve

import (
	"context"

	"github.com/danki-amsterdam/witvis/internal/model"
	"github.com/danki-amsterdam/witvis/internal/storage"
)

// LocalSource serves published crowd submissions matching the query.
//
// Matching is a case-insensitive substring test of theme against the stored
// tags and location against the stored location.
type LocalSource struct {
	store storage.Store
}

// NewLocalSource wraps the submission store as the first tier.
func NewLocalSource(store storage.Store) *LocalSource {
	return &LocalSource{store: store}
}

func (l *LocalSource) Name() string { return model.SourceLocal }

func (l *LocalSource) Search(ctx context.Context, q model.Query, limit int) ([]model.ImageResult, error) {
	subs, err := l.store.ListPublished(ctx, model.PublishedQuery{Theme: q.Theme, Location: q.Location, Limit: limit})
	if err != nil {
		return nil, err
	}

	out := make([]model.ImageResult, 0, len(subs))
	for _, s := range subs {
		if !s.Published() {
			continue
		}
		out = append(out, model.NewImageResult(*s.ImageURL, s.Username, "", model.SourceLocal))
	}
	return out, nil
}
