package provider

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/danki-amsterdam/witvis/internal/model"
)

// DefaultUnsplashURL is the public Unsplash API root.
const DefaultUnsplashURL = "https://api.unsplash.com"

// Unsplash searches the Unsplash photo API.
type Unsplash struct {
	client
	accessKey string
}

// NewUnsplash returns an Unsplash client authenticating with opts.APIKey as Client-ID.
func NewUnsplash(opts Options) *Unsplash {
	return &Unsplash{client: newClient(model.SourceUnsplash, DefaultUnsplashURL, opts), accessKey: opts.APIKey}
}

type unsplashResponse struct {
	Results []struct {
		URLs struct {
			Regular string `json:"regular"`
		} `json:"urls"`
		User struct {
			Name  string `json:"name"`
			Links struct {
				HTML string `json:"html"`
			} `json:"links"`
		} `json:"user"`
	} `json:"results"`
}

func (u *Unsplash) Name() string { return model.SourceUnsplash }

// Search calls GET /search/photos and maps urls.regular and user.name.
func (u *Unsplash) Search(ctx context.Context, q model.Query, limit int) ([]model.ImageResult, error) {
	params := url.Values{}
	params.Set("query", q.Text())
	params.Set("per_page", strconv.Itoa(clampLimit(limit)))

	header := http.Header{}
	header.Set("Authorization", "Client-ID "+u.accessKey)
	header.Set("Accept-Version", "v1")

	var body unsplashResponse
	if err := u.getJSON(ctx, u.baseURL+"/search/photos?"+params.Encode(), header, &body); err != nil {
		return nil, err
	}

	out := make([]model.ImageResult, 0, len(body.Results))
	for _, r := range body.Results {
		if r.URLs.Regular == "" {
			continue
		}
		out = append(out, model.NewImageResult(r.URLs.Regular, r.User.Name, r.User.Links.HTML, model.SourceUnsplash))
	}
	return out, nil
}
