package provider

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/danki-amsterdam/witvis/internal/model"
)

// DefaultPexelsURL is the public Pexels API root.
const DefaultPexelsURL = "https://api.pexels.com"

// Pexels searches the Pexels photo API.
type Pexels struct {
	client
	apiKey string
}

// NewPexels returns a Pexels client sending opts.APIKey as the bare Authorization value.
func NewPexels(opts Options) *Pexels {
	return &Pexels{client: newClient(model.SourcePexels, DefaultPexelsURL, opts), apiKey: opts.APIKey}
}

type pexelsResponse struct {
	Photos []struct {
		Src struct {
			Landscape string `json:"landscape"`
		} `json:"src"`
		Photographer    string `json:"photographer"`
		PhotographerURL string `json:"photographer_url"`
	} `json:"photos"`
}

func (p *Pexels) Name() string { return model.SourcePexels }

// Search calls GET /v1/search and maps src.landscape and photographer.
func (p *Pexels) Search(ctx context.Context, q model.Query, limit int) ([]model.ImageResult, error) {
	params := url.Values{}
	params.Set("query", q.Text())
	params.Set("per_page", strconv.Itoa(clampLimit(limit)))

	header := http.Header{}
	header.Set("Authorization", p.apiKey)

	var body pexelsResponse
	if err := p.getJSON(ctx, p.baseURL+"/v1/search?"+params.Encode(), header, &body); err != nil {
		return nil, err
	}

	out := make([]model.ImageResult, 0, len(body.Photos))
	for _, ph := range body.Photos {
		if ph.Src.Landscape == "" {
			continue
		}
		out = append(out, model.NewImageResult(ph.Src.Landscape, ph.Photographer, ph.PhotographerURL, model.SourcePexels))
	}
	return out, nil
}
