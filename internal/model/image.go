package model

// UnknownPhotographer is shown when a source does not name the photographer.
const UnknownPhotographer = "Unknown"

// Source labels shown as on-screen attribution.
const (
	SourceLocal    = "local"
	SourceUnsplash = "Unsplash"
	SourcePexels   = "Pexels"
)

// Query is a (theme, location) pair. Both are free text, displayed as typed
// and case-folded when matching.
type Query struct {
	Theme    string `json:"theme"`
	Location string `json:"location"`
}

// WithDefaults fills empty fields with the given defaults.
func (q Query) WithDefaults(theme, location string) Query {
	if q.Theme == "" {
		q.Theme = theme
	}
	if q.Location == "" {
		q.Location = location
	}
	return q
}

// Text returns the provider search string "{theme}, {location}".
func (q Query) Text() string {
	return q.Theme + ", " + q.Location
}

// ImageResult is one displayable image with its attribution.
type ImageResult struct {
	URL            string  `json:"url"`
	Photographer   string  `json:"photographer"`
	AttributionURL *string `json:"attributionUrl"`
	Source         string  `json:"source"`
}

// NewImageResult builds an ImageResult, defaulting the photographer and
// dropping an empty attribution link.
func NewImageResult(url, photographer, attributionURL, source string) ImageResult {
	if photographer == "" {
		photographer = UnknownPhotographer
	}
	img := ImageResult{URL: url, Photographer: photographer, Source: source}
	if attributionURL != "" {
		link := attributionURL
		img.AttributionURL = &link
	}
	return img
}

// VibeResponse is the body of GET /v1/vibe.
type VibeResponse struct {
	Data VibeData `json:"data"`
}

// VibeData carries the effective query and the resolved images.
type VibeData struct {
	Theme    string        `json:"theme"`
	Location string        `json:"location"`
	Images   []ImageResult `json:"images"`
}
