package intake

import (
	"encoding/base64"
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/danki-amsterdam/witvis/internal/model"
)

// Validation reasons surfaced to clients.
const (
	ReasonMissingFields  = "Missing required fields"
	ReasonInvalidPayload = "Invalid file payload"
)

var usernameStrip = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Normalized is a validated submission ready for fingerprinting and upload.
type Normalized struct {
	Username    string
	Email       string
	Tags        []string // Ordered set in first-seen order
	Location    string
	FileName    string
	Checksum    string
	Payload     []byte
	ContentType string
}

// DisplayTags joins the tags in their original order.
func (n Normalized) DisplayTags() string {
	return strings.Join(n.Tags, ",")
}

// Normalize validates raw and applies the canonical forms used for storage
// and duplicate detection. It performs no I/O.
func Normalize(raw model.RawSubmission) (Normalized, error) {
	fileBase64 := strings.TrimSpace(raw.FileBase64)
	fileName := NormalizeLower(raw.FileName)
	email := strings.TrimSpace(raw.Email)
	tags := NormalizeTags(raw.Tags)
	if fileBase64 == "" || fileName == "" || email == "" || len(tags) == 0 {
		return Normalized{}, &ValidationError{Reason: ReasonMissingFields}
	}

	payload, contentType, err := decodePayload(fileBase64)
	if err != nil || len(payload) == 0 {
		return Normalized{}, &ValidationError{Reason: ReasonInvalidPayload}
	}

	n := Normalized{
		Username:    NormalizeUsername(raw.Username),
		Email:       email,
		Tags:        tags,
		Location:    NormalizeLower(raw.Location),
		FileName:    fileName,
		Payload:     payload,
		ContentType: contentType,
	}
	n.Checksum = Checksum(n.Username, n.Tags, n.Location, n.FileName)
	return n, nil
}

// NormalizeUsername keeps [a-zA-Z0-9_-], lowercases, and defaults to "anonymous".
func NormalizeUsername(username string) string {
	u := strings.ToLower(usernameStrip.ReplaceAllString(username, ""))
	if u == "" {
		return model.DefaultUsername
	}
	return u
}

// NormalizeTags splits on commas, trims, lowercases, drops empties and
// repeats while keeping first-seen order.
func NormalizeTags(tags string) []string {
	out := make([]string, 0)
	for _, t := range strings.Split(tags, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// NormalizeLower trims and lowercases.
func NormalizeLower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Checksum is the metadata fingerprint "username|sorted,tags|location|filename".
// Inputs must already be normalized.
func Checksum(username string, tags []string, location, fileName string) string {
	sorted := slices.Clone(tags)
	slices.Sort(sorted)
	return strings.Join([]string{username, strings.Join(sorted, ","), location, fileName}, "|")
}

// decodePayload accepts bare base64 or a data: URL and returns the bytes and
// their content type.
func decodePayload(s string) ([]byte, string, error) {
	var declared string
	if strings.HasPrefix(s, "data:") {
		meta, data, ok := strings.Cut(s, ",")
		if !ok {
			return nil, "", base64.CorruptInputError(0)
		}
		meta = strings.TrimPrefix(meta, "data:")
		declared, _, _ = strings.Cut(meta, ";")
		s = data
	}
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)

	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if b, err = base64.RawStdEncoding.DecodeString(s); err != nil {
			return nil, "", err
		}
	}

	if declared == "" {
		declared = http.DetectContentType(b)
	}
	return b, declared, nil
}
