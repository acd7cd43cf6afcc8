// Package conformance provides an end-to-end harness for the WITVIS HTTP surface.
//
// The harness runs the real server against fake Unsplash, Pexels and JWKS
// endpoints and checks the externally visible contract: upload outcomes,
// publication gating, the resolution fallback order and moderation auth.
package conformance

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/danki-amsterdam/witvis/internal/auth"
	"github.com/danki-amsterdam/witvis/internal/event"
	"github.com/danki-amsterdam/witvis/internal/intake"
	"github.com/danki-amsterdam/witvis/internal/media"
	"github.com/danki-amsterdam/witvis/internal/model"
	"github.com/danki-amsterdam/witvis/internal/moderation"
	"github.com/danki-amsterdam/witvis/internal/provider"
	"github.com/danki-amsterdam/witvis/internal/resolve"
	"github.com/danki-amsterdam/witvis/internal/server"
	"github.com/danki-amsterdam/witvis/internal/storage"
	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer   = "https://auth.witvis.test"
	audience = "witvis"
	keyID    = "conformance"
)

// Provider behaviours the fake upstream can be switched between.
const (
	ModeResults = "results"
	ModeEmpty   = "empty"
	ModeFail    = "fail"
)

// Config holds configuration for the conformance test harness.
type Config struct {
	// SQLiteDir runs the harness on the SQLite store in that directory.
	// Empty means the in-memory store.
	SQLiteDir string
}

// Harness provides a test harness for WITVIS conformance testing.
type Harness struct {
	server   *httptest.Server
	upstream *httptest.Server
	jwks     *httptest.Server
	store    storage.Store
	events   *event.Recorder
	priv     ed25519.PrivateKey

	mu    sync.Mutex
	modes map[string]string // provider name to mode
}

// NewHarness creates a new conformance test harness.
func NewHarness(cfg Config) (*Harness, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		events: &event.Recorder{},
		priv:   priv,
		modes:  map[string]string{model.SourceUnsplash: ModeResults, model.SourcePexels: ModeResults},
	}

	if cfg.SQLiteDir != "" {
		h.store, err = storage.NewSQLite(filepath.Join(cfg.SQLiteDir, "witvis.db"))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
	} else {
		h.store = storage.NewMemory()
	}

	h.upstream = httptest.NewServer(http.HandlerFunc(h.serveUpstream))
	h.jwks = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(auth.JWKS{Keys: []auth.JWK{auth.NewEd25519JWK(keyID, pub)}})
	}))

	providerOpts := func(key string) provider.Options {
		return provider.Options{BaseURL: h.upstream.URL, APIKey: key, Timeout: 2 * time.Second}
	}
	resolver := resolve.New(nil,
		resolve.NewLocalSource(h.store),
		provider.NewUnsplash(providerOpts("unsplash-key")),
		provider.NewPexels(providerOpts("pexels-key")),
	)

	blobs := media.NewMemory("https://cdn.witvis.test")
	mux, err := server.NewMux(server.Options{
		Store:        h.store,
		Intake:       intake.New(intake.Options{Store: h.store, Blobs: blobs, Events: h.events}),
		Moderation:   moderation.New(h.store, h.events, nil),
		Resolver:     resolver,
		Verifier:     auth.NewVerifier(auth.NewJWKSClient(h.jwks.URL, nil), issuer, audience),
		DefaultQuery: model.Query{Theme: "vibe", Location: "Svalbard"},
	})
	if err != nil {
		h.Close()
		return nil, err
	}
	h.server = httptest.NewServer(mux)
	return h, nil
}

// URL returns the base URL of the test server.
func (h *Harness) URL() string {
	return h.server.URL
}

// Close shuts down the test servers and cleans up resources.
func (h *Harness) Close() {
	for _, s := range []*httptest.Server{h.server, h.upstream, h.jwks} {
		if s != nil {
			s.Close()
		}
	}
	_ = storage.Close(h.store)
}

// SetProviderMode switches how the fake upstream answers for one provider.
func (h *Harness) SetProviderMode(name, mode string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.modes[name] = mode
}

func (h *Harness) serveUpstream(w http.ResponseWriter, r *http.Request) {
	name := model.SourcePexels
	if r.URL.Path == "/search/photos" {
		name = model.SourceUnsplash
	}
	h.mu.Lock()
	mode := h.modes[name]
	h.mu.Unlock()

	if mode == ModeFail {
		http.Error(w, "upstream down", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if name == model.SourceUnsplash {
		var results []map[string]any
		if mode == ModeResults {
			results = append(results, map[string]any{
				"urls": map[string]string{"regular": "https://images.unsplash.test/1.jpg"},
				"user": map[string]any{"name": "Ansel", "links": map[string]string{"html": "https://unsplash.test/@ansel"}},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
		return
	}
	var photos []map[string]any
	if mode == ModeResults {
		photos = append(photos, map[string]any{
			"src":              map[string]string{"landscape": "https://images.pexels.test/1.jpg"},
			"photographer":     "Dora",
			"photographer_url": "https://pexels.test/@dora",
		})
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"photos": photos})
}

// Token signs a JWT for role that the JWKS endpoint vouches for.
func (h *Harness) Token(t *testing.T, role string) string {
	t.Helper()
	claims := auth.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "conformance-moderator",
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = keyID
	signed, err := tok.SignedString(h.priv)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// do sends a request and decodes a JSON response into out when given.
func (h *Harness) do(t *testing.T, method, path string, body any, token string, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, h.URL()+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// RunConformanceTests runs all conformance tests against the WITVIS implementation.
func (h *Harness) RunConformanceTests(t *testing.T) {
	t.Run("HealthEndpoints", h.testHealthEndpoints)
	t.Run("FallbackChain", h.testFallbackChain)
	t.Run("SubmissionLifecycle", h.testSubmissionLifecycle)
	t.Run("ModerationAuth", h.testModerationAuth)
}

// testHealthEndpoints tests the health check endpoints.
func (h *Harness) testHealthEndpoints(t *testing.T) {
	for _, path := range []string{"/healthz", "/readyz"} {
		if status := h.do(t, http.MethodGet, path, nil, "", nil); status != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, status)
		}
	}
}

func (h *Harness) vibe(t *testing.T, query string) model.VibeData {
	t.Helper()
	var resp model.VibeResponse
	if status := h.do(t, http.MethodGet, "/v1/vibe"+query, nil, "", &resp); status != http.StatusOK {
		t.Fatalf("GET /v1/vibe%s = %d", query, status)
	}
	return resp.Data
}

func sources(images []model.ImageResult) []string {
	out := make([]string, len(images))
	for i, img := range images {
		out[i] = img.Source
	}
	return out
}

// testFallbackChain checks tier order with an empty local store.
func (h *Harness) testFallbackChain(t *testing.T) {
	defer h.SetProviderMode(model.SourceUnsplash, ModeResults)
	defer h.SetProviderMode(model.SourcePexels, ModeResults)

	steps := []struct {
		unsplash, pexels string
		want             []string
	}{
		{ModeResults, ModeResults, []string{model.SourceUnsplash}},
		{ModeFail, ModeResults, []string{model.SourcePexels}},
		{ModeEmpty, ModeResults, []string{model.SourcePexels}},
		{ModeFail, ModeEmpty, []string{}},
		{ModeFail, ModeFail, []string{}},
	}
	for _, step := range steps {
		h.SetProviderMode(model.SourceUnsplash, step.unsplash)
		h.SetProviderMode(model.SourcePexels, step.pexels)

		data := h.vibe(t, "?theme=nowhere&location=atlantis")
		got := sources(data.Images)
		if fmt.Sprint(got) != fmt.Sprint(step.want) {
			t.Errorf("unsplash=%s pexels=%s: sources = %v, want %v", step.unsplash, step.pexels, got, step.want)
		}
		if data.Images == nil {
			t.Errorf("unsplash=%s pexels=%s: images is null, want an array", step.unsplash, step.pexels)
		}
	}

	data := h.vibe(t, "")
	if data.Theme != "vibe" || data.Location != "Svalbard" {
		t.Errorf("default query = %s/%s, want vibe/Svalbard", data.Theme, data.Location)
	}
}

func uploadBody(fileName string) map[string]string {
	return map[string]string{
		"fileBase64": base64.StdEncoding.EncodeToString([]byte("\xff\xd8\xff\xe0 not really a jpeg")),
		"fileName":   fileName,
		"username":   "Alice",
		"tags":       "Aurora, Night",
		"location":   "Tromso",
		"email":      "alice@example.com",
	}
}

// testSubmissionLifecycle uploads, rejects a duplicate, approves and checks
// that the local tier starts winning once the row is published.
func (h *Harness) testSubmissionLifecycle(t *testing.T) {
	var up model.UploadResponse
	if status := h.do(t, http.MethodPost, "/upload", uploadBody("aurora.jpg"), "", &up); status != http.StatusOK || !up.Success {
		t.Fatalf("POST /upload = %d %+v", status, up)
	}

	dup := uploadBody("AURORA.JPG")
	dup["tags"] = "night,aurora"
	var errBody struct {
		Error string `json:"error"`
	}
	if status := h.do(t, http.MethodPost, "/upload", dup, "", &errBody); status != http.StatusConflict || errBody.Error != "already submitted" {
		t.Errorf("duplicate POST /upload = %d %q, want 409 already submitted", status, errBody.Error)
	}

	var published []model.PublishedSubmission
	h.do(t, http.MethodGet, "/submissions", nil, "", &published)
	if len(published) != 0 {
		t.Fatalf("GET /submissions before approval = %v", published)
	}
	if data := h.vibe(t, "?theme=aurora&location=tromso"); len(data.Images) > 0 && data.Images[0].Source == model.SourceLocal {
		t.Error("unapproved submission reached the local tier")
	}

	token := h.Token(t, auth.RoleModerator)
	var pending struct {
		Data []model.Submission `json:"data"`
	}
	h.do(t, http.MethodGet, "/admin/submissions", nil, token, &pending)
	if len(pending.Data) != 1 {
		t.Fatalf("pending = %v, want one row", pending.Data)
	}
	id := pending.Data[0].ID
	if status := h.do(t, http.MethodPost, fmt.Sprintf("/admin/submissions/%d/approve", id), nil, token, nil); status != http.StatusOK {
		t.Fatalf("approve = %d", status)
	}

	h.do(t, http.MethodGet, "/submissions", nil, "", &published)
	if len(published) != 1 || published[0].ImageURL != up.ImageURL {
		t.Errorf("GET /submissions after approval = %v", published)
	}

	data := h.vibe(t, "?theme=Aurora&location=TROMSO")
	if len(data.Images) != 1 || data.Images[0].Source != model.SourceLocal || data.Images[0].Photographer != "alice" {
		t.Errorf("vibe after approval = %+v, want the local submission", data.Images)
	}

	var types []string
	for _, e := range h.events.Events() {
		types = append(types, e.Type)
	}
	want := []string{event.SubjectMaterialized, event.SubjectApproved}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", types, want)
	}
}

// testModerationAuth checks the 401/403 split on the admin routes.
func (h *Harness) testModerationAuth(t *testing.T) {
	cases := []struct {
		name   string
		token  string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"viewer", h.Token(t, "viewer"), http.StatusForbidden},
		{"moderator", h.Token(t, auth.RoleModerator), http.StatusOK},
	}
	for _, c := range cases {
		if status := h.do(t, http.MethodGet, "/admin/orphans", nil, c.token, nil); status != c.status {
			t.Errorf("%s: GET /admin/orphans = %d, want %d", c.name, status, c.status)
		}
	}
}
