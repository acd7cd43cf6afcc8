// Package integration provides integration tests for the moderation API and
// the JWKS-backed token verification in front of it.
package integration

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danki-amsterdam/witvis/internal/auth"
	errordefs "github.com/danki-amsterdam/witvis/internal/errors"
	"github.com/danki-amsterdam/witvis/internal/event"
	"github.com/danki-amsterdam/witvis/internal/intake"
	"github.com/danki-amsterdam/witvis/internal/media"
	"github.com/danki-amsterdam/witvis/internal/model"
	"github.com/danki-amsterdam/witvis/internal/moderation"
	"github.com/danki-amsterdam/witvis/internal/server"
	"github.com/danki-amsterdam/witvis/internal/storage"
	"github.com/golang-jwt/jwt/v5"
)

const (
	testIssuer   = "https://auth.witvis.test"
	testAudience = "witvis"
)

// keyServer is a JWKS endpoint whose key set can be rotated mid-test.
type keyServer struct {
	*httptest.Server

	mu      sync.Mutex
	keys    map[string]ed25519.PrivateKey
	fetches atomic.Int32
}

func newKeyServer(t *testing.T) *keyServer {
	t.Helper()
	ks := &keyServer{keys: map[string]ed25519.PrivateKey{}}
	ks.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ks.fetches.Add(1)
		ks.mu.Lock()
		set := auth.JWKS{}
		for kid, priv := range ks.keys {
			set.Keys = append(set.Keys, auth.NewEd25519JWK(kid, priv.Public().(ed25519.PublicKey)))
		}
		ks.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(ks.Close)
	return ks
}

// addKey publishes a fresh key under kid and returns its private half.
func (ks *keyServer) addKey(t *testing.T, kid string) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	ks.mu.Lock()
	ks.keys[kid] = priv
	ks.mu.Unlock()
	return priv
}

type tokenParams struct {
	kid      string
	key      ed25519.PrivateKey
	issuer   string
	audience string
	expires  time.Duration
	role     string
	roles    []string
}

// createTestJWT signs an EdDSA token described by params.
func createTestJWT(t *testing.T, params tokenParams) string {
	t.Helper()
	claims := auth.Claims{
		Role:  params.role,
		Roles: params.roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    params.issuer,
			Subject:   "moderator-1",
			Audience:  jwt.ClaimStrings{params.audience},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(params.expires)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	if params.kid != "" {
		token.Header["kid"] = params.kid
	}
	tokenString, err := token.SignedString(params.key)
	if err != nil {
		t.Fatalf("failed to sign JWT: %v", err)
	}
	return tokenString
}

func newMux(t *testing.T, ks *keyServer, store storage.Store, events event.Publisher) http.Handler {
	t.Helper()
	mux, err := server.NewMux(server.Options{
		Store:      store,
		Intake:     intake.New(intake.Options{Store: store, Blobs: media.NewMemory("https://cdn.witvis.test"), Events: events}),
		Moderation: moderation.New(store, events, nil),
		Resolver:   noImages{},
		Verifier:   auth.NewVerifier(auth.NewJWKSClient(ks.URL, nil), testIssuer, testAudience),
	})
	if err != nil {
		t.Fatalf("NewMux() error = %v", err)
	}
	return mux
}

type noImages struct{}

func (noImages) Resolve(ctx context.Context, q model.Query) []model.ImageResult {
	return []model.ImageResult{}
}

func call(t *testing.T, h http.Handler, method, target, token string) (int, errordefs.ErrorCode) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code < 400 {
		return rr.Code, ""
	}
	var body struct {
		Code errordefs.ErrorCode `json:"code"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body %q is not JSON: %v", rr.Body.String(), err)
	}
	return rr.Code, body.Code
}

// TestJWTValidation checks issuer, audience, expiry, kid and role handling
// against a live JWKS endpoint.
func TestJWTValidation(t *testing.T) {
	ks := newKeyServer(t)
	key := ks.addKey(t, "key-1")
	_, stranger, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	mux := newMux(t, ks, storage.NewMemory(), &event.Recorder{})

	valid := tokenParams{kid: "key-1", key: key, issuer: testIssuer, audience: testAudience, expires: time.Hour, role: auth.RoleModerator}
	with := func(mutate func(*tokenParams)) tokenParams {
		s := valid
		mutate(&s)
		return s
	}

	tests := []struct {
		name       string
		params     *tokenParams
		wantStatus int
		wantCode   errordefs.ErrorCode
	}{
		{"ValidJWT", &valid, http.StatusOK, ""},
		{"RolesClaim", ptr(with(func(s *tokenParams) { s.role = ""; s.roles = []string{"viewer", auth.RoleModerator} })), http.StatusOK, ""},
		{"MissingToken", nil, http.StatusUnauthorized, errordefs.WITVIS_AUTHN},
		{"InvalidIssuer", ptr(with(func(s *tokenParams) { s.issuer = "https://other.test" })), http.StatusUnauthorized, errordefs.WITVIS_JWT_INVALID},
		{"InvalidAudience", ptr(with(func(s *tokenParams) { s.audience = "someone-else" })), http.StatusUnauthorized, errordefs.WITVIS_JWT_INVALID},
		{"Expired", ptr(with(func(s *tokenParams) { s.expires = -time.Minute })), http.StatusUnauthorized, errordefs.WITVIS_JWT_EXPIRED},
		{"MissingKid", ptr(with(func(s *tokenParams) { s.kid = "" })), http.StatusUnauthorized, errordefs.WITVIS_JWT_INVALID},
		{"UnknownKid", ptr(with(func(s *tokenParams) { s.kid = "key-9" })), http.StatusUnauthorized, errordefs.WITVIS_JWT_INVALID},
		{"WrongSigningKey", ptr(with(func(s *tokenParams) { s.key = stranger })), http.StatusUnauthorized, errordefs.WITVIS_JWT_INVALID},
		{"NotModerator", ptr(with(func(s *tokenParams) { s.role = "viewer" })), http.StatusForbidden, errordefs.WITVIS_AUTHZ},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := ""
			if tt.params != nil {
				token = createTestJWT(t, *tt.params)
			}
			status, code := call(t, mux, http.MethodGet, "/admin/submissions", token)
			if status != tt.wantStatus || code != tt.wantCode {
				t.Errorf("GET /admin/submissions = %d %s, want %d %s", status, code, tt.wantStatus, tt.wantCode)
			}
		})
	}
}

// TestKeyRotation verifies that a token signed by a newly published key is
// accepted without waiting for the cached key set to expire.
func TestKeyRotation(t *testing.T) {
	ks := newKeyServer(t)
	first := ks.addKey(t, "key-1")
	mux := newMux(t, ks, storage.NewMemory(), &event.Recorder{})

	params := tokenParams{kid: "key-1", key: first, issuer: testIssuer, audience: testAudience, expires: time.Hour, role: auth.RoleModerator}
	if status, _ := call(t, mux, http.MethodGet, "/admin/orphans", createTestJWT(t, params)); status != http.StatusOK {
		t.Fatalf("first key: status %d", status)
	}
	if status, _ := call(t, mux, http.MethodGet, "/admin/orphans", createTestJWT(t, params)); status != http.StatusOK {
		t.Fatalf("first key again: status %d", status)
	}
	if got := ks.fetches.Load(); got != 1 {
		t.Errorf("JWKS fetched %d times, want 1 while cached", got)
	}

	params.kid, params.key = "key-2", ks.addKey(t, "key-2")
	if status, code := call(t, mux, http.MethodGet, "/admin/orphans", createTestJWT(t, params)); status != http.StatusOK {
		t.Errorf("rotated key: status %d %s, want 200", status, code)
	}
	if got := ks.fetches.Load(); got != 2 {
		t.Errorf("JWKS fetched %d times, want 2 after rotation", got)
	}
}

// TestApproveRequiresModerator runs approval end to end through the JWKS path.
func TestApproveRequiresModerator(t *testing.T) {
	ks := newKeyServer(t)
	key := ks.addKey(t, "key-1")
	store := storage.NewMemory()
	events := &event.Recorder{}
	mux := newMux(t, ks, store, events)

	url := "https://cdn.witvis.test/a.jpg"
	sub, err := store.ReserveSubmission(t.Context(), model.Submission{
		Username: "alice", Email: "alice@example.com", Tags: "sky", Location: "oslo",
		FileName: "a.jpg", Checksum: "alice|sky|oslo|a.jpg",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetImageURL(t.Context(), sub.ID, sub.LeaseToken, url); err != nil {
		t.Fatal(err)
	}
	target := "/admin/submissions/" + strconv.FormatInt(sub.ID, 10) + "/approve"

	viewer := tokenParams{kid: "key-1", key: key, issuer: testIssuer, audience: testAudience, expires: time.Hour, role: "viewer"}
	if status, _ := call(t, mux, http.MethodPost, target, createTestJWT(t, viewer)); status != http.StatusForbidden {
		t.Fatalf("viewer approve: status %d, want 403", status)
	}
	if len(events.Events()) != 0 {
		t.Fatalf("forbidden approve published %v", events.Events())
	}

	moderator := viewer
	moderator.role = auth.RoleModerator
	if status, code := call(t, mux, http.MethodPost, target, createTestJWT(t, moderator)); status != http.StatusOK {
		t.Fatalf("moderator approve: status %d %s", status, code)
	}
	got, err := store.GetSubmission(t.Context(), sub.ID)
	if err != nil || !got.Approved {
		t.Errorf("after approve: %+v, %v", got, err)
	}
	if evs := events.Events(); len(evs) != 1 || evs[0].Type != event.SubjectApproved {
		t.Errorf("events = %v, want one approved event", evs)
	}
}

func ptr[T any](v T) *T { return &v }
