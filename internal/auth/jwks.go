package auth

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// JWKS represents a JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kty string `json:"kty"` // Key type
	Kid string `json:"kid"` // Key ID
	Use string `json:"use"` // Public key use
	Alg string `json:"alg"` // Algorithm
	Crv string `json:"crv"` // Curve
	X   string `json:"x"`   // Public key bytes, base64url
}

// NewEd25519JWK builds the public JWK of an Ed25519 key.
func NewEd25519JWK(kid string, pub ed25519.PublicKey) JWK {
	return JWK{
		Kty: "OKP",
		Kid: kid,
		Use: "sig",
		Alg: "EdDSA",
		Crv: "Ed25519",
		X:   base64.RawURLEncoding.EncodeToString(pub),
	}
}

// KeySource returns the Ed25519 public key for a key id.
type KeySource interface {
	Key(ctx context.Context, kid string) (ed25519.PublicKey, error)
}

// StaticKeys is a fixed kid to key map, used when keys are provisioned out of band.
type StaticKeys map[string]ed25519.PublicKey

func (s StaticKeys) Key(ctx context.Context, kid string) (ed25519.PublicKey, error) {
	key, ok := s[kid]
	if !ok {
		return nil, fmt.Errorf("key with kid %s not found", kid)
	}
	return key, nil
}

// JWKSClient handles JWKS discovery and caching
type JWKSClient struct {
	jwksURL    string
	httpClient *http.Client
	ttl        time.Duration

	mutex     sync.RWMutex
	jwks      *JWKS
	expiresAt time.Time
}

// NewJWKSClient creates a client that caches the key set for five minutes.
func NewJWKSClient(jwksURL string, httpClient *http.Client) *JWKSClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKSClient{jwksURL: jwksURL, httpClient: httpClient, ttl: 5 * time.Minute}
}

// fetchJWKS fetches the JWKS from the issuer
func (c *JWKSClient) fetchJWKS(ctx context.Context) (*JWKS, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS fetch failed with status %d", resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	return &jwks, nil
}

// getJWKS retrieves JWKS from cache or fetches fresh if needed.
// force skips the cache, used once when a kid is unknown so rotated keys are picked up.
func (c *JWKSClient) getJWKS(ctx context.Context, force bool) (*JWKS, error) {
	if !force {
		c.mutex.RLock()
		if c.jwks != nil && time.Now().Before(c.expiresAt) {
			jwks := c.jwks
			c.mutex.RUnlock()
			return jwks, nil
		}
		c.mutex.RUnlock()
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	// Double-check after acquiring write lock
	if !force && c.jwks != nil && time.Now().Before(c.expiresAt) {
		return c.jwks, nil
	}

	jwks, err := c.fetchJWKS(ctx)
	if err != nil {
		return nil, err
	}

	c.jwks = jwks
	c.expiresAt = time.Now().Add(c.ttl)

	return jwks, nil
}

// Key implements KeySource.
func (c *JWKSClient) Key(ctx context.Context, kid string) (ed25519.PublicKey, error) {
	for _, force := range []bool{false, true} {
		jwks, err := c.getJWKS(ctx, force)
		if err != nil {
			return nil, err
		}
		for _, key := range jwks.Keys {
			if key.Kid == kid {
				return decodeEd25519(key)
			}
		}
	}
	return nil, fmt.Errorf("key with kid %s not found", kid)
}

func decodeEd25519(jwk JWK) (ed25519.PublicKey, error) {
	if jwk.Kty != "OKP" || jwk.Crv != "Ed25519" || (jwk.Alg != "" && jwk.Alg != "EdDSA") {
		return nil, fmt.Errorf("unsupported key type or algorithm")
	}
	xBytes, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	if len(xBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid Ed25519 public key length %d", len(xBytes))
	}
	return ed25519.PublicKey(xBytes), nil
}
