// Package provider implements the third-party stock photo tiers of the
// resolution pipeline. Each provider is a thin REST client that maps a
// search response to model.ImageResult values and reports failures as
// errors wrapping ErrUpstream.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/danki-amsterdam/witvis/internal/metrics"
	"github.com/danki-amsterdam/witvis/internal/model"
	"golang.org/x/time/rate"
)

var (
	// ErrUpstream covers transport failures, non-2xx responses and undecodable bodies.
	ErrUpstream = errors.New("upstream provider error")
	// ErrRateLimited is returned when the client-side limiter denies a call.
	ErrRateLimited = fmt.Errorf("%w: rate limited", ErrUpstream)
)

// maxBodyBytes caps how much of a provider response is read.
const maxBodyBytes = 4 << 20

// Searcher is one image source that can be queried by (theme, location).
type Searcher interface {
	Name() string
	Search(ctx context.Context, q model.Query, limit int) ([]model.ImageResult, error)
}

// Options configures a provider client.
type Options struct {
	BaseURL    string        // API root, defaults to the public endpoint
	APIKey     string        // Credential sent with every request
	HTTPClient *http.Client  // Defaults to a client with Timeout
	Timeout    time.Duration // Per-call timeout, default 10s
	Rate       float64       // Calls per second, <= 0 disables limiting
	Logger     *slog.Logger
}

// client holds what every provider shares: transport, limiter and metrics.
type client struct {
	name    string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func newClient(name, defaultBase string, opts Options) client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	base := opts.BaseURL
	if base == "" {
		base = defaultBase
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := client{
		name:    name,
		baseURL: base,
		http:    hc,
		metrics: metrics.NewMetrics(),
		logger:  logger.With("provider", name),
	}
	if opts.Rate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.Rate), int(math.Max(1, math.Ceil(opts.Rate))))
	}
	return c
}

// getJSON performs an authenticated GET and decodes the JSON body into v.
func (c *client) getJSON(ctx context.Context, url string, header http.Header, v any) error {
	if c.limiter != nil && !c.limiter.Allow() {
		c.metrics.ProviderRequestDuration.WithLabelValues(c.name, "rate_limited").Observe(0)
		return ErrRateLimited
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrUpstream, err)
	}
	req.Header = header
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(start, "transport_error")
		return fmt.Errorf("%w: %s request: %w", ErrUpstream, c.name, err)
	}
	defer resp.Body.Close()
	c.observe(start, strconv.Itoa(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s returned status %d", ErrUpstream, c.name, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(v); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrUpstream, c.name, err)
	}
	return nil
}

func (c *client) observe(start time.Time, status string) {
	c.metrics.ProviderRequestDuration.WithLabelValues(c.name, status).Observe(time.Since(start).Seconds())
}

// clampLimit keeps page sizes within what both providers accept.
func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 10
	case limit > 80:
		return 80
	default:
		return limit
	}
}
