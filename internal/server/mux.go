// Package server implements the HTTP handlers and routing for the WITVIS service.
// It exposes the submission intake endpoint, the published gallery, the
// resolved vibe feed and the JWT-protected moderation endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/danki-amsterdam/witvis/internal/auth"
	errordefs "github.com/danki-amsterdam/witvis/internal/errors"
	"github.com/danki-amsterdam/witvis/internal/intake"
	"github.com/danki-amsterdam/witvis/internal/metrics"
	"github.com/danki-amsterdam/witvis/internal/model"
	"github.com/danki-amsterdam/witvis/internal/moderation"
	"github.com/danki-amsterdam/witvis/internal/schema"
	"github.com/danki-amsterdam/witvis/internal/storage"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ContextKey is used for context values to avoid collisions
// when storing values in request context
type ContextKey string

const (
	// Context keys for storing request-scoped values
	ContextKeySubject       ContextKey = "subject"       // *requestInfo filled in by auth
	ContextKeyCorrelationID ContextKey = "correlationId" // Unique ID for request tracking

	// DefaultMaxUploadSize bounds the POST /upload body.
	DefaultMaxUploadSize = 10 * 1024 * 1024
)

// Resolver produces the image sequence for a query.
type Resolver interface {
	Resolve(ctx context.Context, q model.Query) []model.ImageResult
}

// Options carries the collaborators of the HTTP surface. They are built once
// in main and shared by every request.
type Options struct {
	Store      storage.Store
	Intake     *intake.Service
	Moderation *moderation.Service
	Resolver   Resolver
	// Verifier guards the admin routes. When nil they answer 503.
	Verifier *auth.Verifier

	DefaultQuery       model.Query
	MaxUploadSize      int64
	UploadRateLimit    int
	CORSAllowedOrigins []string
	Logger             *slog.Logger
}

// Mux handles HTTP requests for the WITVIS service.
type Mux struct {
	mux        *http.ServeMux
	store      storage.Store
	intake     *intake.Service
	moderation *moderation.Service
	resolver   Resolver
	verifier   *auth.Verifier
	validator  *schema.Validator
	metrics    *metrics.Metrics
	logger     *slog.Logger

	defaultQuery       model.Query
	maxUploadSize      int64
	corsAllowedOrigins []string // Allowed origins for CORS (empty means deny all)
}

// NewMux creates a new HTTP mux with all WITVIS endpoints.
func NewMux(opts Options) (*http.ServeMux, error) {
	validator, err := schema.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("init schema validator: %w", err)
	}

	m := &Mux{
		mux:                http.NewServeMux(),
		store:              opts.Store,
		intake:             opts.Intake,
		moderation:         opts.Moderation,
		resolver:           opts.Resolver,
		verifier:           opts.Verifier,
		validator:          validator,
		metrics:            metrics.NewMetrics(),
		logger:             opts.Logger,
		defaultQuery:       opts.DefaultQuery,
		maxUploadSize:      opts.MaxUploadSize,
		corsAllowedOrigins: opts.CORSAllowedOrigins,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.maxUploadSize <= 0 {
		m.maxUploadSize = DefaultMaxUploadSize
	}

	// Register health endpoints
	m.mux.HandleFunc("/healthz", m.handleHealthz)
	m.mux.HandleFunc("/readyz", m.handleReadyz)
	m.mux.Handle("/metrics", promhttp.Handler())

	upload := http.HandlerFunc(m.handleUpload)
	if opts.UploadRateLimit > 0 {
		upload = m.rateLimit(opts.UploadRateLimit, upload)
	}

	m.route("/upload", http.MethodPost, upload)
	m.route("/submissions", http.MethodGet, m.handleListPublished)
	m.route("/v1/vibe", http.MethodGet, m.handleVibe)

	m.route("/admin/submissions", http.MethodGet, m.requireModerator(m.handleListPending))
	m.route("/admin/submissions/{id}/approve", http.MethodPost, m.requireModerator(m.handleApprove))
	m.route("/admin/orphans", http.MethodGet, m.requireModerator(m.handleListOrphans))

	return m.mux, nil
}

// route registers h behind the common middleware and the method check.
func (m *Mux) route(pattern, method string, h http.HandlerFunc) {
	m.mux.HandleFunc(pattern, m.withMiddleware(pattern, m.method(method, h)))
}

// method ensures the HTTP method matches the expected method
func (m *Mux) method(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			m.writeErrorDef(w, errordefs.New(errordefs.WITVIS_METHOD_NOT_ALLOWED, "method not allowed", correlationID(r)))
			return
		}
		h(w, r)
	}
}

// rateLimit caps requests per client IP per minute.
func (m *Mux) rateLimit(perMinute int, h http.HandlerFunc) http.HandlerFunc {
	limiter := httprate.Limit(
		perMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			m.writeErrorDef(w, errordefs.New(errordefs.WITVIS_RATE_LIMIT, "too many requests", correlationID(r)))
		}),
	)
	return limiter(h).ServeHTTP
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// withMiddleware applies CORS, correlation ids, request metrics and access logging.
func (m *Mux) withMiddleware(pattern string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		origin := r.Header.Get("Origin")
		allowed := origin != "" && m.originAllowed(origin)
		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}

		// Handle CORS preflight requests
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if allowed {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Correlation-Id")
				w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Add correlation ID if not present
		cid := r.Header.Get("X-Correlation-Id")
		if cid == "" {
			cid = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), ContextKeyCorrelationID, cid)
		r = r.WithContext(context.WithValue(ctx, ContextKeySubject, &requestInfo{}))
		w.Header().Set("X-Correlation-Id", cid)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)

		duration := time.Since(start)
		status := strconv.Itoa(rec.status)
		m.metrics.HTTPRequestTotal.WithLabelValues(r.Method, pattern, status).Inc()
		m.metrics.HTTPRequestDuration.WithLabelValues(r.Method, pattern, status).Observe(duration.Seconds())
		m.logRequest(r, rec.status, duration, cid)
	}
}

func (m *Mux) originAllowed(origin string) bool {
	return slices.Contains(m.corsAllowedOrigins, "*") || slices.Contains(m.corsAllowedOrigins, origin)
}

// requestInfo collects values discovered by inner handlers for the access log.
type requestInfo struct {
	subject string
}

// setSubject records the authenticated subject of r.
func setSubject(r *http.Request, subject string) {
	if info, ok := r.Context().Value(ContextKeySubject).(*requestInfo); ok {
		info.subject = subject
	}
}

// correlationID returns the request's correlation id, if the middleware set one.
func correlationID(r *http.Request) string {
	cid, _ := r.Context().Value(ContextKeyCorrelationID).(string)
	return cid
}

// writeJSON writes v as the whole response body
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// writeSuccess writes a successful response wrapped in a data envelope
func (m *Mux) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	writeJSON(w, statusCode, map[string]interface{}{"data": data})
}

// writeErrorDef writes an error response using the error definitions package.
// The body is flat so "error" stays the plain message string.
func (m *Mux) writeErrorDef(w http.ResponseWriter, err *errordefs.Error) {
	writeJSON(w, err.HTTPStatus, err)
}

// logRequest logs request details
func (m *Mux) logRequest(r *http.Request, status int, duration time.Duration, correlationID string) {
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", duration),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("correlation_id", correlationID),
	}
	if info, ok := r.Context().Value(ContextKeySubject).(*requestInfo); ok && info.subject != "" {
		attrs = append(attrs, slog.String("subject", info.subject))
	}

	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	m.logger.LogAttrs(r.Context(), level, "request completed", attrs...)
}

// handleHealthz handles liveness health check requests
func (m *Mux) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports whether the submission store answers.
func (m *Mux) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := m.store.Ping(ctx); err != nil {
		m.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
