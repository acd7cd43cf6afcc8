// Package config provides configuration loading and management for the WITVIS service.
// It handles environment variable parsing and provides default values for all settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// init loads environment variables from .env files during package initialization.
// godotenv.Load() does not override already-set environment variables,
// preserving OS env > .env precedence.
func init() {
	// Load .env file if it exists (for shared development config)
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	// Load .env.local if it exists (for local overrides, gitignored)
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Config captures environment-driven settings for the WITVIS service.
type Config struct {
	Env         string // Deployment environment (dev, staging, prod)
	Port        string // HTTP server port
	DatabaseDSN string // PostgreSQL connection string
	SQLitePath  string // SQLite database file (used when DatabaseDSN is empty)
	NATSURL     string // NATS server URL

	// Blob storage
	S3Endpoint   string // S3-compatible storage endpoint
	S3Region     string // S3 region
	S3Bucket     string // S3 bucket name
	S3AccessKey  string // S3 access key
	S3SecretKey  string // S3 secret key
	S3PublicURL  string // Public base URL objects are served from
	UploadPrefix string // Object key prefix for submissions

	// Image providers
	UnsplashAccessKey string        // Unsplash API access key (provider A)
	PexelsAPIKey      string        // Pexels API key (provider B)
	ProviderTimeout   time.Duration // Per-call timeout for provider searches
	ProviderCacheTTL  time.Duration // How long non-empty provider results are cached
	ProviderRate      float64       // Provider calls per second allowed per provider

	// Intake
	MaxUploadSize   int64         // Maximum request body size in bytes (default 10MB)
	UploadRateLimit int           // Upload requests per minute per client IP
	ReservationTTL  time.Duration // Lease on a reserved row before it counts as an orphan

	// Moderation auth
	JWTIssuer   string // Expected issuer for JWT validation
	JWTAudience string // Expected audience for JWT validation
	JWKSURL     string // JWKS endpoint, defaults to {issuer}/.well-known/jwks.json

	// Display defaults
	DefaultTheme    string        // Theme used when a query leaves it empty
	DefaultLocation string        // Location used when a query leaves it empty
	SlideInterval   time.Duration // Slideshow rotation interval

	// CORS configuration
	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)

	TraceStdout bool // Export OpenTelemetry spans to stdout
}

// Default configuration values used when environment variables are not set
const (
	defaultPort            = "8080"
	defaultS3Region        = "us-east-1"
	defaultEnv             = "dev"
	defaultUploadPrefix    = "hitvis/uploads"
	defaultTheme           = "vibe"
	defaultLocation        = "Svalbard"
	defaultMaxUploadSize   = 10 * 1024 * 1024
	defaultUploadRateLimit = 20
	defaultProviderRate    = 1.0
	defaultProviderTimeout = 10 * time.Second
	defaultProviderTTL     = 10 * time.Minute
	defaultReservationTTL  = 2 * time.Minute
	defaultSlideInterval   = 8 * time.Second
)

// Load reads environment variables and produces a Config suitable for wiring the service.
// Returns an error if a value is present but cannot be parsed.
func Load() (Config, error) {
	cfg := Config{
		Env:             getEnv("WITVIS_ENV", defaultEnv),
		Port:            getEnv("WITVIS_PORT", defaultPort),
		S3Region:        getEnv("WITVIS_S3_REGION", defaultS3Region),
		UploadPrefix:    strings.Trim(getEnv("WITVIS_UPLOAD_PREFIX", defaultUploadPrefix), "/"),
		DefaultTheme:    getEnv("WITVIS_DEFAULT_THEME", defaultTheme),
		DefaultLocation: getEnv("WITVIS_DEFAULT_LOCATION", defaultLocation),
	}

	// Handle optional variables
	if dsn, exists := os.LookupEnv("WITVIS_DB_DSN"); exists {
		cfg.DatabaseDSN = dsn
	}
	if path, exists := os.LookupEnv("WITVIS_SQLITE_PATH"); exists {
		cfg.SQLitePath = path
	}
	if natsURL, exists := os.LookupEnv("WITVIS_NATS_URL"); exists {
		cfg.NATSURL = natsURL
	}
	if s3Endpoint, exists := os.LookupEnv("WITVIS_S3_ENDPOINT"); exists {
		cfg.S3Endpoint = s3Endpoint
	}
	if s3Bucket, exists := os.LookupEnv("WITVIS_S3_BUCKET"); exists {
		cfg.S3Bucket = s3Bucket
	}
	if s3AccessKey, exists := os.LookupEnv("WITVIS_S3_ACCESS_KEY"); exists {
		cfg.S3AccessKey = s3AccessKey
	}
	if s3SecretKey, exists := os.LookupEnv("WITVIS_S3_SECRET_KEY"); exists {
		cfg.S3SecretKey = s3SecretKey
	}
	if publicURL, exists := os.LookupEnv("WITVIS_S3_PUBLIC_URL"); exists {
		cfg.S3PublicURL = strings.TrimRight(publicURL, "/")
	}
	if key, exists := os.LookupEnv("WITVIS_UNSPLASH_ACCESS_KEY"); exists {
		cfg.UnsplashAccessKey = key
	}
	if key, exists := os.LookupEnv("WITVIS_PEXELS_API_KEY"); exists {
		cfg.PexelsAPIKey = key
	}
	if jwtIssuer, exists := os.LookupEnv("WITVIS_JWT_ISSUER"); exists {
		cfg.JWTIssuer = strings.TrimRight(jwtIssuer, "/")
	}
	if jwtAudience, exists := os.LookupEnv("WITVIS_JWT_AUDIENCE"); exists {
		cfg.JWTAudience = jwtAudience
	}
	if jwksURL, exists := os.LookupEnv("WITVIS_JWKS_URL"); exists {
		cfg.JWKSURL = jwksURL
	} else if cfg.JWTIssuer != "" {
		cfg.JWKSURL = cfg.JWTIssuer + "/.well-known/jwks.json"
	}

	var err error
	if cfg.MaxUploadSize, err = getInt64("WITVIS_MAX_UPLOAD_SIZE", defaultMaxUploadSize); err != nil {
		return cfg, err
	}
	uploadRate, err := getInt64("WITVIS_UPLOAD_RATE_LIMIT", defaultUploadRateLimit)
	if err != nil {
		return cfg, err
	}
	cfg.UploadRateLimit = int(uploadRate)

	if cfg.ProviderTimeout, err = getDuration("WITVIS_PROVIDER_TIMEOUT", defaultProviderTimeout); err != nil {
		return cfg, err
	}
	if cfg.ProviderCacheTTL, err = getDuration("WITVIS_PROVIDER_CACHE_TTL", defaultProviderTTL); err != nil {
		return cfg, err
	}
	if cfg.ReservationTTL, err = getDuration("WITVIS_RESERVATION_TTL", defaultReservationTTL); err != nil {
		return cfg, err
	}
	if cfg.SlideInterval, err = getDuration("WITVIS_SLIDE_INTERVAL", defaultSlideInterval); err != nil {
		return cfg, err
	}

	cfg.ProviderRate = defaultProviderRate
	if v, exists := os.LookupEnv("WITVIS_PROVIDER_RATE"); exists {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("WITVIS_PROVIDER_RATE: %w", err)
		}
		cfg.ProviderRate = rate
	}

	// Handle CORS configuration
	if corsOrigins, exists := os.LookupEnv("WITVIS_CORS_ALLOWED_ORIGINS"); exists {
		cfg.CORSAllowedOrigins = splitList(corsOrigins)
	}

	if v, exists := os.LookupEnv("WITVIS_TRACE_STDOUT"); exists {
		cfg.TraceStdout = parseBool(v)
	}

	return cfg, nil
}

// ValidateModeration checks the settings the moderation endpoints cannot run without.
func (c Config) ValidateModeration() error {
	if c.JWTIssuer == "" {
		return fmt.Errorf("WITVIS_JWT_ISSUER is required")
	}
	if c.JWTAudience == "" {
		return fmt.Errorf("WITVIS_JWT_AUDIENCE is required")
	}
	return nil
}

// S3Enabled reports whether enough blob storage settings are present to use S3.
func (c Config) S3Enabled() bool {
	return c.S3Endpoint != "" && c.S3Bucket != ""
}

// getEnv retrieves an environment variable value, returning a fallback if not set or empty
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}

// getInt64 parses an integer variable, returning the fallback when unset.
func getInt64(key string, fallback int64) (int64, error) {
	v, exists := os.LookupEnv(key)
	if !exists || v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// getDuration parses a Go duration ("90s", "5m"), returning the fallback when unset.
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, exists := os.LookupEnv(key)
	if !exists || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// splitList splits a comma-separated value and trims each entry
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseBool converts a string to a boolean value, returning false if parsing fails
func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}
