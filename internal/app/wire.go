// Package app builds the shared collaborators of the WITVIS binaries from
// configuration. Each constructor picks a backend from the settings present
// and logs the choice.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/danki-amsterdam/witvis/internal/config"
	"github.com/danki-amsterdam/witvis/internal/media"
	"github.com/danki-amsterdam/witvis/internal/provider"
	"github.com/danki-amsterdam/witvis/internal/resolve"
	"github.com/danki-amsterdam/witvis/internal/storage"
)

// OpenStore returns the Postgres store when a DSN is set, the SQLite store
// when a file path is set, and the in-memory store otherwise.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	switch {
	case cfg.DatabaseDSN != "":
		store, err := storage.NewPostgres(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		logger.Info("using postgres store")
		return store, nil
	case cfg.SQLitePath != "":
		store, err := storage.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		logger.Info("using sqlite store", "path", cfg.SQLitePath)
		return store, nil
	default:
		logger.Warn("no database configured, submissions are kept in memory")
		return storage.NewMemory(), nil
	}
}

// OpenBlobs returns the S3 store when a bucket is configured and an
// in-memory store otherwise.
func OpenBlobs(ctx context.Context, cfg config.Config, logger *slog.Logger) (media.BlobStore, error) {
	if !cfg.S3Enabled() {
		logger.Warn("no S3 bucket configured, uploads are kept in memory")
		return media.NewMemory("http://localhost:" + cfg.Port + "/blobs"), nil
	}
	blobs, err := media.NewS3Store(ctx, media.S3Options{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		PublicURL: cfg.S3PublicURL,
	})
	if err != nil {
		return nil, fmt.Errorf("open s3 store: %w", err)
	}
	logger.Info("using s3 blob store", "bucket", cfg.S3Bucket)
	return blobs, nil
}

// NewResolver assembles the fallback chain: published submissions first,
// then Unsplash, then Pexels. Providers without a key are left out.
func NewResolver(cfg config.Config, store storage.Store, logger *slog.Logger) *resolve.Resolver {
	tiers := []resolve.Source{resolve.NewLocalSource(store)}

	if cfg.UnsplashAccessKey != "" {
		tiers = append(tiers, cached(cfg, provider.NewUnsplash(providerOptions(cfg, cfg.UnsplashAccessKey, logger))))
	} else {
		logger.Warn("WITVIS_UNSPLASH_ACCESS_KEY not set, skipping Unsplash")
	}
	if cfg.PexelsAPIKey != "" {
		tiers = append(tiers, cached(cfg, provider.NewPexels(providerOptions(cfg, cfg.PexelsAPIKey, logger))))
	} else {
		logger.Warn("WITVIS_PEXELS_API_KEY not set, skipping Pexels")
	}

	r := resolve.New(logger, tiers...)
	logger.Info("resolution chain ready", "tiers", r.Tiers())
	return r
}

func providerOptions(cfg config.Config, key string, logger *slog.Logger) provider.Options {
	return provider.Options{
		APIKey:  key,
		Timeout: cfg.ProviderTimeout,
		Rate:    cfg.ProviderRate,
		Logger:  logger,
	}
}

func cached(cfg config.Config, s provider.Searcher) resolve.Source {
	if cfg.ProviderCacheTTL <= 0 {
		return s
	}
	return provider.NewCached(s, cfg.ProviderCacheTTL)
}
