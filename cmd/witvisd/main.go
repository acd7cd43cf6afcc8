// Package main implements the entry point for the WITVIS service.
// It initializes all components and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danki-amsterdam/witvis/internal/app"
	"github.com/danki-amsterdam/witvis/internal/auth"
	"github.com/danki-amsterdam/witvis/internal/config"
	"github.com/danki-amsterdam/witvis/internal/event"
	"github.com/danki-amsterdam/witvis/internal/intake"
	"github.com/danki-amsterdam/witvis/internal/media"
	"github.com/danki-amsterdam/witvis/internal/model"
	"github.com/danki-amsterdam/witvis/internal/moderation"
	"github.com/danki-amsterdam/witvis/internal/server"
	"github.com/danki-amsterdam/witvis/internal/storage"
	"github.com/danki-amsterdam/witvis/internal/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("witvisd exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	// Configure structured logging for the application
	logLevel := slog.LevelInfo
	if cfg.Env == "dev" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	tp, err := telemetry.InitTracer("witvis", version, cfg.TraceStdout)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.ShutdownTracer(ctx, tp)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := storage.Close(store); err != nil {
			logger.Warn("closing store failed", "error", err)
		}
	}()

	blobs, err := app.OpenBlobs(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// Initialize event publisher (NATS JetStream or no-op)
	pub := event.NewPublisher(cfg.NATSURL)
	defer pub.Close()

	var verifier *auth.Verifier
	if err := cfg.ValidateModeration(); err != nil {
		if cfg.Env != "dev" {
			return err
		}
		logger.Warn("moderation endpoints disabled", "reason", err)
	} else {
		jwks := auth.NewJWKSClient(cfg.JWKSURL, &http.Client{Timeout: 10 * time.Second})
		verifier = auth.NewVerifier(jwks, cfg.JWTIssuer, cfg.JWTAudience)
	}

	api, err := server.NewMux(server.Options{
		Store: store,
		Intake: intake.New(intake.Options{
			Store:          store,
			Blobs:          blobs,
			Events:         pub,
			Prefix:         cfg.UploadPrefix,
			ReservationTTL: cfg.ReservationTTL,
			Logger:         logger,
		}),
		Moderation:         moderation.New(store, pub, logger),
		Resolver:           app.NewResolver(cfg, store, logger),
		Verifier:           verifier,
		DefaultQuery:       model.Query{Theme: cfg.DefaultTheme, Location: cfg.DefaultLocation},
		MaxUploadSize:      cfg.MaxUploadSize,
		UploadRateLimit:    cfg.UploadRateLimit,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	var handler http.Handler = api
	if mem, ok := blobs.(*media.Memory); ok {
		root := http.NewServeMux()
		root.Handle("/", api)
		root.Handle("/blobs/", mem.Handler("/blobs/"))
		handler = root
	}

	// Create HTTP server with timeout configuration
	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second, // Uploads carry up to WITVIS_MAX_UPLOAD_SIZE of base64
		WriteTimeout:      2*cfg.ProviderTimeout + 10*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", addr, "env", cfg.Env, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	// Handle graceful shutdown
	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("server exited")
	return nil
}
