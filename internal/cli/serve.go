package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilupskalvis/picstash/internal/blobstore"
	"github.com/kilupskalvis/picstash/internal/config"
	"github.com/kilupskalvis/picstash/internal/ingest"
	"github.com/kilupskalvis/picstash/internal/metastore"
	"github.com/kilupskalvis/picstash/internal/server"
	"github.com/kilupskalvis/picstash/internal/vision"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the picstash server",
	Long: `Start the picstash HTTP server.

Blobs go to the store named by storage_url (file:// or s3://) and
metadata to the database named by meta_url (bolt:// or sqlite://).
Without an AI API key the analysis gateway runs in degraded mode:
uploads succeed with an empty caption and label set.

Examples:
  picstash serve
  picstash serve --config /etc/picstash.toml
  PICSTASH_STORAGE_URL=s3://photos/blobs picstash serve`,
	Run: runServe,
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitError("%v", err)
	}

	logger := newLogger(cfg)

	blobs, err := openBlobStore(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to open blob store", "error", err, "url", cfg.StorageURL)
		os.Exit(1)
	}

	meta, err := metastore.Open(cfg.MetaURL)
	if err != nil {
		logger.Error("failed to open metadata store", "error", err, "url", cfg.MetaURL)
		os.Exit(1)
	}
	defer meta.Close()

	if cfg.AI.APIKey == "" {
		logger.Warn("no AI API key configured, analysis runs in degraded mode")
	}
	analyzer := vision.New(&vision.Opts{
		BaseURL: cfg.AI.BaseURL,
		APIKey:  cfg.AI.APIKey,
		Model:   cfg.AI.Model,
		Logger:  logger,
	})

	core := ingest.New(blobs, meta, analyzer, cfg.MaxUploadBytes, logger)

	srvCfg := server.DefaultServerConfig()
	srvCfg.MaxUploadBytes = cfg.MaxUploadBytes
	srvCfg.AdminToken = cfg.AdminToken

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Handler(core, srvCfg, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return context.Background() },
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting picstash server",
			"listen", cfg.Listen,
			"storage_url", cfg.StorageURL,
			"meta_url", cfg.MetaURL,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// openBlobStore builds the blob store named by storage_url:
// file:///path for the local filesystem, s3://bucket/prefix for S3.
func openBlobStore(ctx context.Context, cfg *config.Config) (blobstore.BlobStore, error) {
	u, err := url.Parse(cfg.StorageURL)
	if err != nil {
		return nil, fmt.Errorf("parse storage url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file", "":
		path := u.Path
		if u.Host != "" {
			// Tolerate file://relative/path without the third slash.
			path = u.Host + path
		}
		if path == "" {
			return nil, fmt.Errorf("storage url %q has no path", cfg.StorageURL)
		}
		return blobstore.NewFSStore(path)
	case "s3":
		if u.Host == "" {
			return nil, fmt.Errorf("storage url %q has no bucket", cfg.StorageURL)
		}
		return blobstore.NewS3Store(ctx, &blobstore.S3Opts{
			Bucket:    u.Host,
			Prefix:    u.Path,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", u.Scheme)
	}
}
