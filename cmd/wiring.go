package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/kozaktomas/face-attendance/internal/cache"
	"github.com/kozaktomas/face-attendance/internal/camera"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/file"
	"github.com/kozaktomas/face-attendance/internal/database/mariadb"
	"github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/kozaktomas/face-attendance/internal/detect"
	"github.com/kozaktomas/face-attendance/internal/detect/dlib"
	"github.com/kozaktomas/face-attendance/internal/detect/remote"
	"github.com/kozaktomas/face-attendance/internal/models"
)

// openBackends registers every configured storage backend and returns a
// function that closes them. Lookups later pick PostgreSQL over MariaDB over
// the roster file.
func openBackends(cfg *config.Config, logger *slog.Logger) (func(), error) {
	var closers []func() error

	if cfg.Database.URL != "" {
		logger.Info("connecting to PostgreSQL")
		if err := postgres.Initialize(&cfg.Database); err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		closers = append(closers, postgres.GetGlobalPool().Close)
	}

	if cfg.MariaDB.DSN != "" {
		logger.Info("connecting to MariaDB roster")
		pool, err := mariadb.Initialize(cfg.MariaDB.DSN)
		if err != nil {
			closeAll(closers, logger)
			return nil, fmt.Errorf("failed to initialize MariaDB: %w", err)
		}
		closers = append(closers, pool.Close)
	}

	if cfg.Roster.File != "" {
		if _, err := file.Initialize(cfg.Roster.File); err != nil {
			closeAll(closers, logger)
			return nil, fmt.Errorf("failed to load roster file: %w", err)
		}
		logger.Info("using roster file", "path", cfg.Roster.File)
	}

	if !database.IsInitialized() {
		return nil, database.ErrNotConfigured
	}
	logger.Info("roster backend selected", "backend", database.ActiveBackend())

	return func() { closeAll(closers, logger) }, nil
}

func closeAll(closers []func() error, logger *slog.Logger) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			logger.Warn("failed to close backend", "error", err)
		}
	}
}

// openDetector returns the function that turns a model directory into a
// detector for the configured backend.
func openDetector(cfg config.ModelsConfig) (models.OpenFunc, error) {
	switch cfg.Backend {
	case "", "dlib":
		return func(dir string) (detect.Detector, error) {
			d, err := dlib.Open(dir, cfg.CNN)
			if err != nil {
				return nil, err
			}
			return d, nil
		}, nil
	case "remote":
		if cfg.EmbeddingURL == "" {
			return nil, errors.New("EMBEDDING_URL is required for the remote backend")
		}
		return func(string) (detect.Detector, error) {
			client := remote.New(cfg.EmbeddingURL)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := client.Ping(ctx); err != nil {
				return nil, err
			}
			return client, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown face backend %q (expected dlib or remote)", cfg.Backend)
	}
}

// modelOptions describes the assets the loader keeps in the model directory.
// The remote backend needs no local assets.
func modelOptions(cfg config.ModelsConfig, showProgress bool) models.Options {
	opts := models.Options{Source: cfg.URL, Dir: cfg.Dir}
	if cfg.Backend != "remote" {
		opts.Files = cfg.Files.All()
	}
	if showProgress {
		opts.Progress = func(name string, size int64) io.Writer {
			return progressbar.DefaultBytes(size, "downloading "+name)
		}
	}
	return opts
}

// newModelLoader returns the process-wide model loader.
func newModelLoader(cfg config.ModelsConfig, showProgress bool, logger *slog.Logger) (*models.Loader, error) {
	open, err := openDetector(cfg)
	if err != nil {
		return nil, err
	}
	return models.Shared(modelOptions(cfg, showProgress), open, logger), nil
}

// openCache opens the descriptor cache. Failures leave a degraded cache so
// recognition keeps working without it.
func openCache(cfg config.CacheConfig, logger *slog.Logger) *cache.Cache {
	if cfg.Disabled {
		logger.Info("descriptor cache disabled")
		return cache.New(nil, logger)
	}
	c, err := cache.Open(cfg.Path, logger)
	if err != nil {
		logger.Warn("descriptor cache unavailable, continuing without it", "path", cfg.Path, "error", err)
	}
	return c
}

// newCameraSource replays frames from a directory when one is configured and
// opens V4L2 devices otherwise.
func newCameraSource(cfg *config.Config, framesDir string) camera.Source {
	if framesDir == "" {
		framesDir = cfg.Camera.FramesDir
	}
	if framesDir != "" {
		return camera.NewDirSource(framesDir)
	}
	return camera.NewV4L2Source(cfg.Camera.FrontDevice, cfg.Camera.BackDevice,
		cfg.Recognition.DisplayWidth, cfg.Recognition.DisplayHeight)
}
