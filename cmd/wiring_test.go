package cmd

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-attendance/internal/camera"
	"github.com/kozaktomas/face-attendance/internal/config"
)

func TestOpenDetector_Backends(t *testing.T) {
	_, err := openDetector(config.ModelsConfig{Backend: "dlib"})
	require.NoError(t, err)

	_, err = openDetector(config.ModelsConfig{Backend: "remote"})
	assert.Error(t, err, "remote backend without EMBEDDING_URL")

	_, err = openDetector(config.ModelsConfig{Backend: "onnx"})
	assert.ErrorContains(t, err, "unknown face backend")
}

func TestModelOptions(t *testing.T) {
	cfg := config.ModelsConfig{
		URL:     "https://models.example",
		Dir:     "models",
		Backend: "dlib",
		Files:   config.ModelFiles{Detector: "a.dat", Landmarks: "b.dat", Recognition: "c.dat"},
	}

	opts := modelOptions(cfg, false)
	assert.Equal(t, []string{"a.dat", "b.dat", "c.dat"}, opts.Files)
	assert.Nil(t, opts.Progress)

	cfg.Backend = "remote"
	opts = modelOptions(cfg, true)
	assert.Empty(t, opts.Files)
	assert.NotNil(t, opts.Progress)
}

func TestOpenCache_DisabledIsDegraded(t *testing.T) {
	c := openCache(config.CacheConfig{Disabled: true}, slog.Default())
	assert.True(t, c.Degraded())

	c = openCache(config.CacheConfig{Path: ""}, slog.Default())
	assert.False(t, c.Degraded(), "empty path keeps an in-memory cache")
}

func TestNewCameraSource_FramesDirWins(t *testing.T) {
	cfg := &config.Config{}
	cfg.Camera.FramesDir = t.TempDir()

	src := newCameraSource(cfg, "")
	_, ok := src.(*camera.DirSource)
	assert.True(t, ok, "expected a DirSource, got %T", src)

	_, err := src.Open(context.Background(), camera.FacingEnvironment)
	assert.ErrorIs(t, err, camera.ErrDeviceUnavailable, "empty frame directory")
}

func TestNewLogger_Levels(t *testing.T) {
	logger := newLogger(config.LogConfig{Level: "debug", Format: "json"})
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	logger = newLogger(config.LogConfig{Level: "nonsense"})
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
}
