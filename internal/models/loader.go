// Package models makes the detection and recognition model assets available
// locally and opens the detector on top of them, once per process.
package models

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kozaktomas/face-attendance/internal/detect"
)

// LoadError reports a failed model load. Asset is empty when the assets were
// fetched but the detector could not be opened.
type LoadError struct {
	Asset string
	Err   error
}

func (e *LoadError) Error() string {
	if e.Asset == "" {
		return fmt.Sprintf("failed to load models: %v", e.Err)
	}
	return fmt.Sprintf("failed to load model %s: %v", e.Asset, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// OpenFunc opens a detector over the asset directory.
type OpenFunc func(dir string) (detect.Detector, error)

// Options configures a Loader.
type Options struct {
	// Source is the base URL (http/https) or local directory the assets are
	// copied from. Empty means the assets must already be present in Dir.
	Source string
	Dir    string
	Files  []string

	// Progress, when set, receives a writer that is fed every downloaded byte.
	Progress func(name string, size int64) io.Writer

	HTTPClient *http.Client
}

// Loader fetches the model assets and opens the detector. EnsureReady is
// idempotent after the first success; concurrent callers share the in-flight load.
type Loader struct {
	opts   Options
	open   OpenFunc
	logger *slog.Logger

	group singleflight.Group

	mu         sync.RWMutex
	detector   detect.Detector
	cancelLoad context.CancelFunc
}

func NewLoader(opts Options, open OpenFunc, logger *slog.Logger) *Loader {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{opts: opts, open: open, logger: logger}
}

// Loaded reports whether a previous EnsureReady call succeeded.
func (l *Loader) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.detector != nil
}

// EnsureReady returns the detector, loading it on the first call. A failure
// leaves the loader unloaded so a later call retries from scratch.
//
// The load runs on a context owned by the loader, so a caller that gives up
// only stops waiting; callers that joined the same load still get its
// result. Close aborts a load in flight.
func (l *Loader) EnsureReady(ctx context.Context) (detect.Detector, error) {
	l.mu.RLock()
	d := l.detector
	l.mu.RUnlock()
	if d != nil {
		return d, nil
	}

	ch := l.group.DoChan("load", func() (any, error) {
		return l.load(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			l.logger.Debug("joined in-flight model load")
		}
		return res.Val.(detect.Detector), nil
	}
}

func (l *Loader) load(parent context.Context) (detect.Detector, error) {
	ctx, cancel := context.WithCancel(parent)
	l.mu.Lock()
	if d := l.detector; d != nil {
		l.mu.Unlock()
		cancel()
		return d, nil
	}
	l.cancelLoad = cancel
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.cancelLoad = nil
		l.mu.Unlock()
		cancel()
	}()

	start := time.Now()
	if err := l.fetchAll(ctx); err != nil {
		return nil, err
	}
	d, err := l.open(l.opts.Dir)
	if err != nil {
		return nil, &LoadError{Err: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := ctx.Err(); err != nil {
		// closed while opening
		_ = d.Close()
		return nil, &LoadError{Err: err}
	}
	l.detector = d
	l.logger.Info("models loaded", "dir", l.opts.Dir, "duration", time.Since(start))
	return d, nil
}

// Close aborts a load in flight and releases the detector. The next
// EnsureReady loads it again.
func (l *Loader) Close() error {
	l.mu.Lock()
	d := l.detector
	l.detector = nil
	if l.cancelLoad != nil {
		l.cancelLoad()
	}
	l.mu.Unlock()
	if d == nil {
		return nil
	}
	return d.Close()
}

var (
	sharedOnce   sync.Once
	sharedLoader *Loader
)

// Shared returns the process-wide loader, creating it on the first call.
// Arguments of later calls are ignored.
func Shared(opts Options, open OpenFunc, logger *slog.Logger) *Loader {
	sharedOnce.Do(func() {
		sharedLoader = NewLoader(opts, open, logger)
	})
	return sharedLoader
}
