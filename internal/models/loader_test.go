package models

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-attendance/internal/detect"
	"github.com/kozaktomas/face-attendance/internal/detect/mock"
)

var testFiles = []string{"detector.dat", "landmarks.dat", "recognition.dat"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// assetServer serves every requested asset with its own name as content.
func assetServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("weights:" + filepath.Base(r.URL.Path)))
	}))
	t.Cleanup(server.Close)
	return server
}

func countingOpen(opens *atomic.Int32) OpenFunc {
	return func(dir string) (detect.Detector, error) {
		opens.Add(1)
		return &mock.Detector{}, nil
	}
}

func TestLoader_FetchesFromURLOnce(t *testing.T) {
	var hits, opens atomic.Int32
	server := assetServer(t, &hits)
	dir := filepath.Join(t.TempDir(), "models")

	l := NewLoader(Options{Source: server.URL + "/models/", Dir: dir, Files: testFiles}, countingOpen(&opens), discardLogger())
	assert.False(t, l.Loaded())

	d1, err := l.EnsureReady(context.Background())
	require.NoError(t, err)
	d2, err := l.EnsureReady(context.Background())
	require.NoError(t, err)

	assert.Same(t, d1, d2)
	assert.True(t, l.Loaded())
	assert.EqualValues(t, 3, hits.Load())
	assert.EqualValues(t, 1, opens.Load())

	data, err := os.ReadFile(filepath.Join(dir, "landmarks.dat"))
	require.NoError(t, err)
	assert.Equal(t, "weights:landmarks.dat", string(data))
}

func TestLoader_ConcurrentCallersShareLoad(t *testing.T) {
	release := make(chan struct{})
	var hits, opens atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Write([]byte("weights"))
	}))
	defer server.Close()

	l := NewLoader(Options{Source: server.URL, Dir: t.TempDir(), Files: testFiles}, countingOpen(&opens), discardLogger())

	const callers = 8
	var wg sync.WaitGroup
	results := make([]detect.Detector, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = l.EnsureReady(context.Background())
		}()
	}
	close(release)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
	assert.EqualValues(t, 1, opens.Load())
	assert.EqualValues(t, 3, hits.Load())
}

func TestLoader_FailureThenRetry(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() && r.URL.Path == "/recognition.dat" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("weights"))
	}))
	defer server.Close()

	var opens atomic.Int32
	l := NewLoader(Options{Source: server.URL, Dir: t.TempDir(), Files: testFiles}, countingOpen(&opens), discardLogger())

	_, err := l.EnsureReady(context.Background())
	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, "recognition.dat", loadErr.Asset)
	assert.False(t, l.Loaded())
	assert.EqualValues(t, 0, opens.Load())

	fail.Store(false)
	_, err = l.EnsureReady(context.Background())
	require.NoError(t, err)
	assert.True(t, l.Loaded())
}

func TestLoader_LocalDirectorySource(t *testing.T) {
	src := t.TempDir()
	for _, name := range testFiles {
		require.NoError(t, os.WriteFile(filepath.Join(src, name), []byte("local:"+name), 0o644))
	}
	dir := t.TempDir()

	var opens atomic.Int32
	l := NewLoader(Options{Source: src, Dir: dir, Files: testFiles}, countingOpen(&opens), discardLogger())
	_, err := l.EnsureReady(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "detector.dat"))
	require.NoError(t, err)
	assert.Equal(t, "local:detector.dat", string(data))
}

func TestLoader_ExistingAssetsNotFetched(t *testing.T) {
	dir := t.TempDir()
	for _, name := range testFiles {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("cached"), 0o644))
	}
	var hits, opens atomic.Int32
	server := assetServer(t, &hits)

	l := NewLoader(Options{Source: server.URL, Dir: dir, Files: testFiles}, countingOpen(&opens), discardLogger())
	_, err := l.EnsureReady(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, hits.Load())
}

func TestLoader_MissingAssetWithoutSource(t *testing.T) {
	var opens atomic.Int32
	l := NewLoader(Options{Dir: t.TempDir(), Files: testFiles}, countingOpen(&opens), discardLogger())

	_, err := l.EnsureReady(context.Background())
	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, "detector.dat", loadErr.Asset)
}

func TestLoader_OpenFailure(t *testing.T) {
	boom := errors.New("bad weights")
	l := NewLoader(Options{Dir: t.TempDir()}, func(string) (detect.Detector, error) {
		return nil, boom
	}, discardLogger())

	_, err := l.EnsureReady(context.Background())
	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Empty(t, loadErr.Asset)
	assert.ErrorIs(t, err, boom)
	assert.False(t, l.Loaded())
}

func TestLoader_CloseUnloads(t *testing.T) {
	var opens atomic.Int32
	l := NewLoader(Options{Dir: t.TempDir()}, countingOpen(&opens), discardLogger())

	d, err := l.EnsureReady(context.Background())
	require.NoError(t, err)
	require.NoError(t, l.Close())
	assert.True(t, d.(*mock.Detector).Closed())
	assert.False(t, l.Loaded())

	_, err = l.EnsureReady(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, opens.Load())
}

func TestLoader_ProgressWriter(t *testing.T) {
	var hits atomic.Int32
	server := assetServer(t, &hits)

	var mu sync.Mutex
	written := map[string]int{}
	opts := Options{
		Source: server.URL,
		Dir:    t.TempDir(),
		Files:  testFiles,
		Progress: func(name string, size int64) io.Writer {
			return writerFunc(func(p []byte) (int, error) {
				mu.Lock()
				written[name] += len(p)
				mu.Unlock()
				return len(p), nil
			})
		},
	}
	var opens atomic.Int32
	_, err := NewLoader(opts, countingOpen(&opens), discardLogger()).EnsureReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len("weights:detector.dat"), written["detector.dat"])
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func TestLoader_CancelledCallerDoesNotFailJoinedCaller(t *testing.T) {
	started := make(chan struct{}, len(testFiles))
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		w.Write([]byte("weights"))
	}))
	defer server.Close()
	var releaseOnce sync.Once
	releaseAll := func() { releaseOnce.Do(func() { close(release) }) }
	defer releaseAll()

	var opens atomic.Int32
	l := NewLoader(Options{Source: server.URL, Dir: t.TempDir(), Files: testFiles}, countingOpen(&opens), discardLogger())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := l.EnsureReady(firstCtx)
		firstErr <- err
	}()
	<-started

	secondErr := make(chan error, 1)
	go func() {
		_, err := l.EnsureReady(context.Background())
		secondErr <- err
	}()

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	releaseAll()
	select {
	case err := <-secondErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("joined caller never finished")
	}
	assert.True(t, l.Loaded())
	assert.EqualValues(t, 1, opens.Load())
}

func TestLoader_CloseAbortsLoadInFlight(t *testing.T) {
	started := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-r.Context().Done()
	}))
	defer server.Close()

	var opens atomic.Int32
	l := NewLoader(Options{Source: server.URL, Dir: t.TempDir(), Files: testFiles}, countingOpen(&opens), discardLogger())

	errc := make(chan error, 1)
	go func() {
		_, err := l.EnsureReady(context.Background())
		errc <- err
	}()
	<-started
	require.NoError(t, l.Close())

	select {
	case err := <-errc:
		var loadErr *LoadError
		require.True(t, errors.As(err, &loadErr), "got %v", err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("load was not aborted by Close")
	}
	assert.False(t, l.Loaded())
	assert.EqualValues(t, 0, opens.Load())
}
