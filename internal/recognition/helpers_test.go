package recognition

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-attendance/internal/camera"
	"github.com/kozaktomas/face-attendance/internal/detect"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// descriptorAt returns a descriptor at distance v from the zero descriptor.
func descriptorAt(v float32) facematch.Descriptor {
	var d facematch.Descriptor
	d[0] = v
	return d
}

func jpegFrame(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height)), nil))
	return buf.Bytes()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// idleTicker never fires; tests drive the loop through tick.
type idleTicker struct{}

func (idleTicker) C() <-chan time.Time { return nil }
func (idleTicker) Stop()               {}

func newIdleTicker(time.Duration) Ticker { return idleTicker{} }

type fakeStream struct {
	facing camera.FacingMode
	frame  []byte

	mu       sync.Mutex
	frameErr error
	stopped  bool
}

func (s *fakeStream) Frame(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, camera.ErrStopped
	}
	if s.frameErr != nil {
		return nil, s.frameErr
	}
	return s.frame, nil
}

func (s *fakeStream) Facing() camera.FacingMode {
	return s.facing
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeSource struct {
	frame []byte

	mu      sync.Mutex
	errs    map[camera.FacingMode]error
	streams []*fakeStream
}

func (s *fakeSource) Open(_ context.Context, facing camera.FacingMode) (camera.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[facing]; err != nil {
		return nil, &camera.Error{Facing: facing, Err: err}
	}
	st := &fakeStream{facing: facing, frame: s.frame}
	s.streams = append(s.streams, st)
	return st, nil
}

func (s *fakeSource) failWith(facing camera.FacingMode, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errs == nil {
		s.errs = make(map[camera.FacingMode]error)
	}
	s.errs[facing] = err
}

func (s *fakeSource) Streams() []*fakeStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeStream(nil), s.streams...)
}

type fakeModels struct {
	detector detect.Detector

	mu    sync.Mutex
	errs  []error // returned by successive calls, then success
	calls int
}

func (m *fakeModels) EnsureReady(ctx context.Context) (detect.Detector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	return m.detector, nil
}

func (m *fakeModels) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// drain collects every event currently buffered on ch.
func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}
