// Package mock provides a scriptable detect.Detector for tests.
package mock

import (
	"context"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/detect"
)

// Detector delegates to the configured functions. A nil SingleFunc reports
// ErrNoFace; a nil AllFunc reports no faces.
type Detector struct {
	SingleFunc func(ctx context.Context, jpeg []byte) (*detect.Face, error)
	AllFunc    func(ctx context.Context, jpeg []byte) ([]detect.Face, error)

	mu          sync.Mutex
	singleCalls int
	allCalls    int
	closed      bool
}

func (d *Detector) DetectSingle(ctx context.Context, jpeg []byte) (*detect.Face, error) {
	d.mu.Lock()
	d.singleCalls++
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, detect.ErrClosed
	}
	if d.SingleFunc == nil {
		return nil, detect.ErrNoFace
	}
	return d.SingleFunc(ctx, jpeg)
}

func (d *Detector) DetectAll(ctx context.Context, jpeg []byte) ([]detect.Face, error) {
	d.mu.Lock()
	d.allCalls++
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, detect.ErrClosed
	}
	if d.AllFunc == nil {
		return nil, nil
	}
	return d.AllFunc(ctx, jpeg)
}

func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// SingleCalls returns the number of DetectSingle calls.
func (d *Detector) SingleCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.singleCalls
}

// AllCalls returns the number of DetectAll calls.
func (d *Detector) AllCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allCalls
}

// Closed reports whether Close was called.
func (d *Detector) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
