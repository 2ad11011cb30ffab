// Package dlib runs face detection and descriptor extraction in-process with
// dlib through github.com/Kagami/go-face.
package dlib

import (
	"context"
	"fmt"
	"sync"

	"github.com/Kagami/go-face"

	"github.com/kozaktomas/face-attendance/internal/detect"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// Detector wraps a go-face recognizer. The recognizer is not safe for
// concurrent use, so calls are serialized.
type Detector struct {
	mu     sync.Mutex
	rec    *face.Recognizer
	useCNN bool
}

// Open loads the landmark, recognition and detector models from modelDir.
// useCNN selects the MMOD CNN face detector instead of HOG.
func Open(modelDir string, useCNN bool) (*Detector, error) {
	rec, err := face.NewRecognizer(modelDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize recognizer from %s: %w", modelDir, err)
	}
	return &Detector{rec: rec, useCNN: useCNN}, nil
}

func (d *Detector) recognize(ctx context.Context, jpeg []byte) ([]face.Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rec == nil {
		return nil, detect.ErrClosed
	}
	if d.useCNN {
		return d.rec.RecognizeCNN(jpeg)
	}
	return d.rec.Recognize(jpeg)
}

// DetectAll returns every face found in the JPEG image.
func (d *Detector) DetectAll(ctx context.Context, jpeg []byte) ([]detect.Face, error) {
	found, err := d.recognize(ctx, jpeg)
	if err != nil {
		return nil, fmt.Errorf("recognition failed: %w", err)
	}
	faces := make([]detect.Face, 0, len(found))
	for _, f := range found {
		faces = append(faces, detect.Face{
			Box:        facematch.BoxFromRect(f.Rectangle),
			Descriptor: facematch.Descriptor(f.Descriptor),
		})
	}
	return faces, nil
}

// DetectSingle returns the largest face in the image. go-face's own
// RecognizeSingle gives up on images with more than one face, which is too
// strict for member photos.
func (d *Detector) DetectSingle(ctx context.Context, jpeg []byte) (*detect.Face, error) {
	faces, err := d.DetectAll(ctx, jpeg)
	if err != nil {
		return nil, err
	}
	best := detect.Largest(faces)
	if best == nil {
		return nil, detect.ErrNoFace
	}
	return best, nil
}

func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rec != nil {
		d.rec.Close()
		d.rec = nil
	}
	return nil
}
