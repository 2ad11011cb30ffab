// Package detect defines the face detection and descriptor extraction
// capability used by the descriptor builder and the live detection loop.
package detect

import (
	"context"
	"errors"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

var (
	// ErrNoFace is returned by DetectSingle when the image contains no face.
	ErrNoFace = errors.New("no face found")

	// ErrClosed is returned after the detector has been closed.
	ErrClosed = errors.New("detector closed")
)

// Face is one localized face with its descriptor. Box is in the pixel
// coordinates of the image passed to the detector.
type Face struct {
	Box        facematch.Box
	Descriptor facematch.Descriptor
}

// Detector localizes faces, aligns landmarks and extracts descriptors.
// Input images are JPEG encoded.
type Detector interface {
	// DetectSingle returns the most prominent face or ErrNoFace.
	DetectSingle(ctx context.Context, jpeg []byte) (*Face, error)
	// DetectAll returns every face in the image; no faces is not an error.
	DetectAll(ctx context.Context, jpeg []byte) ([]Face, error)
	Close() error
}

// Largest returns a copy of the face with the biggest box, or nil for no faces.
// Ties keep the earlier face.
func Largest(faces []Face) *Face {
	var best *Face
	for i := range faces {
		if best == nil || faces[i].Box.Area() > best.Box.Area() {
			f := faces[i]
			best = &f
		}
	}
	return best
}
