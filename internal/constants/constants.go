// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Face matching constants
const (
	// DescriptorLength is the number of components in a face descriptor
	DescriptorLength = 128

	// DefaultMatchTolerance is the maximum Euclidean distance at which two
	// descriptors are considered the same person
	// Lower values = stricter matching
	DefaultMatchTolerance = 0.6

	// UnknownLabel is returned by the matcher when no labeled descriptor is close enough
	UnknownLabel = "unknown"
)

// Live detection constants
const (
	// DefaultDetectionInterval is the minimum time between two detection passes
	DefaultDetectionInterval = 500 * time.Millisecond

	// DefaultRenderInterval is the cadence of detection cycle attempts (one display refresh at 60 Hz)
	DefaultRenderInterval = time.Second / 60

	// DefaultDisplayWidth and DefaultDisplayHeight are the ideal camera resolution
	DefaultDisplayWidth  = 640
	DefaultDisplayHeight = 480
)

// Processing constants
const (
	// MaxImageSize is the maximum dimension (width or height) for member photos before extraction
	MaxImageSize = 1024

	// JPEGQuality is used when re-encoding photos for the detector
	JPEGQuality = 90

	// PhotoFetchLimit caps the size of a member photo, downloaded or local
	PhotoFetchLimit = 20 << 20
)

// Event constants
const (
	// EventChannelBuffer is the buffer size of each session event listener
	EventChannelBuffer = 64
)
