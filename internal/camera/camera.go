// Package camera provides live frame sources for the detection loop.
package camera

import (
	"context"
	"errors"
	"fmt"
)

// FacingMode selects the front ("user") or back ("environment") camera.
type FacingMode string

const (
	FacingUser        FacingMode = "user"
	FacingEnvironment FacingMode = "environment"
)

// Opposite returns the other facing mode.
func (f FacingMode) Opposite() FacingMode {
	if f == FacingUser {
		return FacingEnvironment
	}
	return FacingUser
}

// ParseFacingMode accepts "user" and "environment"; empty selects environment.
func ParseFacingMode(s string) (FacingMode, error) {
	switch FacingMode(s) {
	case FacingUser:
		return FacingUser, nil
	case FacingEnvironment, "":
		return FacingEnvironment, nil
	}
	return "", fmt.Errorf("invalid facing mode %q (want user or environment)", s)
}

var (
	ErrPermissionDenied  = errors.New("camera permission denied")
	ErrDeviceUnavailable = errors.New("camera device unavailable")
	ErrStopped           = errors.New("camera stream stopped")
)

// Error is returned when a camera stream cannot be acquired.
type Error struct {
	Facing FacingMode
	Device string
	Err    error
}

func (e *Error) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("camera (%s): %v", e.Facing, e.Err)
	}
	return fmt.Sprintf("camera %s (%s): %v", e.Device, e.Facing, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Stream is an acquired camera. Frame returns the latest JPEG frame.
// Stop releases the device and is safe to call more than once.
type Stream interface {
	Frame(ctx context.Context) ([]byte, error)
	Facing() FacingMode
	Stop() error
}

// Source acquires streams. Open failures are *Error values.
type Source interface {
	Open(ctx context.Context, facing FacingMode) (Stream, error)
}
