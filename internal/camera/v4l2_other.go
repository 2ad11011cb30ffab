//go:build !(linux && (amd64 || arm64))

package camera

import (
	"context"
	"fmt"
)

// V4L2Source is only functional on 64-bit Linux.
type V4L2Source struct {
	Devices map[FacingMode]string
	Width   int
	Height  int
}

func NewV4L2Source(front, back string, width, height int) *V4L2Source {
	return &V4L2Source{
		Devices: map[FacingMode]string{FacingUser: front, FacingEnvironment: back},
		Width:   width,
		Height:  height,
	}
}

func (s *V4L2Source) Open(_ context.Context, facing FacingMode) (Stream, error) {
	return nil, &Error{Facing: facing, Device: s.Devices[facing], Err: fmt.Errorf("%w: V4L2 capture is not supported on this platform", ErrDeviceUnavailable)}
}
