//go:build linux && (amd64 || arm64)

package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// V4L2 ioctl encoding (asm-generic/ioctl.h).
const (
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | uintptr('V')<<8 | nr
}

var (
	vidiocSFmt      = ioc(iocRead|iocWrite, 5, unsafe.Sizeof(v4l2Format{}))
	vidiocReqbufs   = ioc(iocRead|iocWrite, 8, unsafe.Sizeof(v4l2RequestBuffers{}))
	vidiocQuerybuf  = ioc(iocRead|iocWrite, 9, unsafe.Sizeof(v4l2Buffer{}))
	vidiocQbuf      = ioc(iocRead|iocWrite, 15, unsafe.Sizeof(v4l2Buffer{}))
	vidiocDqbuf     = ioc(iocRead|iocWrite, 17, unsafe.Sizeof(v4l2Buffer{}))
	vidiocStreamon  = ioc(iocWrite, 18, unsafe.Sizeof(int32(0)))
	vidiocStreamoff = ioc(iocWrite, 19, unsafe.Sizeof(int32(0)))
)

const (
	v4l2BufTypeVideoCapture = 1
	v4l2MemoryMmap          = 1
	v4l2FieldAny            = 0
	v4l2PixFmtMJPEG         = 0x47504a4d // 'MJPG'

	streamBuffers = 2
	pollInterval  = 100 * time.Millisecond
)

type v4l2PixFormat struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

// v4l2Format mirrors struct v4l2_format on 64-bit kernels: the 200 byte
// union is 8-byte aligned.
type v4l2Format struct {
	typ uint32
	_   uint32
	pix v4l2PixFormat
	_   [200 - unsafe.Sizeof(v4l2PixFormat{})]byte
}

type v4l2RequestBuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	_            [3]uint8
}

type v4l2Timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}

type v4l2Buffer struct {
	index     uint32
	typ       uint32
	bytesused uint32
	flags     uint32
	field     uint32
	timestamp unix.Timeval
	timecode  v4l2Timecode
	sequence  uint32
	memory    uint32
	offset    uint32 // m.offset; the union is pointer sized
	_         uint32
	length    uint32
	_         uint32
	requestFD int32
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// V4L2Source opens MJPEG capture devices, one per facing mode.
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

func (s *V4L2Source) Open(ctx context.Context, facing FacingMode) (Stream, error) {
	device := s.Devices[facing]
	if device == "" {
		return nil, &Error{Facing: facing, Err: fmt.Errorf("%w: no device configured", ErrDeviceUnavailable)}
	}
	if err := ctx.Err(); err != nil {
		return nil, &Error{Facing: facing, Device: device, Err: err}
	}

	stream, err := openV4L2(device, s.Width, s.Height)
	if err != nil {
		return nil, &Error{Facing: facing, Device: device, Err: classify(err)}
	}
	stream.facing = facing
	return stream, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENODEV),
		errors.Is(err, unix.EBUSY), errors.Is(err, unix.ENXIO):
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return err
}

type v4l2Stream struct {
	facing FacingMode

	mu      sync.Mutex
	fd      int
	buffers [][]byte
	stopped bool
}

func openV4L2(device string, width, height int) (*v4l2Stream, error) {
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("opening device: %w", err)
	}
	s := &v4l2Stream{fd: fd}

	if err := s.setup(width, height); err != nil {
		s.release()
		return nil, err
	}
	return s, nil
}

func (s *v4l2Stream) setup(width, height int) error {
	format := v4l2Format{typ: v4l2BufTypeVideoCapture}
	format.pix.width = uint32(width)
	format.pix.height = uint32(height)
	format.pix.pixelformat = v4l2PixFmtMJPEG
	format.pix.field = v4l2FieldAny
	if err := ioctl(s.fd, vidiocSFmt, unsafe.Pointer(&format)); err != nil {
		return fmt.Errorf("setting MJPEG format: %w", err)
	}

	req := v4l2RequestBuffers{count: streamBuffers, typ: v4l2BufTypeVideoCapture, memory: v4l2MemoryMmap}
	if err := ioctl(s.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("requesting buffers: %w", err)
	}
	if req.count == 0 {
		return fmt.Errorf("requesting buffers: %w", unix.ENOMEM)
	}

	for i := range req.count {
		buf := v4l2Buffer{index: i, typ: v4l2BufTypeVideoCapture, memory: v4l2MemoryMmap}
		if err := ioctl(s.fd, vidiocQuerybuf, unsafe.Pointer(&buf)); err != nil {
			return fmt.Errorf("querying buffer %d: %w", i, err)
		}
		data, err := unix.Mmap(s.fd, int64(buf.offset), int(buf.length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return fmt.Errorf("mapping buffer %d: %w", i, err)
		}
		s.buffers = append(s.buffers, data)
		if err := ioctl(s.fd, vidiocQbuf, unsafe.Pointer(&buf)); err != nil {
			return fmt.Errorf("queueing buffer %d: %w", i, err)
		}
	}

	typ := int32(v4l2BufTypeVideoCapture)
	if err := ioctl(s.fd, vidiocStreamon, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}
	return nil
}

// Frame waits for the next filled buffer, copies it out and requeues it.
func (s *v4l2Stream) Frame(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return nil, ErrStopped
		}
		fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, int(pollInterval/time.Millisecond))
		if err != nil && !errors.Is(err, unix.EINTR) {
			s.mu.Unlock()
			return nil, fmt.Errorf("polling device: %w", err)
		}
		if n <= 0 {
			s.mu.Unlock()
			continue
		}

		buf := v4l2Buffer{typ: v4l2BufTypeVideoCapture, memory: v4l2MemoryMmap}
		if err := ioctl(s.fd, vidiocDqbuf, unsafe.Pointer(&buf)); err != nil {
			s.mu.Unlock()
			if errors.Is(err, unix.EAGAIN) {
				continue
			}
			return nil, fmt.Errorf("dequeueing buffer: %w", classify(err))
		}
		frame := make([]byte, buf.bytesused)
		copy(frame, s.buffers[buf.index][:buf.bytesused])
		err = ioctl(s.fd, vidiocQbuf, unsafe.Pointer(&buf))
		s.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("requeueing buffer: %w", err)
		}
		return frame, nil
	}
}

func (s *v4l2Stream) Facing() FacingMode {
	return s.facing
}

func (s *v4l2Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	typ := int32(v4l2BufTypeVideoCapture)
	err := ioctl(s.fd, vidiocStreamoff, unsafe.Pointer(&typ))
	return errors.Join(err, s.release())
}

func (s *v4l2Stream) release() error {
	var errs []error
	for _, b := range s.buffers {
		errs = append(errs, unix.Munmap(b))
	}
	s.buffers = nil
	errs = append(errs, unix.Close(s.fd))
	return errors.Join(errs...)
}
