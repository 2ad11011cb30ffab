package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// DirSource replays JPEG files from a directory in name order, looping
// forever. A "user" or "environment" subdirectory, when present, is used for
// that facing mode.
type DirSource struct {
	Dir string
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{Dir: dir}
}

func (s *DirSource) Open(ctx context.Context, facing FacingMode) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Facing: facing, Device: s.Dir, Err: err}
	}
	dir := s.Dir
	if info, err := os.Stat(filepath.Join(s.Dir, string(facing))); err == nil && info.IsDir() {
		dir = filepath.Join(s.Dir, string(facing))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsPermission(err) {
			return nil, &Error{Facing: facing, Device: dir, Err: ErrPermissionDenied}
		}
		return nil, &Error{Facing: facing, Device: dir, Err: fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)}
	}

	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".jpg" || ext == ".jpeg") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, &Error{Facing: facing, Device: dir, Err: fmt.Errorf("%w: no JPEG frames", ErrDeviceUnavailable)}
	}
	slices.Sort(files)
	return &dirStream{facing: facing, files: files}, nil
}

type dirStream struct {
	facing FacingMode
	files  []string

	mu      sync.Mutex
	next    int
	stopped bool
}

func (s *dirStream) Frame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	path := s.files[s.next]
	s.next = (s.next + 1) % len(s.files)
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading frame %s: %w", path, err)
	}
	return data, nil
}

func (s *dirStream) Facing() FacingMode {
	return s.facing
}

func (s *dirStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}
