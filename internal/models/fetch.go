package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// Fetch copies missing assets into the model directory without loading them.
func (l *Loader) Fetch(ctx context.Context) error {
	return l.fetchAll(ctx)
}

// fetchAll makes sure every asset exists in the model directory. Assets
// already present are left alone.
func (l *Loader) fetchAll(ctx context.Context) error {
	if len(l.opts.Files) == 0 {
		return nil
	}
	if err := os.MkdirAll(l.opts.Dir, 0o755); err != nil {
		return &LoadError{Err: fmt.Errorf("creating model directory: %w", err)}
	}
	for _, name := range l.opts.Files {
		if err := ctx.Err(); err != nil {
			return &LoadError{Asset: name, Err: err}
		}
		dst := filepath.Join(l.opts.Dir, name)
		if info, err := os.Stat(dst); err == nil && info.Size() > 0 {
			continue
		}
		if err := l.fetch(ctx, name, dst); err != nil {
			return &LoadError{Asset: name, Err: err}
		}
		l.logger.Info("model asset fetched", "asset", name)
	}
	return nil
}

func (l *Loader) fetch(ctx context.Context, name, dst string) error {
	switch {
	case l.opts.Source == "":
		return fmt.Errorf("%s missing and no model source configured", dst)
	case isRemote(l.opts.Source):
		return l.download(ctx, strings.TrimSuffix(l.opts.Source, "/")+"/"+name, name, dst)
	default:
		f, err := os.Open(filepath.Join(l.opts.Source, name))
		if err != nil {
			return err
		}
		defer f.Close()
		size := int64(-1)
		if info, err := f.Stat(); err == nil {
			size = info.Size()
		}
		return l.writeFile(dst, name, size, f)
	}
}

func (l *Loader) download(ctx context.Context, url, name, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := l.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	return l.writeFile(dst, name, resp.ContentLength, resp.Body)
}

// writeFile streams r into a temporary file next to dst and renames it into
// place, so an interrupted fetch never leaves a truncated asset behind.
func (l *Loader) writeFile(dst, name string, size int64, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+name+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	var w io.Writer = tmp
	if l.opts.Progress != nil {
		w = io.MultiWriter(tmp, l.opts.Progress(name, size))
	}
	n, err := io.Copy(w, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("empty asset")
	}
	return os.Rename(tmp.Name(), dst)
}
