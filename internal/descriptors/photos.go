package descriptors

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

// PhotoLoader fetches the bytes of a member photo.
type PhotoLoader interface {
	Load(ctx context.Context, ref string) ([]byte, error)
}

// HTTPPhotoLoader loads http(s) references over the network and anything else
// from the local filesystem.
type HTTPPhotoLoader struct {
	client *http.Client
	limit  int64
}

func NewHTTPPhotoLoader() *HTTPPhotoLoader {
	return &HTTPPhotoLoader{
		client: &http.Client{Timeout: 30 * time.Second},
		limit:  constants.PhotoFetchLimit,
	}
}

func (l *HTTPPhotoLoader) Load(ctx context.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, fmt.Errorf("member has no photo")
	}
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		f, err := os.Open(strings.TrimPrefix(ref, "file://"))
		if err != nil {
			return nil, fmt.Errorf("reading photo: %w", err)
		}
		defer f.Close()
		return l.readLimited(f)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("photo download failed (status %d)", resp.StatusCode)
	}
	return l.readLimited(resp.Body)
}

// readLimited reads r, failing once it yields more than the loader's limit.
func (l *HTTPPhotoLoader) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, l.limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read photo: %w", err)
	}
	if int64(len(data)) > l.limit {
		return nil, fmt.Errorf("photo exceeds %d bytes", l.limit)
	}
	return data, nil
}
