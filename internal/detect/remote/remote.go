// Package remote extracts face descriptors through an HTTP embedding service.
//
// The service accepts a multipart image upload on /embed/face and answers with
// every detected face, its [x1, y1, x2, y2] box and a 128-d embedding.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/detect"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

const defaultEmbeddingURL = "http://localhost:8000"

// Client is a detect.Detector backed by the embedding service.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a client for the service at baseURL.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// faceDetection is a single detected face in the service response
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Ping checks that the service answers on /health.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("embedding service unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding service unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

// postImage posts the JPEG as a multipart form and returns the response body.
func (c *Client) postImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func (c *Client) detect(ctx context.Context, jpeg []byte) ([]faceDetection, error) {
	body, err := c.postImage(ctx, "/embed/face", jpeg)
	if err != nil {
		return nil, err
	}
	var faceResp faceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return faceResp.Faces, nil
}

func toFace(fd faceDetection) (detect.Face, error) {
	if fd.Dim != 0 && fd.Dim != constants.DescriptorLength {
		return detect.Face{}, fmt.Errorf("face %d: %w: service reported dim %d", fd.FaceIndex, facematch.ErrDescriptorLength, fd.Dim)
	}
	desc, err := facematch.DescriptorFromSlice(fd.Embedding)
	if err != nil {
		return detect.Face{}, fmt.Errorf("face %d: %w", fd.FaceIndex, err)
	}
	return detect.Face{Box: facematch.BoxFromCorners(fd.BBox), Descriptor: desc}, nil
}

// DetectAll returns every face the service found.
func (c *Client) DetectAll(ctx context.Context, jpeg []byte) ([]detect.Face, error) {
	found, err := c.detect(ctx, jpeg)
	if err != nil {
		return nil, err
	}
	faces := make([]detect.Face, 0, len(found))
	for _, fd := range found {
		f, err := toFace(fd)
		if err != nil {
			return nil, err
		}
		faces = append(faces, f)
	}
	return faces, nil
}

// DetectSingle returns the face with the highest detection score.
func (c *Client) DetectSingle(ctx context.Context, jpeg []byte) (*detect.Face, error) {
	found, err := c.detect(ctx, jpeg)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, detect.ErrNoFace
	}
	best := found[0]
	for _, fd := range found[1:] {
		if fd.DetScore > best.DetScore {
			best = fd
		}
	}
	f, err := toFace(best)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
