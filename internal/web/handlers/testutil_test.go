package handlers

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/cache"
	"github.com/kozaktomas/face-attendance/internal/camera"
	"github.com/kozaktomas/face-attendance/internal/database"
	dbmock "github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/detect"
	"github.com/kozaktomas/face-attendance/internal/detect/mock"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

type stubModels struct {
	err error
}

func (m stubModels) EnsureReady(context.Context) (detect.Detector, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &mock.Detector{}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seededMember(id, name string) database.Member {
	var d facematch.Descriptor
	return database.Member{ID: id, Name: name, PhotoRef: id + ".jpg", Descriptor: &d}
}

// framesDir returns a directory holding one blank JPEG frame.
func framesDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48)), nil); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "0001.jpg"), buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

// newTestSession creates a session over a mock roster. Members are seeded
// with descriptors so initialization needs no photos.
func newTestSession(t *testing.T, models stubModels, members ...database.Member) (*recognition.Session, *dbmock.MockRoster) {
	t.Helper()
	return newTestSessionFrom(t, camera.NewDirSource(framesDir(t)), models, members...)
}

func newTestSessionFrom(t *testing.T, source camera.Source, models stubModels, members ...database.Member) (*recognition.Session, *dbmock.MockRoster) {
	t.Helper()
	roster := dbmock.NewMockRoster()
	for _, m := range members {
		roster.AddMember(m)
	}
	session := recognition.NewSession(recognition.SessionConfig{
		Roster: roster,
		Models: models,
		Cache:  cache.New(cache.NewMemoryStore(), discardLogger()),
		Source: source,
		Logger: discardLogger(),
	})
	t.Cleanup(session.Dispose)
	return session, roster
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
