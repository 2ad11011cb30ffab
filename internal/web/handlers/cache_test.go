package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/cache"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

func TestCacheHandler_Clear(t *testing.T) {
	c := cache.New(cache.NewMemoryStore(), discardLogger())
	c.Put(context.Background(), "m1", "m1.jpg", facematch.Descriptor{})

	rec := httptest.NewRecorder()
	NewCacheHandler(c).Clear(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/cache", nil))

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if _, ok := c.Get(context.Background(), "m1", "m1.jpg"); ok {
		t.Error("expected cache to be empty")
	}
}

func TestCacheHandler_ClearDegraded(t *testing.T) {
	rec := httptest.NewRecorder()
	NewCacheHandler(cache.New(nil, discardLogger())).Clear(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/cache", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}
