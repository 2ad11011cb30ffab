package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/cache"
)

// CacheHandler manages the descriptor cache.
type CacheHandler struct {
	cache *cache.Cache
}

func NewCacheHandler(c *cache.Cache) *CacheHandler {
	return &CacheHandler{cache: c}
}

// Clear drops every cached descriptor. The next initialization re-extracts.
func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if h.cache.Degraded() {
		respondError(w, http.StatusServiceUnavailable, cache.ErrUnavailable.Error())
		return
	}
	h.cache.Clear(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
