// Package cache keeps the last extracted descriptor of every member, keyed by
// member ID and guarded by the photo fingerprint it was derived from.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/metrics"
)

// ErrUnavailable is returned by stores that cannot be used (closed, failed to open).
var ErrUnavailable = errors.New("descriptor cache unavailable")

// Entry is one persisted descriptor.
type Entry struct {
	MemberID    string
	Fingerprint string
	Descriptor  facematch.Descriptor
	CreatedAt   time.Time
}

// Store is the persistence backend of the cache.
// Load returns (nil, nil) when no entry exists for the member.
type Store interface {
	Load(ctx context.Context, memberID string) (*Entry, error)
	Save(ctx context.Context, entry Entry) error
	Clear(ctx context.Context) error
	Close() error
}

// Cache wraps a Store with best-effort semantics: reads never fail, writes
// never fail, and a nil store degrades the cache to always-miss.
type Cache struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	warnOnce sync.Once
}

// New returns a cache over store. A nil store yields a degraded cache.
func New(store Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, logger: logger, now: time.Now}
}

// Open opens the SQLite store at path and wraps it. An empty path keeps the
// cache in memory. If the file cannot be opened the cache is returned
// degraded together with the error, so callers may log and carry on.
func Open(path string, logger *slog.Logger) (*Cache, error) {
	if path == "" {
		return New(NewMemoryStore(), logger), nil
	}
	store, err := OpenSQLite(path)
	if err != nil {
		return New(nil, logger), errors.Join(ErrUnavailable, err)
	}
	return New(store, logger), nil
}

// Degraded reports whether the cache has no usable backing store.
func (c *Cache) Degraded() bool {
	return c.store == nil
}

// Get returns the cached descriptor only when it was stored against fingerprint.
func (c *Cache) Get(ctx context.Context, memberID, fingerprint string) (facematch.Descriptor, bool) {
	if c.store == nil {
		metrics.CacheLookups.WithLabelValues("degraded").Inc()
		return facematch.Descriptor{}, false
	}
	entry, err := c.store.Load(ctx, memberID)
	if err != nil {
		c.storeFailed("load", err, memberID)
		return facematch.Descriptor{}, false
	}
	if entry == nil || entry.Fingerprint != fingerprint {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return facematch.Descriptor{}, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return entry.Descriptor, true
}

// Put stores the descriptor for memberID, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, memberID, fingerprint string, d facematch.Descriptor) {
	if c.store == nil {
		return
	}
	err := c.store.Save(ctx, Entry{
		MemberID:    memberID,
		Fingerprint: fingerprint,
		Descriptor:  d,
		CreatedAt:   c.now(),
	})
	if err != nil {
		c.storeFailed("save", err, memberID)
	}
}

// Clear drops every entry.
func (c *Cache) Clear(ctx context.Context) {
	if c.store == nil {
		return
	}
	if err := c.store.Clear(ctx); err != nil {
		c.storeFailed("clear", err, "")
	}
}

// Close releases the backing store.
func (c *Cache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

func (c *Cache) storeFailed(op string, err error, memberID string) {
	metrics.CacheErrors.WithLabelValues(op).Inc()
	if errors.Is(err, ErrUnavailable) {
		c.warnOnce.Do(func() {
			c.logger.Warn("descriptor cache unavailable, continuing without it", "op", op, "err", err)
		})
		return
	}
	c.logger.Warn("descriptor cache operation failed", "op", op, "member_id", memberID, "err", err)
}
