// Package descriptors turns the member roster into the labeled descriptor set
// the matcher is built from.
package descriptors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kozaktomas/face-attendance/internal/cache"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/detect"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/metrics"
)

// Extraction stages reported in ExtractionError.
const (
	StageLoad    = "load"
	StagePrepare = "prepare"
	StageDetect  = "detect"
)

// ExtractionError explains why a member got no descriptor.
type ExtractionError struct {
	MemberID string
	Stage    string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("member %s: %s: %v", e.MemberID, e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// ProgressFunc is called after each member with the processed and total counts.
type ProgressFunc func(done, total int)

// Result is the outcome of a build. Labels are member IDs.
type Result struct {
	Labeled []facematch.LabeledDescriptor
	Skipped []database.Member
}

// Builder resolves member descriptors from stored values, the cache or the photo.
type Builder struct {
	detector     detect.Detector
	cache        *cache.Cache
	photos       PhotoLoader
	maxImageSize int
	logger       *slog.Logger
}

// NewBuilder creates a builder. A nil cache behaves like a degraded one and a
// nil photo loader uses HTTPPhotoLoader.
func NewBuilder(detector detect.Detector, c *cache.Cache, photos PhotoLoader, maxImageSize int, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = cache.New(nil, logger)
	}
	if photos == nil {
		photos = NewHTTPPhotoLoader()
	}
	if maxImageSize <= 0 {
		maxImageSize = constants.MaxImageSize
	}
	return &Builder{
		detector:     detector,
		cache:        c,
		photos:       photos,
		maxImageSize: maxImageSize,
		logger:       logger,
	}
}

// Build processes members one at a time in input order. Per-member failures
// land in Result.Skipped; only context cancellation aborts the batch.
func (b *Builder) Build(ctx context.Context, members []database.Member, progress ProgressFunc) (Result, error) {
	var res Result
	total := len(members)

	for i, m := range members {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		d, outcome, err := b.resolve(ctx, m)
		switch {
		case err == nil:
			res.Labeled = append(res.Labeled, facematch.LabeledDescriptor{Label: m.ID, Descriptor: d})
		case ctx.Err() != nil:
			return Result{}, ctx.Err()
		default:
			outcome = "skipped"
			res.Skipped = append(res.Skipped, m)
			b.logger.Warn("skipping member", "member_id", m.ID, "err", err)
		}
		metrics.Extractions.WithLabelValues(outcome).Inc()

		if progress != nil {
			progress(i+1, total)
		}
	}

	b.logger.Info("descriptors built", "labeled", len(res.Labeled), "skipped", len(res.Skipped), "total", total)
	return res, nil
}

// resolve returns the member descriptor and where it came from.
func (b *Builder) resolve(ctx context.Context, m database.Member) (facematch.Descriptor, string, error) {
	if m.Descriptor != nil {
		return *m.Descriptor, "seeded", nil
	}
	if d, ok := b.cache.Get(ctx, m.ID, m.Fingerprint()); ok {
		return d, "cached", nil
	}
	d, err := b.Extract(ctx, m)
	if err != nil {
		return d, "", err
	}
	b.cache.Put(ctx, m.ID, m.Fingerprint(), d)
	return d, "extracted", nil
}

// Extract runs single-face extraction on the member photo, bypassing the cache.
func (b *Builder) Extract(ctx context.Context, m database.Member) (facematch.Descriptor, error) {
	data, err := b.photos.Load(ctx, m.PhotoRef)
	if err != nil {
		return facematch.Descriptor{}, &ExtractionError{MemberID: m.ID, Stage: StageLoad, Err: err}
	}
	jpeg, err := detect.PrepareJPEG(data, b.maxImageSize)
	if err != nil {
		return facematch.Descriptor{}, &ExtractionError{MemberID: m.ID, Stage: StagePrepare, Err: err}
	}
	face, err := b.detector.DetectSingle(ctx, jpeg)
	if err != nil {
		return facematch.Descriptor{}, &ExtractionError{MemberID: m.ID, Stage: StageDetect, Err: err}
	}
	if face == nil {
		return facematch.Descriptor{}, &ExtractionError{MemberID: m.ID, Stage: StageDetect, Err: detect.ErrNoFace}
	}
	return face.Descriptor, nil
}

// IsNoFace reports whether err means the photo had no detectable face.
func IsNoFace(err error) bool {
	return errors.Is(err, detect.ErrNoFace)
}
