package descriptors

import (
	"context"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// SyncResult reports which members got a stored descriptor.
type SyncResult struct {
	Saved  []database.Member
	Failed []database.Member
}

// Sync extracts descriptors for members that have none stored and writes them
// through w, so later sessions can skip extraction entirely. Members that
// already carry a descriptor are not touched. Progress counts only the
// members that needed work.
func (b *Builder) Sync(ctx context.Context, members []database.Member, w database.DescriptorWriter, progress ProgressFunc) (SyncResult, error) {
	var res SyncResult
	pending := database.MembersWithoutDescriptor(members)

	for i, m := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		d, err := b.resolveForSync(ctx, m)
		if err == nil {
			if err = w.SaveDescriptor(ctx, m.ID, d); err != nil {
				err = fmt.Errorf("saving descriptor for %s: %w", m.ID, err)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			b.logger.Warn("descriptor sync failed", "member_id", m.ID, "err", err)
			res.Failed = append(res.Failed, m)
		} else {
			res.Saved = append(res.Saved, m)
		}

		if progress != nil {
			progress(i+1, len(pending))
		}
	}
	return res, nil
}

func (b *Builder) resolveForSync(ctx context.Context, m database.Member) (facematch.Descriptor, error) {
	if cached, ok := b.cache.Get(ctx, m.ID, m.Fingerprint()); ok {
		return cached, nil
	}
	extracted, err := b.Extract(ctx, m)
	if err != nil {
		return facematch.Descriptor{}, err
	}
	b.cache.Put(ctx, m.ID, m.Fingerprint(), extracted)
	return extracted, nil
}
