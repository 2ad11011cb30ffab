package database

import (
	"context"
	"time"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// RosterReader provides the members the recognition engine should know.
type RosterReader interface {
	// ActiveMembers returns active members in a stable order
	ActiveMembers(ctx context.Context) ([]Member, error)
}

// TargetReader lists the events open for check-in.
type TargetReader interface {
	// ActiveTargets returns open events, most recent first
	ActiveTargets(ctx context.Context) ([]Target, error)
}

// AttendanceWriter records check-ins.
type AttendanceWriter interface {
	// MarkPresent upserts a present record for the member; repeated calls are harmless
	MarkPresent(ctx context.Context, eventID, memberID string, at time.Time) error
}

// DescriptorWriter stores a member's descriptor next to the roster entry.
type DescriptorWriter interface {
	SaveDescriptor(ctx context.Context, memberID string, d facematch.Descriptor) error
}
