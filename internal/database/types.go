package database

import (
	"time"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// Member is a roster entry as seen by the recognition engine.
type Member struct {
	ID       string
	Name     string
	GroupTag string // department / part / group, for display only
	PhotoRef string // photo URL or path; doubles as the descriptor cache fingerprint

	// Descriptor is the precomputed descriptor stored with the member, if any.
	Descriptor *facematch.Descriptor
}

// Fingerprint identifies the photo a descriptor was derived from.
func (m Member) Fingerprint() string {
	return m.PhotoRef
}

// HasDescriptor reports whether a stored descriptor is available.
func (m Member) HasDescriptor() bool {
	return m.Descriptor != nil
}

// Target is an attendance event that is currently open for check-in.
type Target struct {
	EventID   string    `json:"event_id"`
	EventName string    `json:"event_name"`
	EventDate time.Time `json:"event_date"`
}

// AttendanceStatus is the state of a member for one event.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusAbsent  AttendanceStatus = "absent"
)

// AttendanceMark is one recorded check-in.
type AttendanceMark struct {
	EventID   string
	MemberID  string
	Status    AttendanceStatus
	CheckedAt time.Time
}

// MembersWithoutDescriptor returns the members lacking a stored descriptor, in input order.
func MembersWithoutDescriptor(members []Member) []Member {
	var out []Member
	for _, m := range members {
		if !m.HasDescriptor() {
			out = append(out, m)
		}
	}
	return out
}
