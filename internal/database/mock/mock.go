// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// MockRoster is an in-memory RosterReader, TargetReader, AttendanceWriter
// and DescriptorWriter.
type MockRoster struct {
	mu          sync.RWMutex
	members     []database.Member
	targets     []database.Target
	marks       []database.AttendanceMark
	descriptors map[string]facematch.Descriptor

	// Error injection
	ActiveMembersError  error
	ActiveTargetsError  error
	MarkPresentError    error
	SaveDescriptorError error
}

// NewMockRoster creates a new mock roster
func NewMockRoster() *MockRoster {
	return &MockRoster{descriptors: make(map[string]facematch.Descriptor)}
}

// AddMember appends a member to the roster
func (m *MockRoster) AddMember(member database.Member) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members = append(m.members, member)
}

// AddTarget appends an active target
func (m *MockRoster) AddTarget(target database.Target) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets = append(m.targets, target)
}

func (m *MockRoster) ActiveMembers(ctx context.Context) ([]database.Member, error) {
	if m.ActiveMembersError != nil {
		return nil, m.ActiveMembersError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.members), nil
}

func (m *MockRoster) ActiveTargets(ctx context.Context) ([]database.Target, error) {
	if m.ActiveTargetsError != nil {
		return nil, m.ActiveTargetsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.targets), nil
}

func (m *MockRoster) MarkPresent(ctx context.Context, eventID, memberID string, at time.Time) error {
	if m.MarkPresentError != nil {
		return m.MarkPresentError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks = append(m.marks, database.AttendanceMark{
		EventID:   eventID,
		MemberID:  memberID,
		Status:    database.StatusPresent,
		CheckedAt: at,
	})
	return nil
}

func (m *MockRoster) SaveDescriptor(ctx context.Context, memberID string, d facematch.Descriptor) error {
	if m.SaveDescriptorError != nil {
		return m.SaveDescriptorError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.descriptors[memberID] = d
	for i := range m.members {
		if m.members[i].ID == memberID {
			stored := d
			m.members[i].Descriptor = &stored
		}
	}
	return nil
}

// Marks returns the recorded attendance marks in call order
func (m *MockRoster) Marks() []database.AttendanceMark {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.marks)
}

// Descriptor returns the descriptor saved for a member
func (m *MockRoster) Descriptor(memberID string) (facematch.Descriptor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.descriptors[memberID]
	return d, ok
}

var (
	_ database.RosterReader     = (*MockRoster)(nil)
	_ database.TargetReader     = (*MockRoster)(nil)
	_ database.AttendanceWriter = (*MockRoster)(nil)
	_ database.DescriptorWriter = (*MockRoster)(nil)
)
