package recognition

import (
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// Event types emitted by a session.
const (
	EventStatus   = "status"
	EventProgress = "progress"
	EventSkipped  = "skipped"
	EventMatches  = "matches"
	EventError    = "error"
	EventMarked   = "marked"
)

// Event is one session notification, streamed to SSE clients as-is.
type Event struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// MatchResult is a face recognized in a detection pass.
type MatchResult struct {
	MemberID string        `json:"member_id"`
	Name     string        `json:"name"`
	Distance float64       `json:"distance"`
	Box      facematch.Box `json:"box"`
	At       time.Time     `json:"at"`
}

// Progress reports descriptor building.
type Progress struct {
	Phase   Phase `json:"phase"`
	Current int   `json:"current"`
	Total   int   `json:"total"`
}

// SkippedMember is a member without a usable descriptor.
type SkippedMember struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func skippedMembers(members []database.Member) []SkippedMember {
	out := make([]SkippedMember, len(members))
	for i, m := range members {
		out[i] = SkippedMember{ID: m.ID, Name: m.Name}
	}
	return out
}

// Broadcaster fans events out to listeners. Slow listeners lose events
// instead of blocking the sender.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners []chan Event
	closed    bool
}

// AddListener registers a buffered listener channel. After Close the
// returned channel is already closed.
func (b *Broadcaster) AddListener() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, constants.EventChannelBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener unregisters and closes ch.
func (b *Broadcaster) RemoveListener(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// Send delivers event to every listener with buffer space.
func (b *Broadcaster) Send(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
		}
	}
}

// Close closes every listener; later sends are dropped.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.listeners {
		close(ch)
	}
	b.listeners = nil
}
