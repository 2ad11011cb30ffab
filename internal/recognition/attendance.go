package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/metrics"
)

var (
	ErrNoActiveTarget = errors.New("no attendance event selected")
	ErrAlreadyChecked = errors.New("member already checked in")
	ErrUnknownTarget  = errors.New("unknown attendance event")
)

// AttendanceRecorder marks recognized members present for the selected event.
type AttendanceRecorder struct {
	targets  database.TargetReader
	writer   database.AttendanceWriter
	autoMark bool
	logger   *slog.Logger
	now      func() time.Time

	// OnMarked, when set, is called after every successful mark.
	OnMarked func(database.AttendanceMark)

	mu       sync.Mutex
	list     []database.Target
	selected string
	checked  map[string]map[string]bool // event -> member -> marked
}

func NewAttendanceRecorder(targets database.TargetReader, writer database.AttendanceWriter, autoMark bool, logger *slog.Logger) *AttendanceRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &AttendanceRecorder{
		targets:  targets,
		writer:   writer,
		autoMark: autoMark,
		logger:   logger,
		now:      time.Now,
		checked:  make(map[string]map[string]bool),
	}
}

// LoadTargets refreshes the open events. The first one is selected unless
// the current selection is still open.
func (r *AttendanceRecorder) LoadTargets(ctx context.Context) ([]database.Target, error) {
	if r.targets == nil {
		return nil, nil
	}
	list, err := r.targets.ActiveTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading attendance events: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = list
	if r.indexLocked(r.selected) < 0 {
		r.selected = ""
		if len(list) > 0 {
			r.selected = list[0].EventID
		}
	}
	return append([]database.Target(nil), list...), nil
}

func (r *AttendanceRecorder) indexLocked(eventID string) int {
	for i, t := range r.list {
		if t.EventID == eventID {
			return i
		}
	}
	return -1
}

// Targets returns the events loaded by the last LoadTargets.
func (r *AttendanceRecorder) Targets() []database.Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]database.Target(nil), r.list...)
}

// Selected returns the event marks go to.
func (r *AttendanceRecorder) Selected() (database.Target, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(r.selected); i >= 0 {
		return r.list[i], true
	}
	return database.Target{}, false
}

// Select switches the event marks go to.
func (r *AttendanceRecorder) Select(eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexLocked(eventID) < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, eventID)
	}
	r.selected = eventID
	return nil
}

// Check marks a member present by hand.
func (r *AttendanceRecorder) Check(ctx context.Context, memberID string) (database.AttendanceMark, error) {
	r.mu.Lock()
	eventID := r.selected
	if eventID == "" {
		r.mu.Unlock()
		return database.AttendanceMark{}, ErrNoActiveTarget
	}
	if r.checked[eventID][memberID] {
		r.mu.Unlock()
		return database.AttendanceMark{}, ErrAlreadyChecked
	}
	r.mu.Unlock()

	return r.mark(ctx, eventID, memberID, "manual")
}

// HandleMatches marks every matched member not yet marked for the selected
// event. It does nothing when auto marking is off or no event is selected.
func (r *AttendanceRecorder) HandleMatches(ctx context.Context, results []MatchResult) []database.AttendanceMark {
	if !r.autoMark {
		return nil
	}
	r.mu.Lock()
	eventID := r.selected
	var pending []string
	for _, res := range results {
		if eventID != "" && !r.checked[eventID][res.MemberID] {
			pending = append(pending, res.MemberID)
		}
	}
	r.mu.Unlock()

	var marks []database.AttendanceMark
	for _, memberID := range pending {
		mark, err := r.mark(ctx, eventID, memberID, "auto")
		if err != nil {
			if !errors.Is(err, ErrAlreadyChecked) {
				r.logger.Warn("marking attendance", "event_id", eventID, "member_id", memberID, "err", err)
			}
			continue
		}
		marks = append(marks, mark)
	}
	return marks
}

func (r *AttendanceRecorder) mark(ctx context.Context, eventID, memberID, source string) (database.AttendanceMark, error) {
	if r.writer == nil {
		return database.AttendanceMark{}, fmt.Errorf("recording attendance: %w", database.ErrNotConfigured)
	}

	r.mu.Lock()
	if r.checked[eventID][memberID] {
		r.mu.Unlock()
		return database.AttendanceMark{}, ErrAlreadyChecked
	}
	if r.checked[eventID] == nil {
		r.checked[eventID] = make(map[string]bool)
	}
	// reserved before the write so concurrent callers do not mark twice
	r.checked[eventID][memberID] = true
	r.mu.Unlock()

	at := r.now()
	if err := r.writer.MarkPresent(ctx, eventID, memberID, at); err != nil {
		r.mu.Lock()
		delete(r.checked[eventID], memberID)
		r.mu.Unlock()
		return database.AttendanceMark{}, fmt.Errorf("recording attendance: %w", err)
	}

	mark := database.AttendanceMark{EventID: eventID, MemberID: memberID, Status: database.StatusPresent, CheckedAt: at}
	metrics.AttendanceMarks.WithLabelValues(source).Inc()
	r.logger.Info("attendance marked", "event_id", eventID, "member_id", memberID, "source", source)
	if r.OnMarked != nil {
		r.OnMarked(mark)
	}
	return mark, nil
}

// Run consumes session events and auto-marks matches until events closes or
// ctx is done.
func (r *AttendanceRecorder) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if results, isMatch := ev.Data.([]MatchResult); isMatch && ev.Type == EventMatches {
				r.HandleMatches(ctx, results)
			}
		}
	}
}
