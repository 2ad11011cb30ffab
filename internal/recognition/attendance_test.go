package recognition

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-attendance/internal/database"
	dbmock "github.com/kozaktomas/face-attendance/internal/database/mock"
)

func newRecorder(t *testing.T, autoMark bool) (*AttendanceRecorder, *dbmock.MockRoster) {
	t.Helper()
	roster := dbmock.NewMockRoster()
	roster.AddTarget(database.Target{EventID: "e1", EventName: "Rehearsal", EventDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)})
	roster.AddTarget(database.Target{EventID: "e2", EventName: "Concert", EventDate: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)})
	rec := NewAttendanceRecorder(roster, roster, autoMark, discardLogger())
	clock := newFakeClock()
	rec.now = clock.Now
	return rec, roster
}

func TestRecorder_LoadTargetsSelectsFirst(t *testing.T) {
	rec, _ := newRecorder(t, true)

	_, ok := rec.Selected()
	assert.False(t, ok)

	targets, err := rec.LoadTargets(context.Background())
	require.NoError(t, err)
	assert.Len(t, targets, 2)

	sel, ok := rec.Selected()
	require.True(t, ok)
	assert.Equal(t, "e1", sel.EventID)

	require.NoError(t, rec.Select("e2"))
	_, err = rec.LoadTargets(context.Background())
	require.NoError(t, err)
	sel, _ = rec.Selected()
	assert.Equal(t, "e2", sel.EventID, "selection kept while still open")

	assert.ErrorIs(t, rec.Select("nope"), ErrUnknownTarget)
}

func TestRecorder_LoadTargetsError(t *testing.T) {
	rec, roster := newRecorder(t, true)
	roster.ActiveTargetsError = errors.New("timeout")

	_, err := rec.LoadTargets(context.Background())
	assert.Error(t, err)
}

func TestRecorder_CheckManual(t *testing.T) {
	rec, roster := newRecorder(t, false)

	_, err := rec.Check(context.Background(), "m1")
	assert.ErrorIs(t, err, ErrNoActiveTarget)

	_, err = rec.LoadTargets(context.Background())
	require.NoError(t, err)

	mark, err := rec.Check(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "e1", mark.EventID)
	assert.Equal(t, database.StatusPresent, mark.Status)

	_, err = rec.Check(context.Background(), "m1")
	assert.ErrorIs(t, err, ErrAlreadyChecked)

	require.NoError(t, rec.Select("e2"))
	_, err = rec.Check(context.Background(), "m1")
	require.NoError(t, err, "checked per event")

	assert.Len(t, roster.Marks(), 2)
}

func TestRecorder_WriteFailureCanBeRetried(t *testing.T) {
	rec, roster := newRecorder(t, true)
	_, err := rec.LoadTargets(context.Background())
	require.NoError(t, err)

	roster.MarkPresentError = errors.New("deadlock")
	_, err = rec.Check(context.Background(), "m1")
	require.Error(t, err)

	roster.MarkPresentError = nil
	_, err = rec.Check(context.Background(), "m1")
	require.NoError(t, err)
}

func TestRecorder_HandleMatchesMarksOnce(t *testing.T) {
	rec, roster := newRecorder(t, true)
	_, err := rec.LoadTargets(context.Background())
	require.NoError(t, err)

	var notified []string
	rec.OnMarked = func(m database.AttendanceMark) { notified = append(notified, m.MemberID) }

	results := []MatchResult{{MemberID: "m1"}, {MemberID: "m2"}}
	marks := rec.HandleMatches(context.Background(), results)
	assert.Len(t, marks, 2)

	marks = rec.HandleMatches(context.Background(), results)
	assert.Empty(t, marks)

	assert.Len(t, roster.Marks(), 2)
	assert.Equal(t, []string{"m1", "m2"}, notified)
}

func TestRecorder_HandleMatchesDisabled(t *testing.T) {
	rec, roster := newRecorder(t, false)
	_, err := rec.LoadTargets(context.Background())
	require.NoError(t, err)

	assert.Empty(t, rec.HandleMatches(context.Background(), []MatchResult{{MemberID: "m1"}}))
	assert.Empty(t, roster.Marks())
}

func TestRecorder_HandleMatchesWithoutTarget(t *testing.T) {
	rec, roster := newRecorder(t, true)
	assert.Empty(t, rec.HandleMatches(context.Background(), []MatchResult{{MemberID: "m1"}}))
	assert.Empty(t, roster.Marks())
}

func TestRecorder_NoWriter(t *testing.T) {
	roster := dbmock.NewMockRoster()
	roster.AddTarget(database.Target{EventID: "e1"})
	rec := NewAttendanceRecorder(roster, nil, true, discardLogger())
	_, err := rec.LoadTargets(context.Background())
	require.NoError(t, err)

	_, err = rec.Check(context.Background(), "m1")
	assert.ErrorIs(t, err, database.ErrNotConfigured)
}

func TestRecorder_Run(t *testing.T) {
	rec, roster := newRecorder(t, true)
	_, err := rec.LoadTargets(context.Background())
	require.NoError(t, err)

	events := make(chan Event, 3)
	events <- Event{Type: EventStatus, Data: Status{}}
	events <- Event{Type: EventMatches, Data: []MatchResult{{MemberID: "m7"}}}
	events <- Event{Type: EventMatches, Data: []MatchResult{}}
	close(events)

	rec.Run(context.Background(), events)

	marks := roster.Marks()
	require.Len(t, marks, 1)
	assert.Equal(t, "m7", marks[0].MemberID)
}
