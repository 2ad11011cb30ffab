package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

func newAttendanceFixture(t *testing.T) (*AttendanceHandler, *recognition.AttendanceRecorder) {
	t.Helper()
	session, roster := newTestSession(t, stubModels{}, seededMember("m1", "Anna"))
	roster.AddTarget(database.Target{EventID: "e1", EventName: "Rehearsal", EventDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)})
	roster.AddTarget(database.Target{EventID: "e2", EventName: "Concert", EventDate: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)})
	if err := session.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	recorder := recognition.NewAttendanceRecorder(roster, roster, false, discardLogger())
	return NewAttendanceHandler(session, recorder, discardLogger()), recorder
}

func TestAttendanceHandler_Targets(t *testing.T) {
	handler, _ := newAttendanceFixture(t)

	rec := httptest.NewRecorder()
	handler.Targets(rec, httptest.NewRequest(http.MethodGet, "/api/v1/targets", nil))

	var resp TargetsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Targets) != 2 {
		t.Errorf("expected 2 targets, got %d", len(resp.Targets))
	}
	if resp.Selected == nil || resp.Selected.EventID != "e1" {
		t.Errorf("expected first target selected, got %+v", resp.Selected)
	}
}

func TestAttendanceHandler_SelectTarget(t *testing.T) {
	handler, recorder := newAttendanceFixture(t)
	if _, err := recorder.LoadTargets(context.Background()); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		body string
		want int
	}{
		{`{"event_id":"e2"}`, http.StatusOK},
		{`{"event_id":"missing"}`, http.StatusNotFound},
		{`{}`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		rec := httptest.NewRecorder()
		handler.SelectTarget(rec, httptest.NewRequest(http.MethodPut, "/api/v1/session/target", strings.NewReader(tc.body)))
		if rec.Code != tc.want {
			t.Errorf("body %s: expected %d, got %d", tc.body, tc.want, rec.Code)
		}
	}

	if sel, _ := recorder.Selected(); sel.EventID != "e2" {
		t.Errorf("expected e2 selected, got %s", sel.EventID)
	}
}

func TestAttendanceHandler_Check(t *testing.T) {
	handler, recorder := newAttendanceFixture(t)

	check := func(memberID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/attendance/"+memberID, nil)
		req = requestWithChiParams(req, map[string]string{"memberId": memberID})
		rec := httptest.NewRecorder()
		handler.Check(rec, req)
		return rec
	}

	if rec := check("m1"); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 without a selected event, got %d", rec.Code)
	}

	if _, err := recorder.LoadTargets(context.Background()); err != nil {
		t.Fatal(err)
	}

	rec := check("m1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp CheckResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Name != "Anna" || resp.EventID != "e1" || resp.Status != "present" {
		t.Errorf("unexpected response %+v", resp)
	}

	if rec := check("m1"); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for second check-in, got %d", rec.Code)
	}
	if rec := check("ghost"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown member, got %d", rec.Code)
	}
}
