package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

// AttendanceHandler handles event selection and check-ins.
type AttendanceHandler struct {
	session  *recognition.Session
	recorder *recognition.AttendanceRecorder
	logger   *slog.Logger
}

func NewAttendanceHandler(session *recognition.Session, recorder *recognition.AttendanceRecorder, logger *slog.Logger) *AttendanceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AttendanceHandler{session: session, recorder: recorder, logger: logger}
}

// TargetsResponse lists the open events and the one marks go to.
type TargetsResponse struct {
	Targets  []database.Target `json:"targets"`
	Selected *database.Target  `json:"selected"`
}

// SelectTargetRequest picks the event marks go to.
type SelectTargetRequest struct {
	EventID string `json:"event_id"`
}

// CheckResponse is returned for a manual check-in.
type CheckResponse struct {
	EventID   string `json:"event_id"`
	MemberID  string `json:"member_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CheckedAt string `json:"checked_at"`
}

func (h *AttendanceHandler) targetsResponse(targets []database.Target) TargetsResponse {
	resp := TargetsResponse{Targets: targets}
	if resp.Targets == nil {
		resp.Targets = []database.Target{}
	}
	if sel, ok := h.recorder.Selected(); ok {
		resp.Selected = &sel
	}
	return resp
}

// Targets reloads and lists the open attendance events.
func (h *AttendanceHandler) Targets(w http.ResponseWriter, r *http.Request) {
	targets, err := h.recorder.LoadTargets(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.targetsResponse(targets))
}

// SelectTarget switches the event marks go to.
func (h *AttendanceHandler) SelectTarget(w http.ResponseWriter, r *http.Request) {
	var req SelectTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EventID == "" {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if err := h.recorder.Select(req.EventID); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.targetsResponse(h.recorder.Targets()))
}

// Check marks a roster member present by hand.
func (h *AttendanceHandler) Check(w http.ResponseWriter, r *http.Request) {
	memberID := chi.URLParam(r, "memberId")
	member, ok := h.session.Member(memberID)
	if !ok {
		respondError(w, http.StatusNotFound, "member not found")
		return
	}

	mark, err := h.recorder.Check(r.Context(), memberID)
	if err != nil {
		h.logger.Info("manual check-in rejected", "member_id", sanitizeForLog(memberID), "err", err)
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, CheckResponse{
		EventID:   mark.EventID,
		MemberID:  mark.MemberID,
		Name:      member.Name,
		Status:    string(mark.Status),
		CheckedAt: mark.CheckedAt.UTC().Format(time.RFC3339),
	})
}
