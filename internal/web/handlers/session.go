package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/camera"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

// SessionHandler exposes the recognition session.
type SessionHandler struct {
	session *recognition.Session
	logger  *slog.Logger

	// viewers counts open event streams. Detection is paused while nobody
	// watches and resumed when the first viewer returns, unless it was
	// paused by hand.
	viewerMu   sync.Mutex
	viewers    int
	autoPaused bool
}

func NewSessionHandler(session *recognition.Session, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{session: session, logger: logger}
}

// StartRequest selects the camera for detection. Empty keeps the current one.
type StartRequest struct {
	FacingMode string `json:"facing_mode"`
}

// Status returns the session snapshot.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.session.Status())
}

// Start begins live detection.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
	}

	var facing camera.FacingMode
	if req.FacingMode != "" {
		parsed, err := camera.ParseFacingMode(req.FacingMode)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		facing = parsed
	}

	if err := h.session.StartDetection(r.Context(), facing); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.session.Status())
}

// Stop ends live detection and releases the camera.
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.session.StopDetection(); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.session.Status())
}

// Flip switches between the front and back camera.
func (h *SessionHandler) Flip(w http.ResponseWriter, r *http.Request) {
	if _, err := h.session.Flip(r.Context()); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h.session.Status())
}

func (h *SessionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.viewerMu.Lock()
	h.autoPaused = false
	h.viewerMu.Unlock()
	h.session.Pause()
	respondJSON(w, http.StatusOK, h.session.Status())
}

func (h *SessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.session.Resume()
	respondJSON(w, http.StatusOK, h.session.Status())
}

// Retry restarts initialization of a failed session in the background;
// progress is reported on the event stream.
func (h *SessionHandler) Retry(w http.ResponseWriter, r *http.Request) {
	if st := h.session.Status(); st.Phase != recognition.PhaseError {
		respondError(w, http.StatusConflict, "session is "+string(st.Phase)+", not error")
		return
	}
	go func() {
		if err := h.session.Retry(context.Background()); err != nil {
			h.logger.Warn("session retry failed", "err", err)
		}
	}()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "retrying"})
}

// Events streams session events over SSE.
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	h.viewerJoined()
	defer h.viewerLeft()
	streamSSEEvents(w, r, h.session)
}

func (h *SessionHandler) viewerJoined() {
	h.viewerMu.Lock()
	defer h.viewerMu.Unlock()
	h.viewers++
	if h.viewers == 1 && h.autoPaused {
		h.autoPaused = false
		h.session.Resume()
		h.logger.Info("viewer connected, detection resumed")
	}
}

func (h *SessionHandler) viewerLeft() {
	h.viewerMu.Lock()
	defer h.viewerMu.Unlock()
	h.viewers--
	if h.viewers > 0 {
		return
	}
	if st := h.session.Status(); st.Phase == recognition.PhaseDetecting && !st.Paused {
		h.autoPaused = true
		h.session.Pause()
		h.logger.Info("last viewer left, detection paused")
	}
}

// Overlay serves the current overlay surface as PNG.
func (h *SessionHandler) Overlay(w http.ResponseWriter, r *http.Request) {
	data, err := h.session.Canvas().PNG()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
