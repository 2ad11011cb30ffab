package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/recognition"
)

// sendSSEEvent writes one event in text/event-stream framing.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload)
	flusher.Flush()
}

// setupSSEConnection sets the streaming headers. On failure it writes an
// error response and returns false.
func setupSSEConnection(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return flusher, true
}

// streamSSEEvents sends the initial status, then relays session events until
// the client disconnects or the session is disposed.
func streamSSEEvents(w http.ResponseWriter, r *http.Request, session *recognition.Session) {
	flusher, ok := setupSSEConnection(w)
	if !ok {
		return
	}

	events, unsubscribe := session.Subscribe()
	defer unsubscribe()

	sendSSEEvent(w, flusher, recognition.EventStatus, recognition.Event{Type: recognition.EventStatus, Data: session.Status()})

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event)
		}
	}
}
