package web

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/web/handlers"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
	"github.com/kozaktomas/face-attendance/internal/web/static"
)

func (s *Server) setupRoutes() {
	sessionHandler := handlers.NewSessionHandler(s.session, s.logger)
	attendanceHandler := handlers.NewAttendanceHandler(s.session, s.recorder, s.logger)
	cacheHandler := handlers.NewCacheHandler(s.cache)

	s.router.Get("/api/v1/health", handlers.HealthCheck)
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		// Session
		r.Get("/session", sessionHandler.Status)
		r.Post("/session/start", sessionHandler.Start)
		r.Post("/session/stop", sessionHandler.Stop)
		r.Post("/session/flip", sessionHandler.Flip)
		r.Post("/session/pause", sessionHandler.Pause)
		r.Post("/session/resume", sessionHandler.Resume)
		r.Post("/session/retry", sessionHandler.Retry)
		r.Get("/session/events", sessionHandler.Events)
		r.Get("/session/overlay.png", sessionHandler.Overlay)

		// Attendance
		r.Get("/targets", attendanceHandler.Targets)
		r.Put("/session/target", attendanceHandler.SelectTarget)
		r.Post("/attendance/{memberId}", attendanceHandler.Check)

		// Cache
		r.Delete("/cache", cacheHandler.Clear)
	})

	s.router.With(middleware.SecurityHeaders()).Get("/", s.serveKiosk)
}

// serveKiosk serves the embedded kiosk page.
func (s *Server) serveKiosk(w http.ResponseWriter, r *http.Request) {
	f, err := static.GetFileSystem().Open("/index.html")
	if err != nil {
		http.Error(w, "kiosk page missing", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}
