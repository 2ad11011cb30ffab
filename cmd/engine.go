package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kozaktomas/face-attendance/internal/cache"
	"github.com/kozaktomas/face-attendance/internal/camera"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/descriptors"
	"github.com/kozaktomas/face-attendance/internal/overlay"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

// engine bundles the pieces shared by serve and recognize.
type engine struct {
	session  *recognition.Session
	recorder *recognition.AttendanceRecorder
	cache    *cache.Cache
	close    func()
}

func newEngine(ctx context.Context, cfg *config.Config, source camera.Source, logger *slog.Logger) (*engine, error) {
	closeBackends, err := openBackends(cfg, logger)
	if err != nil {
		return nil, err
	}

	roster, err := database.GetRosterReader(ctx)
	if err != nil {
		closeBackends()
		return nil, err
	}

	loader, err := newModelLoader(cfg.Models, false, logger)
	if err != nil {
		closeBackends()
		return nil, err
	}

	c := openCache(cfg.Cache, logger)

	session := recognition.NewSession(recognition.SessionConfig{
		Roster:            roster,
		Models:            loader,
		Cache:             c,
		Photos:            descriptors.NewHTTPPhotoLoader(),
		Source:            source,
		Canvas:            overlay.NewCanvas(cfg.Recognition.DisplayWidth, cfg.Recognition.DisplayHeight),
		Tolerance:         cfg.Recognition.Tolerance,
		DetectionInterval: cfg.Recognition.DetectionInterval,
		RenderInterval:    cfg.Recognition.RenderInterval,
		MaxImageSize:      cfg.Recognition.MaxImageSize,
		Logger:            logger,
	})

	recorder := newRecorder(ctx, cfg, logger)
	recorder.OnMarked = func(m database.AttendanceMark) {
		name := m.MemberID
		if member, ok := session.Member(m.MemberID); ok {
			name = member.Name
		}
		session.Publish(recognition.Event{
			Type:    recognition.EventMarked,
			Message: name + " marked present",
			Data:    m,
		})
	}

	return &engine{
		session:  session,
		recorder: recorder,
		cache:    c,
		close: func() {
			session.Dispose()
			if err := loader.Close(); err != nil {
				logger.Warn("failed to release models", "error", err)
			}
			if err := c.Close(); err != nil {
				logger.Warn("failed to close descriptor cache", "error", err)
			}
			closeBackends()
		},
	}, nil
}

// newRecorder wires attendance to whichever backend can store it. Without
// one the recorder still tracks events but refuses to mark.
func newRecorder(ctx context.Context, cfg *config.Config, logger *slog.Logger) *recognition.AttendanceRecorder {
	targets, err := database.GetTargetReader(ctx)
	if err != nil && !errors.Is(err, database.ErrNotConfigured) {
		logger.Warn("attendance events unavailable", "error", err)
	}
	writer, err := database.GetAttendanceWriter(ctx)
	if err != nil {
		logger.Info("attendance marking disabled, no writable backend")
	}

	recorder := recognition.NewAttendanceRecorder(targets, writer, cfg.Recognition.AutoMark, logger)
	if _, err := recorder.LoadTargets(ctx); err != nil {
		logger.Warn("failed to load attendance events", "error", err)
	}
	return recorder
}

// run starts the attendance listener and model/descriptor preparation. It
// returns once Initialize has finished, successfully or not.
func (e *engine) run(ctx context.Context) error {
	events, unsubscribe := e.session.Subscribe()
	go func() {
		defer unsubscribe()
		e.recorder.Run(ctx, events)
	}()
	return e.session.Initialize(ctx)
}
