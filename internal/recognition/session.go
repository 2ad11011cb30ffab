// Package recognition runs a recognition session: it prepares the matcher
// from the roster and drives live detection against a camera.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/cache"
	"github.com/kozaktomas/face-attendance/internal/camera"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/descriptors"
	"github.com/kozaktomas/face-attendance/internal/detect"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/overlay"
)

// Phase is the session lifecycle state.
type Phase string

const (
	PhaseIdle                Phase = "idle"
	PhaseLoadingModels       Phase = "loading-models"
	PhaseBuildingDescriptors Phase = "building-descriptors"
	PhaseReady               Phase = "ready"
	PhaseDetecting           Phase = "detecting"
	PhaseError               Phase = "error"
)

var phases = []string{
	string(PhaseIdle), string(PhaseLoadingModels), string(PhaseBuildingDescriptors),
	string(PhaseReady), string(PhaseDetecting), string(PhaseError),
}

// transitions lists the allowed edges. Dispose bypasses the table.
var transitions = map[Phase][]Phase{
	PhaseIdle:                {PhaseLoadingModels, PhaseReady, PhaseError},
	PhaseLoadingModels:       {PhaseBuildingDescriptors, PhaseError},
	PhaseBuildingDescriptors: {PhaseReady, PhaseError},
	PhaseReady:               {PhaseDetecting},
	PhaseDetecting:           {PhaseReady},
	PhaseError:               {PhaseIdle},
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to Phase) bool {
	return slices.Contains(transitions[from], to)
}

var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrDisposed          = errors.New("session disposed")
)

// ModelLoader yields the detector once the model assets are available.
type ModelLoader interface {
	EnsureReady(ctx context.Context) (detect.Detector, error)
}

// SessionConfig wires a Session.
type SessionConfig struct {
	Roster database.RosterReader
	Models ModelLoader
	Cache  *cache.Cache
	Photos descriptors.PhotoLoader
	Source camera.Source
	Canvas *overlay.Canvas

	Tolerance         float64
	DetectionInterval time.Duration
	RenderInterval    time.Duration
	MaxImageSize      int
	Facing            camera.FacingMode

	Logger    *slog.Logger
	Now       func() time.Time
	NewTicker func(time.Duration) Ticker
}

// Status is a point-in-time view of a session.
type Status struct {
	ID       string            `json:"id"`
	Phase    Phase             `json:"phase"`
	Facing   camera.FacingMode `json:"facing_mode"`
	Paused   bool              `json:"paused"`
	Error    string            `json:"error,omitempty"`
	Progress Progress          `json:"progress"`
	Members  int               `json:"members"`
	Labeled  int               `json:"labeled"`
	Skipped  []SkippedMember   `json:"skipped"`
	Matches  []MatchResult     `json:"matches"`
}

// Session owns the recognition state machine. All methods are safe for
// concurrent use; Initialize and Retry block until the session is ready or
// failed.
type Session struct {
	id     string
	cfg    SessionConfig
	logger *slog.Logger
	events Broadcaster

	mu         sync.Mutex
	phase      Phase
	errMsg     string
	progress   Progress
	skipped    []SkippedMember
	members    map[string]database.Member
	labeled    int
	facing     camera.FacingMode
	paused     bool
	loop       *Loop
	initGen    uint64
	initCancel context.CancelFunc
	disposed   bool

	matchMu sync.RWMutex
	matches []MatchResult
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Canvas == nil {
		cfg.Canvas = overlay.NewCanvas(640, 480)
	}
	if cfg.Facing == "" {
		cfg.Facing = camera.FacingEnvironment
	}
	id := uuid.NewString()
	s := &Session{
		id:     id,
		cfg:    cfg,
		logger: cfg.Logger.With("session", id),
		phase:  PhaseIdle,
		facing: cfg.Facing,
	}
	metrics.SetPhase(string(PhaseIdle), phases)
	return s
}

func (s *Session) ID() string {
	return s.id
}

// Canvas returns the overlay surface detection passes draw on.
func (s *Session) Canvas() *overlay.Canvas {
	return s.cfg.Canvas
}

// Subscribe returns a channel of session events and a function that
// unsubscribes and closes it.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := s.events.AddListener()
	return ch, func() { s.events.RemoveListener(ch) }
}

// Publish sends an event to every subscriber.
func (s *Session) Publish(e Event) {
	s.events.Send(e)
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := s.statusLocked()
	s.mu.Unlock()

	s.matchMu.RLock()
	st.Matches = append([]MatchResult{}, s.matches...)
	s.matchMu.RUnlock()
	return st
}

func (s *Session) statusLocked() Status {
	return Status{
		ID:       s.id,
		Phase:    s.phase,
		Facing:   s.facing,
		Paused:   s.paused,
		Error:    s.errMsg,
		Progress: s.progress,
		Members:  len(s.members),
		Labeled:  s.labeled,
		Skipped:  append([]SkippedMember{}, s.skipped...),
	}
}

// Member looks up a roster member loaded by Initialize.
func (s *Session) Member(id string) (database.Member, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	return m, ok
}

// setPhaseLocked moves along an allowed edge and announces the new status.
func (s *Session) setPhaseLocked(to Phase) error {
	if !CanTransition(s.phase, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.phase, to)
	}
	s.logger.Info("session phase", "from", s.phase, "phase", to)
	s.phase = to
	metrics.SetPhase(string(to), phases)
	s.events.Send(Event{Type: EventStatus, Data: s.statusLocked()})
	return nil
}

func (s *Session) failLocked(err error) error {
	s.errMsg = err.Error()
	if terr := s.setPhaseLocked(PhaseError); terr != nil {
		return errors.Join(err, terr)
	}
	s.events.Send(Event{Type: EventError, Message: s.errMsg})
	return err
}

// Initialize loads the roster, the models and the member descriptors, then
// enters ready. An empty roster goes to ready without touching the models.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if s.phase != PhaseIdle {
		phase := s.phase
		s.mu.Unlock()
		return fmt.Errorf("%w: initialize from %s", ErrInvalidTransition, phase)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.initGen++
	gen := s.initGen
	s.initCancel = cancel
	s.errMsg = ""
	s.progress = Progress{}
	s.skipped = nil
	s.mu.Unlock()
	defer cancel()

	// step runs fn-produced transitions only while this initialization is current.
	step := func(fn func() error) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.disposed || gen != s.initGen {
			return context.Canceled
		}
		return fn()
	}

	members, err := s.cfg.Roster.ActiveMembers(ctx)
	if err != nil {
		return step(func() error { return s.failLocked(fmt.Errorf("loading roster: %w", err)) })
	}

	if len(members) == 0 {
		return step(func() error {
			s.installLocked(members, nil, facematch.NewMatcher(nil, s.cfg.Tolerance))
			return s.setPhaseLocked(PhaseReady)
		})
	}

	if err := step(func() error { return s.setPhaseLocked(PhaseLoadingModels) }); err != nil {
		return err
	}
	detector, err := s.cfg.Models.EnsureReady(ctx)
	if err != nil {
		return step(func() error { return s.failLocked(err) })
	}

	if err := step(func() error {
		s.progress = Progress{Phase: PhaseBuildingDescriptors, Total: len(members)}
		return s.setPhaseLocked(PhaseBuildingDescriptors)
	}); err != nil {
		return err
	}

	builder := descriptors.NewBuilder(detector, s.cfg.Cache, s.cfg.Photos, s.cfg.MaxImageSize, s.logger)
	res, err := builder.Build(ctx, members, func(done, total int) {
		p := Progress{Phase: PhaseBuildingDescriptors, Current: done, Total: total}
		_ = step(func() error {
			s.progress = p
			s.events.Send(Event{Type: EventProgress, Data: p})
			return nil
		})
	})
	if err != nil {
		return step(func() error { return s.failLocked(fmt.Errorf("building descriptors: %w", err)) })
	}

	return step(func() error {
		s.skipped = skippedMembers(res.Skipped)
		if len(s.skipped) > 0 {
			s.events.Send(Event{Type: EventSkipped, Data: s.skipped})
		}
		s.installLocked(members, detector, facematch.NewMatcher(res.Labeled, s.cfg.Tolerance))
		s.labeled = len(res.Labeled)
		return s.setPhaseLocked(PhaseReady)
	})
}

// installLocked builds the detection loop for a finished initialization. A
// nil detector (empty roster) still yields a loop that shows the camera.
func (s *Session) installLocked(members []database.Member, detector detect.Detector, matcher *facematch.Matcher) {
	byID := make(map[string]database.Member, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}
	s.members = byID
	s.labeled = 0
	s.loop = NewLoop(LoopConfig{
		Source:            s.cfg.Source,
		Detector:          detector,
		Matcher:           matcher,
		Canvas:            s.cfg.Canvas,
		Members:           byID,
		DetectionInterval: s.cfg.DetectionInterval,
		RenderInterval:    s.cfg.RenderInterval,
		OnResults:         s.onResults,
		OnFrameError:      s.onFrameError,
		Logger:            s.logger,
		Now:               s.cfg.Now,
		NewTicker:         s.cfg.NewTicker,
	})
}

func (s *Session) onResults(results []MatchResult) {
	s.matchMu.Lock()
	s.matches = results
	s.matchMu.Unlock()
	s.events.Send(Event{Type: EventMatches, Data: results})
}

func (s *Session) onFrameError(err *FrameError) {
	s.events.Send(Event{Type: EventError, Message: err.Error()})
}

// Retry re-runs initialization after a failure.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if err := s.setPhaseLocked(PhaseIdle); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	return s.Initialize(ctx)
}

// StartDetection opens the camera and starts the loop. Only ready sessions
// can start. A camera failure keeps the session ready with the error recorded.
func (s *Session) StartDetection(ctx context.Context, facing camera.FacingMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	if !CanTransition(s.phase, PhaseDetecting) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.phase, PhaseDetecting)
	}
	if facing == "" {
		facing = s.facing
	}
	s.facing = facing
	if err := s.loop.Start(ctx, facing); err != nil {
		s.errMsg = err.Error()
		s.logger.Warn("camera unavailable", "facing", facing, "err", err)
		s.events.Send(Event{Type: EventError, Message: s.errMsg})
		return err
	}
	s.errMsg = ""
	if s.paused {
		s.loop.Pause()
	}
	return s.setPhaseLocked(PhaseDetecting)
}

// StopDetection stops the loop and releases the camera.
func (s *Session) StopDetection() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	if s.phase != PhaseDetecting {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.phase, PhaseReady)
	}
	err := s.loop.Stop()
	s.clearMatches()
	if terr := s.setPhaseLocked(PhaseReady); terr != nil {
		return terr
	}
	return err
}

// Flip switches facing mode. While detecting the camera is restarted on the
// other side; if that fails the session falls back to ready.
func (s *Session) Flip(ctx context.Context) (camera.FacingMode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return "", ErrDisposed
	}
	if s.phase != PhaseDetecting {
		s.facing = s.facing.Opposite()
		s.events.Send(Event{Type: EventStatus, Data: s.statusLocked()})
		return s.facing, nil
	}

	next, err := s.loop.Flip(ctx)
	s.facing = next
	s.clearMatches()
	if err != nil {
		s.errMsg = err.Error()
		s.events.Send(Event{Type: EventError, Message: s.errMsg})
		if terr := s.setPhaseLocked(PhaseReady); terr != nil {
			return next, errors.Join(err, terr)
		}
		return next, err
	}
	s.events.Send(Event{Type: EventStatus, Data: s.statusLocked()})
	return next, nil
}

// Pause suspends detection passes while keeping the camera open.
func (s *Session) Pause() {
	s.setPaused(true)
}

func (s *Session) Resume() {
	s.setPaused(false)
}

func (s *Session) setPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed || s.paused == paused {
		return
	}
	s.paused = paused
	if s.loop != nil {
		if paused {
			s.loop.Pause()
		} else {
			s.loop.Resume()
		}
	}
	s.events.Send(Event{Type: EventStatus, Data: s.statusLocked()})
}

// Dispose stops detection, releases the camera, cancels a running
// initialization and closes every subscription. It is idempotent.
func (s *Session) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	s.initGen++
	if s.initCancel != nil {
		s.initCancel()
	}
	if s.loop != nil {
		if err := s.loop.Stop(); err != nil {
			s.logger.Warn("releasing camera", "err", err)
		}
	}
	s.clearMatches()
	s.phase = PhaseIdle
	metrics.SetPhase(string(PhaseIdle), phases)
	s.events.Close()
	s.logger.Info("session disposed")
}

func (s *Session) clearMatches() {
	s.matchMu.Lock()
	s.matches = nil
	s.matchMu.Unlock()
}
