package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/kozaktomas/face-attendance/internal/camera"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/detect"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/overlay"
)

var (
	ErrLoopRunning    = errors.New("detection loop already running")
	ErrLoopNotRunning = errors.New("detection loop not running")
)

// Frame error stages.
const (
	StageCapture = "capture"
	StageDecode  = "decode"
	StageDetect  = "detect"
)

// FrameError abandons a single detection pass. The loop keeps running.
type FrameError struct {
	Stage string
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("detection pass (%s): %v", e.Stage, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Ticker abstracts time.Ticker so tests can drive the loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// LoopConfig wires a Loop. Source, Matcher and Canvas are required. Without a
// Detector passes still capture frames but find no faces.
type LoopConfig struct {
	Source   camera.Source
	Detector detect.Detector
	Matcher  *facematch.Matcher
	Canvas   *overlay.Canvas
	Members  map[string]database.Member // matcher label -> member

	DetectionInterval time.Duration
	RenderInterval    time.Duration

	// OnResults receives the recognized faces of every completed pass. It
	// runs while the loop lock is held and must not call back into the loop.
	OnResults func([]MatchResult)
	// OnFrameError is called for abandoned passes, under the same rules.
	OnFrameError func(*FrameError)

	Logger    *slog.Logger
	Now       func() time.Time
	NewTicker func(time.Duration) Ticker
}

// Loop runs throttled detection passes against a camera stream.
type Loop struct {
	cfg LoopConfig

	mu      sync.Mutex
	gen     uint64
	active  *run
	results []MatchResult

	// running counts pass goroutines; idle is signalled on l.mu when it
	// drops to zero.
	running int
	idle    *sync.Cond

	inFlight atomic.Bool
	paused   atomic.Bool
}

// run is one Start..Stop cycle.
type run struct {
	ctx     context.Context
	cancel  context.CancelFunc
	gen     uint64
	stream  camera.Stream
	limiter *rate.Limiter
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.DetectionInterval <= 0 {
		cfg.DetectionInterval = constants.DefaultDetectionInterval
	}
	if cfg.RenderInterval <= 0 {
		cfg.RenderInterval = constants.DefaultRenderInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = func(d time.Duration) Ticker { return timeTicker{time.NewTicker(d)} }
	}
	l := &Loop{cfg: cfg}
	l.idle = sync.NewCond(&l.mu)
	return l
}

// Start acquires a stream for facing and begins scheduling passes. When the
// camera cannot be opened the *camera.Error is returned and nothing runs.
func (l *Loop) Start(ctx context.Context, facing camera.FacingMode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active != nil {
		return ErrLoopRunning
	}

	stream, err := l.cfg.Source.Open(ctx, facing)
	if err != nil {
		return err
	}

	l.gen++
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		ctx:     runCtx,
		cancel:  cancel,
		gen:     l.gen,
		stream:  stream,
		limiter: rate.NewLimiter(rate.Every(l.cfg.DetectionInterval), 1),
	}
	l.active = r
	l.results = nil

	go l.schedule(r, l.cfg.NewTicker(l.cfg.RenderInterval))

	l.cfg.Logger.Info("detection started", "facing", facing, "interval", l.cfg.DetectionInterval)
	return nil
}

// Stop cancels scheduling, releases the stream and clears results and the
// overlay. Once Stop returns no pass of the stopped run draws or emits.
func (l *Loop) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopLocked()
}

func (l *Loop) stopLocked() error {
	if l.active == nil {
		return nil
	}
	l.gen++
	l.active.cancel()
	err := l.active.stream.Stop()
	l.active = nil
	l.results = nil
	l.cfg.Canvas.Clear()
	l.cfg.Logger.Info("detection stopped")
	if err != nil {
		return fmt.Errorf("releasing camera: %w", err)
	}
	return nil
}

// Flip restarts the loop on the opposite camera.
func (l *Loop) Flip(ctx context.Context) (camera.FacingMode, error) {
	l.mu.Lock()
	if l.active == nil {
		l.mu.Unlock()
		return "", ErrLoopNotRunning
	}
	next := l.active.stream.Facing().Opposite()
	if err := l.stopLocked(); err != nil {
		l.cfg.Logger.Warn("releasing camera on flip", "err", err)
	}
	l.mu.Unlock()
	return next, l.Start(ctx, next)
}

// Pause stops scheduling passes without releasing the camera.
func (l *Loop) Pause() {
	l.paused.Store(true)
}

func (l *Loop) Resume() {
	l.paused.Store(false)
}

func (l *Loop) Paused() bool {
	return l.paused.Load()
}

func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active != nil
}

// Facing returns the facing mode of the running stream, or "" when stopped.
func (l *Loop) Facing() camera.FacingMode {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == nil {
		return ""
	}
	return l.active.stream.Facing()
}

// Results returns the matches of the latest pass.
func (l *Loop) Results() []MatchResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]MatchResult(nil), l.results...)
}

// Wait blocks until in-flight passes have returned.
func (l *Loop) Wait() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.running > 0 {
		l.idle.Wait()
	}
}

func (l *Loop) schedule(r *run, ticker Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C():
			l.tick(r)
		}
	}
}

// tick starts a pass when none is in flight and the detection interval has
// elapsed. It reports whether a pass was started.
func (l *Loop) tick(r *run) bool {
	if l.paused.Load() || r.ctx.Err() != nil {
		return false
	}
	if !l.inFlight.CompareAndSwap(false, true) {
		return false
	}
	if !r.limiter.AllowN(l.cfg.Now(), 1) {
		l.inFlight.Store(false)
		return false
	}

	l.mu.Lock()
	if r.gen != l.gen {
		l.mu.Unlock()
		l.inFlight.Store(false)
		return false
	}
	l.running++
	l.mu.Unlock()

	go func() {
		defer l.passDone()
		l.pass(r.ctx, r.gen, r.stream)
	}()
	return true
}

func (l *Loop) passDone() {
	l.inFlight.Store(false)
	l.mu.Lock()
	l.running--
	if l.running == 0 {
		l.idle.Broadcast()
	}
	l.mu.Unlock()
}

func (l *Loop) pass(ctx context.Context, gen uint64, stream camera.Stream) {
	start := l.cfg.Now()

	frame, err := stream.Frame(ctx)
	if err != nil {
		l.frameError(ctx, gen, StageCapture, err)
		return
	}
	width, height, err := detect.FrameSize(frame)
	if err != nil {
		l.frameError(ctx, gen, StageDecode, err)
		return
	}
	var faces []detect.Face
	if l.cfg.Detector != nil {
		faces, err = l.cfg.Detector.DetectAll(ctx, frame)
		if err != nil {
			l.frameError(ctx, gen, StageDetect, err)
			return
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen {
		return
	}

	display := l.cfg.Canvas.Bounds()
	now := l.cfg.Now()
	results := []MatchResult{}

	l.cfg.Canvas.Redraw(func(f *overlay.Frame) {
		for _, face := range faces {
			box := face.Box.Scale(width, height, display.Dx(), display.Dy())
			match := l.cfg.Matcher.FindBestMatch(face.Descriptor)
			if !match.IsKnown() {
				f.DrawUnknown(box)
				metrics.Matches.WithLabelValues("unknown").Inc()
				continue
			}

			member, ok := l.cfg.Members[match.Label]
			if !ok {
				member = database.Member{ID: match.Label, Name: match.Label}
			}
			f.DrawMatch(box, facematch.OverlayLabel(member.Name, member.ID))
			metrics.Matches.WithLabelValues("known").Inc()
			results = append(results, MatchResult{
				MemberID: member.ID,
				Name:     member.Name,
				Distance: match.Distance,
				Box:      box,
				At:       now,
			})
		}
	})

	l.results = results
	metrics.DetectionPasses.Inc()
	metrics.PassDuration.Observe(now.Sub(start).Seconds())
	if l.cfg.OnResults != nil {
		l.cfg.OnResults(results)
	}
}

func (l *Loop) frameError(ctx context.Context, gen uint64, stage string, err error) {
	if ctx.Err() != nil || errors.Is(err, camera.ErrStopped) {
		return
	}
	fe := &FrameError{Stage: stage, Err: err}

	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen {
		return
	}
	metrics.FrameErrors.Inc()
	l.cfg.Logger.Warn("detection pass abandoned", "stage", stage, "err", err)
	if l.cfg.OnFrameError != nil {
		l.cfg.OnFrameError(fe)
	}
}
