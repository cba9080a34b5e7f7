package playback

import (
	"bytes"
	"context"
	"image/png"
	"sync"
	"time"

	"github.com/conneroisu/framecast/internal/checkpoint"
	"github.com/conneroisu/framecast/internal/errors"
	"github.com/conneroisu/framecast/internal/logging"
	"github.com/conneroisu/framecast/internal/plan"
	"github.com/conneroisu/framecast/internal/render"
	"github.com/conneroisu/framecast/internal/template"
)

// DefaultRenderTimeout bounds one preview frame.
const DefaultRenderTimeout = 30 * time.Second

// Frame is one rendered preview frame.
type Frame struct {
	Frame      int
	Generation uint64
	PNG        []byte
}

// SessionOptions configures a Session.
type SessionOptions struct {
	RenderTimeout time.Duration
	Logger        logging.Logger
}

// Session renders preview frames for one store.
//
// At most one frame is rendered at a time. Requests that arrive while a
// render is in flight collapse into a single latest-wanted frame, which is
// rendered next unless it equals the frame just produced. Results from a
// superseded template generation are dropped.
type Session struct {
	store    *Store
	renderer render.Renderer
	logger   logging.Logger
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// renderMu serializes renderer use against re-initialization.
	renderMu    sync.Mutex
	initialized bool

	mu         sync.Mutex
	idle       *sync.Cond
	plan       *plan.RenderPlan
	generation uint64
	busy       bool
	wanted     int
	hasWanted  bool
	closed     bool
	resolver   *checkpoint.Resolver
	onFrame    []func(Frame)
	onError    []func(int, error)
}

// NewSession creates a session that renders whenever store's frame changes.
func NewSession(store *Store, renderer render.Renderer, opts SessionOptions) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	timeout := opts.RenderTimeout
	if timeout <= 0 {
		timeout = DefaultRenderTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		store:    store,
		renderer: renderer,
		logger:   logger.WithComponent("preview"),
		timeout:  timeout,
		ctx:      ctx,
		cancel:   cancel,
		resolver: checkpoint.NewResolver(),
	}
	s.idle = sync.NewCond(&s.mu)

	store.OnFrameChange(s.Request)
	return s
}

// OnFrame registers a callback for every published frame.
func (s *Session) OnFrame(fn func(Frame)) {
	s.mu.Lock()
	s.onFrame = append(s.onFrame, fn)
	s.mu.Unlock()
}

// OnError registers a callback for frames that failed to render.
func (s *Session) OnError(fn func(frame int, err error)) {
	s.mu.Lock()
	s.onError = append(s.onError, fn)
	s.mu.Unlock()
}

// Plan returns the current plan, or nil before SetTemplate.
func (s *Session) Plan() *plan.RenderPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan
}

// Generation increases with every SetTemplate.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Checkpoints returns the resolver for the current template: its markers
// plus every runtime checkpoint seen in rendered frames.
func (s *Session) Checkpoints() *checkpoint.Resolver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolver
}

// SetTemplate switches the session to p. The renderer is re-initialized, the
// frame cache is dropped wholesale and the current frame is re-rendered.
func (s *Session) SetTemplate(ctx context.Context, p *plan.RenderPlan) error {
	markers, err := checkpoint.FromMarkers(p.Template.Config().Markers, p.FPS, p.TotalFrames)
	if err != nil {
		return err
	}

	s.renderMu.Lock()
	if s.initialized {
		if err := s.renderer.Dispose(); err != nil {
			s.logger.Warn(ctx, err, "Renderer dispose failed")
		}
		s.initialized = false
	}
	if err := s.renderer.Init(ctx, p); err != nil {
		s.renderMu.Unlock()
		return render.AdapterError(err, "failed to initialize preview renderer")
	}
	s.initialized = true
	s.renderMu.Unlock()

	s.mu.Lock()
	s.generation++
	s.plan = p
	s.resolver = checkpoint.NewResolver(markers...)
	s.store.InvalidateCache()
	gen := s.generation
	s.mu.Unlock()

	s.logger.Info(ctx, "Preview template loaded", "generation", gen, "frames", p.TotalFrames, "markers", len(markers))

	// Initialize and a clamping UpdateConfig already request the frame
	// through the store's frame-change callback.
	fps, duration := p.FPS, float64(p.TotalFrames)/p.FPS
	before := s.store.State()
	if !before.IsReady {
		s.store.Initialize(fps, duration)
		return nil
	}
	s.store.UpdateConfig(ConfigUpdate{FPS: &fps, DurationSeconds: &duration})
	if after := s.store.State(); after.CurrentFrame == before.CurrentFrame {
		s.Request(after.CurrentFrame)
	}
	return nil
}

// Request asks for frame to be rendered. It never blocks.
func (s *Session) Request(frame int) {
	s.mu.Lock()
	if s.plan == nil || s.closed {
		s.mu.Unlock()
		return
	}
	frame = template.ClampFrame(frame, s.plan.TotalFrames)
	if s.busy {
		s.wanted, s.hasWanted = frame, true
		s.mu.Unlock()
		return
	}
	s.busy = true
	s.mu.Unlock()

	go s.loop(frame)
}

// Wait blocks until no render is in flight.
func (s *Session) Wait() {
	s.mu.Lock()
	for s.busy {
		s.idle.Wait()
	}
	s.mu.Unlock()
}

// Close stops rendering and disposes the renderer.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.Wait()

	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	if !s.initialized {
		return nil
	}
	s.initialized = false
	return s.renderer.Dispose()
}

func (s *Session) loop(frame int) {
	for {
		s.mu.Lock()
		gen, p, resolver := s.generation, s.plan, s.resolver
		s.mu.Unlock()

		data, cached := s.store.CachedFrame(frame)
		var (
			markup string
			err    error
		)
		if !cached {
			data, markup, err = s.render(p, frame)
		}

		s.mu.Lock()
		current := gen == s.generation
		if current && err == nil && !cached {
			s.store.CacheFrame(frame, data)
		}
		onFrame, onError := s.onFrame, s.onError
		s.mu.Unlock()

		if current {
			if err != nil {
				s.logger.Debug(s.ctx, "Preview frame failed", "frame", frame, "error", err.Error())
				for _, fn := range onError {
					fn(frame, err)
				}
			} else {
				for _, cp := range checkpoint.ScanMarkup(markup, frame, p.FPS) {
					resolver.Add(cp)
				}
				f := Frame{Frame: frame, Generation: gen, PNG: data}
				for _, fn := range onFrame {
					fn(f)
				}
			}
		}

		s.mu.Lock()
		next, again := s.wanted, s.hasWanted
		s.hasWanted = false
		switch {
		case s.closed:
			again = false
		case !again:
			// A result from an older template is never shown; redo it.
			next, again = frame, gen != s.generation
		case next == frame && gen == s.generation:
			again = false
		}
		if !again {
			s.busy = false
			s.idle.Broadcast()
			s.mu.Unlock()
			return
		}
		frame = template.ClampFrame(next, s.plan.TotalFrames)
		s.mu.Unlock()
	}
}

func (s *Session) render(p *plan.RenderPlan, frame int) ([]byte, string, error) {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	markup, err := render.RenderMarkup(ctx, p, frame)
	if err != nil {
		return nil, "", err
	}

	img, err := s.renderer.CaptureFrame(ctx, markup)
	if err != nil {
		return nil, markup, render.AdapterError(err, "preview capture failed")
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, markup, errors.WrapInternal(err, errors.ErrCodeInternalError, "failed to encode preview frame")
	}
	return buf.Bytes(), markup, nil
}
