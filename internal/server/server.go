// Package server is the live preview: an HTTP API over the playback store,
// a websocket feed of state, frame and error updates, and the player page.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/conneroisu/framecast/internal/errors"
	"github.com/conneroisu/framecast/internal/logging"
	"github.com/conneroisu/framecast/internal/plan"
	"github.com/conneroisu/framecast/internal/playback"
)

const shutdownTimeout = 5 * time.Second

// PlanFunc compiles the template and resolves a fresh plan.
type PlanFunc func(ctx context.Context) (*plan.RenderPlan, error)

// Options configures a Server.
type Options struct {
	Host           string
	Port           int
	AllowedOrigins []string
	// TemplatePath is shown on the page and in error hints.
	TemplatePath string
	// Build is called by Reload.
	Build  PlanFunc
	Logger logging.Logger
}

// Server serves one preview session.
type Server struct {
	opts    Options
	store   *playback.Store
	session *playback.Session
	hub     *Hub
	logger  logging.Logger

	mu      sync.RWMutex
	lastErr *ErrorPayload
	addr    string
}

// New wires a server to store and session. Store changes, rendered frames
// and render failures are broadcast to every connected browser.
func New(store *playback.Store, session *playback.Session, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}

	s := &Server{
		opts:    opts,
		store:   store,
		session: session,
		hub:     NewHub(opts.Port, opts.AllowedOrigins, logger),
		logger:  logger.WithComponent("server"),
	}

	store.OnChange(func(st playback.State) {
		s.hub.Broadcast(Message{Type: MessageState, State: &st})
	})
	session.OnFrame(func(f playback.Frame) {
		s.clearRuntimeError()
		s.hub.Broadcast(Message{Type: MessageFrame, Frame: &FramePayload{
			Frame:      f.Frame,
			Generation: f.Generation,
			URL:        frameURL(f.Frame, f.Generation),
		}})
	})
	session.OnError(func(frame int, err error) {
		s.logger.Warn(context.Background(), err, "Preview frame failed", "frame", frame)
		s.publishError(err)
	})

	return s
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.hub.ServeHTTP)
	r.Get("/frames/{frame}.png", s.handleFrame)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Post("/play", s.action(s.store.Play))
		r.Post("/pause", s.action(s.store.Pause))
		r.Post("/toggle", s.action(s.store.TogglePlayPause))
		r.Post("/seek", s.frameAction(s.store.SetFrame))
		r.Post("/scrub/start", s.frameAction(s.store.StartScrubbing))
		r.Post("/scrub", s.frameAction(s.store.ScrubTo))
		r.Post("/scrub/stop", s.action(s.store.StopScrubbing))
		r.Get("/checkpoints", s.handleCheckpoints)
		r.Post("/checkpoints/{direction}", s.handleCheckpointJump)
	})

	return r
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.opts.Host, fmt.Sprint(s.opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.NewEnvironmentError(errors.ErrCodeAdapterFailed, "failed to listen on "+addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	httpServer := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- httpServer.Serve(ln) }()

	s.logger.Info(ctx, "Preview server listening", "url", s.URL())

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info(ctx, "Shutting down preview server")
	stopHub()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// URL is the address browsers should open, known once Serve has started.
func (s *Server) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.addr == "" {
		return ""
	}
	return "http://" + s.addr
}

// Reload rebuilds the plan and swaps it into the session. On failure the
// previous template keeps playing and the error is broadcast.
func (s *Server) Reload(ctx context.Context) error {
	if s.opts.Build == nil {
		return errors.NewInternalError(errors.ErrCodeInternalError, "preview server has no template builder", nil)
	}

	perf := logging.StartOperation(s.logger, "reload")

	p, err := s.opts.Build(ctx)
	if err == nil {
		err = s.session.SetTemplate(ctx, p)
	}
	if err != nil {
		perf.EndWithError(ctx, err)
		s.publishError(err)
		return err
	}

	generation := s.session.Generation()
	perf.End(ctx, "generation", generation, "total_frames", p.TotalFrames)

	s.setError(nil)
	st := s.store.State()
	s.hub.Broadcast(Message{Type: MessageReload, State: &st})
	return nil
}

// LastError returns the error currently shown in the browser, if any.
func (s *Server) LastError() *ErrorPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *Server) publishError(err error) {
	payload := newErrorPayload(err, s.opts.TemplatePath)
	s.setError(payload)
	s.hub.Broadcast(Message{Type: MessageError, Error: payload})
}

func (s *Server) setError(p *ErrorPayload) {
	s.mu.Lock()
	s.lastErr = p
	s.mu.Unlock()
}

// clearRuntimeError drops a frame failure once a later frame renders. Compile
// errors stay until the next successful reload.
func (s *Server) clearRuntimeError() {
	s.mu.Lock()
	if s.lastErr != nil && s.lastErr.Frame != nil {
		s.lastErr = nil
	}
	s.mu.Unlock()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		// Frame fetches and websocket upgrades are too chatty for info.
		s.logger.Debug(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if s.isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) isAllowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// OpenBrowser opens target in the system browser.
func OpenBrowser(target string) error {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("refusing to open invalid URL %q", target)
	}

	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd":
		return exec.Command("xdg-open", u.String()).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", u.String()).Start()
	case "darwin":
		return exec.Command("open", u.String()).Start()
	default:
		return fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
}

func frameURL(frame int, generation uint64) string {
	return fmt.Sprintf("/frames/%d.png?g=%d", frame, generation)
}
