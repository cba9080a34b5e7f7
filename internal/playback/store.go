// Package playback is the interactive preview side of framecast: a player
// state machine, a bounded frame cache, a wall-clock controller and a
// serialized preview renderer.
package playback

import (
	"sync"

	"github.com/conneroisu/framecast/internal/template"
)

// State is a read-only snapshot of the player.
type State struct {
	IsPlaying       bool    `json:"isPlaying"`
	IsScrubbing     bool    `json:"isScrubbing"`
	IsReady         bool    `json:"isReady"`
	CurrentFrame    int     `json:"currentFrame"`
	TotalFrames     int     `json:"totalFrames"`
	FPS             float64 `json:"fps"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// ConfigUpdate changes timing. Nil fields are left alone.
type ConfigUpdate struct {
	FPS             *float64
	DurationSeconds *float64
}

// Store is the player state machine. All mutation goes through its methods;
// currentFrame stays within [0, totalFrames-1] after every call. Callbacks
// run synchronously after the store lock is released.
type Store struct {
	mu    sync.Mutex
	state State
	cache *FrameCache

	onPlay        []func()
	onPause       []func()
	onFrameChange []func(int)
	onChange      []func(State)
}

// NewStore creates an unready store owning cache. A nil cache gets the
// default bounds.
func NewStore(cache *FrameCache) *Store {
	if cache == nil {
		cache = NewFrameCache(0, 0)
	}
	return &Store{
		state: State{TotalFrames: 1},
		cache: cache,
	}
}

// OnPlay registers a callback fired by Play.
func (s *Store) OnPlay(fn func()) {
	s.mu.Lock()
	s.onPlay = append(s.onPlay, fn)
	s.mu.Unlock()
}

// OnPause registers a callback fired whenever playback is paused.
func (s *Store) OnPause(fn func()) {
	s.mu.Lock()
	s.onPause = append(s.onPause, fn)
	s.mu.Unlock()
}

// OnFrameChange registers a callback fired on every frame assignment, even
// when the frame is unchanged.
func (s *Store) OnFrameChange(fn func(frame int)) {
	s.mu.Lock()
	s.onFrameChange = append(s.onFrameChange, fn)
	s.mu.Unlock()
}

// OnChange registers a callback that receives the state after every
// mutation.
func (s *Store) OnChange(fn func(State)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// State returns a snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Initialize sets timing and marks the store ready.
func (s *Store) Initialize(fps, durationSeconds float64) {
	s.mu.Lock()
	s.state.FPS = fps
	s.state.DurationSeconds = durationSeconds
	s.state.TotalFrames = totalFrames(fps, durationSeconds)
	s.state.CurrentFrame = template.ClampFrame(s.state.CurrentFrame, s.state.TotalFrames)
	s.state.IsReady = true
	e := s.events()
	s.mu.Unlock()

	e.frame(e.state.CurrentFrame)
	e.changed()
}

// Play starts playback. It does nothing while scrubbing or before the store
// is ready. At the last frame playback restarts from 0.
func (s *Store) Play() {
	s.mu.Lock()
	if s.state.IsScrubbing || !s.state.IsReady {
		s.mu.Unlock()
		return
	}
	rewound := false
	if s.state.CurrentFrame == s.state.TotalFrames-1 {
		s.state.CurrentFrame = 0
		rewound = true
	}
	s.state.IsPlaying = true
	e := s.events()
	s.mu.Unlock()

	if rewound {
		e.frame(0)
	}
	e.play()
	e.changed()
}

// Pause stops playback.
func (s *Store) Pause() {
	s.mu.Lock()
	s.state.IsPlaying = false
	e := s.events()
	s.mu.Unlock()

	e.pause()
	e.changed()
}

// TogglePlayPause pauses when playing and plays otherwise.
func (s *Store) TogglePlayPause() {
	if s.State().IsPlaying {
		s.Pause()
		return
	}
	s.Play()
}

// SetFrame moves to frame, clamped into range.
func (s *Store) SetFrame(frame int) {
	s.mu.Lock()
	s.state.CurrentFrame = template.ClampFrame(frame, s.state.TotalFrames)
	e := s.events()
	s.mu.Unlock()

	e.frame(e.state.CurrentFrame)
	e.changed()
}

// StartScrubbing pauses playback if needed and enters scrubbing at frame.
func (s *Store) StartScrubbing(frame int) {
	s.mu.Lock()
	wasPlaying := s.state.IsPlaying
	s.state.IsPlaying = false
	s.state.IsScrubbing = true
	s.state.CurrentFrame = template.ClampFrame(frame, s.state.TotalFrames)
	e := s.events()
	s.mu.Unlock()

	if wasPlaying {
		e.pause()
	}
	e.frame(e.state.CurrentFrame)
	e.changed()
}

// ScrubTo moves to frame while scrubbing. Outside scrubbing it is ignored.
func (s *Store) ScrubTo(frame int) {
	s.mu.Lock()
	if !s.state.IsScrubbing {
		s.mu.Unlock()
		return
	}
	s.state.CurrentFrame = template.ClampFrame(frame, s.state.TotalFrames)
	e := s.events()
	s.mu.Unlock()

	e.frame(e.state.CurrentFrame)
	e.changed()
}

// StopScrubbing leaves scrubbing. Playback does not resume.
func (s *Store) StopScrubbing() {
	s.mu.Lock()
	s.state.IsScrubbing = false
	e := s.events()
	s.mu.Unlock()

	e.changed()
}

// UpdateConfig changes timing, recomputes totalFrames and re-clamps the
// current frame. A change in fps or duration invalidates the frame cache.
func (s *Store) UpdateConfig(u ConfigUpdate) {
	s.mu.Lock()
	changed := false
	if u.FPS != nil && *u.FPS != s.state.FPS {
		s.state.FPS = *u.FPS
		changed = true
	}
	if u.DurationSeconds != nil && *u.DurationSeconds != s.state.DurationSeconds {
		s.state.DurationSeconds = *u.DurationSeconds
		changed = true
	}
	s.state.TotalFrames = totalFrames(s.state.FPS, s.state.DurationSeconds)
	prev := s.state.CurrentFrame
	s.state.CurrentFrame = template.ClampFrame(prev, s.state.TotalFrames)
	e := s.events()
	s.mu.Unlock()

	if changed {
		s.cache.Clear()
	}
	if e.state.CurrentFrame != prev {
		e.frame(e.state.CurrentFrame)
	}
	e.changed()
}

// CachedFrame returns a memoized frame.
func (s *Store) CachedFrame(frame int) ([]byte, bool) {
	return s.cache.Get(frame)
}

// CacheFrame memoizes a rendered frame.
func (s *Store) CacheFrame(frame int, data []byte) {
	s.cache.Set(frame, data)
}

// InvalidateCache drops every memoized frame.
func (s *Store) InvalidateCache() {
	s.cache.Clear()
}

// Cache exposes the frame cache for stats.
func (s *Store) Cache() *FrameCache {
	return s.cache
}

func totalFrames(fps, durationSeconds float64) int {
	return max(1, template.TotalFrames(fps, durationSeconds))
}

// events captures callbacks and state under the lock so they can fire after
// it is released.
type events struct {
	state         State
	onPlay        []func()
	onPause       []func()
	onFrameChange []func(int)
	onChange      []func(State)
}

func (s *Store) events() events {
	return events{
		state:         s.state,
		onPlay:        s.onPlay,
		onPause:       s.onPause,
		onFrameChange: s.onFrameChange,
		onChange:      s.onChange,
	}
}

func (e events) play() {
	for _, fn := range e.onPlay {
		fn()
	}
}

func (e events) pause() {
	for _, fn := range e.onPause {
		fn()
	}
}

func (e events) frame(frame int) {
	for _, fn := range e.onFrameChange {
		fn(frame)
	}
}

func (e events) changed() {
	for _, fn := range e.onChange {
		fn(e.state)
	}
}
