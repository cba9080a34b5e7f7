package playback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	plays  int
	pauses int
	frames []int
}

func newRecordedStore(fps, duration float64) (*Store, *recorder) {
	s := NewStore(nil)
	rec := &recorder{}
	s.OnPlay(func() { rec.plays++ })
	s.OnPause(func() { rec.pauses++ })
	s.OnFrameChange(func(f int) { rec.frames = append(rec.frames, f) })
	s.Initialize(fps, duration)
	rec.frames = nil
	return s, rec
}

func TestStoreInitialState(t *testing.T) {
	s := NewStore(nil)
	st := s.State()
	assert.False(t, st.IsReady)
	assert.False(t, st.IsPlaying)
	assert.Equal(t, 1, st.TotalFrames)
	assert.Equal(t, 0, st.CurrentFrame)

	s.Play()
	assert.False(t, s.State().IsPlaying, "play before initialize is ignored")

	s.Initialize(30, 5)
	st = s.State()
	assert.True(t, st.IsReady)
	assert.Equal(t, 150, st.TotalFrames)
}

func TestStoreSetFrameClamps(t *testing.T) {
	s, rec := newRecordedStore(30, 5)

	s.SetFrame(-10)
	assert.Equal(t, 0, s.State().CurrentFrame)

	s.SetFrame(150 + 50)
	assert.Equal(t, 149, s.State().CurrentFrame)

	s.SetFrame(149)
	assert.Equal(t, []int{0, 149, 149}, rec.frames, "frame change fires even when unchanged")
}

func TestStorePlay(t *testing.T) {
	t.Run("at last frame rewinds first", func(t *testing.T) {
		s, rec := newRecordedStore(30, 5)
		s.SetFrame(149)
		rec.frames = nil

		s.Play()
		st := s.State()
		assert.True(t, st.IsPlaying)
		assert.Equal(t, 0, st.CurrentFrame)
		assert.Equal(t, []int{0}, rec.frames)
		assert.Equal(t, 1, rec.plays)
	})

	t.Run("elsewhere keeps frame", func(t *testing.T) {
		s, rec := newRecordedStore(30, 5)
		s.SetFrame(42)
		rec.frames = nil

		s.Play()
		assert.True(t, s.State().IsPlaying)
		assert.Equal(t, 42, s.State().CurrentFrame)
		assert.Empty(t, rec.frames)
	})

	t.Run("ignored while scrubbing", func(t *testing.T) {
		s, rec := newRecordedStore(30, 5)
		s.StartScrubbing(10)
		s.Play()
		assert.False(t, s.State().IsPlaying)
		assert.Equal(t, 0, rec.plays)
	})
}

func TestStorePauseAndToggle(t *testing.T) {
	s, rec := newRecordedStore(30, 5)

	s.TogglePlayPause()
	assert.True(t, s.State().IsPlaying)
	s.TogglePlayPause()
	assert.False(t, s.State().IsPlaying)
	s.Pause()

	assert.Equal(t, 1, rec.plays)
	assert.Equal(t, 2, rec.pauses)
}

func TestStoreScrubbing(t *testing.T) {
	s, rec := newRecordedStore(30, 5)

	s.ScrubTo(80)
	assert.Equal(t, 0, s.State().CurrentFrame, "scrubTo without startScrubbing has no effect")
	assert.Empty(t, rec.frames)

	s.Play()
	s.StartScrubbing(20)
	st := s.State()
	assert.False(t, st.IsPlaying, "scrubbing force-pauses")
	assert.True(t, st.IsScrubbing)
	assert.Equal(t, 20, st.CurrentFrame)
	assert.Equal(t, 1, rec.pauses)

	s.ScrubTo(500)
	assert.Equal(t, 149, s.State().CurrentFrame)
	s.ScrubTo(60)

	s.StopScrubbing()
	st = s.State()
	assert.False(t, st.IsScrubbing)
	assert.False(t, st.IsPlaying, "stopping does not resume playback")
	assert.Equal(t, 60, st.CurrentFrame)

	s.ScrubTo(10)
	assert.Equal(t, 60, s.State().CurrentFrame)
}

func TestStoreUpdateConfig(t *testing.T) {
	s, rec := newRecordedStore(30, 5)
	s.SetFrame(140)
	s.CacheFrame(3, []byte("png"))
	rec.frames = nil

	duration := 2.0
	s.UpdateConfig(ConfigUpdate{DurationSeconds: &duration})
	st := s.State()
	assert.Equal(t, 60, st.TotalFrames)
	assert.Equal(t, 59, st.CurrentFrame)
	assert.Equal(t, []int{59}, rec.frames)
	_, ok := s.CachedFrame(3)
	assert.False(t, ok, "timing change invalidates the cache")

	s.CacheFrame(3, []byte("png"))
	s.UpdateConfig(ConfigUpdate{DurationSeconds: &duration})
	_, ok = s.CachedFrame(3)
	assert.True(t, ok, "unchanged timing keeps the cache")

	fps := 60.0
	s.UpdateConfig(ConfigUpdate{FPS: &fps})
	assert.Equal(t, 120, s.State().TotalFrames)
	assert.Equal(t, 59, s.State().CurrentFrame)
}

func TestStoreOnChange(t *testing.T) {
	s := NewStore(nil)
	var states []State
	s.OnChange(func(st State) { states = append(states, st) })

	s.Initialize(10, 1)
	s.Play()
	s.Pause()

	require.Len(t, states, 3)
	assert.True(t, states[1].IsPlaying)
	assert.False(t, states[2].IsPlaying)
}

func TestStoreZeroDurationKeepsOneFrame(t *testing.T) {
	s := NewStore(nil)
	s.Initialize(30, 0)
	assert.Equal(t, 1, s.State().TotalFrames)
	s.SetFrame(5)
	assert.Equal(t, 0, s.State().CurrentFrame)
}

func TestControllerStep(t *testing.T) {
	s := NewStore(nil)
	s.Initialize(10, 0.3)
	c := NewController(s, ControllerOptions{})

	assert.False(t, c.Step(), "does nothing while paused")

	s.Play()
	assert.True(t, c.Step())
	assert.True(t, c.Step())
	assert.Equal(t, 2, s.State().CurrentFrame)

	assert.False(t, c.Step(), "pauses at the last frame")
	assert.False(t, s.State().IsPlaying)
	assert.Equal(t, 2, s.State().CurrentFrame)

	looping := NewController(s, ControllerOptions{Loop: true})
	s.Play()
	s.SetFrame(2)
	assert.True(t, looping.Step())
	assert.Equal(t, 0, s.State().CurrentFrame)
	assert.True(t, s.State().IsPlaying)
}

func TestInterval(t *testing.T) {
	assert.Equal(t, "33.333333ms", Interval(30).String())
	assert.Equal(t, "1s", Interval(0).String())
}
