package playback

import (
	"context"
	"time"

	"github.com/conneroisu/framecast/internal/logging"
)

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	// Loop restarts from frame 0 at the end instead of pausing.
	Loop   bool
	Logger logging.Logger
}

// Controller advances a Store on a wall-clock schedule while it is playing.
type Controller struct {
	store  *Store
	loop   bool
	logger logging.Logger
}

// NewController creates a controller for store.
func NewController(store *Store, opts ControllerOptions) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Controller{store: store, loop: opts.Loop, logger: logger.WithComponent("playback")}
}

// Step advances one frame if the store is playing and reports whether the
// frame moved. At the last frame it loops to 0 or pauses.
func (c *Controller) Step() bool {
	st := c.store.State()
	if !st.IsPlaying || st.IsScrubbing {
		return false
	}

	next := st.CurrentFrame + 1
	if next <= st.TotalFrames-1 {
		c.store.SetFrame(next)
		return true
	}
	if c.loop {
		c.store.SetFrame(0)
		return true
	}
	c.store.Pause()
	return false
}

// Interval is the wall-clock time between frames at fps.
func Interval(fps float64) time.Duration {
	if fps <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / fps)
}

// Run ticks at the store's frame rate until ctx is done. The ticker follows
// fps changes.
func (c *Controller) Run(ctx context.Context) error {
	interval := Interval(c.store.State().FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Debug(ctx, "Playback controller started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Step()
			if next := Interval(c.store.State().FPS); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}
