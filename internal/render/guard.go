package render

import (
	"fmt"
	"image"

	"github.com/conneroisu/framecast/internal/errors"
)

// FrameGuard enforces the rules every encoder applies to incoming frames:
// dimensions must match exactly and timestamps must strictly increase.
// Frames are never resized to fit.
type FrameGuard struct {
	width, height int
	last          float64
	count         int
}

// NewFrameGuard creates a guard for a width x height stream.
func NewFrameGuard(width, height int) *FrameGuard {
	return &FrameGuard{width: width, height: height}
}

// Check validates one frame and records its timestamp.
func (g *FrameGuard) Check(img *image.RGBA, timestamp float64) error {
	if img == nil {
		return errors.NewValidationError(errors.ErrCodeFrameMismatch, "frame buffer is nil")
	}

	b := img.Bounds()
	if b.Dx() != g.width || b.Dy() != g.height {
		return errors.NewValidationError(errors.ErrCodeFrameMismatch,
			fmt.Sprintf("frame is %dx%d but the encoder is configured for %dx%d", b.Dx(), b.Dy(), g.width, g.height)).
			WithContext("frame_index", g.count)
	}

	if g.count > 0 && timestamp <= g.last {
		return errors.NewValidationError(errors.ErrCodeFrameOrder,
			fmt.Sprintf("frame timestamp %.6fs does not follow %.6fs", timestamp, g.last)).
			WithContext("frame_index", g.count)
	}

	g.last = timestamp
	g.count++
	return nil
}

// Count is the number of frames accepted so far.
func (g *FrameGuard) Count() int {
	return g.count
}
