package template

import "math"

// TimeContext is the deterministic time of one frame.
type TimeContext struct {
	Frame            int
	TotalFrames      int
	FPS              float64
	DurationSeconds  float64
	SceneTimeSeconds float64
	SceneProgress    float64
}

// NewTimeContext derives a frame's time from its index alone:
// sceneTime = frame/fps and sceneProgress = frame/(totalFrames-1), or 0 when
// the scene has a single frame.
func NewTimeContext(frame int, fps float64, totalFrames int) TimeContext {
	tc := TimeContext{
		Frame:       frame,
		TotalFrames: totalFrames,
		FPS:         fps,
	}
	if fps > 0 {
		tc.SceneTimeSeconds = float64(frame) / fps
		tc.DurationSeconds = float64(totalFrames) / fps
	}
	if totalFrames > 1 {
		tc.SceneProgress = float64(frame) / float64(totalFrames-1)
	}
	return tc
}

// TotalFrames returns round(fps*durationSeconds). Rounding, not truncation,
// keeps 29.97 fps * 10 s at 300 frames.
func TotalFrames(fps, durationSeconds float64) int {
	if fps <= 0 || durationSeconds <= 0 {
		return 0
	}
	return int(math.Round(fps * durationSeconds))
}

// ClampFrame bounds frame to [0, totalFrames-1].
func ClampFrame(frame, totalFrames int) int {
	last := totalFrames - 1
	if last < 0 {
		last = 0
	}
	if frame < 0 {
		return 0
	}
	if frame > last {
		return last
	}
	return frame
}
