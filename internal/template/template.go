// Package template defines what a framecast template is: a pure function from
// a frame's time context to a markup string, plus optional declarative config
// and default input data.
//
// Templates are usually produced by the compiler from JavaScript or
// TypeScript source, but anything implementing Template can be rendered,
// which is how Go code and tests provide templates directly.
package template

import (
	"context"
)

// Template renders one frame of a scene. Implementations are assumed to be
// pure: the same RenderContext must always yield the same markup.
type Template interface {
	Render(ctx context.Context, rc RenderContext) (string, error)
	Config() Config
	Defaults() map[string]any
}

// Config is the declarative part of a template. Every field is optional and
// is resolved against request overrides and built-in defaults by the plan
// builder.
type Config struct {
	Width           int                     `json:"width,omitempty" yaml:"width,omitempty"`
	Height          int                     `json:"height,omitempty" yaml:"height,omitempty"`
	FPS             float64                 `json:"fps,omitempty" yaml:"fps,omitempty"`
	DurationSeconds float64                 `json:"durationSeconds,omitempty" yaml:"durationSeconds,omitempty"`
	Fonts           []string                `json:"fonts,omitempty" yaml:"fonts,omitempty"`
	InlineCSS       []string                `json:"inlineCss,omitempty" yaml:"inlineCss,omitempty"`
	Stylesheets     []string                `json:"stylesheets,omitempty" yaml:"stylesheets,omitempty"`
	Outputs         map[string]OutputPreset `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Markers         []Marker                `json:"markers,omitempty" yaml:"markers,omitempty"`
}

// OutputPreset is a named output variant. Unset fields inherit from the base
// configuration.
type OutputPreset struct {
	Width  int     `json:"width,omitempty" yaml:"width,omitempty"`
	Height int     `json:"height,omitempty" yaml:"height,omitempty"`
	FPS    float64 `json:"fps,omitempty" yaml:"fps,omitempty"`
}

// Marker is an author-declared navigable position. Either Frame or Time
// locates it; Frame wins when both are set.
type Marker struct {
	ID    string   `json:"id" yaml:"id"`
	Frame *int     `json:"frame,omitempty" yaml:"frame,omitempty"`
	Time  *float64 `json:"time,omitempty" yaml:"time,omitempty"`
	Label string   `json:"label,omitempty" yaml:"label,omitempty"`
}

// RenderContext is everything a template may read while rendering a frame.
// Data is the merged template input (defaults overlaid by request data).
type RenderContext struct {
	TimeContext
	Width  int
	Height int
	Data   map[string]any
}

// Value converts the context to the plain map handed to script templates.
// Data is deep-copied on every call, so nothing a template writes to it is
// visible to the caller or to the next frame.
func (rc RenderContext) Value() map[string]any {
	data := CloneData(rc.Data)
	if data == nil {
		data = map[string]any{}
	}

	return map[string]any{
		"frame":            rc.Frame,
		"totalFrames":      rc.TotalFrames,
		"fps":              rc.FPS,
		"durationSeconds":  rc.DurationSeconds,
		"sceneTimeSeconds": rc.SceneTimeSeconds,
		"sceneProgress":    rc.SceneProgress,
		"width":            rc.Width,
		"height":           rc.Height,
		"data":             data,
	}
}

// Func adapts a Go function into a Template.
type Func struct {
	RenderFunc func(ctx context.Context, rc RenderContext) (string, error)
	Cfg        Config
	Data       map[string]any
}

// Render implements Template.
func (f *Func) Render(ctx context.Context, rc RenderContext) (string, error) {
	return f.RenderFunc(ctx, rc)
}

// Config implements Template.
func (f *Func) Config() Config {
	return f.Cfg
}

// Defaults implements Template.
func (f *Func) Defaults() map[string]any {
	return f.Data
}

// MergeData overlays overrides onto defaults. The result is a new map that
// shares no nested maps or slices with either input; keys from overrides win.
func MergeData(defaults, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[k] = cloneValue(v)
	}
	for k, v := range overrides {
		out[k] = cloneValue(v)
	}
	return out
}

// CloneData deep-copies template input. Nested objects and arrays are copied;
// scalars are shared as is. A nil map stays nil.
func CloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return CloneData(v)
	case []any:
		if v == nil {
			return v
		}
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	case map[any]any:
		out := make(map[any]any, len(v))
		for k, e := range v {
			out[k] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), v...)
	case []map[string]any:
		out := make([]map[string]any, len(v))
		for i, e := range v {
			out[i] = CloneData(e)
		}
		return out
	default:
		return v
	}
}
