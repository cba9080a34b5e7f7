// Package plan resolves a render request against a compiled template into an
// immutable RenderPlan.
//
// Numeric fields follow the precedence job > template config > configured
// defaults > built-in default. List fields (fonts, inline CSS, stylesheets) are concatenated with
// job entries first and are never deduplicated, so a later CSS rule can still
// override an earlier one.
package plan

import (
	"context"
	"fmt"
	"slices"

	"github.com/conneroisu/framecast/internal/compiler"
	"github.com/conneroisu/framecast/internal/errors"
	"github.com/conneroisu/framecast/internal/template"
)

// Built-in defaults used when nothing else sets a value.
const (
	DefaultWidth           = 1920
	DefaultHeight          = 1080
	DefaultFPS             = 30.0
	DefaultDurationSeconds = 5.0
)

// RenderJob is one render request. Zero numeric fields mean "not set".
type RenderJob struct {
	TemplateCode string
	// Filename and Dir locate the template for diagnostics and relative
	// imports.
	Filename string
	Dir      string

	DurationSeconds float64
	Width           int
	Height          int
	FPS             float64

	Fonts       []string
	InlineCSS   []string
	Stylesheets []string

	// Data overrides the template's defaults.
	Data     map[string]any
	Encoding *EncodingOptions

	// Defaults only fill fields that neither the job nor the template sets.
	Defaults Defaults
}

// Defaults are configured fallbacks that rank below the template's config.
// Zero fields fall through to the built-in defaults.
type Defaults struct {
	Width           int
	Height          int
	FPS             float64
	DurationSeconds float64
}

// ApplyPreset returns a copy of the job with the preset's dimensions and
// frame rate set explicitly.
func (j RenderJob) ApplyPreset(p PresetConfig) RenderJob {
	j.Width = p.Width
	j.Height = p.Height
	j.FPS = p.FPS
	return j
}

// RenderPlan is the fully resolved input of one render. It is never mutated
// after creation.
type RenderPlan struct {
	Template        template.Template
	Width           int
	Height          int
	FPS             float64
	DurationSeconds float64
	TotalFrames     int

	Fonts       []string
	InlineCSS   []string
	Stylesheets []string

	Data     map[string]any
	Encoding EncodingOptions
}

// TimeContext returns the deterministic time of frame.
func (p *RenderPlan) TimeContext(frame int) template.TimeContext {
	return template.NewTimeContext(frame, p.FPS, p.TotalFrames)
}

// RenderContext returns everything the template receives for frame.
func (p *RenderPlan) RenderContext(frame int) template.RenderContext {
	return template.RenderContext{
		TimeContext: p.TimeContext(frame),
		Width:       p.Width,
		Height:      p.Height,
		Data:        p.Data,
	}
}

// Timestamp is the presentation time of frame in seconds.
func (p *RenderPlan) Timestamp(frame int) float64 {
	return float64(frame) / p.FPS
}

// CreateRenderPlan compiles the job's template, resolves the plan and
// validates the template against the first frame. A plan is never returned
// with an unusable template; compiler errors are wrapped so their kind
// survives errors.As.
func CreateRenderPlan(ctx context.Context, job RenderJob, opts compiler.Options) (*RenderPlan, error) {
	tpl, err := compiler.Compile(ctx, compiler.Source{
		Code:     job.TemplateCode,
		Filename: job.Filename,
		Dir:      job.Dir,
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create render plan: %w", err)
	}

	p, err := BuildRenderPlan(tpl, job)
	if err != nil {
		return nil, err
	}

	if err := compiler.ValidateTemplate(ctx, tpl, p.RenderContext(0)); err != nil {
		return nil, fmt.Errorf("failed to create render plan: %w", err)
	}
	return p, nil
}

// BuildRenderPlan resolves job against an already compiled template.
func BuildRenderPlan(tpl template.Template, job RenderJob) (*RenderPlan, error) {
	if tpl == nil {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidPlan, "render plan needs a template")
	}
	cfg := tpl.Config()

	p := &RenderPlan{
		Template:        tpl,
		Width:           firstInt(job.Width, cfg.Width, job.Defaults.Width, DefaultWidth),
		Height:          firstInt(job.Height, cfg.Height, job.Defaults.Height, DefaultHeight),
		FPS:             firstFloat(job.FPS, cfg.FPS, job.Defaults.FPS, DefaultFPS),
		DurationSeconds: firstFloat(job.DurationSeconds, cfg.DurationSeconds, job.Defaults.DurationSeconds, DefaultDurationSeconds),
		Fonts:           concat(job.Fonts, cfg.Fonts),
		InlineCSS:       concat(job.InlineCSS, cfg.InlineCSS),
		Stylesheets:     concat(job.Stylesheets, cfg.Stylesheets),
		Data:            template.MergeData(tpl.Defaults(), job.Data),
	}
	p.TotalFrames = template.TotalFrames(p.FPS, p.DurationSeconds)

	if job.Encoding != nil {
		p.Encoding = job.Encoding.withDefaults()
	} else {
		p.Encoding = DefaultEncoding()
	}

	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *RenderPlan) validate() error {
	vec := &errors.ValidationErrorCollection{}
	if p.Width <= 0 {
		vec.AddField("width", p.Width, "must be positive")
	}
	if p.Height <= 0 {
		vec.AddField("height", p.Height, "must be positive")
	}
	if p.FPS <= 0 {
		vec.AddField("fps", p.FPS, "must be positive")
	}
	if p.DurationSeconds <= 0 {
		vec.AddField("durationSeconds", p.DurationSeconds, "must be positive")
	} else if p.FPS > 0 && p.TotalFrames < 1 {
		vec.AddField("totalFrames", p.TotalFrames, "fps * durationSeconds must round to at least one frame")
	}
	if vec.HasErrors() {
		return vec.ToFramecastError(errors.ErrCodeInvalidPlan)
	}
	return p.Encoding.Validate()
}

func firstInt(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func firstFloat(vals ...float64) float64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

// concat joins lists in order into a fresh slice so the plan never aliases
// caller memory.
func concat(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return slices.Clip(out)
}
