package plan

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/framecast/internal/compiler"
	"github.com/conneroisu/framecast/internal/errors"
	"github.com/conneroisu/framecast/internal/template"
)

func staticTemplate(cfg template.Config, defaults map[string]any) *template.Func {
	return &template.Func{
		RenderFunc: func(context.Context, template.RenderContext) (string, error) {
			return "<div></div>", nil
		},
		Cfg:  cfg,
		Data: defaults,
	}
}

func TestBuildRenderPlanPrecedence(t *testing.T) {
	tests := []struct {
		name string
		job  RenderJob
		cfg  template.Config
		want RenderPlan
	}{
		{
			name: "built-in defaults",
			want: RenderPlan{Width: 1920, Height: 1080, FPS: 30, DurationSeconds: 5, TotalFrames: 150},
		},
		{
			name: "template config over defaults",
			cfg:  template.Config{Width: 1280, Height: 720, FPS: 60},
			want: RenderPlan{Width: 1280, Height: 720, FPS: 60, DurationSeconds: 5, TotalFrames: 300},
		},
		{
			name: "job over template config",
			job:  RenderJob{Width: 640, FPS: 24, DurationSeconds: 2},
			cfg:  template.Config{Width: 1280, Height: 720, FPS: 60, DurationSeconds: 10},
			want: RenderPlan{Width: 640, Height: 720, FPS: 24, DurationSeconds: 2, TotalFrames: 48},
		},
		{
			name: "template config over configured defaults",
			job:  RenderJob{Defaults: Defaults{Width: 1280, Height: 720, FPS: 24, DurationSeconds: 3}},
			cfg:  template.Config{Width: 320, Height: 180},
			want: RenderPlan{Width: 320, Height: 180, FPS: 24, DurationSeconds: 3, TotalFrames: 72},
		},
		{
			name: "total frames rounds rather than truncates",
			job:  RenderJob{FPS: 29.97, DurationSeconds: 10},
			want: RenderPlan{Width: 1920, Height: 1080, FPS: 29.97, DurationSeconds: 10, TotalFrames: 300},
		},
	}

	ignore := cmpopts.IgnoreFields(RenderPlan{}, "Template", "Data", "Encoding", "Fonts", "InlineCSS", "Stylesheets")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := BuildRenderPlan(staticTemplate(tt.cfg, nil), tt.job)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, *p, ignore); diff != "" {
				t.Errorf("plan mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildRenderPlanMergesListsJobFirst(t *testing.T) {
	cfg := template.Config{
		Fonts:       []string{"TemplateFont"},
		InlineCSS:   []string{"h1 { color: red; }"},
		Stylesheets: []string{"https://example.com/template.css"},
	}
	job := RenderJob{
		Fonts:       []string{"GlobalFont"},
		InlineCSS:   []string{"h1 { color: blue; }", "h1 { color: red; }"},
		Stylesheets: []string{"https://example.com/global.css"},
	}

	p, err := BuildRenderPlan(staticTemplate(cfg, nil), job)
	require.NoError(t, err)

	assert.Equal(t, []string{"GlobalFont", "TemplateFont"}, p.Fonts)
	assert.Equal(t, []string{"h1 { color: blue; }", "h1 { color: red; }", "h1 { color: red; }"}, p.InlineCSS)
	assert.Equal(t, []string{"https://example.com/global.css", "https://example.com/template.css"}, p.Stylesheets)

	p.Fonts[0] = "Mutated"
	assert.Equal(t, "GlobalFont", job.Fonts[0])
}

func TestBuildRenderPlanData(t *testing.T) {
	tpl := staticTemplate(template.Config{}, map[string]any{"title": "Default", "color": "red"})
	p, err := BuildRenderPlan(tpl, RenderJob{Data: map[string]any{"title": "Custom"}})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"title": "Custom", "color": "red"}, p.Data)

	rc := p.RenderContext(149)
	assert.Equal(t, 149, rc.Frame)
	assert.InDelta(t, 1.0, rc.SceneProgress, 1e-9)
	assert.Equal(t, 1920, rc.Width)
	assert.InDelta(t, 149.0/30, p.Timestamp(149), 1e-9)
}

func TestBuildRenderPlanValidation(t *testing.T) {
	tests := []struct {
		name string
		job  RenderJob
	}{
		{"negative width", RenderJob{Width: -1}},
		{"negative fps", RenderJob{FPS: -30}},
		{"rounds to zero frames", RenderJob{FPS: 1, DurationSeconds: 0.2}},
		{"alpha in mp4", RenderJob{Encoding: &EncodingOptions{Format: FormatMP4, Video: VideoOptions{Alpha: true}}}},
		{"unknown format", RenderJob{Encoding: &EncodingOptions{Format: "avi"}}},
		{"audio without source", RenderJob{Encoding: &EncodingOptions{Audio: &AudioOptions{Loop: true}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildRenderPlan(staticTemplate(template.Config{}, nil), tt.job)
			require.Error(t, err)
			assert.True(t, errors.IsValidationError(err))
		})
	}

	_, err := BuildRenderPlan(nil, RenderJob{})
	assert.True(t, errors.IsValidationError(err))
}

func TestBuildRenderPlanEncodingDefaults(t *testing.T) {
	p, err := BuildRenderPlan(staticTemplate(template.Config{}, nil), RenderJob{})
	require.NoError(t, err)
	assert.Equal(t, DefaultEncoding(), p.Encoding)

	p, err = BuildRenderPlan(staticTemplate(template.Config{}, nil), RenderJob{
		Encoding: &EncodingOptions{
			Format: FormatWebM,
			Video:  VideoOptions{Alpha: true},
			Audio:  &AudioOptions{Source: "music.mp3"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, FormatWebM, p.Encoding.Format)
	assert.Equal(t, Bitrate{Preset: QualityMedium}, p.Encoding.Video.Bitrate)
	require.NotNil(t, p.Encoding.Audio.Volume)
	assert.Equal(t, 1.0, *p.Encoding.Audio.Volume)

	muted := 0.0
	p, err = BuildRenderPlan(staticTemplate(template.Config{}, nil), RenderJob{
		Encoding: &EncodingOptions{Audio: &AudioOptions{Source: "music.mp3", Volume: &muted}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.Encoding.Audio.Gain())
}

func TestCreateRenderPlan(t *testing.T) {
	code := `export default defineTemplate({
  config: { width: 320, height: 240, fps: 10, durationSeconds: 3, fonts: ["TemplateFont"] },
  defaults: { title: "Hi" },
  render: (ctx) => "<h1>" + ctx.data.title + "</h1>",
});`

	p, err := CreateRenderPlan(context.Background(), RenderJob{
		TemplateCode: code,
		Filename:     "scene.js",
		Fonts:        []string{"GlobalFont"},
	}, compiler.Options{})
	require.NoError(t, err)

	assert.Equal(t, 320, p.Width)
	assert.Equal(t, 30, p.TotalFrames)
	assert.Equal(t, []string{"GlobalFont", "TemplateFont"}, p.Fonts)

	out, err := p.Template.Render(context.Background(), p.RenderContext(0))
	require.NoError(t, err)
	assert.Equal(t, "<h1>Hi</h1>", out)
}

func TestRenderPlanFramesDoNotShareNestedData(t *testing.T) {
	code := `export default defineTemplate({
  config: { fps: 10, durationSeconds: 1 },
  defaults: { scene: { count: 0 } },
  render: (ctx) => {
    ctx.data.scene.count = ctx.data.scene.count + 1;
    return "<p>" + ctx.data.scene.count + "</p>";
  },
});`

	p, err := CreateRenderPlan(context.Background(), RenderJob{TemplateCode: code, Filename: "scene.js"}, compiler.Options{})
	require.NoError(t, err)

	for range 3 {
		out, err := p.Template.Render(context.Background(), p.RenderContext(0))
		require.NoError(t, err)
		assert.Equal(t, "<p>1</p>", out)
	}
	assert.EqualValues(t, 0, p.Data["scene"].(map[string]any)["count"])
	assert.EqualValues(t, 0, p.Template.Defaults()["scene"].(map[string]any)["count"])
}

func TestCreateRenderPlanWrapsCompilerErrors(t *testing.T) {
	tests := []struct {
		name  string
		code  string
		check func(error) bool
	}{
		{"syntax", `export default defineTemplate({`, errors.IsCompileError},
		{"missing render", `export default defineTemplate({});`, errors.IsValidationError},
		{"wrong return type", `export default defineTemplate({ render: () => null });`, errors.IsValidationError},
		{"throws on first frame", `export default defineTemplate({ render: () => { throw new Error("x"); } });`, errors.IsRuntimeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := CreateRenderPlan(context.Background(), RenderJob{TemplateCode: tt.code, Filename: "scene.js"}, compiler.Options{})
			require.Error(t, err)
			assert.Nil(t, p)
			assert.True(t, tt.check(err), "unexpected error kind: %v", err)
		})
	}
}

func TestApplyPreset(t *testing.T) {
	job := RenderJob{Width: 100, Height: 100, FPS: 12, DurationSeconds: 3}
	out := job.ApplyPreset(PresetConfig{Name: "square", Width: 1080, Height: 1080, FPS: 30})

	assert.Equal(t, 1080, out.Width)
	assert.Equal(t, 30.0, out.FPS)
	assert.Equal(t, 3.0, out.DurationSeconds)
	assert.Equal(t, 100, job.Width)
}
