package render

import (
	"context"
	stderrors "errors"
	"fmt"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/framecast/internal/compiler"
	"github.com/conneroisu/framecast/internal/errors"
	"github.com/conneroisu/framecast/internal/plan"
	"github.com/conneroisu/framecast/internal/template"
)

type fakeRenderer struct {
	width, height int
	initErr       error
	captureErr    error
	captured      []string
	inits         int
	disposed      int
}

func (r *fakeRenderer) Init(_ context.Context, p *plan.RenderPlan) error {
	r.inits++
	if r.width == 0 {
		r.width, r.height = p.Width, p.Height
	}
	return r.initErr
}

func (r *fakeRenderer) CaptureFrame(_ context.Context, markup string) (*image.RGBA, error) {
	if r.captureErr != nil {
		return nil, r.captureErr
	}
	r.captured = append(r.captured, markup)
	return image.NewRGBA(image.Rect(0, 0, r.width, r.height)), nil
}

func (r *fakeRenderer) Dispose() error {
	r.disposed++
	return nil
}

type fakeEncoder struct {
	guard      *FrameGuard
	timestamps []float64
	inits      int
	finalized  int
	disposed   int
}

func (e *fakeEncoder) Init(_ context.Context, p *plan.RenderPlan) error {
	e.inits++
	e.guard = NewFrameGuard(p.Width, p.Height)
	return nil
}

func (e *fakeEncoder) AddFrame(_ context.Context, frame *image.RGBA, ts float64) error {
	if err := e.guard.Check(frame, ts); err != nil {
		return err
	}
	e.timestamps = append(e.timestamps, ts)
	return nil
}

func (e *fakeEncoder) Finalize(context.Context) ([]byte, error) {
	e.finalized++
	return []byte(fmt.Sprintf("video:%d", len(e.timestamps))), nil
}

func (e *fakeEncoder) Dispose() error {
	e.disposed++
	return nil
}

func frameTemplate(render func(rc template.RenderContext) (string, error)) *template.Func {
	return &template.Func{
		RenderFunc: func(_ context.Context, rc template.RenderContext) (string, error) {
			return render(rc)
		},
		Data: map[string]any{"title": "Hello"},
	}
}

func buildPlan(t *testing.T, tpl template.Template, fps, duration float64) *plan.RenderPlan {
	t.Helper()
	p, err := plan.BuildRenderPlan(tpl, plan.RenderJob{Width: 64, Height: 36, FPS: fps, DurationSeconds: duration})
	require.NoError(t, err)
	return p
}

func TestExecuteRendersEveryFrameInOrder(t *testing.T) {
	tpl := frameTemplate(func(rc template.RenderContext) (string, error) {
		return fmt.Sprintf("<p>%d</p>", rc.Frame), nil
	})
	p := buildPlan(t, tpl, 30, 5)
	r := &fakeRenderer{}
	e := &fakeEncoder{}

	var progress []Progress
	out, err := Execute(context.Background(), p, r, e, Options{
		OnProgress: func(pr Progress) { progress = append(progress, pr) },
	})
	require.NoError(t, err)

	assert.Equal(t, "video:150", string(out))
	assert.Equal(t, 1, r.inits)
	assert.Equal(t, 1, e.inits)
	require.Len(t, r.captured, 150)
	require.Len(t, e.timestamps, 150)
	require.Len(t, progress, 150)

	for i := 0; i < 150; i++ {
		assert.Equal(t, fmt.Sprintf("<p>%d</p>", i), r.captured[i])
		assert.InDelta(t, float64(i)/30, e.timestamps[i], 1e-12)
		assert.Equal(t, Progress{Frame: i, TotalFrames: 150, FPS: 30}, progress[i])
	}
	assert.Equal(t, 1, e.finalized)
	assert.Equal(t, 1, e.disposed)
	assert.Equal(t, 1, r.disposed)
}

func TestExecuteRuntimeErrorAbortsWithoutFinalize(t *testing.T) {
	tpl := frameTemplate(func(rc template.RenderContext) (string, error) {
		if rc.SceneProgress > 0.5 {
			return "", stderrors.New("progress too high")
		}
		return "<p></p>", nil
	})
	p := buildPlan(t, tpl, 30, 2)
	r := &fakeRenderer{}
	e := &fakeEncoder{}

	out, err := Execute(context.Background(), p, r, e, Options{})
	require.Error(t, err)
	assert.Nil(t, out)

	var rte *errors.TemplateRuntimeError
	require.ErrorAs(t, err, &rte)
	assert.Equal(t, errors.CodeTemplateRuntime, rte.Code)
	assert.Greater(t, rte.Details.TimeContext.SceneProgress, 0.5)

	want := template.NewTimeContext(rte.Details.Frame, p.FPS, p.TotalFrames)
	assert.InDelta(t, want.SceneProgress, rte.Details.TimeContext.SceneProgress, 1e-12)
	assert.InDelta(t, want.SceneTimeSeconds, rte.Details.TimeContext.SceneTimeSeconds, 1e-12)
	assert.Equal(t, "Hello", rte.Details.DataSnapshot["title"])
	assert.Contains(t, err.Error(), "progress too high")

	assert.Len(t, e.timestamps, rte.Details.Frame)
	assert.Equal(t, 0, e.finalized)
	assert.Equal(t, 1, e.disposed)
	assert.Equal(t, 1, r.disposed)
}

func TestExecuteScriptTemplateRuntimeError(t *testing.T) {
	tpl, err := compiler.Compile(context.Background(), compiler.Source{
		Filename: "scene.js",
		Code: `export default defineTemplate({
  render: (ctx) => { if (ctx.sceneProgress > 0.5) throw new Error("late frame " + ctx.frame); return "<p></p>"; },
});`,
	}, compiler.Options{})
	require.NoError(t, err)

	p := buildPlan(t, tpl, 10, 2)
	_, err = Execute(context.Background(), p, &fakeRenderer{}, &fakeEncoder{}, Options{})

	var rte *errors.TemplateRuntimeError
	require.ErrorAs(t, err, &rte)
	assert.Equal(t, 10, rte.Details.Frame)
	assert.Contains(t, rte.Message, "late frame 10")
}

func TestExecuteAdapterFailures(t *testing.T) {
	tpl := frameTemplate(func(template.RenderContext) (string, error) { return "<p></p>", nil })

	t.Run("renderer init", func(t *testing.T) {
		r := &fakeRenderer{initErr: stderrors.New("no browser")}
		e := &fakeEncoder{}
		_, err := Execute(context.Background(), buildPlan(t, tpl, 10, 1), r, e, Options{})
		require.Error(t, err)
		assert.True(t, errors.IsEnvironmentError(err))
		assert.Equal(t, errors.ErrCodeAdapterFailed, errors.CodeOf(err))
		assert.Equal(t, 1, r.disposed)
		assert.Equal(t, 1, e.disposed)
	})

	t.Run("structured init error is kept", func(t *testing.T) {
		r := &fakeRenderer{initErr: errors.NewEnvironmentError(errors.ErrCodeMissingBackend, "chrome missing", nil)}
		_, err := Execute(context.Background(), buildPlan(t, tpl, 10, 1), r, &fakeEncoder{}, Options{})
		assert.Equal(t, errors.ErrCodeMissingBackend, errors.CodeOf(err))
	})

	t.Run("capture", func(t *testing.T) {
		r := &fakeRenderer{captureErr: stderrors.New("tab crashed")}
		e := &fakeEncoder{}
		_, err := Execute(context.Background(), buildPlan(t, tpl, 10, 1), r, e, Options{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "capture frame 0")
		assert.Equal(t, 0, e.finalized)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		r := &fakeRenderer{width: 10, height: 10}
		e := &fakeEncoder{}
		_, err := Execute(context.Background(), buildPlan(t, tpl, 10, 1), r, e, Options{})
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeFrameMismatch, errors.CodeOf(err))
		assert.Contains(t, err.Error(), "encode frame 0")
		assert.Equal(t, 0, e.finalized)
	})

	t.Run("missing adapters", func(t *testing.T) {
		_, err := Execute(context.Background(), buildPlan(t, tpl, 10, 1), nil, nil, Options{})
		assert.True(t, errors.IsEnvironmentError(err))
	})
}

func TestExecuteNonStringReturnIsValidationError(t *testing.T) {
	tpl, err := compiler.Compile(context.Background(), compiler.Source{
		Filename: "scene.js",
		Code:     `export default defineTemplate({ render: (ctx) => ctx.frame < 3 ? "<p></p>" : 7 });`,
	}, compiler.Options{})
	require.NoError(t, err)

	e := &fakeEncoder{}
	_, err = Execute(context.Background(), buildPlan(t, tpl, 10, 1), &fakeRenderer{}, e, Options{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTemplateReturnType, errors.CodeOf(err))
	assert.Len(t, e.timestamps, 3)
}

func TestProgressPercent(t *testing.T) {
	assert.Equal(t, 100.0, Progress{Frame: 149, TotalFrames: 150}.Percent())
	assert.Equal(t, 0.0, Progress{}.Percent())
}
