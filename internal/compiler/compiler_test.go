package compiler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/framecast/internal/errors"
	"github.com/conneroisu/framecast/internal/template"
)

const validTemplate = `import { defineTemplate } from "framecast";

const config = { width: 320, height: 180, fps: 10, durationSeconds: 2, fonts: ["TemplateFont"] };

export default defineTemplate({
  config,
  defaults: { title: "Hello" },
  render: (ctx) => "<h1 data-frame=\"" + ctx.frame + "\">" + ctx.data.title + " " + ctx.sceneProgress.toFixed(2) + "</h1>",
});
`

func compileString(t *testing.T, code string) (*ScriptTemplate, error) {
	t.Helper()
	return Compile(context.Background(), Source{Code: code, Filename: "scene.ts"}, Options{})
}

func sampleContext(frame int) template.RenderContext {
	return template.RenderContext{
		TimeContext: template.NewTimeContext(frame, 10, 20),
		Width:       320,
		Height:      180,
		Data:        map[string]any{"title": "Hello"},
	}
}

func TestCompileValidTemplate(t *testing.T) {
	tpl, err := compileString(t, validTemplate)
	require.NoError(t, err)

	cfg := tpl.Config()
	assert.Equal(t, 320, cfg.Width)
	assert.Equal(t, 180, cfg.Height)
	assert.Equal(t, 10.0, cfg.FPS)
	assert.Equal(t, []string{"TemplateFont"}, cfg.Fonts)
	assert.Equal(t, map[string]any{"title": "Hello"}, tpl.Defaults())
	assert.Equal(t, "scene.ts", tpl.Filename())

	out, err := tpl.Render(context.Background(), sampleContext(19))
	require.NoError(t, err)
	assert.Equal(t, `<h1 data-frame="19">Hello 1.00</h1>`, out)
}

func TestCompileIsDeterministic(t *testing.T) {
	first, err := compileString(t, validTemplate)
	require.NoError(t, err)
	second, err := compileString(t, validTemplate)
	require.NoError(t, err)

	for _, frame := range []int{0, 7, 19} {
		a, err := first.Render(context.Background(), sampleContext(frame))
		require.NoError(t, err)
		b, err := second.Render(context.Background(), sampleContext(frame))
		require.NoError(t, err)
		assert.Equal(t, a, b, "frame %d", frame)
	}
}

func TestCompileErrorKinds(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		wantType errors.ErrorType
		wantCode string
	}{
		{
			name:     "syntax error",
			code:     `export default defineTemplate({ render: () => "x" `,
			wantType: errors.ErrorTypeCompile,
			wantCode: errors.ErrCodeTemplateSyntax,
		},
		{
			name:     "top-level throw",
			code:     `throw new Error("setup failed"); export default defineTemplate({ render: () => "" });`,
			wantType: errors.ErrorTypeCompile,
			wantCode: errors.ErrCodeTemplateEvaluation,
		},
		{
			name:     "missing render",
			code:     `export default defineTemplate({ config: { width: 10 } });`,
			wantType: errors.ErrorTypeValidation,
			wantCode: errors.ErrCodeTemplateContract,
		},
		{
			name:     "render is not a function",
			code:     `export default { render: "nope" };`,
			wantType: errors.ErrorTypeValidation,
			wantCode: errors.ErrCodeTemplateContract,
		},
		{
			name:     "no default export",
			code:     `export const render = () => "";`,
			wantType: errors.ErrorTypeValidation,
			wantCode: errors.ErrCodeTemplateContract,
		},
		{
			name:     "bad config",
			code:     `export default defineTemplate({ config: "wide", render: () => "" });`,
			wantType: errors.ErrorTypeValidation,
			wantCode: errors.ErrCodeTemplateConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileString(t, tt.code)
			require.Error(t, err)
			assert.Equal(t, tt.wantType, errors.TypeOf(err))
			assert.Equal(t, tt.wantCode, errors.CodeOf(err))
		})
	}
}

func TestCompileNamedRenderExportFallsBack(t *testing.T) {
	// A module without a default export but with render on module.exports
	// is treated as the template object itself.
	tpl, err := compileString(t, `module.exports = { render: () => "<p></p>" };`)
	require.NoError(t, err)

	out, err := tpl.Render(context.Background(), sampleContext(0))
	require.NoError(t, err)
	assert.Equal(t, "<p></p>", out)
}

func TestCompileSandboxedRequire(t *testing.T) {
	_, err := compileString(t, `const name = ["f", "s"].join("");
const fs = require(name);
export default defineTemplate({ render: () => "" });`)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTemplateEvaluation, errors.CodeOf(err))
	assert.Contains(t, err.Error(), `module "fs" is not available`)
}

func TestCompileHasNoHostGlobals(t *testing.T) {
	tpl, err := compileString(t, `export default defineTemplate({
  render: () => [typeof setTimeout, typeof process, typeof window].join(","),
});`)
	require.NoError(t, err)

	out, err := tpl.Render(context.Background(), sampleContext(0))
	require.NoError(t, err)
	assert.Equal(t, "undefined,undefined,undefined", out)
}

func TestCompileBundlesRelativeImports(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "title.ts"),
		[]byte(`export const title = (s: string) => "<h1>" + s + "</h1>";`), 0o644))
	main := `import { title } from "./title";
export default defineTemplate({ render: (ctx) => title(ctx.data.title) });`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scene.ts"), []byte(main), 0o644))

	src, err := LoadSource(filepath.Join(dir, "scene.ts"))
	require.NoError(t, err)
	assert.Equal(t, dir, src.Dir)

	tpl, err := Compile(context.Background(), src, Options{})
	require.NoError(t, err)

	out, err := tpl.Render(context.Background(), sampleContext(0))
	require.NoError(t, err)
	assert.Equal(t, "<h1>Hello</h1>", out)
}

func TestLoadSourceMissingFile(t *testing.T) {
	_, err := LoadSource(filepath.Join(t.TempDir(), "nope.ts"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFileNotFound, errors.CodeOf(err))
}

func TestRenderThrows(t *testing.T) {
	tpl, err := compileString(t, `export default defineTemplate({
  render: (ctx) => { if (ctx.sceneProgress > 0.5) { throw new Error("too late"); } return "ok"; },
});`)
	require.NoError(t, err)

	_, err = tpl.Render(context.Background(), sampleContext(2))
	require.NoError(t, err)

	_, err = tpl.Render(context.Background(), sampleContext(15))
	var re *RenderError
	require.ErrorAs(t, err, &re)
	assert.Contains(t, re.Message, "too late")
	assert.NotEmpty(t, re.Stack)
}

func TestRenderNonStringReturn(t *testing.T) {
	tpl, err := compileString(t, `export default defineTemplate({ render: () => 42 });`)
	require.NoError(t, err)

	_, err = tpl.Render(context.Background(), sampleContext(0))
	var rte *ReturnTypeError
	require.ErrorAs(t, err, &rte)
	assert.Equal(t, "number", rte.Got)
}

func TestRenderInterruptedByContext(t *testing.T) {
	tpl, err := compileString(t, `export default defineTemplate({ render: () => { while (true) {} } });`)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = tpl.Render(ctx, sampleContext(0))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCompileTimeoutStopsRunawayTopLevelCode(t *testing.T) {
	start := time.Now()
	_, err := Compile(context.Background(), Source{Code: "while (true) {}", Filename: "loop.js"}, Options{Timeout: 200 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, errors.IsCompileError(err))
	assert.Equal(t, errors.ErrCodeTemplateEvaluation, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "did not finish within 200ms")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRenderTimeoutFailsValidation(t *testing.T) {
	tpl, err := Compile(context.Background(), Source{
		Code:     `export default defineTemplate({ render: (ctx) => { while (ctx.frame >= 0) {} return ""; } });`,
		Filename: "loop.js",
	}, Options{Timeout: 100 * time.Millisecond})
	require.NoError(t, err)

	err = ValidateTemplate(context.Background(), tpl, sampleContext(0))
	var rte *errors.TemplateRuntimeError
	require.ErrorAs(t, err, &rte)
	assert.Contains(t, err.Error(), "did not finish within 100ms")
}

func TestInterruptDoesNotLeakIntoNextRender(t *testing.T) {
	tpl, err := compileString(t, `export default defineTemplate({
  render: (ctx) => { if (ctx.frame === 0) { while (true) {} } return "<p>" + ctx.frame + "</p>"; },
});`)
	require.NoError(t, err)

	for i := range 20 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		_, err := tpl.Render(ctx, sampleContext(0))
		cancel()
		require.ErrorIs(t, err, context.DeadlineExceeded, "iteration %d", i)

		out, err := tpl.Render(context.Background(), sampleContext(1))
		require.NoError(t, err, "iteration %d", i)
		assert.Equal(t, "<p>1</p>", out)
	}
}

func TestRenderCannotMutateCallerData(t *testing.T) {
	tpl, err := compileString(t, `export default defineTemplate({
  render: (ctx) => { ctx.data.title = "changed"; return ctx.data.title; },
});`)
	require.NoError(t, err)

	rc := sampleContext(0)
	out, err := tpl.Render(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, "changed", out)
	assert.Equal(t, "Hello", rc.Data["title"])
}

func TestValidateTemplate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		tpl, err := compileString(t, validTemplate)
		require.NoError(t, err)
		assert.NoError(t, ValidateTemplate(context.Background(), tpl, sampleContext(0)))
	})

	t.Run("wrong return type", func(t *testing.T) {
		tpl, err := compileString(t, `export default defineTemplate({ render: () => ({ html: "" }) });`)
		require.NoError(t, err)

		err = ValidateTemplate(context.Background(), tpl, sampleContext(0))
		require.Error(t, err)
		assert.True(t, errors.IsValidationError(err))
		assert.Equal(t, errors.ErrCodeTemplateReturnType, errors.CodeOf(err))
		assert.Contains(t, err.Error(), "got object")
	})

	t.Run("throws", func(t *testing.T) {
		tpl, err := compileString(t, `export default defineTemplate({ render: () => { throw new Error("kaboom"); } });`)
		require.NoError(t, err)

		err = ValidateTemplate(context.Background(), tpl, sampleContext(4))
		var rte *errors.TemplateRuntimeError
		require.ErrorAs(t, err, &rte)
		assert.Equal(t, 4, rte.Details.Frame)
		assert.Contains(t, rte.Message, "kaboom")
		assert.Equal(t, "Hello", rte.Details.DataSnapshot["title"])
	})

	t.Run("go template", func(t *testing.T) {
		tpl := &template.Func{RenderFunc: func(context.Context, template.RenderContext) (string, error) {
			return "<p></p>", nil
		}}
		assert.NoError(t, ValidateTemplate(context.Background(), tpl, sampleContext(0)))
	})
}
