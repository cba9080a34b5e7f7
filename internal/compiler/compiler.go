// Package compiler turns template source text into a runnable template.
//
// It has two phases. ExtractMetadata is a static scan that recovers literal
// config without running anything. Compile bundles the source with esbuild
// and evaluates it in a fresh goja runtime that has no host globals; the only
// way data reaches the template afterwards is the render context passed to
// each Render call.
package compiler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/conneroisu/framecast/internal/errors"
	"github.com/conneroisu/framecast/internal/logging"
	"github.com/conneroisu/framecast/internal/template"
)

const moduleWrapperHead = "(function(module, exports, require, defineTemplate, createTemplate, console) {\n"
const moduleWrapperTail = "\n})"

// Options configures Compile.
type Options struct {
	// Logger receives console output from template code at debug level.
	Logger  logging.Logger
	// Timeout bounds top-level evaluation and every later Render call.
	// Zero means no limit beyond the caller's context.
	Timeout time.Duration
}

// ScriptTemplate is a compiled template backed by its own goja runtime.
// Render calls are serialized since a runtime is not safe for concurrent use.
type ScriptTemplate struct {
	mu       sync.Mutex
	rt       *goja.Runtime
	this     goja.Value
	render   goja.Callable
	config   template.Config
	defaults map[string]any
	filename string
	timeout  time.Duration
}

var _ template.Template = (*ScriptTemplate)(nil)

// RenderError is returned when a template's render function throws or runs
// past its timeout.
type RenderError struct {
	Message  string
	Stack    string
	TimedOut bool
	Cause    error
}

func (e *RenderError) Error() string {
	if e.TimedOut {
		return e.Message
	}
	return "render threw: " + e.Message
}

func (e *RenderError) Unwrap() error {
	return e.Cause
}

// ReturnTypeError is returned when render completes with something other
// than a string.
type ReturnTypeError struct {
	Got string
}

func (e *ReturnTypeError) Error() string {
	return fmt.Sprintf("render must return a string, got %s", e.Got)
}

// Compile bundles and evaluates src and returns the template it exports.
//
// Failures keep three kinds apart: bundling or syntax problems and exceptions
// thrown by top-level code are compile errors (ERR_TEMPLATE_SYNTAX and
// ERR_TEMPLATE_EVALUATION), while a default export without a callable render
// is a validation error (ERR_TEMPLATE_CONTRACT). Exceptions thrown by render
// itself only surface later, from Render.
func Compile(ctx context.Context, src Source, opts Options) (*ScriptTemplate, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	logger = logger.WithComponent("compiler")

	code, err := bundle(src)
	if err != nil {
		return nil, err
	}

	prog, err := goja.Compile(src.name(), moduleWrapperHead+code+moduleWrapperTail, false)
	if err != nil {
		return nil, errors.NewCompileError(errors.ErrCodeTemplateSyntax,
			"bundled template is not valid for the runtime", err).WithLocation(src.name(), 0, 0)
	}

	rt := goja.New()
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	evalCtx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	release := interruptOn(evalCtx, rt)
	exports, err := evaluate(rt, prog, src, logger)
	release()
	if err != nil {
		if ctx.Err() == nil && evalCtx.Err() != nil {
			return nil, errors.NewCompileError(errors.ErrCodeTemplateEvaluation,
				fmt.Sprintf("template top-level code did not finish within %s", opts.Timeout), err).
				WithLocation(src.name(), 0, 0)
		}
		return nil, err
	}

	tplObj := templateExport(rt, exports)
	if tplObj == nil {
		return nil, errors.NewValidationError(errors.ErrCodeTemplateContract,
			"template has no default export; expected export default defineTemplate({ render })").
			WithLocation(src.name(), 0, 0)
	}

	renderFn, ok := goja.AssertFunction(tplObj.Get("render"))
	if !ok {
		return nil, errors.NewValidationError(errors.ErrCodeTemplateContract,
			"template default export does not expose a render(ctx) function").
			WithLocation(src.name(), 0, 0)
	}

	cfgVal := tplObj.Get("config")
	if isAbsent(cfgVal) {
		cfgVal = exports.Get("config")
	}
	cfg, err := exportConfig(cfgVal)
	if err != nil {
		return nil, errors.NewValidationError(errors.ErrCodeTemplateConfig, "template config has the wrong shape").
			WithCause(err).WithLocation(src.name(), 0, 0)
	}

	var defaults map[string]any
	if v := tplObj.Get("defaults"); !isAbsent(v) {
		m, ok := v.Export().(map[string]any)
		if !ok {
			return nil, errors.NewValidationError(errors.ErrCodeTemplateConfig, "template defaults must be an object").
				WithLocation(src.name(), 0, 0)
		}
		defaults = m
	}

	logger.Debug(ctx, "Template compiled", "file", src.name(), "bundle_bytes", len(code))

	return &ScriptTemplate{
		rt:       rt,
		this:     tplObj,
		render:   renderFn,
		config:   cfg,
		defaults: defaults,
		filename: src.name(),
		timeout:  opts.Timeout,
	}, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// interruptOn interrupts rt once ctx is done. The returned release must be
// called after the script returns: it waits for an interrupt already in
// flight and then clears it, so none can land on a later run.
func interruptOn(ctx context.Context, rt *goja.Runtime) (release func()) {
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		rt.Interrupt(ctx.Err())
		close(fired)
	})
	return func() {
		if !stop() {
			<-fired
		}
		rt.ClearInterrupt()
	}
}

// evaluate runs the wrapped module and returns its exports object.
func evaluate(rt *goja.Runtime, prog *goja.Program, src Source, logger logging.Logger) (*goja.Object, error) {
	fnVal, err := rt.RunProgram(prog)
	if err != nil {
		return nil, evaluationError(src, err)
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, errors.NewInternalError(errors.ErrCodeInternalError, "module wrapper is not callable", nil)
	}

	identity := func(call goja.FunctionCall) goja.Value {
		return call.Argument(0)
	}
	framework := rt.NewObject()
	_ = framework.Set("defineTemplate", identity)
	_ = framework.Set("createTemplate", identity)

	require := func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		if name == runtimeModule {
			return framework
		}
		panic(rt.NewTypeError(fmt.Sprintf("module %q is not available to templates", name)))
	}

	module := rt.NewObject()
	exports := rt.NewObject()
	_ = module.Set("exports", exports)

	if _, err := fn(goja.Undefined(), module, exports, rt.ToValue(require),
		framework.Get("defineTemplate"), framework.Get("createTemplate"), newConsole(rt, logger)); err != nil {
		return nil, evaluationError(src, err)
	}

	return module.Get("exports").ToObject(rt), nil
}

func evaluationError(src Source, err error) error {
	return errors.NewCompileError(errors.ErrCodeTemplateEvaluation,
		"template top-level code threw during evaluation", err).WithLocation(src.name(), 0, 0)
}

// templateExport picks the default export, or the exports object itself when
// a CommonJS module assigned the template to module.exports. ES modules
// without a default export have no template.
func templateExport(rt *goja.Runtime, exports *goja.Object) *goja.Object {
	if def := exports.Get("default"); !isAbsent(def) {
		return def.ToObject(rt)
	}
	if esm := exports.Get("__esModule"); esm != nil && esm.ToBoolean() {
		return nil
	}
	if !isAbsent(exports.Get("render")) {
		return exports
	}
	return nil
}

func exportConfig(v goja.Value) (template.Config, error) {
	if isAbsent(v) {
		return template.Config{}, nil
	}
	raw, ok := v.Export().(map[string]any)
	if !ok {
		return template.Config{}, fmt.Errorf("config must be an object, got %s", typeOf(v))
	}
	return decodeConfig(raw)
}

func newConsole(rt *goja.Runtime, logger logging.Logger) *goja.Object {
	console := rt.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		level := level
		_ = console.Set(level, func(call goja.FunctionCall) goja.Value {
			args := make([]any, 0, len(call.Arguments))
			for _, a := range call.Arguments {
				args = append(args, a.String())
			}
			logger.Debug(context.Background(), "Template console output", "level", level, "args", args)
			return goja.Undefined()
		})
	}
	return console
}

// Render invokes the template's render function with rc. Cancelling ctx
// interrupts a render that is still running. A render that outlives the
// compile timeout fails with a RenderError.
func (t *ScriptTemplate) Render(ctx context.Context, rc template.RenderContext) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	renderCtx, cancel := withTimeout(ctx, t.timeout)
	defer cancel()

	release := interruptOn(renderCtx, t.rt)
	res, err := t.render(t.this, t.rt.ToValue(rc.Value()))
	release()

	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			if renderCtx.Err() != nil {
				return "", &RenderError{
					Message:  fmt.Sprintf("render did not finish within %s", t.timeout),
					TimedOut: true,
					Cause:    err,
				}
			}
		}
		return "", newRenderError(err)
	}

	out, ok := res.Export().(string)
	if !ok {
		return "", &ReturnTypeError{Got: typeOf(res)}
	}
	return out, nil
}

// Config implements template.Template.
func (t *ScriptTemplate) Config() template.Config {
	return t.config
}

// Defaults implements template.Template. The result is a copy.
func (t *ScriptTemplate) Defaults() map[string]any {
	return template.CloneData(t.defaults)
}

// Filename is the source file the template was compiled from.
func (t *ScriptTemplate) Filename() string {
	return t.filename
}

func newRenderError(err error) *RenderError {
	re := &RenderError{Message: err.Error(), Cause: err}

	var ex *goja.Exception
	if errors.As(err, &ex) {
		if v := ex.Value(); v != nil {
			re.Message = v.String()
		}
		re.Stack = ex.String()
	}
	return re
}

// ValidateTemplate renders once with sample and checks the result is a
// string. A wrong return type is a validation error; a thrown exception is a
// TemplateRuntimeError for the sample frame. Both keep the underlying
// message.
func ValidateTemplate(ctx context.Context, tpl template.Template, sample template.RenderContext) error {
	_, err := tpl.Render(ctx, sample)
	if err == nil {
		return nil
	}

	var rte *ReturnTypeError
	if errors.As(err, &rte) {
		return errors.NewValidationError(errors.ErrCodeTemplateReturnType, rte.Error()).
			WithCause(err).
			WithContext("frame", sample.Frame)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	return errors.NewTemplateRuntimeError(err, sample.Frame, sample.SceneTimeSeconds, sample.SceneProgress, sample.Data)
}

func isAbsent(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

// typeOf names a value the way JavaScript's typeof would.
func typeOf(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if _, ok := goja.AssertFunction(v); ok {
		return "function"
	}
	switch v.Export().(type) {
	case int64, float64:
		return "number"
	case bool:
		return "boolean"
	case string:
		return "string"
	}
	return "object"
}
