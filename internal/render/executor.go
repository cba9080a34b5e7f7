// Package render drives the offline frame loop: template markup goes to a
// Renderer for pixels and the pixels go to an Encoder, one frame at a time
// and strictly in order.
package render

import (
	"context"
	"fmt"
	"image"

	"github.com/conneroisu/framecast/internal/compiler"
	"github.com/conneroisu/framecast/internal/errors"
	"github.com/conneroisu/framecast/internal/logging"
	"github.com/conneroisu/framecast/internal/plan"
)

// Renderer turns one frame's markup into pixels. CaptureFrame must not
// return until fonts and other async resources have settled or their
// settle timeout has passed.
type Renderer interface {
	Init(ctx context.Context, p *plan.RenderPlan) error
	CaptureFrame(ctx context.Context, markup string) (*image.RGBA, error)
	Dispose() error
}

// Encoder turns an ordered sequence of frames into a media container.
type Encoder interface {
	Init(ctx context.Context, p *plan.RenderPlan) error
	AddFrame(ctx context.Context, frame *image.RGBA, timestampSeconds float64) error
	Finalize(ctx context.Context) ([]byte, error)
	Dispose() error
}

// Progress is reported after every frame.
type Progress struct {
	Frame       int     `json:"frame"`
	TotalFrames int     `json:"totalFrames"`
	FPS         float64 `json:"fps"`
}

// Percent is the completed share of the job in [0, 100].
func (p Progress) Percent() float64 {
	if p.TotalFrames == 0 {
		return 0
	}
	return float64(p.Frame+1) / float64(p.TotalFrames) * 100
}

// Options configures Execute.
type Options struct {
	OnProgress func(Progress)
	Logger     logging.Logger
}

// Execute renders every frame of p in order and returns the encoded output.
//
// Both adapters are initialized once. A render failure at frame K aborts the
// job with a TemplateRuntimeError; the encoder is then disposed without ever
// being finalized, so no truncated output is produced. Dispose runs on both
// adapters whatever the outcome.
func Execute(ctx context.Context, p *plan.RenderPlan, renderer Renderer, encoder Encoder, opts Options) (out []byte, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	logger = logger.WithComponent("executor")

	if p == nil || p.Template == nil {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidPlan, "render plan has no template")
	}
	if renderer == nil || encoder == nil {
		return nil, errors.NewEnvironmentError(errors.ErrCodeMissingBackend, "a renderer and an encoder are both required", nil)
	}

	perf := logging.StartOperation(logger, "render")
	logger.Info(ctx, "Starting render",
		"width", p.Width, "height", p.Height, "fps", p.FPS, "frames", p.TotalFrames, "format", p.Encoding.Format)

	defer func() {
		if derr := encoder.Dispose(); derr != nil {
			logger.Warn(ctx, derr, "Encoder dispose failed")
		}
		if derr := renderer.Dispose(); derr != nil {
			logger.Warn(ctx, derr, "Renderer dispose failed")
		}
		if err != nil {
			perf.EndWithError(ctx, err)
		} else {
			perf.End(ctx, "frames", p.TotalFrames, "bytes", len(out))
		}
	}()

	if err := renderer.Init(ctx, p); err != nil {
		return nil, AdapterError(err, "failed to initialize renderer")
	}
	if err := encoder.Init(ctx, p); err != nil {
		return nil, AdapterError(err, "failed to initialize encoder")
	}

	for frame := 0; frame < p.TotalFrames; frame++ {
		if err := renderFrame(ctx, p, renderer, encoder, frame); err != nil {
			return nil, err
		}
		if opts.OnProgress != nil {
			opts.OnProgress(Progress{Frame: frame, TotalFrames: p.TotalFrames, FPS: p.FPS})
		}
	}

	out, err = encoder.Finalize(ctx)
	if err != nil {
		return nil, AdapterError(err, "failed to finalize output")
	}
	return out, nil
}

// RenderMarkup calls the plan's template for one frame and classifies any
// failure: a non-string return is a ValidationError, cancellation is passed
// through and anything else is a TemplateRuntimeError for that frame.
func RenderMarkup(ctx context.Context, p *plan.RenderPlan, frame int) (string, error) {
	rc := p.RenderContext(frame)

	markup, err := p.Template.Render(ctx, rc)
	if err == nil {
		return markup, nil
	}

	var rte *compiler.ReturnTypeError
	if errors.As(err, &rte) {
		return "", errors.NewValidationError(errors.ErrCodeTemplateReturnType, rte.Error()).
			WithCause(err).WithContext("frame", frame)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("render frame %d: %w", frame, ctxErr)
	}
	return "", errors.NewTemplateRuntimeError(err, frame, rc.SceneTimeSeconds, rc.SceneProgress, p.Data)
}

func renderFrame(ctx context.Context, p *plan.RenderPlan, renderer Renderer, encoder Encoder, frame int) error {
	markup, err := RenderMarkup(ctx, p, frame)
	if err != nil {
		return err
	}

	img, err := renderer.CaptureFrame(ctx, markup)
	if err != nil {
		return fmt.Errorf("capture frame %d: %w", frame, AdapterError(err, "renderer failed"))
	}

	if err := encoder.AddFrame(ctx, img, p.Timestamp(frame)); err != nil {
		return fmt.Errorf("encode frame %d: %w", frame, AdapterError(err, "encoder failed"))
	}
	return nil
}

// AdapterError keeps structured adapter errors as they are and classifies
// anything else as an adapter failure.
func AdapterError(err error, message string) error {
	var fe *errors.FramecastError
	if errors.As(err, &fe) {
		return err
	}
	return errors.Wrap(err, errors.ErrorTypeEnvironment, errors.ErrCodeAdapterFailed, message)
}
