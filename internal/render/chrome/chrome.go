// Package chrome captures frames with a headless Chrome driven over the
// DevTools protocol.
package chrome

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/conneroisu/framecast/internal/errors"
	"github.com/conneroisu/framecast/internal/logging"
	"github.com/conneroisu/framecast/internal/plan"
	"github.com/conneroisu/framecast/internal/render"
)

const (
	DefaultSettleTimeout  = 3 * time.Second
	DefaultCaptureTimeout = 30 * time.Second
)

// candidates are probed in order when no executable is configured.
var candidates = []string{
	"headless-shell",
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
	"chrome",
}

var platformPaths = map[string][]string{
	"darwin": {
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	},
	"windows": {
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
	},
}

// Options configures the renderer.
type Options struct {
	// ExecPath overrides executable discovery.
	ExecPath string
	// SettleTimeout bounds the wait for fonts and images per frame. A
	// timeout is logged and the frame is captured anyway.
	SettleTimeout time.Duration
	// CaptureTimeout bounds one whole capture round trip.
	CaptureTimeout time.Duration
	Logger         logging.Logger
}

// Renderer is a render.Renderer backed by one browser tab.
type Renderer struct {
	opts    Options
	logger  logging.Logger
	plan    *plan.RenderPlan
	ctx     context.Context
	cancel  context.CancelFunc
	release context.CancelFunc
	frameID cdp.FrameID
}

var _ render.Renderer = (*Renderer)(nil)

// New creates a renderer. Nothing is launched until Init.
func New(opts Options) *Renderer {
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = DefaultSettleTimeout
	}
	if opts.CaptureTimeout <= 0 {
		opts.CaptureTimeout = DefaultCaptureTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Renderer{opts: opts, logger: logger.WithComponent("chrome")}
}

// FindExecutable returns the configured path if it exists, otherwise the
// first Chrome or Chromium found on the system.
func FindExecutable(configured string) (string, error) {
	if configured != "" {
		path, err := exec.LookPath(configured)
		if err != nil {
			return "", errors.NewEnvironmentError(errors.ErrCodeMissingBackend,
				fmt.Sprintf("configured chrome executable %q not found", configured), err)
		}
		return path, nil
	}

	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	for _, path := range platformPaths[runtime.GOOS] {
		if _, err := exec.LookPath(path); err == nil {
			return path, nil
		}
	}
	return "", errors.NewEnvironmentError(errors.ErrCodeMissingBackend,
		"no Chrome or Chromium executable found; install one or set renderer.chrome_path", nil)
}

// Init launches the browser and prepares a blank page sized to the plan.
func (r *Renderer) Init(ctx context.Context, p *plan.RenderPlan) error {
	execPath, err := FindExecutable(r.opts.ExecPath)
	if err != nil {
		return err
	}
	r.plan = p

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(execPath),
		chromedp.WindowSize(p.Width, p.Height),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("font-render-hinting", "none"),
		chromedp.Flag("force-color-profile", "srgb"),
	)

	// The browser lives until Dispose, not until the caller's ctx ends.
	allocCtx, release := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...interface{}) {
			r.logger.Debug(ctx, "Browser protocol error", "detail", fmt.Sprintf(format, args...))
		}),
	)
	r.ctx, r.cancel, r.release = browserCtx, cancel, release

	actions := []chromedp.Action{
		emulation.SetDeviceMetricsOverride(int64(p.Width), int64(p.Height), 1, false),
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			r.frameID = tree.Frame.ID
			return nil
		}),
	}
	if p.Encoding.Video.Alpha {
		actions = append(actions,
			emulation.SetDefaultBackgroundColorOverride().WithColor(&cdp.RGBA{R: 0, G: 0, B: 0, A: 0}))
	}

	if err := chromedp.Run(browserCtx, actions...); err != nil {
		if strings.Contains(err.Error(), "executable file not found") {
			return errors.NewEnvironmentError(errors.ErrCodeMissingBackend, "failed to launch chrome", err)
		}
		return errors.WrapEnvironment(err, errors.ErrCodeAdapterFailed, "failed to start browser")
	}

	r.logger.Debug(ctx, "Browser ready", "exec", execPath, "width", p.Width, "height", p.Height)
	return nil
}

// CaptureFrame loads the frame document, waits for it to settle and returns
// the viewport pixels.
func (r *Renderer) CaptureFrame(ctx context.Context, markup string) (*image.RGBA, error) {
	if r.ctx == nil {
		return nil, errors.NewInternalError(errors.ErrCodeInternalError, "chrome renderer used before Init", nil)
	}

	doc, err := render.BuildDocument(r.plan, markup)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(r.ctx, r.opts.CaptureTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var buf []byte
	err = chromedp.Run(runCtx,
		page.SetDocumentContent(r.frameID, doc),
		chromedp.ActionFunc(r.settle),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			buf, err = page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatPng).
				WithFromSurface(true).
				WithClip(&page.Viewport{Width: float64(r.plan.Width), Height: float64(r.plan.Height), Scale: 1}).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, err
	}

	return decodePNG(buf)
}

const settleScript = `new Promise((resolve) => {
  const timer = setTimeout(() => resolve(false), %d);
  const images = Array.from(document.images).map((img) => img.decode().catch(() => {}));
  Promise.all([document.fonts.ready, ...images])
    .then(() => new Promise((r) => requestAnimationFrame(() => requestAnimationFrame(r))))
    .then(() => { clearTimeout(timer); resolve(true); });
})`

// settle waits for fonts, images and two animation frames, or the settle
// timeout, whichever comes first.
func (r *Renderer) settle(ctx context.Context) error {
	var settled bool
	script := fmt.Sprintf(settleScript, r.opts.SettleTimeout.Milliseconds())
	if err := chromedp.Evaluate(script, &settled, func(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}).Do(ctx); err != nil {
		return err
	}
	if !settled {
		r.logger.Debug(ctx, "Frame resources did not settle in time", "timeout", r.opts.SettleTimeout.String())
	}
	return nil
}

// Dispose closes the tab and the browser.
func (r *Renderer) Dispose() error {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.release != nil {
		r.release()
		r.release = nil
	}
	r.ctx = nil
	return nil
}

func decodePNG(buf []byte) (*image.RGBA, error) {
	img, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba, nil
	}

	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out, nil
}
