package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/framecast/internal/config"
	"github.com/conneroisu/framecast/internal/logging"
	"github.com/conneroisu/framecast/internal/plan"
	"github.com/conneroisu/framecast/internal/playback"
	"github.com/conneroisu/framecast/internal/render/chrome"
	"github.com/conneroisu/framecast/internal/server"
	"github.com/conneroisu/framecast/internal/watcher"
)

var previewCmd = &cobra.Command{
	Use:     "preview <template>",
	Aliases: []string{"p"},
	Short:   "Preview a template in the browser with live reload",
	Long: `Start a local player for a template. Frames are rendered on demand,
cached, and pushed to the page over a websocket. Saving the template (or any
script or stylesheet next to it) recompiles it; a compile error is shown in
the page while the last good version keeps playing.

Examples:
  framecast preview scene.tsx
  framecast preview scene.tsx --port 3000 --no-open
  framecast preview scene.tsx --frame 90          # start at frame 90
  framecast preview scene.tsx --preset square`,
	Args: cobra.ExactArgs(1),
	RunE: runPreview,
}

var (
	previewJobFlags *JobFlags
	previewHost     string
	previewPort     int
	previewNoOpen   bool
	previewNoLoop   bool
	previewFrame    int
	previewFileOnly bool
)

func init() {
	rootCmd.AddCommand(previewCmd)

	previewJobFlags = AddJobFlags(previewCmd)

	previewCmd.Flags().StringVar(&previewHost, "host", "", "Host to bind to (default preview.host)")
	previewCmd.Flags().IntVar(&previewPort, "port", 0, "Port to serve on (default preview.port)")
	previewCmd.Flags().BoolVar(&previewNoOpen, "no-open", false, "Don't open the browser")
	previewCmd.Flags().BoolVar(&previewNoLoop, "no-loop", false, "Pause at the last frame instead of looping")
	previewCmd.Flags().IntVar(&previewFrame, "frame", 0, "Frame to show first")
	previewCmd.Flags().BoolVar(&previewFileOnly, "watch-file-only", false, "Reload only when the template file itself changes")
}

func runPreview(cmd *cobra.Command, args []string) error {
	templatePath, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("invalid template path: %w", err)
	}
	if err := ValidateFileExists(templatePath); err != nil {
		return err
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	applyPreviewFlags(&cfg.Preview)

	job, err := previewJobFlags.Job(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := playback.NewStore(playback.NewFrameCache(cfg.Preview.CacheBytes, cfg.Preview.CacheFrames))
	renderer := chrome.New(chrome.Options{
		ExecPath:       cfg.Renderer.ChromePath,
		SettleTimeout:  cfg.Renderer.SettleTimeout,
		CaptureTimeout: cfg.Renderer.CaptureTimeout,
		Logger:         logger,
	})
	session := playback.NewSession(store, renderer, playback.SessionOptions{
		RenderTimeout: cfg.Preview.RenderTimeout,
		Logger:        logger,
	})
	defer session.Close()

	srv := server.New(store, session, server.Options{
		Host:           cfg.Preview.Host,
		Port:           cfg.Preview.Port,
		AllowedOrigins: cfg.Preview.AllowedOrigins,
		TemplatePath:   templatePath,
		Build:          previewBuilder(templatePath, job, previewJobFlags.Preset, cfg, logger),
		Logger:         logger,
	})

	if err := srv.Reload(ctx); err != nil {
		// The page shows the error and the watcher retries on the next save.
		_ = reportError(cmd.ErrOrStderr(), err, templatePath)
	} else if previewFrame > 0 {
		store.SetFrame(previewFrame)
	}

	fw, err := newTemplateWatcher(templatePath, cfg.Preview.Debounce, logger)
	if err != nil {
		return err
	}
	fw.AddHandler(func(ctx context.Context, events []watcher.ChangeEvent) error {
		logger.Info(ctx, "Template changed, reloading", "file", events[0].Path, "changes", len(events))
		return srv.Reload(ctx)
	})

	controller := playback.NewController(store, playback.ControllerOptions{
		Loop:   cfg.Preview.Loop,
		Logger: logger,
	})

	url := browserURL(cfg.Preview)
	fmt.Fprintf(cmd.OutOrStdout(), "Previewing %s at %s\n", filepath.Base(templatePath), url)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return fw.Run(gctx) })
	g.Go(func() error { return controller.Run(gctx) })

	if cfg.Preview.Open {
		go func() {
			// Give the listener a moment before the browser connects.
			time.Sleep(200 * time.Millisecond)
			if err := server.OpenBrowser(url); err != nil {
				logger.Warn(gctx, err, "Failed to open browser", "url", url)
			}
		}()
	}

	return g.Wait()
}

func applyPreviewFlags(pc *config.PreviewConfig) {
	if previewHost != "" {
		pc.Host = previewHost
	}
	if previewPort != 0 {
		pc.Port = previewPort
	}
	if previewNoOpen {
		pc.Open = false
	}
	if previewNoLoop {
		pc.Loop = false
	}
}

// previewBuilder recompiles the template from disk on every call.
func previewBuilder(templatePath string, job plan.RenderJob, preset string, cfg *config.Config, logger logging.Logger) server.PlanFunc {
	return func(ctx context.Context) (*plan.RenderPlan, error) {
		tpl, err := compileTemplate(ctx, templatePath, cfg, logger)
		if err != nil {
			return nil, err
		}
		var presets []string
		if preset != "" {
			presets = []string{preset}
		}
		plans, err := buildPlans(ctx, tpl, job, presets)
		if err != nil {
			return nil, err
		}
		return plans[0].Plan, nil
	}
}

// newTemplateWatcher watches the template's directory for script and
// stylesheet changes, or only the template file itself.
func newTemplateWatcher(templatePath string, debounce time.Duration, logger logging.Logger) (*watcher.FileWatcher, error) {
	fw, err := watcher.NewFileWatcher(debounce, logger)
	if err != nil {
		return nil, err
	}
	fw.AddFilter(watcher.NoEditorTempFilter)

	if previewFileOnly {
		err = fw.WatchFiles(templatePath)
	} else {
		fw.AddFilter(watcher.SourceFilter)
		err = fw.AddPath(filepath.Dir(templatePath))
	}
	if err != nil {
		_ = fw.Stop()
		return nil, fmt.Errorf("failed to watch %s: %w", templatePath, err)
	}
	return fw, nil
}

func browserURL(pc config.PreviewConfig) string {
	host := pc.Host
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(pc.Port))
}
