package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conneroisu/framecast/internal/config"
	"github.com/conneroisu/framecast/internal/doctor"
	"github.com/conneroisu/framecast/internal/errors"
	"github.com/conneroisu/framecast/internal/history"
	"github.com/conneroisu/framecast/internal/logging"
	"github.com/conneroisu/framecast/internal/plan"
	"github.com/conneroisu/framecast/internal/render"
	"github.com/conneroisu/framecast/internal/render/chrome"
	"github.com/conneroisu/framecast/internal/render/ffmpeg"
)

var renderCmd = &cobra.Command{
	Use:     "render <template>",
	Aliases: []string{"r"},
	Short:   "Render a template to a video file",
	Long: `Render every frame of a template and encode the result as MP4 or WebM.

Chrome and ffmpeg are checked before any frame is rendered. A template that
throws stops the render at that frame; no partial file is written and the
failing frame, its scene time and the input data are recorded in the render
history.

Examples:
  framecast render scene.tsx                       # scene.mp4 in render.output_dir
  framecast render scene.tsx -o out/intro.webm --format webm --alpha
  framecast render scene.tsx --preset square       # one declared output preset
  framecast render scene.tsx --all-presets         # every declared preset
  framecast render scene.tsx --data '{"title":"Launch"}' --quality high
  framecast render scene.tsx --audio music.mp3 --audio-fade-out 1.5`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

var (
	renderJobFlags     *JobFlags
	renderOutput       string
	renderFormat       string
	renderQuality      string
	renderCodec        string
	renderAlpha        bool
	renderKeyFrame     float64
	renderAllPresets   bool
	renderSkipDoctor   bool
	renderNoHistory    bool
	renderAudio        string
	renderAudioCodec   string
	renderAudioBitrate string
	renderAudioLoop    bool
	renderAudioVolume  float64
	renderAudioFadeIn  float64
	renderAudioFadeOut float64
)

func init() {
	rootCmd.AddCommand(renderCmd)

	renderJobFlags = AddJobFlags(renderCmd)

	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "", "Output file (default <template>.<format> in render.output_dir)")
	renderCmd.Flags().StringVar(&renderFormat, "format", "", "Container format (mp4, webm); default render.format")
	renderCmd.Flags().StringVarP(&renderQuality, "quality", "q", "", "Video quality name or bitrate such as 4M; default render.quality")
	renderCmd.Flags().StringVar(&renderCodec, "codec", "", "Video codec; negotiated from available encoders when empty")
	renderCmd.Flags().BoolVar(&renderAlpha, "alpha", false, "Keep transparency (webm only)")
	renderCmd.Flags().Float64Var(&renderKeyFrame, "keyframe-interval", 0, "Seconds between key frames")
	renderCmd.Flags().BoolVar(&renderAllPresets, "all-presets", false, "Render every output preset the template declares")
	renderCmd.Flags().BoolVar(&renderSkipDoctor, "skip-doctor", false, "Skip the backend pre-flight check")
	renderCmd.Flags().BoolVar(&renderNoHistory, "no-history", false, "Do not record this render in the history database")

	renderCmd.Flags().StringVar(&renderAudio, "audio", "", "Audio file to mux into the output")
	renderCmd.Flags().StringVar(&renderAudioCodec, "audio-codec", "", "Audio codec; negotiated when empty")
	renderCmd.Flags().StringVar(&renderAudioBitrate, "audio-bitrate", "", "Audio quality name or bitrate such as 192k")
	renderCmd.Flags().BoolVar(&renderAudioLoop, "audio-loop", false, "Loop the audio to fill the video")
	renderCmd.Flags().Float64Var(&renderAudioVolume, "audio-volume", 1, "Audio volume multiplier")
	renderCmd.Flags().Float64Var(&renderAudioFadeIn, "audio-fade-in", 0, "Audio fade-in seconds")
	renderCmd.Flags().Float64Var(&renderAudioFadeOut, "audio-fade-out", 0, "Audio fade-out seconds")

	AddFlagValidation(renderCmd, "format", func(v string) error {
		return ValidateChoice(v, []string{string(plan.FormatMP4), string(plan.FormatWebM)})
	})
}

func runRender(cmd *cobra.Command, args []string) error {
	templatePath := args[0]
	if err := ValidateFileExists(templatePath); err != nil {
		return err
	}
	if renderAllPresets && renderJobFlags.Preset != "" {
		return fmt.Errorf("cannot specify both --preset and --all-presets")
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	job, err := renderJobFlags.Job(cfg)
	if err != nil {
		return err
	}
	encoding, err := renderEncoding(cfg)
	if err != nil {
		return err
	}
	job.Encoding = &encoding

	if !renderSkipDoctor {
		err := doctor.New().Check(ctx, doctor.Options{
			ChromePath: cfg.Renderer.ChromePath,
			FFmpegPath: cfg.Encoder.FFmpegPath,
			Formats:    []plan.Format{encoding.Format},
			Alpha:      encoding.Video.Alpha,
			Audio:      encoding.Audio != nil,
		})
		if err != nil {
			return reportError(cmd.ErrOrStderr(), err, templatePath)
		}
	}

	tpl, err := compileTemplate(ctx, templatePath, cfg, logger)
	if err != nil {
		return reportError(cmd.ErrOrStderr(), err, templatePath)
	}

	var presets []string
	switch {
	case renderAllPresets:
		presets = allPresetNames(tpl.Config())
		if len(presets) == 0 {
			return fmt.Errorf("%s declares no output presets", templatePath)
		}
	case renderJobFlags.Preset != "":
		presets = []string{renderJobFlags.Preset}
	}

	plans, err := buildPlans(ctx, tpl, job, presets)
	if err != nil {
		return reportError(cmd.ErrOrStderr(), err, templatePath)
	}

	var store *history.Store
	if cfg.History.Enabled && !renderNoHistory {
		store, err = history.Open(cfg.History.Path, logger)
		if err != nil {
			// History is a convenience; a broken database never blocks a render.
			logger.Warn(ctx, err, "Render history unavailable", "path", cfg.History.Path)
		} else {
			defer store.Close()
		}
	}

	for _, np := range plans {
		out := outputPath(templatePath, renderOutput, cfg.Render.OutputDir, np.Preset, np.Plan.Encoding.Format, len(plans) > 1)
		if err := renderOne(ctx, cmd, cfg, logger, store, templatePath, out, np); err != nil {
			return reportError(cmd.ErrOrStderr(), err, templatePath)
		}
	}
	return nil
}

func renderOne(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logger logging.Logger, store *history.Store, templatePath, out string, np namedPlan) error {
	p := np.Plan

	var entry history.Render
	if store != nil {
		var err error
		entry, err = store.Start(ctx, history.Render{
			TemplatePath:    templatePath,
			Width:           p.Width,
			Height:          p.Height,
			FPS:             p.FPS,
			DurationSeconds: p.DurationSeconds,
			TotalFrames:     p.TotalFrames,
			Format:          string(p.Encoding.Format),
		})
		if err != nil {
			logger.Warn(ctx, err, "Failed to record render start")
			store = nil
		}
	}

	label := out
	if np.Preset != "" {
		label = fmt.Sprintf("%s [%s]", out, np.Preset)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Rendering %s (%dx%d, %g fps, %d frames)\n", label, p.Width, p.Height, p.FPS, p.TotalFrames)

	renderer := chrome.New(chrome.Options{
		ExecPath:       cfg.Renderer.ChromePath,
		SettleTimeout:  cfg.Renderer.SettleTimeout,
		CaptureTimeout: cfg.Renderer.CaptureTimeout,
		Logger:         logger,
	})
	encoder := ffmpeg.New(ffmpeg.Options{
		Path:        cfg.Encoder.FFmpegPath,
		Preferences: cfg.Encoder.CodecPreferences(),
		Logger:      logger,
	})

	data, err := render.Execute(ctx, p, renderer, encoder, render.Options{
		OnProgress: progressPrinter(cmd.ErrOrStderr()),
		Logger:     logger,
	})
	fmt.Fprintln(cmd.ErrOrStderr())

	if err == nil {
		err = writeOutput(out, data)
	}

	if store != nil {
		var herr error
		if err != nil {
			herr = store.Fail(ctx, entry.ID, err)
		} else {
			herr = store.Succeed(ctx, entry.ID, out, int64(len(data)))
		}
		if herr != nil {
			logger.Warn(ctx, herr, "Failed to record render result", "id", entry.ID)
		}
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", out, humanBytes(int64(len(data))))
	return nil
}

// renderEncoding combines flags with configured defaults.
func renderEncoding(cfg *config.Config) (plan.EncodingOptions, error) {
	format := plan.Format(strings.ToLower(firstString(renderFormat, cfg.Render.Format, string(plan.FormatMP4))))

	bitrate, err := plan.ParseBitrate(firstString(renderQuality, cfg.Render.Quality))
	if err != nil {
		return plan.EncodingOptions{}, err
	}

	enc := plan.EncodingOptions{
		Format: format,
		Video: plan.VideoOptions{
			Codec:                   renderCodec,
			Bitrate:                 bitrate,
			KeyFrameIntervalSeconds: renderKeyFrame,
			Alpha:                   renderAlpha,
		},
	}

	if renderAudio != "" {
		if err := ValidateFileExists(renderAudio); err != nil {
			return plan.EncodingOptions{}, err
		}
		audioBitrate, err := plan.ParseBitrate(renderAudioBitrate)
		if err != nil {
			return plan.EncodingOptions{}, err
		}
		volume := renderAudioVolume
		enc.Audio = &plan.AudioOptions{
			Source:         renderAudio,
			Codec:          renderAudioCodec,
			Bitrate:        audioBitrate,
			Loop:           renderAudioLoop,
			Volume:         &volume,
			FadeInSeconds:  renderAudioFadeIn,
			FadeOutSeconds: renderAudioFadeOut,
		}
	}

	return enc, enc.Validate()
}

func progressPrinter(w io.Writer) func(render.Progress) {
	last := -1
	return func(p render.Progress) {
		pct := int(p.Percent())
		if pct == last && p.Frame != p.TotalFrames-1 {
			return
		}
		last = pct
		fmt.Fprintf(w, "\r  frame %d/%d  %3d%%", p.Frame+1, p.TotalFrames, pct)
	}
}

func writeOutput(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.WrapIO(err, errors.ErrCodeInvalidPath, "failed to create output directory")
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WrapIO(err, errors.ErrCodeInvalidPath, "failed to write "+path)
	}
	return nil
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
