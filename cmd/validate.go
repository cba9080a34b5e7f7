package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/framecast/internal/checkpoint"
	"github.com/conneroisu/framecast/internal/render"
)

var validateCmd = &cobra.Command{
	Use:   "validate <template>",
	Short: "Compile a template and check that it renders",
	Long: `Compile a template, resolve its render plan and render the first frame's
markup. Nothing is captured or encoded, so neither Chrome nor ffmpeg is
needed. With --all-frames every frame's markup is rendered, which finds
exceptions that only happen late in the scene.

Examples:
  framecast validate scene.tsx
  framecast validate scene.tsx --all-frames --preset square`,
	Args: cobra.ExactArgs(1),
	RunE: runValidateCommand,
}

var (
	validateJobFlags  *JobFlags
	validateAllFrames bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateJobFlags = AddJobFlags(validateCmd)
	validateCmd.Flags().BoolVar(&validateAllFrames, "all-frames", false, "Render the markup of every frame")
}

func runValidateCommand(cmd *cobra.Command, args []string) error {
	templatePath := args[0]
	ctx := cmd.Context()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	job, err := validateJobFlags.Job(cfg)
	if err != nil {
		return err
	}

	tpl, err := compileTemplate(ctx, templatePath, cfg, logger)
	if err != nil {
		return reportError(cmd.ErrOrStderr(), err, templatePath)
	}

	var presets []string
	if validateJobFlags.Preset != "" {
		presets = []string{validateJobFlags.Preset}
	}
	plans, err := buildPlans(ctx, tpl, job, presets)
	if err != nil {
		return reportError(cmd.ErrOrStderr(), err, templatePath)
	}
	p := plans[0].Plan

	markers, err := checkpoint.FromMarkers(tpl.Config().Markers, p.FPS, p.TotalFrames)
	if err != nil {
		return reportError(cmd.ErrOrStderr(), err, templatePath)
	}

	if validateAllFrames {
		for frame := 1; frame < p.TotalFrames; frame++ {
			if _, err := render.RenderMarkup(ctx, p, frame); err != nil {
				return reportError(cmd.ErrOrStderr(), err, templatePath)
			}
		}
	}

	checked := "first frame"
	if validateAllFrames {
		checked = fmt.Sprintf("all %d frames", p.TotalFrames)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid (%dx%d, %g fps, %gs, %d frames, %d markers; checked %s)\n",
		templatePath, p.Width, p.Height, p.FPS, p.DurationSeconds, p.TotalFrames, len(markers), checked)
	return nil
}
