package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conneroisu/framecast/internal/doctor"
	"github.com/conneroisu/framecast/internal/plan"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the capture and encoding backends are usable",
	Long: `Check the tools a render needs before starting one:

- Chrome or Chromium for frame capture
- ffmpeg for encoding
- An H.264 or VP9 encoder for each output format
- An audio encoder when audio is requested

Examples:
  framecast doctor                    # Check every format
  framecast doctor --alpha            # Also require a transparent WebM encoder
  framecast doctor --format json      # Output as JSON for tooling`,
	RunE: runDoctor,
}

var (
	doctorVerbose bool
	doctorAlpha   bool
	doctorAudio   bool
	doctorOutput  *OutputFlags
)

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().BoolVarP(&doctorVerbose, "verbose", "v", false, "Show verbose diagnostic information")
	doctorCmd.Flags().BoolVar(&doctorAlpha, "alpha", false, "Require an encoder that keeps transparency")
	doctorCmd.Flags().BoolVar(&doctorAudio, "audio", false, "Require an audio encoder")
	doctorOutput = AddOutputFlags(doctorCmd, "table", "json", "yaml")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	report := doctor.New().Run(cmd.Context(), doctor.Options{
		ChromePath: cfg.Renderer.ChromePath,
		FFmpegPath: cfg.Encoder.FFmpegPath,
		Formats:    []plan.Format{plan.FormatMP4, plan.FormatWebM},
		Alpha:      doctorAlpha,
		Audio:      doctorAudio,
	})

	out := cmd.OutOrStdout()
	if ok, err := outputStructured(out, doctorOutput.Format, report); ok {
		if err != nil {
			return err
		}
		return report.Err()
	}

	fmt.Fprintln(out, "framecast doctor")
	fmt.Fprintln(out, "================")
	fmt.Fprintln(out)
	for _, result := range report.Results {
		displayResult(out, result)
	}
	displaySummary(out, report.Summary)

	return report.Err()
}

func displayResult(w io.Writer, result doctor.Result) {
	var icon string
	switch result.Status {
	case doctor.StatusOK:
		icon = "✅"
	case doctor.StatusWarning:
		icon = "⚠️"
	case doctor.StatusError:
		icon = "❌"
	default:
		icon = "•"
	}

	fmt.Fprintf(w, "%s [%s] %s: %s\n", icon, strings.ToUpper(result.Category), result.Name, result.Message)

	if result.Suggestion != "" {
		fmt.Fprintf(w, "   💡 %s\n", result.Suggestion)
	}

	if doctorVerbose && len(result.Details) > 0 {
		fmt.Fprintf(w, "   📋 Details: %+v\n", result.Details)
	}
}

func displaySummary(w io.Writer, summary doctor.Summary) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total Checks: %d\n", summary.Total)
	fmt.Fprintf(w, "✅ OK: %d\n", summary.OK)
	fmt.Fprintf(w, "⚠️  Warnings: %d\n", summary.Warnings)
	fmt.Fprintf(w, "❌ Errors: %d\n", summary.Errors)
}
