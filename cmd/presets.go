package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/framecast/internal/plan"
)

var presetsCmd = &cobra.Command{
	Use:   "presets <template>",
	Short: "List a template's output presets",
	Long: `Compile a template and list every output preset it declares, with the
dimensions and frame rate each one resolves to. Fields a preset leaves unset
are inherited from the template's config, then from configured render
defaults.

Examples:
  framecast presets scene.tsx
  framecast presets scene.tsx --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runPresets,
}

var presetsOutput *OutputFlags

func init() {
	rootCmd.AddCommand(presetsCmd)
	presetsOutput = AddOutputFlags(presetsCmd, "table", "json", "yaml")
}

func runPresets(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	tpl, err := compileTemplate(cmd.Context(), args[0], cfg, logger)
	if err != nil {
		return reportError(cmd.ErrOrStderr(), err, args[0])
	}

	base := plan.BaseFromConfig(tpl.Config(), renderDefaults(cfg))
	presets := plan.ResolveAllPresets(tpl.Config().Outputs, base)

	out := cmd.OutOrStdout()
	if ok, err := outputStructured(out, presetsOutput.Format, presets); ok {
		return err
	}

	if len(presets) == 0 {
		fmt.Fprintf(out, "%s declares no output presets.\n", args[0])
		return nil
	}

	w := newTable(out)
	fmt.Fprintln(w, "NAME\tSIZE\tFPS")
	for _, p := range presets {
		fmt.Fprintf(w, "%s\t%dx%d\t%g\n", p.Name, p.Width, p.Height, p.FPS)
	}
	return w.Flush()
}
