package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/conneroisu/framecast/internal/compiler"
	"github.com/conneroisu/framecast/internal/template"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <template>",
	Short: "Show a template's config without running it",
	Long: `Scan a template's source and print the config it declares. Nothing in
the template is executed, so config built from function calls or imports
does not appear.

Examples:
  framecast inspect scene.tsx
  framecast inspect scene.tsx --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var inspectOutput *OutputFlags

// inspectResult is what inspect prints.
type inspectResult struct {
	File             string          `json:"file" yaml:"file"`
	HasRenderExport  bool            `json:"hasRenderExport" yaml:"has_render_export"`
	HasDefaultExport bool            `json:"hasDefaultExport" yaml:"has_default_export"`
	Config           template.Config `json:"config" yaml:"config"`
	Defaults         map[string]any  `json:"defaults,omitempty" yaml:"defaults,omitempty"`
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectOutput = AddOutputFlags(inspectCmd, "yaml", "json", "table")
}

func runInspect(cmd *cobra.Command, args []string) error {
	src, err := compiler.LoadSource(args[0])
	if err != nil {
		return reportError(cmd.ErrOrStderr(), err, args[0])
	}

	meta, err := compiler.ExtractMetadata(src)
	if err != nil {
		return reportError(cmd.ErrOrStderr(), err, args[0])
	}

	result := inspectResult{
		File:             args[0],
		HasRenderExport:  meta.HasRenderExport,
		HasDefaultExport: meta.HasDefaultExport,
		Config:           meta.Config,
		Defaults:         meta.Defaults,
	}

	out := cmd.OutOrStdout()
	if ok, err := outputStructured(out, inspectOutput.Format, result); ok {
		return err
	}

	cfg := meta.Config
	w := newTable(out)
	fmt.Fprintf(w, "File\t%s\n", result.File)
	fmt.Fprintf(w, "Default export\t%t\n", result.HasDefaultExport)
	fmt.Fprintf(w, "Render function\t%t\n", result.HasRenderExport)
	fmt.Fprintf(w, "Size\t%s\n", orUnset(cfg.Width, cfg.Height))
	fmt.Fprintf(w, "FPS\t%s\n", orDash(cfg.FPS))
	fmt.Fprintf(w, "Duration\t%s\n", orDash(cfg.DurationSeconds))
	fmt.Fprintf(w, "Fonts\t%d\n", len(cfg.Fonts))
	fmt.Fprintf(w, "Stylesheets\t%d\n", len(cfg.Stylesheets))
	fmt.Fprintf(w, "Markers\t%d\n", len(cfg.Markers))

	names := make([]string, 0, len(cfg.Outputs))
	for name := range cfg.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		o := cfg.Outputs[name]
		fmt.Fprintf(w, "Preset %s\t%s @ %s fps\n", name, orUnset(o.Width, o.Height), orDash(o.FPS))
	}
	return w.Flush()
}

func orUnset(width, height int) string {
	if width == 0 && height == 0 {
		return "-"
	}
	return fmt.Sprintf("%sx%s", orDash(float64(width)), orDash(float64(height)))
}

func orDash(v float64) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf("%g", v)
}
