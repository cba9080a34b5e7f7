package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/framecast/internal/config"
	"github.com/conneroisu/framecast/internal/plan"
)

// JobFlags are the render job overrides shared by render, preview and
// validate. Zero values defer to configuration, then to the template.
type JobFlags struct {
	Width       int
	Height      int
	FPS         float64
	Duration    float64
	Data        string
	DataFile    string
	Fonts       []string
	Stylesheets []string
	InlineCSS   []string
	Preset      string
}

// OutputFlags select how a command prints its result.
type OutputFlags struct {
	Format string
}

// AddJobFlags adds the job override flags to cmd.
func AddJobFlags(cmd *cobra.Command) *JobFlags {
	flags := &JobFlags{}
	cmd.Flags().IntVar(&flags.Width, "width", 0, "Frame width in pixels")
	cmd.Flags().IntVar(&flags.Height, "height", 0, "Frame height in pixels")
	cmd.Flags().Float64Var(&flags.FPS, "fps", 0, "Frames per second")
	cmd.Flags().Float64VarP(&flags.Duration, "duration", "d", 0, "Duration in seconds")
	cmd.Flags().StringVar(&flags.Data, "data", "", "Template data (JSON or @file.json)")
	cmd.Flags().StringVar(&flags.DataFile, "data-file", "", "Template data file (JSON or YAML)")
	cmd.Flags().StringSliceVar(&flags.Fonts, "font", nil, "Font family or URL to load (repeatable)")
	cmd.Flags().StringSliceVar(&flags.Stylesheets, "stylesheet", nil, "Stylesheet URL to link (repeatable)")
	cmd.Flags().StringArrayVar(&flags.InlineCSS, "css", nil, "Inline CSS to inject (repeatable)")
	cmd.Flags().StringVarP(&flags.Preset, "preset", "p", "", "Named output preset declared by the template")
	return flags
}

// AddOutputFlags adds --format with the given allowed values; the first is
// the default.
func AddOutputFlags(cmd *cobra.Command, formats ...string) *OutputFlags {
	flags := &OutputFlags{}
	cmd.Flags().StringVarP(&flags.Format, "format", "f", formats[0], "Output format ("+strings.Join(formats, "|")+")")
	AddFlagValidation(cmd, "format", func(v string) error {
		return ValidateChoice(v, formats)
	})
	return flags
}

// ParseData parses template data with support for file references.
func (f *JobFlags) ParseData() (map[string]any, error) {
	if f.Data != "" && f.DataFile != "" {
		return nil, fmt.Errorf("cannot specify both --data and --data-file")
	}

	if f.DataFile != "" {
		return readDataFile(f.DataFile)
	}

	if strings.HasPrefix(f.Data, "@") {
		return readDataFile(strings.TrimPrefix(f.Data, "@"))
	}

	if f.Data != "" {
		var data map[string]any
		if err := json.Unmarshal([]byte(f.Data), &data); err != nil {
			return nil, fmt.Errorf("invalid JSON in --data: %w", err)
		}
		return data, nil
	}

	return nil, nil
}

func readDataFile(filename string) (map[string]any, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read data file %s: %w", filename, err)
	}

	var data map[string]any
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yml", ".yaml":
		err = yaml.Unmarshal(content, &data)
	default:
		err = json.Unmarshal(content, &data)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid data in %s: %w", filename, err)
	}
	return data, nil
}

// Job builds a render job for the template source. Only flags are explicit;
// configured dimensions, fps and duration become plan defaults that the
// template's own config outranks.
func (f *JobFlags) Job(cfg *config.Config) (plan.RenderJob, error) {
	if f.Width < 0 || f.Height < 0 || f.FPS < 0 || f.Duration < 0 {
		return plan.RenderJob{}, fmt.Errorf("dimensions, fps and duration must not be negative")
	}

	data, err := f.ParseData()
	if err != nil {
		return plan.RenderJob{}, err
	}

	rc := cfg.Render
	return plan.RenderJob{
		Width:           f.Width,
		Height:          f.Height,
		FPS:             f.FPS,
		DurationSeconds: f.Duration,
		Fonts:           append(append([]string(nil), f.Fonts...), rc.Fonts...),
		Stylesheets:     append(append([]string(nil), f.Stylesheets...), rc.Stylesheets...),
		InlineCSS:       f.InlineCSS,
		Data:            data,
		Defaults:        renderDefaults(cfg),
	}, nil
}

// renderDefaults lifts the configured render values into plan defaults.
func renderDefaults(cfg *config.Config) plan.Defaults {
	return plan.Defaults{
		Width:           cfg.Render.Width,
		Height:          cfg.Render.Height,
		FPS:             cfg.Render.FPS,
		DurationSeconds: cfg.Render.DurationSeconds,
	}
}

// AddFlagValidation adds validation for a specific flag
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}

	flag.Value = &validatingValue{
		Value:     flag.Value,
		validator: validator,
	}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.Value.Set(val)
}

// ValidateChoice checks value against the allowed set.
func ValidateChoice(value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid value %q, must be one of: %s", value, strings.Join(allowed, ", "))
}

// ValidateFileExists checks that a required input file exists.
func ValidateFileExists(filename string) error {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", filename)
	}
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", filename, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", filename)
	}
	return nil
}
