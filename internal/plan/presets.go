package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/conneroisu/framecast/internal/errors"
	"github.com/conneroisu/framecast/internal/template"
)

// PresetConfig is a fully resolved named output.
type PresetConfig struct {
	Name   string  `json:"name" yaml:"name"`
	Width  int     `json:"width" yaml:"width"`
	Height int     `json:"height" yaml:"height"`
	FPS    float64 `json:"fps" yaml:"fps"`
}

// BaseFromConfig resolves a template config against configured and built-in
// defaults. It is the usual base for preset resolution.
func BaseFromConfig(cfg template.Config, fallback Defaults) PresetConfig {
	return PresetConfig{
		Width:  firstInt(cfg.Width, fallback.Width, DefaultWidth),
		Height: firstInt(cfg.Height, fallback.Height, DefaultHeight),
		FPS:    firstFloat(cfg.FPS, fallback.FPS, DefaultFPS),
	}
}

// ResolvePresetConfig looks up name in outputs. Fields the preset does not
// set are inherited from base. An unknown name is a validation error that
// lists the available presets.
func ResolvePresetConfig(name string, outputs map[string]template.OutputPreset, base PresetConfig) (PresetConfig, error) {
	preset, ok := outputs[name]
	if !ok {
		available := presetNames(outputs)
		list := "none are declared"
		if len(available) > 0 {
			list = "available: " + strings.Join(available, ", ")
		}
		return PresetConfig{}, errors.NewValidationError(errors.ErrCodeUnknownPreset,
			fmt.Sprintf("unknown output preset %q; %s", name, list)).
			WithContext("available", available)
	}

	return PresetConfig{
		Name:   name,
		Width:  firstInt(preset.Width, base.Width),
		Height: firstInt(preset.Height, base.Height),
		FPS:    firstFloat(preset.FPS, base.FPS),
	}, nil
}

// ResolveAllPresets resolves every declared preset, sorted by name.
func ResolveAllPresets(outputs map[string]template.OutputPreset, base PresetConfig) []PresetConfig {
	names := presetNames(outputs)
	out := make([]PresetConfig, 0, len(names))
	for _, name := range names {
		// Names come from outputs, so lookup cannot fail.
		p, _ := ResolvePresetConfig(name, outputs, base)
		out = append(out, p)
	}
	return out
}

func presetNames(outputs map[string]template.OutputPreset) []string {
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
