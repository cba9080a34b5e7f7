package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/conneroisu/framecast/internal/compiler"
	"github.com/conneroisu/framecast/internal/config"
	"github.com/conneroisu/framecast/internal/logging"
	"github.com/conneroisu/framecast/internal/plan"
	"github.com/conneroisu/framecast/internal/template"
)

// namedPlan is a resolved plan plus the preset it came from, if any.
type namedPlan struct {
	Preset string
	Plan   *plan.RenderPlan
}

// compileTemplate reads and compiles the template at path.
func compileTemplate(ctx context.Context, path string, cfg *config.Config, logger logging.Logger) (*compiler.ScriptTemplate, error) {
	src, err := compiler.LoadSource(path)
	if err != nil {
		return nil, err
	}
	return compiler.Compile(ctx, src, compiler.Options{
		Logger:  logger,
		Timeout: cfg.Render.TemplateTimeout,
	})
}

// buildPlans resolves job against tpl. With no presets the job is used as
// is; otherwise one plan is built per preset. Every plan's first frame is
// rendered once so a broken template fails before any capture starts.
func buildPlans(ctx context.Context, tpl template.Template, job plan.RenderJob, presets []string) ([]namedPlan, error) {
	if len(presets) == 0 {
		p, err := buildPlan(ctx, tpl, job)
		if err != nil {
			return nil, err
		}
		return []namedPlan{{Plan: p}}, nil
	}

	base := presetBase(tpl.Config(), job)
	plans := make([]namedPlan, 0, len(presets))
	for _, name := range presets {
		preset, err := plan.ResolvePresetConfig(name, tpl.Config().Outputs, base)
		if err != nil {
			return nil, err
		}
		p, err := buildPlan(ctx, tpl, job.ApplyPreset(preset))
		if err != nil {
			return nil, err
		}
		plans = append(plans, namedPlan{Preset: name, Plan: p})
	}
	return plans, nil
}

func buildPlan(ctx context.Context, tpl template.Template, job plan.RenderJob) (*plan.RenderPlan, error) {
	p, err := plan.BuildRenderPlan(tpl, job)
	if err != nil {
		return nil, err
	}
	if err := compiler.ValidateTemplate(ctx, tpl, p.RenderContext(0)); err != nil {
		return nil, fmt.Errorf("failed to create render plan: %w", err)
	}
	return p, nil
}

// presetBase is what a preset inherits from: the template's config over the
// configured defaults, with explicit job values on top.
func presetBase(cfg template.Config, job plan.RenderJob) plan.PresetConfig {
	base := plan.BaseFromConfig(cfg, job.Defaults)
	if job.Width != 0 {
		base.Width = job.Width
	}
	if job.Height != 0 {
		base.Height = job.Height
	}
	if job.FPS != 0 {
		base.FPS = job.FPS
	}
	return base
}

// allPresetNames lists every preset the template declares.
func allPresetNames(cfg template.Config) []string {
	resolved := plan.ResolveAllPresets(cfg.Outputs, plan.PresetConfig{})
	names := make([]string, len(resolved))
	for i, p := range resolved {
		names[i] = p.Name
	}
	return names
}

// outputPath names the file for one plan. An explicit output is used as is
// for a single plan. Otherwise the preset name, if any, is inserted before
// the extension.
func outputPath(templatePath, output, outputDir, preset string, format plan.Format, multiple bool) string {
	explicit := output != ""
	if !explicit {
		stem := strings.TrimSuffix(filepath.Base(templatePath), filepath.Ext(templatePath))
		output = filepath.Join(outputDir, stem+"."+string(format))
	}
	if preset == "" || (explicit && !multiple) {
		return output
	}
	ext := filepath.Ext(output)
	return strings.TrimSuffix(output, ext) + "-" + preset + ext
}
