package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorSuggestion represents a suggestion for fixing an error
type ErrorSuggestion struct {
	Title       string
	Description string
	Command     string
	Example     string
}

// SuggestionContext provides context for generating suggestions
type SuggestionContext struct {
	TemplatePath string
	ConfigPath   string
}

// SuggestionsFor returns fix-it hints for the error kinds a template author
// is most likely to hit.
func SuggestionsFor(err error, ctx *SuggestionContext) []ErrorSuggestion {
	if ctx == nil {
		ctx = &SuggestionContext{}
	}

	var re *TemplateRuntimeError
	if errors.As(err, &re) {
		return runtimeSuggestions(re, ctx)
	}

	switch CodeOf(err) {
	case ErrCodeTemplateSyntax:
		return []ErrorSuggestion{
			{
				Title:       "Fix the syntax error",
				Description: "The template could not be bundled. The location above points at the first problem.",
				Command:     "framecast validate " + ctx.TemplatePath,
			},
		}
	case ErrCodeTemplateStructure, ErrCodeTemplateContract:
		return []ErrorSuggestion{
			{
				Title:       "Export a template",
				Description: "The default export must be a template object with a render function",
				Example: `import { defineTemplate } from "framecast";

export default defineTemplate({
  render: (ctx) => ` + "`<div>${ctx.frame}</div>`" + `,
});`,
			},
		}
	case ErrCodeTemplateReturnType:
		return []ErrorSuggestion{
			{
				Title:       "Return markup",
				Description: "render(ctx) must return a string of markup for every frame",
			},
		}
	case ErrCodeTemplateEvaluation:
		return []ErrorSuggestion{
			{
				Title:       "Check top-level template code",
				Description: "Code outside render() threw while the template was being loaded. Only the framecast module can be imported inside the sandbox.",
			},
		}
	case ErrCodeMissingBackend, ErrCodeUnsupportedCodec:
		return []ErrorSuggestion{
			{
				Title:       "Check the render environment",
				Description: "Chrome and ffmpeg must be installed and discoverable",
				Command:     "framecast doctor",
			},
		}
	case ErrCodeUnknownPreset:
		return []ErrorSuggestion{
			{
				Title:       "List output presets",
				Description: "Presets are declared under config.outputs in the template",
				Command:     "framecast presets " + ctx.TemplatePath,
			},
		}
	}

	return nil
}

func runtimeSuggestions(re *TemplateRuntimeError, ctx *SuggestionContext) []ErrorSuggestion {
	return []ErrorSuggestion{
		{
			Title: "Reproduce the failing frame",
			Description: fmt.Sprintf("render threw at frame %d (sceneProgress %.4f). Preview that frame directly.",
				re.Details.Frame, re.Details.TimeContext.SceneProgress),
			Command: fmt.Sprintf("framecast preview %s --frame %d", ctx.TemplatePath, re.Details.Frame),
		},
	}
}

// FormatSuggestions formats suggestions for display
func FormatSuggestions(suggestions []ErrorSuggestion) string {
	if len(suggestions) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\nSuggestions:\n")
	for i, s := range suggestions {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, s.Title)
		if s.Description != "" {
			fmt.Fprintf(&b, "     %s\n", s.Description)
		}
		if s.Command != "" {
			fmt.Fprintf(&b, "     $ %s\n", s.Command)
		}
		if s.Example != "" {
			for _, line := range strings.Split(s.Example, "\n") {
				fmt.Fprintf(&b, "     %s\n", line)
			}
		}
	}

	return b.String()
}
