package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/conneroisu/framecast/internal/errors"
)

func outputJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func outputYAML(w io.Writer, v any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return err
	}
	return encoder.Close()
}

// outputStructured writes v as json or yaml. It reports false for any other
// format so the caller can print its own table.
func outputStructured(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case "json":
		return true, outputJSON(w, v)
	case "yaml":
		return true, outputYAML(w, v)
	default:
		return false, nil
	}
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// reportError prints err with location and suggestions and returns it so
// the command still exits non-zero.
func reportError(w io.Writer, err error, templatePath string) error {
	fmt.Fprintf(w, "Error: %v\n", err)

	var fe *errors.FramecastError
	if errors.As(err, &fe) && fe.FilePath != "" {
		if fe.Line > 0 {
			fmt.Fprintf(w, "  at %s:%d:%d\n", fe.FilePath, fe.Line, fe.Column)
		} else {
			fmt.Fprintf(w, "  in %s\n", fe.FilePath)
		}
	}

	var re *errors.TemplateRuntimeError
	if errors.As(err, &re) {
		fmt.Fprintf(w, "  frame %d, scene time %.3fs, progress %.4f\n",
			re.Details.Frame, re.Details.TimeContext.SceneTimeSeconds, re.Details.TimeContext.SceneProgress)
	}

	suggestions := errors.SuggestionsFor(err, &errors.SuggestionContext{TemplatePath: templatePath})
	if len(suggestions) > 0 {
		fmt.Fprint(w, errors.FormatSuggestions(suggestions))
	}

	return errReported{err}
}

// errReported marks an error already printed by reportError.
type errReported struct{ err error }

func (e errReported) Error() string { return e.err.Error() }
func (e errReported) Unwrap() error { return e.err }
