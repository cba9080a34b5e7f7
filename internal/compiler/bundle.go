package compiler

import (
	"github.com/evanw/esbuild/pkg/api"

	"github.com/conneroisu/framecast/internal/errors"
)

// runtimeModule is the only import a template may leave unresolved; the
// sandbox provides it.
const runtimeModule = "framecast"

// bundle inlines the template and its relative imports into one CommonJS
// script. Nothing is written to disk.
func bundle(src Source) (string, error) {
	result := api.Build(api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   src.Code,
			ResolveDir: src.resolveDir(),
			Sourcefile: src.name(),
			Loader:     src.loader(),
		},
		Bundle:   true,
		Format:   api.FormatCommonJS,
		Platform: api.PlatformNeutral,
		Target:   api.ES2017,
		External: []string{runtimeModule},
		Write:    false,
		LogLevel: api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return "", syntaxError(src, result.Errors)
	}
	if len(result.OutputFiles) == 0 {
		return "", errors.NewInternalError(errors.ErrCodeInternalError, "bundler produced no output", nil)
	}
	return string(result.OutputFiles[0].Contents), nil
}
