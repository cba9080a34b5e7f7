package compiler

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/conneroisu/framecast/internal/errors"
)

// Source is template source text plus where it came from. Filename is used
// for diagnostics and loader selection; Dir is where relative imports
// resolve.
type Source struct {
	Code     string
	Filename string
	Dir      string
}

// LoadSource reads a template file from disk.
func LoadSource(path string) (Source, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Source{}, errors.WrapIO(err, errors.ErrCodeInvalidPath, "invalid template path")
	}

	code, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Source{}, errors.NewIOError(errors.ErrCodeFileNotFound, "template file not found", err).
				WithLocation(path, 0, 0)
		}
		return Source{}, errors.WrapIO(err, errors.ErrCodeInvalidPath, "failed to read template")
	}

	return Source{
		Code:     string(code),
		Filename: filepath.Base(abs),
		Dir:      filepath.Dir(abs),
	}, nil
}

func (s Source) name() string {
	if s.Filename == "" {
		return "template.ts"
	}
	return s.Filename
}

func (s Source) resolveDir() string {
	if s.Dir != "" {
		return s.Dir
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// loader picks the esbuild loader from the file extension. TypeScript is the
// default since it is a superset of what authors write in plain JS.
func (s Source) loader() api.Loader {
	switch strings.ToLower(filepath.Ext(s.Filename)) {
	case ".js", ".mjs", ".cjs":
		return api.LoaderJS
	case ".jsx":
		return api.LoaderJSX
	case ".tsx":
		return api.LoaderTSX
	default:
		return api.LoaderTS
	}
}
