package compiler

import (
	"github.com/go-viper/mapstructure/v2"

	"github.com/conneroisu/framecast/internal/template"
)

// decodeConfig turns a loosely typed config object, either folded from the
// AST or exported from the runtime, into a template.Config.
func decodeConfig(raw map[string]any) (template.Config, error) {
	var cfg template.Config
	if len(raw) == 0 {
		return cfg, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return cfg, err
	}
	if err := decoder.Decode(raw); err != nil {
		return template.Config{}, err
	}
	return cfg, nil
}
