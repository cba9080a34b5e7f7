package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const fileHeader = "# framecast configuration\n# Every key can be overridden with a FRAMECAST_ environment variable.\n\n"

// Marshal renders the configuration as YAML.
func Marshal(config *Config) ([]byte, error) {
	out, err := yaml.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	return out, nil
}

// WriteFile writes config to filename. An existing file is only replaced
// when overwrite is set.
func WriteFile(config *Config, filename string, overwrite bool) error {
	if _, err := os.Stat(filename); err == nil && !overwrite {
		return fmt.Errorf("configuration file %s already exists", filename)
	}

	content, err := Marshal(config)
	if err != nil {
		return err
	}

	if err := os.WriteFile(filename, append([]byte(fileHeader), content...), 0o644); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}
