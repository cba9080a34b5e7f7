package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

// FuzzLoadConfig tests configuration loading with malformed inputs.
func FuzzLoadConfig(f *testing.F) {
	f.Add(`preview:
  port: 8080
  host: localhost`)
	f.Add(`preview:
  port: "invalid_port"`)
	f.Add(`render:
  format: gif`)
	f.Add(`renderer:
  settle_timeout: forever`)
	f.Add(`malformed: yaml: content`)
	f.Add(``)

	f.Fuzz(func(t *testing.T, yamlContent string) {
		if len(yamlContent) > 50000 {
			t.Skip("Config content too large")
		}

		configFile := filepath.Join(t.TempDir(), ".framecast.yml")
		if err := os.WriteFile(configFile, []byte(yamlContent), 0o644); err != nil {
			t.Skip("Could not write config file")
		}

		v := viper.New()
		Configure(v, configFile)
		if err := Read(v); err != nil {
			return
		}

		cfg, err := LoadFrom(v)
		if err != nil {
			return
		}

		if cfg.Preview.Port < 0 || cfg.Preview.Port > 65535 {
			t.Errorf("accepted out of range port %d", cfg.Preview.Port)
		}
		if !isFormat(cfg.Render.Format) {
			t.Errorf("accepted unknown format %q", cfg.Render.Format)
		}
	})
}

// FuzzValidatePath checks accepted paths never traverse upward.
func FuzzValidatePath(f *testing.F) {
	f.Add("out")
	f.Add("../etc/passwd")
	f.Add("renders/$(whoami)")
	f.Add("a/b/../../..")

	f.Fuzz(func(t *testing.T, path string) {
		if err := validatePath(path); err != nil {
			return
		}
		if strings.Contains(filepath.Clean(path), "..") {
			t.Errorf("accepted traversal in %q", path)
		}
	})
}
