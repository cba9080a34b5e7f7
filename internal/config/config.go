// Package config provides configuration management for framecast using
// Viper for loading from files, environment variables and command-line flags.
//
// The configuration file is .framecast.yml in the working directory, or the
// file named by FRAMECAST_CONFIG_FILE or --config. Every key can be
// overridden with a FRAMECAST_ prefixed environment variable where dots become
// underscores (FRAMECAST_PREVIEW_PORT). It covers render defaults, the capture
// and encode backends, the preview server, render history and logging.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/framecast/internal/errors"
	"github.com/conneroisu/framecast/internal/plan"
)

const (
	// FileName is the config file looked up in the working directory.
	FileName = ".framecast"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "FRAMECAST"
	// EnvConfigFile names an explicit config file.
	EnvConfigFile = "FRAMECAST_CONFIG_FILE"
)

type Config struct {
	Render   RenderConfig   `mapstructure:"render" yaml:"render"`
	Renderer RendererConfig `mapstructure:"renderer" yaml:"renderer"`
	Encoder  EncoderConfig  `mapstructure:"encoder" yaml:"encoder"`
	Preview  PreviewConfig  `mapstructure:"preview" yaml:"preview"`
	History  HistoryConfig  `mapstructure:"history" yaml:"history"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// RenderConfig holds job defaults. Width, height, fps and duration only apply
// where neither a flag nor the template's own config sets them.
type RenderConfig struct {
	Width           int           `mapstructure:"width" yaml:"width,omitempty"`
	Height          int           `mapstructure:"height" yaml:"height,omitempty"`
	FPS             float64       `mapstructure:"fps" yaml:"fps,omitempty"`
	DurationSeconds float64       `mapstructure:"duration_seconds" yaml:"duration_seconds,omitempty"`
	Format          string        `mapstructure:"format" yaml:"format"`
	Quality         string        `mapstructure:"quality" yaml:"quality"`
	OutputDir       string        `mapstructure:"output_dir" yaml:"output_dir"`
	Fonts           []string      `mapstructure:"fonts" yaml:"fonts,omitempty"`
	Stylesheets     []string      `mapstructure:"stylesheets" yaml:"stylesheets,omitempty"`
	// TemplateTimeout bounds template evaluation and each frame's render.
	TemplateTimeout time.Duration `mapstructure:"template_timeout" yaml:"template_timeout"`
}

type RendererConfig struct {
	ChromePath     string        `mapstructure:"chrome_path" yaml:"chrome_path,omitempty"`
	SettleTimeout  time.Duration `mapstructure:"settle_timeout" yaml:"settle_timeout"`
	CaptureTimeout time.Duration `mapstructure:"capture_timeout" yaml:"capture_timeout"`
}

type EncoderConfig struct {
	FFmpegPath string `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path,omitempty"`
	// VideoCodecs overrides the ordered codec preference per format.
	VideoCodecs map[string][]string `mapstructure:"video_codecs" yaml:"video_codecs,omitempty"`
}

type PreviewConfig struct {
	Host           string        `mapstructure:"host" yaml:"host"`
	Port           int           `mapstructure:"port" yaml:"port"`
	Open           bool          `mapstructure:"open" yaml:"open"`
	Loop           bool          `mapstructure:"loop" yaml:"loop"`
	CacheBytes     int64         `mapstructure:"cache_bytes" yaml:"cache_bytes"`
	CacheFrames    int           `mapstructure:"cache_frames" yaml:"cache_frames"`
	RenderTimeout  time.Duration `mapstructure:"render_timeout" yaml:"render_timeout"`
	Debounce       time.Duration `mapstructure:"debounce" yaml:"debounce"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins,omitempty"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	// Dir, when set, receives a dated log file instead of stderr.
	Dir string `mapstructure:"dir" yaml:"dir,omitempty"`
}

// DefaultHistoryPath is the database location when none is configured.
func DefaultHistoryPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".framecast", "history.db")
	}
	return filepath.Join(dir, "framecast", "history.db")
}

// SetDefaults registers every default on v. Values already set on v win.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("render.format", string(plan.FormatMP4))
	v.SetDefault("render.quality", string(plan.QualityMedium))
	v.SetDefault("render.output_dir", ".")
	v.SetDefault("render.template_timeout", 10*time.Second)

	v.SetDefault("renderer.settle_timeout", 3*time.Second)
	v.SetDefault("renderer.capture_timeout", 30*time.Second)

	v.SetDefault("preview.host", "localhost")
	v.SetDefault("preview.port", 8080)
	v.SetDefault("preview.open", true)
	v.SetDefault("preview.loop", true)
	v.SetDefault("preview.cache_bytes", int64(256<<20))
	v.SetDefault("preview.cache_frames", 900)
	v.SetDefault("preview.render_timeout", 30*time.Second)
	v.SetDefault("preview.debounce", 150*time.Millisecond)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", DefaultHistoryPath())

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Configure points v at the config file and environment. An explicit file
// wins over FRAMECAST_CONFIG_FILE, which wins over .framecast.yml in the
// working directory.
func Configure(v *viper.Viper, file string) {
	switch {
	case file != "":
		v.SetConfigFile(file)
	case os.Getenv(EnvConfigFile) != "":
		v.SetConfigFile(os.Getenv(EnvConfigFile))
	default:
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(FileName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Read loads the configured file. A missing default file is not an error; a
// missing explicit file is.
func Read(v *viper.Viper) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return errors.NewConfigError(errors.ErrCodeConfigInvalid, "failed to read config file").
		WithCause(err).
		WithContext("file", v.ConfigFileUsed())
}

// Load decodes the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom applies defaults, decodes v and validates the result.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "failed to decode configuration").WithCause(err)
	}

	// Environment overrides of list values arrive as one space separated
	// string.
	if v.IsSet("preview.allowed_origins") && len(config.Preview.AllowedOrigins) == 0 {
		config.Preview.AllowedOrigins = v.GetStringSlice("preview.allowed_origins")
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Addr is the preview listen address.
func (c *PreviewConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CodecPreferences converts the configured overrides into the encoder's form.
func (c *EncoderConfig) CodecPreferences() map[plan.Format][]string {
	if len(c.VideoCodecs) == 0 {
		return nil
	}
	out := make(map[plan.Format][]string, len(c.VideoCodecs))
	for format, codecs := range c.VideoCodecs {
		out[plan.Format(strings.ToLower(format))] = append([]string(nil), codecs...)
	}
	return out
}

// validateConfig rejects values that would fail later in a less obvious
// place.
func validateConfig(config *Config) error {
	result := ValidateConfigWithDetails(config)
	if !result.HasErrors() {
		return nil
	}

	err := errors.NewConfigError(errors.ErrCodeConfigInvalid, "invalid configuration: "+result.Errors[0].Error())
	for _, ve := range result.Errors {
		err.WithContext(ve.Field, ve.Value)
	}
	return err
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
