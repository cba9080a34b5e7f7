package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/conneroisu/framecast/internal/plan"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	if len(vr.Errors) > 0 {
		builder.WriteString("Validation errors:\n")
		for _, err := range vr.Errors {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", err.Field, err.Message))
			for _, suggestion := range err.Suggestions {
				builder.WriteString(fmt.Sprintf("    - %s\n", suggestion))
			}
		}
		builder.WriteString("\n")
	}

	if len(vr.Warnings) > 0 {
		builder.WriteString("Validation warnings:\n")
		for _, warning := range vr.Warnings {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", warning.Field, warning.Message))
			for _, suggestion := range warning.Suggestions {
				builder.WriteString(fmt.Sprintf("    - %s\n", suggestion))
			}
		}
	}

	return builder.String()
}

func (vr *ValidationResult) addError(field string, value interface{}, message string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

func (vr *ValidationResult) addWarning(field string, value interface{}, message string, suggestions ...string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

// ValidateConfigWithDetails performs comprehensive validation with detailed feedback
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	validateRenderConfigDetails(&config.Render, result)
	validateRendererConfigDetails(&config.Renderer, result)
	validateEncoderConfigDetails(&config.Encoder, result)
	validatePreviewConfigDetails(&config.Preview, result)
	validateHistoryConfigDetails(&config.History, result)
	validateLogConfigDetails(&config.Log, result)

	result.Valid = !result.HasErrors()

	return result
}

func validateRenderConfigDetails(config *RenderConfig, result *ValidationResult) {
	if config.Width < 0 {
		result.addError("render.width", config.Width, "width cannot be negative")
	}
	if config.Height < 0 {
		result.addError("render.height", config.Height, "height cannot be negative")
	}
	if config.Width%2 != 0 || config.Height%2 != 0 {
		result.addWarning("render.width", fmt.Sprintf("%dx%d", config.Width, config.Height),
			"odd dimensions are not supported by yuv420p encoders",
			"Use even values such as 1280x720 or 1080x1920")
	}
	if config.FPS < 0 {
		result.addError("render.fps", config.FPS, "fps cannot be negative")
	}
	if config.DurationSeconds < 0 {
		result.addError("render.duration_seconds", config.DurationSeconds, "duration cannot be negative")
	}
	if config.TemplateTimeout < 0 {
		result.addError("render.template_timeout", config.TemplateTimeout, "timeout cannot be negative")
	}

	if !isFormat(config.Format) {
		result.addError("render.format", config.Format, fmt.Sprintf("unknown format '%s'", config.Format),
			"Available formats: "+strings.Join(formatNames(), ", "))
	}

	if config.Quality != "" {
		if _, err := plan.ParseBitrate(config.Quality); err != nil {
			result.addError("render.quality", config.Quality, "unknown quality",
				"Use a bitrate such as 2.5M or one of: "+strings.Join(plan.QualityNames(), ", "))
		}
	}

	if config.OutputDir != "" {
		if err := validatePath(config.OutputDir); err != nil {
			result.addError("render.output_dir", config.OutputDir, err.Error())
		}
	}
	for _, path := range config.Stylesheets {
		if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
			continue
		}
		if !pathExists(path) {
			result.addWarning("render.stylesheets", path, "stylesheet does not exist")
		}
	}
}

func validateRendererConfigDetails(config *RendererConfig, result *ValidationResult) {
	if config.ChromePath != "" && !pathExists(config.ChromePath) {
		result.addError("renderer.chrome_path", config.ChromePath, "chrome executable does not exist",
			"Remove the setting to search PATH for chromium or google-chrome",
			"Run 'framecast doctor' to check the capture backend")
	}
	if config.SettleTimeout < 0 {
		result.addError("renderer.settle_timeout", config.SettleTimeout, "timeout cannot be negative")
	}
	if config.CaptureTimeout < 0 {
		result.addError("renderer.capture_timeout", config.CaptureTimeout, "timeout cannot be negative")
	} else if config.CaptureTimeout > 0 && config.CaptureTimeout < config.SettleTimeout {
		result.addWarning("renderer.capture_timeout", config.CaptureTimeout,
			"capture timeout is shorter than the settle timeout")
	}
}

func validateEncoderConfigDetails(config *EncoderConfig, result *ValidationResult) {
	if config.FFmpegPath != "" && !pathExists(config.FFmpegPath) {
		result.addError("encoder.ffmpeg_path", config.FFmpegPath, "ffmpeg executable does not exist",
			"Remove the setting to search PATH for ffmpeg")
	}

	formats := make([]string, 0, len(config.VideoCodecs))
	for format := range config.VideoCodecs {
		formats = append(formats, format)
	}
	sort.Strings(formats)
	for _, format := range formats {
		if !isFormat(format) {
			result.addError("encoder.video_codecs", format, fmt.Sprintf("unknown format '%s'", format),
				"Available formats: "+strings.Join(formatNames(), ", "))
			continue
		}
		if len(config.VideoCodecs[format]) == 0 {
			result.addWarning("encoder.video_codecs", format, "empty preference list falls back to the built-in order")
		}
	}
}

func validatePreviewConfigDetails(config *PreviewConfig, result *ValidationResult) {
	if config.Port < 0 || config.Port > 65535 {
		result.addError("preview.port", config.Port, fmt.Sprintf("port %d is not in valid range 0-65535", config.Port),
			"Use a port between 1024-65535 for non-privileged access",
			"Port 0 allows system to assign an available port")
	} else if config.Port > 0 && config.Port < 1024 {
		result.addWarning("preview.port", config.Port, "port below 1024 requires elevated privileges",
			"Consider using a port above 1024 for development")
	}

	if config.Host != "" {
		if err := validateHostname(config.Host); err != nil {
			result.addError("preview.host", config.Host, err.Error(),
				"Use 'localhost' for local development",
				"Use '0.0.0.0' to bind to all interfaces")
		}
	}

	if config.CacheBytes < 0 {
		result.addError("preview.cache_bytes", config.CacheBytes, "cache size cannot be negative")
	}
	if config.CacheFrames < 0 {
		result.addError("preview.cache_frames", config.CacheFrames, "cache size cannot be negative")
	}
	if config.RenderTimeout < 0 {
		result.addError("preview.render_timeout", config.RenderTimeout, "timeout cannot be negative")
	}
	if config.Debounce < 0 {
		result.addError("preview.debounce", config.Debounce, "debounce cannot be negative")
	}

	for _, origin := range config.AllowedOrigins {
		if origin == "*" {
			result.addWarning("preview.allowed_origins", origin, "wildcard origin accepts websocket connections from any site")
			continue
		}
		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			result.addError("preview.allowed_origins", origin, "origin must start with http:// or https://")
		}
	}
}

func validateHistoryConfigDetails(config *HistoryConfig, result *ValidationResult) {
	if !config.Enabled {
		return
	}
	if config.Path == "" {
		result.addError("history.path", config.Path, "history is enabled but no database path is set")
		return
	}
	if config.Path == ":memory:" {
		return
	}
	if err := validatePath(config.Path); err != nil {
		result.addError("history.path", config.Path, err.Error())
	}
}

var validLevels = []string{"debug", "info", "warn", "warning", "error", "fatal"}

func validateLogConfigDetails(config *LogConfig, result *ValidationResult) {
	if config.Level != "" && !contains(validLevels, strings.ToLower(config.Level)) {
		result.addError("log.level", config.Level, fmt.Sprintf("unknown log level '%s'", config.Level),
			"Available levels: debug, info, warn, error")
	}
	if config.Format != "" && config.Format != "text" && config.Format != "json" {
		result.addError("log.format", config.Format, fmt.Sprintf("unknown log format '%s'", config.Format),
			"Use 'text' or 'json'")
	}
	if config.Dir != "" {
		if err := validatePath(config.Dir); err != nil {
			result.addError("log.dir", config.Dir, err.Error())
		}
	}
}

// Helper validation functions

func validateHostname(host string) error {
	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
	for _, char := range dangerousChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("contains dangerous character: %s", char)
		}
	}

	if net.ParseIP(host) != nil {
		return nil
	}

	if host == "localhost" {
		return nil
	}

	hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format")
	}

	return nil
}

func isFormat(s string) bool {
	switch plan.Format(strings.ToLower(s)) {
	case plan.FormatMP4, plan.FormatWebM:
		return true
	}
	return false
}

func formatNames() []string {
	return []string{string(plan.FormatMP4), string(plan.FormatWebM)}
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
