// Package doctor checks that the capture and encoding backends a render needs
// are installed before any frame work starts.
package doctor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/conneroisu/framecast/internal/errors"
	"github.com/conneroisu/framecast/internal/plan"
	"github.com/conneroisu/framecast/internal/render/chrome"
	"github.com/conneroisu/framecast/internal/render/ffmpeg"
)

// Status values for a check.
const (
	StatusOK      = "ok"
	StatusWarning = "warning"
	StatusError   = "error"
)

// Result is the outcome of one check.
type Result struct {
	Name       string                 `json:"name" yaml:"name"`
	Category   string                 `json:"category" yaml:"category"`
	Status     string                 `json:"status" yaml:"status"`
	Message    string                 `json:"message" yaml:"message"`
	Suggestion string                 `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty" yaml:"details,omitempty"`
}

// Report is the full diagnostic report.
type Report struct {
	Timestamp   time.Time         `json:"timestamp" yaml:"timestamp"`
	Environment map[string]string `json:"environment" yaml:"environment"`
	Results     []Result          `json:"results" yaml:"results"`
	Summary     Summary           `json:"summary" yaml:"summary"`
}

// Summary counts results by status.
type Summary struct {
	Total    int `json:"total" yaml:"total"`
	OK       int `json:"ok" yaml:"ok"`
	Warnings int `json:"warnings" yaml:"warnings"`
	Errors   int `json:"errors" yaml:"errors"`
}

// Options selects executables and the output the render will need.
type Options struct {
	ChromePath string
	FFmpegPath string
	// Formats limits encoder checks; empty checks every supported format.
	Formats []plan.Format
	Alpha   bool
	Audio   bool
}

// Doctor runs the checks. Its lookups are swappable for tests.
type Doctor struct {
	findChrome func(string) (string, error)
	findFFmpeg func(string) (string, error)
	probe      func(context.Context, string) (map[string]bool, error)
}

// New returns a doctor that inspects the real system.
func New() *Doctor {
	return &Doctor{
		findChrome: chrome.FindExecutable,
		findFFmpeg: ffmpeg.FindExecutable,
		probe:      ffmpeg.ProbeEncoders,
	}
}

// Run performs every check and returns the report.
func (d *Doctor) Run(ctx context.Context, opts Options) *Report {
	report := &Report{
		Timestamp: time.Now(),
		Environment: map[string]string{
			"os":   runtime.GOOS,
			"arch": runtime.GOARCH,
			"path": os.Getenv("PATH"),
		},
	}

	report.Results = append(report.Results, d.checkChrome(opts))

	ffmpegResult, ffmpegPath := d.checkFFmpeg(opts)
	report.Results = append(report.Results, ffmpegResult)
	if ffmpegPath != "" {
		report.Results = append(report.Results, d.checkEncoders(ctx, ffmpegPath, opts)...)
	}

	report.Summary = summarize(report.Results)
	return report
}

// Check runs the doctor and returns an EnvironmentError naming every failed
// check, or nil when the backends are usable.
func (d *Doctor) Check(ctx context.Context, opts Options) error {
	return d.Run(ctx, opts).Err()
}

// Err converts failed checks into a single EnvironmentError.
func (r *Report) Err() error {
	var missing []string
	for _, res := range r.Results {
		if res.Status == StatusError {
			missing = append(missing, fmt.Sprintf("%s: %s", res.Name, res.Message))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return errors.NewEnvironmentError(errors.ErrCodeMissingBackend,
		"render backends unavailable: "+strings.Join(missing, "; "), nil).
		WithContext("failed_checks", len(missing))
}

func (d *Doctor) checkChrome(opts Options) Result {
	result := Result{Name: "Chrome", Category: "Capture", Status: StatusOK}

	path, err := d.findChrome(opts.ChromePath)
	if err != nil {
		result.Status = StatusError
		result.Message = "no Chrome or Chromium executable found"
		result.Suggestion = "Install Chrome or Chromium, or set renderer.chrome_path in .framecast.yml"
		return result
	}

	result.Message = "found " + path
	result.Details = map[string]interface{}{"path": path}
	return result
}

func (d *Doctor) checkFFmpeg(opts Options) (Result, string) {
	result := Result{Name: "FFmpeg", Category: "Encoding", Status: StatusOK}

	path, err := d.findFFmpeg(opts.FFmpegPath)
	if err != nil {
		result.Status = StatusError
		result.Message = "ffmpeg executable not found"
		result.Suggestion = "Install ffmpeg, or set encoder.ffmpeg_path in .framecast.yml"
		return result, ""
	}

	result.Message = "found " + path
	result.Details = map[string]interface{}{"path": path}
	return result, path
}

func (d *Doctor) checkEncoders(ctx context.Context, path string, opts Options) []Result {
	available, err := d.probe(ctx, path)
	if err != nil {
		return []Result{{
			Name:     "Encoders",
			Category: "Encoding",
			Status:   StatusError,
			Message:  fmt.Sprintf("could not list encoders: %v", err),
		}}
	}

	formats := opts.Formats
	if len(formats) == 0 {
		formats = []plan.Format{plan.FormatMP4, plan.FormatWebM}
	}

	var results []Result
	for _, format := range formats {
		result := Result{Name: string(format) + " video", Category: "Encoding", Status: StatusOK}
		codec, err := ffmpeg.NegotiateCodec(format, "", opts.Alpha && format == plan.FormatWebM, nil, available)
		if err != nil {
			result.Status = StatusError
			result.Message = err.Error()
			result.Suggestion = "Install an ffmpeg build with " + strings.Join(ffmpeg.VideoPreferences[format], " or ")
		} else {
			result.Message = "using " + codec
		}
		results = append(results, result)

		audio := Result{Name: string(format) + " audio", Category: "Encoding", Status: StatusOK}
		codec, err = ffmpeg.NegotiateAudioCodec(format, "", available)
		switch {
		case err != nil && opts.Audio:
			audio.Status = StatusError
			audio.Message = err.Error()
		case err != nil:
			audio.Status = StatusWarning
			audio.Message = "no audio encoder; audio tracks cannot be muxed"
		default:
			audio.Message = "using " + codec
		}
		results = append(results, audio)
	}

	names := make([]string, 0, len(available))
	for name := range available {
		names = append(names, name)
	}
	sort.Strings(names)
	results = append(results, Result{
		Name:     "Encoders",
		Category: "Encoding",
		Status:   StatusOK,
		Message:  fmt.Sprintf("%d encoders available", len(names)),
		Details:  map[string]interface{}{"encoders": names},
	})
	return results
}

func summarize(results []Result) Summary {
	summary := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case StatusOK:
			summary.OK++
		case StatusWarning:
			summary.Warnings++
		case StatusError:
			summary.Errors++
		}
	}
	return summary
}
