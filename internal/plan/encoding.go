package plan

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/conneroisu/framecast/internal/errors"
)

// Format is an output container.
type Format string

const (
	FormatMP4  Format = "mp4"
	FormatWebM Format = "webm"
)

// Quality is a named bitrate shorthand.
type Quality string

const (
	QualityVeryLow  Quality = "very-low"
	QualityLow      Quality = "low"
	QualityMedium   Quality = "medium"
	QualityHigh     Quality = "high"
	QualityVeryHigh Quality = "very-high"
)

// VideoBitrates maps quality presets to video bits per second.
var VideoBitrates = map[Quality]int{
	QualityVeryLow:  500_000,
	QualityLow:      1_000_000,
	QualityMedium:   2_500_000,
	QualityHigh:     5_000_000,
	QualityVeryHigh: 10_000_000,
}

// AudioBitrates maps quality presets to audio bits per second.
var AudioBitrates = map[Quality]int{
	QualityVeryLow:  32_000,
	QualityLow:      64_000,
	QualityMedium:   128_000,
	QualityHigh:     192_000,
	QualityVeryHigh: 256_000,
}

// Bitrate is either an explicit number of bits per second or a quality
// preset. The zero value means "encoder default".
type Bitrate struct {
	BitsPerSecond int
	Preset        Quality
}

// IsZero reports whether no bitrate was requested.
func (b Bitrate) IsZero() bool {
	return b.BitsPerSecond == 0 && b.Preset == ""
}

// Resolve returns the bitrate in bits per second using presets for named
// qualities, or fallback when nothing was requested.
func (b Bitrate) Resolve(presets map[Quality]int, fallback int) (int, error) {
	if b.BitsPerSecond > 0 {
		return b.BitsPerSecond, nil
	}
	if b.Preset == "" {
		return fallback, nil
	}
	v, ok := presets[b.Preset]
	if !ok {
		return 0, errors.NewValidationError(errors.ErrCodeInvalidEncoding,
			fmt.Sprintf("unknown quality %q; expected one of %s", b.Preset, strings.Join(QualityNames(), ", ")))
	}
	return v, nil
}

func (b Bitrate) String() string {
	if b.BitsPerSecond > 0 {
		return strconv.Itoa(b.BitsPerSecond)
	}
	return string(b.Preset)
}

// ParseBitrate accepts a quality name ("high"), a plain number of bits per
// second ("2500000") or a number with a k/M suffix ("2.5M", "128k").
func ParseBitrate(s string) (Bitrate, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Bitrate{}, nil
	}
	if _, ok := VideoBitrates[Quality(strings.ToLower(s))]; ok {
		return Bitrate{Preset: Quality(strings.ToLower(s))}, nil
	}

	mult := 1.0
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1_000
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1_000_000
		s = s[:len(s)-1]
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return Bitrate{}, errors.NewValidationError(errors.ErrCodeInvalidEncoding,
			fmt.Sprintf("invalid bitrate %q; use a number of bits per second or one of %s", s, strings.Join(QualityNames(), ", ")))
	}
	return Bitrate{BitsPerSecond: int(math.Round(f * mult))}, nil
}

// QualityNames lists the preset names from lowest to highest.
func QualityNames() []string {
	names := make([]string, 0, len(VideoBitrates))
	for q := range VideoBitrates {
		names = append(names, string(q))
	}
	sort.Slice(names, func(i, j int) bool {
		return VideoBitrates[Quality(names[i])] < VideoBitrates[Quality(names[j])]
	})
	return names
}

// VideoOptions configures the video stream.
type VideoOptions struct {
	Codec                   string
	Bitrate                 Bitrate
	KeyFrameIntervalSeconds float64
	Alpha                   bool
}

// AudioOptions configures the single optional audio track.
type AudioOptions struct {
	// Source is a path to the audio file mixed into the output.
	Source         string
	Codec          string
	Bitrate        Bitrate
	Loop           bool
	// Volume is a gain multiplier. Nil leaves the track unchanged and zero
	// mutes it.
	Volume         *float64
	FadeInSeconds  float64
	FadeOutSeconds float64
}

// Gain is the effective volume multiplier.
func (a *AudioOptions) Gain() float64 {
	if a.Volume == nil {
		return 1
	}
	return *a.Volume
}

// EncodingOptions describes the requested output encoding.
type EncodingOptions struct {
	Format Format
	Video  VideoOptions
	Audio  *AudioOptions
}

// DefaultEncoding is used when a job does not specify encoding.
func DefaultEncoding() EncodingOptions {
	return EncodingOptions{
		Format: FormatMP4,
		Video:  VideoOptions{Bitrate: Bitrate{Preset: QualityMedium}},
	}
}

// withDefaults fills unset fields.
func (e EncodingOptions) withDefaults() EncodingOptions {
	if e.Format == "" {
		e.Format = FormatMP4
	}
	if e.Video.Bitrate.IsZero() {
		e.Video.Bitrate = Bitrate{Preset: QualityMedium}
	}
	if e.Audio != nil {
		audio := *e.Audio
		gain := audio.Gain()
		audio.Volume = &gain
		e.Audio = &audio
	}
	return e
}

// Validate checks the options for combinations no encoder can produce.
func (e EncodingOptions) Validate() error {
	vec := &errors.ValidationErrorCollection{}

	switch e.Format {
	case FormatMP4, FormatWebM:
	default:
		vec.AddField("format", e.Format, "must be mp4 or webm")
	}
	if e.Video.Alpha && e.Format != FormatWebM {
		vec.AddField("video.alpha", e.Video.Alpha, "alpha output requires webm")
	}
	if e.Video.KeyFrameIntervalSeconds < 0 {
		vec.AddField("video.keyFrameInterval", e.Video.KeyFrameIntervalSeconds, "must not be negative")
	}
	if _, err := e.Video.Bitrate.Resolve(VideoBitrates, 0); err != nil {
		vec.AddField("video.bitrate", e.Video.Bitrate.String(), err.Error())
	}

	if a := e.Audio; a != nil {
		if a.Source == "" {
			vec.AddField("audio.source", a.Source, "an audio track needs a source file")
		}
		if a.Gain() < 0 {
			vec.AddField("audio.volume", a.Gain(), "must not be negative")
		}
		if a.FadeInSeconds < 0 || a.FadeOutSeconds < 0 {
			vec.AddField("audio.fade", fmt.Sprintf("%g/%g", a.FadeInSeconds, a.FadeOutSeconds), "fades must not be negative")
		}
		if _, err := a.Bitrate.Resolve(AudioBitrates, 0); err != nil {
			vec.AddField("audio.bitrate", a.Bitrate.String(), err.Error())
		}
	}

	if vec.HasErrors() {
		return vec.ToFramecastError(errors.ErrCodeInvalidEncoding)
	}
	return nil
}
