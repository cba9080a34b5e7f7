package ffmpeg

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/conneroisu/framecast/internal/plan"
)

// Job is everything needed to build one ffmpeg invocation.
type Job struct {
	Width           int
	Height          int
	FPS             float64
	DurationSeconds float64
	Encoding        plan.EncodingOptions
	VideoCodec      string
	AudioCodec      string
	Output          string
}

// JobFromPlan copies the plan fields the encoder needs.
func JobFromPlan(p *plan.RenderPlan, videoCodec, audioCodec, output string) Job {
	return Job{
		Width:           p.Width,
		Height:          p.Height,
		FPS:             p.FPS,
		DurationSeconds: float64(p.TotalFrames) / p.FPS,
		Encoding:        p.Encoding,
		VideoCodec:      videoCodec,
		AudioCodec:      audioCodec,
		Output:          output,
	}
}

// BuildArgs returns the ffmpeg arguments that read raw RGBA frames from stdin
// and write the container to j.Output.
func BuildArgs(j Job) ([]string, error) {
	enc := j.Encoding

	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin", "-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", j.Width, j.Height),
		"-framerate", num(j.FPS),
		"-i", "pipe:0",
	}

	audio := enc.Audio
	if audio != nil {
		if audio.Loop {
			args = append(args, "-stream_loop", "-1")
		}
		args = append(args, "-i", audio.Source)
	}

	args = append(args, "-map", "0:v:0")
	if audio != nil {
		args = append(args, "-map", "1:a:0")
	}

	videoBitrate, err := enc.Video.Bitrate.Resolve(plan.VideoBitrates, plan.VideoBitrates[plan.QualityMedium])
	if err != nil {
		return nil, err
	}
	args = append(args, "-c:v", j.VideoCodec, "-b:v", strconv.Itoa(videoBitrate))

	if enc.Video.Alpha {
		args = append(args, "-pix_fmt", "yuva420p", "-auto-alt-ref", "0")
	} else {
		args = append(args, "-pix_fmt", "yuv420p")
	}

	if gop := KeyFrameInterval(enc.Video.KeyFrameIntervalSeconds, j.FPS); gop > 0 {
		args = append(args, "-g", strconv.Itoa(gop))
	}

	if audio != nil {
		audioBitrate, err := audio.Bitrate.Resolve(plan.AudioBitrates, plan.AudioBitrates[plan.QualityMedium])
		if err != nil {
			return nil, err
		}
		args = append(args, "-c:a", j.AudioCodec, "-b:a", strconv.Itoa(audioBitrate))
		if filter := AudioFilter(audio, j.DurationSeconds); filter != "" {
			args = append(args, "-af", filter)
		}
	}

	// Trim to the video so a longer or looped audio track never extends it.
	args = append(args, "-t", num(j.DurationSeconds))

	switch enc.Format {
	case plan.FormatWebM:
		args = append(args, "-f", "webm")
	default:
		args = append(args, "-movflags", "+faststart", "-f", "mp4")
	}

	return append(args, j.Output), nil
}

// KeyFrameInterval converts seconds between key frames into a GOP size.
// Zero means encoder default.
func KeyFrameInterval(seconds, fps float64) int {
	if seconds <= 0 || fps <= 0 {
		return 0
	}
	return max(1, int(math.Round(seconds*fps)))
}

// AudioFilter builds the -af chain for volume and fades.
func AudioFilter(a *plan.AudioOptions, durationSeconds float64) string {
	var filters []string
	if gain := a.Gain(); gain != 1 {
		filters = append(filters, "volume="+num(gain))
	}
	if a.FadeInSeconds > 0 {
		filters = append(filters, fmt.Sprintf("afade=t=in:st=0:d=%s", num(a.FadeInSeconds)))
	}
	if a.FadeOutSeconds > 0 {
		start := math.Max(0, durationSeconds-a.FadeOutSeconds)
		filters = append(filters, fmt.Sprintf("afade=t=out:st=%s:d=%s", num(start), num(a.FadeOutSeconds)))
	}
	return strings.Join(filters, ",")
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
