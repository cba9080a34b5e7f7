package ffmpeg

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/framecast/internal/errors"
	"github.com/conneroisu/framecast/internal/plan"
	"github.com/conneroisu/framecast/internal/render"
	"github.com/conneroisu/framecast/internal/template"
)

const encodersOutput = `Encoders:
 V..... = Video
 A..... = Audio
 S..... = Subtitle
 .F.... = Frame-level multithreading
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 V....D mpeg4                MPEG-4 part 2
 V....D libvpx-vp9           libvpx VP9 (codec vp9)
 A....D aac                  AAC (Advanced Audio Coding)
 A....D libopus              libopus Opus (codec opus)
`

func TestParseEncoders(t *testing.T) {
	got := parseEncoders(encodersOutput)
	assert.Equal(t, map[string]bool{
		"libx264":    true,
		"mpeg4":      true,
		"libvpx-vp9": true,
		"aac":        true,
		"libopus":    true,
	}, got)
}

func TestNegotiateCodec(t *testing.T) {
	available := parseEncoders(encodersOutput)

	tests := []struct {
		name      string
		format    plan.Format
		explicit  string
		alpha     bool
		prefs     map[plan.Format][]string
		available map[string]bool
		want      string
		wantErr   bool
	}{
		{name: "mp4 default", format: plan.FormatMP4, available: available, want: "libx264"},
		{name: "webm default", format: plan.FormatWebM, available: available, want: "libvpx-vp9"},
		{name: "explicit available", format: plan.FormatMP4, explicit: "mpeg4", available: available, want: "mpeg4"},
		{name: "explicit missing falls back", format: plan.FormatMP4, explicit: "hevc_nvenc", available: available, want: "libx264"},
		{name: "fallback down the list", format: plan.FormatMP4, available: map[string]bool{"mpeg4": true}, want: "mpeg4"},
		{name: "alpha needs vpx", format: plan.FormatWebM, alpha: true, available: map[string]bool{"libaom-av1": true}, wantErr: true},
		{name: "alpha with vp9", format: plan.FormatWebM, alpha: true, available: available, want: "libvpx-vp9"},
		{name: "custom preferences", format: plan.FormatMP4, prefs: map[plan.Format][]string{plan.FormatMP4: {"mpeg4", "libx264"}}, available: available, want: "mpeg4"},
		{name: "nothing available", format: plan.FormatWebM, available: map[string]bool{"libx264": true}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NegotiateCodec(tt.format, tt.explicit, tt.alpha, tt.prefs, tt.available)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsEnvironmentError(err))
				assert.Equal(t, errors.ErrCodeUnsupportedCodec, errors.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNegotiateAudioCodec(t *testing.T) {
	available := parseEncoders(encodersOutput)

	got, err := NegotiateAudioCodec(plan.FormatWebM, "", available)
	require.NoError(t, err)
	assert.Equal(t, "libopus", got)

	_, err = NegotiateAudioCodec(plan.FormatMP4, "", map[string]bool{})
	assert.Equal(t, errors.ErrCodeUnsupportedCodec, errors.CodeOf(err))
}

func containsSeq(args []string, seq ...string) bool {
	for i := 0; i+len(seq) <= len(args); i++ {
		match := true
		for j, s := range seq {
			if args[i+j] != s {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func TestBuildArgsVideoOnly(t *testing.T) {
	args, err := BuildArgs(Job{
		Width: 1280, Height: 720, FPS: 29.97, DurationSeconds: 10,
		Encoding: plan.EncodingOptions{
			Format: plan.FormatMP4,
			Video: plan.VideoOptions{
				Bitrate:                 plan.Bitrate{Preset: plan.QualityHigh},
				KeyFrameIntervalSeconds: 2,
			},
		},
		VideoCodec: "libx264",
		Output:     "/tmp/out.mp4",
	})
	require.NoError(t, err)

	assert.True(t, containsSeq(args, "-f", "rawvideo", "-pix_fmt", "rgba", "-s", "1280x720", "-framerate", "29.97", "-i", "pipe:0"))
	assert.True(t, containsSeq(args, "-c:v", "libx264", "-b:v", "5000000"))
	assert.True(t, containsSeq(args, "-pix_fmt", "yuv420p"))
	assert.True(t, containsSeq(args, "-g", "60"))
	assert.True(t, containsSeq(args, "-t", "10"))
	assert.True(t, containsSeq(args, "-f", "mp4", "/tmp/out.mp4"))
	assert.False(t, containsSeq(args, "-map", "1:a:0"))
	assert.Equal(t, "/tmp/out.mp4", args[len(args)-1])
}

func TestBuildArgsAlphaAndAudio(t *testing.T) {
	args, err := BuildArgs(Job{
		Width: 64, Height: 64, FPS: 30, DurationSeconds: 4,
		Encoding: plan.EncodingOptions{
			Format: plan.FormatWebM,
			Video:  plan.VideoOptions{Alpha: true, Bitrate: plan.Bitrate{BitsPerSecond: 750_000}},
			Audio: &plan.AudioOptions{
				Source:         "music.mp3",
				Loop:           true,
				Volume:         ptr(0.5),
				FadeInSeconds:  1,
				FadeOutSeconds: 1.5,
				Bitrate:        plan.Bitrate{Preset: plan.QualityLow},
			},
		},
		VideoCodec: "libvpx-vp9",
		AudioCodec: "libopus",
		Output:     "out.webm",
	})
	require.NoError(t, err)

	assert.True(t, containsSeq(args, "-stream_loop", "-1", "-i", "music.mp3"))
	assert.True(t, containsSeq(args, "-map", "0:v:0", "-map", "1:a:0"))
	assert.True(t, containsSeq(args, "-b:v", "750000"))
	assert.True(t, containsSeq(args, "-pix_fmt", "yuva420p"))
	assert.True(t, containsSeq(args, "-c:a", "libopus", "-b:a", "64000"))
	assert.True(t, containsSeq(args, "-af", "volume=0.5,afade=t=in:st=0:d=1,afade=t=out:st=2.5:d=1.5"))
	assert.True(t, containsSeq(args, "-t", "4"))
	assert.True(t, containsSeq(args, "-f", "webm", "out.webm"))
	assert.False(t, containsSeq(args, "-g"))
}

func TestBuildArgsUnknownQuality(t *testing.T) {
	_, err := BuildArgs(Job{
		Width: 2, Height: 2, FPS: 1, DurationSeconds: 1,
		Encoding: plan.EncodingOptions{Format: plan.FormatMP4, Video: plan.VideoOptions{Bitrate: plan.Bitrate{Preset: "ultra"}}},
	})
	assert.True(t, errors.IsValidationError(err))
}

func TestKeyFrameInterval(t *testing.T) {
	assert.Equal(t, 0, KeyFrameInterval(0, 30))
	assert.Equal(t, 60, KeyFrameInterval(2, 30))
	assert.Equal(t, 15, KeyFrameInterval(0.5, 29.97))
	assert.Equal(t, 1, KeyFrameInterval(0.001, 30))
}

func TestAudioFilter(t *testing.T) {
	assert.Equal(t, "", AudioFilter(&plan.AudioOptions{}, 5))
	assert.Equal(t, "", AudioFilter(&plan.AudioOptions{Volume: ptr(1.0)}, 5))
	assert.Equal(t, "afade=t=out:st=0:d=10", AudioFilter(&plan.AudioOptions{FadeOutSeconds: 10}, 5))
	assert.Equal(t, "volume=0", AudioFilter(&plan.AudioOptions{Volume: ptr(0.0)}, 5))
}

func ptr[T any](v T) *T {
	return &v
}

func TestPackPixels(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 2, 1))
	frame.SetRGBA(0, 0, color.RGBA{R: 100, G: 50, B: 0, A: 128})
	frame.SetRGBA(1, 0, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	opaque := packPixels(frame, false, nil)
	assert.Equal(t, []byte{100, 50, 0, 128, 10, 20, 30, 255}, opaque)

	straight := packPixels(frame, true, nil)
	assert.Equal(t, []byte{199, 100, 0, 128, 10, 20, 30, 255}, straight)
	assert.Equal(t, uint8(100), frame.Pix[0], "source frame must not be modified")

	sub := image.NewRGBA(image.Rect(0, 0, 4, 4)).SubImage(image.Rect(1, 1, 3, 2)).(*image.RGBA)
	assert.Len(t, packPixels(sub, false, nil), 8)
}

func TestEncoderBeforeInit(t *testing.T) {
	e := New(Options{})
	err := e.AddFrame(context.Background(), image.NewRGBA(image.Rect(0, 0, 1, 1)), 0)
	assert.Error(t, err)
	_, err = e.Finalize(context.Background())
	assert.Error(t, err)
	assert.NoError(t, e.Dispose())
}

func TestEncoderProducesMP4(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ffmpeg test in short mode")
	}
	if _, err := FindExecutable(""); err != nil {
		t.Skip("ffmpeg not available")
	}

	tpl := &template.Func{RenderFunc: func(context.Context, template.RenderContext) (string, error) {
		return "", nil
	}}
	p, err := plan.BuildRenderPlan(tpl, plan.RenderJob{Width: 32, Height: 32, FPS: 10, DurationSeconds: 1})
	require.NoError(t, err)

	e := New(Options{})
	defer e.Dispose()
	require.NoError(t, e.Init(context.Background(), p))

	for i := 0; i < p.TotalFrames; i++ {
		frame := image.NewRGBA(image.Rect(0, 0, 32, 32))
		for j := range frame.Pix {
			frame.Pix[j] = uint8(i * 20)
		}
		require.NoError(t, e.AddFrame(context.Background(), frame, p.Timestamp(i)))
	}

	err = e.AddFrame(context.Background(), image.NewRGBA(image.Rect(0, 0, 16, 16)), 5)
	assert.Equal(t, errors.ErrCodeFrameMismatch, errors.CodeOf(err))

	out, err := e.Finalize(context.Background())
	require.NoError(t, err)
	assert.True(t, bytes.Contains(out[:min(len(out), 64)], []byte("ftyp")))
}

func TestEncoderWithExecutor(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ffmpeg test in short mode")
	}
	if _, err := FindExecutable(""); err != nil {
		t.Skip("ffmpeg not available")
	}

	tpl := &template.Func{RenderFunc: func(_ context.Context, rc template.RenderContext) (string, error) {
		return strings.Repeat("x", rc.Frame), nil
	}}
	p, err := plan.BuildRenderPlan(tpl, plan.RenderJob{Width: 16, Height: 16, FPS: 5, DurationSeconds: 1})
	require.NoError(t, err)

	out, err := render.Execute(context.Background(), p, solidRenderer{}, New(Options{}), render.Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

type solidRenderer struct{}

func (solidRenderer) Init(context.Context, *plan.RenderPlan) error { return nil }

func (solidRenderer) CaptureFrame(_ context.Context, markup string) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = uint8(len(markup) * 40)
	}
	return img, nil
}

func (solidRenderer) Dispose() error { return nil }
