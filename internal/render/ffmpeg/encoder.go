// Package ffmpeg encodes frames by piping raw RGBA pixels into an ffmpeg
// subprocess.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/conneroisu/framecast/internal/errors"
	"github.com/conneroisu/framecast/internal/logging"
	"github.com/conneroisu/framecast/internal/plan"
	"github.com/conneroisu/framecast/internal/render"
)

// Options configures the encoder.
type Options struct {
	// Path overrides the ffmpeg executable.
	Path string
	// Preferences replaces the built-in video codec order per format.
	Preferences map[plan.Format][]string
	Logger      logging.Logger
}

// Encoder is a render.Encoder backed by one ffmpeg process.
type Encoder struct {
	opts   Options
	logger logging.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
	dir    string
	output string
	guard  *render.FrameGuard
	alpha  bool
	buf    []byte
	exited bool
}

var _ render.Encoder = (*Encoder)(nil)

// New creates an encoder. Nothing is started until Init.
func New(opts Options) *Encoder {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Encoder{opts: opts, logger: logger.WithComponent("ffmpeg")}
}

// Init negotiates codecs and starts ffmpeg.
func (e *Encoder) Init(ctx context.Context, p *plan.RenderPlan) error {
	path, err := FindExecutable(e.opts.Path)
	if err != nil {
		return err
	}
	available, err := ProbeEncoders(ctx, path)
	if err != nil {
		return err
	}

	enc := p.Encoding
	videoCodec, err := NegotiateCodec(enc.Format, enc.Video.Codec, enc.Video.Alpha, e.opts.Preferences, available)
	if err != nil {
		return err
	}
	if enc.Video.Codec != "" && videoCodec != enc.Video.Codec {
		e.logger.Warn(ctx, nil, "Requested video codec unavailable, using fallback",
			"requested", enc.Video.Codec, "codec", videoCodec)
	}

	var audioCodec string
	if enc.Audio != nil {
		if _, err := os.Stat(enc.Audio.Source); err != nil {
			return errors.NewIOError(errors.ErrCodeFileNotFound,
				fmt.Sprintf("audio source %q is not readable", enc.Audio.Source), err)
		}
		audioCodec, err = NegotiateAudioCodec(enc.Format, enc.Audio.Codec, available)
		if err != nil {
			return err
		}
	}

	dir, err := os.MkdirTemp("", "framecast-encode-*")
	if err != nil {
		return errors.WrapIO(err, errors.ErrCodeInternalError, "failed to create encoder work directory")
	}
	e.dir = dir
	e.output = filepath.Join(dir, "output."+string(enc.Format))

	args, err := BuildArgs(JobFromPlan(p, videoCodec, audioCodec, e.output))
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stderr = &e.stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.WrapEnvironment(err, errors.ErrCodeAdapterFailed, "failed to open ffmpeg stdin")
	}
	if err := cmd.Start(); err != nil {
		return errors.WrapEnvironment(err, errors.ErrCodeAdapterFailed, "failed to start ffmpeg")
	}

	e.cmd = cmd
	e.stdin = stdin
	e.guard = render.NewFrameGuard(p.Width, p.Height)
	e.alpha = enc.Video.Alpha

	e.logger.Debug(ctx, "ffmpeg started", "codec", videoCodec, "audio_codec", audioCodec, "output", e.output)
	return nil
}

// AddFrame validates the frame and writes its pixels to ffmpeg.
func (e *Encoder) AddFrame(ctx context.Context, frame *image.RGBA, timestampSeconds float64) error {
	if e.stdin == nil {
		return errors.NewInternalError(errors.ErrCodeInternalError, "ffmpeg encoder used before Init", nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.guard.Check(frame, timestampSeconds); err != nil {
		return err
	}

	pixels := packPixels(frame, e.alpha, e.buf)
	e.buf = pixels
	if _, err := e.stdin.Write(pixels); err != nil {
		return errors.WrapEnvironment(err, errors.ErrCodeAdapterFailed,
			"ffmpeg stopped accepting frames: "+e.stderrTail())
	}
	return nil
}

// Finalize closes the frame stream, waits for ffmpeg and returns the output
// file contents.
func (e *Encoder) Finalize(ctx context.Context) ([]byte, error) {
	if e.cmd == nil {
		return nil, errors.NewInternalError(errors.ErrCodeInternalError, "ffmpeg encoder used before Init", nil)
	}
	if e.guard.Count() == 0 {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidPlan, "no frames were encoded")
	}

	if err := e.stdin.Close(); err != nil {
		return nil, errors.WrapEnvironment(err, errors.ErrCodeAdapterFailed, "failed to close ffmpeg stdin")
	}
	e.stdin = nil

	err := e.cmd.Wait()
	e.exited = true
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg interrupted: %w", ctx.Err())
		}
		return nil, errors.WrapEnvironment(err, errors.ErrCodeAdapterFailed, "ffmpeg failed: "+e.stderrTail())
	}

	out, err := os.ReadFile(e.output)
	if err != nil {
		return nil, errors.WrapIO(err, errors.ErrCodeFileNotFound, "failed to read encoded output")
	}
	e.logger.Debug(ctx, "ffmpeg finished", "frames", e.guard.Count(), "bytes", len(out))
	return out, nil
}

// Dispose stops ffmpeg if it is still running and removes the work
// directory.
func (e *Encoder) Dispose() error {
	if e.stdin != nil {
		_ = e.stdin.Close()
		e.stdin = nil
	}
	if e.cmd != nil && !e.exited {
		if e.cmd.Process != nil {
			_ = e.cmd.Process.Kill()
		}
		_ = e.cmd.Wait()
		e.exited = true
	}
	if e.dir != "" {
		if err := os.RemoveAll(e.dir); err != nil {
			return errors.WrapIO(err, errors.ErrCodeInternalError, "failed to remove encoder work directory")
		}
		e.dir = ""
	}
	return nil
}

func (e *Encoder) stderrTail() string {
	const limit = 2048
	s := strings.TrimSpace(e.stderr.String())
	if s == "" {
		return "no diagnostic output"
	}
	if len(s) > limit {
		s = "..." + s[len(s)-limit:]
	}
	return s
}

// packPixels returns the frame as tightly packed RGBA rows. Alpha output is
// converted from premultiplied to straight alpha, which is what ffmpeg's
// rgba input expects.
func packPixels(frame *image.RGBA, alpha bool, buf []byte) []byte {
	b := frame.Bounds()
	w, h := b.Dx(), b.Dy()
	rowLen := w * 4

	if !alpha && frame.Stride == rowLen && b.Min == (image.Point{}) {
		return frame.Pix[:rowLen*h]
	}

	if cap(buf) < rowLen*h {
		buf = make([]byte, rowLen*h)
	}
	buf = buf[:rowLen*h]
	for y := 0; y < h; y++ {
		src := frame.Pix[frame.PixOffset(b.Min.X, b.Min.Y+y):][:rowLen]
		dst := buf[y*rowLen:][:rowLen]
		copy(dst, src)
		if alpha {
			unpremultiply(dst)
		}
	}
	return buf
}

func unpremultiply(px []byte) {
	for i := 0; i+3 < len(px); i += 4 {
		a := uint32(px[i+3])
		if a == 0 || a == 255 {
			continue
		}
		px[i] = uint8(min(255, (uint32(px[i])*255+a/2)/a))
		px[i+1] = uint8(min(255, (uint32(px[i+1])*255+a/2)/a))
		px[i+2] = uint8(min(255, (uint32(px[i+2])*255+a/2)/a))
	}
}
