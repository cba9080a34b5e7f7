package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/conneroisu/framecast/internal/errors"
	"github.com/conneroisu/framecast/internal/plan"
)

// VideoPreferences lists video encoders per container, best first.
var VideoPreferences = map[plan.Format][]string{
	plan.FormatMP4:  {"libx264", "libopenh264", "h264_videotoolbox", "mpeg4"},
	plan.FormatWebM: {"libvpx-vp9", "libvpx", "libaom-av1"},
}

// AudioPreferences lists audio encoders per container, best first.
var AudioPreferences = map[plan.Format][]string{
	plan.FormatMP4:  {"aac", "libfdk_aac"},
	plan.FormatWebM: {"libopus", "libvorbis"},
}

// alphaCodecs can carry an alpha plane in yuva420p.
var alphaCodecs = map[string]bool{
	"libvpx-vp9": true,
	"libvpx":     true,
}

// FindExecutable resolves the ffmpeg binary.
func FindExecutable(configured string) (string, error) {
	name := configured
	if name == "" {
		name = "ffmpeg"
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", errors.NewEnvironmentError(errors.ErrCodeMissingBackend,
			fmt.Sprintf("ffmpeg executable %q not found; install ffmpeg or set encoder.ffmpeg_path", name), err)
	}
	return path, nil
}

var (
	probeMu    sync.Mutex
	probeCache = map[string]map[string]bool{}
)

// ProbeEncoders returns the encoder names ffmpeg at path reports. Results are
// cached per path for the life of the process.
func ProbeEncoders(ctx context.Context, path string) (map[string]bool, error) {
	probeMu.Lock()
	defer probeMu.Unlock()

	if cached, ok := probeCache[path]; ok {
		return cached, nil
	}

	cmd := exec.CommandContext(ctx, path, "-hide_banner", "-encoders")
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg encoder probe timed out: %w", ctx.Err())
		}
		return nil, errors.NewEnvironmentError(errors.ErrCodeMissingBackend, "failed to list ffmpeg encoders", err)
	}

	available := parseEncoders(string(output))
	probeCache[path] = available
	return available, nil
}

// parseEncoders reads the table printed by `ffmpeg -encoders`. Rows follow a
// dashed separator line and start with a flags column and the encoder name.
func parseEncoders(output string) map[string]bool {
	available := make(map[string]bool)
	inTable := false

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "---") {
			inTable = true
			continue
		}
		if !inTable {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[1] == "=" {
			continue
		}
		available[fields[1]] = true
	}
	return available
}

// NegotiateCodec picks the video encoder for format. An explicit codec wins
// when ffmpeg has it; otherwise the first available preference is used.
func NegotiateCodec(format plan.Format, explicit string, alpha bool, prefs map[plan.Format][]string, available map[string]bool) (string, error) {
	candidates := prefs[format]
	if len(candidates) == 0 {
		candidates = VideoPreferences[format]
	}
	if explicit != "" {
		candidates = append([]string{explicit}, candidates...)
	}

	for _, codec := range candidates {
		if !available[codec] {
			continue
		}
		if alpha && !alphaCodecs[codec] {
			continue
		}
		return codec, nil
	}

	msg := fmt.Sprintf("no %s video encoder available; tried %s", format, strings.Join(candidates, ", "))
	if alpha {
		msg = fmt.Sprintf("no %s video encoder with alpha support available; tried %s", format, strings.Join(candidates, ", "))
	}
	return "", errors.NewEnvironmentError(errors.ErrCodeUnsupportedCodec, msg, nil).
		WithContext("format", string(format))
}

// NegotiateAudioCodec picks the audio encoder for format.
func NegotiateAudioCodec(format plan.Format, explicit string, available map[string]bool) (string, error) {
	candidates := AudioPreferences[format]
	if explicit != "" {
		candidates = append([]string{explicit}, candidates...)
	}
	for _, codec := range candidates {
		if available[codec] {
			return codec, nil
		}
	}
	return "", errors.NewEnvironmentError(errors.ErrCodeUnsupportedCodec,
		fmt.Sprintf("no %s audio encoder available; tried %s", format, strings.Join(candidates, ", ")), nil).
		WithContext("format", string(format))
}
