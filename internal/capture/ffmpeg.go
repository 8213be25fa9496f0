package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"strconv"
	"strings"

	"github.com/posterwall/backend/internal/videos"
)

// FFmpegGrabber shells out to ffprobe and ffmpeg.
type FFmpegGrabber struct {
	FFmpeg  string
	FFprobe string
	Run     videos.CommandRunner
}

// NewFFmpegGrabber returns a grabber using the given binaries.
func NewFFmpegGrabber(ffmpeg, ffprobe string) *FFmpegGrabber {
	if strings.TrimSpace(ffmpeg) == "" {
		ffmpeg = "ffmpeg"
	}
	if strings.TrimSpace(ffprobe) == "" {
		ffprobe = "ffprobe"
	}
	return &FFmpegGrabber{FFmpeg: ffmpeg, FFprobe: ffprobe, Run: runCommand}
}

// Duration returns the container duration in seconds.
func (g *FFmpegGrabber) Duration(ctx context.Context, src string) (float64, error) {
	out, err := g.run(ctx, g.FFprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		src,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	raw := strings.TrimSpace(string(out))
	if raw == "" || raw == "N/A" {
		return 0, errors.New("ffprobe: duration unavailable")
	}
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", raw, err)
	}
	return d, nil
}

// Frame decodes the frame at the given second at native resolution.
func (g *FFmpegGrabber) Frame(ctx context.Context, src string, at float64) (image.Image, error) {
	out, err := g.run(ctx, g.FFmpeg,
		"-hide_banner",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(at, 'f', 3, 64),
		"-i", src,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("ffmpeg produced no frame")
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

func (g *FFmpegGrabber) run(ctx context.Context, binary string, args ...string) ([]byte, error) {
	run := g.Run
	if run == nil {
		run = runCommand
	}
	return run(ctx, binary, args...)
}

func runCommand(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) // #nosec G204
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}
