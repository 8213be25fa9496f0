package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFFmpegGrabberDuration(t *testing.T) {
	g := NewFFmpegGrabber("", "/usr/bin/ffprobe")
	g.Run = func(ctx context.Context, binary string, args ...string) ([]byte, error) {
		assert.Equal(t, "/usr/bin/ffprobe", binary)
		assert.Equal(t, []string{"-v", "error", "-show_entries", "format=duration", "-of", "csv=p=0", "http://x/proxy_video?url=a"}, args)
		return []byte("12.480000\n"), nil
	}
	d, err := g.Duration(context.Background(), "http://x/proxy_video?url=a")
	require.NoError(t, err)
	assert.InDelta(t, 12.48, d, 1e-9)

	g.Run = func(context.Context, string, ...string) ([]byte, error) { return []byte("N/A\n"), nil }
	_, err = g.Duration(context.Background(), "src")
	require.Error(t, err)
}

func TestFFmpegGrabberFrame(t *testing.T) {
	var encoded bytes.Buffer
	require.NoError(t, png.Encode(&encoded, image.NewRGBA(image.Rect(0, 0, 16, 9))))

	g := NewFFmpegGrabber("ffmpeg", "")
	assert.Equal(t, "ffprobe", g.FFprobe)
	g.Run = func(ctx context.Context, binary string, args ...string) ([]byte, error) {
		assert.Equal(t, "ffmpeg", binary)
		assert.Contains(t, args, "2.500")
		assert.Equal(t, "-", args[len(args)-1])
		return encoded.Bytes(), nil
	}
	img, err := g.Frame(context.Background(), "src", 2.5)
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())

	g.Run = func(context.Context, string, ...string) ([]byte, error) { return nil, errors.New("exit status 1") }
	_, err = g.Frame(context.Background(), "src", 0)
	require.Error(t, err)
}
