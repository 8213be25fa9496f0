package feed

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/posterwall/backend/internal/logging"
	"github.com/posterwall/backend/internal/metrics"
	"github.com/posterwall/backend/internal/models"
)

// Size is an image's natural size in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PlaceholderSize is reported for images that fail to settle.
var PlaceholderSize = Size{Width: models.PlaceholderWidth, Height: models.PlaceholderHeight}

// ImageWaiter blocks until every image has settled, successfully or not, and
// reports their sizes in order.
type ImageWaiter interface {
	Wait(ctx context.Context, sources []string) []Size
}

// ImageProber settles images by decoding just enough of each to learn its size.
type ImageProber struct {
	Client    *http.Client
	Timeout   time.Duration
	Workers   int
	LocalRoot string
	// LocalPrefix is stripped from site-relative paths before they are
	// resolved under LocalRoot.
	LocalPrefix string
}

const maxProbeBytes = 4 << 20

var svgDims = regexp.MustCompile(`(?i)<svg[^>]*\swidth=["']?(\d+)[^>]*\sheight=["']?(\d+)`)

// NewImageProber returns a prober reading site-relative paths from localRoot.
func NewImageProber(client *http.Client, timeout time.Duration, localRoot string) *ImageProber {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &ImageProber{Client: client, Timeout: timeout, Workers: 8, LocalRoot: localRoot}
}

// Wait probes every source concurrently. It never fails: an image that errors
// or times out settles with the placeholder size.
func (p *ImageProber) Wait(ctx context.Context, sources []string) []Size {
	sizes := make([]Size, len(sources))
	logger := logging.FromContext(ctx)

	var g errgroup.Group
	if p.Workers > 0 {
		g.SetLimit(p.Workers)
	}
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			size, err := p.Probe(ctx, src)
			metrics.IncImageProbe(err == nil)
			if err != nil {
				logger.Debug().Err(err).Str("src", truncate(src, 96)).Msg("image settled with error")
				size = PlaceholderSize
			}
			sizes[i] = size
			return nil
		})
	}
	_ = g.Wait()
	return sizes
}

// Probe returns the natural size of one image.
func (p *ImageProber) Probe(ctx context.Context, src string) (Size, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	switch {
	case strings.HasPrefix(src, "data:"):
		return probeDataURL(src)
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return p.probeRemote(ctx, src)
	case strings.HasPrefix(src, "/"):
		return p.probeLocal(src)
	default:
		return Size{}, fmt.Errorf("unsupported image source %q", truncate(src, 32))
	}
}

func (p *ImageProber) probeRemote(ctx context.Context, src string) (Size, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return Size{}, err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return Size{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Size{}, fmt.Errorf("image status %d", resp.StatusCode)
	}
	return decodeSize(io.LimitReader(resp.Body, maxProbeBytes))
}

func (p *ImageProber) probeLocal(src string) (Size, error) {
	if p.LocalRoot == "" {
		return Size{}, errors.New("local images not configured")
	}
	u, err := url.Parse(src)
	if err != nil {
		return Size{}, err
	}
	clean := path.Clean("/" + u.Path)
	if p.LocalPrefix != "" {
		clean = path.Clean("/" + strings.TrimPrefix(clean, p.LocalPrefix))
	}
	f, err := os.Open(filepath.Join(p.LocalRoot, filepath.FromSlash(clean)))
	if err != nil {
		return Size{}, err
	}
	defer f.Close()
	return decodeSize(f)
}

func probeDataURL(src string) (Size, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(src, "data:"), ",")
	if !ok {
		return Size{}, errors.New("malformed data URL")
	}

	var data []byte
	if strings.HasSuffix(meta, ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return Size{}, fmt.Errorf("decode data URL: %w", err)
		}
		data = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			unescaped = payload
		}
		data = []byte(unescaped)
	}

	if strings.HasPrefix(meta, "image/svg+xml") {
		m := svgDims.FindSubmatch(data)
		if m == nil {
			return PlaceholderSize, nil
		}
		w, _ := strconv.Atoi(string(m[1]))
		h, _ := strconv.Atoi(string(m[2]))
		return Size{Width: w, Height: h}, nil
	}
	return decodeSize(bytes.NewReader(data))
}

func decodeSize(r io.Reader) (Size, error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return Size{}, fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Size{}, errors.New("image has no size")
	}
	return Size{Width: cfg.Width, Height: cfg.Height}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
