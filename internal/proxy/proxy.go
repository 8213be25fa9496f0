// Package proxy relays remote video bytes to the browser and to ffmpeg,
// adding the Referer and User-Agent the video CDN expects.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/posterwall/backend/internal/logging"
	"github.com/posterwall/backend/internal/metrics"
)

const (
	// DesktopUserAgent is sent upstream in place of the caller's agent.
	DesktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	// Referer is the origin the CDN checks hotlinks against.
	Referer = "https://www.douyin.com/"

	chunkSize      = 64 << 10
	defaultTimeout = 10 * time.Second
)

// Handler streams GET /proxy_video?url=<target>.
type Handler struct {
	client  *http.Client
	timeout time.Duration
}

// New returns a proxy handler. timeout bounds the wait for upstream headers
// and for each subsequent chunk, not the whole transfer.
func New(client *http.Client, timeout time.Duration) *Handler {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Handler{client: client, timeout: timeout}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		http.Error(w, "Missing url parameter", http.StatusBadRequest)
		return
	}
	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		http.Error(w, "url must be an absolute http(s) URL", http.StatusBadRequest)
		return
	}

	logger := logging.FromContext(r.Context())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	watchdog := time.AfterFunc(h.timeout, cancel)
	defer watchdog.Stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Header.Set("User-Agent", DesktopUserAgent)
	req.Header.Set("Referer", Referer)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	rangeHeader := r.Header.Get("Range")
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		metrics.ProxyUpstreamErrors.Inc()
		logger.Warn().Err(err).Str("target", truncate(target, 100)).Msg("proxy upstream error")
		http.Error(w, fmt.Sprintf("Target URL error: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		metrics.ProxyUpstreamErrors.Inc()
		logger.Warn().Int("status", resp.StatusCode).Str("target", truncate(target, 100)).Msg("proxy upstream rejected request")
		http.Error(w, fmt.Sprintf("Target URL error: HTTP %d", resp.StatusCode), http.StatusBadGateway)
		return
	}

	header := w.Header()
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}
	header.Set("Content-Type", contentType)
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		header.Set("Content-Length", cl)
	}
	header.Set("Accept-Ranges", "bytes")
	header.Set("Access-Control-Allow-Origin", "*")

	status := http.StatusOK
	if rangeHeader != "" && resp.StatusCode == http.StatusPartialContent {
		status = http.StatusPartialContent
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			header.Set("Content-Range", cr)
		}
	}
	w.WriteHeader(status)

	n, err := h.stream(w, resp.Body, watchdog)
	metrics.ProxyBytes.Add(float64(n))
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Debug().Err(err).Int64("bytes", n).Msg("proxy stream ended early")
	}
}

// stream copies in fixed chunks, flushing each one and re-arming the
// watchdog so a stalled upstream is cut off.
func (h *Handler) stream(w http.ResponseWriter, body io.Reader, watchdog *time.Timer) (int64, error) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, chunkSize)
	var total int64
	for {
		watchdog.Reset(h.timeout)
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return total, err
			}
			total += int64(n)
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
