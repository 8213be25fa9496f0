package videos

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/posterwall/backend/internal/models"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/unicode/norm"
)

// MobileUserAgent gets the lightweight mobile share page.
const MobileUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1"

var (
	videoIDPattern  = regexp.MustCompile(`/video/(\d+)`)
	titlePattern    = regexp.MustCompile(`(?s)<title>(.*?)</title>`)
	titleSuffix     = regexp.MustCompile(`\s-\s抖音.*$`)
	srcPattern      = regexp.MustCompile(`"src":"(https?://[^"]+?)"`)
	playAddrPattern = regexp.MustCompile(`"playAddr":\[\{"src":"(https?://[^"]+?)"`)
	coverPattern    = regexp.MustCompile(`"cover":"(https?://[^"]+?)"`)
)

const maxSharePageBytes = 8 << 20

// SharePageProvider resolves short-video share links by fetching the mobile
// share page, following redirects, and scraping the embedded render data.
type SharePageProvider struct {
	Client *http.Client
	Now    func() time.Time
}

// NewSharePageProvider returns a provider using client, or http.DefaultClient.
func NewSharePageProvider(client *http.Client) *SharePageProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &SharePageProvider{Client: client, Now: time.Now}
}

// Lookup fetches and scrapes the share page.
func (p *SharePageProvider) Lookup(ctx context.Context, shareURL string) (Metadata, error) {
	if p == nil || p.Client == nil {
		return Metadata{}, ErrProviderUnavailable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, shareURL, nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("build share page request: %w", err)
	}
	req.Header.Set("User-Agent", MobileUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := p.Client.Do(req)
	if err != nil {
		return Metadata{}, fmt.Errorf("fetch share page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Metadata{}, fmt.Errorf("fetch share page: unexpected status %d", resp.StatusCode)
	}

	body, err := decodeBody(resp)
	if err != nil {
		return Metadata{}, err
	}

	finalURL := resp.Request.URL.String()
	return p.parse(finalURL, body), nil
}

func (p *SharePageProvider) parse(finalURL, html string) Metadata {
	meta := Metadata{
		Title:    models.DefaultTitle,
		Author:   models.DefaultAuthor,
		VideoURL: finalURL,
	}

	if m := videoIDPattern.FindStringSubmatch(finalURL); m != nil {
		meta.ID = m[1]
	} else {
		now := time.Now
		if p.Now != nil {
			now = p.Now
		}
		meta.ID = fmt.Sprintf("import_%d", now().Unix())
	}

	if m := titlePattern.FindStringSubmatch(html); m != nil {
		if title := strings.TrimSpace(titleSuffix.ReplaceAllString(m[1], "")); title != "" {
			meta.Title = norm.NFC.String(title)
		}
	}

	for _, m := range srcPattern.FindAllStringSubmatch(html, -1) {
		src := unescapeJSONAmp(m[1])
		if (strings.Contains(src, "/video/") || strings.Contains(src, "aweme")) &&
			!strings.Contains(src, ".mp3") && !strings.Contains(src, "avatar") {
			meta.RealVideoURL = src
			break
		}
	}
	if meta.RealVideoURL == "" {
		if m := playAddrPattern.FindStringSubmatch(html); m != nil {
			meta.RealVideoURL = unescapeJSONAmp(m[1])
		}
	}

	if m := coverPattern.FindStringSubmatch(html); m != nil {
		meta.CoverURL = unescapeJSONAmp(m[1])
	}
	return meta
}

// decodeBody reads the page in the charset its Content-Type declares,
// defaulting to UTF-8.
func decodeBody(resp *http.Response) (string, error) {
	var r io.Reader = io.LimitReader(resp.Body, maxSharePageBytes)
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
		if cs := params["charset"]; cs != "" && !strings.EqualFold(cs, "utf-8") {
			if enc, err := htmlindex.Get(cs); err == nil {
				r = enc.NewDecoder().Reader(r)
			}
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read share page: %w", err)
	}
	return strings.ToValidUTF8(string(data), ""), nil
}

func unescapeJSONAmp(s string) string {
	return strings.ReplaceAll(s, `\u0026`, "&")
}
