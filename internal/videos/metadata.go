package videos

import (
	"context"
	"strings"
)

// Metadata is what a resolver learns about a shared video. The JSON shape is
// the /api/resolve_video response.
type Metadata struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Author       string `json:"author"`
	VideoURL     string `json:"video_url"`
	RealVideoURL string `json:"real_video_url"`
	CoverURL     string `json:"cover_url"`
}

// Resolved reports whether the lookup found anything usable. A result with
// neither an id nor a playable URL counts as a failed resolution.
func (m Metadata) Resolved() bool {
	return strings.TrimSpace(m.ID) != "" || strings.TrimSpace(m.RealVideoURL) != ""
}

// Provider resolves a share or page URL into video metadata.
type Provider interface {
	Lookup(ctx context.Context, url string) (Metadata, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, url string) (Metadata, error)

func (f ProviderFunc) Lookup(ctx context.Context, url string) (Metadata, error) {
	return f(ctx, url)
}
