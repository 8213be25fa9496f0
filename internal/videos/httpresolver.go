package videos

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// HTTPResolver asks another poster wall server's /api/resolve_video endpoint.
type HTTPResolver struct {
	Endpoint string
	Client   *http.Client
}

// NewHTTPResolver returns a resolver for endpoint, e.g.
// "http://127.0.0.1:5000/api/resolve_video".
func NewHTTPResolver(endpoint string, client *http.Client) *HTTPResolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPResolver{Endpoint: endpoint, Client: client}
}

// Lookup performs GET endpoint?url=<shareURL>.
func (r *HTTPResolver) Lookup(ctx context.Context, shareURL string) (Metadata, error) {
	if r == nil || r.Endpoint == "" {
		return Metadata{}, ErrProviderUnavailable
	}

	target, err := url.Parse(r.Endpoint)
	if err != nil {
		return Metadata{}, fmt.Errorf("parse resolver endpoint: %w", err)
	}
	q := target.Query()
	q.Set("url", shareURL)
	target.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("build resolve request: %w", err)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return Metadata{}, fmt.Errorf("resolve request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Metadata{}, fmt.Errorf("read resolve response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			return Metadata{}, fmt.Errorf("resolver returned %d: %s", resp.StatusCode, payload.Error)
		}
		return Metadata{}, fmt.Errorf("resolver returned %d", resp.StatusCode)
	}

	var meta Metadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return Metadata{}, fmt.Errorf("decode resolve response: %w", err)
	}
	return meta, nil
}
