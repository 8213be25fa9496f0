package handlers

import (
	"context"

	"github.com/posterwall/backend/internal/models"
	"github.com/posterwall/backend/internal/videos"
)

// VideoMetadataProvider resolves video details for shared URLs.
type VideoMetadataProvider interface {
	Lookup(ctx context.Context, url string) (videos.Metadata, error)
}

// MetadataStore is the ordered list served at /data/metadata.json and
// overwritten by /api/save_data.
type MetadataStore interface {
	Fetch(ctx context.Context) ([]models.CoverRecord, error)
	Save(ctx context.Context, records []models.CoverRecord) error
}
