package handlers

import (
	"net/http"
	"strings"

	"github.com/posterwall/backend/internal/logging"
	"github.com/posterwall/backend/internal/videos"
)

// VideoHandler resolves share links into playable video metadata.
type VideoHandler struct {
	Metadata VideoMetadataProvider
}

// Resolve handles GET /api/resolve_video?url=.
func (h VideoHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Metadata == nil {
		logger.Error().Msg("video metadata provider unavailable")
		respondError(ctx, w, videos.ErrProviderUnavailable)
		return
	}

	shareURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if shareURL == "" {
		respondJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "missing url parameter", Kind: "invalid_input"})
		return
	}
	if !strings.HasPrefix(shareURL, "http://") && !strings.HasPrefix(shareURL, "https://") {
		extracted, err := videos.ExtractShareURL(shareURL)
		if err != nil {
			respondError(ctx, w, err)
			return
		}
		shareURL = extracted
	}

	meta, err := h.Metadata.Lookup(ctx, shareURL)
	if err != nil {
		logger.Warn().Err(err).Str("url", shareURL).Msg("video resolution failed")
		respondError(ctx, w, err)
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	respondJSON(ctx, w, http.StatusOK, meta)
}
