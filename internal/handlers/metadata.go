package handlers

import (
	"encoding/hex"
	"errors"
	"io/fs"
	"net/http"

	"golang.org/x/crypto/blake2b"

	"github.com/posterwall/backend/internal/covers"
	"github.com/posterwall/backend/internal/logging"
)

// MetadataHandler serves the remote metadata document the wall falls back to
// and accepts full-list overwrites from clients.
type MetadataHandler struct {
	Store MetadataStore
}

type saveResponse struct {
	Success bool `json:"success"`
}

// Get handles GET /data/metadata.json.
func (h MetadataHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.Store == nil {
		respondError(ctx, w, covers.ErrRemoteUnavailable)
		return
	}

	records, err := h.Store.Fetch(ctx)
	if errors.Is(err, fs.ErrNotExist) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	body, err := covers.MarshalPretty(records)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	sum := blake2b.Sum256(body)
	etag := `"` + hex.EncodeToString(sum[:16]) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Msg("write metadata response")
	}
}

// Save handles POST /api/save_data.
func (h MetadataHandler) Save(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.Store == nil {
		respondError(ctx, w, covers.ErrRemoteUnavailable)
		return
	}

	raw, err := readBody(w, r)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	records, err := covers.DecodeList(raw)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	if err := h.Store.Save(ctx, records); err != nil {
		respondError(ctx, w, err)
		return
	}

	logging.FromContext(ctx).Info().Int("count", len(records)).Msg("metadata saved")
	respondJSON(ctx, w, http.StatusOK, saveResponse{Success: true})
}
