package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/posterwall/backend/internal/models"
	"github.com/posterwall/backend/internal/wall"
)

// WallHandler exposes the wall's commands.
type WallHandler struct {
	App *wall.App
}

type scrollRequest struct {
	ScrollY        float64 `json:"scroll_y"`
	ViewportHeight float64 `json:"viewport_height"`
}

type resizeRequest struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type addVideoRequest struct {
	ShareText string `json:"share_text"`
}

type openCaptureRequest struct {
	ID        models.RecordID `json:"id"`
	ManualURL string          `json:"manual_url"`
}

type seekRequest struct {
	Fraction float64 `json:"fraction"`
}

type batchResponse struct {
	Appended int           `json:"appended"`
	State    wall.Snapshot `json:"state"`
}

type importResponse struct {
	Imported int `json:"imported"`
}

// State handles GET /api/wall/state.
func (h WallHandler) State(w http.ResponseWriter, r *http.Request) {
	respondJSON(r.Context(), w, http.StatusOK, h.App.State())
}

// Cards handles GET /api/wall/cards?from=.
func (h WallHandler) Cards(w http.ResponseWriter, r *http.Request) {
	from := 0
	if raw := r.URL.Query().Get("from"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(r.Context(), w, fmt.Errorf("%w: from must be a non-negative integer", wall.ErrInvalidInput))
			return
		}
		from = n
	}
	respondJSON(r.Context(), w, http.StatusOK, h.App.Cards(from))
}

// Records handles GET /api/wall/records.
func (h WallHandler) Records(w http.ResponseWriter, r *http.Request) {
	respondJSON(r.Context(), w, http.StatusOK, h.App.Records())
}

// NextBatch handles POST /api/wall/feed/next.
func (h WallHandler) NextBatch(w http.ResponseWriter, r *http.Request) {
	n, err := h.App.NextBatch(r.Context())
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, batchResponse{Appended: n, State: h.App.State()})
}

// Scroll handles POST /api/wall/feed/scroll.
func (h WallHandler) Scroll(w http.ResponseWriter, r *http.Request) {
	var req scrollRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(r.Context(), w, err)
		return
	}
	n, err := h.App.Scroll(r.Context(), req.ScrollY, req.ViewportHeight)
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, batchResponse{Appended: n, State: h.App.State()})
}

// Resize handles POST /api/wall/feed/resize.
func (h WallHandler) Resize(w http.ResponseWriter, r *http.Request) {
	var req resizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(r.Context(), w, err)
		return
	}
	applied := h.App.Resize(req.Width, req.Height)
	respondJSON(r.Context(), w, http.StatusOK, map[string]any{"applied": applied, "state": h.App.State()})
}

// AddVideo handles POST /api/wall/videos.
func (h WallHandler) AddVideo(w http.ResponseWriter, r *http.Request) {
	var req addVideoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(r.Context(), w, err)
		return
	}
	rec, err := h.App.AddVideo(r.Context(), req.ShareText)
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusCreated, rec)
}

// DeleteCover handles DELETE /api/wall/covers/{id}.
func (h WallHandler) DeleteCover(w http.ResponseWriter, r *http.Request) {
	rec, err := h.App.Delete(r.Context(), models.RecordID(chi.URLParam(r, "id")))
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, rec)
}

// DeleteCoverAt handles DELETE /api/wall/covers/at/{index}.
func (h WallHandler) DeleteCoverAt(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondError(r.Context(), w, fmt.Errorf("%w: index must be an integer", wall.ErrInvalidInput))
		return
	}
	rec, err := h.App.DeleteAt(r.Context(), index)
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, rec)
}

// PatchCover handles PATCH /api/wall/covers/{id}.
func (h WallHandler) PatchCover(w http.ResponseWriter, r *http.Request) {
	var patch models.CoverPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		respondError(r.Context(), w, err)
		return
	}
	rec, err := h.App.Patch(r.Context(), models.RecordID(chi.URLParam(r, "id")), patch)
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, rec)
}

// Export handles GET /api/wall/export.
func (h WallHandler) Export(w http.ResponseWriter, r *http.Request) {
	body, err := h.App.Export()
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+wall.ExportFilename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// Import handles POST /api/wall/import. The body is the exported array,
// either raw or as the "file" field of a multipart form.
func (h WallHandler) Import(w http.ResponseWriter, r *http.Request) {
	raw, err := uploadedBytes(w, r)
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	n, err := h.App.Import(r.Context(), raw)
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, importResponse{Imported: n})
}

// Settings handles GET /api/wall/settings.
func (h WallHandler) Settings(w http.ResponseWriter, r *http.Request) {
	respondJSON(r.Context(), w, http.StatusOK, h.App.Settings())
}

// ApplySettings handles PUT /api/wall/settings.
func (h WallHandler) ApplySettings(w http.ResponseWriter, r *http.Request) {
	settings := h.App.Settings()
	if err := decodeJSON(w, r, &settings); err != nil {
		respondError(r.Context(), w, err)
		return
	}
	applied, err := h.App.ApplySettings(r.Context(), settings)
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, applied)
}

// ResetSettings handles DELETE /api/wall/settings.
func (h WallHandler) ResetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.App.ResetSettings(r.Context())
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, s)
}

// UploadHero handles POST /api/wall/hero/{slot}.
func (h WallHandler) UploadHero(w http.ResponseWriter, r *http.Request) {
	data, err := uploadedBytes(w, r)
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	s, err := h.App.SetHeroImage(r.Context(), chi.URLParam(r, "slot"), data)
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, s)
}

// OpenCapture handles POST /api/wall/capture.
func (h WallHandler) OpenCapture(w http.ResponseWriter, r *http.Request) {
	var req openCaptureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(r.Context(), w, err)
		return
	}
	sess, err := h.App.OpenCapture(r.Context(), req.ID, req.ManualURL)
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, sess)
}

// SeekCapture handles POST /api/wall/capture/seek.
func (h WallHandler) SeekCapture(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(r.Context(), w, err)
		return
	}
	sess, err := h.App.SeekCapture(r.Context(), req.Fraction)
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, sess)
}

// CaptureFrame handles POST /api/wall/capture/frame.
func (h WallHandler) CaptureFrame(w http.ResponseWriter, r *http.Request) {
	sess, err := h.App.CaptureFrame(r.Context())
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, sess)
}

// CommitCapture handles POST /api/wall/capture/commit.
func (h WallHandler) CommitCapture(w http.ResponseWriter, r *http.Request) {
	rec, err := h.App.CommitCapture(r.Context())
	if err != nil {
		respondError(r.Context(), w, err)
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, rec)
}

// DiscardCapture handles DELETE /api/wall/capture.
func (h WallHandler) DiscardCapture(w http.ResponseWriter, r *http.Request) {
	respondJSON(r.Context(), w, http.StatusOK, map[string]bool{"discarded": h.App.DiscardCapture()})
}

func uploadedBytes(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return readBody(w, r)
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: missing file field: %v", wall.ErrInvalidInput, err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("%w: read upload: %v", wall.ErrInvalidInput, err)
	}
	return data, nil
}
