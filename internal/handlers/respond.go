package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/posterwall/backend/internal/capture"
	"github.com/posterwall/backend/internal/covers"
	"github.com/posterwall/backend/internal/logging"
	"github.com/posterwall/backend/internal/repositories"
	"github.com/posterwall/backend/internal/videos"
	"github.com/posterwall/backend/internal/wall"
)

const maxBodyBytes = 16 << 20

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error().Err(err).Int("status", status).Msg("encode response body")
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error().Int("status", status).Interface("response", payload).Msg("request failed")
	case status >= http.StatusBadRequest:
		logger.Warn().Int("status", status).Interface("response", payload).Msg("request returned client error")
	}
}

// respondError maps an operation error to a status and a notification body.
func respondError(ctx context.Context, w http.ResponseWriter, err error) {
	status, kind := classify(err)
	respondJSON(ctx, w, status, errorResponse{Error: err.Error(), Kind: kind})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, covers.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, covers.ErrDuplicateID), errors.Is(err, repositories.ErrDuplicateCover):
		return http.StatusConflict, "duplicate_id"
	case errors.Is(err, covers.ErrImport):
		return http.StatusBadRequest, "import"
	case errors.Is(err, covers.ErrPersistenceQuota):
		return http.StatusInsufficientStorage, "quota"
	case errors.Is(err, covers.ErrLoad), errors.Is(err, repositories.ErrSchemaMissing):
		return http.StatusServiceUnavailable, "load"
	case errors.Is(err, wall.ErrUnsupportedImage):
		return http.StatusUnsupportedMediaType, "unsupported_image"
	case errors.Is(err, wall.ErrInvalidInput), errors.Is(err, videos.ErrNoShareURL):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, videos.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, "resolver_unavailable"
	case errors.Is(err, videos.ErrResolution):
		return http.StatusBadGateway, "resolution"
	case errors.Is(err, capture.ErrNoPlayableSource):
		return http.StatusUnprocessableEntity, "no_playable_source"
	case errors.Is(err, capture.ErrCapture):
		return http.StatusBadGateway, "capture"
	case errors.Is(err, capture.ErrNoFrame):
		return http.StatusConflict, "no_frame"
	case errors.Is(err, capture.ErrNoSession):
		return http.StatusConflict, "no_session"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", wall.ErrInvalidInput, err)
	}
	return nil
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read request body: %v", wall.ErrInvalidInput, err)
	}
	return data, nil
}
