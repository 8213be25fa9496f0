package wall

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/posterwall/backend/internal/kv"
	"github.com/posterwall/backend/internal/logging"
	"github.com/posterwall/backend/internal/models"
)

// Hero image slots.
const (
	HeroAvatar     = "avatar"
	HeroBackground = "background"
)

// MaxHeroImageBytes bounds uploaded banner images before base64 encoding.
const MaxHeroImageBytes = 2 << 20

func (a *App) loadSettings(ctx context.Context) error {
	if a.cache == nil {
		return nil
	}
	data, err := a.cache.Get(ctx, kv.SettingsKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	settings, err := models.DecodeSettings(data)
	if err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	a.mu.Lock()
	a.settings = settings
	a.mu.Unlock()
	a.layout.Configure(settings.Columns, settings.Gap)
	return nil
}

// Settings returns the layout and banner preferences.
func (a *App) Settings() models.Settings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.settings
}

// ApplySettings normalizes, persists and applies settings, then relays out.
// The cover list is not touched.
func (a *App) ApplySettings(ctx context.Context, s models.Settings) (models.Settings, error) {
	s = s.Normalize()
	if err := a.saveSettings(ctx, s); err != nil {
		return models.Settings{}, err
	}
	a.layout.Configure(s.Columns, s.Gap)
	a.layout.Relayout()
	return s, nil
}

// ResetSettings restores the defaults.
func (a *App) ResetSettings(ctx context.Context) (models.Settings, error) {
	return a.ApplySettings(ctx, models.DefaultSettings())
}

// SetHeroImage stores an uploaded banner image as a data URL.
func (a *App) SetHeroImage(ctx context.Context, slot string, data []byte) (models.Settings, error) {
	if slot != HeroAvatar && slot != HeroBackground {
		return models.Settings{}, fmt.Errorf("%w: unknown hero slot %q", ErrInvalidInput, slot)
	}
	if len(data) == 0 {
		return models.Settings{}, fmt.Errorf("%w: empty image", ErrInvalidInput)
	}
	if len(data) > MaxHeroImageBytes {
		return models.Settings{}, fmt.Errorf("%w: image larger than %d bytes", ErrInvalidInput, MaxHeroImageBytes)
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return models.Settings{}, fmt.Errorf("%w: %s", ErrUnsupportedImage, contentType)
	}
	dataURL := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)

	s := a.Settings()
	if slot == HeroAvatar {
		s.Hero.Avatar = dataURL
	} else {
		s.Hero.Background = dataURL
	}
	if err := a.saveSettings(ctx, s); err != nil {
		return models.Settings{}, err
	}
	return s, nil
}

func (a *App) saveSettings(ctx context.Context, s models.Settings) error {
	if a.cache != nil {
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("encode settings: %w", err)
		}
		if err := a.cache.Put(ctx, kv.SettingsKey, data); err != nil {
			logging.WithComponent(ctx, "wall").Error().Err(err).Int("bytes", len(data)).Msg("persist settings")
			return fmt.Errorf("persist settings: %w", err)
		}
	}
	a.mu.Lock()
	a.settings = s
	a.mu.Unlock()
	return nil
}
