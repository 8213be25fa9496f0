package models

import "encoding/json"

const defaultAvatar = "data:image/svg+xml,%3Csvg xmlns='http://www.w3.org/2000/svg' viewBox='0 0 100 100'%3E%3Ccircle cx='50' cy='35' r='20' fill='%23667'/%3E%3Ccircle cx='50' cy='90' r='35' fill='%23667'/%3E%3C/svg%3E"

// Layout defaults and limits.
const (
	DefaultColumns = 5
	DefaultGap     = 16
	DefaultRadius  = 12
	MaxColumns     = 12
)

// Hero holds the banner shown above the wall.
type Hero struct {
	Title      string `json:"title"`
	Subtitle   string `json:"subtitle"`
	Avatar     string `json:"avatar"`
	Background string `json:"background"`
}

// Settings are the layout and banner preferences. They are persisted apart from
// the cover list and never modify it.
type Settings struct {
	Columns    int  `json:"columns"`
	Gap        int  `json:"gap"`
	Radius     int  `json:"radius"`
	ShowTitle  bool `json:"showTitle"`
	ShowAuthor bool `json:"showAuthor"`
	Hero       Hero `json:"hero"`
}

// DefaultSettings returns the out-of-the-box preferences.
func DefaultSettings() Settings {
	return Settings{
		Columns:    DefaultColumns,
		Gap:        DefaultGap,
		Radius:     DefaultRadius,
		ShowTitle:  true,
		ShowAuthor: true,
		Hero: Hero{
			Title:    "2026 Watched",
			Subtitle: "DOUYIN WATCHED MEDIA LOG",
			Avatar:   defaultAvatar,
		},
	}
}

// Normalize clamps values into their valid ranges.
func (s Settings) Normalize() Settings {
	if s.Columns < 1 {
		s.Columns = 1
	}
	if s.Columns > MaxColumns {
		s.Columns = MaxColumns
	}
	if s.Gap < 0 {
		s.Gap = 0
	}
	if s.Radius < 0 {
		s.Radius = 0
	}
	if s.Hero.Subtitle == "" {
		s.Hero.Subtitle = DefaultSettings().Hero.Subtitle
	}
	return s
}

// DecodeSettings merges a persisted settings blob over the defaults. Blobs
// written before the column layout carry cardWidth instead of columns.
func DecodeSettings(data []byte) (Settings, error) {
	settings := DefaultSettings()
	if len(data) == 0 {
		return settings, nil
	}

	var legacy struct {
		CardWidth *int `json:"cardWidth"`
		Columns   *int `json:"columns"`
	}
	if err := json.Unmarshal(data, &legacy); err != nil {
		return settings, err
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return DefaultSettings(), err
	}
	if legacy.CardWidth != nil && legacy.Columns == nil {
		settings.Columns = DefaultColumns
	}
	return settings.Normalize(), nil
}
