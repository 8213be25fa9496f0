package capture

import "github.com/posterwall/backend/internal/models"

// State is a capture session's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateReady
	StateScrubbing
	StateCaptured
	StateCommitted
	StateDiscarded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateReady:
		return "ready"
	case StateScrubbing:
		return "scrubbing"
	case StateCaptured:
		return "captured"
	case StateCommitted:
		return "committed"
	case StateDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the session has ended.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateDiscarded
}

// Frame is a captured still, JPEG encoded at the video's native size.
type Frame struct {
	JPEG    []byte  `json:"-"`
	DataURL string  `json:"data_url"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	At      float64 `json:"at"`
}

// Session is one open frame selector.
type Session struct {
	ID          string          `json:"id"`
	RecordID    models.RecordID `json:"record_id"`
	SourceURL   string          `json:"source_url"`
	PlaybackURL string          `json:"playback_url"`
	Duration    float64         `json:"duration"`
	Position    float64         `json:"position"`
	State       State           `json:"state"`
	Frame       *Frame          `json:"frame,omitempty"`

	reprobed bool
}

func (s *Session) clone() Session {
	c := *s
	if s.Frame != nil {
		f := *s.Frame
		c.Frame = &f
	}
	return c
}
