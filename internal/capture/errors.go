package capture

import "errors"

var (
	// ErrNoPlayableSource indicates neither the record, the resolver nor the
	// operator produced a video URL.
	ErrNoPlayableSource = errors.New("no playable video source")
	// ErrCapture indicates the frame could not be grabbed or encoded.
	ErrCapture = errors.New("frame capture failed")
	// ErrNoFrame indicates commit was requested before a frame was captured.
	ErrNoFrame = errors.New("no frame captured")
	// ErrNoSession indicates no capture session is open.
	ErrNoSession = errors.New("no capture session open")
)
