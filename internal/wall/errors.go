package wall

import "errors"

var (
	// ErrInvalidInput indicates a command argument was rejected before any state changed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnsupportedImage indicates an uploaded hero image is not a browser image type.
	ErrUnsupportedImage = errors.New("unsupported image type")
)
