package videos

import "errors"

var (
	// ErrProviderUnavailable indicates the metadata provider is not configured.
	ErrProviderUnavailable = errors.New("video metadata provider unavailable")
	// ErrResolution indicates no provider could resolve the URL.
	ErrResolution = errors.New("video could not be resolved")
	// ErrNoShareURL indicates pasted share text contained no link.
	ErrNoShareURL = errors.New("no link found in share text")
)
