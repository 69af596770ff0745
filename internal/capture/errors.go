package capture

import "errors"

// Rejections. None of them leave a side effect behind.
var (
	ErrDemoMode       = errors.New("capture disabled in demo mode")
	ErrUnknownRoute   = errors.New("unknown capture route")
	ErrMissingKey     = errors.New("missing sdk key")
	ErrInvalidKey     = errors.New("invalid sdk key")
	ErrMissingSDK     = errors.New("missing sdk name")
	ErrInvalidSDK     = errors.New("invalid sdk name")
	ErrInvalidPayload = errors.New("payload is not valid json")
	ErrUnknownKey     = errors.New("no project for sdk key")
)
