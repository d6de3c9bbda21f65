package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrUnavailable       = errors.New("store unavailable")
	ErrClosed            = errors.New("store closed")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrFixture           = errors.New("invalid fixture")
)
