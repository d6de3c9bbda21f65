package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrBadRequest  = errors.New("bad request")
	ErrNoSnapshot  = errors.New("no snapshot yet")
	ErrUnavailable = errors.New("service unavailable")
)
