package cache

import "errors"

// Sentinel errors returned by the cache.
var (
	ErrNotWatched = errors.New("scope not watched")
	ErrClosed     = errors.New("cache closed")
	ErrNotQueued  = errors.New("recompute not queued")
	ErrTooMany    = errors.New("too many watched scopes")
)
