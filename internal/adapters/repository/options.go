package repository

import (
	"time"

	"github.com/okian/classboard/pkg/logger"
)

// MemoryOption applies a configuration option to the MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryLogger sets the logger used by the memory store.
func WithMemoryLogger(l logger.Logger) MemoryOption {
	return func(s *MemoryStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the time source stamped on change notifications.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// MongoOption applies a configuration option to the MongoStore.
type MongoOption func(*MongoStore)

// WithQueryTimeout bounds every Find issued by the mongo store.
func WithQueryTimeout(d time.Duration) MongoOption {
	return func(s *MongoStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMongoLogger sets the logger used by the mongo store.
func WithMongoLogger(l logger.Logger) MongoOption {
	return func(s *MongoStore) {
		if l != nil {
			s.logger = l
		}
	}
}
