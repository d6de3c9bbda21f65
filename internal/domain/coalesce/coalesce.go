// Package coalesce tracks queued and running work per key so that at most
// one job per key is outstanding at any time.
package coalesce

import (
	"context"
	"sync"
	"sync/atomic"
)

// Coalescer records which keys have a job queued or running.
type Coalescer interface {
	// Request asks for a run of key. It returns true when the caller must
	// enqueue a job. It returns false when a job is already queued, or when
	// one is running, in which case a single follow-up run is remembered.
	Request(ctx context.Context, key string) bool

	// Unrecord forgets a queued request whose job could not be enqueued,
	// allowing it to be requested again.
	Unrecord(ctx context.Context, key string)

	// Start moves key from queued to running and returns the ticket of the
	// run. It returns false when key has no queued job, meaning the job
	// should be skipped.
	Start(key string) (Ticket, bool)

	// Finish ends the run of key holding t. It returns true when a
	// follow-up run was requested meanwhile; the key is then queued again
	// and the caller must enqueue it. A ticket from before a Drop, or from
	// an earlier run, is ignored.
	Finish(key string, t Ticket) bool

	// Drop forgets key entirely.
	Drop(key string)

	Size() int64
}

// Ticket identifies one run of a key.
type Ticket uint64

type phase uint8

const (
	queued phase = iota + 1
	running
	rerun
)

type slot struct {
	phase  phase
	ticket Ticket
}

// inMemoryCoalescer implements Coalescer with a mutex-guarded map. Keys
// without work are absent from the map.
type inMemoryCoalescer struct {
	mu      sync.Mutex
	slots   map[string]*slot
	tickets Ticket
	size    atomic.Int64
	onMerge func(key string)
}

// NewInMemoryCoalescer creates a coalescer with configuration options.
func NewInMemoryCoalescer(opts ...Option) Coalescer {
	c := &inMemoryCoalescer{slots: make(map[string]*slot)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *inMemoryCoalescer) Request(ctx context.Context, key string) bool {
	c.mu.Lock()
	sl, ok := c.slots[key]
	switch {
	case !ok:
		c.slots[key] = &slot{phase: queued}
		c.size.Add(1)
		c.mu.Unlock()
		return true
	case sl.phase == running:
		sl.phase = rerun
	}
	c.mu.Unlock()

	if c.onMerge != nil {
		c.onMerge(key)
	}
	return false
}

func (c *inMemoryCoalescer) Unrecord(ctx context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sl, ok := c.slots[key]; ok && sl.phase == queued {
		delete(c.slots, key)
		c.size.Add(-1)
	}
}

func (c *inMemoryCoalescer) Start(key string) (Ticket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sl, ok := c.slots[key]
	if !ok || sl.phase != queued {
		return 0, false
	}
	c.tickets++
	sl.phase = running
	sl.ticket = c.tickets
	return sl.ticket, true
}

func (c *inMemoryCoalescer) Finish(key string, t Ticket) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sl, ok := c.slots[key]
	if !ok || sl.ticket != t {
		return false
	}
	switch sl.phase {
	case rerun:
		sl.phase = queued
		return true
	case running:
		delete(c.slots, key)
		c.size.Add(-1)
	}
	return false
}

func (c *inMemoryCoalescer) Drop(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.slots[key]; ok {
		delete(c.slots, key)
		c.size.Add(-1)
	}
}

// Size returns the number of keys with a queued or running job.
func (c *inMemoryCoalescer) Size() int64 {
	return c.size.Load()
}
