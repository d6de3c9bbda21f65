package coalesce

// Option applies a configuration option to the in-memory coalescer.
type Option func(*inMemoryCoalescer)

// WithOnCoalesce registers fn to be called every time a request is merged
// into outstanding work. fn runs outside the coalescer's lock.
func WithOnCoalesce(fn func(key string)) Option {
	return func(c *inMemoryCoalescer) {
		c.onMerge = fn
	}
}
