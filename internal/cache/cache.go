// Package cache owns the current performance snapshot of every watched
// scope and keeps it up to date as the store changes.
//
// Each scope is either Fresh or Stale. A change notification for any query
// the scope depends on marks it Stale, bumps its generation, cancels the
// recompute in flight and requests one coalesced follow-up. The previous
// Fresh snapshot stays readable until a recompute of the latest generation
// publishes a new one. Results of superseded generations are discarded.
//
// The subscriptions a resolve calls for are opened before its result is
// published. A resolve that needed new ones is run again instead, since a
// write those queries match may have landed after it read the store.
package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/classboard/internal/adapters/mq/queue"
	"github.com/okian/classboard/internal/adapters/repository"
	"github.com/okian/classboard/internal/domain/coalesce"
	"github.com/okian/classboard/internal/domain/join"
	"github.com/okian/classboard/internal/domain/model"
	"github.com/okian/classboard/pkg/logger"
	"github.com/okian/classboard/pkg/metrics"
)

// State is the freshness of a scope's snapshot.
type State string

// Snapshot states.
const (
	StateStale State = "stale"
	StateFresh State = "fresh"
)

// View is what readers see for a scope. Snapshot is the last published
// snapshot and may be nil before the first successful recompute. Err holds
// the last resolution failure, cleared on the next publish.
type View struct {
	Snapshot   *model.Snapshot
	State      State
	Generation uint64
	Err        error
}

// Listener receives every snapshot published for a scope.
type Listener func(*model.Snapshot)

// Resolver fetches the resolved set of a scope.
type Resolver interface {
	Resolve(ctx context.Context, scope model.Scope) (model.ResolvedSet, error)
}

// Builder reduces a resolved set into a snapshot.
type Builder interface {
	Build(scope model.Scope, set model.ResolvedSet, asOf time.Time) *model.Snapshot
}

// Enqueuer accepts recompute jobs without blocking.
type Enqueuer interface {
	Enqueue(ctx context.Context, j queue.Job) bool
}

// Stats summarises the watched scopes.
type Stats struct {
	Watched       int   `json:"watched"`
	Fresh         int   `json:"fresh"`
	Stale         int   `json:"stale"`
	Failing       int   `json:"failing"`
	Outstanding   int64 `json:"outstanding"`
	Subscriptions int   `json:"subscriptions"`
}

type entry struct {
	scope model.Scope

	// guarded by Cache.mu
	snap    *model.Snapshot
	gen     uint64
	state   State
	lastErr error
	cancel  context.CancelFunc

	// unix nanos of the last Watch or Snapshot
	lastRead atomic.Int64

	subMu   sync.Mutex
	subs    map[string]repository.Subscription
	dropped bool
}

// Cache is the rollup cache and recompute trigger. It implements
// worker.Processor so recomputes run on the worker pool.
type Cache struct {
	store     repository.Subscriber
	resolver  Resolver
	builder   Builder
	jobs      Enqueuer
	coalescer coalesce.Coalescer
	queries   func(model.Scope, model.ResolvedSet) []repository.Query
	now       func() time.Time
	logger    logger.Logger
	idleTTL   time.Duration
	maxScopes int

	ctx  context.Context
	stop context.CancelFunc

	mu        sync.RWMutex
	entries   map[string]*entry
	listeners map[string]map[uint64]Listener
	anyScope  map[uint64]Listener
	nextID    uint64
	closed    bool
}

// New creates a cache reading change notifications from store, resolving
// through resolver and queueing recomputes on jobs.
func New(store repository.Subscriber, resolver Resolver, builder Builder, jobs Enqueuer, opts ...Option) *Cache {
	ctx, stop := context.WithCancel(context.Background())
	c := &Cache{
		store:    store,
		resolver: resolver,
		builder:  builder,
		jobs:     jobs,
		coalescer: coalesce.NewInMemoryCoalescer(coalesce.WithOnCoalesce(func(string) {
			metrics.RecordRecomputeCoalesced()
		})),
		queries:   join.Subscriptions,
		now:       time.Now,
		logger:    logger.Get().Named("cache"),
		ctx:       ctx,
		stop:      stop,
		entries:   make(map[string]*entry),
		listeners: make(map[string]map[uint64]Listener),
		anyScope:  make(map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Watch registers scope, subscribes to the collections it reads and
// requests its first recompute. Watching a scope twice is a no-op.
// ErrNotQueued means the scope is registered but its recompute could not
// be queued; the next change retries.
func (c *Cache) Watch(ctx context.Context, scope model.Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key := scope.Key()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		c.touch(e)
		return nil
	}
	if c.maxScopes > 0 && len(c.entries) >= c.maxScopes {
		c.mu.Unlock()
		return fmt.Errorf("%w: limit %d", ErrTooMany, c.maxScopes)
	}
	e := &entry{scope: scope, gen: 1, state: StateStale, subs: make(map[string]repository.Subscription)}
	c.touch(e)
	c.entries[key] = e
	watched := len(c.entries)
	c.mu.Unlock()

	metrics.UpdateWatchedScopes(watched)
	c.logger.Info(ctx, "watching scope", logger.String("scope", key))

	c.resubscribe(e, c.queries(scope, model.ResolvedSet{}))
	return c.request(e)
}

// Snapshot returns the current view of scope.
func (c *Cache) Snapshot(scope model.Scope) View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[scope.Key()]
	if !ok {
		return View{State: StateStale, Err: ErrNotWatched}
	}
	c.touch(e)
	return View{Snapshot: e.snap, State: e.state, Generation: e.gen, Err: e.lastErr}
}

// Invalidate marks scope Stale and requests a recompute of the new
// generation. A recompute in flight is cancelled and its result dropped.
func (c *Cache) Invalidate(scope model.Scope) error {
	c.mu.Lock()
	e, ok := c.entries[scope.Key()]
	if !ok || c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotWatched, scope)
	}
	e.gen++
	e.state = StateStale
	if e.cancel != nil {
		e.cancel()
	}
	c.mu.Unlock()

	return c.request(e)
}

// OnSnapshotUpdated calls fn with every snapshot published for scope until
// the returned cancel func is called. The scope need not be watched yet.
func (c *Cache) OnSnapshotUpdated(scope model.Scope, fn Listener) (cancel func()) {
	key := scope.Key()
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	if c.listeners[key] == nil {
		c.listeners[key] = make(map[uint64]Listener)
	}
	c.listeners[key][id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.listeners[key], id)
			if len(c.listeners[key]) == 0 {
				delete(c.listeners, key)
			}
		})
	}
}

// OnAny calls fn with every snapshot published for any scope.
func (c *Cache) OnAny(fn Listener) (cancel func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.anyScope[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.anyScope, id)
	}
}

// Forget drops the state and subscriptions of scope.
func (c *Cache) Forget(scope model.Scope) error {
	key := scope.Key()
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotWatched, scope)
	}
	delete(c.entries, key)
	if e.cancel != nil {
		e.cancel()
	}
	watched := len(c.entries)
	c.mu.Unlock()

	c.coalescer.Drop(key)
	c.dropSubscriptions(e)
	metrics.UpdateWatchedScopes(watched)
	return nil
}

// EvictIdle forgets the scopes not read within the idle TTL and returns
// them. Scopes with a scope listener are kept. It does nothing without
// WithIdleTTL.
func (c *Cache) EvictIdle(ctx context.Context) []model.Scope {
	if c.idleTTL <= 0 {
		return nil
	}
	cutoff := c.now().Add(-c.idleTTL).UnixNano()

	c.mu.RLock()
	var idle []model.Scope
	for key, e := range c.entries {
		if e.lastRead.Load() < cutoff && len(c.listeners[key]) == 0 {
			idle = append(idle, e.scope)
		}
	}
	c.mu.RUnlock()

	var evicted []model.Scope
	for _, scope := range idle {
		if err := c.Forget(scope); err == nil {
			evicted = append(evicted, scope)
		}
	}
	if len(evicted) > 0 {
		c.logger.Info(ctx, "evicted idle scopes", logger.Int("count", len(evicted)))
	}
	return evicted
}

// Scopes returns the watched scopes ordered by key.
func (c *Cache) Scopes() []model.Scope {
	c.mu.RLock()
	out := make([]model.Scope, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.scope)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Stats returns counts over the watched scopes.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	entries := make([]*entry, 0, len(c.entries))
	st := Stats{Watched: len(c.entries), Outstanding: c.coalescer.Size()}
	for _, e := range c.entries {
		entries = append(entries, e)
		if e.state == StateFresh {
			st.Fresh++
		} else {
			st.Stale++
		}
		if e.lastErr != nil {
			st.Failing++
		}
	}
	c.mu.RUnlock()

	for _, e := range entries {
		e.subMu.Lock()
		st.Subscriptions += len(e.subs)
		e.subMu.Unlock()
	}
	return st
}

// Close cancels every recompute and drops every subscription.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	entries := c.entries
	c.entries = make(map[string]*entry)
	for _, e := range entries {
		if e.cancel != nil {
			e.cancel()
		}
	}
	c.listeners = make(map[string]map[uint64]Listener)
	c.anyScope = make(map[uint64]Listener)
	c.mu.Unlock()

	c.stop()
	for key, e := range entries {
		c.coalescer.Drop(key)
		c.dropSubscriptions(e)
	}
	metrics.UpdateWatchedScopes(0)
	return nil
}

// Process runs one recompute job. Jobs of forgotten scopes are skipped.
func (c *Cache) Process(ctx context.Context, j queue.Job) error {
	key := j.Scope.Key()
	ticket, ok := c.coalescer.Start(key)
	if !ok {
		return nil
	}

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || c.closed {
		c.mu.Unlock()
		c.coalescer.Finish(key, ticket)
		return nil
	}
	gen := e.gen
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	c.mu.Unlock()

	start := time.Now()
	set, err := c.resolver.Resolve(runCtx, e.scope)
	var snap *model.Snapshot
	if err == nil {
		snap = c.builder.Build(e.scope, set, c.now())
	}
	cancel()

	widened := false
	if err == nil {
		widened = c.resubscribe(e, c.queries(e.scope, set))
	}

	var (
		outcome   string
		listeners []Listener
	)
	c.mu.Lock()
	e.cancel = nil
	switch {
	case c.closed || c.entries[key] != e || e.gen != gen:
		outcome = metrics.OutcomeSuperseded
	case err != nil:
		outcome = metrics.OutcomeFailed
		e.lastErr = err
	case widened:
		outcome = metrics.OutcomeWidened
	default:
		outcome = metrics.OutcomePublished
		e.snap = snap
		e.state = StateFresh
		e.lastErr = nil
		listeners = c.listenersLocked(key)
	}
	c.mu.Unlock()

	metrics.RecordRecompute(outcome)
	metrics.RecordRecomputeLatency(float64(time.Since(start).Milliseconds()))

	switch outcome {
	case metrics.OutcomePublished:
		metrics.RecordSnapshotStudents(len(snap.StudentRollups))
		for _, fn := range listeners {
			fn(snap)
		}
		c.logger.Debug(ctx, "snapshot published",
			logger.String("scope", key),
			logger.Uint64("generation", gen),
			logger.Int("students", len(snap.StudentRollups)),
		)
	case metrics.OutcomeFailed:
		metrics.RecordResolutionFailure(string(e.scope.Kind))
		c.logger.Warn(ctx, "recompute failed; keeping last snapshot",
			logger.String("scope", key),
			logger.Uint64("generation", gen),
			logger.Error(err),
		)
	case metrics.OutcomeSuperseded:
		c.logger.Debug(ctx, "recompute superseded",
			logger.String("scope", key),
			logger.Uint64("generation", gen),
		)
	case metrics.OutcomeWidened:
		// Marks the running key for a rerun, handed back by Finish.
		_ = c.request(e)
		c.logger.Debug(ctx, "subscriptions widened; rerunning",
			logger.String("scope", key),
			logger.Uint64("generation", gen),
		)
	}

	if c.coalescer.Finish(key, ticket) {
		_ = c.enqueue(e)
	}
	if outcome == metrics.OutcomeFailed {
		return err
	}
	return nil
}

// request asks for a recompute of e unless one is already outstanding.
func (c *Cache) request(e *entry) error {
	if !c.coalescer.Request(c.ctx, e.scope.Key()) {
		return nil
	}
	return c.enqueue(e)
}

// enqueue queues a job for e, whose key must already be queued in the
// coalescer.
func (c *Cache) enqueue(e *entry) error {
	c.mu.RLock()
	gen := e.gen
	c.mu.RUnlock()

	if c.jobs.Enqueue(c.ctx, queue.Job{Scope: e.scope, Generation: gen}) {
		return nil
	}
	c.coalescer.Unrecord(c.ctx, e.scope.Key())
	c.logger.Warn(c.ctx, "recompute not queued", logger.String("scope", e.scope.Key()))
	return fmt.Errorf("%w: %s", ErrNotQueued, e.scope)
}

// listenersLocked returns the listeners of key followed by the any-scope
// listeners, each in registration order. Caller holds c.mu.
func (c *Cache) listenersLocked(key string) []Listener {
	ids := make([]uint64, 0, len(c.listeners[key]))
	for id := range c.listeners[key] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Listener, 0, len(ids)+len(c.anyScope))
	for _, id := range ids {
		out = append(out, c.listeners[key][id])
	}

	ids = ids[:0]
	for id := range c.anyScope {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		out = append(out, c.anyScope[id])
	}
	return out
}

func (c *Cache) touch(e *entry) {
	e.lastRead.Store(c.now().UnixNano())
}

// resubscribe makes the subscriptions of e match qs, keeping those whose
// query is unchanged. It reports whether any subscription was added.
func (c *Cache) resubscribe(e *entry, qs []repository.Query) bool {
	want := make(map[string]repository.Query, len(qs))
	for _, q := range qs {
		want[q.Key()] = q
	}

	e.subMu.Lock()
	defer e.subMu.Unlock()
	if e.dropped {
		return false
	}

	delta, added := 0, false
	for k, sub := range e.subs {
		if _, ok := want[k]; !ok {
			sub.Unsubscribe()
			delete(e.subs, k)
			delta--
		}
	}
	scope := e.scope
	for k, q := range want {
		if _, ok := e.subs[k]; ok {
			continue
		}
		sub, err := c.store.Subscribe(c.ctx, q, func(repository.Change) {
			_ = c.Invalidate(scope)
		})
		if err != nil {
			c.logger.Warn(c.ctx, "subscribe failed",
				logger.String("scope", scope.Key()),
				logger.String("query", k),
				logger.Error(err),
			)
			continue
		}
		e.subs[k] = sub
		delta++
		added = true
	}
	metrics.AddLiveSubscriptions(delta)
	return added
}

func (c *Cache) dropSubscriptions(e *entry) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.dropped = true
	for _, sub := range e.subs {
		sub.Unsubscribe()
	}
	metrics.AddLiveSubscriptions(-len(e.subs))
	e.subs = nil
}
