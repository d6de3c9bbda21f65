// Package service wires the store, the rollup cache, the recompute queue
// and workers, and the optional snapshot publisher behind the API used by
// the HTTP layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/classboard/internal/adapters/mq/queue"
	"github.com/okian/classboard/internal/adapters/mq/worker"
	"github.com/okian/classboard/internal/adapters/repository"
	"github.com/okian/classboard/internal/cache"
	"github.com/okian/classboard/internal/domain/band"
	"github.com/okian/classboard/internal/domain/join"
	"github.com/okian/classboard/internal/domain/model"
	"github.com/okian/classboard/internal/domain/snapshot"
	"github.com/okian/classboard/pkg/logger"
	"github.com/okian/classboard/pkg/metrics"
)

// ErrNotStarted is returned by calls made before Start or after Stop.
var ErrNotStarted = errors.New("service not started")

const minEvictInterval = 10 * time.Millisecond

// Publisher receives every published snapshot.
type Publisher interface {
	Publish(ctx context.Context, s *model.Snapshot) error
	Ping(ctx context.Context) error
	Close() error
}

// Stats is the monitoring summary served on /stats.
type Stats struct {
	Started     bool        `json:"started"`
	WorkerCount int         `json:"workerCount"`
	QueueSize   int         `json:"queueSize"`
	QueueLength int         `json:"queueLength"`
	Publisher   bool        `json:"publisher"`
	Cache       cache.Stats `json:"cache"`
}

// Service implements the API dependencies for the dashboard.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     repository.Store
	jobs      *queue.InMemoryQueue
	pool      *worker.Pool
	cache     *cache.Cache
	publisher Publisher

	// Configuration
	workerCount int
	queueSize   int
	location    *time.Location
	thresholds  band.Thresholds
	now         func() time.Time
	idleTTL     time.Duration
	maxScopes   int

	// State
	started bool
	stop    context.CancelFunc
	unhook  func()

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the entity store. The service closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithPublisher forwards every published snapshot to p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithWorkerCount sets the number of recompute workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the recompute queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithLocation sets the zone used to place submissions on calendar days.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithThresholds sets the band lower bounds. Invalid bounds are ignored.
func WithThresholds(t band.Thresholds) Option {
	return func(s *Service) {
		if t.Valid() {
			s.thresholds = t
		}
	}
}

// WithClock sets the source of snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIdleTTL forgets watched scopes not read for ttl. Zero keeps them
// until Forget.
func WithIdleTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl >= 0 {
			s.idleTTL = ttl
		}
	}
}

// WithMaxScopes caps the number of watched scopes. Zero means no cap.
func WithMaxScopes(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxScopes = n
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount: runtime.NumCPU() * 2,
		queueSize:   1024,
		location:    time.UTC,
		thresholds:  band.DefaultThresholds(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the components and starts the workers. Without WithStore
// an empty memory store is used.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting classboard service...")

	if s.store == nil {
		s.store = repository.NewMemoryStore()
		s.logger.Info(ctx, "using empty memory store")
	}

	s.jobs = queue.NewInMemoryQueue(
		queue.WithCapacity(s.queueSize),
		queue.WithBufferSize(s.queueSize),
	)
	builder := snapshot.NewBuilder(
		snapshot.WithClassifier(band.NewClassifier(band.WithThresholds(s.thresholds))),
		snapshot.WithLocation(s.location),
	)
	s.cache = cache.New(s.store, join.NewResolver(s.store), builder, s.jobs,
		cache.WithClock(s.now),
		cache.WithLogger(s.logger.Named("cache")),
		cache.WithIdleTTL(s.idleTTL),
		cache.WithMaxScopes(s.maxScopes),
	)
	if s.publisher != nil {
		pub := s.publisher
		s.unhook = s.cache.OnAny(func(snap *model.Snapshot) {
			if err := pub.Publish(context.Background(), snap); err != nil {
				metrics.RecordErrorByComponent("publish", "publish_failed")
				s.logger.Warn(context.Background(), "snapshot not published",
					logger.String("scope", snap.Scope.Key()),
					logger.Error(err),
				)
			}
		})
	}

	runCtx, stop := context.WithCancel(context.Background())
	s.stop = stop
	s.pool = worker.NewPool(s.workerCount, s.jobs, s.cache)
	s.pool.Start(runCtx)
	if s.idleTTL > 0 {
		go s.evictIdle(runCtx, s.cache)
	}

	s.started = true
	s.logger.Info(ctx, "classboard service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.String("timezone", s.location.String()),
		logger.Bool("publisher", s.publisher != nil),
		logger.Duration("idleTTL", s.idleTTL),
	)
	return nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping classboard service...")

	if s.unhook != nil {
		s.unhook()
	}
	_ = s.cache.Close()
	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown", logger.Error(err))
	}
	s.stop()

	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "error closing store", logger.Error(err))
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Warn(ctx, "error closing publisher", logger.Error(err))
		}
	}

	s.started = false
	s.logger.Info(ctx, "classboard service stopped")
}

// Watch starts tracking scope. A scope whose first recompute could not be
// queued is still watched.
func (s *Service) Watch(ctx context.Context, scope model.Scope) error {
	c, err := s.running()
	if err != nil {
		return err
	}
	if err := c.Watch(ctx, scope); err != nil && !errors.Is(err, cache.ErrNotQueued) {
		return err
	}
	return nil
}

// Snapshot watches scope if needed and returns its current view.
func (s *Service) Snapshot(ctx context.Context, scope model.Scope) (cache.View, error) {
	if err := s.Watch(ctx, scope); err != nil {
		return cache.View{}, err
	}
	c, err := s.running()
	if err != nil {
		return cache.View{}, err
	}
	return c.Snapshot(scope), nil
}

// Refresh forces a recompute of scope.
func (s *Service) Refresh(ctx context.Context, scope model.Scope) error {
	if err := s.Watch(ctx, scope); err != nil {
		return err
	}
	c, err := s.running()
	if err != nil {
		return err
	}
	return c.Invalidate(scope)
}

// Forget stops tracking scope.
func (s *Service) Forget(ctx context.Context, scope model.Scope) error {
	c, err := s.running()
	if err != nil {
		return err
	}
	return c.Forget(scope)
}

// OnSnapshotUpdated registers fn for the snapshots of scope.
func (s *Service) OnSnapshotUpdated(scope model.Scope, fn cache.Listener) (func(), error) {
	c, err := s.running()
	if err != nil {
		return nil, err
	}
	return c.OnSnapshotUpdated(scope, fn), nil
}

// Health reports whether the service and its publisher are usable.
func (s *Service) Health(ctx context.Context) error {
	if _, err := s.running(); err != nil {
		return err
	}
	if s.publisher != nil {
		if err := s.publisher.Ping(ctx); err != nil {
			return fmt.Errorf("publisher: %w", err)
		}
	}
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Started:     s.started,
		WorkerCount: s.workerCount,
		QueueSize:   s.queueSize,
		Publisher:   s.publisher != nil,
	}
	if s.started {
		st.QueueLength = s.jobs.Len(context.Background())
		st.Cache = s.cache.Stats()
	}
	return st
}

// evictIdle sweeps idle scopes every half TTL until ctx ends.
func (s *Service) evictIdle(ctx context.Context, c *cache.Cache) {
	interval := s.idleTTL / 2
	if interval < minEvictInterval {
		interval = minEvictInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.EvictIdle(ctx)
		}
	}
}

func (s *Service) running() (*cache.Cache, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.cache, nil
}
