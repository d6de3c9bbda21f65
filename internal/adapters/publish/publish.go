// Package publish writes exported snapshots to Redis and announces each
// update on a pub/sub channel.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/okian/classboard/internal/domain/model"
	"github.com/okian/classboard/internal/domain/snapshot"
	"github.com/okian/classboard/pkg/logger"
	"github.com/okian/classboard/pkg/metrics"
)

// Default publisher configuration constants.
const (
	defaultPrefix  = "classboard:"
	defaultChannel = "snapshots"
	defaultTTL     = 24 * time.Hour
	defaultTimeout = 2 * time.Second
)

// Sentinel errors returned by the publisher.
var (
	ErrPublish  = errors.New("publish snapshot")
	ErrNotFound = errors.New("snapshot not published")
)

// Client is the subset of the Redis client used by the publisher.
type Client interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Message is announced on the channel after a snapshot is stored.
type Message struct {
	Scope model.Scope `json:"scope"`
	AsOf  time.Time   `json:"asOf"`
	Key   string      `json:"key"`
}

// Publisher stores exported snapshots under prefix+"snapshot:"+scope key.
type Publisher struct {
	client  Client
	prefix  string
	channel string
	ttl     time.Duration
	timeout time.Duration
	logger  logger.Logger
}

// Option applies a configuration option to the Publisher.
type Option func(*Publisher)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(p *Publisher) {
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithChannel sets the pub/sub channel name, appended to the prefix.
func WithChannel(channel string) Option {
	return func(p *Publisher) {
		if channel != "" {
			p.channel = channel
		}
	}
}

// WithTTL sets how long a stored snapshot lives. Zero keeps it forever.
func WithTTL(ttl time.Duration) Option {
	return func(p *Publisher) {
		if ttl >= 0 {
			p.ttl = ttl
		}
	}
}

// WithTimeout bounds each Redis round trip.
func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithLogger sets the publisher logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a publisher over client.
func New(client Client, opts ...Option) *Publisher {
	p := &Publisher{
		client:  client,
		prefix:  defaultPrefix,
		channel: defaultChannel,
		ttl:     defaultTTL,
		timeout: defaultTimeout,
		logger:  logger.Get().Named("publish"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewRedis connects to the Redis server at addr.
func NewRedis(addr string, opts ...Option) *Publisher {
	return New(redis.NewClient(&redis.Options{Addr: addr}), opts...)
}

// Key returns the Redis key holding the snapshot of scope.
func (p *Publisher) Key(scope model.Scope) string {
	return p.prefix + "snapshot:" + scope.Key()
}

// Channel returns the full pub/sub channel name.
func (p *Publisher) Channel() string {
	return p.prefix + p.channel
}

// Publish stores the exported form of s and announces it.
func (p *Publisher) Publish(ctx context.Context, s *model.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	data, err := json.Marshal(snapshot.Export(s))
	if err != nil {
		metrics.RecordPublish(metrics.OutcomeFailed)
		return fmt.Errorf("%w: encode %s: %w", ErrPublish, s.Scope, err)
	}
	key := p.Key(s.Scope)
	if err := p.client.Set(ctx, key, data, p.ttl).Err(); err != nil {
		metrics.RecordPublish(metrics.OutcomeFailed)
		return fmt.Errorf("%w: set %s: %w", ErrPublish, key, err)
	}

	msg, err := json.Marshal(Message{Scope: s.Scope, AsOf: s.AsOf.UTC(), Key: key})
	if err != nil {
		metrics.RecordPublish(metrics.OutcomeFailed)
		return fmt.Errorf("%w: encode message: %w", ErrPublish, err)
	}
	if err := p.client.Publish(ctx, p.Channel(), msg).Err(); err != nil {
		metrics.RecordPublish(metrics.OutcomeFailed)
		return fmt.Errorf("%w: announce %s: %w", ErrPublish, key, err)
	}

	metrics.RecordPublish(metrics.OutcomePublished)
	p.logger.Debug(ctx, "snapshot published", logger.String("key", key))
	return nil
}

// Latest reads back the stored snapshot of scope.
func (p *Publisher) Latest(ctx context.Context, scope model.Scope) (snapshot.Exported, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var out snapshot.Exported
	raw, err := p.client.Get(ctx, p.Key(scope)).Bytes()
	if errors.Is(err, redis.Nil) {
		return out, fmt.Errorf("%w: %s", ErrNotFound, scope)
	}
	if err != nil {
		return out, fmt.Errorf("get %s: %w", scope, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", scope, err)
	}
	return out, nil
}

// Ping checks the connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.client.Ping(ctx).Err()
}

// Close closes the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
