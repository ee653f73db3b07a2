package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/collab/admin/internal/domain/directory"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultInvalidationChannel = "admin:cache:invalidate"
	defaultCloseTimeout        = 5 * time.Second
)

// InvalidationMessage tells peers to drop entries from their local cache
type InvalidationMessage struct {
	Origin    string                `json:"origin"`
	Region    directory.CacheRegion `json:"region,omitempty"`
	Keys      []directory.CacheKey  `json:"keys,omitempty"`
	All       bool                  `json:"all,omitempty"`
	Timestamp int64                 `json:"timestamp"`
}

// InvalidationBus fans invalidations out to every instance over Redis Pub/Sub.
// Each bus has a random origin ID so that a subscriber can skip its own
// messages. The caller owns the client.
type InvalidationBus struct {
	client    redis.UniversalClient
	channel   string
	origin    string
	logger    *zap.Logger
	cancelFn  context.CancelFunc
	doneCh    chan struct{}
	doneOnce  sync.Once
	mu        sync.Mutex
	isRunning bool
}

// BusOption configures an InvalidationBus
type BusOption func(*InvalidationBus)

// WithChannel sets the Pub/Sub channel
func WithChannel(channel string) BusOption {
	return func(b *InvalidationBus) {
		if channel != "" {
			b.channel = channel
		}
	}
}

// WithBusLogger sets the logger
func WithBusLogger(logger *zap.Logger) BusOption {
	return func(b *InvalidationBus) {
		b.logger = logger
	}
}

// NewInvalidationBus creates a bus over an existing client
func NewInvalidationBus(client redis.UniversalClient, opts ...BusOption) *InvalidationBus {
	b := &InvalidationBus{
		client:  client,
		channel: defaultInvalidationChannel,
		origin:  uuid.NewString(),
		logger:  zap.NewNop(),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Origin returns the identifier stamped on this bus's messages
func (b *InvalidationBus) Origin() string {
	return b.origin
}

// Publish sends msg to every subscriber
func (b *InvalidationBus) Publish(ctx context.Context, msg InvalidationMessage) error {
	msg.Origin = b.origin
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixNano()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		b.logger.Error("Failed to publish cache invalidation",
			zap.String("channel", b.channel),
			zap.Error(err))
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}

	b.logger.Debug("Published cache invalidation",
		zap.String("region", string(msg.Region)),
		zap.Int("keys", len(msg.Keys)),
		zap.Bool("all", msg.All))
	return nil
}

// Subscribe delivers peer messages to handler until ctx ends or Close is
// called. It blocks, so run it in a goroutine. Messages from this bus and
// undecodable payloads are dropped.
func (b *InvalidationBus) Subscribe(ctx context.Context, handler func(InvalidationMessage)) error {
	b.mu.Lock()
	if b.isRunning {
		b.mu.Unlock()
		return fmt.Errorf("subscription already running")
	}
	b.isRunning = true
	subCtx, cancel := context.WithCancel(ctx)
	b.cancelFn = cancel
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.isRunning = false
		b.mu.Unlock()
		b.markDone()
	}()

	pubsub := b.client.Subscribe(subCtx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(subCtx); err != nil {
		return fmt.Errorf("failed to subscribe to channel: %w", err)
	}

	b.logger.Info("Subscribed to cache invalidation channel", zap.String("channel", b.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-subCtx.Done():
			b.logger.Info("Cache invalidation subscription stopped")
			return subCtx.Err()
		case raw, ok := <-ch:
			if !ok {
				b.logger.Warn("Cache invalidation channel closed")
				return nil
			}
			b.dispatch(raw.Payload, handler)
		}
	}
}

func (b *InvalidationBus) dispatch(payload string, handler func(InvalidationMessage)) {
	var msg InvalidationMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		b.logger.Error("Failed to unmarshal cache invalidation", zap.Error(err))
		return
	}
	if msg.Origin == b.origin {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Panic in cache invalidation handler", zap.Any("panic", r))
		}
	}()
	handler(msg)
}

func (b *InvalidationBus) markDone() {
	b.doneOnce.Do(func() {
		close(b.doneCh)
	})
}

// Close stops a running subscription and waits for it to return
func (b *InvalidationBus) Close() error {
	b.mu.Lock()
	cancelFn := b.cancelFn
	b.mu.Unlock()

	if cancelFn != nil {
		cancelFn()
		select {
		case <-b.doneCh:
		case <-time.After(defaultCloseTimeout):
			b.logger.Warn("Timeout waiting for invalidation subscription to stop")
		}
	}
	return nil
}
