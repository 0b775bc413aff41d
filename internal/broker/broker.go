package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"auction-service/internal/util"

	"go.uber.org/zap"
)

// Producer publishes a JSON encoded event under a partitioning key
type Producer interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
	Close() error
}

// MessageHandler is a function type for handling messages
type MessageHandler func(ctx context.Context, key, value []byte) error

// Subscriber delivers messages to a handler until ctx is cancelled
type Subscriber interface {
	StartConsuming(ctx context.Context, handler MessageHandler) error
	Close() error
}

type localMessage struct {
	key   []byte
	value []byte
}

// LocalBus is an in-process Producer and Subscriber. Messages published
// before StartConsuming are buffered up to the channel capacity; beyond
// that PublishEvent blocks until ctx is done.
type LocalBus struct {
	messages  chan localMessage
	closeOnce sync.Once
	done      chan struct{}
	logger    *zap.Logger
}

// NewLocalBus creates an in-process bus with the given buffer size
func NewLocalBus(buffer int) *LocalBus {
	return &LocalBus{
		messages: make(chan localMessage, buffer),
		done:     make(chan struct{}),
		logger:   util.Component("broker.local"),
	}
}

// PublishEvent encodes and enqueues an event
func (b *LocalBus) PublishEvent(ctx context.Context, key string, event interface{}) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	select {
	case <-b.done:
		return fmt.Errorf("local bus closed")
	default:
	}

	select {
	case b.messages <- localMessage{key: []byte(key), value: eventBytes}:
		b.logger.Debug("Published event", zap.String("key", key), zap.String("type", fmt.Sprintf("%T", event)))
		return nil
	case <-b.done:
		return fmt.Errorf("local bus closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartConsuming feeds queued messages to handler one at a time
func (b *LocalBus) StartConsuming(ctx context.Context, handler MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return nil
		case msg := <-b.messages:
			if err := handler(ctx, msg.key, msg.value); err != nil {
				b.logger.Warn("Error handling message", zap.ByteString("key", msg.key), zap.Error(err))
			}
		}
	}
}

// Close stops consumers and rejects further publishes
func (b *LocalBus) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}
