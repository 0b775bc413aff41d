package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"auction-service/internal/util"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSBus publishes events on "<subject>.<key>" and consumes "<subject>.*"
type NATSBus struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewNATSBus connects to NATS
func NewNATSBus(natsURL, subject string) (*NATSBus, error) {
	conn, err := nats.Connect(natsURL, nats.Name("auction-service"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSBus{conn: conn, subject: subject, logger: util.Component("broker.nats")}, nil
}

// PublishEvent publishes an event to NATS
func (b *NATSBus) PublishEvent(ctx context.Context, key string, event interface{}) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &nats.Msg{
		Subject: fmt.Sprintf("%s.%s", b.subject, key),
		Data:    eventBytes,
		Header:  nats.Header{},
	}
	msg.Header.Set("key", key)

	if err := b.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}

	b.logger.Debug("Published event", zap.String("subject", msg.Subject), zap.String("type", fmt.Sprintf("%T", event)))
	return nil
}

// StartConsuming subscribes to every event key and handles messages
// sequentially until ctx is cancelled.
func (b *NATSBus) StartConsuming(ctx context.Context, handler MessageHandler) error {
	msgs := make(chan *nats.Msg, 256)
	sub, err := b.conn.ChanSubscribe(b.subject+".*", msgs)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn("Failed to unsubscribe", zap.Error(err))
		}
	}()

	b.logger.Info("Subscribed to NATS subject", zap.String("subject", sub.Subject))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-msgs:
			key := msg.Header.Get("key")
			if err := handler(ctx, []byte(key), msg.Data); err != nil {
				b.logger.Warn("Error handling message", zap.String("subject", msg.Subject), zap.Error(err))
			}
		}
	}
}

// Close drains and closes the connection
func (b *NATSBus) Close() error {
	return b.conn.Drain()
}
