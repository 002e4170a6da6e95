package pushbus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-ipcbridge/v1/logging"
	"github.com/mirkobrombin/go-ipcbridge/v1/transport"
)

// Redis implements Bus over Redis pub/sub on a single channel.
type Redis struct {
	client *redis.Client
	topic  string
	log    *slog.Logger
}

// NewRedis returns a Redis bus publishing on topic.
func NewRedis(client *redis.Client, topic string, log *slog.Logger) *Redis {
	if log == nil {
		log = logging.Discard()
	}
	return &Redis{client: client, topic: topic, log: log}
}

// Publish implements Bus.Publish.
func (b *Redis) Publish(ctx context.Context, env transport.Envelope) error {
	data, err := encode(env)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.topic, data).Err()
}

// Subscribe implements Bus.Subscribe. It returns once Redis confirmed the
// subscription, so envelopes published afterwards are delivered.
func (b *Redis) Subscribe(ctx context.Context) (<-chan transport.Envelope, error) {
	ps := b.client.Subscribe(ctx, b.topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", b.topic, err)
	}

	out := make(chan transport.Envelope, subscriberBuffer)
	msgs := ps.Channel()
	go func() {
		defer close(out)
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				env, err := decode([]byte(msg.Payload))
				if err != nil {
					b.log.Warn("pushbus: dropping malformed redis message", "err", err)
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close implements Bus.Close.
func (b *Redis) Close() error {
	return b.client.Close()
}
