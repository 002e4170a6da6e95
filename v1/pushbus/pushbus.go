// Package pushbus carries push envelopes produced outside the request path
// (background workers, sibling local processes) to the host, which relays
// them to its connected clients. Only the host subscribes; the bus does not
// coordinate hosts with each other.
package pushbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mirkobrombin/go-ipcbridge/v1/transport"
)

// Bus publishes and delivers push envelopes.
type Bus interface {
	// Publish sends env to every current subscriber.
	Publish(ctx context.Context, env transport.Envelope) error
	// Subscribe returns a channel receiving envelopes until ctx is done,
	// at which point the channel is closed.
	Subscribe(ctx context.Context) (<-chan transport.Envelope, error)
	// Close releases the backend resources.
	Close() error
}

const subscriberBuffer = 64

func encode(env transport.Envelope) ([]byte, error) {
	if env.Args == nil {
		env.Args = []json.RawMessage{}
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

func decode(data []byte) (transport.Envelope, error) {
	var env transport.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Channel == "" {
		return env, fmt.Errorf("decode envelope: missing channel")
	}
	return env, nil
}

// Emit encodes args into an envelope for channel and publishes it on bus.
func Emit(ctx context.Context, bus Bus, channel string, args ...any) error {
	env, err := transport.NewEnvelope(channel, args...)
	if err != nil {
		return err
	}
	return bus.Publish(ctx, env)
}
