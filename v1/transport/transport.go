// Package transport defines the invocation contract shared by the in-process
// and network transports, and the JSON shapes exchanged on the wire.
//
// Both transports hand handlers JSON-encoded arguments and return a
// JSON-encoded result, so a command behaves the same whether it is invoked
// locally or through the client shim.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
)

// Invoker invokes a channel by name.
type Invoker interface {
	Invoke(ctx context.Context, channel string, args ...any) (json.RawMessage, error)
}

// Call invokes channel and decodes the result into T. A null result yields
// the zero value of T.
func Call[T any](ctx context.Context, inv Invoker, channel string, args ...any) (T, error) {
	var out T
	raw, err := inv.Invoke(ctx, channel, args...)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode result of %s: %w", channel, err)
	}
	return out, nil
}

// InvokeRequest is the request body of the request/reply endpoint.
type InvokeRequest struct {
	Args []json.RawMessage `json:"args"`
}

// ErrorBody is the reply body of a failed request/reply call.
type ErrorBody struct {
	Error string `json:"error"`
}

// Envelope is a message on the push channel.
type Envelope struct {
	Channel string            `json:"channel"`
	Args    []json.RawMessage `json:"args"`
}

// NewEnvelope encodes args into an Envelope for channel.
func NewEnvelope(channel string, args ...any) (Envelope, error) {
	enc, err := EncodeArgs(args)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Channel: channel, Args: enc}, nil
}

// EncodeArgs marshals each argument on its own. The result is never nil so
// it encodes as an empty JSON array.
func EncodeArgs(args []any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(args))
	for i, a := range args {
		if raw, ok := a.(json.RawMessage); ok {
			out = append(out, raw)
			continue
		}
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode argument %d: %w", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// EncodeResult marshals a handler result, mapping nil to null.
func EncodeResult(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("null"), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return b, nil
}
