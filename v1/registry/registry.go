// Package registry maps channel names to command handlers. A Registry is
// created once per process and handed explicitly to every transport that
// dispatches through it.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	bridgeerrors "github.com/mirkobrombin/go-ipcbridge/v1/errors"
	"github.com/mirkobrombin/go-ipcbridge/v1/metrics"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-ipcbridge/v1/registry")

// Sender pushes a message on a channel back towards the caller side.
type Sender interface {
	Send(ctx context.Context, channel string, args ...any) error
}

// Event is the invocation context built by a transport for a single call.
type Event struct {
	// Sender is the reply sink used for progress notifications.
	Sender Sender
	// Transport names the transport that triggered the call.
	Transport string
	// RequestID identifies the call in logs.
	RequestID string
}

// Args holds the JSON-encoded positional arguments of a call.
type Args []json.RawMessage

// Len returns the number of arguments.
func (a Args) Len() int { return len(a) }

// Decode unmarshals argument i into v. A missing argument decodes as null,
// leaving v untouched.
func (a Args) Decode(i int, v any) error {
	if i < 0 || i >= len(a) {
		return nil
	}
	if err := json.Unmarshal(a[i], v); err != nil {
		return fmt.Errorf("decode argument %d: %w", i, err)
	}
	return nil
}

// Handler executes a command. A nil result is reported as null.
type Handler func(ctx context.Context, ev *Event, args Args) (any, error)

// binding wraps a Handler so RegisterOnce can check identity on removal.
type binding struct {
	h Handler
}

// Registry is a concurrency-safe channel → handler table.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*binding

	traceEnabled bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithTracing starts an OpenTelemetry span for every dispatch.
func WithTracing() Option {
	return func(r *Registry) { r.traceEnabled = true }
}

// New returns an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{handlers: make(map[string]*binding)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds h to channel, replacing any previous binding.
func (r *Registry) Register(channel string, h Handler) {
	r.mu.Lock()
	r.handlers[channel] = &binding{h: h}
	r.mu.Unlock()
}

// RegisterOnce binds h to channel for a single invocation. The binding is
// removed before h runs, so a concurrent dispatch on the same channel gets
// ErrChannelNotFound instead of entering h a second time.
func (r *Registry) RegisterOnce(channel string, h Handler) {
	b := &binding{}
	b.h = func(ctx context.Context, ev *Event, args Args) (any, error) {
		if !r.removeIf(channel, b) {
			return nil, fmt.Errorf("%w: %s", bridgeerrors.ErrChannelNotFound, channel)
		}
		return h(ctx, ev, args)
	}
	r.mu.Lock()
	r.handlers[channel] = b
	r.mu.Unlock()
}

// removeIf deletes the binding for channel only if it is still b.
func (r *Registry) removeIf(channel string, b *binding) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers[channel] != b {
		return false
	}
	delete(r.handlers, channel)
	return true
}

// Unregister removes the binding for channel, if any.
func (r *Registry) Unregister(channel string) {
	r.mu.Lock()
	delete(r.handlers, channel)
	r.mu.Unlock()
}

// Has reports whether channel is bound.
func (r *Registry) Has(channel string) bool {
	r.mu.RLock()
	_, ok := r.handlers[channel]
	r.mu.RUnlock()
	return ok
}

// Channels returns the bound channel names in lexical order.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.handlers))
	for ch := range r.handlers {
		out = append(out, ch)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Dispatch invokes the handler bound to channel. The handler's result and
// error are returned unchanged; a missing binding yields an error wrapping
// ErrChannelNotFound.
func (r *Registry) Dispatch(ctx context.Context, channel string, ev *Event, args Args) (any, error) {
	r.mu.RLock()
	b, ok := r.handlers[channel]
	r.mu.RUnlock()
	if !ok {
		metrics.DispatchCounter.WithLabelValues("", "not_found").Inc()
		return nil, fmt.Errorf("%w: %s", bridgeerrors.ErrChannelNotFound, channel)
	}
	if ev == nil {
		ev = &Event{}
	}

	var span trace.Span
	if r.traceEnabled {
		ctx, span = tracer.Start(ctx, "Registry.Dispatch", trace.WithAttributes(
			attribute.String("ipcbridge.channel", channel),
			attribute.String("ipcbridge.transport", ev.Transport),
		))
		defer span.End()
	}

	start := time.Now()
	res, err := b.h(ctx, ev, args)
	metrics.DispatchLatency.WithLabelValues(channel).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DispatchCounter.WithLabelValues(channel, "error").Inc()
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return res, err
	}
	metrics.DispatchCounter.WithLabelValues(channel, "ok").Inc()
	return res, nil
}
