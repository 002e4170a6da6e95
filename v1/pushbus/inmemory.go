package pushbus

import (
	"context"
	"sync"

	"github.com/mirkobrombin/go-ipcbridge/v1/transport"
)

// InMemory is a process-local Bus.
type InMemory struct {
	mu   sync.Mutex
	subs []chan transport.Envelope
}

// NewInMemory creates a new InMemory bus.
func NewInMemory() *InMemory {
	return &InMemory{}
}

// Publish implements Bus.Publish. A subscriber whose buffer is full misses
// the envelope.
func (b *InMemory) Publish(ctx context.Context, env transport.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- env:
		default:
		}
	}
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *InMemory) Subscribe(ctx context.Context) (<-chan transport.Envelope, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	ch := make(chan transport.Envelope, subscriberBuffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.unsubscribe(ch)
	}()
	return ch, nil
}

func (b *InMemory) unsubscribe(ch chan transport.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.subs {
		if c == ch {
			b.subs[i] = b.subs[len(b.subs)-1]
			b.subs = b.subs[:len(b.subs)-1]
			close(c)
			return
		}
	}
}

// Close implements Bus.Close by closing every subscription.
func (b *InMemory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.subs {
		close(c)
	}
	b.subs = nil
	return nil
}

// subscribers is used by tests.
func (b *InMemory) subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
