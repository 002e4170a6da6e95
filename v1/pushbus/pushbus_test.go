package pushbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mirkobrombin/go-ipcbridge/v1/config"
	"github.com/mirkobrombin/go-ipcbridge/v1/transport"
)

func mustEnvelope(t *testing.T, channel string, args ...any) transport.Envelope {
	t.Helper()
	env, err := transport.NewEnvelope(channel, args...)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	return env
}

func receive(t *testing.T, ch <-chan transport.Envelope) transport.Envelope {
	t.Helper()
	select {
	case env, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed")
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for envelope")
	}
	return transport.Envelope{}
}

func assertEnvelope(t *testing.T, env transport.Envelope, channel string, arg string) {
	t.Helper()
	if env.Channel != channel {
		t.Fatalf("expected channel %q, got %q", channel, env.Channel)
	}
	if len(env.Args) != 1 {
		t.Fatalf("expected one arg, got %d", len(env.Args))
	}
	var got string
	if err := json.Unmarshal(env.Args[0], &got); err != nil || got != arg {
		t.Fatalf("expected arg %q, got %q (%v)", arg, got, err)
	}
}

func TestInMemoryPublishSubscribe(t *testing.T) {
	bus := NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Publish(ctx, mustEnvelope(t, "chat:update", "hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	assertEnvelope(t, receive(t, ch), "chat:update", "hello")
}

func TestInMemoryUnsubscribeOnCancel(t *testing.T) {
	bus := NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
	if n := bus.subscribers(); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
}

func TestInMemoryPublishCancelledContext(t *testing.T) {
	bus := NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := bus.Publish(ctx, mustEnvelope(t, "x")); err == nil {
		t.Fatal("expected context error")
	}
}

func TestDecodeRejectsMissingChannel(t *testing.T) {
	if _, err := decode([]byte(`{"args":[]}`)); err == nil {
		t.Fatal("expected error")
	}
	if _, err := decode([]byte(`nope`)); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), config.PushBusConfig{Backend: "carrier-pigeon"}, nil); err == nil {
		t.Fatal("expected error")
	}
	bus, err := Open(context.Background(), config.PushBusConfig{Backend: "memory"}, nil)
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := bus.(*InMemory); !ok {
		t.Fatalf("expected InMemory, got %T", bus)
	}
}

func TestEmitBuildsEnvelope(t *testing.T) {
	bus := NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := Emit(ctx, bus, "worker:done", "job-1"); err != nil {
		t.Fatalf("emit: %v", err)
	}
	assertEnvelope(t, receive(t, ch), "worker:done", "job-1")
}
