package pushbus

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisBus(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := NewRedis(client, "ipcbridge.push", nil)
	t.Cleanup(func() {
		_ = bus.Close()
		mr.Close()
	})
	return bus, mr
}

func TestRedisPublishSubscribe(t *testing.T) {
	bus, _ := newRedisBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Publish(ctx, mustEnvelope(t, "app:output", "line 1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	assertEnvelope(t, receive(t, ch), "app:output", "line 1")
}

func TestRedisSkipsMalformedMessages(t *testing.T) {
	bus, mr := newRedisBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	mr.Publish("ipcbridge.push", "not json")
	if err := bus.Publish(ctx, mustEnvelope(t, "app:output", "ok")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	assertEnvelope(t, receive(t, ch), "app:output", "ok")
}

func TestOpenRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()
	cfg := configFor("redis")
	cfg.RedisAddr = mr.Addr()
	bus, err := Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer bus.Close()
	if _, ok := bus.(*Redis); !ok {
		t.Fatalf("expected Redis, got %T", bus)
	}
}
