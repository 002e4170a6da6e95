package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	bridgeerrors "github.com/mirkobrombin/go-ipcbridge/v1/errors"
	"github.com/mirkobrombin/go-ipcbridge/v1/registry"
	"github.com/mirkobrombin/go-ipcbridge/v1/server"
	"github.com/mirkobrombin/go-ipcbridge/v1/transport"
)

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func newRegistry() *registry.Registry {
	reg := registry.New()
	reg.Register("add", func(ctx context.Context, ev *registry.Event, args registry.Args) (any, error) {
		var a, b int
		if err := args.Decode(0, &a); err != nil {
			return nil, err
		}
		if err := args.Decode(1, &b); err != nil {
			return nil, err
		}
		return a + b, nil
	})
	reg.Register("move", func(ctx context.Context, ev *registry.Event, args registry.Args) (any, error) {
		var p point
		if err := args.Decode(0, &p); err != nil {
			return nil, err
		}
		p.X++
		return p, nil
	})
	reg.Register("noop", func(context.Context, *registry.Event, registry.Args) (any, error) {
		return nil, nil
	})
	reg.Register("fail", func(context.Context, *registry.Event, registry.Args) (any, error) {
		return nil, errors.New("disk full")
	})
	return reg
}

func newHost(t *testing.T) (*registry.Registry, *server.Server, *httptest.Server) {
	t.Helper()
	reg := newRegistry()
	s := server.New(reg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return reg, s, ts
}

func TestInvokeResult(t *testing.T) {
	_, _, ts := newHost(t)
	c := New(ts.URL + "/")
	sum, err := transport.Call[int](context.Background(), c, "add", 2, 3)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if sum != 5 {
		t.Fatalf("expected 5, got %d", sum)
	}
}

func TestInvokeNotFound(t *testing.T) {
	_, _, ts := newHost(t)
	c := New(ts.URL)
	_, err := c.Invoke(context.Background(), "missing")
	if !errors.Is(err, bridgeerrors.ErrChannelNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	var rerr *RemoteError
	if !errors.As(err, &rerr) || rerr.Status != http.StatusNotFound || rerr.Message != "Channel missing not found" {
		t.Fatalf("unexpected remote error %#v", err)
	}
}

func TestInvokeHandlerFailure(t *testing.T) {
	_, _, ts := newHost(t)
	c := New(ts.URL)
	_, err := c.Invoke(context.Background(), "fail")
	var rerr *RemoteError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if rerr.Status != http.StatusInternalServerError || rerr.Message != "disk full" {
		t.Fatalf("unexpected remote error %+v", rerr)
	}
	if errors.Is(err, bridgeerrors.ErrChannelNotFound) {
		t.Fatal("500 must not match not found")
	}
}

func TestInvokeStatusTextFallback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := New(ts.URL).Invoke(context.Background(), "any")
	var rerr *RemoteError
	if !errors.As(err, &rerr) || rerr.Message != http.StatusText(http.StatusBadGateway) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestInvokeEmptyBodyIsNull(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	raw, err := New(ts.URL).Invoke(context.Background(), "any")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if string(raw) != "null" {
		t.Fatalf("expected null, got %s", raw)
	}
}

func TestInvokeTransportFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		hj, _ := w.(http.Hijacker)
		conn, _, _ := hj.Hijack()
		_ = conn.Close()
	}))
	defer ts.Close()

	if _, err := New(ts.URL).Invoke(context.Background(), "any"); err == nil {
		t.Fatal("expected transport error")
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected a single attempt, got %d", n)
	}
}

func TestLocalAndRemoteAgree(t *testing.T) {
	reg, s, ts := newHost(t)
	local := transport.NewLocal(reg, s.Hub())
	remote := New(ts.URL)
	ctx := context.Background()

	for _, inv := range []transport.Invoker{local, remote} {
		p, err := transport.Call[point](ctx, inv, "move", point{X: 1, Y: 2})
		if err != nil {
			t.Fatalf("move: %v", err)
		}
		if p != (point{X: 2, Y: 2}) {
			t.Fatalf("unexpected point %+v", p)
		}
		v, err := transport.Call[*point](ctx, inv, "noop")
		if err != nil || v != nil {
			t.Fatalf("noop: %v %v", v, err)
		}
		if _, err := inv.Invoke(ctx, "missing"); !errors.Is(err, bridgeerrors.ErrChannelNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		if _, err := inv.Invoke(ctx, "fail"); err == nil || err.Error() != "disk full" {
			t.Fatalf("expected handler error, got %v", err)
		}
	}
}

func TestSocketURL(t *testing.T) {
	cases := map[string]string{
		"http://127.0.0.1:3000": "ws://127.0.0.1:3000/ws",
		"https://bridge.local/": "wss://bridge.local/ws",
		"ws://host:1":           "ws://host:1/ws",
	}
	for in, want := range cases {
		got, err := SocketURL(in)
		if err != nil || got != want {
			t.Errorf("%s: got %q %v, want %q", in, got, err, want)
		}
	}
	if _, err := SocketURL("ftp://host"); err == nil {
		t.Fatal("expected error for ftp scheme")
	}
}
