package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	bridgeerrors "github.com/mirkobrombin/go-ipcbridge/v1/errors"
)

var errFakeClosed = errors.New("fake connection closed")

type fakeConn struct {
	in      chan []byte
	closed  chan struct{}
	once    sync.Once
	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errFakeClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	c.mu.Lock()
	c.written = append(c.written, data)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakeDialer hands out queued connections and fails once the queue is empty.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) DialContext(ctx context.Context, url string, _ http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *stateLog) snapshot() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	for i := 0; i < 200; i++ {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func runSocket(t *testing.T, s *Socket) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("run: %v", err)
			}
		case <-time.After(time.Second):
			t.Error("run did not return")
		}
	})
	return cancel
}

func envelope(channel string, args ...any) []byte {
	raw := make([]json.RawMessage, len(args))
	for i, a := range args {
		raw[i], _ = json.Marshal(a)
	}
	data, _ := json.Marshal(map[string]any{"channel": channel, "args": raw})
	return data
}

func TestSocketDeliversInOrder(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	s := NewSocket("ws://host/ws", WithDialer(d), WithReconnectDelay(time.Hour))

	var mu sync.Mutex
	var got []int
	s.On("tick", func(args []json.RawMessage) {
		var n int
		_ = json.Unmarshal(args[0], &n)
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
	})
	runSocket(t, s)
	waitFor(t, func() bool { return s.State() == StateOpen })

	conn.in <- envelope("tick", 1)
	conn.in <- []byte("not json")
	conn.in <- envelope("other", "x")
	conn.in <- envelope("tick", 2)
	conn.in <- envelope("tick", 3)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	})
	mu.Lock()
	defer mu.Unlock()
	for i, n := range got {
		if n != i+1 {
			t.Fatalf("out of order delivery: %v", got)
		}
	}
}

func TestSocketReconnectsAfterClose(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{first, second}}
	var log stateLog
	s := NewSocket("ws://host/ws",
		WithDialer(d),
		WithReconnectDelay(10*time.Millisecond),
		OnStateChange(log.record),
	)
	runSocket(t, s)
	waitFor(t, func() bool { return s.State() == StateOpen })

	_ = first.Close()
	waitFor(t, func() bool { return d.dialCount() == 2 && s.State() == StateOpen })

	want := []State{StateConnecting, StateOpen, StateClosed, StateConnecting, StateOpen}
	got := log.snapshot()
	if len(got) < len(want) {
		t.Fatalf("unexpected transitions %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected transitions %v", got)
		}
	}
}

func TestSocketKeepsRetryingFailedDials(t *testing.T) {
	d := &fakeDialer{}
	s := NewSocket("ws://host/ws", WithDialer(d), WithReconnectDelay(5*time.Millisecond))
	runSocket(t, s)
	waitFor(t, func() bool { return d.dialCount() >= 3 })
	if st := s.State(); st == StateOpen {
		t.Fatalf("unexpected state %s", st)
	}
}

func TestSocketStopsOnCancel(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	s := NewSocket("ws://host/ws", WithDialer(d))
	cancel := runSocket(t, s)
	waitFor(t, func() bool { return s.State() == StateOpen })

	cancel()
	waitFor(t, func() bool { return s.State() == StateClosed })
	select {
	case <-conn.closed:
	default:
		t.Fatal("connection not closed on cancel")
	}
}

func TestListenerRemoval(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	s := NewSocket("ws://host/ws", WithDialer(d), WithReconnectDelay(time.Hour))

	var mu sync.Mutex
	calls := map[string]int{}
	record := func(name string) Listener {
		return func([]json.RawMessage) {
			mu.Lock()
			calls[name]++
			mu.Unlock()
		}
	}
	cancelA := s.On("evt", record("a"))
	s.On("evt", record("b"))
	s.On("other", record("c"))
	s.On("marker", record("marker"))
	cancelA()
	cancelA()
	s.RemoveAllListeners("other")

	runSocket(t, s)
	waitFor(t, func() bool { return s.State() == StateOpen })
	conn.in <- envelope("evt")
	conn.in <- envelope("other")
	conn.in <- envelope("marker")
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls["marker"] == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if calls["a"] != 0 || calls["b"] != 1 || calls["c"] != 0 {
		t.Fatalf("unexpected calls %v", calls)
	}
}

func TestSendRequiresOpenSocket(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn}}
	s := NewSocket("ws://host/ws", WithDialer(d), WithReconnectDelay(time.Hour))

	if err := s.Send(context.Background(), map[string]int{"n": 1}); !errors.Is(err, bridgeerrors.ErrConnectionClosed) {
		t.Fatalf("expected connection closed, got %v", err)
	}
	runSocket(t, s)
	waitFor(t, func() bool { return s.State() == StateOpen })
	if err := s.Send(context.Background(), map[string]int{"n": 1}); err != nil {
		t.Fatalf("send: %v", err)
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.written) != 1 || string(conn.written[0]) != `{"n":1}` {
		t.Fatalf("unexpected frames %q", conn.written)
	}
}

func TestSocketAgainstHost(t *testing.T) {
	_, srv, ts := newHost(t)
	u, err := SocketURL(ts.URL)
	if err != nil {
		t.Fatalf("socket url: %v", err)
	}
	s := NewSocket(u, WithReconnectDelay(20*time.Millisecond))
	got := make(chan string, 1)
	s.On("job:done", func(args []json.RawMessage) {
		var id string
		_ = json.Unmarshal(args[0], &id)
		got <- id
	})
	runSocket(t, s)
	waitFor(t, func() bool { return srv.Hub().Len() == 1 })

	if err := srv.Hub().Broadcast(context.Background(), "job:done", "job-7"); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	select {
	case id := <-got:
		if !strings.HasPrefix(id, "job-") {
			t.Fatalf("unexpected id %q", id)
		}
	case <-time.After(time.Second):
		t.Fatal("push not delivered")
	}
}
