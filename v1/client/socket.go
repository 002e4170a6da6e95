package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	bridgeerrors "github.com/mirkobrombin/go-ipcbridge/v1/errors"
	"github.com/mirkobrombin/go-ipcbridge/v1/logging"
	"github.com/mirkobrombin/go-ipcbridge/v1/transport"
)

// DefaultReconnectDelay is the pause between a closed socket and the next
// connection attempt.
const DefaultReconnectDelay = 2 * time.Second

// State is the push-channel connection state.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the subset of a websocket connection the Socket uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens push-channel connections.
type Dialer interface {
	DialContext(ctx context.Context, url string, header http.Header) (Conn, error)
}

type wsDialer struct {
	d *websocket.Dialer
}

func (w wsDialer) DialContext(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, resp, err := w.d.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Listener receives the arguments of a pushed envelope.
type Listener func(args []json.RawMessage)

type listener struct {
	id uint64
	fn Listener
}

// Socket maintains a push-channel connection, reconnecting after a fixed
// delay for as long as Run's context is live, and replays received envelopes
// to the listeners registered for their channel.
type Socket struct {
	url     string
	dialer  Dialer
	delay   time.Duration
	log     *slog.Logger
	onState func(State)

	mu        sync.Mutex
	state     State
	conn      Conn
	listeners map[string][]listener
	nextID    uint64

	writeMu sync.Mutex
}

// SocketOption configures a Socket.
type SocketOption func(*Socket)

// WithDialer replaces the gorilla websocket dialer.
func WithDialer(d Dialer) SocketOption {
	return func(s *Socket) { s.dialer = d }
}

// WithReconnectDelay sets the pause before reconnecting.
func WithReconnectDelay(d time.Duration) SocketOption {
	return func(s *Socket) { s.delay = d }
}

// WithSocketLogger sets the socket logger.
func WithSocketLogger(l *slog.Logger) SocketOption {
	return func(s *Socket) { s.log = l }
}

// OnStateChange registers a hook called on every state transition. It runs
// synchronously on the Run goroutine.
func OnStateChange(fn func(State)) SocketOption {
	return func(s *Socket) { s.onState = fn }
}

// NewSocket returns a Socket for the websocket URL u. Call Run to connect.
func NewSocket(u string, opts ...SocketOption) *Socket {
	s := &Socket{
		url:       u,
		dialer:    wsDialer{d: websocket.DefaultDialer},
		delay:     DefaultReconnectDelay,
		log:       logging.Discard(),
		listeners: make(map[string][]listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current connection state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Socket) setState(st State, conn Conn) {
	s.mu.Lock()
	s.state = st
	s.conn = conn
	s.mu.Unlock()
	if s.onState != nil {
		s.onState(st)
	}
}

// Run connects and keeps reconnecting until ctx is done. It always returns
// nil once ctx is cancelled.
func (s *Socket) Run(ctx context.Context) error {
	for {
		s.setState(StateConnecting, nil)
		conn, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("push channel connect failed", "url", s.url, "err", err)
			}
		} else {
			s.setState(StateOpen, conn)
			s.log.Info("push channel connected", "url", s.url)
			s.readLoop(ctx, conn)
		}
		s.setState(StateClosed, nil)
		if ctx.Err() != nil {
			return nil
		}
		s.log.Info("push channel closed, reconnecting", "delay", s.delay)

		t := time.NewTimer(s.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (s *Socket) readLoop(ctx context.Context, conn Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Debug("push channel read failed", "err", err)
			}
			return
		}
		var env transport.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Channel == "" {
			s.log.Warn("malformed push envelope", "err", err)
			continue
		}
		s.deliver(env)
	}
}

func (s *Socket) deliver(env transport.Envelope) {
	s.mu.Lock()
	ls := append([]listener(nil), s.listeners[env.Channel]...)
	s.mu.Unlock()
	for _, l := range ls {
		l.fn(env.Args)
	}
}

// On registers fn for pushes on channel. The returned func removes exactly
// this registration.
func (s *Socket) On(channel string, fn Listener) (cancel func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[channel] = append(s.listeners[channel], listener{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.removeListener(channel, id) })
	}
}

func (s *Socket) removeListener(channel string, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls := s.listeners[channel]
	for i, l := range ls {
		if l.id == id {
			ls = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(ls) == 0 {
		delete(s.listeners, channel)
		return
	}
	s.listeners[channel] = ls
}

// RemoveAllListeners drops every listener registered for channel.
func (s *Socket) RemoveAllListeners(channel string) {
	s.mu.Lock()
	delete(s.listeners, channel)
	s.mu.Unlock()
}

// Send writes v as a JSON text frame to the host. It fails with
// ErrConnectionClosed unless the socket is open.
func (s *Socket) Send(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return bridgeerrors.ErrConnectionClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Join(bridgeerrors.ErrConnectionClosed, err)
	}
	return nil
}
