// Package server exposes a handler registry over HTTP: a request/reply
// endpoint per channel and a WebSocket push channel broadcasting to every
// connected client.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	bridgeerrors "github.com/mirkobrombin/go-ipcbridge/v1/errors"
	"github.com/mirkobrombin/go-ipcbridge/v1/logging"
	"github.com/mirkobrombin/go-ipcbridge/v1/pushbus"
	"github.com/mirkobrombin/go-ipcbridge/v1/registry"
	"github.com/mirkobrombin/go-ipcbridge/v1/transport"
)

// TransportRemote names the network transport in Event.Transport.
const TransportRemote = "remote"

const (
	maxRequestBody  = 32 << 20
	shutdownTimeout = 5 * time.Second
)

// MessageHandler receives inbound push-channel messages from a client.
type MessageHandler func(ctx context.Context, clientID string, data []byte)

// Server serves a Registry over HTTP and WebSocket.
type Server struct {
	reg       *registry.Registry
	hub       *Hub
	log       *slog.Logger
	gatherer  prometheus.Gatherer
	onMessage MessageHandler
	heartbeat time.Duration
	upgrader  websocket.Upgrader
	handler   http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics exposes g on GET /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithMessageHandler sets the callback for inbound push-channel messages.
func WithMessageHandler(fn MessageHandler) Option {
	return func(s *Server) { s.onMessage = fn }
}

// WithHeartbeat sets the interval of the liveness log line. Zero disables it.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) { s.heartbeat = d }
}

// New returns a Server dispatching through reg.
func New(reg *registry.Registry, opts ...Option) *Server {
	s := &Server{
		reg: reg,
		log: logging.Discard(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.log)
	if s.onMessage == nil {
		s.onMessage = func(ctx context.Context, clientID string, data []byte) {
			logging.FromContext(ctx).Debug("inbound push message ignored", "client_id", clientID, "bytes", len(data))
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/ipc/{channel}", s.handleInvoke)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "IPC bridge running"})
	})
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	s.handler = otelhttp.NewHandler(cors(requestLogger(s.log)(mux)), "ipcbridge")
	return s
}

// Hub returns the push-channel client set.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the HTTP handler serving every endpoint.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	log := logging.FromContext(r.Context())

	args, err := decodeArgs(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, transport.ErrorBody{Error: "invalid request body"})
		return
	}

	ev := &registry.Event{
		Sender:    s.hub,
		Transport: TransportRemote,
		RequestID: requestIDFromContext(r.Context()),
	}
	res, err := s.reg.Dispatch(r.Context(), channel, ev, args)
	if err != nil {
		if errors.Is(err, bridgeerrors.ErrChannelNotFound) {
			writeJSON(w, http.StatusNotFound, transport.ErrorBody{Error: fmt.Sprintf("Channel %s not found", channel)})
			return
		}
		log.Error("handler failed", "channel", channel, "err", err)
		writeJSON(w, http.StatusInternalServerError, transport.ErrorBody{Error: err.Error()})
		return
	}
	body, err := transport.EncodeResult(res)
	if err != nil {
		log.Error("encode result failed", "channel", channel, "err", err)
		writeJSON(w, http.StatusInternalServerError, transport.ErrorBody{Error: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// decodeArgs reads {"args": [...]}. An empty body, a missing args field or a
// non-array args value all mean no arguments.
func decodeArgs(body io.Reader) (registry.Args, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return registry.Args{}, nil
	}
	var req struct {
		Args json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	var args []json.RawMessage
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return registry.Args{}, nil
	}
	return registry.Args(args), nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return
	}
	// The connection outlives the request handler's cancellation semantics.
	ctx := context.WithoutCancel(r.Context())
	c := newConn(ctx, ws, s.log)
	if !s.hub.add(c) {
		return
	}
	defer s.hub.remove(c)
	c.readLoop(func(data []byte) {
		s.onMessage(ctx, c.id, data)
	})
}

// Forward relays every envelope published on bus to the connected clients
// until ctx is done.
func (s *Server) Forward(ctx context.Context, bus pushbus.Bus) error {
	ch, err := bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe push bus: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-ch:
			if !ok {
				return nil
			}
			if err := s.hub.Publish(ctx, env); err != nil {
				s.log.Warn("forward push failed", "channel", env.Channel, "err", err)
			}
		}
	}
}

// ListenAndServe binds addr and serves until ctx is cancelled. A bind failure
// is returned immediately.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully and disconnects every push client.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	// Requests outlive ctx so Shutdown can drain them.
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 15 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.log.Info("server listening", "addr", ln.Addr().String(), "channels", s.reg.Channels())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	var tick <-chan time.Time
	if s.heartbeat > 0 {
		t := time.NewTicker(s.heartbeat)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-tick:
			s.log.Debug("server heartbeat", "clients", s.hub.Len())
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			s.hub.closeAll()
			err := srv.Shutdown(shutdownCtx)
			<-errCh
			return err
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
