// Package upload implements the upload-to-signed-url command: a JSON
// document is PUT to a caller-supplied pre-signed https URL after the URL
// passed egress validation.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mirkobrombin/go-ipcbridge/v1/egress"
	"github.com/mirkobrombin/go-ipcbridge/v1/lock"
	"github.com/mirkobrombin/go-ipcbridge/v1/logging"
	"github.com/mirkobrombin/go-ipcbridge/v1/pushbus"
	"github.com/mirkobrombin/go-ipcbridge/v1/registry"
)

// Channel is the command name the handler is registered under.
const Channel = "upload-to-signed-url"

// CompletedChannel is pushed after a successful upload when a bus is set.
// Its single argument is the URL without its query, so signatures never
// reach clients.
const CompletedChannel = "upload:completed"

const defaultTimeout = 60 * time.Second

var errInvalidContentType = errors.New("invalid content type provided")

// Params is the single argument of the command.
type Params struct {
	URL         string          `json:"url"`
	ContentType string          `json:"contentType"`
	Data        json.RawMessage `json:"data"`
}

// Handler uploads documents to signed URLs.
type Handler struct {
	validator *egress.Validator
	client    *http.Client
	locks     *lock.Serializer
	events    pushbus.Bus
	log       *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithValidator replaces the default egress validator.
func WithValidator(v *egress.Validator) Option {
	return func(h *Handler) { h.validator = v }
}

// WithHTTPClient replaces the guarded HTTP client used for the PUT.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Handler) { h.client = c }
}

// WithSerializer shares a Serializer with other handlers.
func WithSerializer(s *lock.Serializer) Option {
	return func(h *Handler) { h.locks = s }
}

// WithEvents publishes a CompletedChannel envelope on bus after each upload.
func WithEvents(bus pushbus.Bus) Option {
	return func(h *Handler) { h.events = bus }
}

// WithLogger sets the handler logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// New returns a Handler. By default it validates with the platform resolver
// and uploads through egress.NewClient.
func New(opts ...Option) *Handler {
	h := &Handler{log: logging.Discard()}
	for _, opt := range opts {
		opt(h)
	}
	if h.validator == nil {
		h.validator = egress.NewValidator(egress.WithLogger(h.log))
	}
	if h.client == nil {
		h.client = egress.NewClient(defaultTimeout)
	}
	if h.locks == nil {
		h.locks = lock.New()
	}
	return h
}

// Register binds a new Handler to Channel on reg.
func Register(reg *registry.Registry, opts ...Option) *Handler {
	h := New(opts...)
	reg.Register(Channel, h.Handle)
	h.log.Debug("registered upload handlers")
	return h
}

// Handle is the registry.Handler for Channel. Uploads to the same URL run
// one at a time. ev may be nil.
func (h *Handler) Handle(ctx context.Context, ev *registry.Event, args registry.Args) (any, error) {
	if ev == nil {
		ev = &registry.Event{}
	}
	var p Params
	if err := args.Decode(0, &p); err != nil {
		return nil, fmt.Errorf("invalid upload parameters: %w", err)
	}
	h.log.Debug("upload-to-signed-url called", "transport", ev.Transport, "request_id", ev.RequestID)

	if _, err := h.validator.ValidateURL(ctx, p.URL); err != nil {
		return nil, err
	}
	if p.ContentType == "" {
		return nil, errInvalidContentType
	}
	if err := h.locks.WithLock(p.URL, func() error { return h.put(ctx, p) }); err != nil {
		return nil, err
	}
	h.log.Debug("uploaded data to signed URL")
	if h.events != nil {
		if err := pushbus.Emit(ctx, h.events, CompletedChannel, stripQuery(p.URL)); err != nil {
			h.log.Warn("upload completion event failed", "err", err)
		}
	}
	return nil, nil
}

func stripQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String()
}

func (h *Handler) put(ctx context.Context, p Params) error {
	// An absent data field sends no body at all.
	var body io.Reader = http.NoBody
	if len(p.Data) > 0 {
		body = bytes.NewReader(p.Data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, p.URL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", p.ContentType)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return nil
}
