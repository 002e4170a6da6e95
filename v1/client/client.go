// Package client is the detached-process side of the bridge. Client mirrors
// transport.Local over the request/reply endpoint and Socket keeps a
// reconnecting push channel that replays envelopes to local listeners.
package client

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
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	bridgeerrors "github.com/mirkobrombin/go-ipcbridge/v1/errors"
	"github.com/mirkobrombin/go-ipcbridge/v1/logging"
	"github.com/mirkobrombin/go-ipcbridge/v1/transport"
)

// RemoteError is returned when the host answers with a non-success status.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Is reports a 404 as bridgeerrors.ErrChannelNotFound.
func (e *RemoteError) Is(target error) bool {
	return target == bridgeerrors.ErrChannelNotFound && e.Status == http.StatusNotFound
}

// Client invokes channels on a remote host.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New returns a Client for the host at baseURL, e.g. http://127.0.0.1:3000.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		log:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke posts args to the channel endpoint and returns the raw JSON result.
// Failures are surfaced as is; nothing is retried.
func (c *Client) Invoke(ctx context.Context, channel string, args ...any) (json.RawMessage, error) {
	encoded, err := transport.EncodeArgs(args)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(transport.InvokeRequest{Args: encoded})
	if err != nil {
		return nil, err
	}
	endpoint := c.baseURL + "/api/ipc/" + url.PathEscape(channel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", channel, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: read response: %w", channel, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rerr := &RemoteError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var eb transport.ErrorBody
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			rerr.Message = eb.Error
		}
		c.log.Debug("remote invoke failed", "channel", channel, "status", resp.StatusCode, "err", rerr.Message)
		return nil, rerr
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("invoke %s: %w", channel, errInvalidResponse)
	}
	return json.RawMessage(data), nil
}

var errInvalidResponse = errors.New("response body is not valid JSON")

// SocketURL derives the push-channel URL from an HTTP base URL.
func SocketURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}
