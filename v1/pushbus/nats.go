package pushbus

import (
	"context"
	"fmt"
	"log/slog"

	nats "github.com/nats-io/nats.go"

	"github.com/mirkobrombin/go-ipcbridge/v1/logging"
	"github.com/mirkobrombin/go-ipcbridge/v1/transport"
)

// NATS implements Bus on a NATS subject.
type NATS struct {
	conn    *nats.Conn
	subject string
	log     *slog.Logger
}

// NewNATS returns a NATS bus publishing on subject.
func NewNATS(conn *nats.Conn, subject string, log *slog.Logger) *NATS {
	if log == nil {
		log = logging.Discard()
	}
	return &NATS{conn: conn, subject: subject, log: log}
}

// Publish implements Bus.Publish.
func (b *NATS) Publish(ctx context.Context, env transport.Envelope) error {
	data, err := encode(env)
	if err != nil {
		return err
	}
	return b.conn.Publish(b.subject, data)
}

// Subscribe implements Bus.Subscribe.
func (b *NATS) Subscribe(ctx context.Context) (<-chan transport.Envelope, error) {
	msgs := make(chan *nats.Msg, subscriberBuffer)
	sub, err := b.conn.ChanSubscribe(b.subject, msgs)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", b.subject, err)
	}
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("nats flush: %w", err)
	}

	out := make(chan transport.Envelope, subscriberBuffer)
	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgs:
				env, err := decode(msg.Data)
				if err != nil {
					b.log.Warn("pushbus: dropping malformed nats message", "err", err)
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close implements Bus.Close.
func (b *NATS) Close() error {
	b.conn.Close()
	return nil
}
