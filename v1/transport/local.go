package transport

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/mirkobrombin/go-ipcbridge/v1/registry"
)

// TransportLocal names the in-process transport in Event.Transport.
const TransportLocal = "local"

// Local dispatches directly through a Registry within the host process.
type Local struct {
	reg    *registry.Registry
	sender registry.Sender
}

// NewLocal returns a Local transport. sender receives progress pushes from
// handlers and may be nil, in which case pushes are discarded.
func NewLocal(reg *registry.Registry, sender registry.Sender) *Local {
	if sender == nil {
		sender = discardSender{}
	}
	return &Local{reg: reg, sender: sender}
}

// Invoke implements Invoker.
func (l *Local) Invoke(ctx context.Context, channel string, args ...any) (json.RawMessage, error) {
	enc, err := EncodeArgs(args)
	if err != nil {
		return nil, err
	}
	ev := &registry.Event{
		Sender:    l.sender,
		Transport: TransportLocal,
		RequestID: uuid.NewString(),
	}
	res, err := l.reg.Dispatch(ctx, channel, ev, registry.Args(enc))
	if err != nil {
		return nil, err
	}
	return EncodeResult(res)
}

type discardSender struct{}

func (discardSender) Send(context.Context, string, ...any) error { return nil }
