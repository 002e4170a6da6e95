package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	bridgeerrors "github.com/mirkobrombin/go-ipcbridge/v1/errors"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512 * 1024
	sendBuffer     = 256
)

// conn is one push-channel connection. Writes go through a buffered queue
// drained by a single goroutine, so envelopes reach the socket in send order.
type conn struct {
	id     string
	ws     *websocket.Conn
	out    chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	log    *slog.Logger
}

func newConn(parent context.Context, ws *websocket.Conn, log *slog.Logger) *conn {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	c := &conn{
		id:     id,
		ws:     ws,
		out:    make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
		log:    log.With("client_id", id),
	}
	go c.writeLoop()
	return c
}

// enqueue queues data for delivery. It never blocks: a full queue drops the
// message for this client only.
func (c *conn) enqueue(data []byte) error {
	select {
	case <-c.ctx.Done():
		return bridgeerrors.ErrConnectionClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.ctx.Done():
		return bridgeerrors.ErrConnectionClosed
	default:
		return errSendBufferFull
	}
}

func (c *conn) writeLoop() {
	defer c.close()
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("push write failed", "err", err)
				return
			}
		}
	}
}

// readLoop consumes inbound frames until the socket fails or closes.
func (c *conn) readLoop(onMsg func([]byte)) {
	defer c.close()
	c.ws.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("unexpected websocket close", "err", err)
			}
			return
		}
		if len(data) > 0 && onMsg != nil {
			onMsg(data)
		}
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		c.cancel()
		_ = c.ws.Close()
	})
}
