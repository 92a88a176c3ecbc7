package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkeye/ChatRelay/internal/core"
)

const (
	defaultWriteTimeout = 5 * time.Second
)

type ConnOptions struct {
	ReadLimit    int64
	WriteTimeout time.Duration
}

// Conn adapts a gorilla connection to core.Conn. Next is the read half and
// must only be called from one goroutine; Send is the write half and must
// only be called from one other goroutine. Ping and Close may be called
// from anywhere.
type Conn struct {
	ws           *websocket.Conn
	remoteAddr   string
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

var _ core.Conn = (*Conn)(nil)

func NewConn(ws *websocket.Conn, remoteAddr string, opts ConnOptions) *Conn {
	if opts.ReadLimit > 0 {
		ws.SetReadLimit(opts.ReadLimit)
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if remoteAddr == "" {
		remoteAddr = ws.RemoteAddr().String()
	}
	return &Conn{ws: ws, remoteAddr: remoteAddr, writeTimeout: opts.WriteTimeout}
}

func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// Next blocks until the next inbound event. Cancelling ctx unblocks a pending
// read by expiring the read deadline.
func (c *Conn) Next(ctx context.Context) (core.InboundEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyReadError(err)
	}
	ev, err := Decode(mt, data)
	if err != nil {
		return nil, core.NewError(core.KindProtocol, "decode", err)
	}
	return ev, nil
}

func (c *Conn) Send(ctx context.Context, ev core.OutboundEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(ev)
	if err != nil {
		return core.NewError(core.KindInternal, "encode", err)
	}
	if err := c.ws.SetWriteDeadline(c.deadline(ctx)); err != nil {
		return core.NewError(core.KindTransport, "write", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return core.NewError(core.KindTransport, "write", err)
	}
	return nil
}

func (c *Conn) Ping(ctx context.Context) error {
	if err := c.ws.WriteControl(websocket.PingMessage, nil, c.deadline(ctx)); err != nil {
		return core.NewError(core.KindTransport, "ping", err)
	}
	return nil
}

// Close writes a close frame whose status reflects cause and releases the
// socket. Only the first call has an effect.
func (c *Conn) Close(cause error) error {
	c.closeOnce.Do(func() {
		code, reason := CloseStatus(cause)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *Conn) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.writeTimeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

func classifyReadError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Code == websocket.CloseAbnormalClosure {
			return core.NewError(core.KindTransport, "read", err)
		}
		return fmt.Errorf("%w: %v", core.ErrStreamClosed, err)
	}
	if errors.Is(err, websocket.ErrReadLimit) {
		return core.NewError(core.KindProtocol, "read", err)
	}
	if errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %v", core.ErrStreamClosed, err)
	}
	return core.NewError(core.KindTransport, "read", err)
}

// CloseStatus maps the reason a connection ended to a close frame.
func CloseStatus(cause error) (int, string) {
	var code int
	var reason string
	switch {
	case cause == nil, errors.Is(cause, core.ErrStreamClosed):
		code = websocket.CloseNormalClosure
	case errors.Is(cause, context.Canceled):
		code, reason = websocket.CloseGoingAway, "server shutting down"
	default:
		switch core.KindOf(cause) {
		case core.KindProtocol:
			code, reason = websocket.ClosePolicyViolation, "protocol violation"
			if errors.Is(cause, core.ErrUnexpectedFrameKind) {
				code, reason = websocket.CloseUnsupportedData, "unsupported frame"
			}
		case core.KindAuth:
			code, reason = CloseUnauthorized, "unauthorized"
		case core.KindLag:
			code, reason = CloseLagged, "lagged behind"
		default:
			code, reason = websocket.CloseInternalServerErr, "internal error"
		}
	}
	return code, reason
}

// Application close codes (4000-4999 range).
const (
	CloseUnauthorized = 4401
	CloseLagged       = 4408
)
