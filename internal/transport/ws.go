// Package transport adapts concrete network connections to session.Conn.
package transport

import (
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mirrorcast/internal/session"
)

const closeGrace = time.Second

type WSOptions struct {
	WriteTimeout time.Duration
	// PingInterval enables keepalive pings. A peer that misses two pongs
	// is treated as gone.
	PingInterval time.Duration
	ReadLimit    int64
}

// WS wraps a gorilla websocket. Writes carry a deadline so a stalled viewer
// surfaces as a transmit error instead of blocking the send loop.
type WS struct {
	sock *websocket.Conn
	opts WSOptions

	done chan struct{}
	once sync.Once
}

func NewWS(sock *websocket.Conn, opts WSOptions) *WS {
	c := &WS{sock: sock, opts: opts, done: make(chan struct{})}
	if opts.ReadLimit > 0 {
		sock.SetReadLimit(opts.ReadLimit)
	}
	if opts.PingInterval > 0 {
		wait := 2 * opts.PingInterval
		_ = sock.SetReadDeadline(time.Now().Add(wait))
		sock.SetPongHandler(func(string) error {
			return sock.SetReadDeadline(time.Now().Add(wait))
		})
		go c.pinger()
	}
	return c
}

func (c *WS) pinger() {
	t := time.NewTicker(c.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			deadline := time.Now().Add(c.writeTimeout())
			if err := c.sock.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (c *WS) writeTimeout() time.Duration {
	if c.opts.WriteTimeout > 0 {
		return c.opts.WriteTimeout
	}
	return 5 * time.Second
}

func (c *WS) WriteMessage(kind session.MessageKind, data []byte) error {
	select {
	case <-c.done:
		return net.ErrClosed
	default:
	}
	mt := websocket.BinaryMessage
	if kind == session.Text {
		mt = websocket.TextMessage
	}
	if err := c.sock.SetWriteDeadline(time.Now().Add(c.writeTimeout())); err != nil {
		return err
	}
	return c.sock.WriteMessage(mt, data)
}

func (c *WS) ReadMessage() (session.MessageKind, []byte, error) {
	mt, data, err := c.sock.ReadMessage()
	if err != nil {
		return 0, nil, err
	}
	if mt == websocket.TextMessage {
		return session.Text, data, nil
	}
	return session.Binary, data, nil
}

// Close sends a normal closure frame carrying reason, then drops the
// socket. Safe to call more than once and concurrently with reads.
func (c *WS) Close(reason string) error {
	var err error
	c.once.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = c.sock.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		err = c.sock.Close()
	})
	return err
}

func (c *WS) RemoteAddr() string { return c.sock.RemoteAddr().String() }

// IsPeerClose reports whether err is the viewer closing the connection
// rather than a failure.
func IsPeerClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
