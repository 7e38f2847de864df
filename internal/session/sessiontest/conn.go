// Package sessiontest provides an in-memory session.Conn for tests.
package sessiontest

import (
	"errors"
	"sync"

	"mirrorcast/internal/session"
)

var ErrConnClosed = errors.New("sessiontest: connection closed")

type Message struct {
	Kind session.MessageKind
	Data []byte
}

// Conn records writes and serves reads from a channel fed by Push.
type Conn struct {
	Addr string

	mu          sync.Mutex
	written     []Message
	writeErr    error
	closeCalls  int
	closeReason string

	inbound chan Message
	closed  chan struct{}
	once    sync.Once
}

func NewConn(addr string) *Conn {
	return &Conn{
		Addr:    addr,
		inbound: make(chan Message, 128),
		closed:  make(chan struct{}),
	}
}

func (c *Conn) WriteMessage(kind session.MessageKind, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	c.written = append(c.written, Message{Kind: kind, Data: append([]byte(nil), data...)})
	return nil
}

func (c *Conn) ReadMessage() (session.MessageKind, []byte, error) {
	select {
	case m := <-c.inbound:
		return m.Kind, m.Data, nil
	case <-c.closed:
		return 0, nil, ErrConnClosed
	}
}

func (c *Conn) Close(reason string) error {
	c.mu.Lock()
	c.closeCalls++
	if c.closeCalls == 1 {
		c.closeReason = reason
	}
	c.mu.Unlock()
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *Conn) RemoteAddr() string { return c.Addr }

// Push queues an inbound message from the viewer.
func (c *Conn) Push(kind session.MessageKind, data []byte) {
	c.inbound <- Message{Kind: kind, Data: data}
}

// FailWrites makes every following write return err.
func (c *Conn) FailWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

func (c *Conn) Written() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.written...)
}

func (c *Conn) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

func (c *Conn) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}
