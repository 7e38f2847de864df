package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mirrorcast/internal/types"
)

// MessageKind distinguishes text (control) from binary (frame) messages.
type MessageKind int

const (
	Text MessageKind = iota + 1
	Binary
)

func (k MessageKind) String() string {
	switch k {
	case Text:
		return "text"
	case Binary:
		return "binary"
	}
	return "unknown"
}

// Conn is a persistent bidirectional message transport to one viewer.
// ReadMessage is only ever called from one goroutine and WriteMessage is
// serialized by the Session. Close must be safe to call concurrently with
// both and must unblock a pending ReadMessage.
type Conn interface {
	WriteMessage(kind MessageKind, data []byte) error
	ReadMessage() (MessageKind, []byte, error)
	Close(reason string) error
	RemoteAddr() string
}

const (
	ReasonSuperseded = "superseded by new connection"
	ReasonShutdown   = "server shutting down"
	ReasonTransmit   = "transmit failed"
)

var (
	ErrClosed = errors.New("session closed")
	// ErrCongested is returned by transports whose send buffer is over its
	// limit. The message was not sent but the connection is still healthy.
	ErrCongested = errors.New("transport congested")
)

// TransmitError reports a failed write to a session.
type TransmitError struct {
	SessionID string
	Err       error
}

func (e *TransmitError) Error() string {
	return fmt.Sprintf("session %s: transmit: %v", e.SessionID, e.Err)
}

func (e *TransmitError) Unwrap() error { return e.Err }

// Session is one remote viewer connection.
type Session struct {
	ID        string
	CreatedAt time.Time
	// Remote is the viewer's screen geometry, fixed for the session.
	Remote types.Geometry

	conn    Conn
	writeMu sync.Mutex

	closeOnce   sync.Once
	closed      atomic.Bool
	done        chan struct{}
	closeReason string
}

func New(conn Conn, remote types.Geometry) *Session {
	return &Session{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
		Remote:    remote,
		conn:      conn,
		done:      make(chan struct{}),
	}
}

func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr() }

func (s *Session) SendBinary(data []byte) error { return s.send(Binary, data) }

func (s *Session) SendText(data []byte) error { return s.send(Text, data) }

// SendJSON marshals v and sends it as a text message.
func (s *Session) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &TransmitError{SessionID: s.ID, Err: err}
	}
	return s.send(Text, data)
}

func (s *Session) send(kind MessageKind, data []byte) error {
	if s.closed.Load() {
		return &TransmitError{SessionID: s.ID, Err: ErrClosed}
	}
	s.writeMu.Lock()
	err := s.conn.WriteMessage(kind, data)
	s.writeMu.Unlock()
	if err != nil {
		return &TransmitError{SessionID: s.ID, Err: err}
	}
	return nil
}

// Receive blocks for the next inbound message. It fails once the session's
// connection is closed from either side.
func (s *Session) Receive() (MessageKind, []byte, error) {
	return s.conn.ReadMessage()
}

// Close closes the connection with reason. Only the first call has any
// effect.
func (s *Session) Close(reason string) error {
	var err error
	s.closeOnce.Do(func() {
		s.closeReason = reason
		s.closed.Store(true)
		close(s.done)
		err = s.conn.Close(reason)
	})
	return err
}

func (s *Session) Closed() bool { return s.closed.Load() }

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// CloseReason is valid once Done is closed.
func (s *Session) CloseReason() string {
	select {
	case <-s.done:
		return s.closeReason
	default:
		return ""
	}
}
