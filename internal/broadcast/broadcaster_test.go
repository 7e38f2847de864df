package broadcast

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"mirrorcast/internal/metrics"
	"mirrorcast/internal/session"
	"mirrorcast/internal/session/sessiontest"
	"mirrorcast/internal/types"
)

type fakeEncoder struct {
	mu   sync.Mutex
	fail map[uint64]bool
	seen []uint64
}

func (e *fakeEncoder) Encode(f *types.Frame) (*types.EncodedFrame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen = append(e.seen, f.Seq)
	if e.fail[f.Seq] {
		return nil, errors.New("bad frame")
	}
	return &types.EncodedFrame{Data: []byte{byte(f.Seq)}, Seq: f.Seq}, nil
}

type harness struct {
	b   *Broadcaster
	reg *session.Registry
	m   *metrics.Metrics
	enc *fakeEncoder
	log *syncBuffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	var buf syncBuffer
	log := zerolog.New(&buf)
	m := metrics.New()
	reg := session.NewRegistry(log, m)
	enc := &fakeEncoder{fail: map[uint64]bool{}}
	return &harness{b: New(enc, reg, m, log, Options{}), reg: reg, m: m, enc: enc, log: &buf}
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.b.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func frame(seq uint64) *types.Frame {
	return &types.Frame{Data: make([]byte, 4), Width: 1, Height: 1, Seq: seq}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNoSessionDiscards(t *testing.T) {
	h := newHarness(t)
	h.run(t)

	h.b.Publish(frame(1))
	waitFor(t, "discard", func() bool { return testutil.ToFloat64(h.m.FramesDiscarded) == 1 })

	h.enc.mu.Lock()
	defer h.enc.mu.Unlock()
	if n := len(h.enc.seen); n != 0 {
		t.Errorf("encoded %d frames without a session", n)
	}
}

func TestSendsLatestFrame(t *testing.T) {
	h := newHarness(t)
	conn := sessiontest.NewConn("a")
	h.reg.Attach(session.New(conn, types.Geometry{Width: 1, Height: 1}))

	// Published before Run starts: only the last one survives.
	for i := uint64(1); i <= 5; i++ {
		h.b.Publish(frame(i))
	}
	h.run(t)

	waitFor(t, "send", func() bool { return testutil.ToFloat64(h.m.FramesSent) == 1 })
	w := conn.Written()
	if len(w) != 1 || w[0].Kind != session.Binary || w[0].Data[0] != 5 {
		t.Fatalf("written = %+v, want frame 5", w)
	}
	if v := testutil.ToFloat64(h.m.FramesConflated); v != 4 {
		t.Errorf("conflated = %v, want 4", v)
	}
	if v := testutil.ToFloat64(h.m.FramesCaptured); v != 5 {
		t.Errorf("captured = %v, want 5", v)
	}
}

func TestEncodeErrorSkipsFrame(t *testing.T) {
	h := newHarness(t)
	h.enc.fail[1] = true
	conn := sessiontest.NewConn("a")
	sess := session.New(conn, types.Geometry{Width: 1, Height: 1})
	h.reg.Attach(sess)
	h.run(t)

	h.b.Publish(frame(1))
	waitFor(t, "encode error", func() bool { return testutil.ToFloat64(h.m.EncodeErrors) == 1 })
	h.b.Publish(frame(2))
	waitFor(t, "send", func() bool { return testutil.ToFloat64(h.m.FramesSent) == 1 })

	if h.reg.Current() != sess || sess.Closed() {
		t.Error("encode error must not affect the session")
	}
}

func TestTransmitErrorDetaches(t *testing.T) {
	h := newHarness(t)
	conn := sessiontest.NewConn("a")
	conn.FailWrites(errors.New("broken pipe"))
	sess := session.New(conn, types.Geometry{Width: 1, Height: 1})
	h.reg.Attach(sess)
	h.run(t)

	h.b.Publish(frame(1))
	waitFor(t, "close", sess.Closed)

	if h.reg.Current() != nil {
		t.Error("failed session still current")
	}
	if sess.CloseReason() != session.ReasonTransmit {
		t.Errorf("close reason = %q", sess.CloseReason())
	}

	// The loop keeps running for the next viewer.
	next := sessiontest.NewConn("b")
	h.reg.Attach(session.New(next, types.Geometry{Width: 1, Height: 1}))
	h.b.Publish(frame(2))
	waitFor(t, "send to next", func() bool { return len(next.Written()) == 1 })
}

func TestCongestionSkips(t *testing.T) {
	h := newHarness(t)
	conn := sessiontest.NewConn("a")
	conn.FailWrites(session.ErrCongested)
	sess := session.New(conn, types.Geometry{Width: 1, Height: 1})
	h.reg.Attach(sess)
	h.run(t)

	h.b.Publish(frame(1))
	waitFor(t, "congested", func() bool { return testutil.ToFloat64(h.m.FramesCongested) == 1 })

	if sess.Closed() || h.reg.Current() != sess {
		t.Error("congestion must not disconnect")
	}
}

func TestStatsLog(t *testing.T) {
	var buf syncBuffer
	m := metrics.New()
	log := zerolog.New(&buf)
	b := New(&fakeEncoder{}, session.NewRegistry(log, m), m, log, Options{StatsInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	b.Run(ctx)

	if !bytes.Contains(buf.Bytes(), []byte(`"message":"pipeline"`)) {
		t.Errorf("no stats line in %q", buf.Bytes())
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}
