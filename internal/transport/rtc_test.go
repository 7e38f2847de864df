package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"mirrorcast/internal/session"
)

type viewer struct {
	pc   *webrtc.PeerConnection
	dc   *webrtc.DataChannel
	msgs chan webrtc.DataChannelMessage
}

func (v *viewer) next(t *testing.T) webrtc.DataChannelMessage {
	t.Helper()
	select {
	case m := <-v.msgs:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no message from server")
		return webrtc.DataChannelMessage{}
	}
}

// connect negotiates an in-process viewer against AcceptOffer over loopback
// and returns both ends once the data channel is open on each.
func connect(t *testing.T, opts RTCOptions) (*DataChannel, *viewer) {
	t.Helper()
	opts.Loopback = true

	pc, err := newAPI(opts).NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	v := &viewer{pc: pc, msgs: make(chan webrtc.DataChannelMessage, 64)}
	v.dc, err = pc.CreateDataChannel(DataChannelLabel, nil)
	if err != nil {
		t.Fatal(err)
	}
	viewerOpen := make(chan struct{})
	v.dc.OnOpen(func() { close(viewerOpen) })
	v.dc.OnMessage(func(m webrtc.DataChannelMessage) {
		select {
		case v.msgs <- m:
		default:
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatal(err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatal(err)
	}
	<-gathered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	opened := make(chan *DataChannel, 1)
	answer, err := AcceptOffer(ctx, pc.LocalDescription().SDP, "loopback", opts, zerolog.Nop(), func(c *DataChannel) {
		opened <- c
	})
	if err != nil {
		t.Fatalf("accept offer: %v", err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		t.Fatal(err)
	}

	var c *DataChannel
	select {
	case c = <-opened:
	case <-time.After(10 * time.Second):
		t.Fatal("server data channel never opened")
	}
	select {
	case <-viewerOpen:
	case <-time.After(10 * time.Second):
		t.Fatal("viewer data channel never opened")
	}
	t.Cleanup(func() { _ = c.Close("") })
	return c, v
}

func TestDataChannelMessagesAndCloseNotice(t *testing.T) {
	c, v := connect(t, RTCOptions{})

	if c.RemoteAddr() != "loopback" {
		t.Errorf("RemoteAddr = %q", c.RemoteAddr())
	}
	if err := c.WriteMessage(session.Binary, []byte{1, 2, 3}); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	if m := v.next(t); m.IsString || len(m.Data) != 3 {
		t.Errorf("first message = %+v, want 3 binary bytes", m)
	}
	if err := c.WriteMessage(session.Text, []byte(`{"type":"welcome"}`)); err != nil {
		t.Fatalf("write text: %v", err)
	}
	if m := v.next(t); !m.IsString || string(m.Data) != `{"type":"welcome"}` {
		t.Errorf("second message = %q string=%v", m.Data, m.IsString)
	}

	if err := v.dc.SendText(`{"type":"touchEvent"}`); err != nil {
		t.Fatal(err)
	}
	kind, data, err := c.ReadMessage()
	if err != nil || kind != session.Text || string(data) != `{"type":"touchEvent"}` {
		t.Fatalf("ReadMessage = %v, %q, %v", kind, data, err)
	}

	if err := c.Close(session.ReasonSuperseded); err != nil {
		t.Logf("close: %v", err)
	}
	m := v.next(t)
	var notice closeNotice
	if err := json.Unmarshal(m.Data, &notice); err != nil || !m.IsString {
		t.Fatalf("close notice %q: %v", m.Data, err)
	}
	if notice.Type != "close" || notice.Reason != session.ReasonSuperseded {
		t.Errorf("notice = %+v", notice)
	}

	if _, _, err := c.ReadMessage(); !errors.Is(err, net.ErrClosed) {
		t.Errorf("read after close = %v, want net.ErrClosed", err)
	}
	if err := c.WriteMessage(session.Binary, []byte{1}); !errors.Is(err, net.ErrClosed) {
		t.Errorf("write after close = %v, want net.ErrClosed", err)
	}
}

func TestDataChannelCongestion(t *testing.T) {
	c, _ := connect(t, RTCOptions{MaxBuffered: 1})

	frame := make([]byte, 16*1024)
	congested := false
	for i := 0; i < 1000 && !congested; i++ {
		switch err := c.WriteMessage(session.Binary, frame); {
		case errors.Is(err, session.ErrCongested):
			congested = true
		case err != nil:
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if !congested {
		t.Fatal("writes never reported congestion")
	}

	// Text is control traffic and is never refused for backpressure.
	if err := c.WriteMessage(session.Text, []byte(`{"type":"welcome"}`)); err != nil {
		t.Errorf("text while congested: %v", err)
	}
}
