package transport

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mirrorcast/internal/session"
)

// serve upgrades one connection and hands it to fn.
func serve(t *testing.T, opts WSOptions, fn func(c *WS)) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sock, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		fn(NewWS(sock, opts))
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestWSMessageKinds(t *testing.T) {
	got := make(chan session.MessageKind, 2)
	client := serve(t, WSOptions{}, func(c *WS) {
		if err := c.WriteMessage(session.Binary, []byte{1, 2}); err != nil {
			t.Errorf("write binary: %v", err)
		}
		if err := c.WriteMessage(session.Text, []byte(`{}`)); err != nil {
			t.Errorf("write text: %v", err)
		}
		kind, _, err := c.ReadMessage()
		if err != nil {
			t.Errorf("read: %v", err)
		}
		got <- kind
	})

	mt, _, err := client.ReadMessage()
	if err != nil || mt != websocket.BinaryMessage {
		t.Fatalf("first message = %d, %v", mt, err)
	}
	mt, _, err = client.ReadMessage()
	if err != nil || mt != websocket.TextMessage {
		t.Fatalf("second message = %d, %v", mt, err)
	}
	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"type":"touchEvent"}`)); err != nil {
		t.Fatal(err)
	}
	select {
	case k := <-got:
		if k != session.Text {
			t.Errorf("server read kind = %s", k)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never read")
	}
}

func TestWSCloseReason(t *testing.T) {
	client := serve(t, WSOptions{WriteTimeout: time.Second}, func(c *WS) {
		_ = c.Close(session.ReasonSuperseded)
		if err := c.Close("again"); err != nil {
			t.Errorf("second close: %v", err)
		}
		if err := c.WriteMessage(session.Binary, nil); err == nil {
			t.Error("write after close succeeded")
		}
	})

	_, _, err := client.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want close error", err)
	}
	if ce.Code != websocket.CloseNormalClosure || ce.Text != session.ReasonSuperseded {
		t.Errorf("close = %d %q", ce.Code, ce.Text)
	}
	if !IsPeerClose(err) {
		t.Error("normal closure not recognized")
	}
}

func TestWSReadLimit(t *testing.T) {
	errc := make(chan error, 1)
	client := serve(t, WSOptions{ReadLimit: 16}, func(c *WS) {
		_, _, err := c.ReadMessage()
		errc <- err
	})
	_ = client.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 64)))

	select {
	case err := <-errc:
		if err == nil {
			t.Error("oversized message accepted")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("read never returned")
	}
}
