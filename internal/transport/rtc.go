package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"mirrorcast/internal/session"
)

const DataChannelLabel = "mirror"

// closeDrain bounds how long Close waits for the close notice to be
// acknowledged before tearing the peer down.
const closeDrain = time.Second

type RTCOptions struct {
	// MaxBuffered is the outbound byte count above which frame writes
	// report session.ErrCongested.
	MaxBuffered uint64
	// OpenTimeout bounds how long an answered peer has to open the data
	// channel before the peer connection is discarded.
	OpenTimeout time.Duration
	ICEServers  []string
	// Loopback gathers 127.0.0.1 candidates over UDP4 only.
	Loopback bool
}

func newAPI(opts RTCOptions) *webrtc.API {
	se := webrtc.SettingEngine{}
	if opts.Loopback {
		se.SetIncludeLoopbackCandidate(true)
		se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}

type message struct {
	kind session.MessageKind
	data []byte
}

// DataChannel is a session.Conn over a WebRTC data channel.
type DataChannel struct {
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	remote string
	max    uint64

	inbound chan message
	done    chan struct{}
	once    sync.Once
}

// AcceptOffer answers a viewer's SDP offer. onOpen runs on its own goroutine
// once the viewer's data channel is open.
func AcceptOffer(ctx context.Context, offer, remote string, opts RTCOptions, log zerolog.Logger, onOpen func(*DataChannel)) (string, error) {
	cfg := webrtc.Configuration{}
	if len(opts.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: opts.ICEServers}}
	}
	pc, err := newAPI(opts).NewPeerConnection(cfg)
	if err != nil {
		return "", fmt.Errorf("create peer connection: %w", err)
	}

	var opened atomic.Bool
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != DataChannelLabel {
			log.Debug().Str("label", dc.Label()).Msg("ignoring data channel")
			return
		}
		c := &DataChannel{
			pc:      pc,
			dc:      dc,
			remote:  remote,
			max:     opts.MaxBuffered,
			inbound: make(chan message, 64),
			done:    make(chan struct{}),
		}
		dc.OnMessage(c.onMessage)
		dc.OnClose(func() { c.shutdown() })
		dc.OnOpen(func() {
			if opened.CompareAndSwap(false, true) {
				go onOpen(c)
			}
		})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug().Str("state", state.String()).Str("remote", remote).Msg("peer connection state")
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateDisconnected {
			_ = pc.Close()
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		_ = pc.Close()
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return "", fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return "", fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		_ = pc.Close()
		return "", ctx.Err()
	}

	if opts.OpenTimeout > 0 {
		time.AfterFunc(opts.OpenTimeout, func() {
			if !opened.Load() {
				log.Info().Str("remote", remote).Msg("data channel never opened, dropping peer")
				_ = pc.Close()
			}
		})
	}
	return pc.LocalDescription().SDP, nil
}

func (c *DataChannel) onMessage(msg webrtc.DataChannelMessage) {
	kind := session.Binary
	if msg.IsString {
		kind = session.Text
	}
	select {
	case c.inbound <- message{kind: kind, data: msg.Data}:
	case <-c.done:
	}
}

func (c *DataChannel) WriteMessage(kind session.MessageKind, data []byte) error {
	select {
	case <-c.done:
		return net.ErrClosed
	default:
	}
	if kind == session.Text {
		return c.dc.SendText(string(data))
	}
	if c.max > 0 && c.dc.BufferedAmount() > c.max {
		return session.ErrCongested
	}
	return c.dc.Send(data)
}

func (c *DataChannel) ReadMessage() (session.MessageKind, []byte, error) {
	select {
	case m := <-c.inbound:
		return m.kind, m.data, nil
	case <-c.done:
		return 0, nil, net.ErrClosed
	}
}

type closeNotice struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// Close tells the viewer why and tears down the peer connection. Data
// channels carry no close reason of their own, so it is sent as a final
// text message, given up to closeDrain to be acknowledged.
func (c *DataChannel) Close(reason string) error {
	var err error
	c.once.Do(func() {
		close(c.done)
		if c.dc.ReadyState() == webrtc.DataChannelStateOpen && reason != "" {
			if data, err := json.Marshal(closeNotice{Type: "close", Reason: reason}); err == nil && c.dc.SendText(string(data)) == nil {
				deadline := time.Now().Add(closeDrain)
				for c.dc.BufferedAmount() > 0 && time.Now().Before(deadline) {
					time.Sleep(5 * time.Millisecond)
				}
			}
		}
		err = errors.Join(c.dc.Close(), c.pc.Close())
	})
	return err
}

func (c *DataChannel) shutdown() {
	c.once.Do(func() {
		close(c.done)
		_ = c.pc.Close()
	})
}

func (c *DataChannel) RemoteAddr() string { return c.remote }
