package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"mirrorcast/internal/control"
	"mirrorcast/internal/gesture"
	"mirrorcast/internal/metrics"
	"mirrorcast/internal/session"
	"mirrorcast/internal/transport"
	"mirrorcast/internal/types"
	"mirrorcast/web"
)

const reasonEnded = "session ended"

// ErrShuttingDown is returned by AttachSession once Shutdown has begun.
var ErrShuttingDown = errors.New("server: shutting down")

// Config holds the HTTP surface settings.
type Config struct {
	Addr           string
	Token          string
	AllowedOrigins []string
	TLS            *tls.Config

	WS           transport.WSOptions
	RTCEnabled   bool
	RTC          transport.RTCOptions
	OfferTimeout time.Duration

	// DefaultRemote is the viewer geometry used when a connection does not
	// announce its own.
	DefaultRemote types.Geometry
	Mapping       gesture.Mapping
	Gesture       gesture.Config

	MetricsPath string
}

// ControlEventSink receives every parsed control event in arrival order.
type ControlEventSink func(ev control.Event)

type Server struct {
	cfg       Config
	local     types.Geometry
	registry  *session.Registry
	injector  types.InputInjector
	discovery http.Handler
	metrics   *metrics.Metrics
	log       zerolog.Logger

	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	upgrader       websocket.Upgrader

	sinkMu sync.RWMutex
	sink   ControlEventSink

	// mu orders session admission against Shutdown.
	mu           sync.Mutex
	shuttingDown bool
	sessions     sync.WaitGroup
	srv          *http.Server
}

// New builds a server for a local screen of size local. discovery may be
// nil to disable /info.
func New(cfg Config, local types.Geometry, reg *session.Registry, inj types.InputInjector,
	discovery http.Handler, m *metrics.Metrics, log zerolog.Logger) *Server {
	s := &Server{
		cfg:            cfg,
		local:          local,
		registry:       reg,
		injector:       inj,
		discovery:      discovery,
		metrics:        m,
		log:            log,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
	}
	for _, o := range cfg.AllowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" {
			continue
		}
		s.allowedOrigins[o] = true
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			s.allowedHosts[u.Host] = true
		}
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// Handler returns the routed HTTP surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /ws", s.handleWS)
	if s.cfg.RTCEnabled {
		mux.HandleFunc("POST /rtc", s.handleRTCOffer)
		mux.HandleFunc("OPTIONS /rtc", s.handleRTCOptions)
	}
	if s.discovery != nil {
		mux.Handle("/info", s.discovery)
	}
	if s.cfg.MetricsPath != "" {
		mux.Handle("GET "+s.cfg.MetricsPath, s.metrics.Handler())
	}
	return mux
}

// CurrentScreenGeometry is the local capture size every session maps onto.
func (s *Server) CurrentScreenGeometry() types.Geometry { return s.local }

// SetControlEventSink installs fn to observe control events. A nil fn
// removes the sink.
func (s *Server) SetControlEventSink(fn ControlEventSink) {
	s.sinkMu.Lock()
	s.sink = fn
	s.sinkMu.Unlock()
}

func (s *Server) controlSink() ControlEventSink {
	s.sinkMu.RLock()
	defer s.sinkMu.RUnlock()
	return s.sink
}

type welcome struct {
	Type         string `json:"type"`
	ScreenWidth  int    `json:"screenWidth"`
	ScreenHeight int    `json:"screenHeight"`
}

// AttachSession makes conn the active viewer. The welcome message is sent
// before the session becomes current, so it always precedes frames. The
// control loop runs until the connection ends. Once Shutdown has begun conn
// is closed and ErrShuttingDown returned.
func (s *Server) AttachSession(conn session.Conn, remote types.Geometry) (*session.Session, error) {
	geom, err := gesture.NewGeometry(remote, s.local, s.cfg.Mapping)
	if err != nil {
		_ = conn.Close("bad geometry")
		return nil, err
	}

	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		_ = conn.Close(session.ReasonShutdown)
		return nil, ErrShuttingDown
	}
	s.sessions.Add(1)
	s.mu.Unlock()

	sess := session.New(conn, remote)
	log := s.log.With().Str("session", sess.ID).Logger()

	if err := sess.SendJSON(welcome{Type: "welcome", ScreenWidth: s.local.Width, ScreenHeight: s.local.Height}); err != nil {
		_ = sess.Close(reasonEnded)
		s.sessions.Done()
		return nil, fmt.Errorf("send welcome: %w", err)
	}

	tr := gesture.New(geom, s.cfg.Gesture, s.injector, log, s.metrics)

	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		_ = sess.Close(session.ReasonShutdown)
		s.sessions.Done()
		return nil, ErrShuttingDown
	}
	s.registry.Attach(sess)
	s.mu.Unlock()

	go func() {
		defer s.sessions.Done()
		s.controlLoop(sess, tr, log)
	}()
	return sess, nil
}

func (s *Server) controlLoop(sess *session.Session, tr *gesture.Translator, log zerolog.Logger) {
	defer func() {
		tr.Reset()
		s.registry.Detach(sess)
		_ = sess.Close(reasonEnded)
		log.Info().Str("reason", sess.CloseReason()).Msg("session ended")
	}()

	for {
		kind, data, err := sess.Receive()
		if err != nil {
			if sess.Closed() || transport.IsPeerClose(err) || errors.Is(err, net.ErrClosed) {
				log.Debug().Err(err).Msg("control channel closed")
			} else {
				log.Info().Err(err).Msg("control channel read failed")
			}
			return
		}
		if kind != session.Text {
			log.Debug().Int("bytes", len(data)).Msg("ignoring binary control message")
			continue
		}

		ev, err := control.Parse(data)
		if err != nil {
			s.metrics.ParseErrors.Inc()
			log.Warn().Err(err).Msg("dropping control message")
			continue
		}
		s.metrics.ControlEvents.WithLabelValues(string(ev.Kind)).Inc()
		if sink := s.controlSink(); sink != nil {
			sink(ev)
		}
		tr.Handle(ev)
	}
}

// remoteGeometry reads ?width=&height= and falls back to the configured
// viewer size.
func (s *Server) remoteGeometry(r *http.Request) (types.Geometry, error) {
	q := r.URL.Query()
	ws, hs := q.Get("width"), q.Get("height")
	if ws == "" && hs == "" {
		return s.cfg.DefaultRemote, nil
	}
	w, err1 := strconv.Atoi(ws)
	h, err2 := strconv.Atoi(hs)
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return types.Geometry{}, fmt.Errorf("invalid geometry %q x %q", ws, hs)
	}
	return types.Geometry{Width: w, Height: h}, nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data, err := web.Content.ReadFile("index.html")
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	remote, err := s.remoteGeometry(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("ws upgrade")
		return
	}
	conn := transport.NewWS(sock, s.cfg.WS)
	if _, err := s.AttachSession(conn, remote); err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("session open failed")
	}
}

func (s *Server) handleRTCOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRTCOffer(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	remote, err := s.remoteGeometry(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || len(body) == 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	timeout := s.cfg.OfferTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	opts := s.cfg.RTC
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = timeout
	}
	answer, err := transport.AcceptOffer(ctx, string(body), r.RemoteAddr, opts, s.log, func(dc *transport.DataChannel) {
		if _, err := s.AttachSession(dc, remote); err != nil {
			s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("rtc session open failed")
		}
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("rtc offer")
		http.Error(w, "bad SDP offer", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/sdp")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(answer))
}

func (s *Server) authorize(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	if r.URL.Query().Get("token") == s.cfg.Token {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.cfg.Token
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			return s.allowedHosts[u.Host]
		}
		return false
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Host == r.Host {
		return true
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         s.cfg.TLS,
	}

	errc := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.TLS != nil {
			err = s.srv.ServeTLS(ln, "", "")
		} else {
			err = s.srv.Serve(ln)
		}
		errc <- err
	}()

	scheme := "http"
	if s.cfg.TLS != nil {
		scheme = "https"
	}
	s.log.Info().Str("addr", ln.Addr().String()).Str("scheme", scheme).
		Int("width", s.local.Width).Int("height", s.local.Height).Msg("listening")

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting connections, closes the current session and
// waits for control loops to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shuttingDown = true
	s.mu.Unlock()

	var err error
	if s.srv != nil {
		err = s.srv.Shutdown(ctx)
	}
	s.registry.Shutdown(session.ReasonShutdown)

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}
	return err
}
