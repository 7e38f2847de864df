package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"mirrorcast/internal/broadcast"
	"mirrorcast/internal/capture"
	"mirrorcast/internal/config"
	"mirrorcast/internal/discovery"
	"mirrorcast/internal/encode"
	"mirrorcast/internal/gesture"
	"mirrorcast/internal/logging"
	"mirrorcast/internal/metrics"
	"mirrorcast/internal/server"
	"mirrorcast/internal/session"
	tlsutil "mirrorcast/internal/tls"
	"mirrorcast/internal/transport"
	"mirrorcast/internal/types"
)

var (
	flagConfig       = pflag.StringP("config", "c", "", "Path to YAML config file")
	flagHost         = pflag.String("host", "", "Listen host (overrides config)")
	flagPort         = pflag.IntP("port", "p", 0, "Listen port (overrides config)")
	flagToken        = pflag.String("token", "", "Bearer token required from viewers")
	flagSource       = pflag.String("source", "", "Capture source: pattern or x11")
	flagDisplay      = pflag.String("display", "", "X11 display to capture and inject into")
	flagFPS          = pflag.Int("fps", 0, "Capture frame rate")
	flagQuality      = pflag.Int("quality", 0, "JPEG quality 1-100")
	flagAllowOrigins = pflag.String("allow-origins", "", "Comma-separated websocket Origin allowlist")
	flagTLS          = pflag.Bool("tls", false, "Enable TLS with a self-signed certificate")
	flagTLSCert      = pflag.String("tls-cert", "", "Path to TLS certificate file (PEM)")
	flagTLSKey       = pflag.String("tls-key", "", "Path to TLS private key file (PEM)")
	flagLogLevel     = pflag.String("log-level", "", "Log level: debug, info, warn, error")
	flagStats        = pflag.Bool("stats", false, "Log pipeline stats every 5 seconds")
)

func main() {
	pflag.Parse()

	cfg, err := config.Load(*flagConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Console)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("mirrorcast")
	}
}

func applyFlags(cfg *config.Config) {
	set := func(name string) bool { return pflag.CommandLine.Changed(name) }
	if set("host") {
		cfg.Server.Host = *flagHost
	}
	if set("port") {
		cfg.Server.Port = *flagPort
	}
	if set("token") {
		cfg.Server.Token = *flagToken
	}
	if set("source") {
		cfg.Capture.Source = *flagSource
	}
	if set("display") {
		cfg.Capture.Display = *flagDisplay
	}
	if set("fps") {
		cfg.Capture.FPS = *flagFPS
	}
	if set("quality") {
		cfg.Encoder.Quality = *flagQuality
	}
	if set("allow-origins") {
		cfg.Server.AllowedOrigins = nil
		for _, o := range strings.Split(*flagAllowOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, o)
			}
		}
	}
	if set("tls") {
		cfg.Server.TLS = *flagTLS
	}
	if set("tls-cert") {
		cfg.Server.TLSCert = *flagTLSCert
	}
	if set("tls-key") {
		cfg.Server.TLSKey = *flagTLSKey
	}
	if set("log-level") {
		cfg.Log.Level = *flagLogLevel
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	src, err := newCaptureSource(cfg.Capture, logging.Component(log, "capture"))
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	defer src.Close()

	inj := newInjector(cfg.Capture, logging.Component(log, "input"))
	defer inj.Close()

	mapping, err := gesture.ParseMapping(cfg.Gesture.Mapping)
	if err != nil {
		return err
	}
	local := types.Geometry{Width: src.Width(), Height: src.Height()}

	reg := session.NewRegistry(logging.Component(log, "registry"), m)

	var stats time.Duration
	if *flagStats {
		stats = 5 * time.Second
	}
	bc := broadcast.New(encode.NewJPEG(cfg.Encoder.Quality, cfg.Encoder.Scale), reg, m,
		logging.Component(log, "broadcast"), broadcast.Options{StatsInterval: stats})

	disc := discovery.New(cfg.Server.Port, local, logging.Component(log, "discovery"))

	scfg := server.Config{
		Addr:           cfg.Addr(),
		Token:          cfg.Server.Token,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		WS: transport.WSOptions{
			WriteTimeout: cfg.Server.WriteTimeout,
			PingInterval: cfg.Server.PingInterval,
			ReadLimit:    cfg.Server.ReadLimit,
		},
		RTCEnabled:    cfg.RTC.Enabled,
		RTC:           transport.RTCOptions{MaxBuffered: cfg.RTC.MaxBuffered, Loopback: cfg.RTC.Loopback},
		OfferTimeout:  cfg.Server.OfferTimeout,
		DefaultRemote: types.Geometry{Width: cfg.Viewer.Width, Height: cfg.Viewer.Height},
		Mapping:       mapping,
		Gesture: gesture.Config{
			Tap:                cfg.Gesture.Tap,
			LongPressThreshold: cfg.Gesture.LongPressThreshold,
			LongPress:          cfg.Gesture.LongPress,
			Swipe:              cfg.Gesture.Swipe,
			Move:               cfg.Gesture.Move,
			DoubleTapGap:       cfg.Gesture.DoubleTapGap,
			TapSlop:            cfg.Gesture.TapSlop,
			MaxPointers:        cfg.Gesture.MaxPointers,
		},
	}
	if cfg.Metrics.Enabled {
		scfg.MetricsPath = cfg.Metrics.Path
	}
	if cfg.Server.TLS || cfg.Server.TLSCert != "" {
		tc, err := tlsutil.ServerConfig(cfg.Server.TLSCert, cfg.Server.TLSKey, logging.Component(log, "tls"))
		if err != nil {
			return err
		}
		scfg.TLS = tc
	}

	srv := server.New(scfg, local, reg, inj, disc, m, logging.Component(log, "server"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		bc.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := src.Run(ctx, bc.Publish); err != nil {
			log.Error().Err(err).Msg("capture stopped")
		}
	}()
	if cfg.Discovery.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Discovery.Port)
			if err := disc.ListenAndServe(ctx, addr); err != nil {
				log.Warn().Err(err).Msg("discovery responder")
			}
		}()
	}

	err = srv.ListenAndServe(ctx)
	stop()
	wg.Wait()
	log.Info().Msg("shut down")
	return err
}

func newPattern(c config.CaptureConfig) (types.CaptureSource, error) {
	p, err := capture.NewPattern(c.Width, c.Height, c.FPS)
	if err != nil {
		return nil, err
	}
	return p, nil
}
