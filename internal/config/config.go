package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Capture   CaptureConfig   `yaml:"capture"`
	Encoder   EncoderConfig   `yaml:"encoder"`
	Viewer    ViewerConfig    `yaml:"viewer"`
	Gesture   GestureConfig   `yaml:"gesture"`
	RTC       RTCConfig       `yaml:"rtc"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Token          string        `yaml:"token"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	TLS            bool          `yaml:"tls"`
	TLSCert        string        `yaml:"tls_cert"`
	TLSKey         string        `yaml:"tls_key"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	ReadLimit      int64         `yaml:"read_limit"`
	OfferTimeout   time.Duration `yaml:"offer_timeout"`
}

type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type CaptureConfig struct {
	Source  string `yaml:"source"`
	Display string `yaml:"display"`
	FPS     int    `yaml:"fps"`
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
}

type EncoderConfig struct {
	Quality int     `yaml:"quality"`
	Scale   float64 `yaml:"scale"`
}

// ViewerConfig is the remote geometry assumed when a viewer does not
// announce its own at connect time.
type ViewerConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type GestureConfig struct {
	Mapping            string        `yaml:"mapping"`
	Tap                time.Duration `yaml:"tap"`
	LongPressThreshold time.Duration `yaml:"long_press_threshold"`
	LongPress          time.Duration `yaml:"long_press"`
	Swipe              time.Duration `yaml:"swipe"`
	Move               time.Duration `yaml:"move"`
	DoubleTapGap       time.Duration `yaml:"double_tap_gap"`
	TapSlop            float64       `yaml:"tap_slop"`
	MaxPointers        int           `yaml:"max_pointers"`
}

type RTCConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MaxBuffered uint64 `yaml:"max_buffered"`
	// Loopback offers 127.0.0.1 candidates, for viewers on the same host.
	Loopback bool `yaml:"loopback"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			WriteTimeout: 5 * time.Second,
			PingInterval: 30 * time.Second,
			ReadLimit:    64 * 1024,
			OfferTimeout: 10 * time.Second,
		},
		Discovery: DiscoveryConfig{
			Enabled: true,
			Port:    8081,
		},
		Capture: CaptureConfig{
			Source: "pattern",
			FPS:    30,
			Width:  1280,
			Height: 720,
		},
		Encoder: EncoderConfig{
			Quality: 80,
			Scale:   1.0,
		},
		Viewer: ViewerConfig{
			Width:  2048,
			Height: 1536,
		},
		Gesture: GestureConfig{
			Mapping:            "stretch",
			Tap:                100 * time.Millisecond,
			LongPressThreshold: 500 * time.Millisecond,
			LongPress:          500 * time.Millisecond,
			Swipe:              200 * time.Millisecond,
			Move:               50 * time.Millisecond,
			DoubleTapGap:       150 * time.Millisecond,
			TapSlop:            10,
			MaxPointers:        10,
		},
		RTC: RTCConfig{
			Enabled:     true,
			MaxBuffered: 1 << 20,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path or a
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if (c.Server.TLSCert != "") != (c.Server.TLSKey != "") {
		errs = append(errs, errors.New("server.tls_cert and server.tls_key must both be set"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, errors.New("server.write_timeout must be > 0"))
	}
	if c.Discovery.Enabled && (c.Discovery.Port <= 0 || c.Discovery.Port > 65535) {
		errs = append(errs, fmt.Errorf("discovery.port %d out of range", c.Discovery.Port))
	}
	switch c.Capture.Source {
	case "pattern", "x11":
	default:
		errs = append(errs, fmt.Errorf("capture.source %q: want pattern or x11", c.Capture.Source))
	}
	if c.Capture.FPS <= 0 {
		errs = append(errs, errors.New("capture.fps must be > 0"))
	}
	if c.Capture.Source == "pattern" && (c.Capture.Width <= 0 || c.Capture.Height <= 0) {
		errs = append(errs, errors.New("capture.width and capture.height must be > 0"))
	}
	if c.Encoder.Quality < 1 || c.Encoder.Quality > 100 {
		errs = append(errs, fmt.Errorf("encoder.quality %d: want 1..100", c.Encoder.Quality))
	}
	if c.Encoder.Scale <= 0 || c.Encoder.Scale > 1 {
		errs = append(errs, fmt.Errorf("encoder.scale %g: want (0, 1]", c.Encoder.Scale))
	}
	if c.Viewer.Width <= 0 || c.Viewer.Height <= 0 {
		errs = append(errs, errors.New("viewer.width and viewer.height must be > 0"))
	}
	switch c.Gesture.Mapping {
	case "stretch", "contain":
	default:
		errs = append(errs, fmt.Errorf("gesture.mapping %q: want stretch or contain", c.Gesture.Mapping))
	}
	if c.Gesture.Tap <= 0 || c.Gesture.LongPress <= 0 || c.Gesture.LongPressThreshold <= 0 ||
		c.Gesture.Swipe <= 0 || c.Gesture.Move <= 0 {
		errs = append(errs, errors.New("gesture durations must be > 0"))
	}
	if c.Gesture.TapSlop < 0 {
		errs = append(errs, fmt.Errorf("gesture.tap_slop %v must be >= 0", c.Gesture.TapSlop))
	}
	if c.Gesture.MaxPointers <= 0 {
		errs = append(errs, fmt.Errorf("gesture.max_pointers %d must be > 0", c.Gesture.MaxPointers))
	}
	return errors.Join(errs...)
}

// Addr returns the host:port the main server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
