//go:build linux && cgo

package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"mirrorcast/internal/capture"
	"mirrorcast/internal/config"
	"mirrorcast/internal/input"
	"mirrorcast/internal/types"
)

func display(c config.CaptureConfig) string {
	if c.Display != "" {
		return c.Display
	}
	return os.Getenv("DISPLAY")
}

func newCaptureSource(c config.CaptureConfig, log zerolog.Logger) (types.CaptureSource, error) {
	switch c.Source {
	case "x11":
		d := display(c)
		if d == "" {
			return nil, fmt.Errorf("no display: use --display or set DISPLAY")
		}
		src, err := capture.NewX11(d, c.FPS, log)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return newPattern(c)
	}
}

// newInjector uses XTest when capturing a real display and falls back to
// logging strokes otherwise.
func newInjector(c config.CaptureConfig, log zerolog.Logger) types.InputInjector {
	if c.Source == "x11" {
		inj, err := input.NewXTestInjector(display(c), log)
		if err == nil {
			return inj
		}
		log.Warn().Err(err).Msg("XTest unavailable, logging strokes instead")
	}
	return input.NewLogger(log)
}
