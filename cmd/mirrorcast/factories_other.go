//go:build !linux || !cgo

package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"mirrorcast/internal/config"
	"mirrorcast/internal/input"
	"mirrorcast/internal/types"
)

func newCaptureSource(c config.CaptureConfig, log zerolog.Logger) (types.CaptureSource, error) {
	if c.Source == "x11" {
		return nil, fmt.Errorf("x11 capture needs a linux build with cgo")
	}
	return newPattern(c)
}

func newInjector(c config.CaptureConfig, log zerolog.Logger) types.InputInjector {
	return input.NewLogger(log)
}
