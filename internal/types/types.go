package types

import (
	"context"
	"time"
)

// PixFmt identifies the byte layout of a Frame's pixel buffer.
type PixFmt int

const (
	PixFmtRGBA PixFmt = iota
	PixFmtBGRA
)

func (p PixFmt) String() string {
	switch p {
	case PixFmtRGBA:
		return "rgba"
	case PixFmtBGRA:
		return "bgra"
	}
	return "unknown"
}

// BytesPerPixel returns the size of one pixel, or 0 for unknown formats.
func (p PixFmt) BytesPerPixel() int {
	switch p {
	case PixFmtRGBA, PixFmtBGRA:
		return 4
	}
	return 0
}

// Frame is one captured screen snapshot. Frames are immutable once handed
// to a consumer: capture sources must not reuse Data after publishing.
type Frame struct {
	Data   []byte
	Width  int
	Height int
	Stride int // bytes per row; 0 means Width * bytes per pixel
	PixFmt PixFmt
	Seq    uint64
}

// RowStride returns the effective stride of the frame.
func (f *Frame) RowStride() int {
	if f.Stride > 0 {
		return f.Stride
	}
	return f.Width * f.PixFmt.BytesPerPixel()
}

type EncodedFrame struct {
	Data []byte
	Seq  uint64
}

// Point is a coordinate in local screen space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is a single injectable path with a start delay and a duration.
// A stroke with one point (or identical points) is a press at that point.
//
// Consecutive segments of one drag are chained: Continue means the contact
// is already down from the previous stroke, Hold means it stays down after
// this one.
type Stroke struct {
	Path     []Point
	Delay    time.Duration
	Duration time.Duration
	Continue bool
	Hold     bool
}

// Start returns the first point of the stroke.
func (s Stroke) Start() Point {
	if len(s.Path) == 0 {
		return Point{}
	}
	return s.Path[0]
}

// End returns the last point of the stroke.
func (s Stroke) End() Point {
	if len(s.Path) == 0 {
		return Point{}
	}
	return s.Path[len(s.Path)-1]
}

// Geometry is a width/height pair in pixels.
type Geometry struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CaptureSource produces frames at the device refresh rate. Run blocks until
// ctx is cancelled, calling onFrame from a single goroutine.
type CaptureSource interface {
	Width() int
	Height() int
	Run(ctx context.Context, onFrame func(*Frame)) error
	Close()
}

// FrameEncoder compresses a raw frame into a transmittable blob.
type FrameEncoder interface {
	Encode(frame *Frame) (*EncodedFrame, error)
}

// InputInjector performs synthesized gestures on the local device. Dispatch
// must not block on gesture completion; done is called exactly once with
// the outcome, possibly from another goroutine.
type InputInjector interface {
	Dispatch(strokes []Stroke, done func(error))
	Close()
}
