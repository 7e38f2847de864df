// Package capture provides screen frame sources.
package capture

import (
	"context"
	"fmt"
	"time"

	"mirrorcast/internal/types"
)

// Pattern is a pure-Go source that renders a moving test card. It needs no
// display and is what tests and headless runs use.
type Pattern struct {
	width, height int
	fps           int
	seq           uint64
}

func NewPattern(width, height, fps int) (*Pattern, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("pattern size %dx%d must be positive", width, height)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("fps %d must be > 0", fps)
	}
	return &Pattern{width: width, height: height, fps: fps}, nil
}

func (p *Pattern) Width() int  { return p.width }
func (p *Pattern) Height() int { return p.height }

// Next renders the next frame into a fresh buffer.
func (p *Pattern) Next() *types.Frame {
	p.seq++
	w, h := p.width, p.height
	stride := w * 4
	buf := make([]byte, stride*h)

	// Vertical bar sweeps one eighth of the width per second at 30fps.
	barW := max(w/16, 1)
	barX := int(p.seq*uint64(max(w/240, 1))) % w

	for y := 0; y < h; y++ {
		row := buf[y*stride : (y+1)*stride]
		g := byte(y * 255 / max(h-1, 1))
		for x := 0; x < w; x++ {
			o := x * 4
			if x >= barX && x < barX+barW {
				row[o], row[o+1], row[o+2] = 255, 255, 255
			} else {
				row[o] = byte(x * 255 / max(w-1, 1))
				row[o+1] = g
				row[o+2] = byte(p.seq)
			}
			row[o+3] = 255
		}
	}
	return &types.Frame{Data: buf, Width: w, Height: h, Stride: stride, PixFmt: types.PixFmtRGBA, Seq: p.seq}
}

func (p *Pattern) Run(ctx context.Context, onFrame func(*types.Frame)) error {
	ticker := time.NewTicker(time.Second / time.Duration(p.fps))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			onFrame(p.Next())
		}
	}
}

func (p *Pattern) Close() {}
