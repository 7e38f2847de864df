package capture

import (
	"context"
	"testing"
	"time"

	"mirrorcast/internal/encode"
	"mirrorcast/internal/types"
)

func TestPatternFrames(t *testing.T) {
	p, err := NewPattern(64, 32, 30)
	if err != nil {
		t.Fatal(err)
	}
	a, b := p.Next(), p.Next()
	if a.Seq != 1 || b.Seq != 2 {
		t.Errorf("seq = %d, %d", a.Seq, b.Seq)
	}
	if &a.Data[0] == &b.Data[0] {
		t.Error("frames share a buffer")
	}
	if err := encode.Validate(a); err != nil {
		t.Errorf("pattern frame invalid: %v", err)
	}
	if a.PixFmt != types.PixFmtRGBA {
		t.Errorf("format = %s", a.PixFmt)
	}
}

func TestPatternRejectsBadSize(t *testing.T) {
	if _, err := NewPattern(0, 10, 30); err == nil {
		t.Error("expected error for zero width")
	}
	if _, err := NewPattern(10, 10, 0); err == nil {
		t.Error("expected error for zero fps")
	}
}

func TestPatternRun(t *testing.T) {
	p, _ := NewPattern(8, 8, 200)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var n int
	var last uint64
	if err := p.Run(ctx, func(f *types.Frame) {
		n++
		if f.Seq <= last {
			t.Errorf("seq went from %d to %d", last, f.Seq)
		}
		last = f.Seq
	}); err != nil {
		t.Fatal(err)
	}
	if n == 0 {
		t.Error("no frames produced")
	}
}
