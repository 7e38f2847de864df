package encode

import (
	"bytes"
	"errors"
	"image/jpeg"
	"math"
	"testing"

	"mirrorcast/internal/types"
)

func solidFrame(w, h int, pf types.PixFmt, r, g, b byte) *types.Frame {
	data := make([]byte, w*h*4)
	for i := 0; i < len(data); i += 4 {
		if pf == types.PixFmtBGRA {
			data[i], data[i+1], data[i+2] = b, g, r
		} else {
			data[i], data[i+1], data[i+2] = r, g, b
		}
		data[i+3] = 0xff
	}
	return &types.Frame{Data: data, Width: w, Height: h, PixFmt: pf, Seq: 7}
}

func TestEncodeProducesJPEG(t *testing.T) {
	enc := NewJPEG(80, 1)
	for _, pf := range []types.PixFmt{types.PixFmtRGBA, types.PixFmtBGRA} {
		t.Run(pf.String(), func(t *testing.T) {
			out, err := enc.Encode(solidFrame(32, 16, pf, 200, 10, 10))
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if out.Seq != 7 {
				t.Errorf("Seq = %d, want 7", out.Seq)
			}
			img, err := jpeg.Decode(bytes.NewReader(out.Data))
			if err != nil {
				t.Fatalf("output is not a JPEG: %v", err)
			}
			if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 16 {
				t.Errorf("decoded size %v, want 32x16", b)
			}
			r, g, _, _ := img.At(16, 8).RGBA()
			if r>>8 < 150 || g>>8 > 60 {
				t.Errorf("channel order lost: r=%d g=%d", r>>8, g>>8)
			}
		})
	}
}

func TestEncodeScales(t *testing.T) {
	enc := NewJPEG(80, 0.5)
	out, err := enc.Encode(solidFrame(64, 32, types.PixFmtRGBA, 0, 0, 0))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 32 || cfg.Height != 16 {
		t.Errorf("scaled size %dx%d, want 32x16", cfg.Width, cfg.Height)
	}
}

func TestEncodeHonoursStride(t *testing.T) {
	w, h, stride := 4, 2, 24
	data := make([]byte, stride*h)
	f := &types.Frame{Data: data, Width: w, Height: h, Stride: stride, PixFmt: types.PixFmtBGRA}
	if _, err := NewJPEG(80, 1).Encode(f); err != nil {
		t.Fatalf("Encode with padded stride: %v", err)
	}
}

func TestEncodeInvalidFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame *types.Frame
	}{
		{"nil", nil},
		{"zero width", &types.Frame{Width: 0, Height: 10, Data: make([]byte, 40)}},
		{"negative height", &types.Frame{Width: 10, Height: -1, Data: make([]byte, 40)}},
		{"short buffer", &types.Frame{Width: 10, Height: 10, Data: make([]byte, 399)}},
		{"short stride", &types.Frame{Width: 10, Height: 2, Stride: 8, Data: make([]byte, 80)}},
		{"bad format", &types.Frame{Width: 1, Height: 1, PixFmt: 9, Data: make([]byte, 4)}},
		{"stride overflow", &types.Frame{Width: 1, Height: 3, Stride: math.MaxInt/2 + 1, Data: make([]byte, 16)}},
		{"width overflow", &types.Frame{Width: math.MaxInt/2 + 1, Height: 1, Data: make([]byte, 16)}},
	}

	enc := NewJPEG(80, 1)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := enc.Encode(tt.frame)
			if !errors.Is(err, ErrInvalidFrame) {
				t.Fatalf("err = %v, want ErrInvalidFrame", err)
			}
			var encErr *Error
			if !errors.As(err, &encErr) {
				t.Errorf("err %T is not *Error", err)
			}
		})
	}
}

func TestNewJPEGDefaults(t *testing.T) {
	if q := NewJPEG(0, 1).Quality(); q != DefaultQuality {
		t.Errorf("Quality() = %d, want %d", q, DefaultQuality)
	}
	if w, h := NewJPEG(80, 3).OutputSize(100, 50); w != 100 || h != 50 {
		t.Errorf("OutputSize with invalid scale = %dx%d, want unscaled", w, h)
	}
}
