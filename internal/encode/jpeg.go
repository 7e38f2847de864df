package encode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"sync"

	"golang.org/x/image/draw"

	"mirrorcast/internal/types"
)

const DefaultQuality = 80

// ErrInvalidFrame is wrapped by Error when a frame has bad dimensions or a
// buffer that does not match its declared pixel format.
var ErrInvalidFrame = errors.New("invalid frame")

// Error reports a frame that could not be encoded. It is never fatal: the
// pipeline skips the frame and moves on.
type Error struct {
	Seq uint64
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("encode frame %d: %v", e.Seq, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// JPEG encodes frames as baseline JPEG at a fixed quality, optionally
// downscaling first.
type JPEG struct {
	quality int
	scale   float64

	bufs sync.Pool
}

// NewJPEG returns an encoder. quality outside 1..100 falls back to the
// default; scale outside (0, 1] means no scaling.
func NewJPEG(quality int, scale float64) *JPEG {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	if scale <= 0 || scale > 1 {
		scale = 1
	}
	return &JPEG{
		quality: quality,
		scale:   scale,
		bufs:    sync.Pool{New: func() any { return new(bytes.Buffer) }},
	}
}

func (e *JPEG) Quality() int { return e.quality }

// OutputSize returns the pixel size of encoded images for a source of the
// given dimensions.
func (e *JPEG) OutputSize(width, height int) (int, int) {
	if e.scale == 1 {
		return width, height
	}
	w := max(int(float64(width)*e.scale), 1)
	h := max(int(float64(height)*e.scale), 1)
	return w, h
}

func (e *JPEG) Encode(frame *types.Frame) (*types.EncodedFrame, error) {
	if frame == nil {
		return nil, &Error{Err: fmt.Errorf("%w: nil frame", ErrInvalidFrame)}
	}
	if err := Validate(frame); err != nil {
		return nil, &Error{Seq: frame.Seq, Err: err}
	}

	var img image.Image = toRGBA(frame)
	if w, h := e.OutputSize(frame.Width, frame.Height); w != frame.Width || h != frame.Height {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
		img = dst
	}

	buf := e.bufs.Get().(*bytes.Buffer)
	buf.Reset()
	defer e.bufs.Put(buf)

	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, &Error{Seq: frame.Seq, Err: err}
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return &types.EncodedFrame{Data: out, Seq: frame.Seq}, nil
}

// Validate checks a frame's geometry against its buffer.
func Validate(frame *types.Frame) error {
	if frame.Width <= 0 || frame.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidFrame, frame.Width, frame.Height)
	}
	bpp := frame.PixFmt.BytesPerPixel()
	if bpp == 0 {
		return fmt.Errorf("%w: pixel format %d", ErrInvalidFrame, frame.PixFmt)
	}
	if frame.Width > math.MaxInt/bpp {
		return fmt.Errorf("%w: width %d too large", ErrInvalidFrame, frame.Width)
	}
	row := frame.Width * bpp
	stride := frame.RowStride()
	if stride < row {
		return fmt.Errorf("%w: stride %d shorter than row of %d pixels", ErrInvalidFrame, stride, frame.Width)
	}
	if frame.Height > 1 && stride > (math.MaxInt-row)/(frame.Height-1) {
		return fmt.Errorf("%w: stride %d x height %d overflows", ErrInvalidFrame, stride, frame.Height)
	}
	if need := stride*(frame.Height-1) + row; len(frame.Data) < need {
		return fmt.Errorf("%w: buffer %d bytes, need %d", ErrInvalidFrame, len(frame.Data), need)
	}
	return nil
}

// toRGBA wraps RGBA buffers without copying and swizzles BGRA into a new
// image.
func toRGBA(frame *types.Frame) *image.RGBA {
	stride := frame.RowStride()
	rect := image.Rect(0, 0, frame.Width, frame.Height)

	if frame.PixFmt == types.PixFmtRGBA {
		return &image.RGBA{Pix: frame.Data, Stride: stride, Rect: rect}
	}

	img := image.NewRGBA(rect)
	for y := 0; y < frame.Height; y++ {
		src := frame.Data[y*stride : y*stride+frame.Width*4]
		dst := img.Pix[y*img.Stride : y*img.Stride+frame.Width*4]
		for x := 0; x < len(src); x += 4 {
			dst[x+0] = src[x+2]
			dst[x+1] = src[x+1]
			dst[x+2] = src[x+0]
			dst[x+3] = 0xff
		}
	}
	return img
}
