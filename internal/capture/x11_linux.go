//go:build linux && cgo

package capture

/*
#cgo pkg-config: x11 xext xfixes
#include <X11/Xlib.h>
#include <X11/Xutil.h>
#include <X11/extensions/XShm.h>
#include <X11/extensions/Xfixes.h>
#include <sys/ipc.h>
#include <sys/shm.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
	Display *display;
	Window root;
	XShmSegmentInfo shminfo;
	XImage *image;
	int width;
	int height;
} xshm_grabber;

static xshm_grabber* xshm_init(const char *display_name) {
	xshm_grabber *c = (xshm_grabber*)calloc(1, sizeof(xshm_grabber));
	if (!c) return NULL;

	c->display = XOpenDisplay(display_name);
	if (!c->display) { free(c); return NULL; }

	int screen = DefaultScreen(c->display);
	c->root = RootWindow(c->display, screen);
	c->width = DisplayWidth(c->display, screen);
	c->height = DisplayHeight(c->display, screen);

	c->image = XShmCreateImage(c->display,
		DefaultVisual(c->display, screen),
		DefaultDepth(c->display, screen),
		ZPixmap, NULL, &c->shminfo,
		c->width, c->height);
	if (!c->image) {
		XCloseDisplay(c->display);
		free(c);
		return NULL;
	}

	c->shminfo.shmid = shmget(IPC_PRIVATE,
		c->image->bytes_per_line * c->image->height,
		IPC_CREAT | 0600);
	if (c->shminfo.shmid < 0) {
		XDestroyImage(c->image);
		XCloseDisplay(c->display);
		free(c);
		return NULL;
	}

	c->shminfo.shmaddr = c->image->data = (char*)shmat(c->shminfo.shmid, NULL, 0);
	c->shminfo.readOnly = False;

	if (!XShmAttach(c->display, &c->shminfo)) {
		shmdt(c->shminfo.shmaddr);
		shmctl(c->shminfo.shmid, IPC_RMID, NULL);
		XDestroyImage(c->image);
		XCloseDisplay(c->display);
		free(c);
		return NULL;
	}

	shmctl(c->shminfo.shmid, IPC_RMID, NULL);

	return c;
}

static int xshm_grab(xshm_grabber *c) {
	if (!XShmGetImage(c->display, c->root, c->image, 0, 0, AllPlanes)) {
		return -1;
	}
	XSync(c->display, False);
	return 0;
}

static void xshm_composite_cursor(xshm_grabber *c) {
	XFixesCursorImage *cursor = XFixesGetCursorImage(c->display);
	if (!cursor) return;

	int cx = cursor->x - cursor->xhot;
	int cy = cursor->y - cursor->yhot;

	for (int y = 0; y < (int)cursor->height; y++) {
		int dy = cy + y;
		if (dy < 0 || dy >= c->height) continue;
		for (int x = 0; x < (int)cursor->width; x++) {
			int dx = cx + x;
			if (dx < 0 || dx >= c->width) continue;

			unsigned long pixel = cursor->pixels[y * cursor->width + x];
			unsigned char a = (pixel >> 24) & 0xFF;
			if (a == 0) continue;

			unsigned char cr = (pixel >> 0) & 0xFF;
			unsigned char cg = (pixel >> 8) & 0xFF;
			unsigned char cb = (pixel >> 16) & 0xFF;

			int offset = dy * c->image->bytes_per_line + dx * 4;
			unsigned char *dst = (unsigned char*)c->image->data + offset;

			if (a == 255) {
				dst[0] = cb;
				dst[1] = cg;
				dst[2] = cr;
			} else {
				dst[0] = (cb * a + dst[0] * (255 - a)) / 255;
				dst[1] = (cg * a + dst[1] * (255 - a)) / 255;
				dst[2] = (cr * a + dst[2] * (255 - a)) / 255;
			}
		}
	}
	XFree(cursor);
}

static void xshm_destroy(xshm_grabber *c) {
	if (!c) return;
	XShmDetach(c->display, &c->shminfo);
	shmdt(c->shminfo.shmaddr);
	XDestroyImage(c->image);
	XCloseDisplay(c->display);
	free(c);
}
*/
import "C"
import (
	"context"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/rs/zerolog"

	"mirrorcast/internal/types"
)

// X11 grabs the root window of an X display through shared memory. Each
// published frame owns a copy of the pixels; the shm segment is reused.
type X11 struct {
	c   *C.xshm_grabber
	fps int
	log zerolog.Logger
	seq uint64
}

func NewX11(displayName string, fps int, log zerolog.Logger) (*X11, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("fps %d must be > 0", fps)
	}
	cDisplay := C.CString(displayName)
	defer C.free(unsafe.Pointer(cDisplay))

	g := C.xshm_init(cDisplay)
	if g == nil {
		return nil, fmt.Errorf("failed to initialize XShm capture on %s", displayName)
	}
	log.Info().Int("width", int(g.width)).Int("height", int(g.height)).Str("display", displayName).Msg("capture: XShm")
	return &X11{c: g, fps: fps, log: log}, nil
}

func (x *X11) Width() int  { return int(x.c.width) }
func (x *X11) Height() int { return int(x.c.height) }

func (x *X11) grab() (*types.Frame, error) {
	if C.xshm_grab(x.c) != 0 {
		return nil, errors.New("XShmGetImage failed")
	}
	C.xshm_composite_cursor(x.c)

	stride := int(x.c.image.bytes_per_line)
	h := int(x.c.height)
	x.seq++
	return &types.Frame{
		Data:   C.GoBytes(unsafe.Pointer(x.c.image.data), C.int(stride*h)),
		Width:  int(x.c.width),
		Height: h,
		Stride: stride,
		PixFmt: types.PixFmtBGRA,
		Seq:    x.seq,
	}, nil
}

func (x *X11) Run(ctx context.Context, onFrame func(*types.Frame)) error {
	ticker := time.NewTicker(time.Second / time.Duration(x.fps))
	defer ticker.Stop()

	var fails int
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f, err := x.grab()
			if err != nil {
				fails++
				if fails <= 5 {
					x.log.Warn().Err(err).Msg("grab failed")
				}
				continue
			}
			onFrame(f)
		}
	}
}

func (x *X11) Close() {
	C.xshm_destroy(x.c)
}
